//go:build linux

package runner

import "golang.org/x/sys/unix"

// fixOutputProcessing re-enables OPOST after term.MakeRaw so that \n is
// still translated to \r\n on output.
func fixOutputProcessing(fd int) {
	t, err := unix.IoctlGetTermios(fd, unix.TCGETS)
	if err != nil {
		return
	}
	t.Oflag |= unix.OPOST
	_ = unix.IoctlSetTermios(fd, unix.TCSETS, t)
}
