package runner

import (
	"fmt"
	"os"

	"golang.org/x/term"

	"github.com/maxvaer/apihunter/internal/scanner"
)

// startStdinToggle reads single keypresses from stdin and toggles the
// returned pauser on Enter or Space. The cleanup function restores the
// terminal. When stdin is not a terminal (for example when candidates are
// piped in) it returns a nil pauser and a no-op cleanup.
func startStdinToggle(quiet bool) (pauser *scanner.Pauser, cleanup func()) {
	fd := int(os.Stdin.Fd())
	if !term.IsTerminal(fd) {
		return nil, func() {}
	}

	oldState, err := term.MakeRaw(fd)
	if err != nil {
		if !quiet {
			fmt.Fprintf(os.Stderr, "[!] Could not enable raw terminal: %v\n", err)
		}
		return nil, func() {}
	}
	// MakeRaw also turns off OPOST, which breaks \n on progress output.
	fixOutputProcessing(fd)

	pauser = scanner.NewPauser()
	cleanup = func() {
		_ = term.Restore(fd, oldState)
	}

	go func() {
		buf := make([]byte, 1)
		for {
			n, err := os.Stdin.Read(buf)
			if err != nil {
				return
			}
			if n == 0 {
				continue
			}

			switch buf[0] {
			case 0x03: // Ctrl+C arrives as a byte in raw mode
				_ = term.Restore(fd, oldState)
				sendInterrupt()
				return
			case '\r', '\n', ' ':
				nowPaused := pauser.Toggle()
				if quiet {
					continue
				}
				if nowPaused {
					fmt.Fprintf(os.Stderr, "\r\033[K[*] Scan PAUSED, in-flight probes finish. Press Enter or Space to resume\n")
				} else {
					fmt.Fprintf(os.Stderr, "\r\033[K[*] Scan RESUMED\n")
				}
			}
		}
	}()

	return pauser, cleanup
}
