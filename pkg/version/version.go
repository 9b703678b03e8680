// Package version holds the build version, overridden at link time with
// -ldflags "-X github.com/maxvaer/apihunter/pkg/version.Version=1.2.3".
package version

// Version is the apihunter release version.
var Version = "dev"
