// Package versioninfo holds build metadata injected with -ldflags.
package versioninfo

// Version is the release version, set at build time:
//
//	go build -ldflags "-X github.com/swissparam/cli/cmd/swissparam/cli/versioninfo.Version=v1.2.0"
var Version = "dev"

// Commit is the git commit the binary was built from.
var Commit = "unknown"
