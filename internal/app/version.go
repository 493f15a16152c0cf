package app

// Set at build time via -ldflags.
var (
	Version     = "dev"
	BuildCommit = "unknown"
)
