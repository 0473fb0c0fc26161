package version

import (
	_ "embed"
	"strings"
)

//go:embed version.txt
var versionFile string

// Version returns the current llmtransport version
func Version() string {
	return strings.TrimSpace(versionFile)
}

// UserAgent returns the default User-Agent sent by the transports.
func UserAgent() string {
	return "llmtransport/" + Version()
}
