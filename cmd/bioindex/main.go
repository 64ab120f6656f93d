// Command bioindex is the BioIndex CLI entrypoint: catalog management,
// index builds, the query/count/match/all read verbs, the compression
// lifecycle verbs, and the "serve" HTTP façade.
package main

import (
	"fmt"
	"os"

	"github.com/3leaps/bioindex/internal/cmd"
)

// version, commit, and buildDate are overwritten at link time via
// -ldflags "-X main.version=... -X main.commit=... -X main.buildDate=...".
var (
	version   = "dev"
	commit    = "HEAD"
	buildDate = "unknown"
)

func main() {
	cmd.SetVersionInfo(version, commit, buildDate)
	if err := cmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
