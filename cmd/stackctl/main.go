// Command stackctl synthesizes and deploys the development database stack
// without the API or the worker.
package main

import (
	"fmt"
	"os"

	"github.com/iac-studio/dbstack/cmd/stackctl/commands"
)

// Set at build time with -ldflags.
var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

func main() {
	commands.SetVersionInfo(version, commit, date)
	err := commands.Root().Execute()
	commands.Sync()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
