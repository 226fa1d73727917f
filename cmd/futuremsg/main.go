// Command futuremsg inspects the journal and snapshots of a futuremsg
// scheduler stored in a badger directory.
package main

import (
	"fmt"
	"os"

	"github.com/rbaliyan/futuremsg/internal/cli"
)

func main() {
	if err := cli.NewRootCommand().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(cli.GetExitCode(err))
	}
}
