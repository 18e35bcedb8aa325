// Command taskbeat is the operational entrypoint for every taskbeat
// process: the beat scheduler, the CLI's inspection/admin surface, and
// (via the worker subcommand) the plugin-execution worker pool.
package main

import (
	"os"
)

func main() {
	os.Exit(run())
}

func run() int {
	if err := newRootCmd().Execute(); err != nil {
		return exitCodeFor(err)
	}
	return 0
}
