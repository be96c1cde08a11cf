// zkctl is a one-shot command-line client for zkcore sessions: each
// invocation opens a session, performs a single operation, and exits.
// It is deliberately not a REPL -- see cmd/zkctl/commands for the
// subcommand set.
package main

import "github.com/lbrennan-zk/zkcore/cmd/zkctl/commands"

func main() {
	commands.Execute()
}
