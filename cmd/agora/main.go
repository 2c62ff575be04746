// Command agora runs the cognitive loop orchestrator and its peer relay.
package main

import (
	"fmt"
	"os"
)

func main() {
	if err := Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	if restartRequested {
		os.Exit(exitCodeRestart)
	}
}
