// Command replay runs one conversation turn locally and inspects stored
// history. It reads configuration from the environment and an optional
// .env file; history defaults to a local sqlite database.
package main

import (
	"fmt"
	"os"
)

func main() {
	if err := newRootCmd(os.Stdout).Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
