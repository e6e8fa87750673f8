// Command mqrrdemo exercises the mqrr request/response and streaming
// client against a real broker, for manual testing and as a worked
// example of wiring pahoadapter into mqrr.NewRequestResponseClient.
package main

import (
	"fmt"
	"os"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}
