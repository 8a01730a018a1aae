// Command sakhi is the entry point for Krishi Sakhi, the multilingual
// farming assistant. It provides a CLI (via Cobra) for one-off questions,
// activity logs and index builds, and an HTTP server for the app.
package main

import (
	"fmt"
	"os"

	"github.com/54b3r/krishisakhi-go/cmd/sakhi/commands"
)

func main() {
	if err := commands.NewRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
