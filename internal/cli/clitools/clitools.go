// Package clitools holds small interactive helpers shared by encimapctl's
// subcommands.
package clitools

import (
	"bufio"
	"fmt"
	"os"
)

var stdinScanner = bufio.NewScanner(os.Stdin)

// Confirmation prompts on stderr and reads a y/n answer from stdin,
// returning def if the answer is empty or unrecognized.
func Confirmation(prompt string, def bool) bool {
	selection := "y/N"
	if def {
		selection = "Y/n"
	}

	fmt.Fprintf(os.Stderr, "%s [%s]: ", prompt, selection)
	if !stdinScanner.Scan() {
		fmt.Fprintln(os.Stderr, stdinScanner.Err())
		return false
	}

	switch stdinScanner.Text() {
	case "Y", "y":
		return true
	case "N", "n":
		return false
	default:
		return def
	}
}
