package main

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strings"

	"golang.org/x/term"
)

// isInteractive reports whether f is attached to a terminal.
func isInteractive(f *os.File) bool {
	return term.IsTerminal(int(f.Fd()))
}

// confirm asks a yes/no question on out and reads the answer from in.
// Anything but y or yes is a no.
func confirm(in io.Reader, out io.Writer, question string) (bool, error) {
	fmt.Fprintf(out, "%s [y/N] ", question)
	line, err := bufio.NewReader(in).ReadString('\n')
	if err != nil && err != io.EOF {
		return false, err
	}
	switch strings.ToLower(strings.TrimSpace(line)) {
	case "y", "yes":
		return true, nil
	}
	return false, nil
}

// confirmDestructive asks before a destructive action unless yes is set.
// Without a terminal to ask on it refuses.
func confirmDestructive(yes bool, question string) (bool, error) {
	if yes {
		return true, nil
	}
	if !isInteractive(os.Stdin) {
		return false, fmt.Errorf("%s: refusing without a terminal (use --yes)", question)
	}
	return confirm(os.Stdin, os.Stderr, question)
}
