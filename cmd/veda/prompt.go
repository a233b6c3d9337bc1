package main

import (
	"bufio"
	"fmt"
	"io"
	"strings"
)

// confirm asks a yes/no question on out and reads the answer from in.
// An empty answer or end of input picks def.
func confirm(in io.Reader, out io.Writer, question string, def bool) (bool, error) {
	hint := "[y/N]"
	if def {
		hint = "[Y/n]"
	}
	fmt.Fprintf(out, "%s %s ", question, hint)

	line, err := bufio.NewReader(in).ReadString('\n')
	if err != nil && err != io.EOF {
		return false, fmt.Errorf("reading answer: %w", err)
	}
	switch strings.ToLower(strings.TrimSpace(line)) {
	case "y", "yes":
		return true, nil
	case "n", "no":
		return false, nil
	default:
		if err == io.EOF {
			fmt.Fprintln(out)
		}
		return def, nil
	}
}
