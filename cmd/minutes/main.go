package main

import (
	"context"
	"errors"
	"fmt"
	"os"
)

func main() {
	if err := newRootCommand().Execute(); err != nil {
		// Ctrl-C during watch or submit --wait is not worth a message.
		if !errors.Is(err, context.Canceled) {
			fmt.Fprintln(os.Stderr, "minutes:", err)
		}
		os.Exit(1)
	}
}
