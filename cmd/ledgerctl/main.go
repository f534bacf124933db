package main

import (
	"context"
	"errors"
	"fmt"
	"os"
)

const (
	exitSuccess = 0
	exitError   = 1
	exitBroken  = 2
)

func main() {
	if err := Execute(context.Background()); err != nil {
		if errors.Is(err, errChainBroken) {
			os.Exit(exitBroken)
		}
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(exitError)
	}
	os.Exit(exitSuccess)
}
