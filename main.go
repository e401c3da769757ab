package main

import (
	"context"
	"errors"
	"fmt"
	"os"

	"antik/log"
	"antik/shutdown"
)

var version = "dev"

func run() int {
	ctx, stop := shutdown.Context(context.Background())
	defer stop()

	err := newRootCmd().ExecuteContext(ctx)
	if err == nil {
		return 0
	}
	var ee exitError
	if errors.As(err, &ee) {
		return ee.code
	}
	log.Errorf("fatal: %v", err)
	fmt.Fprintf(os.Stderr, "Error: %v\n", err)
	return 1
}
