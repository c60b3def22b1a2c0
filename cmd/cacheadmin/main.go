// Command cacheadmin runs operator tasks against the cache stores: pattern
// purges across every endpoint, tag busts and counter inspection.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if err := newRootCmd(os.Stdout).ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "cacheadmin:", err)
		stop()
		os.Exit(1)
	}
}
