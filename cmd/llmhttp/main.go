// Command llmhttp sends requests and streams responses through the
// llmtransport backends.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/jeffersonwarrior/llmtransport/transport"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)

	factory := transport.DefaultFactory()
	err := run(ctx, os.Args[1:], os.Stdout, os.Stderr, factory)
	if serr := factory.Shutdown(); serr != nil {
		fmt.Fprintf(os.Stderr, "shutdown: %v\n", serr)
	}
	stop()

	if err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}
