package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/jeffersonwarrior/llmtransport/internal/version"
	"github.com/jeffersonwarrior/llmtransport/transport"
)

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Show version information",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, args []string) {
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "llmhttp %s\n", version.Version())
			fmt.Fprintf(out, "backends: %s, %s\n", transport.BackendNetHTTP, transport.BackendWire)
		},
	}
}
