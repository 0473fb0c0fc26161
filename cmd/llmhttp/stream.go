package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/jeffersonwarrior/llmtransport/sdk/stream"
	"github.com/jeffersonwarrior/llmtransport/transport"
)

func newStreamCmd(a *app) *cobra.Command {
	var (
		rf     requestFlags
		ndjson bool
	)
	cmd := &cobra.Command{
		Use:   "stream <url>",
		Short: "Stream a response and print one payload per line",
		Long: `Open a streaming request and print every decoded payload as it arrives.
Responses are decoded as Server-Sent Events unless --ndjson is given.

Example:
  llmhttp stream https://api.example.com/v1/chat -d '{"stream":true}'`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			tr, err := a.transport(cmd)
			if err != nil {
				return err
			}
			var extra []transport.RequestOption
			if ndjson {
				extra = append(extra, transport.WithStreamFormat(stream.FormatNDJSON))
			}
			req, err := rf.build(cmd, args[0], extra...)
			if err != nil {
				return err
			}

			s := tr.Stream(cmd.Context(), req)
			defer s.Close()

			out := cmd.OutOrStdout()
			for chunk := range s.Chunks() {
				fmt.Fprintln(out, chunk)
			}
			<-s.Done()
			return s.Err()
		},
	}
	rf.register(cmd)
	cmd.Flags().BoolVar(&ndjson, "ndjson", false, "Decode the response as newline-delimited JSON")
	return cmd
}
