package main

import (
	"fmt"
	"sort"

	"github.com/spf13/cobra"
)

func newExecCmd(a *app) *cobra.Command {
	var (
		rf      requestFlags
		include bool
	)
	cmd := &cobra.Command{
		Use:   "exec <url>",
		Short: "Send a request and print the response body",
		Long: `Send one request and print the buffered response body. Non-2xx responses
are printed too and make the command fail.

Example:
  llmhttp exec https://api.example.com/v1/models -i`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			tr, err := a.transport(cmd)
			if err != nil {
				return err
			}
			req, err := rf.build(cmd, args[0])
			if err != nil {
				return err
			}

			resp, err := tr.Execute(cmd.Context(), req)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			if include {
				fmt.Fprintf(out, "HTTP %d\n", resp.StatusCode())
				headers := resp.Headers()
				names := make([]string, 0, len(headers))
				for name := range headers {
					names = append(names, name)
				}
				sort.Strings(names)
				for _, name := range names {
					for _, v := range headers[name] {
						fmt.Fprintf(out, "%s: %s\n", name, v)
					}
				}
				fmt.Fprintln(out)
			}
			fmt.Fprint(out, resp.Body())

			if !resp.IsSuccessful() {
				return fmt.Errorf("server returned status %d", resp.StatusCode())
			}
			return nil
		},
	}
	rf.register(cmd)
	cmd.Flags().BoolVarP(&include, "include", "i", false, "Print the status line and response headers")
	return cmd
}
