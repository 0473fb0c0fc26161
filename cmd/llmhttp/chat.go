package main

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/sashabaranov/go-openai"
	"github.com/spf13/cobra"

	"github.com/jeffersonwarrior/llmtransport/transport"
)

func newChatCmd(a *app) *cobra.Command {
	var (
		model   string
		baseURL string
		apiKey  string
		system  string
	)
	cmd := &cobra.Command{
		Use:   "chat <prompt>",
		Short: "Stream an OpenAI-compatible chat completion",
		Long: `Send the prompt to an OpenAI-compatible /chat/completions endpoint with
streaming enabled and print the generated text as it arrives.

The API key defaults to $OPENAI_API_KEY.

Example:
  llmhttp chat --model gpt-4o-mini "Write a haiku about sockets"`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			tr, err := a.transport(cmd)
			if err != nil {
				return err
			}

			var messages []openai.ChatCompletionMessage
			if system != "" {
				messages = append(messages, openai.ChatCompletionMessage{Role: openai.ChatMessageRoleSystem, Content: system})
			}
			messages = append(messages, openai.ChatCompletionMessage{
				Role:    openai.ChatMessageRoleUser,
				Content: strings.Join(args, " "),
			})
			body := openai.ChatCompletionRequest{
				Model:    model,
				Messages: messages,
				Stream:   true,
			}

			opts := []transport.RequestOption{
				transport.WithJSONBody(body),
				transport.WithHeader("Accept", "text/event-stream"),
			}
			if apiKey != "" {
				opts = append(opts, transport.WithHeader("Authorization", "Bearer "+apiKey))
			}
			req, err := transport.NewRequest("POST", strings.TrimRight(baseURL, "/")+"/chat/completions", opts...)
			if err != nil {
				return err
			}

			s := tr.Stream(cmd.Context(), req)
			defer s.Close()

			out := cmd.OutOrStdout()
			for chunk := range s.Chunks() {
				var delta openai.ChatCompletionStreamResponse
				if err := json.Unmarshal([]byte(chunk), &delta); err != nil {
					return fmt.Errorf("decode chunk: %w", err)
				}
				for _, choice := range delta.Choices {
					fmt.Fprint(out, choice.Delta.Content)
				}
			}
			<-s.Done()
			if err := s.Err(); err != nil {
				return err
			}
			fmt.Fprintln(out)
			return nil
		},
	}
	cmd.Flags().StringVar(&model, "model", "gpt-4o-mini", "Model name")
	cmd.Flags().StringVar(&baseURL, "base-url", "https://api.openai.com/v1", "API base URL")
	cmd.Flags().StringVar(&apiKey, "api-key", os.Getenv("OPENAI_API_KEY"), "API key")
	cmd.Flags().StringVar(&system, "system", "", "Optional system prompt")
	return cmd
}
