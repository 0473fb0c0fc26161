package main

import (
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"github.com/jeffersonwarrior/llmtransport/internal/config"
	"github.com/jeffersonwarrior/llmtransport/internal/version"
	"github.com/jeffersonwarrior/llmtransport/logging"
	"github.com/jeffersonwarrior/llmtransport/transport"
)

// app holds the global flags and the transport built from them.
type app struct {
	factory *transport.Factory

	configPath string
	backend    string
	proxyURL   string
	insecure   bool
	logLevel   string

	tr transport.Transport
}

// run executes one command line. Transports it builds are registered with
// factory; the caller shuts the factory down.
func run(ctx context.Context, args []string, stdout, stderr io.Writer, factory *transport.Factory) error {
	root := newRootCmd(&app{factory: factory})
	root.SetArgs(args)
	root.SetOut(stdout)
	root.SetErr(stderr)
	return root.ExecuteContext(ctx)
}

func newRootCmd(a *app) *cobra.Command {
	root := &cobra.Command{
		Use:   "llmhttp",
		Short: "llmhttp - HTTP and streaming client for LLM APIs",
		Long: `llmhttp sends HTTP requests through the llmtransport backends and decodes
Server-Sent Events or NDJSON response streams.

Examples:
  llmhttp exec https://api.example.com/v1/models -H "Authorization: Bearer $KEY"
  llmhttp stream https://api.example.com/v1/events --ndjson
  llmhttp chat --model gpt-4o-mini "Say hello"`,
		Version:       version.Version(),
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	flags := root.PersistentFlags()
	flags.StringVar(&a.configPath, "config", "llmhttp.yaml", "Config file path")
	flags.StringVar(&a.backend, "backend", "", "Transport backend: nethttp or wire")
	flags.StringVar(&a.proxyURL, "proxy", "", "Proxy URL (http://, socks4://, socks5://)")
	flags.BoolVar(&a.insecure, "insecure", false, "Skip TLS certificate verification")
	flags.StringVar(&a.logLevel, "log-level", "", "Log level (debug, info, warn, error)")

	root.AddCommand(
		newExecCmd(a),
		newStreamCmd(a),
		newChatCmd(a),
		newVersionCmd(),
	)
	return root
}

// transport loads the configuration, applies flag overrides and builds the
// backend once per run.
func (a *app) transport(cmd *cobra.Command) (transport.Transport, error) {
	if a.tr != nil {
		return a.tr, nil
	}

	cfg, err := config.Load(a.configPath)
	if err != nil {
		return nil, err
	}
	flags := cmd.Flags()
	if flags.Changed("backend") {
		cfg.Backend = a.backend
	}
	if flags.Changed("proxy") {
		cfg.Transport.Proxy = &config.ProxyConfig{URL: a.proxyURL}
	}
	if flags.Changed("insecure") {
		cfg.Transport.IgnoreSSL = a.insecure
	}
	if flags.Changed("log-level") {
		cfg.Log.Level = a.logLevel
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	log, err := logging.New(cfg.Log, cmd.ErrOrStderr())
	if err != nil {
		return nil, err
	}
	tr, err := cfg.NewTransport(log)
	if err != nil {
		return nil, fmt.Errorf("failed to create transport: %w", err)
	}
	a.factory.SetDefault(tr)
	a.tr = tr

	log.WithField("backend", cfg.Backend).Debugf("transport ready")
	return tr, nil
}

// requestFlags are shared by exec and stream.
type requestFlags struct {
	method  string
	headers []string
	data    string
}

func (f *requestFlags) register(cmd *cobra.Command) {
	cmd.Flags().StringVarP(&f.method, "request", "X", "", "HTTP method (default GET, or POST with -d)")
	cmd.Flags().StringArrayVarP(&f.headers, "header", "H", nil, `Request header "Name: value" (repeatable)`)
	cmd.Flags().StringVarP(&f.data, "data", "d", "", "Request body")
}

func (f *requestFlags) build(cmd *cobra.Command, url string, extra ...transport.RequestOption) (*transport.Request, error) {
	method := f.method
	hasBody := cmd.Flags().Changed("data")
	if method == "" {
		method = "GET"
		if hasBody {
			method = "POST"
		}
	}

	var opts []transport.RequestOption
	for _, h := range f.headers {
		name, value, ok := strings.Cut(h, ":")
		if !ok {
			return nil, fmt.Errorf("invalid header %q (want \"Name: value\")", h)
		}
		opts = append(opts, transport.WithHeader(strings.TrimSpace(name), strings.TrimSpace(value)))
	}
	if hasBody {
		opts = append(opts, transport.WithBody(f.data))
	}
	opts = append(opts, extra...)
	return transport.NewRequest(method, url, opts...)
}
