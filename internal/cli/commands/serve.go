package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/dbview-labs/dbview/internal/controllers"
	"github.com/dbview-labs/dbview/internal/hostbridge"
	"github.com/dbview-labs/dbview/internal/webview"
)

// ServeOptions holds options for the serve command.
type ServeOptions struct {
	Addr   string
	Assets string
	Watch  bool
}

// NewServeCommand creates the serve command.
func NewServeCommand() *cobra.Command {
	opts := &ServeOptions{}

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the query editor webview for development",
		Long: `Start a local dev host that serves the query editor webview.

Outbound controller frames stream to the browser over SSE; the UI posts
frames back over HTTP. Edits to the UI assets rebind the controller so
the page can reload against fresh state.`,
		Example: `  # Serve using the configured profile
  dbview serve

  # Serve a specific profile on a custom address
  dbview serve -p warehouse --addr localhost:3000`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runServe(cmd, opts)
		},
	}

	cmd.Flags().StringVar(&opts.Addr, "addr", "", "Address to serve on (default from config)")
	cmd.Flags().StringVar(&opts.Assets, "assets", "", "Directory of built UI assets")
	cmd.Flags().BoolVar(&opts.Watch, "watch", true, "Rebind when UI assets change")

	return cmd
}

func runServe(cmd *cobra.Command, opts *ServeOptions) error {
	ctx := cmd.Context()
	cfg := getConfig(ctx)
	logger := getLogger(ctx)

	name, driver, runner, err := openRunner(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer func() { _ = driver.Close() }()

	store, err := openHistory(cfg, logger)
	if err != nil {
		return err
	}
	defer func() { _ = store.Close() }()

	controller, err := controllers.NewQueryController(name, runner, store, logger,
		webview.WithTelemetry(webview.NewLogTelemetry(logger)))
	if err != nil {
		return err
	}
	defer controller.Dispose()

	addr := cfg.Host.Addr
	if opts.Addr != "" {
		addr = opts.Addr
	}
	assets := cfg.Host.AssetsDir
	if opts.Assets != "" {
		assets = opts.Assets
	}

	server := hostbridge.NewServer(hostbridge.Config{
		Addr:          addr,
		AssetsDir:     assets,
		Watch:         opts.Watch && assets != "",
		SessionSecret: cfg.Host.SessionSecret,
		Logger:        logger,
		OnBind:        func(s webview.Surface) { controller.Bind(s) },
	})

	fmt.Fprintf(cmd.OutOrStdout(), "Serving profile %q on http://%s\n", name, addr)
	fmt.Fprintln(cmd.OutOrStdout(), "Press Ctrl+C to stop")

	return server.Serve(ctx)
}
