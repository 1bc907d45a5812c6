package commands

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/octobridge/octobridge/internal/appctx"
	"github.com/octobridge/octobridge/internal/auth"
	"github.com/octobridge/octobridge/internal/browser"
	"github.com/octobridge/octobridge/internal/config"
	"github.com/octobridge/octobridge/internal/credential"
	"github.com/octobridge/octobridge/internal/github"
	"github.com/octobridge/octobridge/internal/hostutil"
	"github.com/octobridge/octobridge/internal/observability"
	"github.com/octobridge/octobridge/internal/router"
	"github.com/octobridge/octobridge/internal/settings"
	"github.com/octobridge/octobridge/internal/transport"
)

// NewServeCmd creates the serve command.
func NewServeCmd() *cobra.Command {
	var listen string
	var noBrowser bool
	var ephemeral bool

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the octobridge daemon",
		Long: `Run the daemon that owns the GitHub credential.

The daemon listens for messages on ` + transport.MessagesPath + `, serves /healthz and
/metrics, and receives OAuth redirects on a loopback callback port.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			app := appctx.FromContext(cmd.Context())
			if app == nil {
				return fmt.Errorf("app not initialized")
			}

			if listen != "" {
				app.Config.ListenAddr = listen
				app.Config.Sources["listen_addr"] = string(config.SourceFlag)
			}
			if ephemeral {
				app.Config.StoreBackend = credential.BackendMemory
				app.Config.Sources["store_backend"] = string(config.SourceFlag)
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			opts := daemonOptions{
				Dir:      config.GlobalConfigDir(),
				Registry: newRegistry(),
				Trace:    app.Stderr(),
				Level:    app.Verbosity(),
			}
			if noBrowser {
				opts.Opener = printOpener(app.Stderr())
			}

			d, err := newDaemon(ctx, app.Config, app.Logger, opts)
			if err != nil {
				return err
			}
			return d.run(ctx)
		},
	}

	cmd.Flags().StringVar(&listen, "listen", "", "Listen address (default: listen_addr from config)")
	cmd.Flags().BoolVar(&noBrowser, "no-browser", false, "Print the authorization URL instead of opening a browser")
	cmd.Flags().BoolVar(&ephemeral, "ephemeral", false, "Keep the credential in memory only")

	return cmd
}

type daemonOptions struct {
	// Dir holds credentials.json and settings.yaml.
	Dir      string
	Registry *prometheus.Registry
	// Opener shows the consent URL. Nil opens the system browser.
	Opener func(url string) error
	Trace  io.Writer
	Level  int
}

// daemon is one running octobridge instance.
type daemon struct {
	cfg    *config.Config
	logger *slog.Logger

	store      *credential.Guard
	closeStore func() error
	settings   *settings.Store
	callback   *browser.CallbackServer
	controller *auth.Controller
	gateway    *github.Gateway
	router     *router.Router
	server     *transport.Server
	collector  *observability.SessionCollector
}

func newRegistry() *prometheus.Registry {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return reg
}

func printOpener(w io.Writer) func(string) error {
	return func(url string) error {
		_, err := fmt.Fprintf(w, "Open this URL to authorize octobridge:\n\n  %s\n\n", url)
		return err
	}
}

// newDaemon builds every component. The callback listener is started here
// because the redirect URL is part of the controller configuration.
func newDaemon(ctx context.Context, cfg *config.Config, logger *slog.Logger, opts daemonOptions) (*daemon, error) {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	if opts.Registry == nil {
		opts.Registry = prometheus.NewRegistry()
	}
	if opts.Trace == nil {
		opts.Trace = io.Discard
	}

	d := &daemon{cfg: cfg, logger: logger}

	store, closeStore, err := credential.Open(ctx, credential.Options{
		Backend:  cfg.StoreBackend,
		Dir:      opts.Dir,
		RedisURL: cfg.RedisURL,
		Logger:   logger,
	})
	if err != nil {
		return nil, fmt.Errorf("opening credential store: %w", err)
	}
	d.store, d.closeStore = store, closeStore

	d.settings = settings.NewStore(opts.Dir, logger)
	current, err := d.settings.Load()
	if err != nil {
		// A broken settings file must not keep the daemon down; defaults apply
		// until the options surface saves a valid file.
		logger.Warn("settings unreadable, using defaults", "path", d.settings.Path(), "error", err)
		current = settings.Defaults()
	}

	metrics := observability.NewMetrics(opts.Registry)
	d.collector = observability.NewSessionCollector()
	hooks := observability.NewDaemonHooks(opts.Level, d.collector, observability.NewTraceWriterTo(opts.Trace), metrics)

	d.gateway = github.New(cfg.APIBaseURL, store,
		github.WithPageSize(cfg.PageSize),
		github.WithHooks(hooks),
		github.WithLogger(logger),
	)

	d.callback = browser.NewCallbackServer(cfg.CallbackPort, logger)
	redirectURL, err := d.callback.Start(ctx)
	if err != nil {
		_ = closeStore()
		return nil, err
	}

	tabOpts := []browser.Option{browser.WithLogger(logger)}
	if opts.Opener != nil {
		tabOpts = append(tabOpts, browser.WithOpener(opts.Opener))
	}
	tabs := browser.NewSystemTabs(d.callback, tabOpts...)

	id, secret := clientCredentials(cfg, current)
	d.controller = auth.NewController(auth.Config{
		ClientID:     id,
		ClientSecret: secret,
		AuthorizeURL: cfg.AuthorizeURL,
		TokenURL:     cfg.TokenURL,
		RedirectURL:  redirectURL,
		Scope:        cfg.Scope,
		State:        cfg.State,
		Timeout:      cfg.AuthTimeout,
	}, store, d.gateway, tabs,
		auth.WithRecorder(metrics),
		auth.WithLogger(logger),
	)

	d.router = router.New(d.controller, store, d.gateway, d.settings,
		router.WithSettingsListener(d.applySettings),
		router.WithObserver(hooks),
		router.WithLogger(logger),
	)

	d.server = transport.NewServer(cfg.ListenAddr, d.router,
		transport.WithGatherer(opts.Registry),
		transport.WithServerLogger(logger),
	)
	return d, nil
}

// clientCredentials prefers non-empty values from the settings file.
func clientCredentials(cfg *config.Config, s settings.Settings) (id, secret string) {
	id, secret = cfg.ClientID, cfg.ClientSecret
	if s.ClientID != "" {
		id = s.ClientID
	}
	if s.ClientSecret != "" {
		secret = s.ClientSecret
	}
	return id, secret
}

func (d *daemon) applySettings(s settings.Settings) {
	id, secret := clientCredentials(d.cfg, s)
	d.controller.SetClient(id, secret)
	d.logger.Debug("settings applied", "client_id_set", id != "", "auto_refresh", s.AutoRefresh)
}

// run serves until ctx is cancelled, then releases every component.
func (d *daemon) run(ctx context.Context) error {
	defer d.callback.Stop()
	defer func() {
		if err := d.closeStore(); err != nil {
			d.logger.Warn("closing credential store", "error", err)
		}
	}()

	if !hostutil.IsLoopbackListen(d.cfg.ListenAddr) {
		d.logger.Warn("daemon is reachable from other hosts; anyone who can connect can use the stored credential",
			"listen_addr", d.cfg.ListenAddr)
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return d.server.Run(gctx)
	})
	g.Go(func() error {
		err := d.settings.Watch(gctx, d.applySettings)
		if err != nil && !errors.Is(err, context.Canceled) {
			// Hot reload is optional; settingsUpdated still works without it.
			d.logger.Warn("settings watcher stopped", "error", err)
		}
		return nil
	})
	g.Go(func() error {
		select {
		case <-d.server.Ready():
			d.logger.Info("octobridge listening",
				"addr", d.server.Addr(),
				"store", d.store.Backend(),
				"callback", d.callback.RedirectURL(),
			)
		case <-gctx.Done():
		}
		return nil
	})

	err := g.Wait()

	s := d.collector.Summary()
	d.logger.Info("octobridge stopped",
		"messages", s.TotalMessages,
		"failed_messages", s.FailedMessages,
		"upstream_requests", s.TotalRequests,
		"failed_upstream_requests", s.FailedRequests,
	)
	return err
}
