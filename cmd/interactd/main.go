// Package main provides the entry point for the interactd server.
package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/streamware/interactd/internal/server"
	"github.com/streamware/interactd/pkg/auth"
	"github.com/streamware/interactd/pkg/catalog"
	"github.com/streamware/interactd/pkg/downloads"
	"github.com/streamware/interactd/pkg/events"
	"github.com/streamware/interactd/pkg/platform"
	"github.com/streamware/interactd/pkg/session"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

type serverOptions struct {
	configPath  string
	address     string
	showVersion bool
}

func parseFlags() serverOptions {
	opts := serverOptions{}
	flag.StringVar(&opts.configPath, "config", "", "Path to configuration file")
	flag.StringVar(&opts.address, "address", "", "Admin server address (overrides config)")
	flag.BoolVar(&opts.showVersion, "version", false, "Show version and exit")
	flag.Parse()
	return opts
}

func setupSignalHandler() context.Context {
	ctx, cancel := context.WithCancel(context.Background())
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		cancel()
	}()
	return ctx
}

func loadConfig(opts serverOptions) (*platform.Config, error) {
	if opts.configPath == "" {
		return platform.DefaultConfig(), nil
	}
	return platform.LoadConfig(opts.configPath)
}

func configureLogging(cfg platform.LoggingConfig) {
	level := slog.LevelInfo
	switch cfg.Level {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	}
	handler := slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})
	slog.SetDefault(slog.New(handler))
}

func buildAuthenticator(cfg platform.AuthConfig) (*auth.Authenticator, error) {
	if cfg.SigningKey == "" && len(cfg.APIKeys) == 0 {
		return nil, nil
	}
	keys := make(map[string]string, len(cfg.APIKeys))
	for _, def := range cfg.APIKeys {
		keys[def.Key] = def.Name
	}
	return auth.New(auth.Config{
		Issuer:     cfg.Issuer,
		SigningKey: []byte(cfg.SigningKey),
		APIKeys:    keys,
	})
}

// downloadHandler resolves artifact metadata through the catalog, then spools
// the artifact body under dir. A nil catalog skips the metadata lookup.
func downloadHandler(cat *catalog.Client, dir string) downloads.Handler {
	return func(ctx context.Context, job downloads.Job) error {
		var meta struct {
			Name string `json:"name"`
			Size int64  `json:"size"`
		}
		if cat != nil {
			lookup := "/v1/artifacts/lookup?url=" + url.QueryEscape(job.URL)
			if err := cat.GetJSON(ctx, lookup, &meta); err != nil {
				return fmt.Errorf("resolving artifact: %w", err)
			}
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodGet, job.URL, nil)
		if err != nil {
			return fmt.Errorf("building download request: %w", err)
		}
		resp, err := http.DefaultClient.Do(req)
		if err != nil {
			return fmt.Errorf("downloading %s: %w", job.URL, err)
		}
		defer func() { _ = resp.Body.Close() }()
		if resp.StatusCode != http.StatusOK {
			return fmt.Errorf("downloading %s: unexpected status %d", job.URL, resp.StatusCode)
		}

		// Spool under the job ID, never a remote-supplied name.
		f, err := os.Create(filepath.Join(dir, job.ID))
		if err != nil {
			return fmt.Errorf("creating spool file: %w", err)
		}
		written, err := io.Copy(f, resp.Body)
		if closeErr := f.Close(); err == nil {
			err = closeErr
		}
		if err != nil {
			return fmt.Errorf("spooling %s: %w", job.URL, err)
		}

		slog.Info("downloads: artifact spooled",
			"job_id", job.ID,
			"name", meta.Name,
			"bytes", written,
			"requester", job.Requester)
		return nil
	}
}

func run() error {
	opts := parseFlags()

	if opts.showVersion {
		fmt.Printf("interactd version %s\n", server.Version)
		return nil
	}

	cfg, err := loadConfig(opts)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	if opts.address != "" {
		cfg.Server.Address = opts.address
	}
	configureLogging(cfg.Logging)

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector())
	reg.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	bus := events.NewBus()

	sessCfg := cfg.Sessions
	sessCfg.Bus = bus
	sessCfg.Registerer = reg
	manager := session.NewManager(sessCfg)

	var cat *catalog.Client
	if cfg.Catalog.BaseURL != "" {
		cat, err = catalog.New(cfg.Catalog)
		if err != nil {
			return fmt.Errorf("creating catalog client: %w", err)
		}
	}

	spoolDir := filepath.Join(os.TempDir(), "interactd-downloads")
	if err := os.MkdirAll(spoolDir, 0o750); err != nil {
		return fmt.Errorf("creating spool directory: %w", err)
	}
	queue, err := downloads.NewQueue(cfg.Downloads, downloadHandler(cat, spoolDir))
	if err != nil {
		return fmt.Errorf("creating download queue: %w", err)
	}

	authn, err := buildAuthenticator(cfg.Auth)
	if err != nil {
		return fmt.Errorf("configuring auth: %w", err)
	}

	srv, err := server.New(server.Config{
		Address:       cfg.Server.Address,
		Manager:       manager,
		Queue:         queue,
		Authenticator: authn,
		Gatherer:      reg,
	})
	if err != nil {
		return fmt.Errorf("creating server: %w", err)
	}

	// Components stop in reverse registration order: server first, bus last.
	lc := platform.NewLifecycle()
	lc.OnStop(func(context.Context) error {
		bus.Close()
		return nil
	})
	lc.RegisterCloser(queue)
	lc.RegisterCloser(manager)
	lc.Register(srv.Start, srv.Stop)

	ctx := setupSignalHandler()
	if err := lc.Start(ctx); err != nil {
		return fmt.Errorf("starting components: %w", err)
	}
	slog.Info("interactd: started", "address", cfg.Server.Address, "version", server.Version)

	<-ctx.Done()
	slog.Info("interactd: shutting down")

	stopCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	return lc.Stop(stopCtx)
}
