// Package main is the entry point for the orgsite server.
//
// orgsite serves the content of a student organization website: blog posts,
// events, the gallery, the roster, chapters and resources, each stored as a
// collection of JSON records, plus the uploaded images they reference.
// Configuration is read from CLI flags, a .env file and site_config.json.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"runtime/debug"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/lmittmann/tint"
	"github.com/mattn/go-colorable"
	"github.com/mattn/go-isatty"

	"github.com/maruel/orgsite/internal/assets"
	"github.com/maruel/orgsite/internal/auth"
	"github.com/maruel/orgsite/internal/config"
	"github.com/maruel/orgsite/internal/history"
	"github.com/maruel/orgsite/internal/jsonldb"
	"github.com/maruel/orgsite/internal/metrics"
	"github.com/maruel/orgsite/internal/server"
	"github.com/maruel/orgsite/internal/server/handlers"
	"github.com/maruel/orgsite/internal/server/ipgeo"
	"github.com/maruel/orgsite/internal/server/ratelimit"
	"github.com/maruel/orgsite/internal/store"
)

func main() {
	if err := mainImpl(); err != nil && !errors.Is(err, context.Canceled) {
		fmt.Fprintf(os.Stderr, "orgsite: %v\n", err)
		os.Exit(1)
	}
}

func mainImpl() error {
	version := flag.Bool("version", false, "Print version and exit")
	httpAddr := flag.String("http", "localhost:8080", "Address to listen on (e.g., localhost:8080, :8080, 0.0.0.0:8080)")
	dataDir := flag.String("data-dir", "./data", "Data directory")
	logLevel := flag.String("log-level", "info", "Log level (debug, info, warn, error)")
	backend := flag.String("backend", "file", "Collection storage: file (one .jsonl per collection) or bolt (single db/site.bolt)")
	withHistory := flag.Bool("history", true, "Record every change in a git repository in the data directory")
	geoDB := flag.String("geo-db", "", "Path to MaxMind MMDB file for IP geolocation (optional)")
	preload := flag.Bool("preload", false, "Load every collection at startup instead of on first use")
	flag.Parse()
	if len(flag.Args()) > 0 {
		return fmt.Errorf("unknown arguments: %v", flag.Args())
	}

	if *version {
		printVersion()
		return nil
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM, os.Interrupt)
	defer stop()
	ll := &slog.LevelVar{}
	ll.Set(slog.LevelInfo)
	// Skip timestamps when running under systemd (it adds its own).
	underSystemd := os.Getenv("JOURNAL_STREAM") != ""
	logger := slog.New(tint.NewHandler(colorable.NewColorable(os.Stderr), &tint.Options{
		Level:      ll,
		TimeFormat: "15:04:05.000",
		NoColor:    !isatty.IsTerminal(os.Stderr.Fd()),
		ReplaceAttr: func(groups []string, a slog.Attr) slog.Attr {
			if underSystemd && a.Key == slog.TimeKey && len(groups) == 0 {
				return slog.Attr{}
			}
			if a.Key == "ip" {
				if v := a.Value.String(); v == "127.0.0.1" || v == "::1" {
					return slog.Attr{}
				}
			}
			skip := false
			switch t := a.Value.Any().(type) {
			case string:
				skip = t == ""
			case bool:
				skip = !t
			case int64:
				skip = t == 0
			case time.Duration:
				skip = t == 0
			case time.Time:
				skip = t.IsZero()
			case nil:
				skip = true
			}
			if skip {
				return slog.Attr{}
			}
			return a
		},
	}))
	slog.SetDefault(logger)

	if err := os.MkdirAll(*dataDir, 0o755); err != nil { //nolint:gosec // G301: 0o755 is intentional for data directories
		return fmt.Errorf("failed to create data directory: %w", err)
	}
	env, err := loadDotEnv(*dataDir)
	if err != nil {
		return err
	}

	// .env values apply to flags not set on the command line.
	set := make(map[string]bool)
	flag.Visit(func(f *flag.Flag) {
		set[f.Name] = true
	})
	for name, p := range map[string]*string{
		"http":      httpAddr,
		"log-level": logLevel,
		"backend":   backend,
		"geo-db":    geoDB,
	} {
		if v := env[strings.ToUpper(strings.ReplaceAll(name, "-", "_"))]; !set[name] && v != "" {
			*p = v
		}
	}

	switch *logLevel {
	case "debug":
		ll.Set(slog.LevelDebug)
	case "info":
	case "warn":
		ll.Set(slog.LevelWarn)
	case "error":
		ll.Set(slog.LevelError)
	default:
		return fmt.Errorf("unknown log level: %q", *logLevel)
	}

	cfg, err := config.Load(*dataDir)
	if err != nil {
		return fmt.Errorf("failed to load %s: %w", config.FileName, err)
	}
	if pw := env["ADMIN_PASSWORD"]; pw != "" {
		if cfg.AdminPasswordHash, err = auth.HashPassword(pw); err != nil {
			return err
		}
		if err := cfg.Save(*dataDir); err != nil {
			return fmt.Errorf("failed to save %s: %w", config.FileName, err)
		}
		slog.InfoContext(ctx, "Admin password updated from .env")
	}
	authn := auth.New(cfg.JWTSecret, cfg.AdminPasswordHash)
	if !authn.Enabled() {
		slog.WarnContext(ctx, "No admin password configured; the site is read-only", "hint", "set ADMIN_PASSWORD in .env")
	}

	m := metrics.New()
	am, err := assets.NewManager(filepath.Join(*dataDir, "public"), &assets.Options{
		MaxSize: cfg.Quotas.MaxAssetSizeBytes,
		Metrics: m,
	})
	if err != nil {
		return fmt.Errorf("failed to initialize assets: %w", err)
	}

	opts := &store.Options{Assets: am, Lenient: cfg.LenientAssetKinds, Metrics: m}
	dbDir := filepath.Join(*dataDir, "db")
	switch *backend {
	case "file":
		opts.Dir = dbDir
	case "bolt":
		if err := os.MkdirAll(dbDir, 0o755); err != nil { //nolint:gosec // G301: 0o755 is intentional for data directories
			return fmt.Errorf("failed to create db directory: %w", err)
		}
		bdb, err := jsonldb.OpenBolt(filepath.Join(dbDir, "site.bolt"))
		if err != nil {
			return fmt.Errorf("failed to open bolt database: %w", err)
		}
		defer func() { _ = bdb.Close() }()
		opts.Bolt = bdb
	default:
		return fmt.Errorf("unknown backend: %q", *backend)
	}
	reg, err := store.NewRegistry(opts)
	if err != nil {
		return fmt.Errorf("failed to initialize store: %w", err)
	}
	if *preload {
		start := time.Now()
		if err := reg.Preload(ctx); err != nil {
			return fmt.Errorf("failed to load collections: %w", err)
		}
		slog.InfoContext(ctx, "Collections loaded", "d", time.Since(start).Round(time.Millisecond))
	}

	svc := &handlers.Services{Registry: reg, Auth: authn}
	if *withHistory {
		if svc.History, err = history.Open(*dataDir, "db", "public", config.FileName); err != nil {
			return fmt.Errorf("failed to open history: %w", err)
		}
	}

	var geoChecker *ipgeo.Checker
	if *geoDB != "" {
		geoChecker, err = ipgeo.Open(*geoDB)
		if err != nil {
			return fmt.Errorf("failed to open geo database: %w", err)
		}
		defer func() { _ = geoChecker.Close() }()
		slog.InfoContext(ctx, "IP geolocation enabled", "db", *geoDB)
	}

	limits := ratelimit.New(cfg.RateLimits)
	defer limits.Close()

	// Watch own executable for modifications (for development restarts)
	if err := watchExecutable(ctx, stop); err != nil {
		return fmt.Errorf("failed to watch executable: %w", err)
	}

	addr := *httpAddr
	if strings.HasPrefix(addr, ":") {
		addr = "localhost" + addr
	}
	buildVersion, _, _, _ := getBuildInfo()
	httpServer := &http.Server{
		Addr: addr,
		Handler: server.NewRouter(&server.Options{
			Svc:     svc,
			Version: buildVersion,
			Quotas:  cfg.Quotas,
			Limits:  limits,
			Geo:     geoChecker,
			Metrics: m,
		}),
		BaseContext:       func(_ net.Listener) context.Context { return ctx },
		ReadHeaderTimeout: 10 * time.Second,
	}

	serverErr := make(chan error, 1)
	go func() {
		slog.InfoContext(ctx, "Starting server", "addr", addr, "backend", *backend, "version", buildVersion)
		serverErr <- httpServer.ListenAndServe()
	}()

	select {
	case err := <-serverErr:
		if !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server error: %w", err)
		}
	case <-ctx.Done():
		slog.InfoContext(ctx, "Shutting down server")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("shutdown error: %w", err)
		}
		slog.InfoContext(ctx, "Server stopped")
	}
	return nil
}

func printVersion() {
	version, goVersion, revision, dirty := getBuildInfo()
	fmt.Printf("orgsite %s\n", version)
	fmt.Printf("  Go version: %s\n", goVersion)
	fmt.Printf("  Revision:   %s\n", revision)
	if dirty {
		fmt.Printf("  Modified:   true\n")
	}
}

func getBuildInfo() (version, goVersion, revision string, dirty bool) {
	version = "unknown"
	goVersion = "unknown"
	revision = "unknown"
	info, ok := debug.ReadBuildInfo()
	if !ok {
		return
	}
	version = info.Main.Version
	if version == "" || version == "(devel)" {
		version = "dev"
	}
	goVersion = info.GoVersion
	for _, setting := range info.Settings {
		switch setting.Key {
		case "vcs.revision":
			revision = setting.Value
		case "vcs.modified":
			dirty = setting.Value == "true"
		}
	}
	return
}

// loadDotEnv reads KEY=value lines from <dataDir>/.env. A missing file is
// empty.
func loadDotEnv(dataDir string) (map[string]string, error) {
	env := make(map[string]string)
	content, err := os.ReadFile(filepath.Join(dataDir, ".env")) //nolint:gosec // G304: path is constructed from dataDir flag
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return env, nil
		}
		return nil, err
	}
	for line := range strings.SplitSeq(string(content), "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		key, val, ok := strings.Cut(line, "=")
		if !ok {
			continue
		}
		key = strings.TrimSpace(key)
		val = strings.TrimSpace(val)
		if strings.HasPrefix(val, "'") || strings.HasSuffix(val, "'") {
			return nil, fmt.Errorf("single quotes are not supported in .env: %s", key)
		}
		if strings.HasPrefix(val, "\"") {
			unquoted, err := strconv.Unquote(val)
			if err != nil {
				return nil, fmt.Errorf("failed to unquote %s: %w", key, err)
			}
			val = unquoted
		}
		env[key] = val
	}
	return env, nil
}

// watchExecutable watches the current executable for modifications and calls
// stop to trigger graceful shutdown when detected.
func watchExecutable(ctx context.Context, stop context.CancelFunc) error {
	exe, err := os.Executable()
	if err != nil {
		return err
	}
	exe, err = filepath.EvalSymlinks(exe)
	if err != nil {
		return err
	}
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	if err := w.Add(exe); err != nil {
		_ = w.Close()
		return err
	}
	go func() {
		defer func() { _ = w.Close() }()
		for {
			select {
			case <-ctx.Done():
				return
			case event, ok := <-w.Events:
				if !ok {
					return
				}
				if event.Has(fsnotify.Write) || event.Has(fsnotify.Chmod) {
					slog.InfoContext(ctx, "Executable modified, initiating shutdown")
					stop()
					return
				}
			case err, ok := <-w.Errors:
				if !ok {
					return
				}
				slog.WarnContext(ctx, "Error watching executable", "err", err)
			}
		}
	}()
	return nil
}
