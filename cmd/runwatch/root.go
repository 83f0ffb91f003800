package main

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"net/http"
	"os"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/spf13/cobra"

	"github.com/amishk599/runwatch/internal/backoff"
	"github.com/amishk599/runwatch/internal/config"
	"github.com/amishk599/runwatch/internal/history"
	"github.com/amishk599/runwatch/internal/jobstate"
	"github.com/amishk599/runwatch/internal/model"
	"github.com/amishk599/runwatch/internal/notifier"
	"github.com/amishk599/runwatch/internal/poller"
	"github.com/amishk599/runwatch/internal/ratelimit"
	"github.com/amishk599/runwatch/internal/store"
	"github.com/amishk599/runwatch/internal/transport"
)

const defaultConfigPath = "runwatch.yaml"

// ledgerRetention is how long "already announced" markers are kept.
const ledgerRetention = 30 * 24 * time.Hour

var (
	cfgPath string
	debug   bool
)

var rootCmd = &cobra.Command{
	Use:           "runwatch",
	Short:         "Submit agent runs and watch them finish",
	Long:          "runwatch submits analysis jobs to the recruiter agent service and polls them to completion with adaptive backoff.",
	SilenceUsage:  true,
	SilenceErrors: false,
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&cfgPath, "config", "c", "", "path to config file (default: RUNWATCH_CONFIG env var or ./runwatch.yaml)")
	rootCmd.PersistentFlags().BoolVar(&debug, "debug", false, "enable debug logging")
}

// loadConfig resolves the config path and parses it.
// Priority: explicit path arg > RUNWATCH_CONFIG env var > "./runwatch.yaml".
// Only a missing default file falls back to built-in defaults.
func loadConfig(path string) (*config.Config, error) {
	explicit := true
	if path == "" {
		if env := os.Getenv("RUNWATCH_CONFIG"); env != "" {
			path = env
		} else {
			path = defaultConfigPath
			explicit = false
		}
	}
	cfg, err := config.Load(path)
	if err != nil && !explicit && errors.Is(err, fs.ErrNotExist) {
		return config.Default(), nil
	}
	return cfg, err
}

func setupLogger(dbg bool) *slog.Logger {
	logLevel := slog.LevelInfo
	if dbg {
		logLevel = slog.LevelDebug
	}
	return slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: logLevel}))
}

// silentLogger is used while a TUI owns the terminal; log output would
// corrupt the display.
func silentLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func setupNotifier(cfg *config.Config, httpClient *http.Client, logger *slog.Logger) model.Notifier {
	switch cfg.Notification.Type {
	case "slack":
		logger.Debug("using slack notifier")
		return notifier.NewSlackNotifier(cfg.Notification.WebhookURL, httpClient, logger)
	default:
		return notifier.NewLogNotifier(logger)
	}
}

// setupTransport builds the rate-limited HTTP client for the job service.
func setupTransport(cfg *config.Config) *ratelimit.Transport {
	httpClient := &http.Client{Timeout: cfg.Service.Timeout}
	client := transport.NewHTTPClient(cfg.Service.BaseURL, transport.Endpoints{
		SubmitPath: cfg.Service.SubmitPath,
		StatusPath: cfg.Service.StatusPath,
		RunsPath:   cfg.Service.RunsPath,
	}, httpClient)
	limiter := ratelimit.NewLimiter(cfg.RateLimit.MinDelay)
	return ratelimit.NewTransport(client, limiter, cfg.Service.BaseURL)
}

// openLedger opens the notification ledger and prunes old markers. On
// failure it falls back to a no-op ledger so notifications still go out.
func openLedger(cfg *config.Config, logger *slog.Logger) (model.NotificationLedger, func()) {
	sqlStore, err := store.NewSQLiteStore(cfg.Store.Path)
	if err != nil {
		logger.Warn("notification ledger unavailable, duplicates possible", "path", cfg.Store.Path, "error", err)
		return store.NewNopStore(), func() {}
	}
	if err := sqlStore.Cleanup(ledgerRetention); err != nil {
		logger.Warn("pruning notification ledger", "error", err)
	}
	return sqlStore, func() { sqlStore.Close() }
}

// session is everything a submit or watch command needs to follow one job.
type session struct {
	cfg       *config.Config
	transport *ratelimit.Transport
	machine   *poller.Machine
	logger    *slog.Logger
	close     func()
}

// newSession wires the polling machine with its store, history refresher
// and outcome notifier. sink receives refreshed history after a completed job.
func newSession(cfg *config.Config, sink history.Sink, logger *slog.Logger) *session {
	tr := setupTransport(cfg)
	refresher := history.NewRefresher(tr, cfg.History.Limit, sink, logger)

	jobStore := jobstate.NewStore()
	machine := poller.NewMachine(
		tr,
		jobStore,
		backoff.NewScheduler(cfg.Backoff.Base, cfg.Backoff.Max),
		clockwork.NewRealClock(),
		refresher,
		logger,
	)

	ledger, closeLedger := openLedger(cfg, logger)
	n := setupNotifier(cfg, &http.Client{Timeout: 30 * time.Second}, logger)
	announcer := notifier.NewTerminalObserver(n, ledger, logger)
	unsubscribe := jobStore.Subscribe(announcer.Observe)

	var once sync.Once
	return &session{
		cfg:       cfg,
		transport: tr,
		machine:   machine,
		logger:    logger,
		close: func() {
			once.Do(func() {
				unsubscribe()
				announcer.Wait()
				closeLedger()
			})
		},
	}
}

func exitf(format string, args ...any) {
	fmt.Fprintf(os.Stderr, format+"\n", args...)
	os.Exit(1)
}
