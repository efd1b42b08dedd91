package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"
	"time"

	"github.com/IliaW/portal-checker/config"
	"github.com/IliaW/portal-checker/internal/artifacts"
	"github.com/IliaW/portal-checker/internal/broker"
	"github.com/IliaW/portal-checker/internal/browser"
	cacheClient "github.com/IliaW/portal-checker/internal/cache"
	"github.com/IliaW/portal-checker/internal/handoff"
	"github.com/IliaW/portal-checker/internal/persistence"
	"github.com/IliaW/portal-checker/internal/report"
	"github.com/IliaW/portal-checker/internal/scenario"
	"github.com/spf13/cobra"
)

func newRootCmd() *cobra.Command {
	var configFile string
	var verbosity int
	cmd := &cobra.Command{
		Use:   "portal-checker",
		Short: "Browser-driven acceptance checks for the simulation portals",
		Long: `portal-checker drives a browser against the course and simulation portals.

It checks URL lists for broken requests and missing page elements, runs the
course platform and simulation launcher flows, measures page performance from
several locations and reports the outcome to the chat channel.

The process exits with status 1 when any check failed.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			cfg = config.MustLoad(configFile)
			log = setupLogger(verbosity)
		},
	}

	cmd.PersistentFlags().StringVarP(&configFile, "config", "c", "", "config file (default ./config.yaml)")
	cmd.PersistentFlags().CountVarP(&verbosity, "verbose", "v", "verbosity, -v for info and -vv for debug")

	cmd.AddCommand(newLinksCmd())
	cmd.AddCommand(newDomCmd())
	cmd.AddCommand(newMoocCmd())
	cmd.AddCommand(newEbrainsCmd())
	cmd.AddCommand(newPickNeuronCmd())
	cmd.AddCommand(newLocationCmd())
	cmd.AddCommand(newReportCmd())
	cmd.AddCommand(newValidateCmd())
	cmd.AddCommand(newWorkerCmd())

	return cmd
}

// suite is what a check command shares between its checks: the hand-off store,
// the result sinks and the cleanup of both.
type suite struct {
	name    string
	runID   string
	store   handoff.Store
	sinks   []report.Sink
	closers []func()
}

func newSuite(ctx context.Context, name string, artifactPaths ...string) (*suite, error) {
	s := &suite{name: name, runID: runID()}
	log.Info("starting suite.", slog.String("suite", name), slog.String("run id", s.runID))

	if strings.ToLower(cfg.HandoffSettings.Backend) == "memcached" {
		client := cacheClient.NewMemcachedClient(cfg.CacheSettings, log)
		s.closers = append(s.closers, client.Close)
		s.store = handoff.NewMemcachedStore(client, cfg.HandoffSettings.Ttl)
	} else {
		s.store = handoff.NewFileStore(cfg.HandoffSettings.Dir, log)
	}

	if cfg.DbSettings.Enabled {
		db := setupDatabase()
		s.closers = append(s.closers, func() { closeDatabase(db) })
		repo := persistence.NewResultRepository(db, log)
		if err := repo.Migrate(ctx); err != nil {
			s.close()
			return nil, err
		}
		s.sinks = append(s.sinks, repo)
	}
	if cfg.KafkaSettings.PublishResults {
		publisher := broker.NewResultPublisher(cfg.KafkaSettings.Producer, log)
		s.closers = append(s.closers, func() {
			if err := publisher.Close(); err != nil {
				log.Error("failed to close kafka writer.", slog.String("err", err.Error()))
			}
		})
		s.sinks = append(s.sinks, publisher)
	}
	if cfg.S3Settings.Enabled {
		s.sinks = append(s.sinks, artifacts.NewS3Uploader(cfg.S3Settings, s.runID, artifactPaths, log))
	}

	return s, nil
}

func (s *suite) close() {
	for i := len(s.closers) - 1; i >= 0; i-- {
		s.closers[i]()
	}
}

// run executes the checks one after another, each in a fresh browser.
func (s *suite) run(ctx context.Context, debugDir string, login scenario.CheckFunc, checks []scenario.Check,
	summary *report.Summary) {
	runner := &scenario.Runner{
		Suite:     s.name,
		RunID:     s.runID,
		Version:   cfg.Version,
		DebugDir:  debugDir,
		NewDriver: newDriver(ctx),
		Log:       log,
	}
	for _, c := range checks {
		if ctx.Err() != nil {
			log.Warn("suite interrupted.", slog.String("suite", s.name))
			return
		}
		checkLogin := login
		if c.Login != nil {
			checkLogin = c.Login
		}
		summary.Add(runner.Run(ctx, c.Name, checkLogin, c.Run))
	}
}

func (s *suite) finish(ctx context.Context, summary *report.Summary, resultsFile string) error {
	defer s.close()
	return summary.Finish(ctx, resultsFile, s.sinks...)
}

func runID() string {
	if cfg.RunID != "" {
		return cfg.RunID
	}
	return time.Now().UTC().Format("20060102T150405")
}

// ownedSession closes its browser together with the tab.
type ownedSession struct {
	*browser.Session
	b *browser.Browser
}

func (o *ownedSession) Close() {
	o.Session.Close()
	o.b.Close()
}

func newDriver(ctx context.Context) func() (scenario.Driver, error) {
	return func() (scenario.Driver, error) {
		b, err := browser.NewBrowser(ctx, cfg.BrowserSettings, log)
		if err != nil {
			return nil, err
		}
		s, err := b.NewSession()
		if err != nil {
			b.Close()
			return nil, err
		}
		return &ownedSession{Session: s, b: b}, nil
	}
}

func outputPath(name string) string {
	if name == "" || filepath.IsAbs(name) {
		return name
	}
	return filepath.Join(cfg.OutputDir, name)
}

// parseHeaders turns repeated KEY:VALUE flags into a header map.
func parseHeaders(flags []string) (map[string]string, error) {
	headers := make(map[string]string, len(flags))
	for _, h := range flags {
		key, value, ok := strings.Cut(h, ":")
		key = strings.TrimSpace(key)
		if !ok || key == "" {
			return nil, fmt.Errorf("invalid header %q, expected KEY:VALUE", h)
		}
		headers[key] = strings.TrimSpace(value)
	}

	return headers, nil
}

func failed(format string, args ...any) error {
	return fmt.Errorf("%s: %w", fmt.Sprintf(format, args...), report.ErrChecksFailed)
}

var errNoMeasurements = errors.New("no measurement succeeded")
