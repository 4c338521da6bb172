package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"golang.org/x/net/http2"
	"golang.org/x/net/http2/h2c"
	"golang.org/x/sync/errgroup"

	"github.com/alexliesenfeld/httpmock/pkg/config"
	"github.com/alexliesenfeld/httpmock/pkg/logging"
	"github.com/alexliesenfeld/httpmock/pkg/recording"
)

// Standalone runs one mock server core as a long-lived process: a single
// listener, optional h2c, fixture rules loaded at startup, and recordings
// saved at shutdown.
type Standalone struct {
	cfg  config.Server
	core *Core
	log  *slog.Logger
}

// NewStandalone builds the server from its configuration, installing any
// rule files found in cfg.MockFilesDir.
func NewStandalone(cfg config.Server, opts ...Option) (*Standalone, error) {
	log := logging.New(logging.Config{
		Level:  logging.ParseLevel(cfg.LogLevel),
		Format: logging.ParseFormat(cfg.LogFormat),
	})

	core := New(append(opts,
		WithLogger(log),
		WithHistoryLimit(cfg.HistoryLimit),
	)...)

	if cfg.MockFilesDir != "" {
		rules, err := config.LoadRuleFiles(cfg.MockFilesDir)
		if err != nil {
			return nil, err
		}
		for _, r := range rules {
			if _, err := core.InstallRule(r); err != nil {
				return nil, fmt.Errorf("installing rule %q: %w", r.Name, err)
			}
		}
		log.Info("mock files loaded", "dir", cfg.MockFilesDir, "rules", len(rules))
	}

	return &Standalone{cfg: cfg, core: core, log: log}, nil
}

// Core returns the underlying server core.
func (s *Standalone) Core() *Core { return s.core }

// Run serves until ctx is canceled, then shuts down gracefully and saves
// any buffered recordings.
func (s *Standalone) Run(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.cfg.ListenAddr())
	if err != nil {
		return fmt.Errorf("binding %s: %w", s.cfg.ListenAddr(), err)
	}

	var handler http.Handler = s.core
	if s.cfg.EnableH2C {
		handler = h2c.NewHandler(handler, &http2.Server{})
	}
	srv := &http.Server{Handler: handler}

	s.log.Info("mock server listening", "addr", ln.Addr().String(), "h2c", s.cfg.EnableH2C)

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			s.log.Warn("shutdown incomplete", "error", err)
		}
		s.saveRecordings()
		return nil
	})
	return g.Wait()
}

func (s *Standalone) saveRecordings() {
	if s.cfg.RecordDir == "" || s.core.Recorder().Len() == 0 {
		return
	}
	path, err := s.core.Recorder().Save(s.cfg.RecordDir, "recorded")
	if err != nil && !errors.Is(err, recording.ErrNoExchanges) {
		s.log.Error("saving recordings failed", "dir", s.cfg.RecordDir, "error", err)
		return
	}
	s.log.Info("recordings saved", "path", path, "exchanges", s.core.Recorder().Len())
}
