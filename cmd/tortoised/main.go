/* Copyright 2026 Comcast Cable Communications Management, LLC
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 * http://www.apache.org/licenses/LICENSE-2.0
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */

// Command tortoised serves workflows over HTTP (and optionally MQTT)
// and supervises their entities.
//
//	tortoised -c tortoised.toml
//
// SIGHUP rereads the workflows directory.  SIGINT or SIGTERM shuts
// down gracefully.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/Comcast/tortoise/config"
	"github.com/Comcast/tortoise/core"
	"github.com/Comcast/tortoise/interpreters"
	"github.com/Comcast/tortoise/interpreters/goja"
	"github.com/Comcast/tortoise/interpreters/noop"
	"github.com/Comcast/tortoise/logging"
	"github.com/Comcast/tortoise/metrics"
	"github.com/Comcast/tortoise/store/bolt"
	"github.com/Comcast/tortoise/store/httpstore"
	"github.com/Comcast/tortoise/store/memory"
	"github.com/Comcast/tortoise/supervisor"
	"github.com/Comcast/tortoise/workflows"
)

func main() {
	var (
		configFile = flag.String("c", "", "TOML configuration file")
		env        = flag.String("env", os.Getenv("TORTOISE_ENV"), "environment name for logs")
		listen     = flag.String("listen", "", "HTTP address (overrides the configuration)")
		dir        = flag.String("w", "", "workflows directory (overrides the configuration)")
	)
	flag.Parse()

	cfg, err := config.Load(*configFile)
	if err != nil {
		fmt.Fprintf(os.Stderr, "tortoised: %s\n", err)
		os.Exit(2)
	}
	if *listen != "" {
		cfg.HTTP.Listen = *listen
	}
	if *dir != "" {
		cfg.Workflows = *dir
	}

	logger, closer := logging.Setup("tortoised", *env, logging.Options{
		Level:      cfg.Log.Level,
		File:       cfg.Log.File,
		MaxSizeMB:  cfg.Log.MaxSizeMB,
		MaxBackups: cfg.Log.MaxBackups,
		MaxAgeDays: cfg.Log.MaxAgeDays,
	})
	defer closer.Close()

	if err = run(cfg, logger); err != nil {
		logger.Error("tortoised", "error", err)
		closer.Close()
		os.Exit(1)
	}
}

// store is what the service needs from a store that it opens and
// closes itself.
type store interface {
	core.EntityStore
	supervisor.Lister
	Close(ctx context.Context) error
}

// openStore makes the configured store.  The http store can't list
// entities, so it returns a nil Lister, and sweeps only see enrolled
// entities.
func openStore(ctx context.Context, cfg config.StoreConfig, logger *slog.Logger) (core.EntityStore, supervisor.Lister, func() error, error) {
	var s store
	switch cfg.Kind {
	case config.StoreHTTP:
		c, err := httpstore.NewClient(cfg.URL, cfg.Username, cfg.Password, cfg.Timeout)
		if err != nil {
			return nil, nil, nil, err
		}
		c.Logger = logger
		return c, nil, func() error { return nil }, nil
	case config.StoreBolt:
		b, err := bolt.NewStorage(cfg.Filename)
		if err != nil {
			return nil, nil, nil, err
		}
		b.AutoCreate = cfg.AutoCreate
		b.Logger = logger
		if err = b.Open(ctx); err != nil {
			return nil, nil, nil, err
		}
		s = b
	default:
		m := memory.NewStore()
		m.AutoCreate = cfg.AutoCreate
		m.Filename = cfg.Filename
		m.Logger = logger
		if err := m.Open(ctx); err != nil {
			return nil, nil, nil, err
		}
		s = m
	}
	return s, s, func() error { return s.Close(context.Background()) }, nil
}

// newLoader makes a workflows.Loader whose goja interpreter can
// require libraries from the workflows directory.
func newLoader(dir string, logger *slog.Logger) *workflows.Loader {
	g := goja.NewInterpreter()
	g.LibraryProvider = goja.MakeFileLibraryProvider(dir)
	l := workflows.NewLoader()
	l.Interpreters = interpreters.InterpretersMap{
		"goja":       g,
		"ecmascript": g,
		"noop":       noop.NewInterpreter(),
	}
	l.Logger = logger
	return l
}

func run(cfg *config.Config, logger *slog.Logger) error {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	st, lister, closeStore, err := openStore(ctx, cfg.Store, logger)
	if err != nil {
		return err
	}
	defer func() {
		if err := closeStore(); err != nil {
			logger.Warn("closing store", "error", err)
		}
	}()

	d := workflows.NewDir(newLoader(cfg.Workflows, logger), cfg.Workflows)
	if err = d.Read(ctx); err != nil {
		return err
	}

	s := NewService(d, st, lister)
	s.Logger = logger
	s.Deferred = cfg.Deferred
	s.Supervise = cfg.Supervisor
	s.HTTP = cfg.HTTP
	s.EngineOpts = []core.EngineOption{core.WithCascadeLimit(cfg.CascadeLimit)}

	feed := NewFeed()
	feed.Logger = logger
	s.Observers = []core.Observer{metrics.Default(), feed}

	if cfg.MQTT.Broker != "" {
		m := NewMQTT(ctx, cfg.MQTT, s)
		if err = m.Start(ctx); err != nil {
			return fmt.Errorf("mqtt: %w", err)
		}
		defer m.Stop()
		s.Observers = append(s.Observers, m)
	}

	if err = s.Start(ctx); err != nil {
		return err
	}

	hup := make(chan os.Signal, 1)
	signal.Notify(hup, syscall.SIGHUP)
	defer signal.Stop(hup)
	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case <-hup:
				if err := s.Reload(ctx); err != nil {
					logger.Error("reload", "error", err)
				}
			}
		}
	}()

	srv := &http.Server{
		Addr:              cfg.HTTP.Listen,
		Handler:           s.Handler(feed),
		ReadHeaderTimeout: 10 * time.Second,
	}
	errs := make(chan error, 1)
	go func() {
		logger.Info("listening", "addr", srv.Addr, "workflows", d.Names())
		errs <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
	case err = <-errs:
		if !errors.Is(err, http.ErrServerClosed) {
			cancel()
			s.Wait()
			return err
		}
	}

	logger.Info("shutting down")
	shutdown, done := context.WithTimeout(context.Background(), 10*time.Second)
	defer done()
	if err = srv.Shutdown(shutdown); err != nil {
		logger.Warn("http shutdown", "error", err)
	}
	s.Wait()
	return nil
}
