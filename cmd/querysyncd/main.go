// Command querysyncd hosts the query/sync HTTP adapter. It exists to
// prove the wiring between the SQL compiler, execution, and sync layers
// compiles and runs end to end, not to provide production-grade HTTP
// framing, auth, or TLS — those remain external collaborator concerns.
package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	log "github.com/sirupsen/logrus"
	"github.com/spf13/pflag"

	"github.com/querysync/core/internal/config"
	"github.com/querysync/core/internal/util/stopper"
)

// shutdownGrace is how long in-flight requests get to finish once a stop
// signal arrives before the listener is torn down regardless.
const shutdownGrace = 10 * time.Second

func main() {
	cfg := &config.Config{}
	cfg.Bind(pflag.CommandLine)
	pflag.Parse()

	if err := cfg.Preflight(); err != nil {
		log.WithError(err).Fatal("querysyncd: invalid configuration")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	sctx := stopper.WithContext(ctx)

	app, cleanup, err := Start(sctx, cfg)
	if err != nil {
		log.WithError(err).Fatal("querysyncd: failed to start")
	}
	defer cleanup()

	httpServer := &http.Server{
		Addr:    cfg.BindAddr,
		Handler: app.Server.Handler(),
	}

	// ListenAndServe runs under sctx.Go so its error, if any, surfaces
	// through sctx.Err() once the goroutine returns; the actual shutdown
	// trigger below runs in main's own goroutine to avoid Stop() waiting
	// on a goroutine it would itself be blocking from inside.
	sctx.Go(func() error {
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return err
		}
		return nil
	})

	log.WithField("addr", cfg.BindAddr).Info("querysyncd: listening")
	<-sctx.Done()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownGrace)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.WithError(err).Error("querysyncd: graceful shutdown failed")
	}

	sctx.Stop(shutdownGrace)
	if err := sctx.Err(); err != nil {
		log.WithError(err).Error("querysyncd: listener reported an error")
	}
}
