// Command snapshare runs the client headless: it loads configuration, restores
// the stored session, logs navigation changes and optionally serves metrics.
package main

import (
	"context"
	"errors"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gorilla/mux"

	"github.com/snapshare/client/internal/app"
	"github.com/snapshare/client/internal/config"
	"github.com/snapshare/client/internal/router"
	"github.com/snapshare/client/pkg/logger"
)

func main() {
	var (
		configFile  = flag.String("config", "", "Path to a YAML config file")
		envFile     = flag.String("env", ".env", "Path to a .env file")
		metricsAddr = flag.String("metrics-addr", "", "Serve Prometheus metrics on this address")
		email       = flag.String("email", "", "Sign in with this email after start")
		password    = flag.String("password", "", "Password for -email")
	)
	flag.Parse()

	log := logger.NewDefault("snapshare")

	a, err := app.Load(config.Options{File: *configFile, EnvFile: *envFile}, app.Options{})
	if err != nil {
		log.Fatalf("start: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	navigate := func(s router.Stack) { log.WithField("stack", s.String()).Info("navigate") }
	if err := a.Start(ctx, navigate); err != nil {
		log.WithError(err).Warn("session restore failed")
	}
	defer a.Close()

	if *email != "" {
		if err := a.Session.SignIn(ctx, *email, *password); err != nil {
			log.WithError(err).Error("sign in failed")
		} else if posts, err := a.Feed.ListPosts(ctx); err != nil {
			log.WithError(err).Error("load feed failed")
		} else {
			log.WithField("posts", len(posts)).Info("feed loaded")
		}
	}

	var server *http.Server
	if *metricsAddr != "" {
		r := mux.NewRouter()
		r.Handle("/metrics", a.Metrics()).Methods(http.MethodGet)
		server = &http.Server{
			Addr:              *metricsAddr,
			Handler:           r,
			ReadHeaderTimeout: 10 * time.Second,
		}
		go func() {
			log.WithField("addr", *metricsAddr).Info("metrics listening")
			if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				log.Fatalf("metrics server: %v", err)
			}
		}()
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	log.Info("shutting down")
	if server != nil {
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer shutdownCancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			log.WithError(err).Warn("metrics shutdown")
		}
	}
}
