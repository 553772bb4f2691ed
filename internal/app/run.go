package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"
)

// ServerConfig bundles an http.Server's construction knobs with the
// optional TLS files named in spec.md §6.
type ServerConfig struct {
	Addr     string
	UseTLS   bool
	CertFile string
	KeyFile  string

	ReadHeaderTimeout time.Duration
	ReadTimeout       time.Duration
	WriteTimeout      time.Duration
	IdleTimeout       time.Duration
}

// ServeConfig is the ServerConfig derived from a Config.
func ServeConfig(cfg Config) ServerConfig {
	return ServerConfig{
		Addr:              fmt.Sprintf(":%d", cfg.Port),
		UseTLS:            cfg.UseTLS,
		CertFile:          cfg.TLSCertFile,
		KeyFile:           cfg.TLSKeyFile,
		ReadHeaderTimeout: cfg.HTTPReadHeaderTimeout,
		ReadTimeout:       cfg.HTTPReadTimeout,
		WriteTimeout:      cfg.HTTPWriteTimeout,
		IdleTimeout:       cfg.HTTPIdleTimeout,
	}
}

// Serve starts an http.Server bound to sc.Addr and blocks until ctx is
// canceled or the server fails, then performs a graceful shutdown with a
// 10s budget.
func Serve(ctx context.Context, sc ServerConfig, handler http.Handler, log Logger) error {
	srv := &http.Server{
		Addr:              sc.Addr,
		Handler:           handler,
		ReadHeaderTimeout: nonZeroDuration(sc.ReadHeaderTimeout, 5*time.Second),
		ReadTimeout:       nonZeroDuration(sc.ReadTimeout, 15*time.Second),
		WriteTimeout:      nonZeroDuration(sc.WriteTimeout, 15*time.Second),
		IdleTimeout:       nonZeroDuration(sc.IdleTimeout, 60*time.Second),
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info("server.start", "addr", sc.Addr, "tls", sc.UseTLS)
		var err error
		if sc.UseTLS {
			err = srv.ListenAndServeTLS(sc.CertFile, sc.KeyFile)
		} else {
			err = srv.ListenAndServe()
		}
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		log.Info("server.stop", "reason", "context_done")
	case err := <-errCh:
		log.Error("server.fail", "err", err)
		return err
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error("server.shutdown.fail", "err", err)
		return err
	}
	log.Info("server.stopped")
	return nil
}

func nonZeroDuration(v, def time.Duration) time.Duration {
	if v <= 0 {
		return def
	}
	return v
}
