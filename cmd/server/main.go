package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"runtime/debug"
	"syscall"
	"time"

	"github.com/common-nighthawk/go-figure"
	"github.com/jrsteele09/go-salesforce-proxy/internal/config"
	"github.com/jrsteele09/go-salesforce-proxy/internal/logging"
	"github.com/jrsteele09/go-salesforce-proxy/proxy"
	"github.com/jrsteele09/go-salesforce-proxy/proxy/authflowrepo"
	"github.com/jrsteele09/go-salesforce-proxy/salesforce"
	"github.com/jrsteele09/go-salesforce-proxy/server"
	"github.com/jrsteele09/go-salesforce-proxy/sessions"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
)

const (
	pruneInterval   = 5 * time.Minute
	shutdownTimeout = 5 * time.Second
)

func main() {
	if err := run(); err != nil {
		log.Fatal().Err(err).Msg("Error running server")
	}
	log.Info().Msg("Server stopped")
}

func run() (returnError error) {
	defer func() {
		if r := recover(); r != nil {
			log.Error().Interface("panic", r).Bytes("stack", debug.Stack()).Msg("Recovered from panic")
			returnError = errors.New("panic recovered")
		}
	}()

	c, err := config.Load()
	if err != nil {
		return err
	}
	logging.Setup(c.GetLogLevel(), c.IsProduction())
	displayAppname(c.GetAppName())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	connector, err := salesforce.NewConnector(c)
	if err != nil {
		return err
	}
	repo, closeRepo, err := newSessionRepo(ctx, c)
	if err != nil {
		return err
	}
	defer closeRepo()

	service, err := proxy.NewService(connector, repo, authflowrepo.NewInMemoryRepo(authflowrepo.DefaultTTL),
		proxy.WithSessionTTL(c.GetMaxSessionAge()),
		proxy.WithRequireState(c.GetRequireState()),
		proxy.WithRevokeOnLogout(c.GetRevokeOnLogout()),
	)
	if err != nil {
		return err
	}
	handler, err := server.New(c, service)
	if err != nil {
		return err
	}

	log.Info().
		Str("env", c.GetEnv()).
		Str("login_url", c.GetLoginURL()).
		Str("client_id", config.Redact(c.GetClientID())).
		Str("session_store", c.GetSessionStore()).
		Str("frontend", c.GetAllowedOrigins().String()).
		Msg("Configuration loaded")

	srv := &http.Server{
		Addr:              c.GetPort(),
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      c.GetRequestTimeout() + 15*time.Second,
		IdleTimeout:       120 * time.Second,
	}
	serveErr := make(chan error, 1)
	go func() {
		serveErr <- listenAndServe(srv)
	}()

	select {
	case err := <-serveErr:
		return err
	case <-waitForStopSignal():
	}
	return shutdown(srv)
}

// newSessionRepo builds the configured session store. The returned func
// releases whatever the store holds open.
func newSessionRepo(ctx context.Context, c config.Config) (sessions.Repo, func(), error) {
	if c.GetSessionStore() == config.SessionStoreRedis {
		keys, err := sessions.DeriveKeys(c.GetSessionSecret())
		if err != nil {
			return nil, nil, err
		}
		sealer, err := sessions.NewSealer(keys.Seal)
		if err != nil {
			return nil, nil, err
		}
		client := redis.NewClient(&redis.Options{
			Addr:     c.GetRedisAddr(),
			Password: c.GetRedisPassword(),
			DB:       c.GetRedisDB(),
		})
		pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		defer cancel()
		if err := client.Ping(pingCtx).Err(); err != nil {
			_ = client.Close()
			return nil, nil, fmt.Errorf("redis %s: %w", c.GetRedisAddr(), err)
		}
		log.Info().Str("addr", c.GetRedisAddr()).Msg("Using redis session store")
		return sessions.NewRedisRepo(client, sealer, sessions.DefaultKeyPrefix), func() { _ = client.Close() }, nil
	}

	repo := sessions.NewInMemoryRepo()
	go pruneSessions(ctx, repo)
	return repo, func() {}, nil
}

func pruneSessions(ctx context.Context, repo *sessions.InMemoryRepo) {
	ticker := time.NewTicker(pruneInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n := repo.PruneExpired(); n > 0 {
				log.Debug().Int("pruned", n).Int("remaining", repo.Len()).Msg("Pruned expired sessions")
			}
		}
	}
}

func listenAndServe(server *http.Server) error {
	log.Info().Str("addr", server.Addr).Msg("Server listening")
	if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("server.ListenAndServe %w", err)
	}
	return nil
}

func waitForStopSignal() <-chan os.Signal {
	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)
	return stop
}

func shutdown(server *http.Server) error {
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := server.Shutdown(ctx); err != nil {
		return fmt.Errorf("server.Shutdown: %w", err)
	}
	return nil
}

func displayAppname(appname string) {
	myFigure := figure.NewFigure(appname, "cybermedium", true)
	myFigure.Print()
	fmt.Println()
}
