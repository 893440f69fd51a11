package main

import (
	"context"
	"fmt"
	"io"
	"net/http"

	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"
	"github.com/jrsteele09/go-backoffice/apiclient"
	"github.com/jrsteele09/go-backoffice/auth"
	"github.com/jrsteele09/go-backoffice/credentials"
	"github.com/jrsteele09/go-backoffice/internal/config"
	"github.com/jrsteele09/go-backoffice/internal/logging"
	"github.com/jrsteele09/go-backoffice/internal/metrics"
	"github.com/jrsteele09/go-backoffice/resources"
	"github.com/jrsteele09/go-backoffice/sessionevents"
	"github.com/rs/zerolog"
)

// app is everything a command needs, built once per invocation.
type app struct {
	cfg      config.Config
	logger   zerolog.Logger
	metrics  *metrics.Metrics
	store    *credentials.Store
	sessions *auth.SessionManager
	client   *apiclient.Client
	catalog  *resources.Catalog
	lookup   *resources.Lookup

	bus          *gochannel.GoChannel
	stopListener context.CancelFunc
	listenerDone <-chan struct{}
	closers      []func() error
}

func newApp(ctx context.Context, configPath string, stderr io.Writer) (*app, error) {
	cfg, err := config.New(configPath)
	if err != nil {
		return nil, err
	}

	a := &app{
		cfg:     cfg,
		logger:  logging.NewWithWriter(stderr, cfg.GetEnv(), cfg.GetLogLevel()).With().Str("app", cfg.GetAppName()).Logger(),
		metrics: metrics.New(),
	}

	backend, err := a.newCredentialBackend(ctx)
	if err != nil {
		return nil, err
	}
	a.store = credentials.NewStore(backend, credentials.WithLogger(a.logger))

	a.bus = sessionevents.NewBus(a.logger)
	a.closers = append(a.closers, a.bus.Close)

	listenCtx, stop := context.WithCancel(context.WithoutCancel(ctx))
	done, err := sessionevents.Listen(listenCtx, a.bus, a.logger, func(_ context.Context, event sessionevents.Event) error {
		return announce(stderr, event)
	})
	if err != nil {
		stop()
		_ = a.close()
		return nil, err
	}
	a.stopListener, a.listenerDone = stop, done

	httpClient := &http.Client{Timeout: cfg.GetRequestTimeout()}
	sessionOptions := []auth.SessionManagerOption{
		auth.WithHTTPClient(httpClient),
		auth.WithLogger(a.logger),
		auth.WithMetrics(a.metrics),
		auth.WithRefreshTimeout(cfg.GetRefreshTimeout()),
		auth.WithEvents(sessionevents.NewPublisher(a.bus)),
	}
	if issuer := cfg.GetOIDCIssuer(); issuer != "" {
		verifier, err := auth.DiscoverOIDCVerifier(ctx, issuer, cfg.GetOIDCClientID())
		if err != nil {
			a.logger.Warn().Err(err).Str("issuer", issuer).Msg("OIDC discovery failed, id tokens will not be verified")
		} else {
			sessionOptions = append(sessionOptions, auth.WithIDTokenVerifier(verifier))
		}
	}

	a.sessions = auth.NewSessionManager(cfg.GetAPIURL(), a.store, sessionOptions...)
	a.client = apiclient.New(cfg.GetAPIURL(), a.store, a.sessions,
		apiclient.WithHTTPClient(httpClient),
		apiclient.WithLogger(a.logger),
		apiclient.WithMetrics(a.metrics),
	)
	a.catalog = resources.NewCatalog(a.client)
	a.lookup = resources.NewLookup(a.client)

	return a, nil
}

func (a *app) newCredentialBackend(ctx context.Context) (credentials.Backend, error) {
	switch a.cfg.GetCredentialBackend() {
	case config.BackendMemory:
		return credentials.NewMemoryBackend(), nil
	case config.BackendRedis:
		rb, err := credentials.NewRedisBackend(ctx, a.cfg.GetRedisURL(), a.cfg.GetProfile())
		if err != nil {
			return nil, err
		}
		a.closers = append(a.closers, rb.Close)
		return rb, nil
	default:
		key, err := a.cfg.GetSealKey()
		if err != nil {
			return nil, err
		}
		var options []credentials.FileBackendOption
		if key != nil {
			options = append(options, credentials.WithSealKey(*key))
		}
		return credentials.NewFileBackend(a.cfg.GetCredentialsFile(), options...)
	}
}

// close stops the event listener, releases backends and writes the metrics
// file when one is configured.
func (a *app) close() error {
	var firstErr error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	if a.stopListener != nil {
		a.stopListener()
		<-a.listenerDone
	}
	if path := a.cfg.GetMetricsFile(); path != "" {
		if err := a.metrics.WriteToFile(path); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// announce prints the re-login instruction when the session ends.
func announce(w io.Writer, event sessionevents.Event) error {
	if event.Type != sessionevents.SignedOut {
		return nil
	}
	switch credentials.ClearReason(event.Reason) {
	case credentials.ClearLogout:
		_, err := fmt.Fprintln(w, "Signed out.")
		return err
	default:
		_, err := fmt.Fprintf(w, "Your session has ended (%s). Run 'backoffice login' to sign in again.\n", event.Reason)
		return err
	}
}
