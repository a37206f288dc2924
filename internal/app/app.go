package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"gopkg.in/op/go-logging.v1"

	"strand/internal/domain"
	"strand/internal/metrics"
	"strand/internal/relay"
	"strand/internal/services/devicekeys"
	"strand/internal/services/identity"
	"strand/internal/services/keyexchange"
	"strand/internal/services/message"
	"strand/internal/services/session"
	"strand/internal/services/syncer"
	"strand/internal/stream"
)

// ErrNoRelay is returned when an online command runs without Relay.URL.
var ErrNoRelay = errors.New("no relay configured")

const shutdownTimeout = 5 * time.Second

// App is the online client of one unlocked identity.
type App struct {
	log *logging.Logger

	Identity  domain.Identity
	Signer    domain.SignerIdentity
	Device    *session.Device
	Relay     *relay.HTTP
	Router    *stream.Router
	Syncer    *syncer.Syncer
	Scheduler *keyexchange.Scheduler
	Client    *message.Client
	Directory *devicekeys.Service
	Registry  *prometheus.Registry

	cfg *Config
}

// Open unlocks the identity with passphrase and builds the client.
// entitlements may be nil, in which case space membership decides.
func (w *Wire) Open(passphrase string, entitlements domain.Entitlements) (*App, error) {
	cfg := w.Config
	if cfg.Relay.URL == "" {
		return nil, ErrNoRelay
	}
	id, err := w.Identities.LoadIdentity(passphrase)
	if err != nil {
		return nil, err
	}
	signer, err := identity.Signer(id)
	if err != nil {
		return nil, err
	}

	reg := prometheus.NewRegistry()
	if err := metrics.Register(reg); err != nil {
		return nil, err
	}
	reg.MustRegister(collectors.NewGoCollector())

	rc := relay.NewHTTP(cfg.Relay.URL, w.Logs.GetLogger("relay"))
	if cfg.Relay.RequestTimeout > 0 {
		rc.RequestTimeout = cfg.Relay.RequestTimeout
	}
	router := stream.NewRouter(w.Logs.GetLogger("router"))
	device := session.NewDevice(id, w.DB, w.Logs.GetLogger("session"))
	syn := syncer.New(syncer.Config{
		RPCTimeout: cfg.Sync.RPCTimeout,
		MaxRetries: cfg.Sync.MaxRetries,
		BaseDelay:  cfg.Sync.BaseDelay,
		MaxDelay:   cfg.Sync.MaxDelay,
		Jitter:     cfg.Sync.Jitter,
	}, w.Logs.GetLogger("syncer"), rc, router)
	directory := devicekeys.New(rc, signer, device, w.Logs.GetLogger("devicekeys"))
	client := message.New(rc, syn, signer, device, directory, w.Logs.GetLogger("message"))
	if entitlements == nil {
		entitlements = SpaceMembers{Router: router}
	}
	sched, err := keyexchange.New(keyexchange.Config{
		TickDelay:         cfg.KeyExchange.TickDelay,
		SessionShareChunk: cfg.KeyExchange.SessionShareChunk,
	}, w.Logs.GetLogger("keyexchange"), router, device, client, entitlements, w.DB)
	if err != nil {
		return nil, err
	}

	a := &App{
		log:       w.Logs.GetLogger("app"),
		Identity:  id,
		Signer:    signer,
		Device:    device,
		Relay:     rc,
		Router:    router,
		Syncer:    syn,
		Scheduler: sched,
		Client:    client,
		Directory: directory,
		Registry:  reg,
		cfg:       cfg,
	}
	a.log.Noticef("opened %s device %s", signer.CreatorAddress.Hex(), device.DeviceKey())
	return a, nil
}

// Track loads each stream and adds it to the sync subscription.
func (a *App) Track(ctx context.Context, ids ...domain.StreamID) error {
	for _, id := range ids {
		if _, err := a.Client.LoadStream(ctx, id); err != nil {
			return err
		}
	}
	return nil
}

// TrackJoined tracks the user's own stream and every stream it lists as
// joined.
func (a *App) TrackJoined(ctx context.Context) error {
	id, err := domain.UserStreamID(domain.KindUser, a.Signer.CreatorAddress)
	if err != nil {
		return err
	}
	st, err := a.Client.LoadStream(ctx, id)
	if err != nil {
		return err
	}
	joined := st.View().(*stream.UserView).JoinedStreams()
	a.log.Infof("tracking %d joined streams", len(joined))
	return a.Track(ctx, joined...)
}

// Start starts syncing and the key exchange scheduler.
func (a *App) Start() {
	a.Syncer.Start()
	a.Scheduler.Start()
}

// Stop stops the scheduler, then the syncer, then the router.
func (a *App) Stop() {
	a.Scheduler.Stop()
	a.Syncer.Stop()
	<-a.Syncer.Done()
	a.Router.Halt()
}

// Run starts the client and blocks until ctx is done or syncing gives up.
// Metrics are served while it runs unless disabled.
func (a *App) Run(ctx context.Context) error {
	var srv *http.Server
	if !a.cfg.Metrics.Disable {
		mux := http.NewServeMux()
		mux.Handle("GET /metrics", metrics.Handler(a.Registry))
		srv = &http.Server{Addr: a.cfg.Metrics.Address, Handler: mux, ReadHeaderTimeout: 10 * time.Second}
		go func() {
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				a.log.Errorf("metrics: %v", err)
			}
		}()
		a.log.Noticef("serving metrics on %s", a.cfg.Metrics.Address)
	}

	a.Start()
	select {
	case <-ctx.Done():
	case <-a.Syncer.Done():
	}
	a.Stop()

	if srv != nil {
		sctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(sctx); err != nil {
			a.log.Warningf("metrics shutdown: %v", err)
		}
	}
	if err := a.Syncer.Err(); err != nil {
		return fmt.Errorf("sync: %w", err)
	}
	return nil
}
