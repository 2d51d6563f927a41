package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	redis "github.com/redis/go-redis/v9"
	"github.com/samber/lo"

	"github.com/mirkobrombin/go-lockstep/v1/config"
	"github.com/mirkobrombin/go-lockstep/v1/core"
	lserrors "github.com/mirkobrombin/go-lockstep/v1/errors"
	"github.com/mirkobrombin/go-lockstep/v1/event"
	"github.com/mirkobrombin/go-lockstep/v1/metrics"
	"github.com/mirkobrombin/go-lockstep/v1/monitor"
	"github.com/mirkobrombin/go-lockstep/v1/presets"
	"github.com/mirkobrombin/go-lockstep/v1/relay"
	"github.com/mirkobrombin/go-lockstep/v1/syncbus"
	"github.com/mirkobrombin/go-lockstep/v1/watchbus"
)

const maxEventBytes = 64 << 10

// daemon owns the registry, its relay hub and the watch stream.
type daemon struct {
	cfg      *config.Config
	logger   *slog.Logger
	registry *core.Registry
	watch    watchbus.WatchBus
	hub      *relay.Hub
	metrics  *prometheus.Registry
	closers  []func() error

	// mu serializes group creation against sync.max_groups.
	mu sync.Mutex
}

func newDaemon(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*daemon, error) {
	d := &daemon{
		cfg:     cfg,
		logger:  logger,
		metrics: metrics.NewRegistry(),
	}
	metrics.RegisterCoreMetrics(d.metrics)

	d.watch = d.openWatchBus()
	d.registry = presets.NewStandalone(
		core.WithWindow(cfg.Window()),
		core.WithLogger(logger),
		core.WithObserver(monitor.NewRecorder(d.watch, monitor.WithLogger(logger))),
	)

	hub, err := d.openHub()
	if err != nil {
		_ = d.close()
		return nil, err
	}
	d.hub = hub

	for _, key := range cfg.Groups {
		if _, err := d.group(ctx, key); err != nil {
			_ = d.close()
			return nil, err
		}
	}
	return d, nil
}

// openWatchBus shares watch streams through Redis when Redis is the relay
// backend, so any daemon can stream any group.
func (d *daemon) openWatchBus() watchbus.WatchBus {
	if d.cfg.Relay.Backend != config.BackendRedis {
		return watchbus.NewInMemory()
	}
	client := redis.NewClient(&redis.Options{
		Addr:     d.cfg.Relay.Redis.Addr,
		Password: d.cfg.Relay.Redis.Password,
		DB:       d.cfg.Relay.Redis.DB,
	})
	d.closers = append(d.closers, client.Close)
	return watchbus.NewRedisWatchBus(client)
}

func (d *daemon) openHub() (*relay.Hub, error) {
	cfg := d.cfg
	opts := []relay.Option{
		relay.WithLogger(d.logger),
		relay.WithPublishTimeout(cfg.PublishTimeout()),
	}
	if cfg.Node.ID != "" {
		opts = append(opts, relay.WithNode(cfg.Node.ID))
	}
	switch cfg.Relay.Backend {
	case config.BackendNone:
		return nil, nil
	case config.BackendMemory:
		return presets.NewInMemoryHub(d.registry, syncbus.NewInMemoryBus(), opts...)
	case config.BackendRedis:
		return presets.NewRedisHub(d.registry, presets.RedisOptions{
			Addr:     cfg.Relay.Redis.Addr,
			Password: cfg.Relay.Redis.Password,
			DB:       cfg.Relay.Redis.DB,
		}, opts...)
	case config.BackendNATS:
		return presets.NewNATSHub(d.registry, cfg.Relay.NATS.URL, opts...)
	case config.BackendKafka:
		return presets.NewKafkaHub(d.registry, cfg.Relay.Kafka.Brokers, nil, opts...)
	}
	return nil, fmt.Errorf("%w: %q", lserrors.ErrUnknownBackend, cfg.Relay.Backend)
}

// group returns the group for key within the configured namespace, bridging
// it to the relay when one is configured. New groups past sync.max_groups are
// refused with ErrGroupLimit.
func (d *daemon) group(ctx context.Context, key string) (*core.Group, error) {
	key = core.Key(d.cfg.Sync.Namespace, key)
	d.mu.Lock()
	defer d.mu.Unlock()
	if _, ok := d.registry.Lookup(key); !ok && d.registry.Len() >= d.cfg.Sync.MaxGroups {
		return nil, fmt.Errorf("%w (%d)", lserrors.ErrGroupLimit, d.cfg.Sync.MaxGroups)
	}
	if d.hub == nil {
		return d.registry.Get(key), nil
	}
	b, err := d.hub.Bridge(ctx, key)
	if err != nil {
		return nil, err
	}
	return b.Group(), nil
}

func (d *daemon) handler() http.Handler {
	mux := http.NewServeMux()
	mux.Handle("GET /metrics", promhttp.HandlerFor(d.metrics, promhttp.HandlerOpts{}))
	mux.HandleFunc("GET /healthz", d.handleHealth)
	mux.HandleFunc("GET /groups", d.handleGroups)
	mux.HandleFunc("POST /dispatch", d.handleDispatch)
	mux.HandleFunc("GET /watch", watchbus.SSEHandler(d.watch))
	mux.HandleFunc("GET /ws", watchbus.WebSocketHandler(d.watch))
	return mux
}

type healthResponse struct {
	Status string `json:"status"`
	Node   string `json:"node,omitempty"`
	Relay  string `json:"relay"`
	Groups int    `json:"groups"`
}

func (d *daemon) handleHealth(w http.ResponseWriter, r *http.Request) {
	resp := healthResponse{Status: "ok", Relay: d.cfg.Relay.Backend, Groups: d.registry.Len()}
	if d.hub != nil {
		resp.Node = d.hub.Node()
	}
	writeJSON(w, http.StatusOK, resp)
}

func (d *daemon) handleGroups(w http.ResponseWriter, r *http.Request) {
	snaps := lo.FilterMap(d.registry.Keys(), func(key string, _ int) (core.Snapshot, bool) {
		g, ok := d.registry.Lookup(key)
		if !ok {
			return core.Snapshot{}, false
		}
		return g.Snapshot(), true
	})
	writeJSON(w, http.StatusOK, snaps)
}

type dispatchResponse struct {
	Group    string `json:"group"`
	Accepted bool   `json:"accepted"`
}

// handleDispatch injects an event into a group on behalf of an external
// origin, such as a browser tab that is not a Go participant.
func (d *daemon) handleDispatch(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	key := q.Get("key")
	if key == "" {
		http.Error(w, "missing key", http.StatusBadRequest)
		return
	}
	origin := q.Get("origin")
	if origin == "" {
		origin = "http"
	}
	data, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxEventBytes))
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	ev, err := event.Unmarshal(data)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	g, err := d.group(r.Context(), key)
	if errors.Is(err, lserrors.ErrGroupLimit) {
		http.Error(w, err.Error(), http.StatusTooManyRequests)
		return
	}
	if err != nil {
		http.Error(w, err.Error(), http.StatusServiceUnavailable)
		return
	}
	writeJSON(w, http.StatusOK, dispatchResponse{Group: g.Key(), Accepted: g.Dispatch(ev, origin)})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func (d *daemon) close() error {
	var first error
	if d.hub != nil {
		first = d.hub.Close()
	}
	if d.registry != nil {
		d.registry.Reset()
	}
	for _, c := range d.closers {
		if err := c(); err != nil && first == nil {
			first = err
		}
	}
	return first
}
