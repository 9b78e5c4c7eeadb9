package publish

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/blacktop/xpostd/internal/logutil"
	"github.com/blacktop/xpostd/internal/queue"
	"github.com/blacktop/xpostd/internal/status"
	"github.com/blacktop/xpostd/internal/xpost"
)

// GlobalStats is the observability snapshot across every destination.
type GlobalStats struct {
	Destinations map[string]queue.Stats `json:"destinations"`
	General      queue.PoolStats        `json:"general"`
}

// Registry owns one Service per destination for the life of the process.
type Registry struct {
	cfg       Config
	factories map[string]xpost.Factory
	sink      status.Sink
	pool      *queue.Pool

	mu       sync.Mutex
	services map[string]*Service
	closed   bool
}

// NewRegistry returns a registry that builds adapters with factories, keyed by
// lower-case platform name.
func NewRegistry(cfg Config, factories map[string]xpost.Factory, sink status.Sink) *Registry {
	fs := make(map[string]xpost.Factory, len(factories))
	for name, f := range factories {
		fs[strings.ToLower(name)] = f
	}
	return &Registry{
		cfg:       cfg,
		factories: fs,
		sink:      status.Safe(sink),
		pool:      queue.NewPool(cfg.GeneralConcurrency),
		services:  map[string]*Service{},
	}
}

// Get returns the service for dest, creating it on first use. Later calls
// with the same destination key return the same instance and ignore the
// credential.
func (r *Registry) Get(ctx context.Context, dest xpost.Destination) (*Service, error) {
	if err := dest.Validate(); err != nil {
		return nil, err
	}
	key := dest.Key()

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return nil, queue.ErrClosed
	}
	if svc, ok := r.services[key]; ok {
		return svc, nil
	}

	factory, ok := r.factories[strings.ToLower(dest.Platform)]
	if !ok {
		return nil, xpost.ValidationError{Provider: "destination", Reason: fmt.Sprintf("unknown platform %q", dest.Platform)}
	}
	platform, err := factory(ctx, dest)
	if err != nil {
		return nil, fmt.Errorf("create %s client: %w", dest.Platform, err)
	}

	q := queue.New(key, r.pool, r.cfg.Publish)
	svc := NewService(dest, platform, q, r.sink, r.cfg)
	r.services[key] = svc
	logutil.Logger().Info("destination registered", "destination", key, "publish_limit", r.cfg.Publish.Limit, "publish_window", r.cfg.Publish.Window)
	return svc, nil
}

// Platforms lists the platform names the registry can build.
func (r *Registry) Platforms() []string {
	out := make([]string, 0, len(r.factories))
	for name := range r.factories {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

// GlobalStats snapshots every destination plus the shared general lane.
func (r *Registry) GlobalStats() GlobalStats {
	r.mu.Lock()
	services := make(map[string]*Service, len(r.services))
	for k, v := range r.services {
		services[k] = v
	}
	r.mu.Unlock()

	out := GlobalStats{
		Destinations: make(map[string]queue.Stats, len(services)),
		General:      r.pool.Stats(),
	}
	for k, svc := range services {
		out.Destinations[k] = svc.Stats()
	}
	return out
}

// Close aborts all queued work. Requests still waiting in a lane finish with
// a SHUTDOWN failure.
func (r *Registry) Close() {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return
	}
	r.closed = true
	services := make([]*Service, 0, len(r.services))
	for _, svc := range r.services {
		services = append(services, svc)
	}
	r.mu.Unlock()

	for _, svc := range services {
		svc.queue.Close()
	}
	r.pool.Close()
}
