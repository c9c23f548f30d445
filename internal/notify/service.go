// Package notify fans domain events out to configured notification
// endpoints through per-kind transport adapters.
package notify

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"mediarr/internal/kit"
	"mediarr/internal/notify/adapters"
	"mediarr/internal/storage"
	logx "mediarr/pkg/logx"
)

var (
	ErrEndpointNotFound = errors.New("notify: endpoint not found")
	ErrUnknownKind      = errors.New("notify: unknown endpoint kind")
)

// Config controls the dispatcher.
type Config struct {
	// RatePerSec paces outbound sends across all endpoints.
	RatePerSec int
	// MaxInFlight bounds concurrent sends within one dispatch cycle.
	MaxInFlight int
	// SendTimeout bounds each adapter send.
	SendTimeout time.Duration
}

func (c Config) withDefaults() Config {
	if c.RatePerSec <= 0 {
		c.RatePerSec = 10
	}
	if c.MaxInFlight <= 0 {
		c.MaxInFlight = 8
	}
	if c.SendTimeout <= 0 {
		c.SendTimeout = 15 * time.Second
	}
	return c
}

// Service resolves domain events to endpoints and fans deliveries out
// through the adapter registry. It is safe for concurrent use; endpoint
// edits become visible to the next dispatch cycle.
type Service struct {
	mu      sync.Mutex
	cfg     Config
	limiter *rate.Limiter

	store    storage.Store
	registry *adapters.Registry
	log      logx.Logger

	// hook for delivery accounting (prometheus); optional.
	onAttempt func(kit.DeliveryAttempt)
}

func New(cfg Config, store storage.Store, registry *adapters.Registry, log logx.Logger) *Service {
	if log.IsZero() {
		log = logx.Nop()
	}
	s := &Service{
		store:    store,
		registry: registry,
		log:      log,
	}
	s.applyLocked(cfg)
	return s
}

func (s *Service) Apply(cfg Config) {
	s.mu.Lock()
	s.applyLocked(cfg)
	s.mu.Unlock()
}

func (s *Service) applyLocked(cfg Config) {
	cfg = cfg.withDefaults()
	s.cfg = cfg
	// Burst = rate so short spikes don't block too hard.
	s.limiter = rate.NewLimiter(rate.Limit(cfg.RatePerSec), cfg.RatePerSec)
}

// SetAttemptHook installs a callback invoked once per delivery attempt.
// Used for metrics; must be cheap and non-blocking.
func (s *Service) SetAttemptHook(fn func(kit.DeliveryAttempt)) {
	s.mu.Lock()
	s.onAttempt = fn
	s.mu.Unlock()
}

// Dispatch fans ev out to every matching endpoint. Sends are independent:
// one endpoint failing never prevents, delays beyond pacing, or rolls back
// another's delivery. Dispatch itself never fails; delivery errors are
// absorbed into the summary and the log.
func (s *Service) Dispatch(ctx context.Context, ev kit.Event) kit.DispatchSummary {
	s.mu.Lock()
	cfg := s.cfg
	limiter := s.limiter
	onAttempt := s.onAttempt
	s.mu.Unlock()

	endpoints, err := s.store.ListEndpoints(ctx)
	if err != nil {
		s.log.Error("dispatch: listing endpoints failed", logx.String("event", ev.Type.String()), logx.Err(err))
		return kit.DispatchSummary{}
	}

	scope, err := s.resolveScope(ctx, ev.UserIDs)
	if err != nil {
		s.log.Error("dispatch: resolving user scope failed", logx.String("event", ev.Type.String()), logx.Err(err))
		return kit.DispatchSummary{}
	}

	var targets []kit.Endpoint
	for _, ep := range endpoints {
		if !ep.Enabled || !ep.Types.Has(ev.Type) {
			continue
		}
		if scope != nil {
			if _, ok := scope[ep.ID]; !ok {
				continue
			}
		}
		targets = append(targets, ep)
	}

	summary := kit.DispatchSummary{Matched: len(targets)}
	if len(targets) == 0 {
		s.log.Debug("dispatch: no matching endpoints", logx.String("event", ev.Type.String()))
		return summary
	}

	attempts := make([]kit.DeliveryAttempt, len(targets))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(cfg.MaxInFlight)
	for i, ep := range targets {
		i, ep := i, ep
		g.Go(func() error {
			if err := limiter.Wait(gctx); err != nil {
				attempts[i] = kit.DeliveryAttempt{EndpointID: ep.ID, Kind: ep.Kind, Err: err}
				return nil
			}
			attempts[i] = s.deliver(gctx, cfg, ep, ev.Payload)
			// Always nil: a failed endpoint must not cancel siblings.
			return nil
		})
	}
	_ = g.Wait()

	for _, at := range attempts {
		if onAttempt != nil {
			onAttempt(at)
		}
		if at.OK {
			summary.Delivered++
			continue
		}
		summary.Failed++
		s.log.Warn("notification delivery failed",
			logx.String("endpoint_id", at.EndpointID.String()),
			logx.String("kind", string(at.Kind)),
			logx.String("event", ev.Type.String()),
			logx.Err(at.Err),
		)
	}

	s.log.Info("dispatch complete",
		logx.String("event", ev.Type.String()),
		logx.Int("matched", summary.Matched),
		logx.Int("delivered", summary.Delivered),
		logx.Int("failed", summary.Failed),
	)
	return summary
}

// resolveScope returns nil for global events, otherwise the set of endpoint
// IDs assigned to any of the given users.
func (s *Service) resolveScope(ctx context.Context, userIDs []int64) (map[uuid.UUID]struct{}, error) {
	if len(userIDs) == 0 {
		return nil, nil
	}
	scope := map[uuid.UUID]struct{}{}
	for _, uid := range userIDs {
		ids, err := s.store.ListAssignments(ctx, uid)
		if err != nil {
			return nil, err
		}
		for _, id := range ids {
			scope[id] = struct{}{}
		}
	}
	return scope, nil
}

// deliver invokes one adapter for one endpoint, absorbing panics so a
// misbehaving adapter cannot take down the dispatch cycle.
func (s *Service) deliver(ctx context.Context, cfg Config, ep kit.Endpoint, p kit.Payload) (at kit.DeliveryAttempt) {
	at = kit.DeliveryAttempt{EndpointID: ep.ID, Kind: ep.Kind}
	defer func() {
		if r := recover(); r != nil {
			at.OK = false
			at.Err = fmt.Errorf("adapter panic: %v", r)
			s.log.Error("panic in notification adapter",
				logx.String("endpoint_id", ep.ID.String()),
				logx.String("kind", string(ep.Kind)),
				logx.Any("panic", r),
				logx.String("stack", string(debug.Stack())),
			)
		}
	}()

	adapter, err := s.registry.Get(ep.Kind)
	if err != nil {
		at.Err = err
		return at
	}

	sctx, cancel := context.WithTimeout(ctx, cfg.SendTimeout)
	defer cancel()
	if err := adapter.Send(sctx, ep.Config, p); err != nil {
		at.Err = err
		return at
	}
	at.OK = true
	return at
}

// SendTest delivers a fixed synthetic payload to one endpoint, bypassing
// the enabled flag and the event mask entirely. The adapter's raw error is
// returned so the admin UI can show it verbatim.
func (s *Service) SendTest(ctx context.Context, endpointID uuid.UUID) error {
	s.mu.Lock()
	cfg := s.cfg
	s.mu.Unlock()

	ep, err := s.store.GetEndpoint(ctx, endpointID)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return ErrEndpointNotFound
		}
		return err
	}

	adapter, err := s.registry.Get(ep.Kind)
	if err != nil {
		return err
	}

	p := kit.Payload{
		Event:   kit.EventTest,
		Subject: "Test notification",
		Message: "If you can read this, the endpoint is configured correctly.",
	}
	sctx, cancel := context.WithTimeout(ctx, cfg.SendTimeout)
	defer cancel()
	return adapter.Send(sctx, ep.Config, p)
}
