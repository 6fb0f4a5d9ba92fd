package frontier

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"

	"dragnet/internal/politeness"
	bosunapi "dragnet/pkg/api/bosun"
	"dragnet/pkg/logging"
)

const (
	// deliveryBuffer bounds the channel between the selection loop and the
	// subscribe stream. A full buffer back-pressures selection instead of
	// dropping popped URLs.
	deliveryBuffer = 128

	// tickInterval is the safety wakeup: it catches coalesced publish
	// notifies and cooldowns that expired while every domain was cooling.
	tickInterval = time.Second

	defaultCooldownSeconds = 5
)

// Selector drains the queue set under the fairness and politeness rules:
// on every wakeup it snapshots the non-empty queues, drops the ones whose
// domain is cooling down, picks one of the rest uniformly at random, pops
// its head URL and starts that domain's cooldown.
type Selector struct {
	queues          *QueueSet
	kv              redis.UniversalClient
	cooldownSeconds int
	logger          logging.Logger
	metrics         *Metrics

	notify     chan struct{}
	deliveries chan bosunapi.URLPayload
}

// SelectorConfig wires the selection loop.
type SelectorConfig struct {
	Queues *QueueSet
	KV     redis.UniversalClient

	// CooldownSeconds is the per-domain pause started on every dispatch.
	CooldownSeconds int

	Logger  logging.Logger
	Metrics *Metrics
}

func NewSelector(cfg SelectorConfig) *Selector {
	if cfg.CooldownSeconds <= 0 {
		cfg.CooldownSeconds = defaultCooldownSeconds
	}
	return &Selector{
		queues:          cfg.Queues,
		kv:              cfg.KV,
		cooldownSeconds: cfg.CooldownSeconds,
		logger:          cfg.Logger,
		metrics:         cfg.Metrics,
		notify:          make(chan struct{}, 1),
		deliveries:      make(chan bosunapi.URLPayload, deliveryBuffer),
	}
}

// Notify wakes the selection loop without blocking. Concurrent notifies
// coalesce; the periodic tick covers anything coalesced away.
func (s *Selector) Notify() {
	select {
	case s.notify <- struct{}{}:
	default:
	}
}

// Deliveries is the stream of selected URLs. Each payload is consumed by
// exactly one receiver; a receiver that fails to forward a payload must
// Requeue it.
func (s *Selector) Deliveries() <-chan bosunapi.URLPayload {
	return s.deliveries
}

// Requeue reinserts a payload at the tail of its domain queue. This is the
// at-least-once rollback for deliveries that never reached a subscriber.
// FIFO order is sacrificed for the reinserted URL; losing it is worse.
func (s *Selector) Requeue(p bosunapi.URLPayload) {
	s.queues.Add(p.Queue, p.Message)
	s.metrics.incMessage("requeued")
	s.Notify()
}

// Run drives selection until ctx is cancelled. Single goroutine: all queue
// pops happen here, so per-domain FIFO holds as long as nothing is requeued.
func (s *Selector) Run(ctx context.Context) {
	ticker := time.NewTicker(tickInterval)
	defer ticker.Stop()

	s.logger.WithField("cooldown_seconds", s.cooldownSeconds).Info("Selection loop started")
	for {
		select {
		case <-ctx.Done():
			s.logger.Info("Selection loop stopped")
			return
		case <-s.notify:
		case <-ticker.C:
		}

		if s.selectOne(ctx) {
			// More work may be eligible; keep draining without waiting
			// for the next tick.
			s.Notify()
		}
	}
}

// selectOne runs one round of the selection algorithm. Returns true when a
// URL was handed to the delivery channel.
func (s *Selector) selectOne(ctx context.Context) bool {
	names := s.queues.Names()
	if len(names) == 0 {
		return false
	}

	// The KV round-trip happens with no lock held; queues may empty or fill
	// meanwhile. PopEligible re-checks emptiness under the lock.
	cooling, err := politeness.CoolingSet(ctx, s.kv, names)
	if err != nil {
		s.logger.WithError(err).Error("Failed to read cooldowns")
		return false
	}

	eligible := make([]string, 0, len(names))
	for _, name := range names {
		if !cooling[name] {
			eligible = append(eligible, name)
		}
	}
	if len(eligible) == 0 {
		return false
	}

	domain, url, ok := s.queues.PopEligible(eligible)
	if !ok {
		return false
	}

	// Two replicas can race this pair (both pick the same domain between
	// MGET and SET). Tolerated: the race costs one extra dispatch and the
	// cooldown that follows rate-limits the domain again.
	if err := politeness.SetCooldown(ctx, s.kv, domain, s.cooldownSeconds); err != nil {
		s.logger.WithError(err).WithField("domain", domain).Error("Failed to set cooldown")
	}

	select {
	case s.deliveries <- bosunapi.URLPayload{Queue: domain, Message: url}:
		s.metrics.incMessage("selected")
		s.metrics.observeQueues(s.queues)
		return true
	case <-ctx.Done():
		// Shutdown with a popped URL in hand: put it back.
		s.queues.Add(domain, url)
		return false
	}
}
