// Package notify delivers matched items to the configured destination.
//
// The service fronts a single Sink, paces deliveries with a token bucket,
// stamps each attempt with a delivery id, and keeps a small in-memory
// history for operator visibility. Retry policy belongs to the caller; a
// failed Notify is one failed attempt.
package notify

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/time/rate"

	"feedwatch/internal/eventbus"
	"feedwatch/internal/retry"
	"feedwatch/internal/source"
	logx "feedwatch/pkg/logx"
)

// Sink delivers one matched item to its destination.
type Sink interface {
	Name() string
	Send(ctx context.Context, item source.Item, pattern string) error
}

// NewSink builds the sink named by the config.
func NewSink(cfg Config) (Sink, error) {
	switch strings.ToLower(strings.TrimSpace(cfg.Sink)) {
	case "webhook":
		return NewWebhook(cfg.Webhook)
	case "telegram":
		return NewTelegram(cfg.Telegram)
	default:
		return nil, errors.New("unknown notify sink: " + cfg.Sink)
	}
}

// Service is safe for concurrent use, though the scheduling loop is the only
// caller in practice.
type Service struct {
	mu      sync.Mutex
	log     logx.Logger
	bus     eventbus.Bus
	sink    Sink
	limiter *rate.Limiter
	cfg     Config

	hmu     sync.Mutex
	history []Delivery
}

func New(cfg Config, sink Sink, log logx.Logger, bus eventbus.Bus) *Service {
	if log.IsZero() {
		log = logx.Nop()
	}
	s := &Service{log: log, bus: bus, sink: sink}
	s.applyLocked(cfg, sink)
	return s
}

// Apply reconfigures pacing and, when non-nil, swaps the sink. Used on
// config reload.
func (s *Service) Apply(cfg Config, sink Sink) {
	s.mu.Lock()
	s.applyLocked(cfg, sink)
	s.mu.Unlock()
}

func (s *Service) applyLocked(cfg Config, sink Sink) {
	if cfg.RatePerSec <= 0 {
		cfg.RatePerSec = 1
	}
	if cfg.HistorySize <= 0 {
		cfg.HistorySize = 200
	}
	burst := int(cfg.RatePerSec)
	if burst < 1 {
		burst = 1
	}
	s.cfg = cfg
	s.limiter = rate.NewLimiter(rate.Limit(cfg.RatePerSec), burst)
	if sink != nil {
		s.sink = sink
	}
}

// Notify delivers one matched item. It waits for limiter capacity first, so
// bursts of matches from a single poll spread out instead of hammering the
// destination.
func (s *Service) Notify(ctx context.Context, item source.Item, pattern string) error {
	if ctx == nil {
		ctx = context.Background()
	}

	s.mu.Lock()
	sink := s.sink
	lim := s.limiter
	histSize := s.cfg.HistorySize
	s.mu.Unlock()

	if sink == nil {
		return retry.NoRetry(errors.New("no notify sink configured"))
	}
	if err := lim.Wait(ctx); err != nil {
		return err
	}

	id := uuid.NewString()
	err := sink.Send(ctx, item, pattern)
	now := time.Now()

	d := Delivery{ID: id, At: now, Source: item.Source, ItemID: item.ID, Pattern: pattern}
	ev := DeliveryEvent{ID: id, Source: item.Source, ItemID: item.ID, Kind: string(item.Kind), Pattern: pattern, At: now}

	if err != nil {
		d.Error = err.Error()
		ev.Error = err.Error()
		s.appendHistory(d, histSize)
		s.publish("notify.failed", ev)
		return err
	}

	s.appendHistory(d, histSize)
	s.publish("notify.sent", ev)
	s.log.Debug("notification delivered",
		logx.String("delivery_id", id),
		logx.String("sink", sink.Name()),
		logx.String("item_id", item.ID),
		logx.String("pattern", pattern))
	return nil
}

// History returns a copy of the recent delivery records, newest last.
func (s *Service) History() []Delivery {
	s.hmu.Lock()
	out := append([]Delivery(nil), s.history...)
	s.hmu.Unlock()
	return out
}

func (s *Service) appendHistory(d Delivery, max int) {
	s.hmu.Lock()
	s.history = append(s.history, d)
	if len(s.history) > max {
		s.history = s.history[len(s.history)-max:]
	}
	s.hmu.Unlock()
}

func (s *Service) publish(typ string, ev DeliveryEvent) {
	if s.bus == nil {
		return
	}
	s.bus.Publish(eventbus.Event{Type: typ, Time: ev.At, Data: ev})
}
