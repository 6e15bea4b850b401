package app

import (
	"context"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/robfig/cron/v3"

	"feedwatch/internal/eventbus"
	"feedwatch/internal/poll"
	"feedwatch/internal/seen"
	logx "feedwatch/pkg/logx"
)

// Five-field specs plus descriptors so "@every" intervals parse. Seconds are
// accepted but nothing here uses them.
var maintenanceParser = cron.NewParser(
	cron.SecondOptional | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)

// maintenanceConfig is the parsed store upkeep schedule.
type maintenanceConfig struct {
	SaveEvery time.Duration // periodic flush; 0 disables
	Retention time.Duration // daily job drops records older than this; 0 keeps all

	ReportHour   int
	ReportMinute int
	ReportSet    bool

	StorePath string // for the on-disk size figure in the report
}

// maintenance runs the store upkeep jobs on a cron: a periodic Save flush
// and a daily report that also applies the retention window. Job failures
// are logged and never escalate.
type maintenance struct {
	log   logx.Logger
	store seen.Store
	bus   eventbus.Bus

	mu      sync.Mutex
	cfg     maintenanceConfig
	c       *cron.Cron
	stopped bool
}

func newMaintenance(cfg maintenanceConfig, store seen.Store, bus eventbus.Bus, log logx.Logger) *maintenance {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &maintenance{log: log, store: store, bus: bus, cfg: cfg}
}

func (m *maintenance) Start() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.c != nil || m.stopped {
		return
	}
	m.startLocked()
}

func (m *maintenance) startLocked() {
	// Jobs capture the config at registration; a reconfigure rebuilds the
	// cron, so they never need the service mutex.
	cfg := m.cfg
	c := cron.New(cron.WithParser(maintenanceParser))

	jobs := 0
	if cfg.SaveEvery > 0 {
		spec := fmt.Sprintf("@every %s", cfg.SaveEvery)
		if _, err := c.AddFunc(spec, m.flush); err != nil {
			m.log.Warn("flush job rejected", logx.String("spec", spec), logx.Err(err))
		} else {
			jobs++
		}
	}
	// Retention without an explicit report time still needs a daily slot;
	// midnight is the fallback.
	if cfg.ReportSet || cfg.Retention > 0 {
		spec := fmt.Sprintf("%d %d * * *", cfg.ReportMinute, cfg.ReportHour)
		if _, err := c.AddFunc(spec, func() { m.report(cfg) }); err != nil {
			m.log.Warn("report job rejected", logx.String("spec", spec), logx.Err(err))
		} else {
			jobs++
		}
	}

	m.c = c
	c.Start()
	m.log.Info("maintenance started",
		logx.Int("jobs", jobs),
		logx.Duration("save_every", cfg.SaveEvery))
}

// Apply swaps the schedule. An unchanged config is a no-op; otherwise the
// cron is rebuilt so the new intervals take effect immediately.
func (m *maintenance) Apply(cfg maintenanceConfig) {
	m.mu.Lock()
	if cfg == m.cfg {
		m.mu.Unlock()
		return
	}
	m.cfg = cfg
	old := m.c
	m.c = nil
	stopped := m.stopped
	m.mu.Unlock()

	if old != nil {
		select {
		case <-old.Stop().Done():
		case <-time.After(5 * time.Second):
			m.log.Warn("maintenance jobs slow to stop during reconfigure")
		}
	}
	if !stopped {
		m.Start()
	}
}

// Stop halts scheduling and waits for running jobs, bounded by ctx.
func (m *maintenance) Stop(ctx context.Context) {
	m.mu.Lock()
	m.stopped = true
	c := m.c
	m.c = nil
	m.mu.Unlock()
	if c == nil {
		return
	}
	select {
	case <-c.Stop().Done():
	case <-ctx.Done():
	}
}

// flush persists pending marks.
func (m *maintenance) flush() {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := m.store.Save(ctx); err != nil {
		m.log.Warn("periodic seen store save failed", logx.Err(err))
		return
	}
	m.publishSave()
	m.log.Debug("seen store flushed", logx.Int("entries", m.store.Len()))
}

// report applies the retention window, then logs one line with the store's
// entry count, oldest record age and on-disk size.
func (m *maintenance) report(cfg maintenanceConfig) {
	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()

	if cfg.Retention > 0 {
		cutoff := time.Now().Add(-cfg.Retention)
		n, err := m.store.PruneBefore(ctx, cutoff)
		switch {
		case err != nil:
			m.log.Warn("retention prune failed", logx.Err(err))
		case n > 0:
			m.log.Info("retention prune dropped entries",
				logx.Int("dropped", n),
				logx.Duration("older_than", cfg.Retention))
			if err := m.store.Save(ctx); err != nil {
				m.log.Warn("save after retention prune failed", logx.Err(err))
			} else {
				m.publishSave()
			}
		}
	}

	fields := []logx.Field{logx.Int("entries", m.store.Len())}
	if oldest, ok := m.store.OldestAt(); ok {
		fields = append(fields, logx.String("oldest", humanize.Time(oldest)))
	}
	if cfg.StorePath != "" {
		if fi, err := os.Stat(cfg.StorePath); err == nil {
			fields = append(fields, logx.String("disk", humanize.Bytes(uint64(fi.Size()))))
		}
	}
	m.log.Info("seen store report", fields...)
}

func (m *maintenance) publishSave() {
	if m.bus == nil {
		return
	}
	m.bus.Publish(eventbus.Event{
		Type: "store.saved",
		Time: time.Now(),
		Data: poll.SaveEvent{Entries: m.store.Len()},
	})
}
