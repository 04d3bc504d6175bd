package ledger

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/editguard/editguard/pkg/config"
	"github.com/editguard/editguard/pkg/events"
	infraprometheus "github.com/editguard/editguard/pkg/infra/prometheus"
	"github.com/editguard/editguard/pkg/types"
)

const (
	// maxHistoryPerSource caps the per-source history so sustained attack
	// traffic cannot exhaust memory through the reporting path.
	maxHistoryPerSource = 100

	// unknownSource buckets events that carry no actor id.
	unknownSource = "unknown"
)

// Ledger keeps an append-only, capacity-bounded threat history per source
// and raises a threshold alert the moment a source crosses the line.
type Ledger struct {
	logger       *logrus.Logger
	bus          events.Bus
	cfg          config.ThreatDetectionConfig
	timeProvider func() time.Time

	mu      sync.Mutex
	history map[string][]types.ThreatEvent
}

// LedgerOpts carries optional collaborators.
type LedgerOpts struct {
	TimeProvider func() time.Time
}

func NewLedger(cfg config.ThreatDetectionConfig, bus events.Bus, logger *logrus.Logger, opts *LedgerOpts) *Ledger {
	l := &Ledger{
		logger:       logger,
		bus:          bus,
		cfg:          cfg,
		timeProvider: time.Now,
		history:      make(map[string][]types.ThreatEvent),
	}
	if opts != nil && opts.TimeProvider != nil {
		l.timeProvider = opts.TimeProvider
	}
	return l
}

// Report appends evt to its source's history, trims to the most recent
// entries and re-evaluates the alert threshold. The threshold check runs
// on every report so a burst is caught at the moment it crosses the line,
// not on the next periodic sweep.
func (l *Ledger) Report(ctx context.Context, evt types.ThreatEvent) {
	if !l.cfg.Enabled {
		return
	}
	if evt.ID == "" {
		evt.ID = uuid.NewString()
	}
	if evt.Timestamp.IsZero() {
		evt.Timestamp = l.timeProvider()
	}
	source := evt.Source
	if source == "" {
		source = unknownSource
	}

	l.mu.Lock()
	list := append(l.history[source], evt)
	if len(list) > maxHistoryPerSource {
		list = list[len(list)-maxHistoryPerSource:]
	}
	l.history[source] = list

	windowStart := l.timeProvider().Add(-l.cfg.AlertWindow)
	var recent []types.ThreatEvent
	for _, e := range list {
		if !e.Timestamp.Before(windowStart) {
			recent = append(recent, e)
		}
	}
	crossed := len(recent) == l.cfg.AlertThreshold
	l.mu.Unlock()

	infraprometheus.ThreatsTotal.WithLabelValues(string(evt.Type), string(evt.Severity)).Inc()
	l.logger.WithFields(logrus.Fields{
		"type":     evt.Type,
		"severity": evt.Severity,
		"source":   source,
	}).Warn("threat detected")

	l.bus.Publish(ctx, events.Event{
		Name: events.ThreatDetected,
		Data: map[string]interface{}{"threat": evt},
	})

	if crossed {
		infraprometheus.AlertsTotal.WithLabelValues(string(types.AlertThreshold)).Inc()
		l.logger.WithFields(logrus.Fields{
			"source":    source,
			"threshold": l.cfg.AlertThreshold,
		}).Warn("alert threshold exceeded")
		l.bus.Publish(ctx, events.Event{
			Name: events.AlertThresholdExceeded,
			Data: map[string]interface{}{
				"source":    source,
				"threats":   recent,
				"threshold": l.cfg.AlertThreshold,
			},
		})
	}
}

// History returns the per-source list, or with an empty source the union
// of all sources sorted by timestamp descending.
func (l *Ledger) History(source string) []types.ThreatEvent {
	l.mu.Lock()
	defer l.mu.Unlock()

	if source != "" {
		list := l.history[source]
		out := make([]types.ThreatEvent, len(list))
		copy(out, list)
		return out
	}

	var all []types.ThreatEvent
	for _, list := range l.history {
		all = append(all, list...)
	}
	sort.SliceStable(all, func(i, j int) bool {
		return all[i].Timestamp.After(all[j].Timestamp)
	})
	return all
}

// Clear resets all history.
func (l *Ledger) Clear() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.history = make(map[string][]types.ThreatEvent)
}
