package csp

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"github.com/valyala/fastjson"

	"github.com/editguard/editguard/pkg/config"
	"github.com/editguard/editguard/pkg/events"
	"github.com/editguard/editguard/pkg/infra/httpx"
	infraprometheus "github.com/editguard/editguard/pkg/infra/prometheus"
	"github.com/editguard/editguard/pkg/types"
	"github.com/editguard/editguard/pkg/utils"
)

const (
	// maxSamplesPerAggregate bounds stored script samples per rollup.
	maxSamplesPerAggregate = 5
	// maxAlertHistory bounds the retained alert list.
	maxAlertHistory = 100
	// anomalySpikeFactor flags the last 10 minutes against the previous 10.
	anomalySpikeFactor = 3
	anomalyWindow      = 10 * time.Minute
)

type aggKey struct {
	directive  string
	blockedURI string
}

// ReportSender delivers a batch of violations to the reporting
// transport. httpx.ReportClient is the standard implementation.
type ReportSender interface {
	Send(ctx context.Context, reports []types.CSPViolation, metadata map[string]interface{}) error
}

// ViolationPipeline ingests raw browser violation reports, aggregates
// them, raises alerts and flushes batches to the reporting transport.
type ViolationPipeline struct {
	logger       *logrus.Logger
	bus          events.Bus
	cfg          config.ReportingConfig
	sender       ReportSender
	breaker      httpx.CircuitBreaker
	timeProvider func() time.Time

	mu         sync.Mutex
	queue      []types.CSPViolation
	aggregated map[aggKey]*types.AggregatedViolation
	ingestLog  []time.Time
	alerts     []types.SecurityAlert
	byHour     [24]int
	bySource   map[string]int
	inFlight   bool

	parserPool fastjson.ParserPool
}

// PipelineOpts carries optional collaborators.
type PipelineOpts struct {
	Breaker      httpx.CircuitBreaker
	TimeProvider func() time.Time
}

func NewViolationPipeline(cfg config.ReportingConfig, sender ReportSender, bus events.Bus, logger *logrus.Logger, opts *PipelineOpts) *ViolationPipeline {
	p := &ViolationPipeline{
		logger:       logger,
		bus:          bus,
		cfg:          cfg,
		sender:       sender,
		timeProvider: time.Now,
		aggregated:   make(map[aggKey]*types.AggregatedViolation),
		bySource:     make(map[string]int),
	}
	if opts != nil {
		p.breaker = opts.Breaker
		if opts.TimeProvider != nil {
			p.timeProvider = opts.TimeProvider
		}
	}
	if p.breaker == nil {
		p.breaker = httpx.NewCircuitBreaker("csp-report-flush",
			cfg.BreakerTimeout, uint32(cfg.FailureThreshold))
	}
	return p
}

// IngestReport parses a browser report body (the `csp-report` JSON
// envelope) and ingests it. Malformed bodies return a parse error so
// the host can count or log them; nothing is ingested.
func (p *ViolationPipeline) IngestReport(ctx context.Context, raw []byte, userAgent string) error {
	parser := p.parserPool.Get()
	defer p.parserPool.Put(parser)

	v, err := parser.ParseBytes(raw)
	if err != nil {
		return fmt.Errorf("failed to parse violation report: %w", err)
	}
	body := v.Get("csp-report")
	if body == nil {
		body = v
	}

	violation := types.CSPViolation{
		DocumentURI:       string(body.GetStringBytes("document-uri")),
		BlockedURI:        string(body.GetStringBytes("blocked-uri")),
		ViolatedDirective: string(body.GetStringBytes("violated-directive")),
		OriginalPolicy:    string(body.GetStringBytes("original-policy")),
		SourceFile:        string(body.GetStringBytes("source-file")),
		LineNumber:        body.GetInt("line-number"),
		ColumnNumber:      body.GetInt("column-number"),
		ScriptSample:      string(body.GetStringBytes("script-sample")),
		UserAgent:         userAgent,
	}
	if violation.ViolatedDirective == "" {
		violation.ViolatedDirective = string(body.GetStringBytes("effective-directive"))
	}
	p.Ingest(ctx, violation)
	return nil
}

// Ingest records one violation: bounded raw queue, aggregation by
// (directive, blocked URI), metric roll-up and alert evaluation.
func (p *ViolationPipeline) Ingest(ctx context.Context, violation types.CSPViolation) {
	now := p.timeProvider()
	if violation.Timestamp.IsZero() {
		violation.Timestamp = now
	}

	browser := utils.BrowserFamily(violation.UserAgent)
	infraprometheus.ViolationsTotal.WithLabelValues(violation.ViolatedDirective, browser).Inc()

	p.mu.Lock()
	p.queue = append(p.queue, violation)
	if len(p.queue) > p.cfg.MaxReports {
		p.queue = p.queue[len(p.queue)-p.cfg.MaxReports:]
	}
	infraprometheus.PendingReports.Set(float64(len(p.queue)))

	key := aggKey{violation.ViolatedDirective, violation.BlockedURI}
	agg, ok := p.aggregated[key]
	if !ok {
		agg = &types.AggregatedViolation{
			ViolatedDirective: violation.ViolatedDirective,
			BlockedURI:        violation.BlockedURI,
			FirstSeen:         violation.Timestamp,
		}
		p.aggregated[key] = agg
	}
	agg.Count++
	if violation.Timestamp.Before(agg.FirstSeen) {
		agg.FirstSeen = violation.Timestamp
	}
	if violation.Timestamp.After(agg.LastSeen) {
		agg.LastSeen = violation.Timestamp
	}
	if violation.SourceFile != "" {
		agg.Sources = appendUnique(agg.Sources, violation.SourceFile)
	}
	if browser != "" {
		agg.UserAgents = appendUnique(agg.UserAgents, browser)
	}
	if violation.ScriptSample != "" && len(agg.Samples) < maxSamplesPerAggregate {
		agg.Samples = append(agg.Samples, violation.ScriptSample)
	}

	p.byHour[violation.Timestamp.Hour()]++
	if violation.SourceFile != "" {
		p.bySource[violation.SourceFile]++
	}

	p.ingestLog = append(p.ingestLog, now)
	p.pruneIngestLogLocked(now)

	alerts := p.evaluateAlertsLocked(violation, now)
	p.mu.Unlock()

	p.bus.Publish(ctx, events.Event{
		Name: events.CSPViolationReceived,
		Data: map[string]interface{}{"violation": violation},
	})
	for _, alert := range alerts {
		p.raiseAlert(ctx, alert)
	}
}

func (p *ViolationPipeline) pruneIngestLogLocked(now time.Time) {
	cutoff := now.Add(-time.Hour)
	i := 0
	for i < len(p.ingestLog) && p.ingestLog[i].Before(cutoff) {
		i++
	}
	p.ingestLog = p.ingestLog[i:]
}

func (p *ViolationPipeline) evaluateAlertsLocked(violation types.CSPViolation, now time.Time) []types.SecurityAlert {
	var alerts []types.SecurityAlert

	perMinute := 0
	minuteCutoff := now.Add(-time.Minute)
	for _, t := range p.ingestLog {
		if !t.Before(minuteCutoff) {
			perMinute++
		}
	}
	if perMinute == p.cfg.ViolationsPerMinute {
		alerts = append(alerts, types.SecurityAlert{
			Type:     types.AlertThreshold,
			Severity: types.SeverityHigh,
			Message:  "violation rate threshold exceeded",
			Data: map[string]interface{}{
				"per_minute": perMinute,
				"threshold":  p.cfg.ViolationsPerMinute,
			},
		})
	}

	hourCutoff := now.Add(-time.Hour)
	uniquePairs := 0
	for _, agg := range p.aggregated {
		if !agg.LastSeen.Before(hourCutoff) {
			uniquePairs++
		}
	}
	if uniquePairs == p.cfg.UniqueViolationsPerHour {
		alerts = append(alerts, types.SecurityAlert{
			Type:     types.AlertThreshold,
			Severity: types.SeverityMedium,
			Message:  "unique violation threshold exceeded",
			Data: map[string]interface{}{
				"unique_pairs": uniquePairs,
				"threshold":    p.cfg.UniqueViolationsPerHour,
			},
		})
	}

	for _, critical := range p.cfg.CriticalDirectives {
		if directiveMatches(violation.ViolatedDirective, critical) {
			alerts = append(alerts, types.SecurityAlert{
				Type:     types.AlertCritical,
				Severity: types.SeverityCritical,
				Message:  "violation of critical directive",
				Data: map[string]interface{}{
					"directive":   violation.ViolatedDirective,
					"blocked_uri": violation.BlockedURI,
				},
			})
			break
		}
	}

	if spike, recent, previous := p.detectSpikeLocked(now); spike {
		alerts = append(alerts, types.SecurityAlert{
			Type:     types.AlertAnomaly,
			Severity: types.SeverityHigh,
			Message:  "violation spike detected",
			Data: map[string]interface{}{
				"recent":   recent,
				"previous": previous,
			},
		})
	}
	return alerts
}

func (p *ViolationPipeline) detectSpikeLocked(now time.Time) (bool, int, int) {
	recentCutoff := now.Add(-anomalyWindow)
	previousCutoff := now.Add(-2 * anomalyWindow)

	recent, previous := 0, 0
	for _, t := range p.ingestLog {
		switch {
		case !t.Before(recentCutoff):
			recent++
		case !t.Before(previousCutoff):
			previous++
		}
	}
	if previous == 0 {
		return false, recent, previous
	}
	return recent >= previous*anomalySpikeFactor, recent, previous
}

func (p *ViolationPipeline) raiseAlert(ctx context.Context, alert types.SecurityAlert) {
	alert.ID = uuid.NewString()
	if alert.Timestamp.IsZero() {
		alert.Timestamp = p.timeProvider()
	}

	p.mu.Lock()
	p.alerts = append(p.alerts, alert)
	if len(p.alerts) > maxAlertHistory {
		p.alerts = p.alerts[len(p.alerts)-maxAlertHistory:]
	}
	p.mu.Unlock()

	infraprometheus.AlertsTotal.WithLabelValues(string(alert.Type)).Inc()
	p.logger.WithFields(logrus.Fields{
		"type":     alert.Type,
		"severity": alert.Severity,
	}).Warn(alert.Message)

	// Each alert class gets its own event name so subscribers can bind
	// to exactly the classes they care about.
	name := events.AlertThresholdExceeded
	switch alert.Type {
	case types.AlertCritical:
		name = events.AlertCriticalViolation
	case types.AlertAnomaly:
		name = events.AlertAnomalyDetected
	}
	p.bus.Publish(ctx, events.Event{
		Name: name,
		Data: map[string]interface{}{"alert": alert},
	})
}

// Flush sends the queued batch to the reporting transport. Only one
// batch is ever in flight; a failed batch is re-queued (bounded) rather
// than dropped.
func (p *ViolationPipeline) Flush(ctx context.Context) error {
	p.mu.Lock()
	if p.inFlight || len(p.queue) == 0 {
		p.mu.Unlock()
		return nil
	}
	p.inFlight = true
	batch := p.queue
	p.queue = nil
	infraprometheus.PendingReports.Set(0)
	p.mu.Unlock()

	metadata := map[string]interface{}{
		"timestamp":  p.timeProvider(),
		"batch_id":   uuid.NewString(),
		"aggregated": p.AggregatedSummary(),
	}

	err := p.breaker.Execute(func() error {
		return p.sender.Send(ctx, batch, metadata)
	})

	p.mu.Lock()
	p.inFlight = false
	if err != nil {
		// Re-queue ahead of anything ingested meanwhile, still bounded.
		p.queue = append(batch, p.queue...)
		if len(p.queue) > p.cfg.MaxReports {
			p.queue = p.queue[len(p.queue)-p.cfg.MaxReports:]
		}
		infraprometheus.PendingReports.Set(float64(len(p.queue)))
	}
	p.mu.Unlock()

	if err != nil {
		infraprometheus.ReportFlushes.WithLabelValues("failure").Inc()
		p.logger.WithError(err).Error("report flush failed, batch re-queued")
		return err
	}
	infraprometheus.ReportFlushes.WithLabelValues("success").Inc()
	p.logger.WithField("count", len(batch)).Debug("report batch flushed")
	return nil
}

// AggregatedSummary snapshots the rollups keyed by "directive|uri".
func (p *ViolationPipeline) AggregatedSummary() map[string]types.AggregatedViolation {
	p.mu.Lock()
	defer p.mu.Unlock()

	out := make(map[string]types.AggregatedViolation, len(p.aggregated))
	for key, agg := range p.aggregated {
		out[key.directive+"|"+key.blockedURI] = *agg
	}
	return out
}

// Alerts snapshots the bounded alert history.
func (p *ViolationPipeline) Alerts() []types.SecurityAlert {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]types.SecurityAlert, len(p.alerts))
	copy(out, p.alerts)
	return out
}

// MetricsSnapshot reports totals by hour bucket and source file.
func (p *ViolationPipeline) MetricsSnapshot() (byHour [24]int, bySource map[string]int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	byHour = p.byHour
	bySource = make(map[string]int, len(p.bySource))
	for k, v := range p.bySource {
		bySource[k] = v
	}
	return byHour, bySource
}

// Recompute prunes the rolling ingest window. Called from the periodic
// metrics tick so quiet periods still age out old entries.
func (p *ViolationPipeline) Recompute() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.pruneIngestLogLocked(p.timeProvider())
}

// Clear drops queue, aggregation, metrics and alert history.
func (p *ViolationPipeline) Clear() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.queue = nil
	p.aggregated = make(map[aggKey]*types.AggregatedViolation)
	p.ingestLog = nil
	p.alerts = nil
	p.byHour = [24]int{}
	p.bySource = make(map[string]int)
	infraprometheus.PendingReports.Set(0)
}

func directiveMatches(directive, critical string) bool {
	return directive == critical ||
		len(directive) > len(critical) && directive[:len(critical)] == critical
}
