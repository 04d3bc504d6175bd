package manager

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/editguard/editguard/pkg/classifier"
	"github.com/editguard/editguard/pkg/config"
	"github.com/editguard/editguard/pkg/csp"
	"github.com/editguard/editguard/pkg/events"
	"github.com/editguard/editguard/pkg/infra/httpx"
	infraprometheus "github.com/editguard/editguard/pkg/infra/prometheus"
	"github.com/editguard/editguard/pkg/ledger"
	"github.com/editguard/editguard/pkg/ratelimit"
	"github.com/editguard/editguard/pkg/risk"
	"github.com/editguard/editguard/pkg/types"
	"github.com/editguard/editguard/pkg/validation"
)

const recomputeInterval = time.Minute

// Deps are the external collaborators the host wires in. Every field is
// optional: missing pieces get safe in-process defaults.
type Deps struct {
	Logger          *logrus.Logger
	Bus             events.Bus
	Sanitizer       validation.Sanitizer
	CustomSanitizer validation.CustomSanitizer
	PolicySink      csp.PolicySink
	ReportSender    csp.ReportSender
	Intel           risk.IntelLookup
	CounterStore    ratelimit.CounterStore
}

// SecurityManager is the explicitly constructed engine root. One
// instance per hosting application; no hidden global state.
type SecurityManager struct {
	logger   *logrus.Logger
	cfg      *config.Config
	bus      events.Bus
	ownsBus  bool
	cls      *classifier.Classifier
	gate     *validation.Gate
	limiter  *ratelimit.Limiter
	ledger   *ledger.Ledger
	scorer   *risk.Scorer
	policy   *csp.PolicyEngine
	guard    *csp.HeaderGuard
	pipeline *csp.ViolationPipeline

	cancel  context.CancelFunc
	wg      sync.WaitGroup
	started atomic.Bool
	stopped atomic.Bool
}

// New wires the full engine from cfg and deps.
func New(cfg *config.Config, deps Deps) *SecurityManager {
	if cfg == nil {
		cfg = config.DefaultConfig()
	}
	logger := deps.Logger
	if logger == nil {
		logger = logrus.New()
	}

	bus := deps.Bus
	ownsBus := false
	if bus == nil {
		bus = events.NewMemoryBus(logger, 2)
		ownsBus = true
	}

	sink := deps.PolicySink
	if sink == nil {
		sink = noopSink{}
	}
	sender := deps.ReportSender
	if sender == nil {
		sender = httpx.NewReportClient(cfg.Reporting.Endpoint, logger, nil)
	}

	cls := classifier.New(cfg.ThreatDetection.SuspiciousPatterns, logger)
	threatLedger := ledger.NewLedger(cfg.ThreatDetection, bus, logger, nil)

	m := &SecurityManager{
		logger:  logger,
		cfg:     cfg,
		bus:     bus,
		ownsBus: ownsBus,
		cls:     cls,
		gate: validation.NewGate(cfg, cls, logger, &validation.GateOpts{
			Sanitizer:       deps.Sanitizer,
			CustomSanitizer: deps.CustomSanitizer,
		}),
		limiter: ratelimit.NewLimiter(cfg.RateLimit, logger, &ratelimit.LimiterOpts{
			Store: deps.CounterStore,
			Sink:  threatLedger,
		}),
		ledger:   threatLedger,
		scorer:   risk.NewScorer(cfg.ThreatDetection, deps.Intel, logger, nil),
		policy:   csp.NewPolicyEngine(cfg.CSP, sink, bus, logger, nil),
		guard:    csp.NewHeaderGuard(logger),
		pipeline: csp.NewViolationPipeline(cfg.Reporting, sender, bus, logger, nil),
	}
	m.policy.Initialize()
	return m
}

// Start launches the rotation, flush and metrics-recompute tickers.
// They stop when Shutdown runs or ctx is canceled.
func (m *SecurityManager) Start(ctx context.Context) {
	if !m.started.CompareAndSwap(false, true) {
		return
	}
	tickCtx, cancel := context.WithCancel(ctx)
	m.cancel = cancel

	if m.cfg.CSP.Enabled && m.cfg.CSP.UseNonces {
		m.runTicker(tickCtx, m.cfg.CSP.RotateEvery, func(c context.Context) {
			if err := m.policy.RotateNonces(c); err != nil {
				m.logger.WithError(err).Error("nonce rotation failed")
			}
		})
	}
	m.runTicker(tickCtx, m.cfg.Reporting.FlushInterval, func(c context.Context) {
		// Flush errors are handled inside the pipeline (re-queue plus
		// breaker); nothing to surface here.
		_ = m.pipeline.Flush(c)
	})
	m.runTicker(tickCtx, recomputeInterval, func(context.Context) {
		m.pipeline.Recompute()
	})
}

func (m *SecurityManager) runTicker(ctx context.Context, every time.Duration, fn func(context.Context)) {
	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		ticker := time.NewTicker(every)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				fn(ctx)
			case <-ctx.Done():
				return
			}
		}
	}()
}

// Shutdown cancels the timers, tears down the policy engine and stops
// the bus if the manager created it. Safe to call once.
func (m *SecurityManager) Shutdown() {
	if !m.stopped.CompareAndSwap(false, true) {
		return
	}
	if m.cancel != nil {
		m.cancel()
	}
	m.wg.Wait()
	m.policy.Teardown()
	if m.ownsBus {
		m.bus.Shutdown()
	}
	m.logger.Info("security manager stopped")
}

// ValidateInput is the main ingress: rate limit the actor, validate and
// sanitize the input, record detected threats with their risk scores.
func (m *SecurityManager) ValidateInput(ctx context.Context, input, actorID, field string) types.ValidationResult {
	if actorID != "" && !m.limiter.Allow(ctx, actorID) {
		infraprometheus.ValidationsTotal.WithLabelValues("invalid").Inc()
		return types.ValidationResult{
			IsValid: false,
			Errors:  []string{"Rate limit exceeded"},
		}
	}

	result := m.gate.Validate(input, field)

	for i := range result.Threats {
		result.Threats[i].Source = actorID
		result.Threats[i].RiskScore = m.scorer.Score(ctx, result.Threats[i])
		m.ledger.Report(ctx, result.Threats[i])
	}

	outcome := "valid"
	if !result.IsValid {
		outcome = "invalid"
	}
	infraprometheus.ValidationsTotal.WithLabelValues(outcome).Inc()
	return result
}

// ScanAddedNode screens a host-described DOM node: tag name, attribute
// values and inline text all run through the classifier.
func (m *SecurityManager) ScanAddedNode(ctx context.Context, node types.NodeDescriptor) []types.ThreatEvent {
	var parts []string
	parts = append(parts, "<"+node.TagName+">")
	for name, value := range node.Attributes {
		parts = append(parts, name+"="+value)
	}
	parts = append(parts, node.InnerText)

	var threats []types.ThreatEvent
	for _, part := range parts {
		for _, match := range m.cls.Classify(part) {
			sample := ""
			if len(match.Matches) > 0 {
				sample = match.Matches[0]
			}
			evt := types.ThreatEvent{
				Type:      types.ThreatScriptInjection,
				Severity:  m.cls.SeverityOf(match.Pattern, sample),
				Timestamp: time.Now(),
				Details: map[string]interface{}{
					"category": match.Category,
					"tag":      node.TagName,
					"matches":  match.Matches,
				},
			}
			evt.RiskScore = m.scorer.Score(ctx, evt)
			m.ledger.Report(ctx, evt)
			threats = append(threats, evt)
		}
	}
	return threats
}

// ApplySessionPolicy compiles and installs the CSP for a session.
func (m *SecurityManager) ApplySessionPolicy(ctx context.Context, sessionID string) error {
	return m.policy.ApplyPolicy(ctx, sessionID)
}

// ConfigureDirective screens untrusted directive tokens through the
// header guard before they reach the policy engine, then publishes the
// configuration change.
func (m *SecurityManager) ConfigureDirective(ctx context.Context, directive string, values ...string) {
	sanitized := make([]string, 0, len(values))
	for _, v := range values {
		vr := m.guard.ValidateValue(directive, v)
		sanitized = append(sanitized, vr.SanitizedValue)
	}
	m.policy.SetDirective(directive, sanitized)
	m.bus.Publish(ctx, events.Event{
		Name: events.ConfigUpdated,
		Data: map[string]interface{}{"directive": directive, "values": sanitized},
	})
}

// IngestViolationReport feeds a raw browser report body to the pipeline.
func (m *SecurityManager) IngestViolationReport(ctx context.Context, body []byte, userAgent string) error {
	return m.pipeline.IngestReport(ctx, body, userAgent)
}

// ReportViolation feeds an already-decoded violation to the pipeline.
func (m *SecurityManager) ReportViolation(ctx context.Context, violation types.CSPViolation) {
	m.pipeline.Ingest(ctx, violation)
}

// AuditPolicy scores an arbitrary policy string.
func (m *SecurityManager) AuditPolicy(raw string) csp.HeaderResult {
	return m.guard.ValidateHeader(raw)
}

// ThreatHistory exposes the ledger; empty source means all sources.
func (m *SecurityManager) ThreatHistory(source string) []types.ThreatEvent {
	return m.ledger.History(source)
}

// Score exposes the risk scorer for host-originated events.
func (m *SecurityManager) Score(ctx context.Context, evt types.ThreatEvent) int {
	return m.scorer.Score(ctx, evt)
}

// AnalyzeLogin exposes the login-anomaly heuristics.
func (m *SecurityManager) AnalyzeLogin(attempt risk.LoginAttempt) []string {
	return m.scorer.AnalyzeLogin(attempt)
}

// PolicyEngine exposes the CSP engine for hash registration and manual
// rotation.
func (m *SecurityManager) PolicyEngine() *csp.PolicyEngine {
	return m.policy
}

// Pipeline exposes the violation pipeline for inspection.
func (m *SecurityManager) Pipeline() *csp.ViolationPipeline {
	return m.pipeline
}

type noopSink struct{}

func (noopSink) ApplyPolicy(string, bool) error { return nil }
func (noopSink) RemovePolicy() error            { return nil }
