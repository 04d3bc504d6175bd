package manager_test

import (
	"context"
	"io"
	"sync"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/editguard/editguard/pkg/config"
	"github.com/editguard/editguard/pkg/csp"
	"github.com/editguard/editguard/pkg/events"
	"github.com/editguard/editguard/pkg/manager"
	"github.com/editguard/editguard/pkg/types"
)

func testLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	return logger
}

// syncBus delivers events inline so tests can assert without sleeping.
type syncBus struct {
	mu     sync.Mutex
	events []events.Event
}

func (b *syncBus) Publish(_ context.Context, evt events.Event) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.events = append(b.events, evt)
}

func (b *syncBus) Subscribe(string, events.Handler) {}
func (b *syncBus) Shutdown()                        {}

func (b *syncBus) named(name string) []events.Event {
	b.mu.Lock()
	defer b.mu.Unlock()
	var out []events.Event
	for _, evt := range b.events {
		if evt.Name == name {
			out = append(out, evt)
		}
	}
	return out
}

type recordingSink struct {
	mu      sync.Mutex
	applied []string
}

func (s *recordingSink) ApplyPolicy(policy string, _ bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.applied = append(s.applied, policy)
	return nil
}

func (s *recordingSink) RemovePolicy() error { return nil }

func (s *recordingSink) last() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.applied) == 0 {
		return ""
	}
	return s.applied[len(s.applied)-1]
}

type nopSender struct{}

func (nopSender) Send(context.Context, []types.CSPViolation, map[string]interface{}) error {
	return nil
}

func newManager(cfg *config.Config, bus events.Bus, sink csp.PolicySink) *manager.SecurityManager {
	return manager.New(cfg, manager.Deps{
		Logger:       testLogger(),
		Bus:          bus,
		PolicySink:   sink,
		ReportSender: nopSender{},
	})
}

func TestValidateInput_CleanInput(t *testing.T) {
	m := newManager(config.DefaultConfig(), &syncBus{}, &recordingSink{})
	defer m.Shutdown()

	result := m.ValidateInput(context.Background(), "a perfectly ordinary comment", "user-1", "body")

	assert.True(t, result.IsValid)
	assert.Empty(t, result.Threats)
}

func TestValidateInput_ScriptPayloadRecorded(t *testing.T) {
	bus := &syncBus{}
	m := newManager(config.DefaultConfig(), bus, &recordingSink{})
	defer m.Shutdown()

	result := m.ValidateInput(context.Background(), "<script>alert(1)</script>", "attacker", "body")

	assert.False(t, result.IsValid)
	require.NotEmpty(t, result.Threats)
	for _, threat := range result.Threats {
		assert.Equal(t, "attacker", threat.Source)
		assert.Positive(t, threat.RiskScore)
	}

	history := m.ThreatHistory("attacker")
	assert.Len(t, history, len(result.Threats))
	assert.NotEmpty(t, bus.named(events.ThreatDetected))
}

func TestValidateInput_RateLimitDenial(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.RateLimit.MaxRequests = 2
	bus := &syncBus{}
	m := newManager(cfg, bus, &recordingSink{})
	defer m.Shutdown()
	ctx := context.Background()

	require.True(t, m.ValidateInput(ctx, "one", "user-1", "").IsValid)
	require.True(t, m.ValidateInput(ctx, "two", "user-1", "").IsValid)

	result := m.ValidateInput(ctx, "three", "user-1", "")
	assert.False(t, result.IsValid)
	assert.Contains(t, result.Errors, "Rate limit exceeded")

	// The denial lands in the ledger as a threat against the actor.
	var found bool
	for _, evt := range m.ThreatHistory("user-1") {
		if evt.Type == types.ThreatRateLimitExceeded {
			found = true
		}
	}
	assert.True(t, found)
}

func TestValidateInput_EmptyActorSkipsRateLimit(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.RateLimit.MaxRequests = 1
	m := newManager(cfg, &syncBus{}, &recordingSink{})
	defer m.Shutdown()
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		assert.True(t, m.ValidateInput(ctx, "anonymous text", "", "").IsValid)
	}
}

func TestScanAddedNode_InlineHandlerDetected(t *testing.T) {
	m := newManager(config.DefaultConfig(), &syncBus{}, &recordingSink{})
	defer m.Shutdown()

	threats := m.ScanAddedNode(context.Background(), types.NodeDescriptor{
		TagName:    "img",
		Attributes: map[string]string{"onerror": "alert(1)", "src": "x"},
	})

	require.NotEmpty(t, threats)
	assert.Equal(t, types.ThreatScriptInjection, threats[0].Type)
	assert.Positive(t, threats[0].RiskScore)
}

func TestScanAddedNode_ScriptTag(t *testing.T) {
	m := newManager(config.DefaultConfig(), &syncBus{}, &recordingSink{})
	defer m.Shutdown()

	threats := m.ScanAddedNode(context.Background(), types.NodeDescriptor{
		TagName:   "script",
		InnerText: "document.cookie",
	})

	assert.NotEmpty(t, threats)
}

func TestScanAddedNode_BenignNode(t *testing.T) {
	m := newManager(config.DefaultConfig(), &syncBus{}, &recordingSink{})
	defer m.Shutdown()

	threats := m.ScanAddedNode(context.Background(), types.NodeDescriptor{
		TagName:    "p",
		Attributes: map[string]string{"class": "paragraph"},
		InnerText:  "plain text content",
	})

	assert.Empty(t, threats)
}

func TestApplySessionPolicy_DeliversToSink(t *testing.T) {
	sink := &recordingSink{}
	m := newManager(config.DefaultConfig(), &syncBus{}, sink)
	defer m.Shutdown()

	require.NoError(t, m.ApplySessionPolicy(context.Background(), "session-1"))

	assert.Contains(t, sink.last(), "default-src 'none'")
	assert.Contains(t, sink.last(), "'nonce-")
}

func TestConfigureDirective_SanitizesAndPublishes(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.CSP.UseNonces = false
	sink := &recordingSink{}
	bus := &syncBus{}
	m := newManager(cfg, bus, sink)
	defer m.Shutdown()
	ctx := context.Background()

	m.ConfigureDirective(ctx, "connect-src", "'self'", "javascript:alert(1)")
	require.NoError(t, m.ApplySessionPolicy(ctx, "s"))

	policy := sink.last()
	assert.Contains(t, policy, "connect-src 'self'")
	assert.NotContains(t, policy, "javascript:")
	assert.Len(t, bus.named(events.ConfigUpdated), 1)
}

func TestIngestViolationReport_FeedsPipeline(t *testing.T) {
	bus := &syncBus{}
	m := newManager(config.DefaultConfig(), bus, &recordingSink{})
	defer m.Shutdown()

	raw := []byte(`{"csp-report": {"violated-directive": "img-src", "blocked-uri": "https://evil.example"}}`)
	require.NoError(t, m.IngestViolationReport(context.Background(), raw, "Mozilla/5.0"))

	summary := m.Pipeline().AggregatedSummary()
	assert.Contains(t, summary, "img-src|https://evil.example")
	assert.Len(t, bus.named(events.CSPViolationReceived), 1)
}

func TestAuditPolicy(t *testing.T) {
	m := newManager(config.DefaultConfig(), &syncBus{}, &recordingSink{})
	defer m.Shutdown()

	result := m.AuditPolicy("script-src 'unsafe-eval' 'unsafe-inline'")

	assert.Equal(t, csp.RatingVulnerable, result.SecurityRating)
}

func TestShutdown_Idempotent(t *testing.T) {
	m := newManager(config.DefaultConfig(), &syncBus{}, &recordingSink{})
	m.Start(context.Background())

	m.Shutdown()
	m.Shutdown()
}
