package risk

import (
	"context"
	"math"
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/editguard/editguard/pkg/config"
	"github.com/editguard/editguard/pkg/types"
)

// IntelLookup is the external threat-intelligence capability. Reputation
// reports the threat level of a source when the feed knows it.
type IntelLookup interface {
	Reputation(ctx context.Context, source string) (types.Severity, bool)
}

// Default weight tables. These are hand-tuned defaults, not calibrated
// constants; override them through ScorerOpts when the host has better
// numbers.
var (
	defaultTypeWeights = map[types.ThreatKind]int{
		types.ThreatDataExfiltration:  100,
		types.ThreatSQLInjection:      90,
		types.ThreatScriptInjection:   85,
		types.ThreatXSSAttempt:        80,
		types.ThreatProtocolAbuse:     75,
		types.ThreatBlockedPattern:    70,
		types.ThreatMalformedInput:    65,
		types.ThreatBruteForce:        60,
		types.ThreatCSPViolation:      50,
		types.ThreatSuspiciousLogin:   50,
		types.ThreatRateLimitExceeded: 40,
		types.ThreatAuthFailure:       10,
	}
	defaultSeverityMultipliers = map[types.Severity]float64{
		types.SeverityLow:      1.0,
		types.SeverityMedium:   1.3,
		types.SeverityHigh:     1.6,
		types.SeverityCritical: 2.0,
	}
	defaultIntelBonus = map[types.Severity]int{
		types.SeverityLow:      5,
		types.SeverityMedium:   15,
		types.SeverityHigh:     30,
		types.SeverityCritical: 50,
	}
	suspiciousActorBonus = 20
	unknownTypeWeight    = 50
)

// Scorer produces a bounded composite risk score per threat event and
// tracks actors that have crossed the high-risk line.
type Scorer struct {
	logger      *logrus.Logger
	intel       IntelLookup
	highRisk    int
	typeWeights map[types.ThreatKind]int
	multipliers map[types.Severity]float64
	intelBonus  map[types.Severity]int

	mu         sync.Mutex
	suspicious map[string]struct{}
	profiles   map[string]*loginProfile
}

// ScorerOpts overrides the default weight tables.
type ScorerOpts struct {
	TypeWeights         map[types.ThreatKind]int
	SeverityMultipliers map[types.Severity]float64
	IntelBonus          map[types.Severity]int
}

func NewScorer(cfg config.ThreatDetectionConfig, intel IntelLookup, logger *logrus.Logger, opts *ScorerOpts) *Scorer {
	s := &Scorer{
		logger:      logger,
		intel:       intel,
		highRisk:    cfg.HighRiskThreshold,
		typeWeights: defaultTypeWeights,
		multipliers: defaultSeverityMultipliers,
		intelBonus:  defaultIntelBonus,
		suspicious:  make(map[string]struct{}),
		profiles:    make(map[string]*loginProfile),
	}
	if opts != nil {
		if opts.TypeWeights != nil {
			s.typeWeights = opts.TypeWeights
		}
		if opts.SeverityMultipliers != nil {
			s.multipliers = opts.SeverityMultipliers
		}
		if opts.IntelBonus != nil {
			s.intelBonus = opts.IntelBonus
		}
	}
	return s
}

// Score computes the composite risk of evt, clamped to [0,100] and
// rounded to the nearest integer. Reaching the high-risk threshold flags
// the actor as suspicious for the remainder of the process lifetime.
func (s *Scorer) Score(ctx context.Context, evt types.ThreatEvent) int {
	weight, ok := s.typeWeights[evt.Type]
	if !ok {
		weight = unknownTypeWeight
	}
	multiplier, ok := s.multipliers[evt.Severity]
	if !ok {
		// Unrecognized severity means malformed input somewhere upstream;
		// treat it as maximally suspicious rather than discounting it.
		multiplier = s.multipliers[types.SeverityCritical]
	}

	score := float64(weight) * multiplier

	if evt.Source != "" {
		if s.intel != nil {
			if level, known := s.intel.Reputation(ctx, evt.Source); known {
				score += float64(s.intelBonus[level])
			}
		}
		if s.IsSuspicious(evt.Source) {
			score += float64(suspiciousActorBonus)
		}
	}

	final := int(math.Round(math.Max(0, math.Min(100, score))))

	if evt.Source != "" && final >= s.highRisk {
		s.mu.Lock()
		_, already := s.suspicious[evt.Source]
		s.suspicious[evt.Source] = struct{}{}
		s.mu.Unlock()
		if !already {
			s.logger.WithFields(logrus.Fields{
				"source": evt.Source,
				"score":  final,
			}).Warn("actor flagged suspicious")
		}
	}
	return final
}

// IsSuspicious reports whether source has previously crossed the
// high-risk threshold.
func (s *Scorer) IsSuspicious(source string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.suspicious[source]
	return ok
}

// Reset forgets all suspicious actors and login profiles.
func (s *Scorer) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.suspicious = make(map[string]struct{})
	s.profiles = make(map[string]*loginProfile)
}
