package validation

import (
	"regexp"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/editguard/editguard/pkg/classifier"
	"github.com/editguard/editguard/pkg/config"
	"github.com/editguard/editguard/pkg/types"
)

const (
	// blockedPatternContext bounds the input sample attached to a
	// blocked_pattern threat.
	blockedPatternContext = 100

	errLength          = "Input exceeds maximum length"
	errInvalidChars    = "Input contains invalid characters"
	errBlockedPattern  = "Input contains blocked pattern"
	errThreatsDetected = "Input contains high severity threats"
)

// Gate validates and sanitizes untrusted editor input. It never returns
// an error: malformed input is reported through the ValidationResult, not
// raised (detection paths must not throw).
type Gate struct {
	logger       *logrus.Logger
	classifier   *classifier.Classifier
	sanitizer    Sanitizer
	custom       CustomSanitizer
	inputCfg     config.InputValidationConfig
	xssCfg       config.XSSConfig
	allowedChars *regexp.Regexp
	blocked      []*regexp.Regexp
	timeProvider func() time.Time
}

// GateOpts carries optional collaborators.
type GateOpts struct {
	Sanitizer       Sanitizer
	CustomSanitizer CustomSanitizer
	TimeProvider    func() time.Time
}

// NewGate compiles the configured character class and blocked patterns.
// Bad configuration entries are logged and dropped, never fatal.
func NewGate(cfg *config.Config, cls *classifier.Classifier, logger *logrus.Logger, opts *GateOpts) *Gate {
	g := &Gate{
		logger:       logger,
		classifier:   cls,
		sanitizer:    stripAllSanitizer{},
		inputCfg:     cfg.InputValidation,
		xssCfg:       cfg.XSS,
		timeProvider: time.Now,
	}
	if opts != nil {
		if opts.Sanitizer != nil {
			g.sanitizer = opts.Sanitizer
		}
		g.custom = opts.CustomSanitizer
		if opts.TimeProvider != nil {
			g.timeProvider = opts.TimeProvider
		}
	}

	if cfg.InputValidation.AllowedCharacters != "" {
		re, err := regexp.Compile(cfg.InputValidation.AllowedCharacters)
		if err != nil {
			logger.WithError(err).Warn("invalid allowed_characters pattern, check disabled")
		} else {
			g.allowedChars = re
		}
	}
	for _, raw := range cfg.InputValidation.BlockedPatterns {
		re, err := regexp.Compile(raw)
		if err != nil {
			logger.WithError(err).WithField("pattern", raw).
				Warn("skipping invalid blocked pattern")
			continue
		}
		g.blocked = append(g.blocked, re)
	}
	return g
}

// Validate runs the full check pipeline over input. The validationContext
// tag only annotates threat details (e.g. which editor field produced the
// value); it does not change behavior.
func (g *Gate) Validate(input string, validationContext string) types.ValidationResult {
	if !g.inputCfg.Enabled {
		return types.ValidationResult{IsValid: true, SanitizedValue: input}
	}

	result := types.ValidationResult{IsValid: true, SanitizedValue: input}

	if len(input) > g.inputCfg.MaxLength {
		result.IsValid = false
		result.Errors = append(result.Errors, errLength)
	}

	if g.allowedChars != nil && !g.allowedChars.MatchString(input) {
		result.IsValid = false
		result.Errors = append(result.Errors, errInvalidChars)
	}

	for _, re := range g.blocked {
		if !re.MatchString(input) {
			continue
		}
		result.IsValid = false
		result.Errors = append(result.Errors, errBlockedPattern)
		result.Threats = append(result.Threats, g.newThreat(
			types.ThreatBlockedPattern,
			types.SeverityHigh,
			map[string]interface{}{
				"pattern": re.String(),
				"input":   classifier.Truncate(input, blockedPatternContext),
				"context": validationContext,
			},
		))
	}

	if g.xssCfg.Enabled {
		result.SanitizedValue = g.sanitize(input)
	}

	highOrCritical := false
	for _, match := range g.detectThreats(input, validationContext) {
		if types.SeverityRank(match.Severity) >= types.SeverityRank(types.SeverityHigh) {
			highOrCritical = true
		}
		result.Threats = append(result.Threats, match)
	}
	if highOrCritical {
		if result.IsValid {
			result.Errors = append(result.Errors, errThreatsDetected)
		}
		result.IsValid = false
	}

	return result
}

func (g *Gate) sanitize(input string) string {
	if g.custom != nil {
		out, err := g.custom(input)
		if err != nil {
			g.logger.WithError(err).Error("custom sanitizer failed, stripping markup")
			return StripMarkup(input)
		}
		return out
	}

	opts := optionsForMode(g.xssCfg.Mode, g.xssCfg.AllowedTags, g.xssCfg.AllowedAttributes)
	out, err := g.sanitizer.Sanitize(input, opts)
	if err != nil {
		g.logger.WithError(err).Error("sanitizer failed, stripping markup")
		return StripMarkup(input)
	}
	return out
}

func (g *Gate) detectThreats(input, validationContext string) []types.ThreatEvent {
	var threats []types.ThreatEvent
	for _, match := range g.classifier.Classify(input) {
		sample := ""
		if len(match.Matches) > 0 {
			sample = match.Matches[0]
		}
		severity := g.classifier.SeverityOf(match.Pattern, sample)
		threats = append(threats, g.newThreat(
			kindForCategory(match.Category),
			severity,
			map[string]interface{}{
				"category": match.Category,
				"matches":  match.Matches,
				"context":  validationContext,
			},
		))
	}
	return threats
}

func (g *Gate) newThreat(kind types.ThreatKind, severity types.Severity, details map[string]interface{}) types.ThreatEvent {
	return types.ThreatEvent{
		ID:        uuid.NewString(),
		Type:      kind,
		Severity:  severity,
		Timestamp: g.timeProvider(),
		Details:   details,
	}
}

func kindForCategory(category string) types.ThreatKind {
	switch category {
	case classifier.CategoryScriptTag, classifier.CategoryStringEval:
		return types.ThreatScriptInjection
	case classifier.CategoryProtocolAbuse:
		return types.ThreatProtocolAbuse
	case classifier.CategorySQLInjection:
		return types.ThreatSQLInjection
	case classifier.CategoryEventHandler, classifier.CategoryCSSExpression,
		classifier.CategoryStyleImport, classifier.CategoryEmbeddedObject,
		classifier.CategoryCookieAccess:
		return types.ThreatXSSAttempt
	default:
		return types.ThreatXSSAttempt
	}
}
