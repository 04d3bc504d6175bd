package csp

import (
	"net"
	"regexp"
	"strings"

	"github.com/sirupsen/logrus"

	"github.com/editguard/editguard/pkg/types"
)

// ValueResult is the outcome of validating one untrusted directive value.
type ValueResult struct {
	IsSafe         bool
	Threats        []string
	ThreatLevel    types.Severity
	SanitizedValue string
}

// HeaderResult is the outcome of auditing a full policy string.
type HeaderResult struct {
	IsValid         bool
	SecurityRating  string // secure, weak or vulnerable
	Score           int
	Errors          []string
	Warnings        []string
	Recommendations []string
}

// Security score deductions and rating bands.
const (
	deductUnsafeEval       = 30
	deductUnsafeInline     = 25
	deductObjectSrcMissing = 15
	deductBaseURIMissing   = 20

	RatingSecure     = "secure"
	RatingWeak       = "weak"
	RatingVulnerable = "vulnerable"
)

var (
	controlCharPattern = regexp.MustCompile("[\x00-\x08\x0a-\x1f\x7f]")

	// The eval alternative must not fire on the 'unsafe-eval' keyword
	// itself; that is a score deduction, not a value threat.
	bypassKeywordPattern = regexp.MustCompile(`(?i)(?:^|[^\w-])eval\b|\bFunction\s*\(|document\s*\.\s*write|innerHTML|srcdoc|javascript:|vbscript:|data:text/html`)

	// The TLD must end the label: anything but a domain character (or end
	// of value) may follow, so ports, paths, query strings and injected
	// bytes all count.
	badTLDPattern = regexp.MustCompile(`(?i)\.(?:tk|ml|ga|cf|gq|zip|country)(?:[^\w.-]|$)`)

	punycodePattern = regexp.MustCompile(`(?i)(?:^|\.)xn--`)

	protocolConfusionPattern = regexp.MustCompile(`(?i)wss?://[^\s]*https?:|["'][^"']*(?:javascript|vbscript|data):|data:[^,]*(?:javascript|ecmascript|html)`)

	whitespaceRun = regexp.MustCompile(`\s+`)
)

// HeaderGuard screens directive values that originate from untrusted
// configuration before they reach the policy engine.
type HeaderGuard struct {
	logger *logrus.Logger
}

func NewHeaderGuard(logger *logrus.Logger) *HeaderGuard {
	return &HeaderGuard{logger: logger}
}

// ValidateValue scans one directive value for header injection, bypass
// keywords, suspicious domains and protocol confusion. The threat level
// escalates monotonically: once elevated it never decreases. When the
// value is unsafe the sanitized form strips the dangerous substrings; if
// stripping empties the value it falls back to 'none' so a directive can
// never end up silently permissive.
func (g *HeaderGuard) ValidateValue(directive, value string) ValueResult {
	result := ValueResult{
		IsSafe:         true,
		ThreatLevel:    types.SeverityLow,
		SanitizedValue: value,
	}

	escalate := func(threat string, level types.Severity) {
		result.IsSafe = false
		result.Threats = append(result.Threats, threat)
		result.ThreatLevel = types.MaxSeverity(result.ThreatLevel, level)
	}

	if controlCharPattern.MatchString(value) || strings.ContainsAny(value, "\r\n\x00") {
		escalate("header_injection", types.SeverityCritical)
	}
	if bypassKeywordPattern.MatchString(value) {
		escalate("csp_bypass_keyword", types.SeverityHigh)
	}
	if protocolConfusionPattern.MatchString(value) {
		escalate("protocol_confusion", types.SeverityHigh)
	}
	if g.suspiciousDomain(value) {
		escalate("suspicious_domain", types.SeverityMedium)
	}

	if !result.IsSafe {
		sanitized := controlCharPattern.ReplaceAllString(value, "")
		sanitized = bypassKeywordPattern.ReplaceAllString(sanitized, "")
		sanitized = protocolConfusionPattern.ReplaceAllString(sanitized, "")
		sanitized = whitespaceRun.ReplaceAllString(strings.TrimSpace(sanitized), " ")
		if sanitized == "" {
			sanitized = "'none'"
		}
		result.SanitizedValue = sanitized

		g.logger.WithFields(logrus.Fields{
			"directive": directive,
			"threats":   result.Threats,
			"level":     result.ThreatLevel,
		}).Warn("unsafe CSP directive value")
	}
	return result
}

func (g *HeaderGuard) suspiciousDomain(value string) bool {
	if badTLDPattern.MatchString(value) || punycodePattern.MatchString(value) {
		return true
	}
	// Bare IP literals in a source expression are a common exfil setup.
	host := value
	host = strings.TrimPrefix(host, "https://")
	host = strings.TrimPrefix(host, "http://")
	host = strings.TrimPrefix(host, "ws://")
	host = strings.TrimPrefix(host, "wss://")
	if i := strings.IndexAny(host, ":/"); i >= 0 {
		host = host[:i]
	}
	return net.ParseIP(host) != nil
}

// ValidateHeader parses a full semicolon-delimited policy, screens every
// token through ValidateValue, applies directive-specific rules and
// computes a 0-100 security score.
func (g *HeaderGuard) ValidateHeader(raw string) HeaderResult {
	result := HeaderResult{IsValid: true, Score: 100}

	directives := make(map[string][]string)
	for _, segment := range strings.Split(raw, ";") {
		segment = strings.TrimSpace(segment)
		if segment == "" {
			continue
		}
		fields := strings.Fields(segment)
		name := strings.ToLower(fields[0])
		values := fields[1:]

		if !IsKnownDirective(name) {
			result.Warnings = append(result.Warnings, "unknown directive: "+name)
			continue
		}
		directives[name] = values

		for _, v := range values {
			vr := g.ValidateValue(name, v)
			if !vr.IsSafe {
				result.IsValid = false
				for _, t := range vr.Threats {
					result.Errors = append(result.Errors, name+": "+t)
				}
			}
		}
	}

	scriptSrc := directives["script-src"]
	if containsToken(scriptSrc, "'unsafe-eval'") {
		result.Score -= deductUnsafeEval
		result.Recommendations = append(result.Recommendations,
			"remove 'unsafe-eval' from script-src")
	}
	if containsToken(scriptSrc, "'unsafe-inline'") && !containsToken(scriptSrc, "'strict-dynamic'") {
		result.Score -= deductUnsafeInline
		result.Recommendations = append(result.Recommendations,
			"replace 'unsafe-inline' with nonces or hashes")
	}

	objectSrc, hasObjectSrc := directives["object-src"]
	if !hasObjectSrc || !containsToken(objectSrc, "'none'") {
		result.Score -= deductObjectSrcMissing
		result.Recommendations = append(result.Recommendations,
			"set object-src 'none'")
	}

	baseURI, hasBaseURI := directives["base-uri"]
	if !hasBaseURI || len(baseURI) == 0 {
		result.Score -= deductBaseURIMissing
		result.Recommendations = append(result.Recommendations,
			"set base-uri to 'self' or 'none'")
	} else if containsToken(baseURI, "'unsafe-inline'") {
		result.IsValid = false
		result.Errors = append(result.Errors, "base-uri must not be 'unsafe-inline'")
	}

	if _, ok := directives["default-src"]; !ok {
		result.Warnings = append(result.Warnings, "missing default-src fallback")
	}

	if result.Score < 0 {
		result.Score = 0
	}
	switch {
	case result.Score >= 80:
		result.SecurityRating = RatingSecure
	case result.Score >= 50:
		result.SecurityRating = RatingWeak
	default:
		result.SecurityRating = RatingVulnerable
	}
	return result
}

func containsToken(tokens []string, target string) bool {
	for _, t := range tokens {
		if strings.EqualFold(t, target) {
			return true
		}
	}
	return false
}
