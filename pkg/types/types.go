package types

import (
	"time"
)

// Severity classifies how dangerous a detected threat is.
type Severity string

const (
	SeverityLow      Severity = "low"
	SeverityMedium   Severity = "medium"
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"
)

// ThreatKind identifies the class of a detected threat.
type ThreatKind string

const (
	ThreatBlockedPattern    ThreatKind = "blocked_pattern"
	ThreatRateLimitExceeded ThreatKind = "rate_limit_exceeded"
	ThreatScriptInjection   ThreatKind = "script_injection"
	ThreatProtocolAbuse     ThreatKind = "protocol_abuse"
	ThreatXSSAttempt        ThreatKind = "xss_attempt"
	ThreatSQLInjection      ThreatKind = "sql_injection"
	ThreatBruteForce        ThreatKind = "brute_force"
	ThreatAuthFailure       ThreatKind = "auth_failure"
	ThreatDataExfiltration  ThreatKind = "data_exfiltration"
	ThreatSuspiciousLogin   ThreatKind = "suspicious_login"
	ThreatCSPViolation      ThreatKind = "csp_violation"
	ThreatMalformedInput    ThreatKind = "malformed_input"
)

// ThreatEvent is an immutable record of a detected suspicious input or
// action. Construct it once and treat it as read-only afterwards; the
// ledger, scorer and alert payloads all share the same instance.
type ThreatEvent struct {
	ID        string                 `json:"id"`
	Type      ThreatKind             `json:"type"`
	Severity  Severity               `json:"severity"`
	Timestamp time.Time              `json:"timestamp"`
	Source    string                 `json:"source,omitempty"`
	Details   map[string]interface{} `json:"details,omitempty"`
	RiskScore int                    `json:"risk_score"`
}

// ValidationResult is the aggregate outcome of one Validate call.
type ValidationResult struct {
	IsValid        bool          `json:"is_valid"`
	Errors         []string      `json:"errors,omitempty"`
	SanitizedValue string        `json:"sanitized_value,omitempty"`
	Threats        []ThreatEvent `json:"threats,omitempty"`
}

// CSPViolation is a single raw browser violation report.
type CSPViolation struct {
	DocumentURI       string    `json:"document-uri"`
	BlockedURI        string    `json:"blocked-uri"`
	ViolatedDirective string    `json:"violated-directive"`
	OriginalPolicy    string    `json:"original-policy,omitempty"`
	SourceFile        string    `json:"source-file,omitempty"`
	LineNumber        int       `json:"line-number,omitempty"`
	ColumnNumber      int       `json:"column-number,omitempty"`
	ScriptSample      string    `json:"script-sample,omitempty"`
	Timestamp         time.Time `json:"timestamp"`
	UserAgent         string    `json:"user-agent,omitempty"`
}

// AggregatedViolation rolls up repeated violations sharing the same
// directive and blocked resource.
type AggregatedViolation struct {
	ViolatedDirective string    `json:"violated_directive"`
	BlockedURI        string    `json:"blocked_uri"`
	Count             int       `json:"count"`
	FirstSeen         time.Time `json:"first_seen"`
	LastSeen          time.Time `json:"last_seen"`
	Sources           []string  `json:"sources,omitempty"`
	UserAgents        []string  `json:"user_agents,omitempty"`
	Samples           []string  `json:"samples,omitempty"`
}

// AlertType distinguishes how a SecurityAlert was derived.
type AlertType string

const (
	AlertThreshold AlertType = "threshold"
	AlertCritical  AlertType = "critical"
	AlertAnomaly   AlertType = "anomaly"
)

// SecurityAlert is an ephemeral, derived notification appended to a
// bounded alert history.
type SecurityAlert struct {
	ID        string                 `json:"id"`
	Type      AlertType              `json:"type"`
	Severity  Severity               `json:"severity"`
	Message   string                 `json:"message"`
	Data      map[string]interface{} `json:"data,omitempty"`
	Timestamp time.Time              `json:"timestamp"`
}

// NodeDescriptor describes a DOM node the host asks the engine to scan.
// The engine never touches the DOM itself; the host extracts the pieces.
type NodeDescriptor struct {
	TagName    string            `json:"tag_name"`
	Attributes map[string]string `json:"attributes,omitempty"`
	InnerText  string            `json:"inner_text,omitempty"`
}

// SeverityRank orders severities for monotonic escalation checks.
func SeverityRank(s Severity) int {
	switch s {
	case SeverityCritical:
		return 4
	case SeverityHigh:
		return 3
	case SeverityMedium:
		return 2
	case SeverityLow:
		return 1
	default:
		return 0
	}
}

// MaxSeverity returns the higher-ranked of two severities.
func MaxSeverity(a, b Severity) Severity {
	if SeverityRank(b) > SeverityRank(a) {
		return b
	}
	return a
}
