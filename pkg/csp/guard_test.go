package csp_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/editguard/editguard/pkg/csp"
	"github.com/editguard/editguard/pkg/types"
)

func TestValidateValue_CleanSource(t *testing.T) {
	guard := csp.NewHeaderGuard(testLogger())

	result := guard.ValidateValue("script-src", "https://cdn.example.com")

	assert.True(t, result.IsSafe)
	assert.Empty(t, result.Threats)
	assert.Equal(t, "https://cdn.example.com", result.SanitizedValue)
}

func TestValidateValue_HeaderInjection(t *testing.T) {
	guard := csp.NewHeaderGuard(testLogger())

	result := guard.ValidateValue("script-src", "'self'\r\nSet-Cookie: pwned=1")

	assert.False(t, result.IsSafe)
	assert.Contains(t, result.Threats, "header_injection")
	assert.Equal(t, types.SeverityCritical, result.ThreatLevel)
	assert.NotContains(t, result.SanitizedValue, "\r")
	assert.NotContains(t, result.SanitizedValue, "\n")
}

func TestValidateValue_BypassKeywords(t *testing.T) {
	guard := csp.NewHeaderGuard(testLogger())

	tests := []struct {
		name  string
		value string
	}{
		{"javascript protocol", "javascript:alert(1)"},
		{"data html", "data:text/html,<script>"},
		{"eval", "eval"},
		{"document write", "document.write"},
		{"srcdoc", "srcdoc"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := guard.ValidateValue("script-src", tt.value)
			assert.False(t, result.IsSafe)
			assert.Contains(t, result.Threats, "csp_bypass_keyword")
		})
	}
}

func TestValidateValue_StrippedEmptyFallsBackToNone(t *testing.T) {
	guard := csp.NewHeaderGuard(testLogger())

	result := guard.ValidateValue("script-src", "javascript:")

	assert.False(t, result.IsSafe)
	assert.Equal(t, "'none'", result.SanitizedValue)
}

func TestValidateValue_SuspiciousDomains(t *testing.T) {
	guard := csp.NewHeaderGuard(testLogger())

	tests := []struct {
		name  string
		value string
	}{
		{"disposable tld", "https://evil.tk"},
		{"disposable tld with port", "https://evil.tk:8443"},
		{"disposable tld with path", "https://evil.tk/payload"},
		{"disposable tld with query", "https://evil.tk?q=1"},
		{"punycode", "https://login.xn--pypal-4ve.com"},
		{"bare ip", "https://203.0.113.7/assets"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := guard.ValidateValue("connect-src", tt.value)
			assert.False(t, result.IsSafe)
			assert.Contains(t, result.Threats, "suspicious_domain")
		})
	}
}

func TestValidateValue_TLDInsideHostnameNotFlagged(t *testing.T) {
	guard := csp.NewHeaderGuard(testLogger())

	for _, value := range []string{
		"https://cdn.tkmaxx.example.com",
		"https://files.tk.example.com/assets",
	} {
		result := guard.ValidateValue("connect-src", value)
		assert.True(t, result.IsSafe, "value %q", value)
	}
}

func TestValidateValue_ThreatLevelEscalatesMonotonically(t *testing.T) {
	guard := csp.NewHeaderGuard(testLogger())

	// Both a critical injection and a medium domain signal: level stays
	// at the maximum observed.
	result := guard.ValidateValue("script-src", "https://evil.tk\r\nX: y")

	assert.Equal(t, types.SeverityCritical, result.ThreatLevel)
	assert.Contains(t, result.Threats, "header_injection")
	assert.Contains(t, result.Threats, "suspicious_domain")
}

func TestValidateHeader_SecurePolicy(t *testing.T) {
	guard := csp.NewHeaderGuard(testLogger())

	result := guard.ValidateHeader(
		"default-src 'none'; script-src 'self'; object-src 'none'; base-uri 'self'")

	assert.True(t, result.IsValid)
	assert.Empty(t, result.Errors)
	assert.Equal(t, 100, result.Score)
	assert.Equal(t, csp.RatingSecure, result.SecurityRating)
}

func TestValidateHeader_CompiledPolicyScoresSecure(t *testing.T) {
	cfg := cspConfig()
	cfg.UseNonces = false
	engine := newEngine(cfg, &recordingSink{})
	policy, err := engine.CompilePolicy("s")
	require.NoError(t, err)

	result := csp.NewHeaderGuard(testLogger()).ValidateHeader(policy)

	assert.True(t, result.IsValid, "errors: %v", result.Errors)
	assert.Equal(t, csp.RatingSecure, result.SecurityRating)
}

func TestValidateHeader_Deductions(t *testing.T) {
	guard := csp.NewHeaderGuard(testLogger())

	tests := []struct {
		name     string
		policy   string
		expected int
	}{
		{
			"unsafe-eval",
			"script-src 'self' 'unsafe-eval'; object-src 'none'; base-uri 'self'",
			70,
		},
		{
			"unsafe-inline without strict-dynamic",
			"script-src 'self' 'unsafe-inline'; object-src 'none'; base-uri 'self'",
			75,
		},
		{
			"missing object-src",
			"script-src 'self'; base-uri 'self'",
			85,
		},
		{
			"missing base-uri",
			"script-src 'self'; object-src 'none'",
			80,
		},
		{
			"everything wrong",
			"script-src 'unsafe-eval' 'unsafe-inline'",
			10,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := guard.ValidateHeader(tt.policy)
			assert.Equal(t, tt.expected, result.Score)
		})
	}
}

func TestValidateHeader_UnsafeInlineWithStrictDynamicNotDeducted(t *testing.T) {
	guard := csp.NewHeaderGuard(testLogger())

	result := guard.ValidateHeader(
		"script-src 'unsafe-inline' 'strict-dynamic'; object-src 'none'; base-uri 'self'")

	assert.Equal(t, 100, result.Score)
}

func TestValidateHeader_RatingBands(t *testing.T) {
	guard := csp.NewHeaderGuard(testLogger())

	weak := guard.ValidateHeader("script-src 'unsafe-eval'; base-uri 'self'")
	assert.Equal(t, csp.RatingWeak, weak.SecurityRating) // 100-30-15 = 55

	vulnerable := guard.ValidateHeader("script-src 'unsafe-eval' 'unsafe-inline'")
	assert.Equal(t, csp.RatingVulnerable, vulnerable.SecurityRating)
}

func TestValidateHeader_BaseURIUnsafeInlineIsError(t *testing.T) {
	guard := csp.NewHeaderGuard(testLogger())

	result := guard.ValidateHeader("base-uri 'unsafe-inline'; object-src 'none'")

	assert.False(t, result.IsValid)
	assert.Contains(t, result.Errors, "base-uri must not be 'unsafe-inline'")
}

func TestValidateHeader_UnknownDirectiveIsWarning(t *testing.T) {
	guard := csp.NewHeaderGuard(testLogger())

	result := guard.ValidateHeader("made-up-src 'self'; object-src 'none'; base-uri 'self'")

	assert.True(t, result.IsValid)
	assert.Contains(t, result.Warnings, "unknown directive: made-up-src")
}

func TestValidateHeader_MissingDefaultSrcWarning(t *testing.T) {
	guard := csp.NewHeaderGuard(testLogger())

	result := guard.ValidateHeader("script-src 'self'; object-src 'none'; base-uri 'self'")

	assert.Contains(t, result.Warnings, "missing default-src fallback")
}

func TestValidateHeader_UnsafeTokenIsError(t *testing.T) {
	guard := csp.NewHeaderGuard(testLogger())

	result := guard.ValidateHeader("script-src javascript:alert(1); object-src 'none'; base-uri 'self'")

	assert.False(t, result.IsValid)
	assert.Contains(t, result.Errors, "script-src: csp_bypass_keyword")
}
