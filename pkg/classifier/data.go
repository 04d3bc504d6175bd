package classifier

import "regexp"

// Category names are human readable and surface in threat details and
// logs; keep them stable.
const (
	CategoryScriptTag      = "script_tag"
	CategoryEventHandler   = "event_handler"
	CategoryProtocolAbuse  = "protocol_abuse"
	CategoryCookieAccess   = "cookie_access"
	CategoryStringEval     = "string_eval"
	CategoryCSSExpression  = "css_expression"
	CategoryStyleImport    = "style_import"
	CategoryEmbeddedObject = "embedded_object"
	CategorySQLInjection   = "sql_injection"
	CategoryPathTraversal  = "path_traversal"
)

type patternEntry struct {
	category string
	pattern  *regexp.Regexp
}

// defaultPatterns is the ordered built-in detection table. Order matters
// only for reporting: earlier entries win when several match.
var defaultPatterns = []patternEntry{
	{CategoryScriptTag, regexp.MustCompile(`(?i)<[^>]*script[^>]*>|</script\s*>`)},
	{CategoryEventHandler, regexp.MustCompile(`(?i)\bon\w+\s*=\s*["']?[^"'>\s]+`)},
	{CategoryProtocolAbuse, regexp.MustCompile(`(?i)(?:javascript|vbscript):|data:text/(?:html|javascript)`)},
	{CategoryCookieAccess, regexp.MustCompile(`(?i)document\s*\.\s*cookie`)},
	{CategoryStringEval, regexp.MustCompile(`(?i)\b(?:eval|setTimeout|setInterval|Function)\s*\(\s*["'` + "`" + `]`)},
	{CategoryCSSExpression, regexp.MustCompile(`(?i)expression\s*\(`)},
	{CategoryStyleImport, regexp.MustCompile(`(?i)@import\s+(?:url\s*\()?["']?`)},
	{CategoryEmbeddedObject, regexp.MustCompile(`(?i)<[^>]*(?:iframe|object|embed|applet)[^>]*>`)},
	{CategorySQLInjection, regexp.MustCompile(`(?i)(` +
		`['"]\s*OR\s*['"]?\d+['"]?\s*=\s*['"]?\d+|` +
		`UNION\s+(?:ALL\s+)?SELECT\s+|` +
		`\b(?:DROP|DELETE|TRUNCATE)\s+(?:TABLE|DATABASE|SCHEMA)\s+\w+|` +
		`(?:SLEEP|BENCHMARK|WAITFOR\s+DELAY)\s*\(|` +
		`['";]\s*;\s*(?:INSERT|UPDATE|DELETE|DROP|ALTER)\s` +
		`)`)},
	{CategoryPathTraversal, regexp.MustCompile(`(?i)\.\.\/|\.\.\\|%2e%2e%2f`)},
}

// Keyword tables driving SeverityOf. A pattern whose source mentions any
// high keyword is high severity regardless of the sample; medium keywords
// cover handler, CSS-expression and @import vectors. The haystack is
// lowercased before matching, so every entry must be lowercase.
var (
	highSeverityKeywords = []string{
		"script",
		"javascript:",
		"vbscript:",
		"document.cookie",
		"eval(",
		"settimeout(",
		"setinterval(",
	}
	mediumSeverityKeywords = []string{
		"on\\w+",
		"onerror",
		"onload",
		"expression(",
		"@import",
	}
)
