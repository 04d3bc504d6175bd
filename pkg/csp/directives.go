package csp

// DirectiveSet maps directive names to ordered source-token lists. Flag
// directives (upgrade-insecure-requests) carry a nil list; presence in
// the map means the flag is on.
type DirectiveSet map[string][]string

// directiveOrder fixes the compilation order so a policy compiles to the
// same byte sequence every time.
var directiveOrder = []string{
	"default-src",
	"script-src",
	"script-src-elem",
	"script-src-attr",
	"style-src",
	"style-src-elem",
	"style-src-attr",
	"img-src",
	"font-src",
	"connect-src",
	"media-src",
	"object-src",
	"child-src",
	"frame-src",
	"worker-src",
	"manifest-src",
	"frame-ancestors",
	"base-uri",
	"form-action",
	"sandbox",
	"require-trusted-types-for",
	"trusted-types",
	"upgrade-insecure-requests",
	"block-all-mixed-content",
	"report-to",
	"report-uri",
}

var knownDirectives = func() map[string]struct{} {
	m := make(map[string]struct{}, len(directiveOrder))
	for _, d := range directiveOrder {
		m[d] = struct{}{}
	}
	return m
}()

// flagDirectives take no value tokens.
var flagDirectives = map[string]struct{}{
	"upgrade-insecure-requests": {},
	"block-all-mixed-content":   {},
}

// IsKnownDirective reports whether name is part of the CSP3 directive
// set this engine understands. Unknown directives are warnings, never
// errors.
func IsKnownDirective(name string) bool {
	_, ok := knownDirectives[name]
	return ok
}

// secureDefaults is the deny-by-default policy user configuration is
// merged over.
func secureDefaults() DirectiveSet {
	return DirectiveSet{
		"default-src":               {"'none'"},
		"script-src":                {"'self'"},
		"style-src":                 {"'self'"},
		"img-src":                   {"'self'", "data:"},
		"font-src":                  {"'self'"},
		"connect-src":               {"'self'"},
		"media-src":                 {"'none'"},
		"object-src":                {"'none'"},
		"frame-ancestors":           {"'none'"},
		"base-uri":                  {"'self'"},
		"form-action":               {"'self'"},
		"require-trusted-types-for": {"'script'"},
		"upgrade-insecure-requests": nil,
	}
}

// applyEnvironment relaxes the policy for non-production environments.
// Development permits eval and local websocket origins; test runs
// report-only by default (handled by the engine's enforce flag).
func applyEnvironment(set DirectiveSet, environment string) {
	if environment != "development" {
		return
	}
	set["script-src"] = appendUnique(set["script-src"], "'unsafe-eval'")
	set["connect-src"] = appendUnique(set["connect-src"],
		"ws://localhost:*", "http://localhost:*")
}

func appendUnique(tokens []string, extra ...string) []string {
	seen := make(map[string]struct{}, len(tokens))
	for _, t := range tokens {
		seen[t] = struct{}{}
	}
	for _, e := range extra {
		if _, ok := seen[e]; !ok {
			tokens = append(tokens, e)
			seen[e] = struct{}{}
		}
	}
	return tokens
}

func removeToken(tokens []string, target string) []string {
	out := tokens[:0]
	for _, t := range tokens {
		if t != target {
			out = append(out, t)
		}
	}
	return out
}
