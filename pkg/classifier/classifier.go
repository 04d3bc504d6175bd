package classifier

import (
	"regexp"
	"strings"

	"github.com/sirupsen/logrus"

	"github.com/editguard/editguard/pkg/types"
)

const (
	// maxMatchesPerPattern bounds report size under repetitive payloads.
	maxMatchesPerPattern = 5
	// maxMatchContext bounds the length of any captured match sample.
	maxMatchContext = 200
)

// Match is one detection hit: the pattern that fired, its category and a
// bounded list of matching substrings.
type Match struct {
	Pattern  string
	Category string
	Matches  []string
}

// Classifier holds an ordered list of precompiled detection patterns.
// Classification is deterministic and side-effect free so it can be
// tested without any environment state.
type Classifier struct {
	patterns []patternEntry
}

// New builds a classifier from the built-in table plus any extra
// suspicious patterns supplied by configuration. Invalid extra patterns
// are a configuration error: logged and skipped, never fatal.
func New(extraPatterns []string, logger *logrus.Logger) *Classifier {
	patterns := make([]patternEntry, 0, len(defaultPatterns)+len(extraPatterns))
	patterns = append(patterns, defaultPatterns...)
	for _, raw := range extraPatterns {
		re, err := regexp.Compile(raw)
		if err != nil {
			if logger != nil {
				logger.WithError(err).WithField("pattern", raw).
					Warn("skipping invalid suspicious pattern")
			}
			continue
		}
		patterns = append(patterns, patternEntry{category: "custom", pattern: re})
	}
	return &Classifier{patterns: patterns}
}

// Classify runs every pattern over text and returns the hits in table
// order. Matches are capped per pattern and truncated to bound report
// size.
func (c *Classifier) Classify(text string) []Match {
	var result []Match
	for _, entry := range c.patterns {
		found := entry.pattern.FindAllString(text, maxMatchesPerPattern)
		if len(found) == 0 {
			continue
		}
		for i, m := range found {
			found[i] = Truncate(m, maxMatchContext)
		}
		result = append(result, Match{
			Pattern:  entry.pattern.String(),
			Category: entry.category,
			Matches:  found,
		})
	}
	return result
}

// SeverityOf classifies a single pattern hit by keyword: the fixed
// high-severity set wins over the handler/CSS set, anything else is low.
// Both the pattern source and the matched sample are inspected.
func (c *Classifier) SeverityOf(patternSource, inputSample string) types.Severity {
	haystack := strings.ToLower(patternSource) + " " + strings.ToLower(inputSample)
	for _, kw := range highSeverityKeywords {
		if strings.Contains(haystack, kw) {
			return types.SeverityHigh
		}
	}
	for _, kw := range mediumSeverityKeywords {
		if strings.Contains(haystack, kw) {
			return types.SeverityMedium
		}
	}
	return types.SeverityLow
}

// Truncate shortens s to at most n bytes, marking the cut.
func Truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	if n <= 3 {
		return s[:n]
	}
	return s[:n-3] + "..."
}
