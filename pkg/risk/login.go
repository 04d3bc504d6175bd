package risk

import (
	"time"
)

// LoginAttempt describes one authentication attempt observed by the host.
type LoginAttempt struct {
	Source    string
	Timestamp time.Time
	Location  string
	UserAgent string
	Success   bool
}

// Risk factor names returned by AnalyzeLogin.
const (
	FactorUnusualHour     = "unusual_hour"
	FactorNewLocation     = "new_location"
	FactorNewUserAgent    = "new_user_agent"
	FactorSuspiciousActor = "suspicious_actor"
	FactorRepeatedFailure = "repeated_failure"
)

// failureBurst marks the consecutive-failure count treated as a
// brute-force signal.
const failureBurst = 5

type loginProfile struct {
	locations    map[string]struct{}
	userAgents   map[string]struct{}
	failureCount int
	seeded       bool
}

// AnalyzeLogin compares attempt against the actor's accumulated login
// profile and returns the risk factors it trips. Heuristics contribute
// to this list, never to the numeric score. The first observation seeds
// the profile without flagging anything.
func (s *Scorer) AnalyzeLogin(attempt LoginAttempt) []string {
	var factors []string

	hour := attempt.Timestamp.Hour()
	if hour >= 0 && hour < 6 {
		factors = append(factors, FactorUnusualHour)
	}

	s.mu.Lock()
	profile, ok := s.profiles[attempt.Source]
	if !ok {
		profile = &loginProfile{
			locations:  make(map[string]struct{}),
			userAgents: make(map[string]struct{}),
		}
		s.profiles[attempt.Source] = profile
	}

	if profile.seeded {
		if attempt.Location != "" {
			if _, known := profile.locations[attempt.Location]; !known {
				factors = append(factors, FactorNewLocation)
			}
		}
		if attempt.UserAgent != "" {
			if _, known := profile.userAgents[attempt.UserAgent]; !known {
				factors = append(factors, FactorNewUserAgent)
			}
		}
	}
	if attempt.Location != "" {
		profile.locations[attempt.Location] = struct{}{}
	}
	if attempt.UserAgent != "" {
		profile.userAgents[attempt.UserAgent] = struct{}{}
	}
	profile.seeded = true

	if attempt.Success {
		profile.failureCount = 0
	} else {
		profile.failureCount++
		if profile.failureCount >= failureBurst {
			factors = append(factors, FactorRepeatedFailure)
		}
	}

	_, suspicious := s.suspicious[attempt.Source]
	s.mu.Unlock()

	if suspicious {
		factors = append(factors, FactorSuspiciousActor)
	}
	return factors
}
