package csp

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/editguard/editguard/pkg/config"
	"github.com/editguard/editguard/pkg/events"
	infraprometheus "github.com/editguard/editguard/pkg/infra/prometheus"
)

// PolicySink installs the compiled policy into the hosting environment.
// It is the one browser-specific side effect in this package.
type PolicySink interface {
	ApplyPolicy(policy string, enforce bool) error
	RemovePolicy() error
}

type engineState int

const (
	stateUninitialized engineState = iota
	stateNonceIssued
	stateRotated
	stateDestroyed
)

// PolicyEngine owns the directive model and the nonce/hash lifecycle:
// uninitialized -> nonce-issued -> rotated (loop) -> destroyed.
type PolicyEngine struct {
	logger       *logrus.Logger
	cfg          config.CSPConfig
	bus          events.Bus
	sink         PolicySink
	nonces       *NonceStore
	hashes       *HashStore
	timeProvider func() time.Time

	mu         sync.Mutex
	directives DirectiveSet
	state      engineState
}

// PolicyEngineOpts carries optional collaborators.
type PolicyEngineOpts struct {
	TimeProvider func() time.Time
}

func NewPolicyEngine(cfg config.CSPConfig, sink PolicySink, bus events.Bus, logger *logrus.Logger, opts *PolicyEngineOpts) *PolicyEngine {
	timeProvider := time.Now
	if opts != nil && opts.TimeProvider != nil {
		timeProvider = opts.TimeProvider
	}
	return &PolicyEngine{
		logger:       logger,
		cfg:          cfg,
		bus:          bus,
		sink:         sink,
		nonces:       NewNonceStore(timeProvider),
		hashes:       NewHashStore(),
		timeProvider: timeProvider,
	}
}

// Initialize merges user-configured directives over the secure defaults
// and applies environment relaxations. Unknown directive names are a
// configuration warning, not an error; invalid flag usage falls back to
// the default.
func (e *PolicyEngine) Initialize() {
	e.mu.Lock()
	defer e.mu.Unlock()

	set := secureDefaults()
	for name, tokens := range e.cfg.Directives {
		if !IsKnownDirective(name) {
			e.logger.WithField("directive", name).Warn("unknown CSP directive in configuration")
			continue
		}
		if _, flag := flagDirectives[name]; flag {
			set[name] = nil
			continue
		}
		if len(tokens) == 0 {
			e.logger.WithField("directive", name).Warn("empty directive value, keeping default")
			continue
		}
		set[name] = append([]string(nil), tokens...)
	}
	applyEnvironment(set, e.cfg.Environment)
	e.directives = set
	e.state = stateUninitialized
}

// Enforce reports whether violations block (true) or report-only
// (false). Test environments default to report-only.
func (e *PolicyEngine) Enforce() bool {
	if e.cfg.Environment == "test" {
		return false
	}
	return e.cfg.EnforceMode
}

// CompilePolicy renders the directive set for sessionID as a CSP3
// header value. When nonces are enabled the compiled script-src carries
// 'strict-dynamic' and drops 'unsafe-inline': browsers ignore
// 'unsafe-inline' once a nonce or hash is present, so stripping it keeps
// the policy's apparent and actual behavior identical.
func (e *PolicyEngine) CompilePolicy(sessionID string) (string, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.state == stateDestroyed {
		return "", fmt.Errorf("policy engine is destroyed")
	}
	if e.directives == nil {
		e.directives = secureDefaults()
		applyEnvironment(e.directives, e.cfg.Environment)
	}

	var nonces *SessionNonces
	if e.cfg.UseNonces {
		var err error
		nonces, err = e.nonces.Issue(sessionID)
		if err != nil {
			return "", err
		}
		if e.state == stateUninitialized {
			e.state = stateNonceIssued
		}
	}

	var parts []string
	for _, name := range directiveOrder {
		tokens, present := e.directives[name]
		if !present {
			continue
		}
		if _, flag := flagDirectives[name]; flag {
			parts = append(parts, name)
			continue
		}
		rendered := append([]string(nil), tokens...)
		switch name {
		case "script-src":
			if nonces != nil {
				rendered = removeToken(rendered, "'unsafe-inline'")
				rendered = append(rendered, fmt.Sprintf("'nonce-%s'", nonces.ScriptNonce), "'strict-dynamic'")
			}
			if e.cfg.UseHashes {
				rendered = removeToken(rendered, "'unsafe-inline'")
				for _, d := range e.hashes.Digests(PartitionScripts) {
					rendered = append(rendered, fmt.Sprintf("'sha256-%s'", d))
				}
				for _, d := range e.hashes.Digests(PartitionInlineScripts) {
					rendered = append(rendered, fmt.Sprintf("'sha256-%s'", d))
				}
			}
		case "style-src":
			if nonces != nil {
				rendered = removeToken(rendered, "'unsafe-inline'")
				rendered = append(rendered, fmt.Sprintf("'nonce-%s'", nonces.StyleNonce))
			}
			if e.cfg.UseHashes {
				rendered = removeToken(rendered, "'unsafe-inline'")
				for _, d := range e.hashes.Digests(PartitionStyles) {
					rendered = append(rendered, fmt.Sprintf("'sha256-%s'", d))
				}
				for _, d := range e.hashes.Digests(PartitionInlineStyles) {
					rendered = append(rendered, fmt.Sprintf("'sha256-%s'", d))
				}
			}
		}
		parts = append(parts, name+" "+strings.Join(rendered, " "))
	}

	if e.cfg.ReportURI != "" {
		parts = append(parts, "report-uri "+e.cfg.ReportURI)
	}
	return strings.Join(parts, "; "), nil
}

// ApplyPolicy compiles and delivers the session's policy to the sink.
// Any previously applied policy is removed first so policies never
// stack.
func (e *PolicyEngine) ApplyPolicy(ctx context.Context, sessionID string) error {
	if !e.cfg.Enabled {
		return nil
	}
	policy, err := e.CompilePolicy(sessionID)
	if err != nil {
		return fmt.Errorf("failed to compile policy: %w", err)
	}
	if err := e.sink.RemovePolicy(); err != nil {
		e.logger.WithError(err).Warn("failed to remove previous policy")
	}
	if err := e.sink.ApplyPolicy(policy, e.Enforce()); err != nil {
		return fmt.Errorf("failed to apply policy: %w", err)
	}
	e.logger.WithFields(logrus.Fields{
		"session": sessionID,
		"enforce": e.Enforce(),
	}).Debug("policy applied")
	return nil
}

// RotateNonces invalidates every nonce, clears the store and re-applies
// policy for each session that had one. Rotation bounds the exploitation
// window if a nonce value ever leaks through logs or error messages.
func (e *PolicyEngine) RotateNonces(ctx context.Context) error {
	e.mu.Lock()
	if e.state == stateDestroyed {
		e.mu.Unlock()
		return fmt.Errorf("policy engine is destroyed")
	}
	e.state = stateRotated
	e.mu.Unlock()

	sessions := e.nonces.Sessions()
	e.nonces.InvalidateAll()
	e.nonces.Clear()

	var firstErr error
	for _, sessionID := range sessions {
		if err := e.ApplyPolicy(ctx, sessionID); err != nil {
			e.logger.WithError(err).WithField("session", sessionID).
				Error("failed to re-apply policy after rotation")
			if firstErr == nil {
				firstErr = err
			}
		}
	}

	infraprometheus.NonceRotations.Inc()
	e.bus.Publish(ctx, events.Event{
		Name: events.NoncesRotated,
		Data: map[string]interface{}{"sessions": len(sessions)},
	})
	return firstErr
}

// SetDirective replaces one directive's tokens at runtime. Unknown
// directive names are a configuration warning and leave the policy
// untouched. Callers are expected to screen untrusted tokens through
// HeaderGuard first.
func (e *PolicyEngine) SetDirective(name string, tokens []string) {
	if !IsKnownDirective(name) {
		e.logger.WithField("directive", name).Warn("ignoring unknown CSP directive")
		return
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.directives == nil {
		e.directives = secureDefaults()
		applyEnvironment(e.directives, e.cfg.Environment)
	}
	if _, flag := flagDirectives[name]; flag {
		e.directives[name] = nil
		return
	}
	e.directives[name] = append([]string(nil), tokens...)
}

// AddContentHash digests content into the given partition. Idempotent:
// identical content produces the same digest and the set absorbs it.
func (e *PolicyEngine) AddContentHash(partition HashPartition, content string) (string, error) {
	return e.hashes.Add(partition, content)
}

// Teardown removes the active policy and clears nonce and hash stores.
// The engine is unusable afterwards.
func (e *PolicyEngine) Teardown() {
	e.mu.Lock()
	e.state = stateDestroyed
	e.mu.Unlock()

	if err := e.sink.RemovePolicy(); err != nil {
		e.logger.WithError(err).Warn("failed to remove policy on teardown")
	}
	e.nonces.Clear()
	e.hashes.Clear()
}
