// Package hijack detects session hijack indicators on the refresh path by
// comparing the request's origin fingerprint against the fingerprint recorded
// at login, and decides the response through an OPA Rego policy.
package hijack

import (
	"context"

	"authguard/core/internal/security"
	sessiondomain "authguard/core/internal/session/domain"
)

// Observation is what the detector saw for one refresh attempt, plus the
// policy's decision.
type Observation struct {
	NetworkMismatch bool
	ClientMismatch  bool
	ReuseDetected   bool
	Decision        Decision
}

// Detector evaluates refresh attempts for hijack indicators.
type Detector struct {
	evaluator    *OPAEvaluator
	responseMode string
}

// NewDetector returns a Detector. responseMode is "log" or "revoke" and is
// passed into the policy as input.
func NewDetector(evaluator *OPAEvaluator, responseMode string) *Detector {
	return &Detector{evaluator: evaluator, responseMode: responseMode}
}

// Inspect compares the request fingerprint with the session's stored
// fingerprint and runs the policy. reuseDetected is set by the caller when the
// presented refresh token had already been rotated.
func (d *Detector) Inspect(ctx context.Context, s *sessiondomain.Session, req security.Fingerprint, reuseDetected bool) Observation {
	stored := security.Fingerprint{
		NetworkHash: s.NetworkFingerprint,
		ClientHash:  s.ClientFingerprint,
	}
	obs := Observation{
		NetworkMismatch: security.NetworkMismatch(stored, req),
		ClientMismatch:  security.ClientMismatch(stored, req),
		ReuseDetected:   reuseDetected,
	}
	obs.Decision = d.evaluator.Evaluate(ctx, PolicyInput{
		NetworkMismatch: obs.NetworkMismatch,
		ClientMismatch:  obs.ClientMismatch,
		ReuseDetected:   reuseDetected,
		ResponseMode:    d.responseMode,
	})
	return obs
}

// Anomalous reports whether anything about the attempt deviated from the
// session's recorded origin.
func (o Observation) Anomalous() bool {
	return o.NetworkMismatch || o.ClientMismatch || o.ReuseDetected
}
