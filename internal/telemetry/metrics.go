// Package telemetry exposes the engine's metric instruments on the
// OpenTelemetry meter API.
package telemetry

import (
	"go.opentelemetry.io/otel/metric"
)

// Metrics holds the engine counters. All instruments are safe for concurrent use.
type Metrics struct {
	LoginSuccess        metric.Int64Counter
	LoginFailure        metric.Int64Counter
	Lockouts            metric.Int64Counter
	RefreshRotations    metric.Int64Counter
	RefreshReuse        metric.Int64Counter
	HijackSuspected     metric.Int64Counter
	SessionsRevoked     metric.Int64Counter
	EventAppendFailures metric.Int64Counter
}

// NewMetrics registers the engine counters on the given meter.
func NewMetrics(meter metric.Meter) (*Metrics, error) {
	m := &Metrics{}
	var err error
	if m.LoginSuccess, err = meter.Int64Counter("authguard.login.success",
		metric.WithDescription("Successful logins")); err != nil {
		return nil, err
	}
	if m.LoginFailure, err = meter.Int64Counter("authguard.login.failure",
		metric.WithDescription("Failed login attempts")); err != nil {
		return nil, err
	}
	if m.Lockouts, err = meter.Int64Counter("authguard.lockouts",
		metric.WithDescription("Account lockouts imposed")); err != nil {
		return nil, err
	}
	if m.RefreshRotations, err = meter.Int64Counter("authguard.refresh.rotations",
		metric.WithDescription("Successful refresh token rotations")); err != nil {
		return nil, err
	}
	if m.RefreshReuse, err = meter.Int64Counter("authguard.refresh.reuse",
		metric.WithDescription("Refresh token reuse detections")); err != nil {
		return nil, err
	}
	if m.HijackSuspected, err = meter.Int64Counter("authguard.hijack.suspected",
		metric.WithDescription("Refresh attempts flagged as suspected hijack")); err != nil {
		return nil, err
	}
	if m.SessionsRevoked, err = meter.Int64Counter("authguard.sessions.revoked",
		metric.WithDescription("Sessions revoked, any reason")); err != nil {
		return nil, err
	}
	if m.EventAppendFailures, err = meter.Int64Counter("authguard.events.append_failures",
		metric.WithDescription("Security event log append failures")); err != nil {
		return nil, err
	}
	return m, nil
}
