package model

import "time"

// Outcome classifies how a probe run ended.
type Outcome string

const (
	OutcomeMatch           Outcome = "match"
	OutcomeMismatch        Outcome = "mismatch"
	OutcomeCancelled       Outcome = "cancelled"
	OutcomeConnectionError Outcome = "connection_error"
	OutcomeProtocolError   Outcome = "protocol_error"
	OutcomeError           Outcome = "error"
)

// ProbeRun is one recorded invocation of the probe.
type ProbeRun struct {
	ID              int64         `json:"id"`
	StartedAt       time.Time     `json:"started_at"`
	Duration        time.Duration `json:"duration"`
	Endpoint        string        `json:"endpoint"`
	ExpectedVersion string        `json:"expected_version"`
	ReportedVersion string        `json:"reported_version,omitempty"`
	Outcome         Outcome       `json:"outcome"`
	Error           string        `json:"error,omitempty"`
}
