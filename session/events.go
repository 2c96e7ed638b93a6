package session

import (
	"encoding/json"
	"log/slog"
	"time"

	"github.com/google/uuid"
)

// NIST SP 800-92 compliant event types
const (
	EventAuthentication   = "authentication"
	EventReauthorization  = "reauthorization"
	EventSessionLifecycle = "session_lifecycle"
)

// Security event subtypes
const (
	SubtypeAuthAttempt   = "attempt"
	SubtypeAuthSuccess   = "success"
	SubtypeAuthFailure   = "failure"
	SubtypeAuthCancelled = "cancelled"
	SubtypeSessionOpened = "open"
	SubtypeSessionClosed = "closed"
	SubtypeSessionForced = "forced_logout"
)

// Security event outcomes
const (
	OutcomeSuccess = "success"
	OutcomeFailure = "failure"
	OutcomeDenied  = "denied"
	OutcomeAttempt = "attempt"
)

// Security event severities
const (
	SeverityInfo     = "INFO"
	SeverityWarning  = "WARNING"
	SeverityError    = "ERROR"
	SeverityCritical = "CRITICAL"
)

// SecurityEvent represents a structured security log event compliant with NIST SP 800-92.
type SecurityEvent struct {
	// NIST Required Fields
	Timestamp string `json:"timestamp"`  // ISO 8601 UTC
	EventType string `json:"event_type"` // authentication, session_lifecycle
	Subtype   string `json:"subtype"`    // success, failure, attempt
	Severity  string `json:"severity"`   // INFO, WARN, ERROR

	// Identity & Context
	User          string `json:"user,omitempty"`
	Source        string `json:"source"`
	Target        string `json:"target"`         // provider name
	CorrelationID string `json:"correlation_id"` // Manager-scoped UUID

	Outcome string         `json:"outcome"`
	Details map[string]any `json:"details,omitempty"`
}

// SecurityLogger writes security events for one manager.
type SecurityLogger struct {
	logger        *slog.Logger
	source        string
	correlationID string
}

// NewSecurityLogger creates a new logger.
// It generates a new CorrelationID (UUID) for this logger instance.
func NewSecurityLogger(logger *slog.Logger, source string) *SecurityLogger {
	return &SecurityLogger{
		logger:        logger,
		source:        source,
		correlationID: uuid.New().String(),
	}
}

// CorrelationID returns the ID shared by every event of this logger.
func (l *SecurityLogger) CorrelationID() string {
	if l == nil {
		return ""
	}
	return l.correlationID
}

// LogEvent constructs and logs a security event.
func (l *SecurityLogger) LogEvent(eventType, subtype, severity, outcome, user, target string, details map[string]any) {
	if l == nil || l.logger == nil {
		return
	}

	event := &SecurityEvent{
		Timestamp:     time.Now().UTC().Format(time.RFC3339),
		EventType:     eventType,
		Subtype:       subtype,
		Severity:      severity,
		User:          user,
		Source:        l.source,
		Target:        target,
		CorrelationID: l.correlationID,
		Outcome:       outcome,
		Details:       details,
	}
	if details == nil {
		event.Details = make(map[string]any)
	}

	switch severity {
	case SeverityWarning:
		l.logger.Warn("SecurityEvent", "event", event)
	case SeverityError, SeverityCritical:
		l.logger.Error("SecurityEvent", "event", event)
	default:
		l.logger.Info("SecurityEvent", "event", event)
	}
}

// LogAuthentication logs authentication events.
func (l *SecurityLogger) LogAuthentication(subtype, outcome, severity, user, target string, details map[string]any) {
	l.LogEvent(EventAuthentication, subtype, severity, outcome, user, target, details)
}

// LogReauthorization logs credential refresh events.
func (l *SecurityLogger) LogReauthorization(subtype, outcome, severity, user, target string, details map[string]any) {
	l.LogEvent(EventReauthorization, subtype, severity, outcome, user, target, details)
}

// LogSession logs session lifecycle events.
func (l *SecurityLogger) LogSession(subtype, outcome, severity, user, target string, details map[string]any) {
	l.LogEvent(EventSessionLifecycle, subtype, severity, outcome, user, target, details)
}

// String returns the JSON representation of the event
func (e *SecurityEvent) String() string {
	b, _ := json.Marshal(e)
	return string(b)
}
