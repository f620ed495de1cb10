package audit

import (
	"context"
	"time"
)

// EventCategory classifies audit events by their primary purpose.
// This enables different retention policies, storage backends, and routing.
type EventCategory string

const (
	// CategoryCompliance covers events with regulatory significance: every
	// ledger state change. Persistence is fail-closed.
	CategoryCompliance EventCategory = "compliance"

	// CategorySecurity covers events relevant to security monitoring, such as
	// denied authorization checks. Emission is buffered and best effort.
	CategorySecurity EventCategory = "security"

	// CategoryOperations covers routine activity useful for debugging.
	CategoryOperations EventCategory = "operations"
)

// Event is the storage shape shared by all audit categories. Subject is the
// hex address of the record the event is about; ActorID is the hex caller
// identity that performed the action.
type Event struct {
	Category  EventCategory
	Timestamp time.Time
	Subject   string
	Action    string
	Decision  string
	Reason    string
	RequestID string
	ActorID   string
	ClientIP  string
	UserAgent string
}

// Store persists audit events.
type Store interface {
	Append(ctx context.Context, event Event) error
	ListBySubject(ctx context.Context, subject string) ([]Event, error)
	ListRecent(ctx context.Context, limit int) ([]Event, error)
}

type AuditEvent string

const (
	// Ledger events
	EventPayrollInitialized       AuditEvent = "payroll_initialized"
	EventEmployeeAdded            AuditEvent = "employee_added"
	EventEmployeeScreeningUpdated AuditEvent = "employee_screening_updated"
	EventEmployeeAutoDeactivated  AuditEvent = "employee_auto_deactivated"
	EventEmployeeDeactivated      AuditEvent = "employee_deactivated"
	EventPaymentRecorded          AuditEvent = "payment_recorded"
	EventPaymentVerified          AuditEvent = "payment_verified"

	// Access events
	EventAuthorizationDenied AuditEvent = "authorization_denied"
	EventScreeningRejected   AuditEvent = "screening_rejected"
)

// eventCategories maps each audit event to its category.
var eventCategories = map[AuditEvent]EventCategory{
	EventPayrollInitialized:       CategoryCompliance,
	EventEmployeeAdded:            CategoryCompliance,
	EventEmployeeScreeningUpdated: CategoryCompliance,
	EventEmployeeAutoDeactivated:  CategoryCompliance,
	EventEmployeeDeactivated:      CategoryCompliance,
	EventPaymentRecorded:          CategoryCompliance,
	EventPaymentVerified:          CategoryCompliance,

	EventAuthorizationDenied: CategorySecurity,
	EventScreeningRejected:   CategorySecurity,
}

// Category returns the EventCategory for this audit event.
// Unknown events default to CategoryOperations.
func (e AuditEvent) Category() EventCategory {
	if cat, ok := eventCategories[e]; ok {
		return cat
	}
	return CategoryOperations
}

// ComplianceEvent records a committed ledger state change. Use with the
// compliance publisher for fail-closed semantics.
type ComplianceEvent struct {
	Timestamp time.Time // set automatically if zero
	Subject   string    // record address (required)
	Action    string    // required
	Decision  string    // outcome, e.g. "active", "inactive", "verified"
	RequestID string
	ActorID   string
	ClientIP  string
	UserAgent string
}

// Category returns CategoryCompliance (always).
func (e ComplianceEvent) Category() EventCategory { return CategoryCompliance }

// ToEvent converts to the storage shape.
func (e ComplianceEvent) ToEvent() Event {
	return Event{
		Category:  CategoryCompliance,
		Timestamp: e.Timestamp,
		Subject:   e.Subject,
		Action:    e.Action,
		Decision:  e.Decision,
		RequestID: e.RequestID,
		ActorID:   e.ActorID,
		ClientIP:  e.ClientIP,
		UserAgent: e.UserAgent,
	}
}

// SecurityEvent captures security-relevant outcomes for alerting.
// Events are processed asynchronously with buffering.
type SecurityEvent struct {
	Timestamp time.Time // set automatically if zero
	Subject   string    // record address involved
	Action    string
	Reason    string // e.g. "unauthorized", "screening_failed"
	IP        string
	RequestID string
	ActorID   string
	Severity  Severity
}

// Severity levels for security events.
type Severity string

const (
	SeverityInfo     Severity = "info"
	SeverityWarning  Severity = "warning"
	SeverityCritical Severity = "critical"
)

// Category returns CategorySecurity (always).
func (e SecurityEvent) Category() EventCategory { return CategorySecurity }

// ToEvent converts to the storage shape.
func (e SecurityEvent) ToEvent() Event {
	return Event{
		Category:  CategorySecurity,
		Timestamp: e.Timestamp,
		Subject:   e.Subject,
		Action:    e.Action,
		Decision:  string(e.Severity),
		Reason:    e.Reason,
		RequestID: e.RequestID,
		ActorID:   e.ActorID,
		ClientIP:  e.IP,
	}
}
