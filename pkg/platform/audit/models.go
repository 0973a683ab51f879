package audit

import "time"

// EventCategory classifies audit events by their primary purpose.
type EventCategory string

const (
	// CategoryCompliance covers account lifecycle changes that must be kept.
	CategoryCompliance EventCategory = "compliance"
	// CategorySecurity covers failures worth alerting on.
	CategorySecurity EventCategory = "security"
	// CategoryOperations covers routine activity.
	CategoryOperations EventCategory = "operations"
)

// Event is emitted from domain logic to capture key actions. Keep it
// transport-agnostic so stores and sinks can fan out.
type Event struct {
	Category  EventCategory
	Timestamp time.Time
	Action    string
	// ActorID is the identity that requested the action; empty for bootstrap.
	ActorID string
	// SubjectID is the identity created or deleted, when one exists.
	SubjectID string
	Email     string
	Role      string
	Site      string
	RequestID string
	Reason    string
}

type AuditEvent string

const (
	EventUserProvisioned     AuditEvent = "user_provisioned"
	EventIdentityCompensated AuditEvent = "identity_compensated"
	EventProvisioningFailed  AuditEvent = "provisioning_failed"
	EventBootstrapCompleted  AuditEvent = "bootstrap_completed"
)

var eventCategories = map[AuditEvent]EventCategory{
	EventUserProvisioned:     CategoryCompliance,
	EventIdentityCompensated: CategoryCompliance,
	EventProvisioningFailed:  CategorySecurity,
	EventBootstrapCompleted:  CategoryOperations,
}

// Category returns the EventCategory for this audit event.
// Unknown events default to CategoryOperations.
func (e AuditEvent) Category() EventCategory {
	if cat, ok := eventCategories[e]; ok {
		return cat
	}
	return CategoryOperations
}

// Record is the serialized form shared by the outbox and the event bus.
type Record struct {
	ID        string `json:"id"`
	Category  string `json:"category"`
	Timestamp string `json:"timestamp"`
	Action    string `json:"action"`
	ActorID   string `json:"actor_id,omitempty"`
	SubjectID string `json:"subject_id,omitempty"`
	Email     string `json:"email,omitempty"`
	Role      string `json:"role,omitempty"`
	Site      string `json:"site,omitempty"`
	RequestID string `json:"request_id,omitempty"`
	Reason    string `json:"reason,omitempty"`
}

// NewRecord converts an event to its serialized form under the given id.
func NewRecord(id string, event Event) Record {
	category := event.Category
	if category == "" {
		category = AuditEvent(event.Action).Category()
	}
	return Record{
		ID:        id,
		Category:  string(category),
		Timestamp: event.Timestamp.UTC().Format(time.RFC3339Nano),
		Action:    event.Action,
		ActorID:   event.ActorID,
		SubjectID: event.SubjectID,
		Email:     event.Email,
		Role:      event.Role,
		Site:      event.Site,
		RequestID: event.RequestID,
		Reason:    event.Reason,
	}
}
