package audit

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/meridianhq/tenancy/pkg/events"
	"github.com/meridianhq/tenancy/pkg/orgs"
)

// Entry is one persisted audit row
type Entry struct {
	ID             int64           `json:"id"`
	EventID        string          `json:"event_id"`
	EventType      string          `json:"event_type"`
	OrganizationID *int64          `json:"organization_id,omitempty"`
	UserID         *int64          `json:"user_id,omitempty"`
	Role           string          `json:"role,omitempty"`
	Metadata       json.RawMessage `json:"metadata,omitempty"`
	OccurredAt     time.Time       `json:"occurred_at"`
	CreatedAt      time.Time       `json:"created_at"`
}

// RecordedEvents returns the lifecycle events worth an audit trail
func RecordedEvents() []events.Event {
	return []events.Event{
		events.EventOrganizationCreated,
		events.EventMemberInvited,
		events.EventMemberJoined,
		events.EventMemberAdded,
		events.EventMemberRemoved,
		events.EventMemberLeft,
		events.EventRoleChanged,
		events.EventOwnershipTransferred,
	}
}

// Recorder persists dispatched events to the audit_events table
type Recorder struct {
	db *sql.DB
}

// NewRecorder creates a database-backed audit recorder
func NewRecorder(db *sql.DB) *Recorder {
	return &Recorder{db: db}
}

// Listener adapts the recorder to the dispatcher's listener signature
func (r *Recorder) Listener() events.Listener {
	return r.Record
}

// Record persists one event
func (r *Recorder) Record(ctx context.Context, ec *events.Context) error {
	orgID := organizationID(ec)
	userID := subjectUserID(ec)

	var metadata []byte
	if len(ec.Metadata) > 0 {
		var err error
		metadata, err = json.Marshal(ec.Metadata)
		if err != nil {
			return fmt.Errorf("failed to marshal metadata: %w", err)
		}
	}

	if _, err := r.db.ExecContext(ctx, `
		INSERT INTO audit_events (event_id, event_type, organization_id, user_id, role, metadata, occurred_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`, ec.ID, ec.Event, orgID, userID, ec.Role, metadata, ec.Time); err != nil {
		return fmt.Errorf("failed to record audit event: %w", err)
	}
	return nil
}

// List retrieves an organization's audit trail, newest first
func (r *Recorder) List(ctx context.Context, orgID int64, limit int) ([]*Entry, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, event_id, event_type, organization_id, user_id, role, metadata, occurred_at, created_at
		FROM audit_events
		WHERE organization_id = $1
		ORDER BY occurred_at DESC
		LIMIT $2
	`, orgID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list audit events: %w", err)
	}
	defer rows.Close()

	var entries []*Entry
	for rows.Next() {
		e := &Entry{}
		var orgID, userID sql.NullInt64
		var role sql.NullString
		var metadata []byte
		if err := rows.Scan(
			&e.ID, &e.EventID, &e.EventType, &orgID, &userID, &role, &metadata, &e.OccurredAt, &e.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("failed to scan audit event: %w", err)
		}
		if orgID.Valid {
			id := orgID.Int64
			e.OrganizationID = &id
		}
		if userID.Valid {
			id := userID.Int64
			e.UserID = &id
		}
		e.Role = role.String
		e.Metadata = metadata
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

func organizationID(ec *events.Context) *int64 {
	if org, ok := ec.Organization.(*orgs.Organization); ok && org != nil {
		return &org.ID
	}
	if m, ok := ec.Membership.(*orgs.Membership); ok && m != nil {
		return &m.OrganizationID
	}
	return nil
}

func subjectUserID(ec *events.Context) *int64 {
	if m, ok := ec.Membership.(*orgs.Membership); ok && m != nil {
		return &m.UserID
	}
	if u, ok := ec.User.(*orgs.User); ok && u != nil {
		return &u.ID
	}
	return nil
}
