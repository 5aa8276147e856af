package models

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Action identifies the lifecycle event a change record captures.
type Action string

const (
	ActionCreate  Action = "CREATE"
	ActionUpdate  Action = "UPDATE"
	ActionDelete  Action = "DELETE"
	ActionRestore Action = "RESTORE"
)

// Actions lists every valid action in a stable order.
var Actions = []Action{ActionCreate, ActionUpdate, ActionDelete, ActionRestore}

// Valid reports whether the action is one of the four lifecycle actions.
func (a Action) Valid() bool {
	switch a {
	case ActionCreate, ActionUpdate, ActionDelete, ActionRestore:
		return true
	}
	return false
}

// ParseAction normalizes user input ("update", "UPDATE") into an Action.
func ParseAction(s string) (Action, error) {
	a := Action(strings.ToUpper(strings.TrimSpace(s)))
	if !a.Valid() {
		return "", fmt.Errorf("unknown action %q", s)
	}
	return a, nil
}

// TagForceDelete marks records produced by a permanent (hard) delete.
const TagForceDelete = "force_delete"

// Record is one logged change. It is built once by the capture service and
// never mutated after persistence.
//
// Payload semantics depend on Action:
//   - CREATE/RESTORE: OldValue nil, NewValue map of captured attributes.
//   - DELETE: OldValue map of last known attributes, NewValue nil.
//   - UPDATE bulk: both maps keyed by field name; FieldName empty.
//   - UPDATE per-field: both scalar values; FieldName set.
//
// Redacted fields never appear in either payload.
type Record struct {
	ID          uuid.UUID `json:"id"`
	SubjectType string    `json:"subject_type"`
	SubjectID   string    `json:"subject_id"`
	Action      Action    `json:"action"`
	FieldName   string    `json:"field_name,omitempty"`
	OldValue    any       `json:"old_value,omitempty"`
	NewValue    any       `json:"new_value,omitempty"`

	// ActorID is empty for system-initiated changes. Kept as a string so
	// hosts with non-UUID principal schemes can still attribute changes.
	ActorID string `json:"actor_id,omitempty"`

	IPAddress    string `json:"ip_address,omitempty"`
	UserAgent    string `json:"user_agent,omitempty"`
	HTTPMethod   string `json:"http_method,omitempty"`
	EndpointPath string `json:"endpoint_path,omitempty"`

	Description string   `json:"description,omitempty"`
	Tags        []string `json:"tags,omitempty"`

	// OccurredDate carries only the calendar date. It is derived once at
	// capture time and drives range filtering and retention.
	OccurredDate time.Time `json:"occurred_date"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// HasTag reports whether the record carries the given tag.
func (r *Record) HasTag(tag string) bool {
	for _, t := range r.Tags {
		if t == tag {
			return true
		}
	}
	return false
}

// DateOnly truncates a timestamp to its calendar date in UTC.
func DateOnly(t time.Time) time.Time {
	y, m, d := t.UTC().Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// Filter narrows queries over the change trail. Zero-valued fields impose no
// constraint; populated fields combine conjunctively.
type Filter struct {
	SubjectType string
	// SubjectID is applied only together with SubjectType; the subject
	// reference is a (type, id) pair, never an id alone.
	SubjectID string
	Action    Action
	ActorID   string
	// StartDate/EndDate bound OccurredDate inclusively. Each bound applies
	// independently when set.
	StartDate time.Time
	EndDate   time.Time
	Tag       string
	// Limit caps the result set; zero means the store default.
	Limit int
}

// OnDate narrows the filter to a single calendar date.
func (f Filter) OnDate(day time.Time) Filter {
	d := DateOnly(day)
	f.StartDate = d
	f.EndDate = d
	return f
}

// WithinDays narrows the filter to records occurring in the last n days.
func (f Filter) WithinDays(n int, now time.Time) Filter {
	f.StartDate = DateOnly(now).AddDate(0, 0, -n)
	return f
}

// OlderThanDays narrows the filter to records occurring strictly before
// now - n days. The retention cutoff uses the same boundary.
func (f Filter) OlderThanDays(n int, now time.Time) Filter {
	f.EndDate = DateOnly(now).AddDate(0, 0, -n-1)
	return f
}

// Matches reports whether a record satisfies the filter. Stores with native
// query support compile the filter instead; the in-memory store and the
// statistics engine rely on this as the single source of filter semantics.
func (f Filter) Matches(r *Record) bool {
	if f.SubjectType != "" {
		if r.SubjectType != f.SubjectType {
			return false
		}
		if f.SubjectID != "" && r.SubjectID != f.SubjectID {
			return false
		}
	}
	if f.Action != "" && r.Action != f.Action {
		return false
	}
	if f.ActorID != "" && r.ActorID != f.ActorID {
		return false
	}
	if !f.StartDate.IsZero() && r.OccurredDate.Before(DateOnly(f.StartDate)) {
		return false
	}
	if !f.EndDate.IsZero() && r.OccurredDate.After(DateOnly(f.EndDate)) {
		return false
	}
	if f.Tag != "" && !r.HasTag(f.Tag) {
		return false
	}
	return true
}

// Statistics aggregates a filtered slice of the change trail. All figures are
// derived from the same filtered base set.
type Statistics struct {
	Total    int64            `json:"total"`
	ByAction map[Action]int64 `json:"by_action"`
	ByActor  map[string]int64 `json:"by_actor"`
	Recent   []Record         `json:"recent"`
}

// RecentLimit is the number of records included in Statistics.Recent.
const RecentLimit = 10
