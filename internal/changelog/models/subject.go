package models

// Subject is the domain record whose lifecycle is audited. Hosts implement it
// on (or alongside) their own entity types and call the capture service at
// each mutation site.
type Subject interface {
	// SubjectType tags the polymorphic reference, e.g. "user" or "invoice".
	SubjectType() string
	// SubjectID identifies the entity within its type.
	SubjectID() string
	// Attributes returns the entity's current attribute state.
	Attributes() map[string]any
}

// The interfaces below are optional capabilities a Subject may implement.
// Absence of a capability falls back to documented defaults; none of them can
// produce an error. Capability checks are explicit type assertions, never
// reflective method probing.

// Snapshotter exposes the entity's pre-change attribute values. Update capture
// reads old values from here, so the capture call must happen before the
// snapshot is overwritten by the mutation itself.
type Snapshotter interface {
	Snapshot() map[string]any
}

// FieldRedactor declares entity-specific fields to exclude from payloads, in
// addition to the configured hidden-field list.
type FieldRedactor interface {
	ExcludedFields() []string
}

// RedactionOverrider marks a FieldRedactor as authoritative: its field list
// replaces the configured union entirely instead of extending it.
type RedactionOverrider interface {
	OverrideExcludedFields() bool
}

// ValueFormatter customizes how a field value is rendered in payloads. When
// implemented it is fully authoritative; structural normalization is skipped.
type ValueFormatter interface {
	FormatValue(field string, value any) any
}

// Describer supplies a human-readable description per action. For per-field
// update records the changed field name is passed; otherwise field is empty.
type Describer interface {
	Description(action Action, field string) string
}

// Tagger supplies category tags per action for filtering and reporting.
type Tagger interface {
	Tags(action Action) []string
}

// ActionVetoer lets an entity type suppress logging for specific actions.
// The veto is consulted by the gating check before capture is invoked.
type ActionVetoer interface {
	ShouldLog(action Action) bool
}

// Mapper converts a value into its canonical structured form. The value
// formatter renders such values via ToMap when no custom formatter applies.
type Mapper interface {
	ToMap() map[string]any
}
