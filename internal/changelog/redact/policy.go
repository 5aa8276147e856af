// Package redact decides which attribute fields never reach a persisted
// payload.
package redact

import (
	"changetrail/internal/changelog/models"
	"changetrail/internal/platform/config"
)

// timestampFields are ORM bookkeeping columns excluded when the
// ExcludeTimestamps flag is set.
var timestampFields = []string{"created_at", "updated_at", "deleted_at"}

// Policy computes the excluded-field set per subject. It has no error paths;
// subjects without redaction hooks fall back to config-only behavior.
type Policy struct {
	hidden            []string
	excludeTimestamps bool
}

// New builds a policy from the configured capture settings.
func New(cfg config.Capture) *Policy {
	return &Policy{
		hidden:            cfg.HiddenFields,
		excludeTimestamps: cfg.ExcludeTimestamps,
	}
}

// ExcludedFields returns the set of field names that must not be persisted
// for the given subject.
//
// The set is the union of the configured hidden-field list, the subject's own
// declared fields, and timestamp bookkeeping fields when enabled. A subject
// whose redactor claims full override replaces the union entirely.
func (p *Policy) ExcludedFields(subject models.Subject) map[string]struct{} {
	redactor, _ := subject.(models.FieldRedactor)

	if redactor != nil {
		if o, ok := subject.(models.RedactionOverrider); ok && o.OverrideExcludedFields() {
			return toSet(redactor.ExcludedFields())
		}
	}

	excluded := toSet(p.hidden)
	if redactor != nil {
		for _, f := range redactor.ExcludedFields() {
			excluded[f] = struct{}{}
		}
	}
	if p.excludeTimestamps {
		for _, f := range timestampFields {
			excluded[f] = struct{}{}
		}
	}
	return excluded
}

func toSet(fields []string) map[string]struct{} {
	set := make(map[string]struct{}, len(fields))
	for _, f := range fields {
		set[f] = struct{}{}
	}
	return set
}
