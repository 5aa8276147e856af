// Package format normalizes raw attribute values into loggable
// representations.
package format

import (
	"time"

	"changetrail/internal/changelog/models"
)

// TimeLayout is the fixed rendering for date/time values in payloads.
const TimeLayout = "2006-01-02 15:04:05"

// Value resolves a loggable representation for a field value. The resolution
// order is total, so every value reaches a decision:
//
//  1. the subject's own formatter hook, when implemented (authoritative);
//  2. date/time values render via TimeLayout;
//  3. values exposing ToMap render as their structured form;
//  4. booleans render as the strings "true" and "false";
//  5. everything else passes through unchanged.
func Value(subject models.Subject, field string, value any) any {
	if f, ok := subject.(models.ValueFormatter); ok {
		return f.FormatValue(field, value)
	}

	switch v := value.(type) {
	case time.Time:
		return v.Format(TimeLayout)
	case *time.Time:
		if v == nil {
			return nil
		}
		return v.Format(TimeLayout)
	case models.Mapper:
		return v.ToMap()
	case bool:
		if v {
			return "true"
		}
		return "false"
	}
	return value
}
