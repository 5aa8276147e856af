package models

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseAction(t *testing.T) {
	tests := []struct {
		input   string
		want    Action
		wantErr bool
	}{
		{"create", ActionCreate, false},
		{"UPDATE", ActionUpdate, false},
		{" delete ", ActionDelete, false},
		{"Restore", ActionRestore, false},
		{"upsert", "", true},
		{"", "", true},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			got, err := ParseAction(tt.input)
			if tt.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestDateOnly(t *testing.T) {
	loc := time.FixedZone("UTC+5", 5*3600)
	in := time.Date(2025, 3, 10, 2, 30, 0, 0, loc)

	got := DateOnly(in)

	// 02:30 at UTC+5 is still the previous day in UTC.
	assert.Equal(t, time.Date(2025, 3, 9, 0, 0, 0, 0, time.UTC), got)
}

func TestFilterMatches(t *testing.T) {
	day := time.Date(2025, 6, 15, 0, 0, 0, 0, time.UTC)
	rec := &Record{
		SubjectType:  "user",
		SubjectID:    "42",
		Action:       ActionUpdate,
		ActorID:      "actor-1",
		Tags:         []string{"billing"},
		OccurredDate: day,
	}

	tests := []struct {
		name   string
		filter Filter
		want   bool
	}{
		{"empty filter matches", Filter{}, true},
		{"subject type match", Filter{SubjectType: "user"}, true},
		{"subject type mismatch", Filter{SubjectType: "invoice"}, false},
		{"subject pair match", Filter{SubjectType: "user", SubjectID: "42"}, true},
		{"subject pair mismatch", Filter{SubjectType: "user", SubjectID: "7"}, false},
		{"id alone is ignored", Filter{SubjectID: "7"}, true},
		{"action match", Filter{Action: ActionUpdate}, true},
		{"action mismatch", Filter{Action: ActionDelete}, false},
		{"actor match", Filter{ActorID: "actor-1"}, true},
		{"actor mismatch", Filter{ActorID: "actor-2"}, false},
		{"start date inclusive", Filter{StartDate: day}, true},
		{"start date excludes earlier", Filter{StartDate: day.AddDate(0, 0, 1)}, false},
		{"end date inclusive", Filter{EndDate: day}, true},
		{"end date excludes later", Filter{EndDate: day.AddDate(0, 0, -1)}, false},
		{"tag match", Filter{Tag: "billing"}, true},
		{"tag mismatch", Filter{Tag: "security"}, false},
		{"conjunctive", Filter{SubjectType: "user", Action: ActionUpdate, ActorID: "actor-2"}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.filter.Matches(rec))
		})
	}
}

func TestFilterOnDate(t *testing.T) {
	f := Filter{SubjectType: "user"}.OnDate(time.Date(2025, 6, 15, 18, 45, 0, 0, time.UTC))

	assert.Equal(t, time.Date(2025, 6, 15, 0, 0, 0, 0, time.UTC), f.StartDate)
	assert.Equal(t, f.StartDate, f.EndDate)
	assert.Equal(t, "user", f.SubjectType)
}

func TestFilterWithinDays(t *testing.T) {
	now := time.Date(2025, 6, 15, 18, 45, 0, 0, time.UTC)
	f := Filter{}.WithinDays(7, now)

	assert.Equal(t, time.Date(2025, 6, 8, 0, 0, 0, 0, time.UTC), f.StartDate)
	assert.True(t, f.EndDate.IsZero())
}

func TestFilterOlderThanDays(t *testing.T) {
	now := time.Date(2025, 6, 15, 18, 45, 0, 0, time.UTC)
	f := Filter{}.OlderThanDays(7, now)

	boundary := &Record{OccurredDate: time.Date(2025, 6, 8, 0, 0, 0, 0, time.UTC)}
	older := &Record{OccurredDate: time.Date(2025, 6, 7, 0, 0, 0, 0, time.UTC)}

	assert.False(t, f.Matches(boundary), "exactly n days old is not older than n days")
	assert.True(t, f.Matches(older))
}

func TestRecordHasTag(t *testing.T) {
	rec := &Record{Tags: []string{"billing", TagForceDelete}}

	assert.True(t, rec.HasTag(TagForceDelete))
	assert.False(t, rec.HasTag("security"))
	assert.False(t, (&Record{}).HasTag("billing"))
}
