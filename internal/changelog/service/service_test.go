package service

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"changetrail/internal/changelog/models"
	"changetrail/internal/platform/config"
	"changetrail/pkg/platform/middleware/metadata"
	"changetrail/pkg/requestcontext"
)

// capturingWriter records everything handed to it, optionally failing.
type capturingWriter struct {
	records []*models.Record
	err     error
}

func (w *capturingWriter) Persist(_ context.Context, rec *models.Record) error {
	if w.err != nil {
		return w.err
	}
	w.records = append(w.records, rec)
	return nil
}

// capturingStore returns canned data and remembers the last filter it saw.
type capturingStore struct {
	records []models.Record
	filters []models.Filter
}

func (s *capturingStore) Query(_ context.Context, f models.Filter) ([]models.Record, error) {
	s.filters = append(s.filters, f)
	return s.records, nil
}

func (s *capturingStore) Count(_ context.Context, f models.Filter) (int64, error) {
	s.filters = append(s.filters, f)
	return int64(len(s.records)), nil
}

func (s *capturingStore) CountByAction(_ context.Context, f models.Filter) (map[models.Action]int64, error) {
	s.filters = append(s.filters, f)
	return map[models.Action]int64{}, nil
}

func (s *capturingStore) CountByActor(_ context.Context, f models.Filter) (map[string]int64, error) {
	s.filters = append(s.filters, f)
	return map[string]int64{}, nil
}

// user is the baseline test subject.
type user struct {
	attrs map[string]any
	old   map[string]any
}

func (u *user) SubjectType() string        { return "user" }
func (u *user) SubjectID() string          { return "42" }
func (u *user) Attributes() map[string]any { return u.attrs }
func (u *user) Snapshot() map[string]any   { return u.old }

// vetoUser suppresses delete logging.
type vetoUser struct{ user }

func (u *vetoUser) ShouldLog(action models.Action) bool { return action != models.ActionDelete }

// describedUser adds description and tags.
type describedUser struct{ user }

func (u *describedUser) Description(action models.Action, field string) string {
	if field != "" {
		return "User " + field + " changed"
	}
	return "User " + string(action)
}

func (u *describedUser) Tags(models.Action) []string { return []string{"accounts"} }

func testConfig() config.Capture {
	return config.Capture{
		Enabled: true,
		Actions: config.ActionToggles{Create: true, Update: true, Delete: true, Restore: true},
		HiddenFields: []string{
			"password",
		},
		ExcludeTimestamps: true,
		Track:             config.TrackToggles{IP: true, UserAgent: true, Method: true, Endpoint: true},
	}
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func fixedClock(t time.Time) Clock {
	return func() time.Time { return t }
}

var testNow = time.Date(2025, 6, 15, 14, 30, 0, 0, time.UTC)

func newTestService(w *capturingWriter, st *capturingStore, cfg config.Capture, opts ...Option) *Service {
	opts = append([]Option{WithClock(fixedClock(testNow))}, opts...)
	return New(w, st, cfg, testLogger(), opts...)
}

func TestCaptureCreateRedactsHiddenFields(t *testing.T) {
	w := &capturingWriter{}
	svc := newTestService(w, &capturingStore{}, testConfig())

	subject := &user{attrs: map[string]any{
		"email":      "ada@example.com",
		"password":   "s3cret",
		"created_at": testNow,
	}}
	require.NoError(t, svc.CaptureCreate(context.Background(), subject))

	require.Len(t, w.records, 1)
	rec := w.records[0]
	assert.Equal(t, models.ActionCreate, rec.Action)
	assert.Equal(t, "user", rec.SubjectType)
	assert.Equal(t, "42", rec.SubjectID)
	assert.Nil(t, rec.OldValue)
	assert.Equal(t, map[string]any{"email": "ada@example.com"}, rec.NewValue)
	assert.NotEqual(t, uuid.Nil, rec.ID)
	assert.Equal(t, time.Date(2025, 6, 15, 0, 0, 0, 0, time.UTC), rec.OccurredDate)
	assert.Equal(t, testNow, rec.CreatedAt)
}

func TestCaptureUpdateBulk(t *testing.T) {
	w := &capturingWriter{}
	svc := newTestService(w, &capturingStore{}, testConfig())

	deadline := time.Date(2025, 7, 1, 8, 0, 0, 0, time.UTC)
	subject := &user{old: map[string]any{
		"email":  "old@example.com",
		"active": false,
	}}
	changes := map[string]any{
		"email":    "new@example.com",
		"active":   true,
		"due_at":   deadline,
		"password": "s3cret",
	}
	require.NoError(t, svc.CaptureUpdate(context.Background(), subject, changes))

	require.Len(t, w.records, 1)
	rec := w.records[0]
	assert.Equal(t, models.ActionUpdate, rec.Action)
	assert.Empty(t, rec.FieldName)
	assert.Equal(t, map[string]any{
		"email":  "old@example.com",
		"active": "false",
		"due_at": nil,
	}, rec.OldValue)
	assert.Equal(t, map[string]any{
		"email":  "new@example.com",
		"active": "true",
		"due_at": "2025-07-01 08:00:00",
	}, rec.NewValue)
}

func TestCaptureUpdatePerField(t *testing.T) {
	cfg := testConfig()
	cfg.PerField = true
	w := &capturingWriter{}
	svc := newTestService(w, &capturingStore{}, cfg)

	subject := &user{old: map[string]any{"email": "old@example.com", "name": "Ada"}}
	changes := map[string]any{"email": "new@example.com", "name": "Grace"}
	require.NoError(t, svc.CaptureUpdate(context.Background(), subject, changes))

	require.Len(t, w.records, 2)
	byField := map[string]*models.Record{}
	for _, rec := range w.records {
		require.NotEmpty(t, rec.FieldName)
		byField[rec.FieldName] = rec
	}
	require.Contains(t, byField, "email")
	require.Contains(t, byField, "name")
	assert.Equal(t, "old@example.com", byField["email"].OldValue)
	assert.Equal(t, "new@example.com", byField["email"].NewValue)
	assert.Equal(t, "Ada", byField["name"].OldValue)
	assert.Equal(t, "Grace", byField["name"].NewValue)
}

func TestCaptureUpdateAllFieldsRedacted(t *testing.T) {
	w := &capturingWriter{}
	svc := newTestService(w, &capturingStore{}, testConfig())

	changes := map[string]any{"password": "new", "updated_at": testNow}
	require.NoError(t, svc.CaptureUpdate(context.Background(), &user{}, changes))

	assert.Empty(t, w.records)
}

func TestCaptureDelete(t *testing.T) {
	w := &capturingWriter{}
	svc := newTestService(w, &capturingStore{}, testConfig())

	subject := &user{attrs: map[string]any{"email": "ada@example.com"}}
	require.NoError(t, svc.CaptureDelete(context.Background(), subject, false))

	require.Len(t, w.records, 1)
	rec := w.records[0]
	assert.Equal(t, models.ActionDelete, rec.Action)
	assert.Equal(t, map[string]any{"email": "ada@example.com"}, rec.OldValue)
	assert.Nil(t, rec.NewValue)
	assert.False(t, rec.HasTag(models.TagForceDelete))
}

func TestCaptureDeletePermanent(t *testing.T) {
	w := &capturingWriter{}
	svc := newTestService(w, &capturingStore{}, testConfig())

	subject := &describedUser{user{attrs: map[string]any{"email": "ada@example.com"}}}
	require.NoError(t, svc.CaptureDelete(context.Background(), subject, true))

	require.Len(t, w.records, 1)
	rec := w.records[0]
	assert.True(t, rec.HasTag(models.TagForceDelete))
	assert.Contains(t, rec.Tags, "accounts")
	assert.Equal(t, "User DELETE (Permanent)", rec.Description)
}

func TestCaptureRestore(t *testing.T) {
	w := &capturingWriter{}
	svc := newTestService(w, &capturingStore{}, testConfig())

	subject := &user{attrs: map[string]any{"email": "ada@example.com"}}
	require.NoError(t, svc.CaptureRestore(context.Background(), subject))

	require.Len(t, w.records, 1)
	rec := w.records[0]
	assert.Equal(t, models.ActionRestore, rec.Action)
	assert.Equal(t, map[string]any{"email": "ada@example.com"}, rec.NewValue)
	assert.Nil(t, rec.OldValue)
}

func TestShouldLog(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*config.Capture)
		subject models.Subject
		action  models.Action
		want    bool
	}{
		{"enabled", nil, &user{}, models.ActionCreate, true},
		{
			"globally disabled",
			func(c *config.Capture) { c.Enabled = false },
			&user{}, models.ActionCreate, false,
		},
		{
			"action disabled",
			func(c *config.Capture) { c.Actions.Update = false },
			&user{}, models.ActionUpdate, false,
		},
		{"subject veto", nil, &vetoUser{}, models.ActionDelete, false},
		{"subject veto passes other actions", nil, &vetoUser{}, models.ActionCreate, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := testConfig()
			if tt.mutate != nil {
				tt.mutate(&cfg)
			}
			svc := newTestService(&capturingWriter{}, &capturingStore{}, cfg)
			assert.Equal(t, tt.want, svc.ShouldLog(tt.subject, tt.action))
		})
	}
}

func TestEnrichFromRequestContext(t *testing.T) {
	w := &capturingWriter{}
	svc := newTestService(w, &capturingStore{}, testConfig())

	ctx := requestcontext.WithActorID(context.Background(), "actor-7")
	ctx = metadata.WithClientMetadata(ctx, "203.0.113.9", "curl/8.0", "post", "api/users")

	require.NoError(t, svc.CaptureCreate(ctx, &user{}))

	require.Len(t, w.records, 1)
	rec := w.records[0]
	assert.Equal(t, "actor-7", rec.ActorID)
	assert.Equal(t, "203.0.113.9", rec.IPAddress)
	assert.Equal(t, "curl/8.0", rec.UserAgent)
	assert.Equal(t, "POST", rec.HTTPMethod)
	assert.Equal(t, "/api/users", rec.EndpointPath)
}

func TestEnrichRespectsTrackToggles(t *testing.T) {
	cfg := testConfig()
	cfg.Track = config.TrackToggles{}
	w := &capturingWriter{}
	svc := newTestService(w, &capturingStore{}, cfg)

	ctx := requestcontext.WithActorID(context.Background(), "actor-7")
	ctx = metadata.WithClientMetadata(ctx, "203.0.113.9", "curl/8.0", "POST", "/api/users")

	require.NoError(t, svc.CaptureCreate(ctx, &user{}))

	require.Len(t, w.records, 1)
	rec := w.records[0]
	// Actor attribution is unconditional; request metadata is not.
	assert.Equal(t, "actor-7", rec.ActorID)
	assert.Empty(t, rec.IPAddress)
	assert.Empty(t, rec.UserAgent)
	assert.Empty(t, rec.HTTPMethod)
	assert.Empty(t, rec.EndpointPath)
}

func TestCaptureSystemInitiated(t *testing.T) {
	w := &capturingWriter{}
	svc := newTestService(w, &capturingStore{}, testConfig())

	require.NoError(t, svc.CaptureCreate(context.Background(), &user{}))

	require.Len(t, w.records, 1)
	assert.Empty(t, w.records[0].ActorID)
}

func TestCaptureCreatePropagatesWriterError(t *testing.T) {
	w := &capturingWriter{err: errors.New("store down")}
	svc := newTestService(w, &capturingStore{}, testConfig())

	err := svc.CaptureCreate(context.Background(), &user{})

	require.ErrorContains(t, err, "store down")
}

func TestCaptureUpdatePerFieldJoinsErrors(t *testing.T) {
	cfg := testConfig()
	cfg.PerField = true
	w := &capturingWriter{err: errors.New("store down")}
	svc := newTestService(w, &capturingStore{}, cfg)

	changes := map[string]any{"email": "a@example.com", "name": "Ada"}
	err := svc.CaptureUpdate(context.Background(), &user{old: map[string]any{}}, changes)

	require.ErrorContains(t, err, "store down")
}

func TestQueryAppliesDefaultLimit(t *testing.T) {
	st := &capturingStore{}
	svc := newTestService(&capturingWriter{}, st, testConfig(), WithDefaultLimit(25))

	_, err := svc.Query(context.Background(), models.Filter{SubjectType: "user"})
	require.NoError(t, err)

	require.Len(t, st.filters, 1)
	assert.Equal(t, 25, st.filters[0].Limit)
}

func TestQueryKeepsExplicitLimit(t *testing.T) {
	st := &capturingStore{}
	svc := newTestService(&capturingWriter{}, st, testConfig())

	_, err := svc.Query(context.Background(), models.Filter{Limit: 3})
	require.NoError(t, err)

	require.Len(t, st.filters, 1)
	assert.Equal(t, 3, st.filters[0].Limit)
}

func TestStatisticsUsesOneFilter(t *testing.T) {
	st := &capturingStore{records: []models.Record{{SubjectType: "user"}}}
	svc := newTestService(&capturingWriter{}, st, testConfig())

	f := models.Filter{SubjectType: "user", Action: models.ActionUpdate}
	stats, err := svc.Statistics(context.Background(), f)
	require.NoError(t, err)

	assert.Equal(t, int64(1), stats.Total)
	require.Len(t, st.filters, 4)
	for _, seen := range st.filters[:3] {
		assert.Equal(t, f, seen)
	}
	// The recent slice reuses the filter with a fixed page size.
	assert.Equal(t, models.RecentLimit, st.filters[3].Limit)
	assert.Equal(t, f.SubjectType, st.filters[3].SubjectType)
}

func TestLastRecord(t *testing.T) {
	st := &capturingStore{records: []models.Record{{SubjectID: "42"}}}
	svc := newTestService(&capturingWriter{}, st, testConfig())

	rec, err := svc.LastRecord(context.Background(), "user", "42")
	require.NoError(t, err)
	require.NotNil(t, rec)
	assert.Equal(t, "42", rec.SubjectID)

	empty := newTestService(&capturingWriter{}, &capturingStore{}, testConfig())
	rec, err = empty.LastRecord(context.Background(), "user", "42")
	require.NoError(t, err)
	assert.Nil(t, rec)
}

func TestNormalizePath(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"", ""},
		{"/", "/"},
		{"api/users", "/api/users"},
		{"/api/users", "/api/users"},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.want, normalizePath(tt.in))
	}
}
