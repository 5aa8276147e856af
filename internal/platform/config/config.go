package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	stringsutil "changetrail/pkg/platform/strings"
)

// Config is read once at startup and treated as immutable afterwards.
type Config struct {
	Addr      string
	Capture   Capture
	Queue     Queue
	Retention Retention
	// Limit is the default page size for queries when a filter does not set one.
	Limit int

	DatabaseURL  string
	RedisURL     string
	KafkaBrokers []string
}

// Capture governs what the change-capture engine logs and how.
type Capture struct {
	// Enabled is the global kill switch. When false nothing is logged.
	Enabled bool
	Actions ActionToggles
	// PerField switches update logging from one bulk record to one record
	// per changed field.
	PerField bool
	// HiddenFields are never persisted in any payload.
	HiddenFields []string
	// ExcludeTimestamps additionally redacts created_at/updated_at/deleted_at
	// bookkeeping fields.
	ExcludeTimestamps bool
	Track             TrackToggles
}

// ActionToggles enables capture per lifecycle action. All default to on.
type ActionToggles struct {
	Create  bool
	Update  bool
	Delete  bool
	Restore bool
}

// TrackToggles controls which request-context fields are attached to records.
type TrackToggles struct {
	IP        bool
	UserAgent bool
	Method    bool
	Endpoint  bool
}

// Queue configures deferred persistence. When disabled, writes are synchronous.
type Queue struct {
	Enabled bool
	// Kind selects the backing: "channel", "redis" or "kafka".
	Kind string
	// Destination is the Redis list key or Kafka topic.
	Destination string
	// Group is the Kafka consumer group for the persisting worker.
	Group string
	// Buffer bounds the in-process channel queue.
	Buffer int
	// Attempts bounds retries per record before the failure is terminal.
	Attempts int
	// Timeout bounds a single persistence attempt.
	Timeout time.Duration
}

// Retention configures the scheduled cleanup sweep.
type Retention struct {
	Enabled bool
	// Days is the retention horizon; records whose occurred date is strictly
	// older are deleted by the sweep.
	Days int
	// Schedule is a cron expression for the automatic sweep in cmd/server.
	Schedule string
}

// FromEnv builds a Config from environment variables so main stays lean.
// Missing or malformed values fall back to defaults, never an error.
func FromEnv() Config {
	return Config{
		Addr: getenv("CHANGETRAIL_ADDR", ":8080"),
		Capture: Capture{
			Enabled: getbool("CHANGETRAIL_ENABLED", true),
			Actions: ActionToggles{
				Create:  getbool("CHANGETRAIL_TRACK_CREATE", true),
				Update:  getbool("CHANGETRAIL_TRACK_UPDATE", true),
				Delete:  getbool("CHANGETRAIL_TRACK_DELETE", true),
				Restore: getbool("CHANGETRAIL_TRACK_RESTORE", true),
			},
			PerField:          getbool("CHANGETRAIL_PER_FIELD", false),
			HiddenFields:      getcsv("CHANGETRAIL_HIDDEN_FIELDS", defaultHiddenFields),
			ExcludeTimestamps: getbool("CHANGETRAIL_EXCLUDE_TIMESTAMPS", true),
			Track: TrackToggles{
				IP:        getbool("CHANGETRAIL_TRACK_IP", true),
				UserAgent: getbool("CHANGETRAIL_TRACK_USER_AGENT", true),
				Method:    getbool("CHANGETRAIL_TRACK_METHOD", true),
				Endpoint:  getbool("CHANGETRAIL_TRACK_ENDPOINT", true),
			},
		},
		Queue: Queue{
			Enabled:     getbool("CHANGETRAIL_QUEUE_ENABLED", false),
			Kind:        getenv("CHANGETRAIL_QUEUE_KIND", "channel"),
			Destination: getenv("CHANGETRAIL_QUEUE_DESTINATION", "changetrail:records"),
			Group:       getenv("CHANGETRAIL_QUEUE_GROUP", "changetrail-writer"),
			Buffer:      getint("CHANGETRAIL_QUEUE_BUFFER", 1024),
			Attempts:    getint("CHANGETRAIL_QUEUE_ATTEMPTS", 3),
			Timeout:     getduration("CHANGETRAIL_QUEUE_TIMEOUT", 30*time.Second),
		},
		Retention: Retention{
			Enabled:  getbool("CHANGETRAIL_RETENTION_ENABLED", false),
			Days:     getint("CHANGETRAIL_RETENTION_DAYS", 365),
			Schedule: getenv("CHANGETRAIL_RETENTION_SCHEDULE", "30 3 * * *"),
		},
		Limit:        getint("CHANGETRAIL_LIMIT", 20),
		DatabaseURL:  os.Getenv("DATABASE_URL"),
		RedisURL:     os.Getenv("REDIS_URL"),
		KafkaBrokers: getcsv("KAFKA_BROKERS", nil),
	}
}

// defaultHiddenFields covers the usual credential and token columns.
var defaultHiddenFields = []string{
	"password",
	"password_confirmation",
	"remember_token",
	"api_token",
	"secret",
	"secret_key",
}

// Enabled reports whether capture is on for the given action name.
func (t ActionToggles) Enabled(action string) bool {
	switch strings.ToUpper(action) {
	case "CREATE":
		return t.Create
	case "UPDATE":
		return t.Update
	case "DELETE":
		return t.Delete
	case "RESTORE":
		return t.Restore
	}
	return false
}

func getenv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getbool(key string, fallback bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return fallback
	}
	return b
}

func getint(key string, fallback int) int {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fallback
	}
	return n
}

func getduration(key string, fallback time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return fallback
	}
	return d
}

func getcsv(key string, fallback []string) []string {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	out := stringsutil.DedupeAndTrim(strings.Split(v, ","))
	if len(out) == 0 {
		return fallback
	}
	return out
}
