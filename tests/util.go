// Package testutil holds the helpers shared by the tests of several packages.
package testutil

import (
	"context"
	"net/mail"
	"os"
	"testing"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/trezcool/gradebook/core"
	"github.com/trezcool/gradebook/core/classroom"
	"github.com/trezcool/gradebook/core/mapping"
	"github.com/trezcool/gradebook/storage/database"
)

// DBEnvVar enables the tests that need PostgreSQL, e.g. `GRADEBOOK_TEST_DB=1 go test ./...`.
// The connection settings come from the TEST_DATABASE_* variables.
const DBEnvVar = "GRADEBOOK_TEST_DB"

// Now is the clock of the fixtures.
var Now = time.Date(2026, 3, 2, 8, 0, 0, 0, time.UTC)

// Config returns a debug configuration with the in-memory backends and no throttling.
func Config() *core.Config {
	return &core.Config{
		Env:              "TEST",
		AppName:          "Gradebook",
		Build:            "test",
		Debug:            true,
		TestMode:         true,
		DefaultFromEmail: mail.Address{Name: "Gradebook", Address: "noreply@school.test"},
		ReportRecipients: []mail.Address{{Address: "admin@school.test"}},
		Server: core.ServerConfig{
			Host:            "localhost",
			Address:         ":0",
			ShutdownTimeout: time.Second,
		},
		Classroom: core.ClassroomConfig{
			Subject:  "admin@school.test",
			OwnerID:  "me",
			Domains:  []string{"school.test"},
			PageSize: 50,
		},
		RateLimit: core.RateLimitConfig{PerMinute: 1000, PerDay: 50000},
		Retry: core.RetryConfig{
			MaxAttempts:      3,
			QuotaDelay:       time.Millisecond,
			UnavailableDelay: time.Millisecond,
			DefaultDelay:     time.Millisecond,
		},
		Cache: core.CacheConfig{TTL: 5 * time.Minute},
		Mapping: core.MappingConfig{
			Strategy:  "BALANCED",
			Store:     "memory",
			SheetName: "Course Mapping",
		},
		Assessment: core.AssessmentConfig{
			FormativeCount:  2,
			SummativeCount:  1,
			IncludeFinal:    true,
			FormativeWeight: 0.15,
			SummativeWeight: 0.20,
			FinalWeight:     0.10,
			GradebookSheet:  "Gradebook",
		},
		Progress: core.ProgressThresholds{Excellent: 0.90, Good: 0.80, Normal: 0.60},
	}
}

// PrepareDB opens a migrated test database, emptied after the test. The test is skipped unless
// DBEnvVar is set.
func PrepareDB(t *testing.T) *sqlx.DB {
	t.Helper()
	if os.Getenv(DBEnvVar) == "" {
		t.Skipf("%s not set: skipping database test", DBEnvVar)
	}
	t.Setenv("ENV", "TEST")
	conf := core.NewConfig()
	if os.Getenv("TEST_DATABASE_NAME") == "" {
		conf.Database.Name = "gradebook_test"
	}

	ctx := context.Background()
	if err := database.CreateIfNotExist(ctx, conf); err != nil {
		t.Fatalf("PrepareDB(): %v", err)
	}
	db, err := database.Open(conf)
	if err != nil {
		t.Fatalf("PrepareDB(): %v", err)
	}
	if err = database.Migrate(ctx, db.DB, "up"); err != nil {
		t.Fatalf("PrepareDB(): %v", err)
	}

	t.Cleanup(func() {
		if _, err := db.Exec("TRUNCATE course_mapping, course_mapping_backup, batch_run"); err != nil {
			t.Errorf("truncating tables: %v", err)
		}
		if err := db.Close(); err != nil {
			t.Errorf("db.Close(): %v", err)
		}
	})
	return db
}

// Courses returns a small classroom: two well named courses, one with a typo and one nobody can
// classify.
func Courses() []classroom.Course {
	return []classroom.Course{
		{ID: "700000000101", Name: "G1 Achievers LT", OwnerID: "me", State: classroom.StateActive, CreatedAt: Now},
		{ID: "700000000102", Name: "G1 Achievers IT", OwnerID: "me", State: classroom.StateActive, CreatedAt: Now},
		{ID: "700000000103", Name: "G2 Voyagrs KCFS", OwnerID: "me", State: classroom.StateActive, CreatedAt: Now},
		{ID: "700000000104", Name: "Staff room", OwnerID: "me", State: classroom.StateActive, CreatedAt: Now},
	}
}

func Mappings() []mapping.Mapping {
	return []mapping.Mapping{
		{
			CourseName: "G1 Achievers", Subject: "LT", CourseID: "700000000101", OriginalName: "G1 Achievers LT",
			Status: mapping.StatusActive, MatchType: mapping.MatchClassified, Score: 95, DiscoveredAt: Now,
		},
		{
			CourseName: "G1 Achievers", Subject: "IT", CourseID: "700000000102",
			Status: mapping.StatusActive, MatchType: mapping.MatchManual, Score: 100,
		},
	}
}
