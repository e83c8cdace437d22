package scheduler

import (
	"strings"
	"testing"
	"time"
)

func archiveTrigger() *Trigger {
	return &Trigger{
		ID:          "archive-expired-events",
		Cron:        "3 7 * * *",
		Job:         "archive",
		Timeout:     300 * time.Second,
		Timezone:    "UTC",
		Enabled:     true,
		Description: "Archive events whose final occurrence has passed",
	}
}

func TestNewRegistry(t *testing.T) {
	registry := NewRegistry()
	if registry.Count() != 0 {
		t.Errorf("Expected empty registry, got %d triggers", registry.Count())
	}
}

func TestRegister_Valid(t *testing.T) {
	registry := NewRegistry()
	trigger := archiveTrigger()

	if err := registry.Register(trigger); err != nil {
		t.Fatalf("Failed to register valid trigger: %v", err)
	}
	if registry.Count() != 1 {
		t.Errorf("Expected 1 trigger, got %d", registry.Count())
	}

	retrieved, exists := registry.Get(trigger.ID)
	if !exists {
		t.Fatal("Trigger not found after registration")
	}
	if retrieved != trigger {
		t.Error("Get should return the registered trigger")
	}
}

func TestRegister_DuplicateID(t *testing.T) {
	registry := NewRegistry()
	registry.MustRegister(archiveTrigger())

	err := registry.Register(archiveTrigger())
	if err == nil || !strings.Contains(err.Error(), "already exists") {
		t.Fatalf("Expected duplicate error, got %v", err)
	}
	if registry.Count() != 1 {
		t.Errorf("Expected 1 trigger, got %d", registry.Count())
	}
}

func TestRegister_Invalid(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Trigger)
		wantErr string
	}{
		{"empty id", func(tr *Trigger) { tr.ID = "" }, "ID cannot be empty"},
		{"id with spaces", func(tr *Trigger) { tr.ID = "archive events" }, "alphanumeric"},
		{"id with colon", func(tr *Trigger) { tr.ID = "rrdb:archive" }, "alphanumeric"},
		{"empty cron", func(tr *Trigger) { tr.Cron = "" }, "cron expression cannot be empty"},
		{"six field cron", func(tr *Trigger) { tr.Cron = "0 3 7 * * *" }, "invalid cron"},
		{"garbage cron", func(tr *Trigger) { tr.Cron = "every day" }, "invalid cron"},
		{"out of range minute", func(tr *Trigger) { tr.Cron = "60 7 * * *" }, "invalid cron"},
		{"empty job", func(tr *Trigger) { tr.Job = "" }, "job name"},
		{"negative timeout", func(tr *Trigger) { tr.Timeout = -time.Second }, "timeout"},
		{"bad timezone", func(tr *Trigger) { tr.Timezone = "Mars/Olympus" }, "invalid timezone"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			trigger := archiveTrigger()
			tt.mutate(trigger)

			err := NewRegistry().Register(trigger)
			if err == nil {
				t.Fatal("Expected error")
			}
			if !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("error %q does not mention %q", err, tt.wantErr)
			}
		})
	}
}

func TestRegister_DefaultTimezone(t *testing.T) {
	registry := NewRegistry()
	trigger := archiveTrigger()
	trigger.Timezone = ""

	registry.MustRegister(trigger)
	if trigger.Timezone != "UTC" {
		t.Errorf("Timezone = %q, want UTC", trigger.Timezone)
	}
}

func TestMustRegister_Invalid(t *testing.T) {
	defer func() {
		if recover() == nil {
			t.Error("Expected MustRegister to panic")
		}
	}()

	NewRegistry().MustRegister(&Trigger{ID: "bad"})
}

func TestGet_NotFound(t *testing.T) {
	if _, exists := NewRegistry().Get("missing"); exists {
		t.Error("Expected trigger not found")
	}
}

func TestList_OrderedByID(t *testing.T) {
	registry := NewRegistry()
	for _, id := range []string{"c", "a", "b"} {
		registry.MustRegister(&Trigger{ID: id, Cron: "* * * * *", Job: "noop"})
	}

	list := registry.List()
	if len(list) != 3 {
		t.Fatalf("Expected 3 triggers, got %d", len(list))
	}
	for i, want := range []string{"a", "b", "c"} {
		if list[i].ID != want {
			t.Errorf("List()[%d] = %s, want %s", i, list[i].ID, want)
		}
	}
}

func TestNextRun(t *testing.T) {
	tests := []struct {
		name     string
		cron     string
		timezone string
		after    time.Time
		want     time.Time
	}{
		{
			name:  "daily archive before fire time",
			cron:  "3 7 * * *",
			after: time.Date(2024, 6, 2, 6, 0, 0, 0, time.UTC),
			want:  time.Date(2024, 6, 2, 7, 3, 0, 0, time.UTC),
		},
		{
			name:  "daily archive exactly at fire time",
			cron:  "3 7 * * *",
			after: time.Date(2024, 6, 2, 7, 3, 0, 0, time.UTC),
			want:  time.Date(2024, 6, 3, 7, 3, 0, 0, time.UTC),
		},
		{
			name:  "daily archive after fire time",
			cron:  "3 7 * * *",
			after: time.Date(2024, 6, 2, 7, 4, 0, 0, time.UTC),
			want:  time.Date(2024, 6, 3, 7, 3, 0, 0, time.UTC),
		},
		{
			name:  "daily archive across year end",
			cron:  "3 7 * * *",
			after: time.Date(2024, 12, 31, 8, 0, 0, 0, time.UTC),
			want:  time.Date(2025, 1, 1, 7, 3, 0, 0, time.UTC),
		},
		{
			name:  "every 15 minutes",
			cron:  "*/15 * * * *",
			after: time.Date(2025, 11, 10, 14, 7, 0, 0, time.UTC),
			want:  time.Date(2025, 11, 10, 14, 15, 0, 0, time.UTC),
		},
		{
			name:     "timezone offset",
			cron:     "0 9 * * *",
			timezone: "America/New_York",
			after:    time.Date(2025, 11, 10, 13, 0, 0, 0, time.UTC),
			want:     time.Date(2025, 11, 10, 14, 0, 0, 0, time.UTC),
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			registry := NewRegistry()
			trigger := &Trigger{ID: "t", Cron: tt.cron, Job: "noop", Timezone: tt.timezone}
			registry.MustRegister(trigger)

			next, err := registry.NextRun(trigger, tt.after)
			if err != nil {
				t.Fatalf("NextRun failed: %v", err)
			}
			if !next.Equal(tt.want) {
				t.Errorf("NextRun() = %v, want %v", next, tt.want)
			}
		})
	}
}

func TestNextRun_InvalidCron(t *testing.T) {
	_, err := NewRegistry().NextRun(&Trigger{Cron: "invalid"}, time.Now())
	if err == nil {
		t.Error("Expected error for invalid cron")
	}
}

func TestNextRun_InvalidTimezone(t *testing.T) {
	_, err := NewRegistry().NextRun(&Trigger{Cron: "* * * * *", Timezone: "Invalid/Zone"}, time.Now())
	if err == nil {
		t.Error("Expected error for invalid timezone")
	}
}
