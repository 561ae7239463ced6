package app

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"surveybot/internal/config"
	"surveybot/internal/ledger"
	"surveybot/internal/messaging/dryrun"
	"surveybot/internal/surveys"
)

const testConfig = `{
  "messaging": {"driver": "dryrun", "dry_run_names": {"u1": "Ada Lovelace"}},
  "ledger": {"driver": "memory"},
  "reminders": {"enabled": true, "schedule": "@every 1h", "call_timeout": "2s"},
  "idempotency": {"driver": "memory", "ttl": "1m"},
  "logging": {"level": "error"}
}`

func startApp(t *testing.T, body string) (*App, string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.json")
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	a, err := New(path)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if err := a.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := a.Stop(ctx, StopUnknown); err != nil {
			t.Errorf("Stop: %v", err)
		}
	})
	return a, path
}

func hasSchedule(a *App, name string) bool {
	for _, s := range a.Scheduler().Snapshot().Schedules {
		if s.Name == name {
			return true
		}
	}
	return false
}

func TestAppSurveyFlow(t *testing.T) {
	a, _ := startApp(t, testConfig)
	ctx := context.Background()
	svc := a.Surveys()

	if !hasSchedule(a, SweepTask) {
		t.Fatalf("reminder sweep not scheduled")
	}

	if err := svc.CreateGroup(ctx, "team", "owner", []string{"u1", "u2"}); err != nil {
		t.Fatalf("CreateGroup: %v", err)
	}
	err := svc.Create(ctx, surveys.CreateRequest{
		Name:            "Pulse",
		Creator:         "owner",
		Questions:       []ledger.Question{{Text: "Mood?"}, {Text: "Blockers?"}},
		Group:           "team",
		ReminderMessage: "Hi [firstName]",
		ReminderHours:   1,
	})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}

	req := surveys.SubmitRequest{EventID: "cb-1", Survey: "Pulse", User: "u1", Index: 0, Answer: "good"}
	res, err := svc.Submit(ctx, req)
	if err != nil || res.Duplicate || res.Question != "Mood?" {
		t.Fatalf("Submit = %+v, %v", res, err)
	}
	res, err = svc.Submit(ctx, req)
	if err != nil || !res.Duplicate {
		t.Fatalf("replayed Submit = %+v, %v", res, err)
	}
	req.EventID = "cb-2"
	if _, err := svc.Submit(ctx, req); !errors.Is(err, surveys.ErrAlreadyAnswered) {
		t.Fatalf("second answer err = %v, want ErrAlreadyAnswered", err)
	}

	// Freshly created surveys are not due until one interval has passed.
	rep, err := a.Sweep(ctx)
	if err != nil {
		t.Fatalf("Sweep: %v", err)
	}
	if rep.Surveys != 1 || rep.Skipped != 1 || rep.Reminded != 0 {
		t.Fatalf("report = %+v", rep)
	}
	dr, ok := a.Messenger().(*dryrun.Client)
	if !ok {
		t.Fatalf("messenger = %T, want dry-run client", a.Messenger())
	}
	if n := len(dr.Sent()); n != 0 {
		t.Fatalf("sent %d messages, want 0", n)
	}
}

func TestAppReloadTogglesReminders(t *testing.T) {
	a, path := startApp(t, testConfig)

	disabled := strings.Replace(testConfig, `"enabled": true`, `"enabled": false`, 1)
	deadline := time.Now().Add(5 * time.Second)
	for hasSchedule(a, SweepTask) {
		if time.Now().After(deadline) {
			t.Fatalf("sweep still scheduled after reload")
		}
		if err := os.WriteFile(path, []byte(disabled), 0o644); err != nil {
			t.Fatalf("write config: %v", err)
		}
		time.Sleep(100 * time.Millisecond)
	}
}

func TestNewRejectsInvalidConfig(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "config.json")
	bad := strings.Replace(testConfig, `"@every 1h"`, `"fortnightly"`, 1)
	if err := os.WriteFile(path, []byte(bad), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	if _, err := New(path); err == nil {
		t.Fatalf("expected error for bad schedule")
	}
}

func TestMapReminderConfigDefaults(t *testing.T) {
	t.Parallel()

	plan, err := mapReminderConfig(&config.Config{Reminders: config.RemindersConfig{Enabled: true, Timezone: "UTC"}})
	if err != nil {
		t.Fatalf("mapReminderConfig: %v", err)
	}
	if plan.Schedule != defaultSchedule || plan.SweepTimeout != defaultSweepTimeout {
		t.Fatalf("plan = %+v", plan)
	}
	if plan.Scheduler.Timezone != "UTC" {
		t.Fatalf("timezone = %q", plan.Scheduler.Timezone)
	}

	if _, err := mapReminderConfig(&config.Config{Reminders: config.RemindersConfig{SweepTimeout: "later"}}); err == nil {
		t.Fatalf("expected sweep_timeout error")
	}
}

func TestMapStorageConfig(t *testing.T) {
	t.Parallel()

	sc, err := mapStorageConfig(&config.Config{Ledger: config.LedgerConfig{Driver: " SQLite ", Path: " ./db "}})
	if err != nil {
		t.Fatalf("mapStorageConfig: %v", err)
	}
	if sc.Driver != "sqlite" || sc.Path != "./db" || sc.BusyTimeout != defaultBusyTimeout {
		t.Fatalf("storage config = %+v", sc)
	}
}

func TestAppDebugStatus(t *testing.T) {
	body := strings.Replace(testConfig, `"logging": {"level": "error"}`,
		`"logging": {"level": "error"}, "debug": {"enabled": true, "addr": "127.0.0.1:0"}`, 1)
	a, _ := startApp(t, body)

	resp, err := http.Get("http://" + a.debug.Addr() + "/debug/status")
	if err != nil {
		t.Fatalf("GET status: %v", err)
	}
	defer resp.Body.Close()
	var st Status
	if err := json.NewDecoder(resp.Body).Decode(&st); err != nil {
		t.Fatalf("decode status: %v", err)
	}
	if !st.Scheduler.Running || len(st.Scheduler.Schedules) != 1 || st.Scheduler.Schedules[0].Name != SweepTask {
		t.Fatalf("scheduler status = %+v", st.Scheduler)
	}
}
