package scheduler

import (
	"bytes"
	"context"
	"errors"
	"io"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/subtrack/subscription-service/internal/config"
	"github.com/subtrack/subscription-service/pkg/dispatchclient"
)

type dispatchClientStub struct {
	mu       sync.Mutex
	calls    int
	date     *string
	deadline bool
	summary  *dispatchclient.Summary
	err      error
}

func (s *dispatchClientStub) RunReminderDispatch(ctx context.Context, date *string) (*dispatchclient.Summary, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++
	s.date = date
	_, s.deadline = ctx.Deadline()
	if s.err != nil {
		return nil, s.err
	}
	return s.summary, nil
}

func (s *dispatchClientStub) callCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls
}

func TestDispatchReminders_LogsSummary(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, nil))
	client := &dispatchClientStub{summary: &dispatchclient.Summary{DispatchDate: "2025-06-01", Evaluated: 4, Due: 2, Sent: 1, Failed: 1}}
	jobs := NewJobs(client, logger, config.SchedulerConfig{DispatchTimeoutMinutes: 1})

	jobs.DispatchReminders()

	if client.callCount() != 1 {
		t.Fatalf("expected one dispatch call, got %d", client.callCount())
	}
	if client.date != nil {
		t.Fatalf("expected the API to pick the date, got %q", *client.date)
	}
	if !client.deadline {
		t.Fatal("expected dispatch call to carry a deadline")
	}
	out := buf.String()
	if !strings.Contains(out, "sent=1") || !strings.Contains(out, "failed=1") {
		t.Fatalf("summary not logged: %s", out)
	}
	if !strings.Contains(out, "will be retried") {
		t.Fatalf("expected retry warning: %s", out)
	}
}

func TestDispatchReminders_ClientErrorIsLogged(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, nil))
	client := &dispatchClientStub{err: errors.New("connection refused")}
	jobs := NewJobs(client, logger, config.SchedulerConfig{})

	jobs.DispatchReminders()

	if !strings.Contains(buf.String(), "failed to run reminder dispatch") {
		t.Fatalf("expected error log, got %s", buf.String())
	}
}

func TestDispatchReminders_AlreadyRunning(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, nil))
	client := &dispatchClientStub{summary: &dispatchclient.Summary{DispatchDate: "2025-06-01", AlreadyRunning: true}}

	NewJobs(client, logger, config.SchedulerConfig{}).DispatchReminders()

	if !strings.Contains(buf.String(), "already running") {
		t.Fatalf("expected skip log, got %s", buf.String())
	}
}

func TestScheduler_RejectsBadSchedule(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	cfg := config.SchedulerConfig{ReminderDispatchSchedule: "not a cron"}
	s := NewScheduler(NewJobs(&dispatchClientStub{}, logger, cfg), logger, cfg)

	if err := s.Start(); err == nil {
		t.Fatal("expected invalid schedule to be rejected")
	}
}

func TestScheduler_RunOnStart(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	cfg := config.SchedulerConfig{
		ReminderDispatchSchedule: "CRON_TZ=UTC 0 9 * * *",
		DispatchRunOnStart:       true,
	}
	client := &dispatchClientStub{summary: &dispatchclient.Summary{}}
	s := NewScheduler(NewJobs(client, logger, cfg), logger, cfg)

	if err := s.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer func() { <-s.Stop().Done() }()

	deadline := time.Now().Add(2 * time.Second)
	for client.callCount() == 0 && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}
	if client.callCount() != 1 {
		t.Fatalf("expected one run on start, got %d", client.callCount())
	}
}
