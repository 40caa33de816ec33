package shell

import (
	"context"
	"errors"
	"io"
	"strings"
	"testing"
	"time"

	"github.com/sirupsen/logrus/hooks/test"

	"taskdesk/domain"
	"taskdesk/supervisor"
)

func newTestApp(t *testing.T, sup *fakeSupervisor, backend Backend, in io.Reader, out io.Writer) *App {
	t.Helper()
	logger, _ := test.NewNullLogger()
	app := NewApp(sup, supervisor.Spec{Name: "backend", Command: "taskdesk-server"}, NewBridge(backend, logger), NewConsole(in, out), logger)
	app.progressEvery = time.Hour
	return app
}

func TestScriptedSession(t *testing.T) {
	script := strings.Join([]string{
		"1", "Buy milk", "2024-05-01", "Groceries", "asap",
		"9",
		"2", "5",
		"2", "1",
		"2", "1",
		"3", "1", "Buy oat milk", "", "-", "",
		"4", "1",
		"7",
	}, "\n") + "\n"
	var out syncBuffer
	sup := newFakeSupervisor()
	backend := newMemBackend()

	if err := newTestApp(t, sup, backend, strings.NewReader(script), &out).Run(context.Background()); err != nil {
		t.Fatalf("run: %v", err)
	}

	got := out.String()
	for _, want := range []string{
		"No tasks in the list!",
		"Task 'Buy milk' added successfully!",
		"Groceries",
		"ASAP",
		"Invalid choice! Please try again.",
		"Invalid task index!",
		"Task marked as completed!",
		"Task is already marked as completed.",
		"Task updated successfully!",
		"Task 'Buy oat milk' deleted successfully!",
		"Goodbye!",
	} {
		if !strings.Contains(got, want) {
			t.Fatalf("output missing %q:\n%s", want, got)
		}
	}
	if tasks, _ := backend.ListTasks(context.Background()); len(tasks) != 0 {
		t.Fatalf("expected the task to be deleted, got %+v", tasks)
	}
	if started, _, shutdown := sup.counts(); started != 1 || shutdown != 1 {
		t.Fatalf("expected one start and one shutdown, got %d and %d", started, shutdown)
	}
}

func TestUpdateClearsCategory(t *testing.T) {
	backend := newMemBackend()
	cat := "Work"
	if _, err := backend.CreateTask(context.Background(), domain.TaskPatch{Title: strPtr("Report"), Category: domain.Some(cat)}); err != nil {
		t.Fatalf("seed: %v", err)
	}
	script := "3\n1\n\n\n-\n\n7\n"
	var out syncBuffer

	if err := newTestApp(t, newFakeSupervisor(), backend, strings.NewReader(script), &out).Run(context.Background()); err != nil {
		t.Fatalf("run: %v", err)
	}
	task, err := backend.GetTask(context.Background(), 1)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if task.Category != nil || task.Title != "Report" {
		t.Fatalf("expected category cleared and title kept, got %+v", task)
	}
}

func TestStartupFailureRendersNoTasks(t *testing.T) {
	var out syncBuffer
	sup := newFakeSupervisor()
	sup.startErr = &supervisor.StartupError{Name: "backend", Reason: supervisor.ReasonTimeout, Elapsed: 30 * time.Second}

	err := newTestApp(t, sup, newMemBackend(), strings.NewReader("1\nnever\n"), &out).Run(context.Background())
	var serr *supervisor.StartupError
	if !errors.As(err, &serr) {
		t.Fatalf("expected StartupError, got %v", err)
	}

	got := out.String()
	if !strings.Contains(got, "Error: The task service did not respond within 30s.") {
		t.Fatalf("expected fatal message, got:\n%s", got)
	}
	if strings.Contains(got, "Todo List") || strings.Contains(got, "No tasks") {
		t.Fatalf("nothing may be rendered after a failed start:\n%s", got)
	}
	if _, _, shutdown := sup.counts(); shutdown != 1 {
		t.Fatalf("expected shutdown after failed start, got %d", shutdown)
	}
}

func TestBackendDownAndRestart(t *testing.T) {
	pr, pw := io.Pipe()
	defer pw.Close()
	var out syncBuffer
	sup := newFakeSupervisor()
	app := newTestApp(t, sup, newMemBackend(), pr, &out)

	done := make(chan error, 1)
	go func() { done <- app.Run(context.Background()) }()

	waitForOutput(t, &out, "Enter your choice", 1)
	sup.events <- supervisor.Event{Name: "backend", PID: 1001, Err: &supervisor.UnexpectedExitError{Name: "backend", PID: 1001}}
	waitForOutput(t, &out, "stopped unexpectedly", 1)

	io.WriteString(pw, "5\n")
	waitForOutput(t, &out, "stopped unexpectedly", 2)

	io.WriteString(pw, "6\n")
	waitForOutput(t, &out, "Task service restarted.", 1)

	io.WriteString(pw, "6\n")
	waitForOutput(t, &out, "already running", 1)

	io.WriteString(pw, "7\n")
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("run: %v", err)
		}
	case <-time.After(3 * time.Second):
		t.Fatalf("app did not exit")
	}
	if _, restarted, _ := sup.counts(); restarted != 1 {
		t.Fatalf("expected exactly one restart, got %d", restarted)
	}
}

func TestCancelStopsLoop(t *testing.T) {
	pr, pw := io.Pipe()
	defer pw.Close()
	var out syncBuffer
	sup := newFakeSupervisor()
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan error, 1)
	go func() { done <- newTestApp(t, sup, newMemBackend(), pr, &out).Run(ctx) }()
	waitForOutput(t, &out, "Enter your choice", 1)
	cancel()

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("expected clean exit, got %v", err)
		}
	case <-time.After(3 * time.Second):
		t.Fatalf("app did not exit on cancel")
	}
	if _, _, shutdown := sup.counts(); shutdown != 1 {
		t.Fatalf("expected shutdown, got %d", shutdown)
	}
}

func strPtr(s string) *string { return &s }
