package shell

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	log "github.com/sirupsen/logrus"

	"taskdesk/domain"
	"taskdesk/supervisor"
)

// Supervisor is the part of supervisor.Supervisor the App needs.
type Supervisor interface {
	StartAsync(ctx context.Context, spec supervisor.Spec) <-chan supervisor.Result
	Restart(ctx context.Context, name string) (*supervisor.Handle, error)
	Events() <-chan supervisor.Event
	Shutdown(ctx context.Context) error
}

type App struct {
	sup    Supervisor
	spec   supervisor.Spec
	bridge *Bridge
	view   View
	log    *log.Entry

	progressEvery   time.Duration
	shutdownTimeout time.Duration

	tasks []domain.Task
}

func NewApp(sup Supervisor, spec supervisor.Spec, bridge *Bridge, view View, logger *log.Logger) *App {
	if logger == nil {
		logger = log.StandardLogger()
	}
	if spec.Name == "" {
		spec.Name = spec.Command
	}
	return &App{
		sup:             sup,
		spec:            spec,
		bridge:          bridge,
		view:            view,
		log:             logger.WithField("component", "app"),
		progressEvery:   2 * time.Second,
		shutdownTimeout: 10 * time.Second,
	}
}

// Run starts the backend, then serves the menu until the user exits, input
// ends or ctx is cancelled. A startup failure is returned after being shown
// through View.Fatal; the task list is never rendered in that case.
func (a *App) Run(ctx context.Context) error {
	defer a.shutdown()

	if err := a.start(ctx); err != nil {
		a.log.WithError(err).Error("backend startup failed")
		a.view.Fatal(UserMessage(err))
		return err
	}
	a.bridge.MarkReady()
	a.refresh(ctx)
	return a.loop(ctx)
}

func (a *App) start(ctx context.Context) error {
	a.view.Notify("Starting task service...")
	results := a.sup.StartAsync(ctx, a.spec)
	ticker := time.NewTicker(a.progressEvery)
	defer ticker.Stop()
	began := time.Now()
	for {
		select {
		case res := <-results:
			return res.Err
		case <-ticker.C:
			a.view.Notify(fmt.Sprintf("Still waiting for the task service (%s)...", time.Since(began).Round(time.Second)))
		}
	}
}

func (a *App) shutdown() {
	ctx, cancel := context.WithTimeout(context.Background(), a.shutdownTimeout)
	defer cancel()
	if err := a.sup.Shutdown(ctx); err != nil {
		a.log.WithError(err).Warn("backend shutdown")
	}
}

func (a *App) loop(ctx context.Context) error {
	for {
		a.view.Menu()
		select {
		case <-ctx.Done():
			return nil
		case ev := <-a.sup.Events():
			a.bridge.MarkDown()
			a.log.WithError(ev.Err).WithField("pid", ev.PID).Error("backend went down")
			a.view.Notify(UserMessage(ErrBackendDown))
		case line, ok := <-a.view.Input():
			if !ok {
				return nil
			}
			exit, err := a.handle(ctx, strings.TrimSpace(line))
			if exit || errors.Is(err, io.EOF) {
				return nil
			}
		}
	}
}

// handle runs one menu choice. It reports true when the user chose to exit.
func (a *App) handle(ctx context.Context, choice string) (bool, error) {
	switch choice {
	case "1":
		return false, a.addTask(ctx)
	case "2":
		return false, a.completeTask(ctx)
	case "3":
		return false, a.updateTask(ctx)
	case "4":
		return false, a.deleteTask(ctx)
	case "5":
		a.refresh(ctx)
		return false, nil
	case "6":
		a.restart(ctx)
		return false, nil
	case "7":
		a.view.Notify("Goodbye!")
		return true, nil
	}
	a.view.Notify("Invalid choice! Please try again.")
	return false, nil
}

func (a *App) refresh(ctx context.Context) {
	tasks, err := a.bridge.GetTasks(ctx)
	if err != nil {
		a.view.Notify(UserMessage(err))
		return
	}
	a.tasks = tasks
	a.view.Render(tasks)
}

func (a *App) addTask(ctx context.Context) error {
	title, err := a.view.Prompt(ctx, "Enter task: ")
	if err != nil {
		return err
	}
	p := domain.TaskPatch{Title: &title}
	if err := a.promptDetails(ctx, &p); err != nil {
		return err
	}
	t, err := a.bridge.AddTask(ctx, p)
	if err != nil {
		a.report(ctx, err)
		return nil
	}
	a.view.Notify(fmt.Sprintf("Task '%s' added successfully!", t.Title))
	a.refresh(ctx)
	return nil
}

// promptDetails asks for the optional fields. Blank answers leave a field
// untouched and "-" clears it.
func (a *App) promptDetails(ctx context.Context, p *domain.TaskPatch) error {
	for {
		deadline, err := a.view.Prompt(ctx, "Deadline (YYYY-MM-DD, blank to skip): ")
		if err != nil {
			return err
		}
		if deadline == "" {
			break
		}
		if deadline == "-" {
			p.Deadline = domain.Null[time.Time]()
			break
		}
		d, err := domain.ParseDeadline(deadline)
		if err == nil {
			p.Deadline = domain.Some(d)
			break
		}
		a.view.Notify(UserMessage(err))
	}

	category, err := a.view.Prompt(ctx, "Category (blank to skip): ")
	if err != nil {
		return err
	}
	p.Category = optionalAnswer(category)

	for {
		priority, err := a.view.Prompt(ctx, "Priority (ASAP, 1-4, blank to skip): ")
		if err != nil {
			return err
		}
		switch priority {
		case "":
			return nil
		case "-":
			p.Priority = domain.Null[domain.Priority]()
			return nil
		}
		pr, err := domain.ParsePriority(priority)
		if err == nil {
			p.Priority = domain.Some(pr)
			return nil
		}
		a.view.Notify(UserMessage(err))
	}
}

func optionalAnswer(s string) domain.Optional[string] {
	switch s {
	case "":
		return domain.Optional[string]{}
	case "-":
		return domain.Null[string]()
	}
	return domain.Some(s)
}

func (a *App) completeTask(ctx context.Context) error {
	t, err := a.pickTask(ctx, "Enter task number to mark as completed: ")
	if err != nil || t == nil {
		return err
	}
	if _, err := a.bridge.CompleteTask(ctx, t.ID); err != nil {
		a.report(ctx, err)
		return nil
	}
	a.view.Notify("Task marked as completed!")
	a.refresh(ctx)
	return nil
}

func (a *App) updateTask(ctx context.Context) error {
	t, err := a.pickTask(ctx, "Enter task number to update: ")
	if err != nil || t == nil {
		return err
	}
	title, err := a.view.Prompt(ctx, "Enter new task (blank to keep): ")
	if err != nil {
		return err
	}
	var p domain.TaskPatch
	if title != "" {
		p.Title = &title
	}
	if err := a.promptDetails(ctx, &p); err != nil {
		return err
	}
	if p.Empty() {
		a.view.Notify("Nothing to update.")
		return nil
	}
	if _, err := a.bridge.UpdateTask(ctx, t.ID, p); err != nil {
		a.report(ctx, err)
		return nil
	}
	a.view.Notify("Task updated successfully!")
	a.refresh(ctx)
	return nil
}

func (a *App) deleteTask(ctx context.Context) error {
	t, err := a.pickTask(ctx, "Enter task number to delete: ")
	if err != nil || t == nil {
		return err
	}
	if err := a.bridge.DeleteTask(ctx, t.ID); err != nil {
		a.report(ctx, err)
		return nil
	}
	a.view.Notify(fmt.Sprintf("Task '%s' deleted successfully!", t.Title))
	a.refresh(ctx)
	return nil
}

// pickTask maps a 1-based number from the last rendered list to a task. It
// returns nil without an error when the number is not valid.
func (a *App) pickTask(ctx context.Context, label string) (*domain.Task, error) {
	answer, err := a.view.Prompt(ctx, label)
	if err != nil {
		return nil, err
	}
	n, err := strconv.Atoi(answer)
	if err != nil || n < 1 || n > len(a.tasks) {
		a.view.Notify("Invalid task index!")
		return nil, nil
	}
	t := a.tasks[n-1]
	return &t, nil
}

func (a *App) report(ctx context.Context, err error) {
	a.view.Notify(UserMessage(err))
	if errors.Is(err, domain.ErrNotFound) {
		a.refresh(ctx)
	}
}

func (a *App) restart(ctx context.Context) {
	if a.bridge.Ready() {
		a.view.Notify("The task service is already running.")
		return
	}
	a.view.Notify("Restarting task service...")
	if _, err := a.sup.Restart(ctx, a.spec.Name); err != nil {
		a.log.WithError(err).Error("backend restart failed")
		a.view.Notify(UserMessage(err))
		return
	}
	a.bridge.MarkReady()
	a.view.Notify("Task service restarted.")
	a.refresh(ctx)
}
