package shell

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"strings"
	"sync"
	"text/tabwriter"

	"taskdesk/domain"
)

// View is the presentation surface the App drives.
type View interface {
	// Render shows the task list numbered from 1 in the given order.
	Render(tasks []domain.Task)
	Notify(msg string)
	// Fatal reports an error the application cannot continue from.
	Fatal(msg string)
	Menu()
	// Prompt asks for one line of input. It returns io.EOF once input ends.
	Prompt(ctx context.Context, label string) (string, error)
	// Input delivers menu choices. It is closed when input ends.
	Input() <-chan string
}

// MenuItems are the console choices, numbered from 1.
var MenuItems = []string{
	"Add Task",
	"Mark Task as Completed",
	"Update Task",
	"Delete Task",
	"Display Tasks",
	"Restart Task Service",
	"Exit",
}

// Console is a line-oriented View over a reader and a writer.
type Console struct {
	mu    sync.Mutex
	out   io.Writer
	lines chan string
}

func NewConsole(in io.Reader, out io.Writer) *Console {
	c := &Console{out: out, lines: make(chan string)}
	go c.scan(in)
	return c
}

func (c *Console) scan(in io.Reader) {
	defer close(c.lines)
	sc := bufio.NewScanner(in)
	for sc.Scan() {
		c.lines <- strings.TrimRight(sc.Text(), "\r")
	}
}

func (c *Console) Input() <-chan string { return c.lines }

func (c *Console) Render(tasks []domain.Task) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(tasks) == 0 {
		fmt.Fprintln(c.out, "No tasks in the list!")
		return
	}
	fmt.Fprintln(c.out, "\nTodo List:")
	tw := tabwriter.NewWriter(c.out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "#\tDone\tTitle\tPriority\tDeadline\tCategory")
	for i, t := range tasks {
		status := " "
		if t.Completed {
			status = "✓"
		}
		fmt.Fprintf(tw, "%d.\t[%s]\t%s\t%s\t%s\t%s\n",
			i+1, status, t.Title, priorityText(t.Priority), deadlineText(t), deref(t.Category))
	}
	tw.Flush()
}

func (c *Console) Notify(msg string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	fmt.Fprintln(c.out, msg)
}

func (c *Console) Fatal(msg string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	fmt.Fprintln(c.out, "Error: "+msg)
}

func (c *Console) Menu() {
	c.mu.Lock()
	defer c.mu.Unlock()
	fmt.Fprintln(c.out, "\n=== Todo List Application ===")
	for i, item := range MenuItems {
		fmt.Fprintf(c.out, "%d. %s\n", i+1, item)
	}
	fmt.Fprintf(c.out, "\nEnter your choice (1-%d): ", len(MenuItems))
}

func (c *Console) Prompt(ctx context.Context, label string) (string, error) {
	c.mu.Lock()
	fmt.Fprint(c.out, label)
	c.mu.Unlock()
	select {
	case line, ok := <-c.lines:
		if !ok {
			return "", io.EOF
		}
		return strings.TrimSpace(line), nil
	case <-ctx.Done():
		return "", ctx.Err()
	}
}

func priorityText(p *domain.Priority) string {
	if p == nil {
		return "-"
	}
	return string(*p)
}

func deadlineText(t domain.Task) string {
	if t.Deadline == nil {
		return "-"
	}
	return t.Deadline.Format("2006-01-02 15:04")
}

func deref(s *string) string {
	if s == nil || *s == "" {
		return "-"
	}
	return *s
}
