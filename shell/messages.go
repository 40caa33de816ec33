package shell

import (
	"context"
	"errors"
	"fmt"
	"time"

	"taskdesk/client"
	"taskdesk/domain"
	"taskdesk/supervisor"
)

// UserMessage turns an operation error into text fit for the user. Details
// stay in the log.
func UserMessage(err error) string {
	if err == nil {
		return ""
	}
	var (
		startErr *supervisor.StartupError
		apiErr   *client.APIError
		valErr   *domain.ValidationError
		transErr *client.TransientError
	)
	switch {
	case errors.As(err, &startErr):
		return startupMessage(startErr)
	case errors.Is(err, supervisor.ErrStopped):
		return "The task service has been shut down."
	case errors.Is(err, ErrNotReady):
		return "The task service is still starting. Please wait a moment."
	case errors.Is(err, ErrBackendDown):
		return "The task service stopped unexpectedly. Choose \"Restart task service\" to try again."
	case errors.Is(err, ErrAlreadyCompleted):
		return "Task is already marked as completed."
	case errors.Is(err, ErrUnknownCommand):
		return err.Error()
	case errors.As(err, &transErr):
		return "The task service is not responding. Please try again."
	case errors.As(err, &valErr):
		return "Invalid input: " + valErr.Error()
	case errors.As(err, &apiErr) && errors.Is(err, domain.ErrInvalid):
		return "Invalid input: " + apiErr.Message
	case errors.Is(err, domain.ErrNotFound):
		return "That task no longer exists. The list has been refreshed."
	case errors.Is(err, context.Canceled):
		return "Cancelled."
	}
	return "Something went wrong. Details were written to the log."
}

func startupMessage(e *supervisor.StartupError) string {
	switch e.Reason {
	case supervisor.ReasonSpawn:
		return fmt.Sprintf("Could not launch the task service: %v", e.Err)
	case supervisor.ReasonTimeout:
		return fmt.Sprintf("The task service did not respond within %s.", e.Elapsed.Round(time.Second))
	case supervisor.ReasonExited:
		return "The task service exited during startup. Check the backend log for details."
	case supervisor.ReasonCancelled, supervisor.ReasonStopped:
		return "Startup was cancelled."
	}
	return "The task service could not be started."
}
