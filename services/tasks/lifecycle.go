// Package tasks defines the asynq task types and payloads the worker runs.
package tasks

import (
	"encoding/json"
	"fmt"
	"time"

	"wellbook/models"

	"github.com/hibiken/asynq"
)

const (
	// TypeLifecycleEffect runs one side-effect handler for one lifecycle event.
	TypeLifecycleEffect = "lifecycle:effect"
	// TypeCompleteElapsed runs the booking completion sweep.
	TypeCompleteElapsed = "booking:complete-elapsed"
)

// LifecyclePayload is the body of a TypeLifecycleEffect task.
type LifecyclePayload struct {
	Handler string                `json:"handler"`
	Event   models.LifecycleEvent `json:"event"`
}

// LifecycleTaskID is unique per (event, handler), so the queue rejects a
// second enqueue of the same side effect.
func LifecycleTaskID(eventID, handler string) string {
	return eventID + ":" + handler
}

// NewLifecycleTask builds the task for one handler of an event.
func NewLifecycleTask(handler string, ev models.LifecycleEvent, maxRetry int) (*asynq.Task, []asynq.Option, error) {
	b, err := json.Marshal(LifecyclePayload{Handler: handler, Event: ev})
	if err != nil {
		return nil, nil, err
	}
	task := asynq.NewTask(TypeLifecycleEffect, b)
	opts := []asynq.Option{
		asynq.TaskID(LifecycleTaskID(ev.ID, handler)),
		asynq.MaxRetry(maxRetry),
		asynq.Retention(24 * time.Hour),
	}
	return task, opts, nil
}

// ParseLifecyclePayload decodes a TypeLifecycleEffect task.
func ParseLifecyclePayload(task *asynq.Task) (LifecyclePayload, error) {
	var p LifecyclePayload
	if err := json.Unmarshal(task.Payload(), &p); err != nil {
		return p, fmt.Errorf("invalid lifecycle payload: %w", err)
	}
	if p.Handler == "" || p.Event.ID == "" {
		return p, fmt.Errorf("invalid lifecycle payload: missing handler or event id")
	}
	return p, nil
}

// NewCompleteElapsedTask builds the periodic sweep task.
func NewCompleteElapsedTask() *asynq.Task {
	return asynq.NewTask(TypeCompleteElapsed, nil)
}
