// Package domain holds the worker's pure data types: generation tasks, the
// result events streamed back to callers, worker status and the error
// taxonomy shared with the controller.
package domain

import (
	"fmt"
	"time"
)

// Task is one generation request with its own sampling parameters.
// It is immutable once submitted.
type Task struct {
	ID                string    `json:"task_id"`
	Prompt            string    `json:"prompt"`
	MaxNewTokens      int       `json:"max_new_tokens"`
	Temperature       float64   `json:"temperature"`
	RepetitionPenalty float64   `json:"repetition_penalty"`
	TopP              float64   `json:"top_p"`
	TopK              int       `json:"top_k"`
	EnqueuedAt        time.Time `json:"enqueued_at"`
}

// Validate checks the sampling parameters. The returned error is a
// *TaskError carrying VALIDATION_TYPE_ERROR or PARAM_OUT_OF_RANGE.
func (t Task) Validate() error {
	if t.ID == "" {
		return NewTaskError(CodeValidation, "task_id is required")
	}
	if t.MaxNewTokens < 1 {
		return NewTaskError(CodeParamOutOfRange, fmt.Sprintf("max_new_tokens must be >= 1, got %d", t.MaxNewTokens))
	}
	if t.Temperature < 0 {
		return NewTaskError(CodeParamOutOfRange, fmt.Sprintf("temperature must be >= 0, got %g", t.Temperature))
	}
	if t.RepetitionPenalty < 1 {
		return NewTaskError(CodeParamOutOfRange, fmt.Sprintf("repetition_penalty must be >= 1, got %g", t.RepetitionPenalty))
	}
	if t.TopP < 0 || t.TopP > 1 {
		return NewTaskError(CodeParamOutOfRange, fmt.Sprintf("top_p must be in [0, 1], got %g", t.TopP))
	}
	if t.TopK < 0 {
		return NewTaskError(CodeParamOutOfRange, fmt.Sprintf("top_k must be >= 0, got %d", t.TopK))
	}
	return nil
}

// Greedy reports whether the task selects tokens by arg-max instead of sampling.
func (t Task) Greedy() bool {
	return t.Temperature < 1e-5 || t.TopP < 1e-8
}

// EventKind discriminates result events.
type EventKind string

const (
	EventData  EventKind = "data"
	EventDone  EventKind = "done"
	EventError EventKind = "error"
)

// Usage is the token accounting attached to data events.
type Usage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// ResultEvent is one streamed result for a task. Text is the full decoded
// output so far, not a delta.
type ResultEvent struct {
	TaskID       string    `json:"task_id"`
	Kind         EventKind `json:"type"`
	Text         string    `json:"text,omitempty"`
	Usage        *Usage    `json:"usage,omitempty"`
	ErrorCode    ErrorCode `json:"error_code,omitempty"`
	ErrorMessage string    `json:"message,omitempty"`
}

// IsTerminal returns true for done and error events.
func (e ResultEvent) IsTerminal() bool {
	return e.Kind == EventDone || e.Kind == EventError
}

// DataEvent builds a data event with usage counters.
func DataEvent(taskID, text string, promptTokens, completionTokens int) ResultEvent {
	return ResultEvent{
		TaskID: taskID,
		Kind:   EventData,
		Text:   text,
		Usage: &Usage{
			PromptTokens:     promptTokens,
			CompletionTokens: completionTokens,
			TotalTokens:      promptTokens + completionTokens,
		},
	}
}

// DoneEvent builds the successful terminal event.
func DoneEvent(taskID string) ResultEvent {
	return ResultEvent{TaskID: taskID, Kind: EventDone}
}

// ErrorEvent builds the failing terminal event for err.
func ErrorEvent(taskID string, err error) ResultEvent {
	return ResultEvent{
		TaskID:       taskID,
		Kind:         EventError,
		ErrorCode:    CodeOf(err),
		ErrorMessage: err.Error(),
	}
}
