package domain

import (
	"errors"
	"fmt"
	"net/http"
	"testing"
)

func validTask() Task {
	return Task{
		ID:                "task-1",
		Prompt:            "hello",
		MaxNewTokens:      16,
		Temperature:       0.7,
		RepetitionPenalty: 1.0,
		TopP:              1.0,
	}
}

func TestTask_Validate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Task)
		want   ErrorCode
	}{
		{"valid", func(*Task) {}, 0},
		{"missing id", func(t *Task) { t.ID = "" }, CodeValidation},
		{"zero max tokens", func(t *Task) { t.MaxNewTokens = 0 }, CodeParamOutOfRange},
		{"negative temperature", func(t *Task) { t.Temperature = -0.1 }, CodeParamOutOfRange},
		{"penalty below one", func(t *Task) { t.RepetitionPenalty = 0.5 }, CodeParamOutOfRange},
		{"top_p above one", func(t *Task) { t.TopP = 1.5 }, CodeParamOutOfRange},
		{"negative top_k", func(t *Task) { t.TopK = -1 }, CodeParamOutOfRange},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			task := validTask()
			tt.mutate(&task)
			err := task.Validate()
			if got := CodeOf(err); got != tt.want {
				t.Errorf("CodeOf(Validate()) = %v, want %v (err=%v)", got, tt.want, err)
			}
		})
	}
}

func TestTask_Greedy(t *testing.T) {
	task := validTask()
	if task.Greedy() {
		t.Error("temperature 0.7 / top_p 1.0 should sample")
	}
	task.Temperature = 0
	if !task.Greedy() {
		t.Error("temperature 0 should be greedy")
	}
	task.Temperature = 0.7
	task.TopP = 0
	if !task.Greedy() {
		t.Error("top_p 0 should be greedy")
	}
}

func TestCodeOf(t *testing.T) {
	tests := []struct {
		err  error
		want ErrorCode
	}{
		{nil, 0},
		{errors.New("boom"), CodeInternal},
		{fmt.Errorf("step: %w", ErrOutOfMemory), CodeOutOfMemory},
		{ErrContextExceeded, CodeContextOverflow},
		{ErrEngineOverloaded, CodeEngineOverloaded},
		{NewTaskError(CodeRateLimit, "slow down"), CodeRateLimit},
		{fmt.Errorf("wrapped: %w", NewTaskError(CodeQuotaExceeded, "quota")), CodeQuotaExceeded},
	}
	for _, tt := range tests {
		if got := CodeOf(tt.err); got != tt.want {
			t.Errorf("CodeOf(%v) = %v, want %v", tt.err, got, tt.want)
		}
	}
}

func TestErrorCode_HTTPStatus(t *testing.T) {
	tests := []struct {
		code ErrorCode
		want int
	}{
		{CodeValidation, http.StatusBadRequest},
		{CodeIncorrectAuthKey, http.StatusUnauthorized},
		{CodeInvalidModel, http.StatusBadRequest},
		{CodeParamOutOfRange, http.StatusBadRequest},
		{CodeContextOverflow, http.StatusBadRequest},
		{CodeNoPermission, http.StatusUnauthorized},
		{CodeEngineOverloaded, http.StatusTooManyRequests},
		{CodeOutOfMemory, http.StatusInternalServerError},
	}
	for _, tt := range tests {
		if got := tt.code.HTTPStatus(); got != tt.want {
			t.Errorf("%s.HTTPStatus() = %d, want %d", tt.code, got, tt.want)
		}
	}
}

func TestErrorEvent(t *testing.T) {
	ev := ErrorEvent("t1", WrapTaskError(CodeOutOfMemory, errors.New("oom")))
	if !ev.IsTerminal() {
		t.Error("error event should be terminal")
	}
	if ev.ErrorCode != CodeOutOfMemory {
		t.Errorf("ErrorCode = %v, want %v", ev.ErrorCode, CodeOutOfMemory)
	}
	if ev.ErrorMessage != "oom" {
		t.Errorf("ErrorMessage = %q, want %q", ev.ErrorMessage, "oom")
	}
}

func TestDataEvent_Usage(t *testing.T) {
	ev := DataEvent("t1", "hi", 5, 3)
	if ev.IsTerminal() {
		t.Error("data event should not be terminal")
	}
	if ev.Usage.TotalTokens != 8 {
		t.Errorf("TotalTokens = %d, want 8", ev.Usage.TotalTokens)
	}
}
