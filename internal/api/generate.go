package api

import (
	"encoding/json"
	"net/http"

	"github.com/google/uuid"

	"github.com/langport/worker/internal/domain"
)

// Request defaults for omitted sampling parameters.
const (
	defaultMaxNewTokens      = 256
	defaultTemperature       = 1.0
	defaultRepetitionPenalty = 1.0
	defaultTopP              = 1.0
)

// generateRequest is the body of both generation endpoints. Pointer fields
// distinguish "omitted" from an explicit zero.
type generateRequest struct {
	TaskID            string   `json:"task_id"`
	Prompt            string   `json:"prompt"`
	MaxNewTokens      *int     `json:"max_new_tokens"`
	Temperature       *float64 `json:"temperature"`
	RepetitionPenalty *float64 `json:"repetition_penalty"`
	TopP              *float64 `json:"top_p"`
	TopK              *int     `json:"top_k"`
}

func (req generateRequest) task() domain.Task {
	t := domain.Task{
		ID:                req.TaskID,
		Prompt:            req.Prompt,
		MaxNewTokens:      defaultMaxNewTokens,
		Temperature:       defaultTemperature,
		RepetitionPenalty: defaultRepetitionPenalty,
		TopP:              defaultTopP,
	}
	if t.ID == "" {
		t.ID = uuid.NewString()
	}
	if req.MaxNewTokens != nil {
		t.MaxNewTokens = *req.MaxNewTokens
	}
	if req.Temperature != nil {
		t.Temperature = *req.Temperature
	}
	if req.RepetitionPenalty != nil {
		t.RepetitionPenalty = *req.RepetitionPenalty
	}
	if req.TopP != nil {
		t.TopP = *req.TopP
	}
	if req.TopK != nil {
		t.TopK = *req.TopK
	}
	return t
}

// generateResponse is the collapsed result of /worker_generate: the final
// text and usage plus the terminal status. ErrorCode is 0 on success.
type generateResponse struct {
	TaskID    string           `json:"task_id"`
	Text      string           `json:"text"`
	Usage     *domain.Usage    `json:"usage,omitempty"`
	ErrorCode domain.ErrorCode `json:"error_code"`
	Message   string           `json:"message,omitempty"`
}

func decodeTask(w http.ResponseWriter, r *http.Request) (domain.Task, bool) {
	var req generateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, domain.CodeValidation, "invalid request body: "+err.Error())
		return domain.Task{}, false
	}
	return req.task(), true
}

// --- /worker_generate_stream ---

func (s *Server) handleGenerateStream(w http.ResponseWriter, r *http.Request) {
	task, ok := decodeTask(w, r)
	if !ok {
		return
	}

	events, err := s.worker.Generate(r.Context(), task)
	if err != nil {
		writeError(w, domain.CodeOf(err), err.Error())
		return
	}

	w.Header().Set("Content-Type", "application/x-ndjson")
	w.Header().Set("X-Task-Id", task.ID)
	w.WriteHeader(http.StatusOK)
	flusher, _ := w.(http.Flusher)

	enc := json.NewEncoder(w)
	for ev := range events {
		if err := enc.Encode(ev); err != nil {
			s.log.Debug("stream client went away", "task_id", task.ID, "error", err)
			return
		}
		if flusher != nil {
			flusher.Flush()
		}
	}
}

// --- /worker_generate ---

func (s *Server) handleGenerate(w http.ResponseWriter, r *http.Request) {
	task, ok := decodeTask(w, r)
	if !ok {
		return
	}

	events, err := s.worker.Generate(r.Context(), task)
	if err != nil {
		writeError(w, domain.CodeOf(err), err.Error())
		return
	}

	resp := generateResponse{TaskID: task.ID}
	terminated := false
	for ev := range events {
		switch ev.Kind {
		case domain.EventData:
			resp.Text = ev.Text
			resp.Usage = ev.Usage
		case domain.EventError:
			resp.ErrorCode = ev.ErrorCode
			resp.Message = ev.ErrorMessage
			terminated = true
		case domain.EventDone:
			terminated = true
		}
	}

	if !terminated {
		// The request context ended before the task did.
		s.log.Warn("generation abandoned before completion", "task_id", task.ID, "error", r.Context().Err())
		return
	}
	status := http.StatusOK
	if resp.ErrorCode != 0 {
		status = resp.ErrorCode.HTTPStatus()
	}
	writeJSON(w, status, resp)
}
