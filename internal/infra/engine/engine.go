// Package engine runs batched autoregressive decoding over a pluggable
// model backend. One call to Run is one decoding pass: every task in the
// batch advances one token per step until it hits EOS or its token budget.
package engine

import (
	"context"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"slices"
	"sync/atomic"
	"time"

	"github.com/langport/worker/internal/domain"
	"github.com/langport/worker/internal/infra/metrics"
)

// DefaultStreamInterval is the number of steps between intermediate data
// events when the config leaves it unset.
const DefaultStreamInterval = 2

// Config tunes one engine instance.
type Config struct {
	ModelName      string
	StreamInterval int    // emit a data event every N steps
	ContextLength  int    // prompt + max_new_tokens bound; 0 disables the check
	Seed           uint64 // sampling seed; combined with the pass number
}

// Engine owns a model and tokenizer pair and decodes batches of tasks.
// Run is not safe for concurrent use; the worker serializes passes
// through its admission limiter.
type Engine struct {
	model  domain.Model
	tok    domain.Tokenizer
	cfg    Config
	log    *slog.Logger

	passes    atomic.Uint64
	completed atomic.Uint64
}

// New creates an engine.
func New(model domain.Model, tok domain.Tokenizer, cfg Config, logger *slog.Logger) *Engine {
	if cfg.StreamInterval < 1 {
		cfg.StreamInterval = DefaultStreamInterval
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{
		model: model,
		tok:   tok,
		cfg:   cfg,
		log:   logger.With("component", "engine", "model", cfg.ModelName),
	}
}

// ModelName returns the configured model name.
func (e *Engine) ModelName() string { return e.cfg.ModelName }

// Passes returns how many decoding passes have started.
func (e *Engine) Passes() uint64 { return e.passes.Load() }

// Completed returns how many decoding passes have finished, failed passes
// included.
func (e *Engine) Completed() uint64 { return e.completed.Load() }

// slot is one task's decoding state within a pass.
type slot struct {
	task      domain.Task
	ids       []int32 // prompt ids, right-padded to the longest prompt
	promptLen int
	chain     Chain
	greedy    bool
	generated []int32
	active    bool
}

// Run decodes one batch. Every task receives exactly one terminal event
// through emit: tasks rejected during setup or failing individually get an
// error event without affecting the rest of the batch. A backend step
// failure fails every task still active and is returned. A panic in the
// backend or the pass itself is recovered the same way.
func (e *Engine) Run(ctx context.Context, tasks []domain.Task, emit func(domain.ResultEvent)) (err error) {
	if len(tasks) == 0 {
		return nil
	}

	start := time.Now()
	pass := e.passes.Add(1)
	defer e.completed.Add(1)
	rng := rand.New(rand.NewPCG(e.cfg.Seed, pass))

	metrics.BatchSize.Observe(float64(len(tasks)))
	finished := make(map[string]bool, len(tasks))
	out := func(ev domain.ResultEvent) {
		switch ev.Kind {
		case domain.EventDone:
			metrics.TasksCompleted.Inc()
		case domain.EventError:
			metrics.TasksFailed.WithLabelValues(ev.ErrorCode.String()).Inc()
		}
		if ev.IsTerminal() {
			finished[ev.TaskID] = true
		}
		emit(ev)
	}

	defer func() {
		r := recover()
		if r == nil {
			return
		}
		err = domain.WrapTaskError(domain.CodeInternal, fmt.Errorf("decoding pass %d panicked: %v", pass, r))
		failed := 0
		for _, t := range tasks {
			if !finished[t.ID] {
				failed++
				out(domain.ErrorEvent(t.ID, err))
			}
		}
		e.log.Error("decoding pass panicked", "pass", pass, "panic", r, "failed_tasks", failed)
	}()

	slots := e.prepare(tasks, out)
	defer func() {
		produced := 0
		for _, s := range slots {
			produced += len(s.generated)
		}
		metrics.GeneratedTokens.WithLabelValues(e.cfg.ModelName).Add(float64(produced))
		metrics.BatchLatency.WithLabelValues(e.cfg.ModelName).Observe(time.Since(start).Seconds())
		e.log.Debug("decoding pass finished", "pass", pass, "tasks", len(tasks),
			"tokens", produced, "duration", time.Since(start))
	}()
	if len(slots) == 0 {
		return nil
	}

	rows, steps := initialContext(slots)
	e.log.Debug("decoding pass started", "pass", pass, "tasks", len(slots),
		"context", len(rows[0]), "steps", steps)

	var state domain.ModelState
	defer func() {
		if state != nil {
			state.Release()
		}
	}()

	vocab := e.model.VocabSize()
	for step := 0; step < steps; step++ {
		logits, next, err := e.model.Step(ctx, rows, state)
		if next != nil {
			state = next
		}
		if err == nil && len(logits) != len(rows) {
			err = fmt.Errorf("got %d logits rows for %d inputs: %w", len(logits), len(rows), domain.ErrBadLogits)
		}
		if err != nil {
			e.failActive(slots, err, out)
			return fmt.Errorf("decoding step %d: %w", step, err)
		}

		active := false
		for i, s := range slots {
			tok := e.tok.EOS()
			if s.active {
				tok = e.advance(s, step, rows[i], logits[i], vocab, rng, out)
				active = active || s.active
			}
			rows[i] = append(rows[i], tok)
		}
		if !active {
			break
		}
	}
	return nil
}

// prepare encodes and checks every task, emitting error events for the
// ones that cannot run. Surviving prompts are padded to a common length.
func (e *Engine) prepare(tasks []domain.Task, out func(domain.ResultEvent)) []*slot {
	slots := make([]*slot, 0, len(tasks))
	longest := 0
	for _, t := range tasks {
		if err := t.Validate(); err != nil {
			out(domain.ErrorEvent(t.ID, err))
			continue
		}
		ids, n, err := e.tok.Encode(t.Prompt, 0)
		switch {
		case err != nil:
			out(domain.ErrorEvent(t.ID, domain.WrapTaskError(domain.CodeInternal,
				fmt.Errorf("encode prompt: %w", err))))
			continue
		case n == 0:
			out(domain.ErrorEvent(t.ID, domain.NewTaskError(domain.CodeValidation, "prompt is empty")))
			continue
		case e.cfg.ContextLength > 0 && t.MaxNewTokens > e.cfg.ContextLength-n:
			out(domain.ErrorEvent(t.ID, fmt.Errorf("prompt of %d tokens plus %d new tokens exceeds %d: %w",
				n, t.MaxNewTokens, e.cfg.ContextLength, domain.ErrContextExceeded)))
			continue
		}

		slots = append(slots, &slot{
			task:      t,
			ids:       ids[:n],
			promptLen: n,
			chain:     ChainFor(t),
			greedy:    t.Greedy(),
			active:    true,
		})
		longest = max(longest, n)
	}

	pad := e.tok.Pad()
	for _, s := range slots {
		for len(s.ids) < longest {
			s.ids = append(s.ids, pad)
		}
	}
	return slots
}

// initialContext truncates every prompt to the shortest true length and
// returns the rows with the number of steps the pass may take.
func initialContext(slots []*slot) ([][]int32, int) {
	shortest, steps := slots[0].promptLen, 0
	for _, s := range slots {
		shortest = min(shortest, s.promptLen)
		steps = max(steps, s.task.MaxNewTokens)
	}

	rows := make([][]int32, len(slots))
	for i, s := range slots {
		rows[i] = slices.Clone(s.ids[:shortest])
	}
	return rows, steps
}

// advance processes one active task for one step and returns the token to
// append to its row.
func (e *Engine) advance(s *slot, step int, row []int32, logits []float32, vocab int, rng *rand.Rand, out func(domain.ResultEvent)) int32 {
	eos := e.tok.EOS()

	scores, err := toScores(logits, vocab)
	if err != nil {
		s.active = false
		out(domain.ErrorEvent(s.task.ID, fmt.Errorf("step %d: %w", step, err)))
		return eos
	}
	tok := selectToken(s.chain.Apply(scores, row), s.greedy, rng)
	final := step == s.task.MaxNewTokens-1

	// Still inside this task's prompt: replay the known token.
	if pos := len(row); pos < s.promptLen {
		if final {
			s.active = false
			out(domain.DataEvent(s.task.ID, e.tok.Decode(s.generated), s.promptLen, len(s.generated)))
			out(domain.DoneEvent(s.task.ID))
		}
		return s.ids[pos]
	}

	s.generated = append(s.generated, tok)
	stopped := tok == eos
	if step%e.cfg.StreamInterval == 0 || final || stopped {
		out(domain.DataEvent(s.task.ID, e.tok.Decode(s.generated), s.promptLen, len(s.generated)))
	}
	if final || stopped {
		s.active = false
		out(domain.DoneEvent(s.task.ID))
	}
	return tok
}

// failActive ends every active task with an error event for err.
func (e *Engine) failActive(slots []*slot, err error, out func(domain.ResultEvent)) {
	failed := 0
	for _, s := range slots {
		if !s.active {
			continue
		}
		s.active = false
		failed++
		out(domain.ErrorEvent(s.task.ID, err))
	}
	e.log.Error("decoding pass failed", "error", err, "failed_tasks", failed)
}
