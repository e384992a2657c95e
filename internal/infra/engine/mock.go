package engine

import (
	"context"
	"errors"
	"sync/atomic"
	"time"
	"unicode/utf8"

	"github.com/langport/worker/internal/domain"
)

// ─── Mock Backend (for running without a real model) ────────────────────────

// ByteTokenizer maps every byte of the prompt to one token. Ids below
// byteOffset are reserved for special tokens.
type ByteTokenizer struct{}

const (
	padID      int32 = 0
	eosID      int32 = 1
	byteOffset int32 = 2

	// ByteVocabSize is the vocabulary size of ByteTokenizer.
	ByteVocabSize = 256 + int(byteOffset)
)

var errInvalidUTF8 = errors.New("prompt is not valid UTF-8")

// Encode implements domain.Tokenizer.
func (ByteTokenizer) Encode(text string, padTo int) ([]int32, int, error) {
	if !utf8.ValidString(text) {
		return nil, 0, errInvalidUTF8
	}
	ids := make([]int32, len(text), max(len(text), padTo))
	for i := 0; i < len(text); i++ {
		ids[i] = int32(text[i]) + byteOffset
	}
	for len(ids) < padTo {
		ids = append(ids, padID)
	}
	return ids, len(text), nil
}

// Decode implements domain.Tokenizer. Special tokens are skipped.
func (ByteTokenizer) Decode(ids []int32) string {
	buf := make([]byte, 0, len(ids))
	for _, id := range ids {
		if id < byteOffset || int(id) >= ByteVocabSize {
			continue
		}
		buf = append(buf, byte(id-byteOffset))
	}
	return string(buf)
}

// EOS implements domain.Tokenizer.
func (ByteTokenizer) EOS() int32 { return eosID }

// Pad implements domain.Tokenizer.
func (ByteTokenizer) Pad() int32 { return padID }

// EchoModel is a deterministic model that, for every row, repeats the row's
// initial context token by token and then predicts EOS. Each prediction is a
// single sharp peak, so greedy and sampled selection agree.
type EchoModel struct {
	// Delay is slept before every step, honoring ctx.
	Delay time.Duration

	steps    atomic.Int64
	created  atomic.Int64
	released atomic.Int64
}

// NewEchoModel creates an echo model.
func NewEchoModel() *EchoModel { return &EchoModel{} }

type echoState struct {
	model    *EchoModel
	init     int
	released atomic.Bool
}

func (s *echoState) Release() {
	if s.released.CompareAndSwap(false, true) {
		s.model.released.Add(1)
	}
}

// VocabSize implements domain.Model.
func (m *EchoModel) VocabSize() int { return ByteVocabSize }

// Step implements domain.Model.
func (m *EchoModel) Step(ctx context.Context, tokens [][]int32, state domain.ModelState) ([][]float32, domain.ModelState, error) {
	if m.Delay > 0 {
		select {
		case <-ctx.Done():
			return nil, state, ctx.Err()
		case <-time.After(m.Delay):
		}
	}
	m.steps.Add(1)

	st, ok := state.(*echoState)
	if !ok {
		init := 0
		if len(tokens) > 0 {
			init = len(tokens[0])
		}
		st = &echoState{model: m, init: init}
		m.created.Add(1)
	}

	logits := make([][]float32, len(tokens))
	for i, row := range tokens {
		target := eosID
		if idx := len(row) - st.init; idx >= 0 && idx < st.init {
			target = row[idx]
		}
		l := make([]float32, ByteVocabSize)
		for j := range l {
			l[j] = -100
		}
		l[target] = 10
		logits[i] = l
	}
	return logits, st, nil
}

// Steps returns the number of Step calls served.
func (m *EchoModel) Steps() int64 { return m.steps.Load() }

// Outstanding returns the number of states created but not yet released.
func (m *EchoModel) Outstanding() int64 { return m.created.Load() - m.released.Load() }
