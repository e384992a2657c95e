package domain

import "context"

// ─── Backend Contracts ──────────────────────────────────────────────────────
// The model backend and tokenizer are external collaborators. The decoding
// engine depends only on these interfaces.

// ModelState is backend-private incremental state (e.g. a KV cache) that is
// threaded from one decoding step to the next within a single pass.
type ModelState interface {
	// Release frees the state. Called once at the end of every pass.
	Release()
}

// Model produces next-token logits for a batch.
type Model interface {
	// Step runs one forward pass over tokens (one equal-length row per task)
	// and returns the next-token logits for every row. state is nil on the
	// first step of a pass.
	Step(ctx context.Context, tokens [][]int32, state ModelState) ([][]float32, ModelState, error)

	// VocabSize returns the logits width.
	VocabSize() int
}

// Tokenizer converts between text and token ids.
type Tokenizer interface {
	// Encode tokenizes text, right-padding to padTo tokens when padTo is
	// larger than the true length. It returns the ids and the true length.
	Encode(text string, padTo int) ([]int32, int, error)

	// Decode turns ids into text, skipping special tokens.
	Decode(ids []int32) string

	// EOS returns the end-of-sequence id.
	EOS() int32

	// Pad returns the id used for right-padding.
	Pad() int32
}
