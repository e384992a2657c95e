package engine

import (
	"math"
	"math/rand/v2"
	"sort"

	"gonum.org/v1/gonum/floats"

	"github.com/langport/worker/internal/domain"
)

// ─── Logits Processing ──────────────────────────────────────────────────────
// A task's chain is an ordered list of pure transforms over the score
// vector: temperature, repetition penalty, top-p, top-k. Each transform is
// only present when its parameter makes it non-trivial.

const (
	minTemperature     = 1e-5
	minTopP            = 1e-8
	temperatureEpsilon = 1e-6
)

// ProcessorKind names one transform.
type ProcessorKind int

const (
	Temperature ProcessorKind = iota
	RepetitionPenalty
	TopP
	TopK
)

// String returns the transform name.
func (k ProcessorKind) String() string {
	switch k {
	case Temperature:
		return "temperature"
	case RepetitionPenalty:
		return "repetition_penalty"
	case TopP:
		return "top_p"
	case TopK:
		return "top_k"
	default:
		return "unknown"
	}
}

// Processor is one parameterized transform.
type Processor struct {
	Kind  ProcessorKind
	Value float64
}

// Apply returns the transformed scores. history is the token context used
// by the repetition penalty. scores is not modified.
func (p Processor) Apply(scores []float64, history []int32) []float64 {
	out := make([]float64, len(scores))
	copy(out, scores)

	switch p.Kind {
	case Temperature:
		floats.Scale(1/p.Value, out)
	case RepetitionPenalty:
		applyRepetitionPenalty(out, history, p.Value)
	case TopP:
		applyTopP(out, p.Value)
	case TopK:
		applyTopK(out, int(p.Value))
	}
	return out
}

// Chain is the fixed-order processor list for one task.
type Chain []Processor

// NewChain assembles the chain for the given sampling parameters.
func NewChain(temperature, penalty, topP float64, topK int) Chain {
	var c Chain
	if temperature >= minTemperature && math.Abs(temperature-1) > temperatureEpsilon {
		c = append(c, Processor{Kind: Temperature, Value: temperature})
	}
	if penalty > 1 {
		c = append(c, Processor{Kind: RepetitionPenalty, Value: penalty})
	}
	if topP >= minTopP && topP < 1 {
		c = append(c, Processor{Kind: TopP, Value: topP})
	}
	if topK > 0 {
		c = append(c, Processor{Kind: TopK, Value: float64(topK)})
	}
	return c
}

// ChainFor builds the chain from a task's parameters.
func ChainFor(t domain.Task) Chain {
	return NewChain(t.Temperature, t.RepetitionPenalty, t.TopP, t.TopK)
}

// Apply runs every processor in order.
func (c Chain) Apply(scores []float64, history []int32) []float64 {
	for _, p := range c {
		scores = p.Apply(scores, history)
	}
	return scores
}

// Kinds lists the processors in application order.
func (c Chain) Kinds() []ProcessorKind {
	kinds := make([]ProcessorKind, len(c))
	for i, p := range c {
		kinds[i] = p.Kind
	}
	return kinds
}

// applyRepetitionPenalty divides positive scores and multiplies negative
// scores of every token already present in history, once per token.
func applyRepetitionPenalty(scores []float64, history []int32, penalty float64) {
	seen := make(map[int32]struct{}, len(history))
	for _, tok := range history {
		if tok < 0 || int(tok) >= len(scores) {
			continue
		}
		if _, ok := seen[tok]; ok {
			continue
		}
		seen[tok] = struct{}{}
		if scores[tok] < 0 {
			scores[tok] *= penalty
		} else {
			scores[tok] /= penalty
		}
	}
}

// applyTopP keeps the smallest set of highest-probability tokens whose
// cumulative probability reaches p. The top token always survives.
func applyTopP(scores []float64, p float64) {
	order := sortedDesc(scores)
	probs := softmax(scores)

	cum := 0.0
	for rank, idx := range order {
		if rank > 0 && cum >= p {
			scores[idx] = math.Inf(-1)
			continue
		}
		cum += probs[idx]
	}
}

// applyTopK drops every token scoring below the k-th highest score.
func applyTopK(scores []float64, k int) {
	if k <= 0 || k >= len(scores) {
		return
	}
	order := sortedDesc(scores)
	threshold := scores[order[k-1]]
	for i, s := range scores {
		if s < threshold {
			scores[i] = math.Inf(-1)
		}
	}
}

func sortedDesc(scores []float64) []int {
	order := make([]int, len(scores))
	for i := range order {
		order[i] = i
	}
	sort.SliceStable(order, func(a, b int) bool {
		return scores[order[a]] > scores[order[b]]
	})
	return order
}

// softmax returns normalized probabilities. -Inf scores get probability 0.
func softmax(scores []float64) []float64 {
	probs := make([]float64, len(scores))
	m := floats.Max(scores)
	for i, s := range scores {
		probs[i] = math.Exp(s - m)
	}
	floats.Scale(1/floats.Sum(probs), probs)
	return probs
}

// ─── Token Selection ────────────────────────────────────────────────────────

// selectToken picks the arg-max when greedy, otherwise samples from the
// softmax of scores.
func selectToken(scores []float64, greedy bool, rng *rand.Rand) int32 {
	if greedy {
		return int32(floats.MaxIdx(scores))
	}

	cum := floats.CumSum(make([]float64, len(scores)), softmax(scores))
	total := cum[len(cum)-1]
	u := (1 - rng.Float64()) * total // (0, total]
	idx := sort.SearchFloat64s(cum, u)
	return int32(min(idx, len(cum)-1))
}

// toScores widens a backend logits row, rejecting rows the processors
// cannot work with.
func toScores(logits []float32, vocab int) ([]float64, error) {
	if len(logits) == 0 || (vocab > 0 && len(logits) != vocab) {
		return nil, domain.ErrBadLogits
	}
	scores := make([]float64, len(logits))
	finite := false
	for i, l := range logits {
		v := float64(l)
		if math.IsNaN(v) || math.IsInf(v, 1) {
			return nil, domain.ErrBadLogits
		}
		if !math.IsInf(v, -1) {
			finite = true
		}
		scores[i] = v
	}
	if !finite {
		return nil, domain.ErrBadLogits
	}
	return scores, nil
}
