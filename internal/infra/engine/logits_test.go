package engine

import (
	"errors"
	"math"
	"math/rand/v2"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"

	"github.com/langport/worker/internal/domain"
)

var negInf = math.Inf(-1)

func TestNewChain_Order(t *testing.T) {
	tests := []struct {
		name                string
		temp, penalty, topP float64
		topK                int
		want                []ProcessorKind
	}{
		{"all", 0.7, 1.2, 0.9, 40, []ProcessorKind{Temperature, RepetitionPenalty, TopP, TopK}},
		{"neutral", 1, 1, 1, 0, []ProcessorKind{}},
		{"greedy temperature skipped", 0, 1, 1, 0, []ProcessorKind{}},
		{"temperature near one skipped", 1 + 1e-7, 1, 1, 0, []ProcessorKind{}},
		{"hot temperature kept", 1.5, 1, 1, 0, []ProcessorKind{Temperature}},
		{"top_p zero skipped", 1, 1, 0, 0, []ProcessorKind{}},
		{"top_p and top_k", 1, 1, 0.5, 3, []ProcessorKind{TopP, TopK}},
		{"penalty only", 1, 1.1, 1, 0, []ProcessorKind{RepetitionPenalty}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := NewChain(tt.temp, tt.penalty, tt.topP, tt.topK).Kinds()
			if diff := cmp.Diff(tt.want, got, cmpopts.EquateEmpty()); diff != "" {
				t.Errorf("chain mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestProcessor_Temperature(t *testing.T) {
	got := Processor{Kind: Temperature, Value: 2}.Apply([]float64{2, 4, -6}, nil)
	if diff := cmp.Diff([]float64{1, 2, -3}, got); diff != "" {
		t.Errorf("mismatch (-want +got):\n%s", diff)
	}
}

func TestProcessor_RepetitionPenalty(t *testing.T) {
	scores := []float64{2, -2, 1, 3}
	got := Processor{Kind: RepetitionPenalty, Value: 2}.Apply(scores, []int32{0, 1, 0, 99})

	// Token 0 appears twice but is penalized once; token 3 is untouched.
	if diff := cmp.Diff([]float64{1, -4, 1, 3}, got); diff != "" {
		t.Errorf("mismatch (-want +got):\n%s", diff)
	}
	if scores[0] != 2 {
		t.Error("Apply must not modify its input")
	}
}

func TestProcessor_TopP(t *testing.T) {
	scores := []float64{math.Log(0.5), math.Log(0.3), math.Log(0.2)}

	got := Processor{Kind: TopP, Value: 0.6}.Apply(scores, nil)
	if math.IsInf(got[0], -1) || math.IsInf(got[1], -1) {
		t.Errorf("top two tokens should survive, got %v", got)
	}
	if !math.IsInf(got[2], -1) {
		t.Errorf("tail token should be masked, got %v", got[2])
	}

	got = Processor{Kind: TopP, Value: 0.1}.Apply(scores, nil)
	if math.IsInf(got[0], -1) {
		t.Error("the top token always survives")
	}
	if !math.IsInf(got[1], -1) || !math.IsInf(got[2], -1) {
		t.Errorf("only the top token should survive, got %v", got)
	}
}

func TestProcessor_TopK(t *testing.T) {
	got := Processor{Kind: TopK, Value: 2}.Apply([]float64{1, 5, 3, 4}, nil)
	if diff := cmp.Diff([]float64{negInf, 5, negInf, 4}, got); diff != "" {
		t.Errorf("mismatch (-want +got):\n%s", diff)
	}

	// Ties with the k-th score survive.
	got = Processor{Kind: TopK, Value: 1}.Apply([]float64{1, 3, 3}, nil)
	if diff := cmp.Diff([]float64{negInf, 3, 3}, got); diff != "" {
		t.Errorf("tie mismatch (-want +got):\n%s", diff)
	}

	// k at or above the vocabulary size is a no-op.
	got = Processor{Kind: TopK, Value: 10}.Apply([]float64{1, 2}, nil)
	if diff := cmp.Diff([]float64{1, 2}, got); diff != "" {
		t.Errorf("no-op mismatch (-want +got):\n%s", diff)
	}
}

func TestChain_AppliesInOrder(t *testing.T) {
	// Temperature 0.5 doubles every score, then top-k 1 keeps the maximum.
	c := NewChain(0.5, 1, 1, 1)
	got := c.Apply([]float64{1, 3, 2}, nil)
	if diff := cmp.Diff([]float64{negInf, 6, negInf}, got); diff != "" {
		t.Errorf("mismatch (-want +got):\n%s", diff)
	}
}

func TestSelectToken_Greedy(t *testing.T) {
	rng := rand.New(rand.NewPCG(1, 1))
	if got := selectToken([]float64{0.1, 2.5, -1, 2.4}, true, rng); got != 1 {
		t.Errorf("greedy = %d, want 1", got)
	}
}

func TestSelectToken_SampleSingleCandidate(t *testing.T) {
	rng := rand.New(rand.NewPCG(7, 7))
	scores := []float64{negInf, negInf, 0, negInf}
	for i := 0; i < 100; i++ {
		if got := selectToken(scores, false, rng); got != 2 {
			t.Fatalf("sample = %d, want 2", got)
		}
	}
}

func TestSelectToken_SampleDistribution(t *testing.T) {
	rng := rand.New(rand.NewPCG(42, 0))
	scores := []float64{math.Log(0.75), math.Log(0.25)}

	const draws = 4000
	zeros := 0
	for i := 0; i < draws; i++ {
		if selectToken(scores, false, rng) == 0 {
			zeros++
		}
	}
	if frac := float64(zeros) / draws; math.Abs(frac-0.75) > 0.05 {
		t.Errorf("token 0 sampled %.3f of the time, want ~0.75", frac)
	}
}

func TestToScores(t *testing.T) {
	nan := float32(math.NaN())
	posInf := float32(math.Inf(1))
	ninf := float32(math.Inf(-1))

	tests := []struct {
		name    string
		logits  []float32
		vocab   int
		wantErr bool
	}{
		{"valid", []float32{0, 1, 2}, 3, false},
		{"partially masked", []float32{ninf, 1, ninf}, 3, false},
		{"unchecked vocab", []float32{1, 2}, 0, false},
		{"empty", nil, 3, true},
		{"width mismatch", []float32{1, 2}, 3, true},
		{"nan", []float32{0, nan, 1}, 3, true},
		{"positive inf", []float32{0, posInf, 1}, 3, true},
		{"all masked", []float32{ninf, ninf}, 2, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := toScores(tt.logits, tt.vocab)
			if tt.wantErr {
				if !errors.Is(err, domain.ErrBadLogits) {
					t.Errorf("error = %v, want ErrBadLogits", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if len(got) != len(tt.logits) {
				t.Errorf("len = %d, want %d", len(got), len(tt.logits))
			}
		})
	}
}
