package llm

import (
	"context"
	"errors"
	"testing"
	"time"

	"squint/internal/config"
	ckerrors "squint/internal/errors"
	"squint/internal/slogutil"
)

func TestBatchQueue_FallbackOnFailure(t *testing.T) {
	q := NewBatchQueue[int, string](0, slogutil.NewDiscardLogger())
	batches := Chunk([]int{1, 2, 3, 4, 5}, 2)
	if len(batches) != 3 {
		t.Fatalf("Chunk() = %v", batches)
	}

	var calls []int
	out, stats, err := q.Run(context.Background(), batches,
		func(_ context.Context, b []int) ([]string, error) {
			calls = append(calls, b[0])
			if b[0] == 3 {
				return nil, errors.New("rate limited")
			}
			res := make([]string, len(b))
			for i := range b {
				res[i] = "llm"
			}
			return res, nil
		},
		func(b []int) []string {
			res := make([]string, len(b))
			for i := range b {
				res[i] = "fallback"
			}
			return res
		},
	)
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	want := []string{"llm", "llm", "fallback", "fallback", "llm"}
	if len(out) != len(want) {
		t.Fatalf("out = %v", out)
	}
	for i := range want {
		if out[i] != want[i] {
			t.Errorf("out[%d] = %q, want %q", i, out[i], want[i])
		}
	}
	if stats.Batches != 3 || stats.Succeeded != 2 || stats.Fallbacks != 1 {
		t.Errorf("stats = %+v", stats)
	}
	// Sequential, in order
	if len(calls) != 3 || calls[0] != 1 || calls[1] != 3 || calls[2] != 5 {
		t.Errorf("calls = %v", calls)
	}
}

func TestBatchQueue_Timeout(t *testing.T) {
	q := NewBatchQueue[string, string](20*time.Millisecond, slogutil.NewDiscardLogger())
	out, stats, err := q.Run(context.Background(), [][]string{{"a"}},
		func(ctx context.Context, _ []string) ([]string, error) {
			<-ctx.Done()
			return nil, ctx.Err()
		},
		func(b []string) []string { return []string{"default"} },
	)
	if err != nil {
		t.Fatalf("a batch timeout should not fail the run: %v", err)
	}
	if len(out) != 1 || out[0] != "default" || stats.Fallbacks != 1 {
		t.Errorf("out = %v, stats = %+v", out, stats)
	}
}

func TestBatchQueue_ParentCancelled(t *testing.T) {
	q := NewBatchQueue[int, int](0, slogutil.NewDiscardLogger())
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, _, err := q.Run(ctx, [][]int{{1}}, func(context.Context, []int) ([]int, error) {
		t.Error("fn should not run after cancellation")
		return nil, nil
	}, func([]int) []int { return nil })
	if !errors.Is(err, context.Canceled) {
		t.Errorf("err = %v, want context.Canceled", err)
	}
}

func TestChunk(t *testing.T) {
	if Chunk([]int{}, 3) != nil {
		t.Error("empty input should give no batches")
	}
	if got := Chunk([]int{1, 2, 3}, 0); len(got) != 1 {
		t.Errorf("size 0 = %v", got)
	}
	if got := Chunk([]int{1, 2, 3, 4}, 3); len(got) != 2 || len(got[1]) != 1 {
		t.Errorf("Chunk(4, 3) = %v", got)
	}
}

type record struct {
	ID       int64  `yaml:"id"`
	Semantic string `yaml:"semantic"`
}

func TestDecodeRecords(t *testing.T) {
	tests := []struct {
		name     string
		response string
		wantLen  int
	}{
		{"plain yaml", "- id: 1\n  semantic: reads users\n- id: 2\n  semantic: writes\n", 2},
		{"fenced yaml", "Here you go:\n```yaml\n- id: 7\n  semantic: x\n```\nDone.", 1},
		{"json", `[{"id": 3, "semantic": "calls"}]`, 1},
		{"fenced json", "```json\n[{\"id\": 3, \"semantic\": \"calls\"}]\n```", 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var recs []record
			if err := DecodeRecords(tt.response, &recs); err != nil {
				t.Fatalf("DecodeRecords() error = %v", err)
			}
			if len(recs) != tt.wantLen || recs[0].ID == 0 {
				t.Errorf("records = %+v", recs)
			}
		})
	}
}

func TestDecodeRecords_Malformed(t *testing.T) {
	for _, resp := range []string{"", "   ", "- id: [unclosed", "```yaml"} {
		var recs []record
		err := DecodeRecords(resp, &recs)
		if !ckerrors.Is(err, ckerrors.LLMUnavailable) {
			t.Errorf("DecodeRecords(%q) = %v, want LLM_UNAVAILABLE", resp, err)
		}
	}
}

func TestNewClient_Disabled(t *testing.T) {
	logger := slogutil.NewDiscardLogger()
	if c := NewClient(config.LLMConfig{Enabled: false}, logger); c != nil {
		t.Error("disabled config should give a nil client")
	}
	t.Setenv("SQUINT_TEST_MISSING_KEY", "")
	cfg := config.LLMConfig{Enabled: true, APIKeyEnv: "SQUINT_TEST_MISSING_KEY"}
	if c := NewClient(cfg, logger); c != nil {
		t.Error("missing API key should give a nil client")
	}
	if _, err := NewLangChainClient(cfg, logger); !ckerrors.Is(err, ckerrors.LLMUnavailable) {
		t.Errorf("NewLangChainClient() error = %v", err)
	}
}
