package extractor

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rcliao/agent-recall/internal/chunker"
	"github.com/rcliao/agent-recall/internal/embedding"
	"github.com/rcliao/agent-recall/internal/llm"
	"github.com/rcliao/agent-recall/internal/logging"
	"github.com/rcliao/agent-recall/internal/model"
	"github.com/rcliao/agent-recall/internal/store"
)

func contents(cands []Candidate) []string {
	out := make([]string, len(cands))
	for i, c := range cands {
		out[i] = c.Content
	}
	return out
}

func TestNormalize(t *testing.T) {
	got := Normalize([]Candidate{
		{Content: "  likes   green\ttea ", Importance: 1.7, Kind: "bogus", Tags: []string{" Food ", "food", ""}},
		{Content: "   "},
		{Content: "LIKES GREEN TEA", Importance: 0.2},
		{Content: "works at a bakery", Importance: -1, Kind: model.KindEpisodic},
	})
	require.Len(t, got, 2)
	assert.Equal(t, Candidate{Content: "likes green tea", Importance: 1, Kind: model.KindSemantic, Tags: []string{"food"}}, got[0])
	assert.Equal(t, "works at a bakery", got[1].Content)
	assert.Equal(t, 0.0, got[1].Importance)
	assert.Equal(t, model.KindEpisodic, got[1].Kind)
}

func TestNormalize_KeepsHighestImportance(t *testing.T) {
	got := Normalize([]Candidate{
		{Content: "Prefers tabs", Importance: 0.3},
		{Content: "prefers tabs", Importance: 0.9},
	})
	require.Len(t, got, 1)
	assert.Equal(t, "Prefers tabs", got[0].Content)
	assert.Equal(t, 0.9, got[0].Importance)
}

func TestHeuristic_Extract(t *testing.T) {
	h := NewHeuristic(DefaultHeuristicOptions())
	turn := model.Turn{
		OwnerID:  "u1",
		UserText: "I'm a vegetarian. Always answer in metric units. I love hiking on weekends! What's the weather like?",
	}
	got, err := h.Extract(context.Background(), turn)
	require.NoError(t, err)
	require.Len(t, got, 3, "%v", contents(got))

	assert.Equal(t, "I'm a vegetarian.", got[0].Content)
	assert.Equal(t, model.KindSemantic, got[0].Kind)
	assert.InDelta(t, 0.6, got[0].Importance, 1e-9)
	assert.Equal(t, []string{"personal"}, got[0].Tags)

	assert.Equal(t, model.KindProcedural, got[1].Kind)
	assert.InDelta(t, 0.9, got[1].Importance, 1e-9)

	assert.Equal(t, "I love hiking on weekends!", got[2].Content)
	assert.Equal(t, []string{"preference"}, got[2].Tags)
	assert.InDelta(t, 0.7, got[2].Importance, 1e-9)
}

func TestHeuristic_HedgesLowerImportance(t *testing.T) {
	h := NewHeuristic(DefaultHeuristicOptions())
	got, err := h.Extract(context.Background(), model.Turn{UserText: "Maybe I like jazz now."})
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.InDelta(t, 0.55, got[0].Importance, 1e-9)
}

func TestHeuristic_SkipsNoise(t *testing.T) {
	h := NewHeuristic(DefaultHeuristicOptions())
	for _, text := range []string{
		"",
		"I'm ok.",
		"Do you know my name?",
		"Tell me a joke about cats.",
	} {
		got, err := h.Extract(context.Background(), model.Turn{UserText: text})
		require.NoError(t, err)
		assert.Empty(t, got, "text %q", text)
	}
}

func TestHeuristic_Episodic(t *testing.T) {
	opts := DefaultHeuristicOptions()
	opts.Episodic = true
	h := NewHeuristic(opts)
	got, err := h.Extract(context.Background(), model.Turn{
		UserText:      "Tell me a joke.",
		AssistantText: "Here is one. Why did the chicken cross the road? To get away.",
	})
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, model.KindEpisodic, got[0].Kind)
	assert.Equal(t, "Assistant said: Here is one. Why did the chicken cross the road?", got[0].Content)
	assert.Equal(t, 0.3, got[0].Importance)
}

func TestHeuristic_CanceledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := NewHeuristic(HeuristicOptions{}).Extract(ctx, model.Turn{UserText: "I'm a pilot by trade."})
	assert.ErrorIs(t, err, context.Canceled)
}

func TestLLM_ParsesFencedJSON(t *testing.T) {
	stub := llm.NewStub(0)
	stub.Reply = func(string) (string, error) {
		return "Here you go:\n```json\n" +
			`[{"content": "Has a dog named Rex", "importance": 0.8, "kind": "semantic", "tags": ["pets"]},` +
			`{"content": "has a dog named rex", "importance": 0.4}]` +
			"\n```", nil
	}
	e := NewLLM(stub, nil, logging.Discard())

	got, err := e.Extract(context.Background(), model.Turn{UserText: "My dog Rex is great", AssistantText: "Nice!"})
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, Candidate{Content: "Has a dog named Rex", Importance: 0.8, Kind: model.KindSemantic, Tags: []string{"pets"}}, got[0])

	prompts := stub.Prompts()
	require.Len(t, prompts, 1)
	assert.Contains(t, prompts[0], "user: My dog Rex is great\nassistant: Nice!")
}

func TestLLM_FallsBack(t *testing.T) {
	tests := []struct {
		name  string
		reply func(string) (string, error)
	}{
		{"provider error", func(string) (string, error) { return "", model.ErrProviderUnavailable }},
		{"no array", func(string) (string, error) { return "I could not find anything.", nil }},
		{"bad json", func(string) (string, error) { return `[{"content": }]`, nil }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			stub := llm.NewStub(0)
			stub.Reply = tt.reply
			e := NewLLM(stub, nil, logging.Discard())

			got, err := e.Extract(context.Background(), model.Turn{UserText: "I prefer dark roast coffee."})
			require.NoError(t, err)
			assert.Equal(t, []string{"I prefer dark roast coffee."}, contents(got))
		})
	}
}

func TestLLM_ChunksLongTurns(t *testing.T) {
	stub := llm.NewStub(0)
	stub.Reply = func(prompt string) (string, error) {
		if strings.Contains(prompt, "Miso") {
			return `[{"content": "Has a grey cat named Miso", "importance": 0.7}]`, nil
		}
		return `[{"content": "Sister lives in Lisbon", "importance": 0.6}]`, nil
	}
	e := NewLLM(stub, nil, logging.Discard())
	e.chunk = chunker.Options{TargetSize: 40, MaxSize: 60}

	got, err := e.Extract(context.Background(), model.Turn{
		UserText: "I adopted a grey cat named Miso last spring.\n\nMy sister lives in Lisbon and works as a nurse.",
	})
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"Has a grey cat named Miso", "Sister lives in Lisbon"}, contents(got))

	prompts := stub.Prompts()
	require.Len(t, prompts, 2)
	assert.NotContains(t, prompts[1], "Miso")
}

func TestLLM_FailedWindowFallsBackForWholeTurn(t *testing.T) {
	stub := llm.NewStub(0)
	stub.Reply = func(prompt string) (string, error) {
		if strings.Contains(prompt, "Miso") {
			return `[]`, nil
		}
		return "", model.ErrProviderUnavailable
	}
	e := NewLLM(stub, nil, logging.Discard())
	e.chunk = chunker.Options{TargetSize: 40, MaxSize: 60}

	got, err := e.Extract(context.Background(), model.Turn{
		UserText: "I adopted a grey cat named Miso last spring.\n\nI prefer dark roast coffee over everything.",
	})
	require.NoError(t, err)
	assert.Contains(t, contents(got), "I prefer dark roast coffee over everything.")
}

// memQuerier answers Query by brute force over fixed memories.
type memQuerier struct {
	mems []model.Memory
	err  error
}

func (q *memQuerier) Query(ctx context.Context, owner string, vec []float32, k int, minSim float64) ([]store.Hit, error) {
	if q.err != nil {
		return nil, q.err
	}
	var best *store.Hit
	for _, m := range q.mems {
		if m.OwnerID != owner {
			continue
		}
		sim := embedding.CosineSimilarity(m.Embedding, vec)
		if sim < minSim || (best != nil && sim <= best.Similarity) {
			continue
		}
		best = &store.Hit{Memory: m, Similarity: sim}
	}
	if best == nil {
		return nil, nil
	}
	return []store.Hit{*best}, nil
}

func TestDuplicateFilter(t *testing.T) {
	emb := embedding.NewStaticEmbedder(2)
	emb.Set("known fact", embedding.Vector{1, 0})
	emb.Set("new fact", embedding.Vector{0, 1})
	emb.Set("new fact again", embedding.Vector{0.05, 1})
	emb.Set("other owner fact", embedding.Vector{0.6, 0.8})

	q := &memQuerier{mems: []model.Memory{
		{ID: "m1", OwnerID: "u1", Embedding: []float32{1, 0.01}},
		{ID: "m2", OwnerID: "u2", Embedding: []float32{0.6, 0.8}},
	}}
	f := NewDuplicateFilter(emb, q, 0, logging.Discard())

	got := f.Filter(context.Background(), "u1", []Candidate{
		{Content: "known fact", Importance: 0.5},
		{Content: "new fact", Importance: 0.4},
		{Content: "new fact again", Importance: 0.9},
		{Content: "other owner fact", Importance: 0.5},
		{Content: "never embedded", Importance: 0.5},
	})
	require.Len(t, got, 2)
	assert.Equal(t, "new fact", got[0].Content)
	assert.Equal(t, 0.9, got[0].Importance, "batch duplicate lifts the kept importance")
	assert.Equal(t, embedding.Vector{0, 1}, got[0].Embedding)
	assert.Equal(t, "other owner fact", got[1].Content, "another owner's memory is not a duplicate")
}

func TestDuplicateFilter_ThresholdIsStrict(t *testing.T) {
	emb := embedding.NewStaticEmbedder(2)
	emb.Set("same", embedding.Vector{1, 0})
	q := &memQuerier{mems: []model.Memory{{ID: "m1", OwnerID: "u1", Embedding: []float32{1, 0}}}}

	got := NewDuplicateFilter(emb, q, 1, logging.Discard()).Filter(context.Background(), "u1", []Candidate{{Content: "same"}})
	assert.Len(t, got, 1, "similarity equal to the threshold does not exceed it")
}

func TestDuplicateFilter_LookupFailureDrops(t *testing.T) {
	emb := embedding.NewStaticEmbedder(2)
	emb.Set("fact", embedding.Vector{1, 0})
	q := &memQuerier{err: errors.New("disk on fire")}

	got := NewDuplicateFilter(emb, q, 0, logging.Discard()).Filter(context.Background(), "u1", []Candidate{{Content: "fact"}})
	assert.Empty(t, got)
}
