package engine

import (
	"context"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rcliao/agent-recall/internal/assembler"
	"github.com/rcliao/agent-recall/internal/embedding"
	"github.com/rcliao/agent-recall/internal/extractor"
	"github.com/rcliao/agent-recall/internal/lifecycle"
	"github.com/rcliao/agent-recall/internal/llm"
	"github.com/rcliao/agent-recall/internal/logging"
	"github.com/rcliao/agent-recall/internal/model"
	"github.com/rcliao/agent-recall/internal/ranker"
	"github.com/rcliao/agent-recall/internal/store"
)

const (
	teaFact  = "I prefer tea over coffee."
	nameFact = "My name is Sam Rivera."
	drinkQ   = "what should I drink this afternoon"
)

type clock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

type fixture struct {
	e    *Engine
	s    *store.SQLiteStore
	emb  *embedding.StaticEmbedder
	stub *llm.Stub
}

func newFixture(t *testing.T, withDispatcher bool) *fixture {
	t.Helper()
	clk := &clock{t: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
	s, err := store.NewSQLiteStore(filepath.Join(t.TempDir(), "recall.db"),
		store.Options{Cap: 50, Now: clk.Now, Logger: logging.Discard()})
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })

	emb := embedding.NewStaticEmbedder(3)
	emb.Set(teaFact, embedding.Vector{1, 0, 0})
	emb.Set(nameFact, embedding.Vector{0, 1, 0})
	emb.Set(drinkQ, embedding.Vector{0.99, 0.14, 0})

	lc, err := lifecycle.New(s, emb, nil, lifecycle.DefaultConfig(), logging.Discard())
	require.NoError(t, err)
	rk, err := ranker.New(s, ranker.DefaultConfig(), clk.Now)
	require.NoError(t, err)

	d := Deps{
		Store:     s,
		Embedder:  emb,
		Extractor: extractor.NewHeuristic(extractor.DefaultHeuristicOptions()),
		Ranker:    rk,
		Assembler: assembler.New(nil),
		Lifecycle: lc,
		Logger:    logging.Discard(),
	}
	stub := llm.NewStub(0)
	if withDispatcher {
		d.Dispatcher, err = llm.NewDispatcher([]llm.Provider{stub}, llm.DispatchOptions{Logger: logging.Discard()})
		require.NoError(t, err)
	}
	e, err := New(d, DefaultConfig())
	require.NoError(t, err)
	e.now = clk.Now
	t.Cleanup(func() { e.Close() })
	return &fixture{e: e, s: s, emb: emb, stub: stub}
}

func tokens(n int) *int { return &n }

func (f *fixture) contents(t *testing.T, owner string) []string {
	t.Helper()
	mems, err := f.s.List(context.Background(), store.ListParams{Owner: owner})
	require.NoError(t, err)
	var out []string
	for _, m := range mems {
		out = append(out, m.Content)
	}
	return out
}

func TestNew_RequiresDeps(t *testing.T) {
	_, err := New(Deps{}, DefaultConfig())
	require.Error(t, err)
	for _, name := range []string{"store", "embedder", "extractor", "ranker", "assembler", "lifecycle"} {
		assert.Contains(t, err.Error(), name)
	}
}

func TestNew_FillsDefaults(t *testing.T) {
	f := newFixture(t, false)
	cfg := f.e.Config()
	assert.Equal(t, 4096, cfg.Budget)
	assert.Equal(t, 30*time.Second, cfg.ExtractTimeout)
	assert.NotNil(t, f.e.deps.Conversations, "sqlite store supplies turns")
	assert.NotNil(t, f.e.deps.Duplicates)
}

func TestExtractAndStore(t *testing.T) {
	f := newFixture(t, false)
	ctx := context.Background()
	turn := model.Turn{OwnerID: "u1", ConversationID: "c1", UserText: teaFact + " " + nameFact + " What's the weather?"}

	ids := f.e.ExtractAndStore(ctx, turn)
	require.Len(t, ids, 2)
	assert.ElementsMatch(t, []string{teaFact, nameFact}, f.contents(t, "u1"))

	mems, err := f.s.List(ctx, store.ListParams{Owner: "u1", Tags: []string{"preference"}})
	require.NoError(t, err)
	require.Len(t, mems, 1)
	m := mems[0]
	assert.Equal(t, teaFact, m.Content)
	assert.Equal(t, "c1", m.ConversationID)
	assert.Equal(t, []string{"preference"}, m.Tags)
	assert.InDelta(t, 0.7, m.Importance, 1e-9)

	t.Run("repeated facts are not stored twice", func(t *testing.T) {
		assert.Empty(t, f.e.ExtractAndStore(ctx, turn))
		assert.Len(t, f.contents(t, "u1"), 2)
	})

	t.Run("owners are isolated", func(t *testing.T) {
		ids := f.e.ExtractAndStore(ctx, model.Turn{OwnerID: "u2", UserText: teaFact})
		assert.Len(t, ids, 1)
	})
}

func TestExtractAndStore_EmbeddingFailureDropsCandidate(t *testing.T) {
	f := newFixture(t, false)
	// No vector is registered for this sentence.
	ids := f.e.ExtractAndStore(context.Background(), model.Turn{
		OwnerID: "u1", UserText: "I love hiking in the mountains. " + teaFact,
	})
	require.Len(t, ids, 1)
	assert.Equal(t, []string{teaFact}, f.contents(t, "u1"))
}

func TestExtractAndStore_NoOwner(t *testing.T) {
	f := newFixture(t, false)
	assert.Nil(t, f.e.ExtractAndStore(context.Background(), model.Turn{UserText: teaFact}))
}

func TestAssembleContext(t *testing.T) {
	f := newFixture(t, false)
	ctx := context.Background()
	f.e.ExtractAndStore(ctx, model.Turn{OwnerID: "u1", UserText: teaFact + " " + nameFact})

	w, err := f.e.AssembleContext(ctx, AssembleRequest{Owner: "u1", Query: drinkQ})
	require.NoError(t, err)
	mems := w.Memories()
	require.Len(t, mems, 1, "the name fact is below the similarity floor")
	assert.Equal(t, teaFact, mems[0].Text)
	assert.LessOrEqual(t, w.TotalTokens, w.Budget)
	assert.Contains(t, w.Prompt(), DefaultConfig().SystemPrompt)

	m, err := f.s.Get(ctx, "u1", mems[0].MemoryID)
	require.NoError(t, err)
	assert.Equal(t, 1, m.AccessCount)

	t.Run("other owners see nothing", func(t *testing.T) {
		w, err := f.e.AssembleContext(ctx, AssembleRequest{Owner: "u2", Query: drinkQ})
		require.NoError(t, err)
		assert.Empty(t, w.Memories())
	})
}

func TestAssembleContext_UsesStoredTurns(t *testing.T) {
	f := newFixture(t, false)
	ctx := context.Background()
	f.e.ExtractAndStore(ctx, model.Turn{OwnerID: "u1", UserText: teaFact})
	for _, text := range []string{"first", "second", drinkQ} {
		_, err := f.s.AppendTurn(ctx, model.Turn{OwnerID: "u1", ConversationID: "c1", UserText: text, AssistantText: "ok"})
		require.NoError(t, err)
	}

	w, err := f.e.AssembleContext(ctx, AssembleRequest{Owner: "u1", ConversationID: "c1", RecentN: 2, NoSystemPrompt: true})
	require.NoError(t, err)
	turns := w.Turns()
	require.Len(t, turns, 2)
	assert.Equal(t, "user: second\nassistant: ok", turns[0].Text)
	// The latest user message doubles as the query.
	require.Len(t, w.Memories(), 1)
	assert.Equal(t, model.BlockMemory, w.Blocks[0].Kind)
}

func TestAssembleContext_Errors(t *testing.T) {
	f := newFixture(t, false)
	ctx := context.Background()

	_, err := f.e.AssembleContext(ctx, AssembleRequest{Query: drinkQ})
	assert.ErrorIs(t, err, model.ErrInvalidInput)

	_, err = f.e.AssembleContext(ctx, AssembleRequest{Owner: "u1", Budget: tokens(3)})
	assert.ErrorIs(t, err, model.ErrBudgetTooSmall)
}

func TestAssembleContext_ZeroBudgetIsNotDefault(t *testing.T) {
	f := newFixture(t, false)
	ctx := context.Background()

	_, err := f.e.AssembleContext(ctx, AssembleRequest{Owner: "u1", Budget: tokens(0)})
	assert.ErrorIs(t, err, model.ErrBudgetTooSmall)

	w, err := f.e.AssembleContext(ctx, AssembleRequest{Owner: "u1", Budget: tokens(0), NoSystemPrompt: true})
	require.NoError(t, err)
	assert.Empty(t, w.Blocks)
	assert.Zero(t, w.TotalTokens)
}

func TestAssembleContext_EmbeddingFailureDegrades(t *testing.T) {
	f := newFixture(t, false)
	ctx := context.Background()
	f.e.ExtractAndStore(ctx, model.Turn{OwnerID: "u1", UserText: teaFact})
	f.emb.Fail = func(string) error { return model.ErrProviderUnavailable }

	w, err := f.e.AssembleContext(ctx, AssembleRequest{
		Owner:       "u1",
		Query:       drinkQ,
		RecentTurns: []model.Turn{{UserText: "hi", AssistantText: "hello"}},
	})
	require.NoError(t, err)
	assert.Empty(t, w.Memories())
	assert.Len(t, w.Turns(), 1)
}

func TestRespond(t *testing.T) {
	f := newFixture(t, true)
	ctx := context.Background()
	f.e.ExtractAndStore(ctx, model.Turn{OwnerID: "u1", UserText: teaFact})
	f.stub.Reply = func(prompt string) (string, error) { return " Green tea, then. ", nil }

	resp, err := f.e.Respond(ctx, RespondRequest{Owner: "u1", ConversationID: "c1", Message: drinkQ})
	require.NoError(t, err)
	assert.Equal(t, "Green tea, then.", resp.Text)
	assert.Equal(t, llm.ProviderStub, resp.Provider)
	assert.NotEmpty(t, resp.Turn.ID)

	prompts := f.stub.Prompts()
	require.Len(t, prompts, 1)
	assert.Contains(t, prompts[0], teaFact)
	assert.True(t, strings.HasSuffix(prompts[0], "user: "+drinkQ+"\nassistant:"))

	turns, err := f.s.RecentTurns(ctx, "u1", "c1", 5)
	require.NoError(t, err)
	require.Len(t, turns, 1)
	assert.Equal(t, drinkQ, turns[0].UserText)
}

func TestRespond_BudgetCoversWholePrompt(t *testing.T) {
	f := newFixture(t, true)
	ctx := context.Background()
	f.e.ExtractAndStore(ctx, model.Turn{OwnerID: "u1", UserText: teaFact})
	count := assembler.New(nil).Count
	sys := DefaultConfig().SystemPrompt
	tail := "user: " + drinkQ + "\nassistant:"
	reserve := count(model.PromptSeparator + tail)

	// The message fits but leaves nothing for the window.
	_, err := f.e.Respond(ctx, RespondRequest{Owner: "u1", Message: drinkQ, Budget: tokens(reserve - 1)})
	assert.ErrorIs(t, err, model.ErrBudgetTooSmall)
	_, err = f.e.Respond(ctx, RespondRequest{Owner: "u1", Message: drinkQ, Budget: tokens(reserve)})
	assert.ErrorIs(t, err, model.ErrBudgetTooSmall)
	assert.Empty(t, f.stub.Prompts())

	// Room for the system prompt only; the memory is left out.
	budget := reserve + count(sys)
	resp, err := f.e.Respond(ctx, RespondRequest{Owner: "u1", Message: drinkQ, Budget: tokens(budget)})
	require.NoError(t, err)
	assert.Empty(t, resp.Window.Memories())

	prompts := f.stub.Prompts()
	require.Len(t, prompts, 1)
	assert.Equal(t, sys+model.PromptSeparator+tail, prompts[0])
	assert.LessOrEqual(t, count(prompts[0]), budget)
}

func TestRespond_ExtractsFromMessage(t *testing.T) {
	f := newFixture(t, true)
	_, err := f.e.Respond(context.Background(), RespondRequest{Owner: "u1", Message: nameFact})
	require.NoError(t, err)

	// Close drains the background extraction.
	require.NoError(t, f.e.Close())
	assert.Equal(t, []string{nameFact}, f.contents(t, "u1"))
}

func TestRespond_Stream(t *testing.T) {
	f := newFixture(t, true)
	f.stub.Reply = func(string) (string, error) { return "one two three", nil }

	var chunks []string
	resp, err := f.e.Respond(context.Background(), RespondRequest{
		Owner:   "u1",
		Message: "hello there",
		Stream:  func(s string) error { chunks = append(chunks, s); return nil },
	})
	require.NoError(t, err)
	assert.Equal(t, "one two three", resp.Text)
	assert.Equal(t, []string{"one ", "two ", "three"}, chunks)
}

func TestRespond_Errors(t *testing.T) {
	ctx := context.Background()

	t.Run("no dispatcher", func(t *testing.T) {
		f := newFixture(t, false)
		_, err := f.e.Respond(ctx, RespondRequest{Owner: "u1", Message: "hi"})
		assert.Error(t, err)
	})

	t.Run("empty message", func(t *testing.T) {
		f := newFixture(t, true)
		_, err := f.e.Respond(ctx, RespondRequest{Owner: "u1", Message: "  "})
		assert.ErrorIs(t, err, model.ErrInvalidInput)
	})

	t.Run("provider failure records nothing", func(t *testing.T) {
		f := newFixture(t, true)
		f.stub.Reply = func(string) (string, error) { return "", model.ErrInvalidInput }
		_, err := f.e.Respond(ctx, RespondRequest{Owner: "u1", ConversationID: "c1", Message: nameFact})
		require.Error(t, err)
		turns, err := f.s.RecentTurns(ctx, "u1", "c1", 5)
		require.NoError(t, err)
		assert.Empty(t, turns)
	})
}

func TestRunMaintenanceAll(t *testing.T) {
	f := newFixture(t, false)
	ctx := context.Background()
	f.e.ExtractAndStore(ctx, model.Turn{OwnerID: "u2", UserText: teaFact})
	f.e.ExtractAndStore(ctx, model.Turn{OwnerID: "u1", UserText: nameFact})

	reports, err := f.e.RunMaintenanceAll(ctx)
	require.NoError(t, err)
	require.Len(t, reports, 2)
	assert.Equal(t, "u1", reports[0].Owner)
	assert.Equal(t, "u2", reports[1].Owner)
	assert.Equal(t, 1, reports[0].Count)

	_, err = f.e.RunMaintenance(ctx, "")
	assert.ErrorIs(t, err, model.ErrInvalidInput)
}

func TestStartMaintenance_StopsOnClose(t *testing.T) {
	f := newFixture(t, false)
	f.e.StartMaintenance(context.Background(), 10*time.Millisecond)

	done := make(chan struct{})
	go func() {
		f.e.Close()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("Close did not stop the maintenance loop")
	}
	assert.False(t, f.e.ExtractAndStoreAsync(context.Background(), model.Turn{OwnerID: "u1", UserText: teaFact}))
}

func TestExtractAndStoreAsync_SurvivesCallerCancel(t *testing.T) {
	f := newFixture(t, false)
	ctx, cancel := context.WithCancel(context.Background())
	require.True(t, f.e.ExtractAndStoreAsync(ctx, model.Turn{OwnerID: "u1", UserText: teaFact}))
	cancel()

	require.NoError(t, f.e.Close())
	assert.Equal(t, []string{teaFact}, f.contents(t, "u1"))
}
