package cli

import (
	"context"
	"path/filepath"
	"reflect"
	"testing"

	"github.com/rcliao/agent-recall/internal/config"
	"github.com/rcliao/agent-recall/internal/engine"
	"github.com/rcliao/agent-recall/internal/model"
	"github.com/rcliao/agent-recall/internal/store"
)

func testApp(t *testing.T, mutate func(c *config.Config)) *app {
	t.Helper()
	c := config.Default()
	c.DB = filepath.Join(t.TempDir(), "recall.db")
	if mutate != nil {
		mutate(&c)
	}
	s, err := store.NewSQLiteStore(c.DB, store.Options{Cap: c.Store.Cap, Index: c.Store.Index})
	if err != nil {
		t.Fatalf("NewSQLiteStore: %v", err)
	}
	a, err := wire(context.Background(), &c, s)
	if err != nil {
		s.Close()
		t.Fatalf("wire: %v", err)
	}
	t.Cleanup(func() { a.Close() })
	return a
}

func TestWireDefaults(t *testing.T) {
	a := testApp(t, nil)
	ctx := context.Background()

	ids := a.engine.ExtractAndStore(ctx, model.Turn{OwnerID: "u1", UserText: "I prefer green tea over coffee."})
	if len(ids) != 1 {
		t.Fatalf("stored %d memories, want 1", len(ids))
	}

	w, err := a.engine.AssembleContext(ctx, engine.AssembleRequest{Owner: "u1", Query: "I prefer green tea over coffee"})
	if err != nil {
		t.Fatalf("AssembleContext: %v", err)
	}
	if len(w.Memories()) != 1 {
		t.Errorf("window has %d memories, want 1", len(w.Memories()))
	}
	if w.TotalTokens > w.Budget {
		t.Errorf("window uses %d tokens over budget %d", w.TotalTokens, w.Budget)
	}
}

func TestWireRespondWithStub(t *testing.T) {
	a := testApp(t, nil)
	resp, err := a.engine.Respond(context.Background(), engine.RespondRequest{Owner: "u1", ConversationID: "c1", Message: "hello there"})
	if err != nil {
		t.Fatalf("Respond: %v", err)
	}
	if resp.Provider != "stub" {
		t.Errorf("provider = %q, want stub", resp.Provider)
	}
	if resp.Text != "assistant:" {
		t.Errorf("text = %q, want the echoed last prompt line", resp.Text)
	}
}

func TestWireLLMExtractorFallsBack(t *testing.T) {
	a := testApp(t, func(c *config.Config) {
		c.Extractor.Kind = config.ExtractorLLM
		c.Summarizer = config.SummarizerLLM
	})
	// The stub does not answer with JSON, so the heuristic extractor runs.
	ids := a.engine.ExtractAndStore(context.Background(), model.Turn{OwnerID: "u1", UserText: "My favorite color is blue."})
	if len(ids) != 1 {
		t.Fatalf("stored %d memories, want 1", len(ids))
	}
}

func TestWireUnknownProvider(t *testing.T) {
	c := config.Default()
	c.DB = filepath.Join(t.TempDir(), "recall.db")
	c.Embedding.Provider = "nope"
	s, err := store.NewSQLiteStore(c.DB, store.Options{})
	if err != nil {
		t.Fatal(err)
	}
	defer s.Close()
	if _, err := wire(context.Background(), &c, s); err == nil {
		t.Fatal("expected an error for an unknown embedding provider")
	}
}

func TestSplitTags(t *testing.T) {
	tests := []struct {
		in   string
		want []string
	}{
		{"", nil},
		{"a", []string{"a"}},
		{" a, b ,,c ", []string{"a", "b", "c"}},
	}
	for _, tt := range tests {
		if got := splitTags(tt.in); !reflect.DeepEqual(got, tt.want) {
			t.Errorf("splitTags(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
}
