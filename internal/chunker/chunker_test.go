package chunker

import (
	"reflect"
	"strings"
	"testing"
)

func TestChunk_EmptyInput(t *testing.T) {
	if result := Chunk("  \n ", DefaultOptions()); result != nil {
		t.Errorf("expected nil, got %v", result)
	}
}

func TestChunk_ShortContent(t *testing.T) {
	text := "I moved to Lisbon last spring."
	result := Chunk(text, DefaultOptions())
	if len(result) != 1 {
		t.Fatalf("expected 1 chunk, got %d", len(result))
	}
	if result[0].Text != text || result[0].StartLine != 1 || result[0].EndLine != 1 {
		t.Errorf("unexpected piece %+v", result[0])
	}
}

func TestChunk_RespectsMaxSize(t *testing.T) {
	opts := Options{TargetSize: 200, MaxSize: 300}
	para := strings.Repeat("This sentence is about fifty characters long ok. ", 10)
	text := para + "\n\n" + para + "\n\n" + para

	result := Chunk(text, opts)
	if len(result) < 3 {
		t.Fatalf("expected at least 3 chunks, got %d", len(result))
	}
	for i, p := range result {
		if len(p.Text) > opts.MaxSize {
			t.Errorf("chunk %d is %d bytes, max %d", i, len(p.Text), opts.MaxSize)
		}
	}
}

func TestChunk_MergesSmallParagraphs(t *testing.T) {
	opts := Options{TargetSize: 100, MaxSize: 120}
	text := "# A\nshort one\n\n# B\nshort two\n\n" + strings.Repeat("z", 110)
	result := Chunk(text, opts)
	if len(result) != 2 {
		t.Fatalf("expected 2 chunks, got %d: %+v", len(result), result)
	}
	if !strings.Contains(result[0].Text, "short one") || !strings.Contains(result[0].Text, "short two") {
		t.Errorf("small paragraphs not merged: %q", result[0].Text)
	}
}

func TestParagraphs_LineSpans(t *testing.T) {
	text := "first line\nstill first\n\n\nsecond\n# Heading\nthird"
	got := paragraphs(text)
	want := []Piece{
		{Text: "first line\nstill first", StartLine: 1, EndLine: 2},
		{Text: "second", StartLine: 5, EndLine: 5},
		{Text: "# Heading\nthird", StartLine: 6, EndLine: 7},
	}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("paragraphs = %+v, want %+v", got, want)
	}
}

func TestSentences(t *testing.T) {
	tests := []struct {
		name string
		text string
		want []string
	}{
		{"basic", "I like tea. Do you? Yes!", []string{"I like tea.", "Do you?", "Yes!"}},
		{"decimal", "The build takes 3.5 minutes. Fine.", []string{"The build takes 3.5 minutes.", "Fine."}},
		{"abbreviation", "I use tools, e.g. vim and tmux. Daily.", []string{"I use tools, e.g. vim and tmux.", "Daily."}},
		{"bullets", "- first item\n* second item\nno period", []string{"first item", "second item", "no period"}},
		{"empty", "   ", nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Sentences(tt.text)
			if !reflect.DeepEqual(got, tt.want) {
				t.Errorf("Sentences(%q) = %q, want %q", tt.text, got, tt.want)
			}
		})
	}
}
