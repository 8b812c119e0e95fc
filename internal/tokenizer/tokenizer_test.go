package tokenizer

import "testing"

func TestApprox(t *testing.T) {
	tests := []struct {
		text string
		want int
	}{
		{"", 0},
		{"a", 1},
		{"abcd", 1},
		{"abcde", 2},
		{"12345678", 2},
	}
	for _, tt := range tests {
		if got := (Approx{}).Count(tt.text); got != tt.want {
			t.Errorf("Approx.Count(%q) = %d, want %d", tt.text, got, tt.want)
		}
	}
}

func TestWords(t *testing.T) {
	if got := (Words{}).Count("  the quick\nbrown fox "); got != 4 {
		t.Errorf("Words.Count = %d, want 4", got)
	}
}

func TestCounterFunc(t *testing.T) {
	c := CounterFunc(func(s string) int { return 7 })
	if c.Count("anything") != 7 {
		t.Error("CounterFunc did not delegate")
	}
}

func TestNew(t *testing.T) {
	c, err := New("")
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	if _, ok := c.(Approx); !ok {
		t.Errorf("expected Approx, got %T", c)
	}
	if _, err := New("sentencepiece"); err == nil {
		t.Error("expected error for unknown tokenizer")
	}
}
