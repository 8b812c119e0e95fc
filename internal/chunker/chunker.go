// Package chunker splits conversation text into paragraphs, sentences and
// size-bounded windows for fact extraction.
package chunker

import (
	"strings"
	"unicode"
)

const (
	DefaultTargetSize = 1200
	DefaultMaxSize    = 2000
)

// Options configures Chunk.
type Options struct {
	TargetSize int // preferred window size in bytes
	MaxSize    int // windows never exceed this unless a single sentence does
}

// DefaultOptions returns default chunking options.
func DefaultOptions() Options {
	return Options{TargetSize: DefaultTargetSize, MaxSize: DefaultMaxSize}
}

// Piece is a window of text with the line span it came from.
type Piece struct {
	Text      string
	StartLine int
	EndLine   int
}

// Chunk splits text into windows no larger than opts.MaxSize, breaking on
// paragraph boundaries first and sentence boundaries second. Short text
// returns a single piece.
func Chunk(text string, opts Options) []Piece {
	if opts.TargetSize <= 0 || opts.MaxSize <= 0 {
		opts = DefaultOptions()
	}
	text = strings.TrimSpace(text)
	if text == "" {
		return nil
	}
	if len(text) <= opts.MaxSize {
		return []Piece{{Text: text, StartLine: 1, EndLine: strings.Count(text, "\n") + 1}}
	}

	var out []Piece
	var cur Piece
	add := func(p Piece) {
		if cur.Text == "" {
			cur = p
			return
		}
		if len(cur.Text)+2+len(p.Text) <= opts.TargetSize {
			cur.Text += "\n\n" + p.Text
			cur.EndLine = p.EndLine
			return
		}
		out = append(out, cur)
		cur = p
	}
	for _, p := range paragraphs(text) {
		if len(p.Text) <= opts.MaxSize {
			add(p)
			continue
		}
		for _, s := range packSentences(Sentences(p.Text), opts.TargetSize) {
			add(Piece{Text: s, StartLine: p.StartLine, EndLine: p.EndLine})
		}
	}
	if cur.Text != "" {
		out = append(out, cur)
	}
	return out
}

// paragraphs returns the non-empty paragraphs of text with their line
// spans. Headings and blank lines start a new paragraph.
func paragraphs(text string) []Piece {
	var out []Piece
	var lines []string
	start := 1
	flush := func(end int) {
		t := strings.TrimSpace(strings.Join(lines, "\n"))
		if t != "" {
			out = append(out, Piece{Text: t, StartLine: start, EndLine: end})
		}
		lines = nil
	}
	for i, line := range strings.Split(text, "\n") {
		n := i + 1
		trimmed := strings.TrimSpace(line)
		switch {
		case trimmed == "":
			flush(n - 1)
			start = n + 1
			continue
		case strings.HasPrefix(trimmed, "#") && len(lines) > 0:
			flush(n - 1)
			start = n
		}
		lines = append(lines, line)
	}
	flush(strings.Count(text, "\n") + 1)
	return out
}

// Sentences splits text into trimmed sentences. Terminal punctuation ends a
// sentence only when followed by whitespace or end of text, so decimals and
// dotted names stay whole. Newlines and list bullets also end a sentence.
func Sentences(text string) []string {
	var out []string
	var b strings.Builder
	flush := func() {
		s := strings.TrimSpace(b.String())
		s = strings.TrimLeft(s, "-*• \t")
		if s != "" {
			out = append(out, s)
		}
		b.Reset()
	}
	runes := []rune(text)
	for i, r := range runes {
		if r == '\n' {
			flush()
			continue
		}
		b.WriteRune(r)
		if r != '.' && r != '!' && r != '?' {
			continue
		}
		if i+1 < len(runes) && !unicode.IsSpace(runes[i+1]) {
			continue
		}
		if r == '.' && isAbbreviation(b.String()) {
			continue
		}
		flush()
	}
	flush()
	return out
}

var abbreviations = map[string]bool{
	"e.g.": true, "i.e.": true, "etc.": true, "vs.": true,
	"mr.": true, "mrs.": true, "ms.": true, "dr.": true, "st.": true,
}

func isAbbreviation(s string) bool {
	fields := strings.Fields(s)
	if len(fields) == 0 {
		return false
	}
	return abbreviations[strings.ToLower(fields[len(fields)-1])]
}

// packSentences joins consecutive sentences into strings of at most target
// bytes. A sentence longer than target stands alone.
func packSentences(sentences []string, target int) []string {
	var out []string
	var cur string
	for _, s := range sentences {
		switch {
		case cur == "":
			cur = s
		case len(cur)+1+len(s) <= target:
			cur += " " + s
		default:
			out = append(out, cur)
			cur = s
		}
	}
	if cur != "" {
		out = append(out, cur)
	}
	return out
}
