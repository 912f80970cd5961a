package chunk

import (
	"strings"
	"testing"
	"unicode/utf8"
)

func TestSplitShortText(t *testing.T) {
	got := Split("hello", 1200)
	if len(got) != 1 || got[0] != "hello" {
		t.Fatalf("Split = %q, want [hello]", got)
	}
}

func TestSplitEmpty(t *testing.T) {
	got := Split("", 1200)
	if len(got) != 1 || got[0] != "" {
		t.Fatalf("Split = %q, want one empty segment", got)
	}
}

func TestSplitLongTextNoNewlines(t *testing.T) {
	text := strings.Repeat("a", 3000)
	got := Split(text, 1200)

	for i, seg := range got {
		if len(seg) > 1200 {
			t.Errorf("segment %d has length %d, want <= 1200", i, len(seg))
		}
	}
	if joined := strings.Join(got, ""); joined != text {
		t.Error("concatenated segments do not reproduce input")
	}
	if len(got) != 3 {
		t.Errorf("got %d segments, want 3", len(got))
	}
}

func TestSplitBreaksAtNewline(t *testing.T) {
	line := strings.Repeat("x", 100) + "\n"
	text := strings.Repeat(line, 30) // 3030 bytes
	got := Split(text, 1200)

	for i, seg := range got {
		if len(seg) > 1200 {
			t.Errorf("segment %d has length %d, want <= 1200", i, len(seg))
		}
		if i < len(got)-1 && strings.Contains(seg, "\n") && !strings.HasSuffix(seg, strings.Repeat("x", 100)) {
			// each non-final segment should end at a line boundary
			if idx := strings.LastIndexByte(seg, '\n'); idx != -1 && idx != len(seg)-1 && len(seg) == 1200 {
				t.Errorf("segment %d broke mid-line", i)
			}
		}
	}
	for i, seg := range got {
		if strings.HasPrefix(seg, "\n") {
			t.Errorf("segment %d starts with newline", i)
		}
	}
}

func TestSplitPreservesContentAcrossBreaks(t *testing.T) {
	var b strings.Builder
	for i := 0; i < 200; i++ {
		b.WriteString("line of text with some content\n")
	}
	text := b.String()
	got := Split(text, 1200)

	// Re-joining with newlines restores every line, since breaks happen
	// at newlines and the separator newline is the only byte dropped.
	joined := strings.Join(got, "\n")
	if strings.TrimRight(joined, "\n") != strings.TrimRight(text, "\n") {
		t.Error("content lost across chunk boundaries")
	}
}

func TestSplitHardCutKeepsRunesIntact(t *testing.T) {
	// Multi-byte text with no newlines forces hard cuts; none of them
	// may land inside a rune.
	text := strings.Repeat("שלום ", 600) // 5400 bytes, 9 per repeat
	got := Split(text, 1200)

	for i, seg := range got {
		if !utf8.ValidString(seg) {
			t.Errorf("segment %d is not valid UTF-8", i)
		}
		if len(seg) > 1200 {
			t.Errorf("segment %d has length %d, want <= 1200", i, len(seg))
		}
	}
	if joined := strings.Join(got, ""); joined != text {
		t.Error("concatenated segments do not reproduce input")
	}
}

func TestSplitZeroSizeUsesDefault(t *testing.T) {
	text := strings.Repeat("b", DefaultSize+1)
	got := Split(text, 0)
	if len(got) != 2 {
		t.Fatalf("got %d segments, want 2", len(got))
	}
}
