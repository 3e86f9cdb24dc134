package telegram

import (
	"strings"
	"testing"
)

func TestSplitTextShort(t *testing.T) {
	t.Parallel()
	got := splitText("hello", 10)
	if len(got) != 1 || got[0] != "hello" {
		t.Fatalf("splitText = %q, want [hello]", got)
	}
}

func TestSplitTextPrefersNewlines(t *testing.T) {
	t.Parallel()
	in := strings.Repeat("a", 6) + "\n" + strings.Repeat("b", 6)
	got := splitText(in, 10)
	if len(got) != 2 {
		t.Fatalf("len(splitText) = %d, want 2: %q", len(got), got)
	}
	if got[0] != strings.Repeat("a", 6) || got[1] != strings.Repeat("b", 6) {
		t.Fatalf("splitText = %q", got)
	}
}

func TestSplitTextHardCut(t *testing.T) {
	t.Parallel()
	got := splitText(strings.Repeat("x", 25), 10)
	if len(got) != 3 {
		t.Fatalf("len(splitText) = %d, want 3", len(got))
	}
	for i, c := range got[:2] {
		if len([]rune(c)) != 10 {
			t.Fatalf("chunk %d length = %d, want 10", i, len([]rune(c)))
		}
	}
}

func TestNewRequiresToken(t *testing.T) {
	t.Parallel()
	if _, err := New(Config{Token: "  "}); err == nil {
		t.Fatal("expected error for empty token")
	}
}
