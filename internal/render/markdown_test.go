package render

import (
	"strings"
	"testing"
)

func TestHTML_RendersMarkdown(t *testing.T) {
	out := HTML("**太字**と`コード`")
	if !strings.Contains(out, "<strong>太字</strong>") {
		t.Fatalf("expected bold tag, got %q", out)
	}
	if !strings.Contains(out, "<code>コード</code>") {
		t.Fatalf("expected code tag, got %q", out)
	}
}

func TestHTML_PlainTextPassesThrough(t *testing.T) {
	out := HTML("ただのテキスト")
	if !strings.Contains(out, "ただのテキスト") {
		t.Fatalf("plain text lost: %q", out)
	}
}
