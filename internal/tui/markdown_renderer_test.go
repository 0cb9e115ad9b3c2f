package tui

import (
	"strings"
	"testing"
)

// TestRenderMarkdownStylesDocument verifies blank input stays blank and text survives styling.
func TestRenderMarkdownStylesDocument(t *testing.T) {
	if got := RenderMarkdown("  \n", 80); got != "" {
		t.Fatalf("RenderMarkdown(blank) = %q, want empty", got)
	}
	src := "# Delivery Report\n\nReceiver: Kim\n"
	got := RenderMarkdown(src, 10)
	if got == "" || got == strings.TrimSpace(src) || !strings.Contains(got, "Kim") {
		t.Fatalf("unexpected styled output %q", got)
	}
	if strings.HasSuffix(got, "\n") {
		t.Fatalf("expected trailing newlines trimmed, got %q", got)
	}
}
