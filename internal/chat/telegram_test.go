package chat

import "testing"

func TestRenderMarkdown_BoldSurvives(t *testing.T) {
	got := RenderMarkdown("**done**: 3 tasks")
	if got == "" {
		t.Fatalf("expected non-empty rendered output")
	}
}
