package namer

import (
	"strings"
	"testing"
)

func TestBuildTitlePrompt(t *testing.T) {
	first := Turn{Role: "user", Text: "add a login form"}
	recent := []Turn{
		{Role: "assistant", Text: "done"},
		{Role: "user", Text: "now add validation"},
		{Role: "assistant", Text: "validation added"},
	}

	prompt := BuildTitlePrompt(first, recent, 7)
	if !strings.Contains(prompt, "user: add a login form") {
		t.Error("prompt missing first user turn")
	}
	if !strings.Contains(prompt, "[... 7 earlier turns omitted ...]") {
		t.Error("prompt missing omission summary")
	}
	if !strings.Contains(prompt, "assistant: validation added") {
		t.Error("prompt missing recent turn")
	}
}

func TestBuildTitlePromptTrimsToWindow(t *testing.T) {
	var recent []Turn
	for i := 0; i < 10; i++ {
		recent = append(recent, Turn{Role: "user", Text: strings.Repeat("x", i+1)})
	}

	prompt := BuildTitlePrompt(Turn{Role: "user", Text: "start"}, recent, 0)
	if strings.Contains(prompt, "user: xxxxxx\n") {
		t.Error("prompt includes turns outside the trailing window")
	}
	if !strings.Contains(prompt, "user: "+strings.Repeat("x", 10)) {
		t.Error("prompt missing the newest turn")
	}
}

func TestSanitizeTitle(t *testing.T) {
	tests := []struct {
		input string
		want  string
	}{
		{`"Add Login Form"`, "Add Login Form"},
		{"Fix Parser.", "Fix Parser"},
		{"  Update Docs  ", "Update Docs"},
		{strings.Repeat("a", 100), strings.Repeat("a", 60)},
		{"", ""},
	}

	for _, tt := range tests {
		if got := SanitizeTitle(tt.input); got != tt.want {
			t.Errorf("SanitizeTitle(%q) = %q, want %q", tt.input, got, tt.want)
		}
	}
}
