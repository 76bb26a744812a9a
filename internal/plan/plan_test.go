package plan

import (
	"path/filepath"
	"strings"
	"testing"
)

func TestParseFrontMatter(t *testing.T) {
	data := []byte(`---
title: Ship the widget
status: approved
---
## Steps

1. Do the thing.
`)

	p, err := Parse(data)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if p.Title != "Ship the widget" {
		t.Errorf("Title = %q", p.Title)
	}
	if p.Status != StatusApproved {
		t.Errorf("Status = %q", p.Status)
	}
	if !strings.HasPrefix(p.Body, "## Steps") {
		t.Errorf("Body = %q", p.Body)
	}
}

func TestParseWithoutFrontMatter(t *testing.T) {
	p, err := Parse([]byte("just some notes\n"))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if p.Status != StatusDraft {
		t.Errorf("Status = %q, want draft", p.Status)
	}
	if p.Body != "just some notes\n" {
		t.Errorf("Body = %q", p.Body)
	}
}

func TestParseErrors(t *testing.T) {
	tests := []struct {
		name string
		data string
	}{
		{"unterminated front matter", "---\ntitle: x\n"},
		{"invalid yaml", "---\ntitle: [\n---\nbody"},
		{"unknown status", "---\nstatus: shipped\n---\nbody"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if p, err := Parse([]byte(tt.data)); err == nil {
				t.Errorf("Parse accepted %q: %+v", tt.data, p)
			}
		})
	}
}

func TestMarshalRoundTrip(t *testing.T) {
	orig := &Plan{
		Title:  "Refactor storage",
		Status: StatusDone,
		Body:   "# Plan\n\ndetails here\n",
	}

	data, err := orig.Marshal()
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}
	got, err := Parse(data)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if got.Title != orig.Title || got.Status != orig.Status || got.Body != orig.Body {
		t.Errorf("round trip = %+v, want %+v", got, orig)
	}
}

func TestMarshalDefaultsEmptyStatus(t *testing.T) {
	data, err := (&Plan{Title: "x"}).Marshal()
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}
	p, err := Parse(data)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if p.Status != StatusDraft {
		t.Errorf("Status = %q, want draft", p.Status)
	}
}

func TestLoadAndSave(t *testing.T) {
	path := filepath.Join(t.TempDir(), "plan.md")

	if p, err := Load(path); err != nil || p != nil {
		t.Fatalf("Load missing file = %+v, %v", p, err)
	}

	if err := Save(path, &Plan{Title: "x", Status: StatusDraft, Body: "body\n"}); err != nil {
		t.Fatalf("Save: %v", err)
	}

	p, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if p == nil || p.Title != "x" || p.Body != "body\n" {
		t.Errorf("Load = %+v", p)
	}
	if p.UpdatedAt.IsZero() {
		t.Error("Save did not stamp UpdatedAt")
	}
}
