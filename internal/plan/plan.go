// Package plan reads and writes the per-minion plan file (plan.md): a
// markdown body under a yaml front matter block carrying the plan's title,
// status, and last-update time. The file lives in the minion's session
// directory, is copied on fork, and is deleted on a full history clear.
package plan

import (
	"bytes"
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Status tracks where a plan is in its life.
type Status string

const (
	StatusDraft    Status = "draft"
	StatusApproved Status = "approved"
	StatusDone     Status = "done"
)

// Valid reports whether s is a known status.
func (s Status) Valid() bool {
	switch s {
	case StatusDraft, StatusApproved, StatusDone:
		return true
	}
	return false
}

const delimiter = "---"

// Plan is one minion's working plan.
type Plan struct {
	Title     string    `yaml:"title"`
	Status    Status    `yaml:"status"`
	UpdatedAt time.Time `yaml:"updatedAt"`

	// Body is the markdown below the front matter, verbatim.
	Body string `yaml:"-"`
}

// Parse decodes a plan file. A file without front matter parses as a draft
// whose body is the whole file.
func Parse(data []byte) (*Plan, error) {
	text := string(data)
	if !strings.HasPrefix(text, delimiter+"\n") {
		return &Plan{Status: StatusDraft, Body: text}, nil
	}

	rest := text[len(delimiter)+1:]
	end := strings.Index(rest, "\n"+delimiter)
	if end < 0 {
		return nil, fmt.Errorf("unterminated plan front matter")
	}

	var p Plan
	if err := yaml.Unmarshal([]byte(rest[:end]), &p); err != nil {
		return nil, fmt.Errorf("invalid plan front matter: %w", err)
	}
	if p.Status == "" {
		p.Status = StatusDraft
	}
	if !p.Status.Valid() {
		return nil, fmt.Errorf("invalid plan status %q", p.Status)
	}

	body := rest[end+len(delimiter)+1:]
	p.Body = strings.TrimPrefix(body, "\n")
	return &p, nil
}

// Marshal encodes the plan back to its file form.
func (p *Plan) Marshal() ([]byte, error) {
	if p.Status == "" {
		p.Status = StatusDraft
	}
	if !p.Status.Valid() {
		return nil, fmt.Errorf("invalid plan status %q", p.Status)
	}

	var buf bytes.Buffer
	buf.WriteString(delimiter + "\n")
	enc := yaml.NewEncoder(&buf)
	enc.SetIndent(2)
	if err := enc.Encode(p); err != nil {
		return nil, err
	}
	if err := enc.Close(); err != nil {
		return nil, err
	}
	buf.WriteString(delimiter + "\n")
	buf.WriteString(p.Body)
	return buf.Bytes(), nil
}

// Load reads a plan file. A missing file returns (nil, nil).
func Load(path string) (*Plan, error) {
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return Parse(data)
}

// Save writes the plan atomically, stamping UpdatedAt.
func Save(path string, p *Plan) error {
	p.UpdatedAt = time.Now().UTC().Truncate(time.Second)
	data, err := p.Marshal()
	if err != nil {
		return err
	}

	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return err
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return err
	}
	return nil
}
