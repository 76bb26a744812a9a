package namer

import (
	"context"
	"fmt"
	"strings"
	"unicode"
)

const (
	// maxTitleLength is the maximum length for generated titles.
	maxTitleLength = 60

	// recentTurnWindow is how many trailing conversation turns are included
	// in a title-regeneration prompt alongside the first user turn.
	recentTurnWindow = 3
)

// titlePrompt is the prompt template for regenerating a minion title from
// its conversation.
const titlePrompt = `Generate a very short title (max %d chars) for this coding session.

Rules:
1. Be descriptive but concise
2. Start with a verb (Add, Fix, Update, Implement, Refactor, Test, etc.)
3. Omit articles and filler words
4. No quotes or punctuation
5. Use title case

Conversation:
%s

Respond with ONLY the title, nothing else.`

// TitleClient generates a short display title from a conversation excerpt.
// Implementations typically call an LLM; tests supply fakes.
type TitleClient interface {
	GenerateTitle(ctx context.Context, prompt string) (string, error)
}

// Turn is one conversation turn included in a title prompt.
type Turn struct {
	Role string
	Text string
}

// BuildTitlePrompt assembles the regeneration prompt from the first user
// turn plus the most recent turns. When intermediate turns were dropped an
// omission summary is inserted so the model knows the excerpt is elided.
func BuildTitlePrompt(first Turn, recent []Turn, omitted int) string {
	if len(recent) > recentTurnWindow {
		recent = recent[len(recent)-recentTurnWindow:]
	}

	var b strings.Builder
	fmt.Fprintf(&b, "%s: %s\n", first.Role, first.Text)
	if omitted > 0 {
		fmt.Fprintf(&b, "[... %d earlier turns omitted ...]\n", omitted)
	}
	for _, t := range recent {
		fmt.Fprintf(&b, "%s: %s\n", t.Role, t.Text)
	}

	return fmt.Sprintf(titlePrompt, maxTitleLength, b.String())
}

// SanitizeTitle trims and bounds a generated title, stripping quotes and
// trailing punctuation the model may add despite instructions.
func SanitizeTitle(title string) string {
	title = strings.TrimSpace(title)
	title = strings.Trim(title, `"'`)
	title = strings.TrimRightFunc(title, unicode.IsPunct)
	if len(title) > maxTitleLength {
		title = strings.TrimSpace(title[:maxTitleLength])
	}
	return title
}
