// Package splitter chunks Markdown text by heading structure. Each
// chunk spans a heading line through the next heading (exclusive) and
// carries the chain of enclosing heading titles from root to leaf.
package splitter

import (
	"path/filepath"
	"regexp"
	"strings"
)

// Chunk is one contiguous slice of the source text.
type Chunk struct {
	Content    string
	TitleChain []string
}

// Splitter divides documents into heading-delimited chunks.
type Splitter struct{}

// New creates a splitter.
func New() *Splitter {
	return &Splitter{}
}

// atxPattern matches ATX headings: 1-6 hashes, whitespace, title, with
// optional closing hashes.
var atxPattern = regexp.MustCompile(`^(#{1,6})\s+(.+?)\s*#*\s*$`)

// Split chunks the text. Line endings are normalized to LF first.
// fileName, when non-empty, seeds every title chain with its base name.
// Malformed headings degrade to plain lines; there is no failure mode.
func (s *Splitter) Split(text, fileName string) []Chunk {
	text = strings.ReplaceAll(text, "\r\n", "\n")
	text = strings.ReplaceAll(text, "\r", "\n")
	lines := strings.Split(text, "\n")

	var prefix []string
	if fileName != "" {
		prefix = []string{filepath.Base(fileName)}
	}

	var stack []string
	chain := func() []string {
		out := make([]string, 0, len(prefix)+len(stack))
		out = append(out, prefix...)
		out = append(out, stack...)
		return out
	}

	var chunks []Chunk
	var body []string
	bodyChain := chain()

	flush := func() {
		content := strings.TrimSpace(strings.Join(body, "\n"))
		if content != "" {
			chunks = append(chunks, Chunk{Content: content, TitleChain: bodyChain})
		}
		body = body[:0]
	}

	i := 0
	for i < len(lines) {
		line := lines[i]

		if m := atxPattern.FindStringSubmatch(line); m != nil {
			flush()
			pushHeading(&stack, len(m[1]), m[2])
			bodyChain = chain()
			body = append(body, line)
			i++
			continue
		}

		if i+1 < len(lines) {
			if level, ok := setextLevel(lines[i+1]); ok && isSetextTitle(line) {
				flush()
				pushHeading(&stack, level, strings.TrimSpace(line))
				bodyChain = chain()
				body = append(body, line, lines[i+1])
				i += 2
				continue
			}
		}

		body = append(body, line)
		i++
	}
	flush()

	return chunks
}

// pushHeading truncates the stack to level-1 entries and pushes the
// new title. Skipped levels compress rather than leaving gaps.
func pushHeading(stack *[]string, level int, title string) {
	s := *stack
	if len(s) >= level {
		s = s[:level-1]
	}
	*stack = append(s, title)
}

// isSetextTitle reports whether the line can be underlined: non-blank
// and not an ATX candidate.
func isSetextTitle(line string) bool {
	return strings.TrimSpace(line) != "" && !strings.HasPrefix(line, "#")
}

// setextLevel classifies an underline: all '=' is level 1, three or
// more '-' is level 2.
func setextLevel(line string) (int, bool) {
	trimmed := strings.TrimRight(line, " \t")
	if trimmed == "" {
		return 0, false
	}
	if allOf(trimmed, '=') {
		return 1, true
	}
	if len(trimmed) >= 3 && allOf(trimmed, '-') {
		return 2, true
	}
	return 0, false
}

func allOf(s string, c byte) bool {
	for i := 0; i < len(s); i++ {
		if s[i] != c {
			return false
		}
	}
	return true
}
