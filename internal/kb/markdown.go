// Package kb stores financial-literacy reference content and retrieves
// the passages most relevant to a question.
package kb

import (
	"bufio"
	"io"
	"regexp"
	"strings"
)

// Chunk is one semantic unit of a reference document.
type Chunk struct {
	Key     string
	Section string
	Content string
}

var (
	h1Pattern        = regexp.MustCompile(`^#\s+(.+)$`)
	h2Pattern        = regexp.MustCompile(`^##\s+(.+)$`)
	h3Pattern        = regexp.MustCompile(`^###\s+(.+)$`)
	codeBlockPattern = regexp.MustCompile("^```")
	slugPattern      = regexp.MustCompile(`[^a-z0-9]+`)
)

// ParseMarkdown splits markdown content into heading-keyed chunks.
// Code fences are kept intact inside the surrounding chunk.
func ParseMarkdown(r io.Reader) []Chunk {
	var chunks []Chunk
	scanner := bufio.NewScanner(r)

	var currentH1, currentH2 string
	var currentContent strings.Builder
	var lastKey string

	flush := func() {
		content := strings.TrimSpace(currentContent.String())
		if content != "" && lastKey != "" {
			chunks = append(chunks, Chunk{
				Key:     lastKey,
				Section: currentH1,
				Content: content,
			})
		}
		currentContent.Reset()
	}

	inCodeBlock := false
	for scanner.Scan() {
		line := scanner.Text()

		if codeBlockPattern.MatchString(line) {
			inCodeBlock = !inCodeBlock
			currentContent.WriteString(line + "\n")
			continue
		}
		if inCodeBlock {
			currentContent.WriteString(line + "\n")
			continue
		}

		if m := h1Pattern.FindStringSubmatch(line); m != nil {
			flush()
			currentH1 = m[1]
			currentH2 = ""
			lastKey = slugify(currentH1)
			continue
		}
		if m := h2Pattern.FindStringSubmatch(line); m != nil {
			flush()
			currentH2 = m[1]
			if currentH1 != "" {
				lastKey = slugify(currentH1) + "/" + slugify(currentH2)
			} else {
				lastKey = slugify(currentH2)
			}
			continue
		}
		if m := h3Pattern.FindStringSubmatch(line); m != nil {
			flush()
			switch {
			case currentH2 != "":
				lastKey = slugify(currentH1) + "/" + slugify(currentH2) + "/" + slugify(m[1])
			case currentH1 != "":
				lastKey = slugify(currentH1) + "/" + slugify(m[1])
			default:
				lastKey = slugify(m[1])
			}
			continue
		}

		if line != "" || currentContent.Len() > 0 {
			currentContent.WriteString(line + "\n")
		}
	}
	flush()

	return chunks
}

func slugify(s string) string {
	s = strings.ToLower(s)
	s = slugPattern.ReplaceAllString(s, "-")
	return strings.Trim(s, "-")
}
