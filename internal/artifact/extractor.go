// Package artifact lifts structured blocks out of raw provider output.
// Extraction is a pure function over text: it never mutates session state
// and its results are part of the persisted transcript contract.
package artifact

import (
	"regexp"
	"sort"
	"strings"

	"github.com/crowdthink/brainstorm/internal/domain"
)

var (
	// Fenced code block: delimiter, optional language tag, body, closing
	// delimiter. Unterminated fences do not match and stay in the text.
	fenceRe = regexp.MustCompile("(?s)```([A-Za-z0-9+_.#-]*)[ \t]*\n(.*?)```")

	// Structured artifact tag emitted by higher-capability backends.
	tagRe  = regexp.MustCompile(`(?s)<artifact\s+([^>]*?)>(.*?)</artifact>`)
	attrRe = regexp.MustCompile(`([a-zA-Z]+)="([^"]*)"`)
)

type span struct {
	start, end int
	artifact   domain.Artifact
}

// Extract scans text for fenced code blocks and structured artifact tags,
// returning the text with all extracted spans removed plus the artifacts in
// first-occurrence order. Malformed tags are left untouched as plain text.
// Nesting resolves to the enclosing construct: a fence inside a tag belongs
// to that artifact, and a tag inside a fence stays literal fenced text.
// Extraction is idempotent: running it over already-cleaned text yields no
// further artifacts.
func Extract(text string) (string, []domain.Artifact) {
	fences := fenceRe.FindAllStringSubmatchIndex(text, -1)
	var spans []span

	for _, m := range tagRe.FindAllStringSubmatchIndex(text, -1) {
		if insideAny(fences, m[0], m[1]) {
			// Tag quoted inside a fenced block; extracting it would split
			// the fence and leave delimiters that re-pair on a second pass.
			continue
		}
		attrs := parseAttrs(text[m[2]:m[3]])
		art, ok := fromAttrs(attrs, text[m[4]:m[5]])
		if !ok {
			// Missing or invalid required attribute: ignore, leave as text.
			continue
		}
		spans = append(spans, span{start: m[0], end: m[1], artifact: art})
	}

	for _, m := range fences {
		if overlaps(spans, m[0], m[1]) {
			// Fence inside a structured tag belongs to that artifact.
			continue
		}
		lang := text[m[2]:m[3]]
		if lang == "" {
			lang = "plain"
		}
		spans = append(spans, span{
			start: m[0],
			end:   m[1],
			artifact: domain.Artifact{
				Type:     domain.ArtifactCode,
				Language: lang,
				Content:  strings.TrimSuffix(text[m[4]:m[5]], "\n"),
			},
		})
	}

	if len(spans) == 0 {
		return text, nil
	}

	sort.Slice(spans, func(i, j int) bool { return spans[i].start < spans[j].start })

	var cleaned strings.Builder
	artifacts := make([]domain.Artifact, 0, len(spans))
	prev := 0
	for _, sp := range spans {
		cleaned.WriteString(text[prev:sp.start])
		artifacts = append(artifacts, sp.artifact)
		prev = sp.end
	}
	cleaned.WriteString(text[prev:])

	return collapseBlank(cleaned.String()), artifacts
}

func parseAttrs(raw string) map[string]string {
	attrs := make(map[string]string)
	for _, m := range attrRe.FindAllStringSubmatch(raw, -1) {
		attrs[strings.ToLower(m[1])] = m[2]
	}
	return attrs
}

// fromAttrs builds an artifact from a structured tag. Type and title are
// required; language is only meaningful for code and react artifacts.
func fromAttrs(attrs map[string]string, content string) (domain.Artifact, bool) {
	typ := domain.ArtifactType(attrs["type"])
	title := attrs["title"]
	if typ == "" || title == "" || !domain.ValidArtifactType(typ) {
		return domain.Artifact{}, false
	}

	art := domain.Artifact{
		Type:    typ,
		Title:   title,
		Content: strings.TrimSpace(content),
	}
	if typ == domain.ArtifactCode || typ == domain.ArtifactReact {
		art.Language = attrs["language"]
		if art.Language == "" {
			art.Language = "plain"
		}
	}
	return art, true
}

func overlaps(spans []span, start, end int) bool {
	for _, sp := range spans {
		if start < sp.end && end > sp.start {
			return true
		}
	}
	return false
}

func insideAny(matches [][]int, start, end int) bool {
	for _, m := range matches {
		if start >= m[0] && end <= m[1] {
			return true
		}
	}
	return false
}

var blankRunRe = regexp.MustCompile(`\n{3,}`)

// collapseBlank squeezes the blank runs left behind by removed spans.
func collapseBlank(s string) string {
	return strings.TrimSpace(blankRunRe.ReplaceAllString(s, "\n\n"))
}
