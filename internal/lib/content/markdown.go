// Package content renders blog and news bodies and derives their summaries.
package content

import (
	"bytes"
	"fmt"
	"html"
	"math"
	"regexp"
	"strings"
	"unicode/utf8"

	"github.com/microcosm-cc/bluemonday"
	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/extension"
	goldmarkHTML "github.com/yuin/goldmark/renderer/html"
)

const (
	WordsPerMinute = 200
	ExcerptLen     = 160
)

var mdRenderer = goldmark.New(
	goldmark.WithExtensions(extension.GFM),
	goldmark.WithRendererOptions(
		goldmarkHTML.WithHardWraps(),
	),
)

var htmlPolicy = newPostHTMLPolicy()

var tagPattern = regexp.MustCompile(`<[^>]*>`)

func newPostHTMLPolicy() *bluemonday.Policy {
	policy := bluemonday.UGCPolicy()
	policy.AllowElements("figure", "figcaption")
	policy.AllowAttrs("loading").OnElements("img")
	policy.RequireNoFollowOnLinks(true)
	return policy
}

// RenderMarkdown converts markdown to sanitised HTML.
func RenderMarkdown(src string) (string, error) {
	src = strings.TrimSpace(src)
	if src == "" {
		return "", nil
	}
	var buf bytes.Buffer
	if err := mdRenderer.Convert([]byte(src), &buf); err != nil {
		return "", fmt.Errorf("render markdown: %w", err)
	}
	return strings.TrimSpace(htmlPolicy.Sanitize(buf.String())), nil
}

// PlainText strips tags from rendered HTML and collapses whitespace.
func PlainText(rendered string) string {
	text := html.UnescapeString(tagPattern.ReplaceAllString(rendered, " "))
	return strings.Join(strings.Fields(text), " ")
}

// ReadingMinutes estimates reading time, never below one minute.
func ReadingMinutes(text string) int {
	words := len(strings.Fields(text))
	minutes := int(math.Ceil(float64(words) / WordsPerMinute))
	if minutes < 1 {
		return 1
	}
	return minutes
}

// Excerpt cuts text to at most max runes on a word boundary, adding an
// ellipsis when something was cut.
func Excerpt(text string, max int) string {
	text = strings.Join(strings.Fields(text), " ")
	if max <= 0 || utf8.RuneCountInString(text) <= max {
		return text
	}
	runes := []rune(text)
	cut := string(runes[:max-1])
	if i := strings.LastIndex(cut, " "); i > max/2 {
		cut = cut[:i]
	}
	return strings.TrimRight(cut, " ,.;:") + "…"
}

// Derived is what a post body yields once rendered.
type Derived struct {
	HTML           string
	Excerpt        string
	ReadingMinutes int
}

// Derive renders markdown and computes the excerpt and reading time.
// excerpt is kept as given when non-empty.
func Derive(markdown, excerpt string) (Derived, error) {
	rendered, err := RenderMarkdown(markdown)
	if err != nil {
		return Derived{}, err
	}
	plain := PlainText(rendered)
	excerpt = strings.TrimSpace(excerpt)
	if excerpt == "" {
		excerpt = Excerpt(plain, ExcerptLen)
	}
	return Derived{
		HTML:           rendered,
		Excerpt:        excerpt,
		ReadingMinutes: ReadingMinutes(plain),
	}, nil
}
