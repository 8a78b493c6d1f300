package content

import (
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRenderMarkdownSanitises(t *testing.T) {
	html, err := RenderMarkdown("# Casas SIP\n\nTexto con **negrita** y <script>alert(1)</script>")
	require.NoError(t, err)
	assert.Contains(t, html, "<h1")
	assert.Contains(t, html, "<strong>negrita</strong>")
	assert.NotContains(t, html, "<script>")
}

func TestRenderMarkdownLinksGetNoFollow(t *testing.T) {
	html, err := RenderMarkdown("[modtok](https://modtok.cl)")
	require.NoError(t, err)
	assert.Contains(t, html, `rel="nofollow"`)
}

func TestRenderMarkdownEmpty(t *testing.T) {
	html, err := RenderMarkdown("   ")
	require.NoError(t, err)
	assert.Equal(t, "", html)
}

func TestPlainText(t *testing.T) {
	assert.Equal(t, "Hola mundo & más", PlainText("<p>Hola <em>mundo</em></p>\n<p>&amp; más</p>"))
}

func TestReadingMinutes(t *testing.T) {
	tests := []struct {
		name  string
		words int
		want  int
	}{
		{"empty is one minute", 0, 1},
		{"short", 50, 1},
		{"exactly one minute", 200, 1},
		{"just over", 201, 2},
		{"long", 1000, 5},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ReadingMinutes(strings.TrimSpace(strings.Repeat("palabra ", tt.words))))
		})
	}
}

func TestExcerpt(t *testing.T) {
	short := "Texto breve."
	assert.Equal(t, short, Excerpt(short, ExcerptLen))

	long := strings.Repeat("construcción modular ", 30)
	got := Excerpt(long, ExcerptLen)
	assert.LessOrEqual(t, utf8.RuneCountInString(got), ExcerptLen)
	assert.True(t, strings.HasSuffix(got, "…"))
	assert.False(t, strings.Contains(got, "  "))
}

func TestDeriveKeepsExplicitExcerpt(t *testing.T) {
	d, err := Derive("Cuerpo del artículo.", "Resumen manual")
	require.NoError(t, err)
	assert.Equal(t, "Resumen manual", d.Excerpt)
	assert.Equal(t, 1, d.ReadingMinutes)
	assert.Contains(t, d.HTML, "Cuerpo del artículo.")

	d, err = Derive("Cuerpo del artículo.", "")
	require.NoError(t, err)
	assert.Equal(t, "Cuerpo del artículo.", d.Excerpt)
}
