// Package markup converts platform message markup into plain text
// suitable for generative-backend prompts. Chat platforms deliver a
// mix of markdown formatting and platform-specific tokens (mentions,
// channel references, custom emoji codes); models route more reliably
// when context content is plain prose.
package markup

import (
	"bytes"
	"regexp"
	"strings"

	"github.com/yuin/goldmark"
	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"
)

var (
	// userMentionRE matches platform user mention tokens like <@123> or <@!123>.
	userMentionRE = regexp.MustCompile(`<@!?(\w+)>`)
	// channelRefRE matches channel reference tokens like <#123>.
	channelRefRE = regexp.MustCompile(`<#\w+>`)
	// emojiCodeRE matches custom emoji tokens like <:name:123> or <a:name:123>.
	emojiCodeRE = regexp.MustCompile(`<a?:(\w+):\w+>`)
	// spaceRunRE collapses runs of spaces and tabs left behind by stripping.
	spaceRunRE = regexp.MustCompile(`[ \t]+`)
)

// skipElements are HTML elements whose rendered content is dropped.
var skipElements = map[atom.Atom]bool{
	atom.Script: true,
	atom.Style:  true,
}

// Strip renders message markup to plain text. Markdown is rendered via
// goldmark and the resulting HTML flattened to its text content;
// platform mention and emoji tokens are replaced before rendering so
// goldmark does not mangle them as autolinks.
func Strip(text string) string {
	if text == "" {
		return ""
	}

	text = userMentionRE.ReplaceAllString(text, "@$1")
	text = channelRefRE.ReplaceAllString(text, "")
	text = emojiCodeRE.ReplaceAllString(text, ":$1:")

	var buf bytes.Buffer
	if err := goldmark.Convert([]byte(text), &buf); err != nil {
		// Markdown that goldmark rejects is rare; fall back to the raw
		// text rather than dropping content from the context window.
		return collapseWhitespace(text)
	}

	return collapseWhitespace(flattenHTML(buf.String()))
}

// flattenHTML returns the concatenated text content of an HTML fragment.
func flattenHTML(fragment string) string {
	doc, err := html.Parse(strings.NewReader(fragment))
	if err != nil {
		return fragment
	}

	var b strings.Builder
	walkText(doc, &b)
	return b.String()
}

func walkText(n *html.Node, b *strings.Builder) {
	switch n.Type {
	case html.TextNode:
		b.WriteString(n.Data)
	case html.ElementNode:
		if skipElements[n.DataAtom] {
			return
		}
		// Block elements become line breaks so separate paragraphs or
		// list items do not run together.
		switch n.DataAtom {
		case atom.P, atom.Br, atom.Li, atom.Div, atom.Blockquote,
			atom.H1, atom.H2, atom.H3, atom.H4, atom.H5, atom.H6, atom.Pre:
			if b.Len() > 0 {
				b.WriteString("\n")
			}
		}
	}
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		walkText(c, b)
	}
}

// collapseWhitespace trims each line and drops empty runs so stripped
// markup does not leave gaps in the prompt.
func collapseWhitespace(s string) string {
	lines := strings.Split(s, "\n")
	out := make([]string, 0, len(lines))
	for _, line := range lines {
		line = strings.TrimSpace(spaceRunRE.ReplaceAllString(line, " "))
		if line != "" {
			out = append(out, line)
		}
	}
	return strings.Join(out, "\n")
}
