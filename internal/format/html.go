// ABOUTME: Asana rich-text HTML to Markdown by walking the golang.org/x/net/html tree
// ABOUTME: Produces ATX headings and hyphen bullets; never fails on malformed input

package format

import (
	"fmt"
	"regexp"
	"strings"

	xhtml "golang.org/x/net/html"
)

var inlineSpaces = regexp.MustCompile(`[ \t\r\f]+`)

// HTMLToMarkdown converts Asana html_text or html_notes into Markdown.
// Asana profile links (the anchors behind @mentions) are dropped first.
func HTMLToMarkdown(htmlText string) string {
	if strings.TrimSpace(htmlText) == "" {
		return ""
	}

	text := profileLinkTag.ReplaceAllString(htmlText, "")

	node, err := xhtml.Parse(strings.NewReader(text))
	if err != nil {
		return collapseNewlines(text)
	}

	b := &markdownBuilder{}
	b.walk(node)
	return collapseNewlines(b.String())
}

type markdownBuilder struct {
	strings.Builder
	listStack []listContext
	inPre     bool
}

type listContext struct {
	ordered bool
	index   int
}

func (m *markdownBuilder) walk(n *xhtml.Node) {
	switch n.Type {
	case xhtml.TextNode:
		m.writeText(n)
	case xhtml.ElementNode:
		switch strings.ToLower(n.Data) {
		case "script", "style", "head":
			return
		case "a":
			m.writeLink(n)
			return
		case "blockquote":
			m.writeBlockquote(n)
			return
		}
		m.handleStart(n)
		m.walkChildren(n)
		m.handleEnd(n)
	default:
		m.walkChildren(n)
	}
}

func (m *markdownBuilder) walkChildren(n *xhtml.Node) {
	for child := n.FirstChild; child != nil; child = child.NextSibling {
		m.walk(child)
	}
}

func (m *markdownBuilder) handleStart(n *xhtml.Node) {
	switch name := strings.ToLower(n.Data); name {
	case "h1", "h2", "h3", "h4", "h5", "h6":
		m.ensureBlankLine()
		m.WriteString(strings.Repeat("#", int(name[1]-'0')))
		m.WriteString(" ")
	case "p", "div":
		m.ensureBlankLine()
	case "br":
		m.WriteString("\n")
	case "hr":
		m.ensureBlankLine()
		m.WriteString("---\n")
	case "pre":
		if !m.inPre {
			m.ensureBlankLine()
			m.WriteString("```\n")
			m.inPre = true
		}
	case "code":
		if !m.inPre {
			m.WriteString("`")
		}
	case "strong", "b":
		m.WriteString("**")
	case "em", "i":
		m.WriteString("_")
	case "s", "del", "strike":
		m.WriteString("~~")
	case "ul":
		m.listStack = append(m.listStack, listContext{})
		m.ensureLineStart()
	case "ol":
		m.listStack = append(m.listStack, listContext{ordered: true})
		m.ensureLineStart()
	case "li":
		m.startListItem()
	case "img":
		if src := attrValue(n, "src"); src != "" {
			alt := attrValue(n, "alt")
			if alt == "" {
				alt = src
			}
			m.WriteString("![" + alt + "](" + src + ")")
		}
	}
}

func (m *markdownBuilder) handleEnd(n *xhtml.Node) {
	switch strings.ToLower(n.Data) {
	case "h1", "h2", "h3", "h4", "h5", "h6", "p", "div":
		m.WriteString("\n")
	case "pre":
		if m.inPre {
			m.ensureLineStart()
			m.WriteString("```\n")
			m.inPre = false
		}
	case "code":
		if !m.inPre {
			m.WriteString("`")
		}
	case "strong", "b":
		m.WriteString("**")
	case "em", "i":
		m.WriteString("_")
	case "s", "del", "strike":
		m.WriteString("~~")
	case "ul", "ol":
		if len(m.listStack) > 0 {
			m.listStack = m.listStack[:len(m.listStack)-1]
		}
		m.WriteString("\n")
	}
}

func (m *markdownBuilder) writeText(n *xhtml.Node) {
	if m.inPre {
		m.WriteString(n.Data)
		return
	}

	text := inlineSpaces.ReplaceAllString(n.Data, " ")
	if strings.TrimSpace(text) == "" {
		if p := n.Parent; p != nil && (p.Data == "ul" || p.Data == "ol") {
			return
		}
		if strings.Contains(text, "\n") {
			m.WriteString(strings.Repeat("\n", strings.Count(text, "\n")))
		} else if !m.endsWithSpace() {
			m.WriteString(" ")
		}
		return
	}

	if m.atLineStart() {
		text = strings.TrimLeft(text, " ")
	}
	m.WriteString(text)
}

// writeLink renders <a href> as [label](href), or the bare URL when the
// label repeats it. Anchors without href keep only their text.
func (m *markdownBuilder) writeLink(n *xhtml.Node) {
	sub := &markdownBuilder{inPre: m.inPre}
	sub.walkChildren(n)
	label := strings.TrimSpace(sub.String())

	href := attrValue(n, "href")
	switch {
	case href == "":
		m.WriteString(label)
	case label == "" || label == href:
		m.WriteString(href)
	default:
		m.WriteString("[" + label + "](" + href + ")")
	}
}

func (m *markdownBuilder) writeBlockquote(n *xhtml.Node) {
	sub := &markdownBuilder{}
	sub.walkChildren(n)
	body := collapseNewlines(sub.String())
	if body == "" {
		return
	}

	m.ensureBlankLine()
	for _, line := range strings.Split(body, "\n") {
		if line == "" {
			m.WriteString(">\n")
			continue
		}
		m.WriteString("> " + line + "\n")
	}
}

func (m *markdownBuilder) atLineStart() bool {
	return m.Len() == 0 || strings.HasSuffix(m.String(), "\n")
}

func (m *markdownBuilder) endsWithSpace() bool {
	return m.Len() == 0 || strings.HasSuffix(m.String(), " ") || strings.HasSuffix(m.String(), "\n")
}

func (m *markdownBuilder) ensureLineStart() {
	if !m.atLineStart() {
		m.WriteString("\n")
	}
}

func (m *markdownBuilder) ensureBlankLine() {
	if m.Len() == 0 {
		return
	}
	if !strings.HasSuffix(m.String(), "\n\n") {
		if strings.HasSuffix(m.String(), "\n") {
			m.WriteString("\n")
		} else {
			m.WriteString("\n\n")
		}
	}
}

func (m *markdownBuilder) startListItem() {
	if len(m.listStack) == 0 {
		m.listStack = append(m.listStack, listContext{})
	}
	ctx := &m.listStack[len(m.listStack)-1]
	indent := strings.Repeat("  ", len(m.listStack)-1)
	marker := "- "
	if ctx.ordered {
		ctx.index++
		marker = fmt.Sprintf("%d. ", ctx.index)
	}
	m.ensureLineStart()
	m.WriteString(indent)
	m.WriteString(marker)
}

func attrValue(n *xhtml.Node, key string) string {
	for _, attr := range n.Attr {
		if strings.EqualFold(attr.Key, key) {
			return strings.TrimSpace(attr.Val)
		}
	}
	return ""
}
