// Package markdown renders notification markdown into the formats the
// delivery channels need: plain text with formatting spans (Telegram
// entities, plain-text email parts) and HTML (email bodies).
package markdown

import (
	"sort"
	"strconv"
	"strings"
	"unicode/utf16"

	"github.com/gomarkdown/markdown"
	"github.com/gomarkdown/markdown/ast"
	"github.com/gomarkdown/markdown/html"
	"github.com/gomarkdown/markdown/parser"
)

type SpanKind string

const (
	Bold          SpanKind = "bold"
	Italic        SpanKind = "italic"
	Strikethrough SpanKind = "strikethrough"
	Code          SpanKind = "code"
	Pre           SpanKind = "pre"
	Link          SpanKind = "link"
	Blockquote    SpanKind = "blockquote"
)

// Span marks a formatted range of rendered text. Offset and Length count
// UTF-16 code units.
type Span struct {
	Kind     SpanKind
	Offset   int
	Length   int
	URL      string
	Language string
}

const extensions = parser.CommonExtensions | parser.AutoHeadingIDs | parser.NoEmptyLineBeforeBlock |
	parser.Strikethrough | parser.FencedCode | parser.Autolink | parser.Tables

func parse(md string) ast.Node {
	return parser.NewWithExtensions(extensions).Parse([]byte(md))
}

// Render flattens md into plain text and the spans that carry its
// formatting. Spans are ordered by offset, outer spans first.
func Render(md string) (string, []Span) {
	if md == "" {
		return "", nil
	}
	r := &textRenderer{}
	r.node(parse(md))
	r.sortSpans()
	return r.buf.String(), r.spans
}

// PlainText is Render without the spans.
func PlainText(md string) string {
	text, _ := Render(md)
	return text
}

// ToHTML renders md as an HTML fragment.
func ToHTML(md string) string {
	if md == "" {
		return ""
	}
	renderer := html.NewRenderer(html.RendererOptions{
		Flags: html.CommonFlags | html.HrefTargetBlank,
	})
	return string(markdown.Render(parse(md), renderer))
}

type textRenderer struct {
	buf      strings.Builder
	offset16 int
	spans    []Span
}

func (r *textRenderer) write(s string) {
	if s == "" {
		return
	}
	r.buf.WriteString(s)
	r.offset16 += len(utf16.Encode([]rune(s)))
}

func (r *textRenderer) mark(kind SpanKind, start int, url, lang string) {
	if n := r.offset16 - start; n > 0 {
		r.spans = append(r.spans, Span{Kind: kind, Offset: start, Length: n, URL: url, Language: lang})
	}
}

func (r *textRenderer) sortSpans() {
	sort.SliceStable(r.spans, func(i, j int) bool {
		if r.spans[i].Offset != r.spans[j].Offset {
			return r.spans[i].Offset < r.spans[j].Offset
		}
		return r.spans[i].Length > r.spans[j].Length
	})
}

func (r *textRenderer) children(node ast.Node) {
	for _, child := range node.GetChildren() {
		r.node(child)
	}
}

// wrap renders node's children inside a span of the given kind.
func (r *textRenderer) wrap(node ast.Node, kind SpanKind) {
	start := r.offset16
	r.children(node)
	r.mark(kind, start, "", "")
}

// blockGap separates a block from its next sibling.
func (r *textRenderer) blockGap(node ast.Node) {
	if ast.GetNextNode(node) == nil {
		return
	}
	if _, inItem := node.GetParent().(*ast.ListItem); inItem {
		r.write("\n")
		return
	}
	r.write("\n\n")
}

func (r *textRenderer) node(node ast.Node) {
	switch n := node.(type) {
	case *ast.Document:
		r.children(node)
	case *ast.Paragraph:
		r.children(node)
		r.blockGap(node)
	case *ast.Heading:
		r.wrap(node, Bold)
		r.blockGap(node)
	case *ast.BlockQuote:
		r.wrap(node, Blockquote)
		r.blockGap(node)
	case *ast.List:
		r.list(n)
		r.blockGap(node)
	case *ast.ListItem:
		r.listItem(n)
	case *ast.Strong:
		r.wrap(node, Bold)
	case *ast.Emph:
		r.wrap(node, Italic)
	case *ast.Del:
		r.wrap(node, Strikethrough)
	case *ast.Code:
		start := r.offset16
		r.write(string(n.Literal))
		r.mark(Code, start, "", "")
	case *ast.CodeBlock:
		start := r.offset16
		r.write(strings.TrimRight(string(n.Literal), "\n"))
		r.mark(Pre, start, "", firstField(string(n.Info)))
		r.blockGap(node)
	case *ast.Link:
		start := r.offset16
		r.children(node)
		if r.offset16 > start {
			r.mark(Link, start, string(n.Destination), "")
		} else {
			r.write(string(n.Destination))
		}
	case *ast.Text:
		r.write(string(n.Literal))
	case *ast.Softbreak, *ast.Hardbreak:
		r.write("\n")
	case *ast.HorizontalRule:
		r.write(strings.Repeat("-", 10))
		r.blockGap(node)
	case *ast.HTMLBlock:
		r.write(string(n.Literal))
		r.blockGap(node)
	case *ast.HTMLSpan:
		r.write(string(n.Literal))
	default:
		if len(node.GetChildren()) > 0 {
			r.children(node)
			return
		}
		if leaf := node.AsLeaf(); leaf != nil {
			r.write(string(leaf.Literal))
		}
	}
}

func (r *textRenderer) list(list *ast.List) {
	ordered := list.ListFlags&ast.ListTypeOrdered != 0
	index := max(list.Start, 1)

	items := list.GetChildren()
	for i, one := range items {
		item, ok := one.(*ast.ListItem)
		if !ok {
			continue
		}
		if ordered {
			r.write(strconv.Itoa(index) + ". ")
			index++
		} else {
			r.write("- ")
		}
		r.listItem(item)
		if i < len(items)-1 {
			r.write("\n")
		}
	}
}

func (r *textRenderer) listItem(item *ast.ListItem) {
	children := item.GetChildren()
	for i, child := range children {
		if p, ok := child.(*ast.Paragraph); ok {
			r.children(p)
		} else {
			r.node(child)
		}
		if i < len(children)-1 {
			r.write("\n")
		}
	}
}

func firstField(s string) string {
	if fields := strings.Fields(s); len(fields) > 0 {
		return fields[0]
	}
	return ""
}
