// Пакет sanitize очищает HTML постов и готовит из него
// простой текст, анонсы и теги.
package sanitize

import (
	"bytes"
	"html"
	"strings"
	"unicode/utf8"

	strip "github.com/grokify/html-strip-tags-go"
	"github.com/microcosm-cc/bluemonday"
	xhtml "golang.org/x/net/html"
	"golang.org/x/net/html/atom"
)

// ExcerptLen - длина анонса в символах.
const ExcerptLen = 200

// разрешенная разметка постов
var policy = func() *bluemonday.Policy {
	p := bluemonday.NewPolicy()
	p.AllowElements(
		"p", "strong", "em", "u", "ol", "ul", "li", "blockquote",
		"h1", "h2", "h3", "h4", "h5", "h6", "pre", "code", "br",
	)
	p.AllowAttrs("href").OnElements("a")
	p.AllowAttrs("src", "alt").OnElements("img")
	p.AllowURLSchemes("http", "https", "mailto")
	p.AllowRelativeURLs(true)
	return p
}()

// HTML очищает пользовательский HTML по белому списку тегов
// и атрибутов. Все ссылки открываются в новой вкладке
// с rel="noopener noreferrer".
func HTML(s string) string {
	clean := policy.Sanitize(s)
	if !strings.Contains(clean, "<a") {
		return clean
	}
	return rewriteLinks(clean)
}

// rewriteLinks проставляет rel и target каждой ссылке, включая
// относительные и mailto. Опции bluemonday добавляют target
// только ссылкам с хостом.
func rewriteLinks(s string) string {
	body := &xhtml.Node{Type: xhtml.ElementNode, Data: "body", DataAtom: atom.Body}
	nodes, err := xhtml.ParseFragment(strings.NewReader(s), body)
	if err != nil {
		return s
	}

	var walk func(n *xhtml.Node)
	walk = func(n *xhtml.Node) {
		if n.Type == xhtml.ElementNode && n.DataAtom == atom.A {
			attrs := n.Attr[:0]
			for _, a := range n.Attr {
				if a.Key != "rel" && a.Key != "target" {
					attrs = append(attrs, a)
				}
			}
			n.Attr = append(attrs,
				xhtml.Attribute{Key: "rel", Val: "noopener noreferrer"},
				xhtml.Attribute{Key: "target", Val: "_blank"},
			)
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}

	var buf bytes.Buffer
	for _, n := range nodes {
		walk(n)
		if err := xhtml.Render(&buf, n); err != nil {
			return s
		}
	}
	return buf.String()
}

// PlainText возвращает текст без разметки, пробельные
// символы схлопываются в один пробел.
func PlainText(s string) string {
	text := html.UnescapeString(strip.StripTags(s))
	return strings.Join(strings.Fields(text), " ")
}

// Excerpt возвращает первые [ExcerptLen] символов
// простого текста, обрезанный текст заканчивается многоточием.
func Excerpt(s string) string {
	text := PlainText(s)
	if utf8.RuneCountInString(text) <= ExcerptLen {
		return text
	}
	return string([]rune(text)[:ExcerptLen]) + "…"
}

// Tags нормализует теги: обрезает пробелы, приводит
// к нижнему регистру и убирает пустые и повторяющиеся.
// Порядок первого вхождения сохраняется.
func Tags(tags []string) []string {
	out := make([]string, 0, len(tags))
	seen := make(map[string]bool, len(tags))
	for _, t := range tags {
		t = strings.ToLower(strings.TrimSpace(t))
		if t == "" || seen[t] {
			continue
		}
		seen[t] = true
		out = append(out, t)
	}
	return out
}

// SplitTags разбирает теги, перечисленные через запятую.
func SplitTags(s string) []string {
	return Tags(strings.Split(s, ","))
}
