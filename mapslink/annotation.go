package mapslink

import (
	"bytes"
	"fmt"

	"github.com/microcosm-cc/bluemonday"
	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"
)

const (
	// AnnotationClass marks the injected wrapper element.
	AnnotationClass = "gmaps-link-container"
	// LinkClass marks the anchor inside the wrapper.
	LinkClass = "gmaps-link"
	// MarkerAttr is set on a stable container that holds an annotation.
	MarkerAttr = "data-gmaps-link-added"

	mapsSearchURL = "https://www.google.com/maps/search/?api=1&query="
	linkLabel     = "Open in Google Maps"
)

// BuildTargetURL returns the maps search URL for query. The query is escaped
// like JavaScript's encodeURIComponent.
func BuildTargetURL(query string) string {
	return mapsSearchURL + encodeURIComponent(query)
}

// encodeURIComponent keeps A-Z a-z 0-9 and -_.!~*'() and percent-encodes
// every other byte of the UTF-8 input.
func encodeURIComponent(s string) string {
	const hex = "0123456789ABCDEF"
	var b []byte
	for i := 0; i < len(s); i++ {
		c := s[i]
		switch {
		case 'a' <= c && c <= 'z', 'A' <= c && c <= 'Z', '0' <= c && c <= '9':
			b = append(b, c)
		case c == '-' || c == '_' || c == '.' || c == '!' || c == '~' ||
			c == '*' || c == '\'' || c == '(' || c == ')':
			b = append(b, c)
		default:
			b = append(b, '%', hex[c>>4], hex[c&0xF])
		}
	}
	return string(b)
}

// BuildAnnotationElement returns a detached annotation tree:
//
//	div.gmaps-link-container > a.gmaps-link[target=_blank] > svg + label
func BuildAnnotationElement(url string) *html.Node {
	wrapper := element("div", "", html.Attribute{Key: "class", Val: AnnotationClass})

	link := element("a", "",
		html.Attribute{Key: "href", Val: url},
		html.Attribute{Key: "target", Val: "_blank"},
		html.Attribute{Key: "rel", Val: "noopener noreferrer"},
		html.Attribute{Key: "class", Val: LinkClass},
	)

	icon := element("svg", "svg",
		html.Attribute{Key: "xmlns", Val: "http://www.w3.org/2000/svg"},
		html.Attribute{Key: "width", Val: "16"},
		html.Attribute{Key: "height", Val: "16"},
		html.Attribute{Key: "viewBox", Val: "0 0 24 24"},
		html.Attribute{Key: "fill", Val: "none"},
		html.Attribute{Key: "stroke", Val: "currentColor"},
		html.Attribute{Key: "stroke-width", Val: "2"},
		html.Attribute{Key: "stroke-linecap", Val: "round"},
		html.Attribute{Key: "stroke-linejoin", Val: "round"},
	)
	icon.AppendChild(element("path", "svg",
		html.Attribute{Key: "d", Val: "M21 10c0 7-9 13-9 13s-9-6-9-13a9 9 0 0 1 18 0z"},
	))
	icon.AppendChild(element("circle", "svg",
		html.Attribute{Key: "cx", Val: "12"},
		html.Attribute{Key: "cy", Val: "10"},
		html.Attribute{Key: "r", Val: "3"},
	))

	link.AppendChild(icon)
	link.AppendChild(&html.Node{Type: html.TextNode, Data: " " + linkLabel})
	wrapper.AppendChild(link)
	return wrapper
}

func element(tag, namespace string, attrs ...html.Attribute) *html.Node {
	return &html.Node{
		Type:      html.ElementNode,
		DataAtom:  atom.Lookup([]byte(tag)),
		Data:      tag,
		Namespace: namespace,
		Attr:      attrs,
	}
}

// annotationPolicy admits exactly the markup BuildAnnotationElement emits.
var annotationPolicy = func() *bluemonday.Policy {
	p := bluemonday.NewPolicy()
	p.AllowStandardURLs()
	// AllowStandardURLs also appends nofollow to every link rel.
	p.RequireNoFollowOnLinks(false)
	p.AllowAttrs("class").OnElements("div", "a")
	p.AllowAttrs("href", "target", "rel").OnElements("a")
	p.AllowAttrs("xmlns", "width", "height", "viewBox", "fill", "stroke",
		"stroke-width", "stroke-linecap", "stroke-linejoin").OnElements("svg")
	p.AllowAttrs("d").OnElements("path")
	p.AllowAttrs("cx", "cy", "r").OnElements("circle")
	p.AllowElements("div", "a", "svg", "path", "circle")
	return p
}()

// RenderAnnotation serialises the annotation for url and sanitises it, for
// backends that inject markup into a live page.
func RenderAnnotation(url string) (string, error) {
	var buf bytes.Buffer
	if err := html.Render(&buf, BuildAnnotationElement(url)); err != nil {
		return "", fmt.Errorf("mapslink: render annotation: %w", err)
	}
	return SanitizeAnnotation(buf.String()), nil
}

// SanitizeAnnotation strips anything from markup that an annotation does not
// contain. Backends that serialise annotation trees themselves apply it before
// injection.
func SanitizeAnnotation(markup string) string {
	return annotationPolicy.Sanitize(markup)
}
