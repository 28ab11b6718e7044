// Package message defines the structured email representation every
// analyzer unit reads from.
package message

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"

	"golang.org/x/net/html"
)

// Message is a decoded inbound email.
type Message struct {
	Headers map[string]string `json:"headers"`
	Body    Body              `json:"body"`
	// Links, when set by the parser, replaces extraction from Body.HTML.
	Links []Link `json:"links,omitempty"`
}

// Body holds the available body variants.
type Body struct {
	Text string `json:"text,omitempty"`
	HTML string `json:"html,omitempty"`
}

// Link is a URL referenced by the message.
type Link struct {
	URL    string `json:"url"`
	Text   string `json:"text,omitempty"`
	Type   string `json:"type,omitempty"` // "explicit", "image", "style"
	Domain string `json:"domain,omitempty"`
}

// Header returns the value of a header, matching the name case-insensitively.
func (m *Message) Header(name string) string {
	if m == nil {
		return ""
	}
	if v, ok := m.Headers[name]; ok {
		return v
	}
	for k, v := range m.Headers {
		if strings.EqualFold(k, name) {
			return v
		}
	}
	return ""
}

// Subject returns the Subject header.
func (m *Message) Subject() string { return m.Header("Subject") }

// From returns the raw From header.
func (m *Message) From() string { return m.Header("From") }

// TextContent returns the plain text body, falling back to the visible text
// of the HTML body.
func (m *Message) TextContent() string {
	if m == nil {
		return ""
	}
	if strings.TrimSpace(m.Body.Text) != "" {
		return m.Body.Text
	}
	if m.Body.HTML == "" {
		return ""
	}
	return htmlText(m.Body.HTML)
}

// htmlText collects text nodes outside script and style elements.
func htmlText(src string) string {
	z := html.NewTokenizer(strings.NewReader(src))
	var b strings.Builder
	skip := 0
	for {
		switch z.Next() {
		case html.ErrorToken:
			return strings.TrimSpace(b.String())
		case html.StartTagToken:
			name, _ := z.TagName()
			switch string(name) {
			case "script", "style":
				skip++
			case "br", "p", "div", "li", "tr":
				b.WriteByte('\n')
			}
		case html.EndTagToken:
			name, _ := z.TagName()
			if s := string(name); (s == "script" || s == "style") && skip > 0 {
				skip--
			}
		case html.TextToken:
			if skip == 0 {
				b.Write(z.Text())
			}
		}
	}
}

// Decode reads one JSON-encoded message.
func Decode(r io.Reader) (*Message, error) {
	var m Message
	dec := json.NewDecoder(r)
	if err := dec.Decode(&m); err != nil {
		return nil, fmt.Errorf("decode message: %w", err)
	}
	if m.Headers == nil {
		m.Headers = map[string]string{}
	}
	return &m, nil
}

// Load reads a JSON-encoded message from path.
func Load(path string) (*Message, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return Decode(f)
}
