package links

import (
	"net/url"
	"regexp"
	"strings"

	"golang.org/x/net/html"

	"github.com/gzhole/mailshield/internal/message"
)

const (
	TypeExplicit = "explicit"
	TypeImage    = "image"
	TypeStyle    = "style"
)

var cssURLPattern = regexp.MustCompile(`url\(["']?(.*?)["']?\)`)

// Extract returns the links referenced by an HTML document: anchor targets,
// image sources and CSS url() references, in document order per kind.
func Extract(src string) []message.Link {
	var out []message.Link
	z := html.NewTokenizer(strings.NewReader(src))

	open := -1
	var text strings.Builder
	for done := false; !done; {
		switch z.Next() {
		case html.ErrorToken:
			done = true
		case html.StartTagToken, html.SelfClosingTagToken:
			tok := z.Token()
			switch tok.Data {
			case "a":
				if href, ok := attr(tok, "href"); ok {
					if u, ok := normalize(href); ok {
						out = append(out, message.Link{URL: u, Type: TypeExplicit})
						open = len(out) - 1
						text.Reset()
					}
				}
			case "img":
				if img, ok := attr(tok, "src"); ok {
					if u, ok := normalize(img); ok {
						alt, _ := attr(tok, "alt")
						out = append(out, message.Link{URL: u, Text: alt, Type: TypeImage})
					}
				}
			}
		case html.TextToken:
			if open >= 0 {
				text.Write(z.Text())
			}
		case html.EndTagToken:
			if name, _ := z.TagName(); string(name) == "a" && open >= 0 {
				out[open].Text = strings.TrimSpace(text.String())
				open = -1
			}
		}
	}

	for _, m := range cssURLPattern.FindAllStringSubmatch(src, -1) {
		if u, ok := normalize(m[1]); ok {
			out = append(out, message.Link{URL: u, Type: TypeStyle})
		}
	}

	for i := range out {
		out[i].Domain = hostOf(out[i].URL)
	}
	return out
}

func attr(tok html.Token, key string) (string, bool) {
	for _, a := range tok.Attr {
		if a.Key == key {
			return a.Val, true
		}
	}
	return "", false
}

// normalize trims raw and drops values that cannot lead anywhere.
func normalize(raw string) (string, bool) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return "", false
	}
	lower := strings.ToLower(raw)
	for _, p := range []string{"data:", "javascript:", "#"} {
		if strings.HasPrefix(lower, p) {
			return "", false
		}
	}
	if strings.HasPrefix(lower, "www.") {
		raw = "http://" + raw
	}
	return raw, true
}

func hostOf(raw string) string {
	u, err := url.Parse(raw)
	if err != nil {
		return ""
	}
	return u.Host
}
