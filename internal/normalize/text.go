package normalize

import (
	"encoding/json"
	"strconv"
	"strings"

	"golang.org/x/net/html"
)

var blockTags = map[string]bool{
	"p": true, "br": true, "div": true, "li": true, "ul": true, "ol": true,
	"h1": true, "h2": true, "h3": true, "h4": true, "h5": true, "h6": true,
	"tr": true, "section": true, "article": true,
}

// StripHTML returns the text content of an HTML fragment with entities
// decoded, script and style bodies dropped and block elements turned into
// line breaks. Plain text passes through with whitespace cleaned up.
func StripHTML(s string) string {
	if strings.TrimSpace(s) == "" {
		return ""
	}
	z := html.NewTokenizer(strings.NewReader(s))
	var b strings.Builder
	skip := 0
	for {
		tt := z.Next()
		switch tt {
		case html.ErrorToken:
			// io.EOF or a malformed tail; either way keep what was read.
			return cleanLines(b.String())
		case html.TextToken:
			if skip == 0 {
				b.Write(z.Text())
			}
		case html.StartTagToken, html.SelfClosingTagToken:
			name, _ := z.TagName()
			tag := string(name)
			if (tag == "script" || tag == "style") && tt == html.StartTagToken {
				skip++
			}
			if blockTags[tag] {
				b.WriteByte('\n')
			}
		case html.EndTagToken:
			name, _ := z.TagName()
			tag := string(name)
			if (tag == "script" || tag == "style") && skip > 0 {
				skip--
			}
			if blockTags[tag] {
				b.WriteByte('\n')
			}
		}
	}
}

// cleanLines collapses whitespace inside each line and drops empty lines.
func cleanLines(s string) string {
	lines := strings.Split(s, "\n")
	out := lines[:0]
	for _, l := range lines {
		l = collapse(l)
		if l != "" {
			out = append(out, l)
		}
	}
	return strings.Join(out, "\n")
}

func collapse(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

// stringify renders a decoded JSON value as text. Arrays are joined with
// commas; objects contribute their most descriptive member.
func stringify(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return strings.TrimSpace(t)
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	case int:
		return strconv.Itoa(t)
	case int64:
		return strconv.FormatInt(t, 10)
	case bool:
		return strconv.FormatBool(t)
	case json.Number:
		return t.String()
	case []string:
		return joinNonEmpty(t, ", ")
	case []any:
		parts := make([]string, 0, len(t))
		for _, e := range t {
			parts = append(parts, stringify(e))
		}
		return joinNonEmpty(parts, ", ")
	case map[string]any:
		return stringifyObject(t)
	default:
		return ""
	}
}

func stringifyObject(m map[string]any) string {
	var label string
	for _, k := range []string{"address", "label", "name", "city", "text"} {
		if s := stringify(m[k]); s != "" {
			label = s
			break
		}
	}
	for _, k := range []string{"zip_code", "postal_code", "zipCode"} {
		if zip := stringify(m[k]); zip != "" && !strings.Contains(label, zip) {
			return joinNonEmpty([]string{zip, label}, " ")
		}
	}
	return label
}

func joinNonEmpty(parts []string, sep string) string {
	kept := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			kept = append(kept, p)
		}
	}
	return strings.Join(kept, sep)
}

// lookup resolves a dotted path through nested maps.
func lookup(fields map[string]any, path string) (any, bool) {
	if v, ok := fields[path]; ok {
		return v, true
	}
	var cur any = fields
	for _, part := range strings.Split(path, ".") {
		m, ok := cur.(map[string]any)
		if !ok {
			return nil, false
		}
		cur, ok = m[part]
		if !ok {
			return nil, false
		}
	}
	return cur, true
}

// first returns the first non-empty textual value among paths.
func first(fields map[string]any, paths []string) string {
	for _, p := range paths {
		if v, ok := lookup(fields, p); ok {
			if s := stringify(v); s != "" {
				return s
			}
		}
	}
	return ""
}

// firstRaw returns the first present, non-empty value among paths.
func firstRaw(fields map[string]any, paths []string) (any, string) {
	for _, p := range paths {
		v, ok := lookup(fields, p)
		if !ok || v == nil {
			continue
		}
		if s, isStr := v.(string); isStr && strings.TrimSpace(s) == "" {
			continue
		}
		return v, p
	}
	return nil, ""
}

// all joins every non-empty value among paths with blank lines.
func all(fields map[string]any, paths []string) string {
	parts := make([]string, 0, len(paths))
	for _, p := range paths {
		if v, ok := lookup(fields, p); ok {
			parts = append(parts, stringify(v))
		}
	}
	return joinNonEmpty(parts, "\n\n")
}
