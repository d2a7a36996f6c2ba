// Package mailparse decodes raw provider message payloads: MIME part
// flattening, RFC 2047 header decoding, HTML stripping, and ICS invite
// extraction. Everything here is pure; provider I/O and base64 transport
// decoding happen before a payload reaches this package.
package mailparse

import "strings"

// Part is one node of a message payload tree. Body holds the
// transport-decoded bytes as a string; container nodes carry children in
// Parts and usually have an empty Body.
type Part struct {
	MimeType string
	Filename string
	Headers  map[string]string
	Body     string
	Parts    []Part
}

// Flatten walks the payload depth-first and returns the leaf parts, skipping
// container-only nodes.
func Flatten(p Part) []Part {
	var out []Part
	var walk func(Part)
	walk = func(n Part) {
		if len(n.Parts) == 0 {
			out = append(out, n)
			return
		}
		for _, c := range n.Parts {
			walk(c)
		}
	}
	walk(p)
	return out
}

// BodyText is the text/html pair picked out of a flattened part list.
type BodyText struct {
	Text string
	HTML string
}

// PickText selects the first text/plain part as Text and the first text/html
// part as HTML. Other parts are ignored.
func PickText(parts []Part) BodyText {
	var bt BodyText
	for _, p := range parts {
		mt := strings.ToLower(p.MimeType)
		switch {
		case mt == "text/plain" && bt.Text == "":
			bt.Text = p.Body
		case mt == "text/html" && bt.HTML == "":
			bt.HTML = p.Body
		}
	}
	return bt
}

// PreferredBody returns the plain text body when present, else the stripped
// HTML body, with footer noise truncated either way.
func PreferredBody(parts []Part) string {
	bt := PickText(parts)
	body := bt.Text
	if body == "" && bt.HTML != "" {
		body = StripHTML(bt.HTML)
	}
	return TruncateFooter(body)
}
