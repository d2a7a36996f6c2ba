package mailparse

import (
	"encoding/base64"
	"regexp"
	"strings"
)

var (
	encodedWordRe = regexp.MustCompile(`=\?([^?]+)\?([BbQq])\?([^?]*)\?=`)
	tagRe         = regexp.MustCompile(`<[^>]*>`)
	multiBlankRe  = regexp.MustCompile(`\n{3,}`)
)

// DecodeHeader decodes RFC 2047 encoded-words (=?charset?B|Q?text?=) in a
// header value. Encoded-words are decoded independently; whitespace between
// two encoded-words is collapsed to a single space. Malformed encoded-words
// are left literal, and unknown charsets fall through as UTF-8; decoding
// never fails.
func DecodeHeader(header string) string {
	matches := encodedWordRe.FindAllStringSubmatchIndex(header, -1)
	if len(matches) == 0 {
		return header
	}

	var b strings.Builder
	prevEnd := 0
	prevDecoded := false
	for _, m := range matches {
		start, end := m[0], m[1]
		gap := header[prevEnd:start]
		if prevDecoded && strings.TrimSpace(gap) == "" && gap != "" {
			b.WriteString(" ")
		} else {
			b.WriteString(gap)
		}

		charset := header[m[2]:m[3]]
		encoding := header[m[4]:m[5]]
		text := header[m[6]:m[7]]

		decoded, ok := decodeWord(charset, encoding, text)
		if ok {
			b.WriteString(decoded)
			prevDecoded = true
		} else {
			// Leave the malformed encoded-word literal.
			b.WriteString(header[start:end])
			prevDecoded = false
		}
		prevEnd = end
	}
	b.WriteString(header[prevEnd:])
	return b.String()
}

func decodeWord(charset, encoding, text string) (string, bool) {
	var raw []byte
	switch strings.ToUpper(encoding) {
	case "B":
		decoded, err := base64.StdEncoding.DecodeString(text)
		if err != nil {
			return "", false
		}
		raw = decoded
	case "Q":
		raw = decodeQ(text)
	default:
		return "", false
	}
	return decodeCharset(charset, raw), true
}

// decodeQ handles Q-encoding: underscore means space, =HH is a hex escape.
func decodeQ(s string) []byte {
	out := make([]byte, 0, len(s))
	for i := 0; i < len(s); i++ {
		switch {
		case s[i] == '_':
			out = append(out, ' ')
		case s[i] == '=' && i+2 < len(s):
			hi, ok1 := hexVal(s[i+1])
			lo, ok2 := hexVal(s[i+2])
			if ok1 && ok2 {
				out = append(out, hi<<4|lo)
				i += 2
			} else {
				out = append(out, s[i])
			}
		default:
			out = append(out, s[i])
		}
	}
	return out
}

func hexVal(c byte) (byte, bool) {
	switch {
	case c >= '0' && c <= '9':
		return c - '0', true
	case c >= 'A' && c <= 'F':
		return c - 'A' + 10, true
	case c >= 'a' && c <= 'f':
		return c - 'a' + 10, true
	}
	return 0, false
}

// decodeCharset maps raw bytes to a string. UTF-8 and ISO-8859-1 are
// supported; anything else falls through as UTF-8 rather than erroring.
func decodeCharset(charset string, raw []byte) string {
	switch strings.ToLower(charset) {
	case "iso-8859-1", "latin1", "latin-1":
		runes := make([]rune, len(raw))
		for i, b := range raw {
			runes[i] = rune(b)
		}
		return string(runes)
	default:
		return string(raw)
	}
}

// StripHTML removes tags, decodes the five named entities, normalizes line
// endings to LF, collapses three-or-more consecutive blank lines to two, and
// trims trailing whitespace per line.
func StripHTML(s string) string {
	s = tagRe.ReplaceAllString(s, "")
	s = strings.NewReplacer(
		"&amp;", "&",
		"&lt;", "<",
		"&gt;", ">",
		"&quot;", `"`,
		"&apos;", "'",
	).Replace(s)
	s = strings.ReplaceAll(s, "\r\n", "\n")
	s = strings.ReplaceAll(s, "\r", "\n")
	s = multiBlankRe.ReplaceAllString(s, "\n\n")

	lines := strings.Split(s, "\n")
	for i, line := range lines {
		lines[i] = strings.TrimRight(line, " \t")
	}
	return strings.Join(lines, "\n")
}

// footerMarkers are the unsubscribe/boilerplate phrases that mark the start
// of footer noise. Truncation only applies past minFooterOffset so a short
// legitimate body is never cut.
var footerMarkers = []string{
	"unsubscribe",
	"manage preferences",
	"update your preferences",
	"privacy policy",
	"terms of service",
	"view in browser",
}

const minFooterOffset = 200

// TruncateFooter cuts the body at the earliest footer marker found at
// position >= 200. The body is returned unchanged when no marker qualifies.
func TruncateFooter(body string) string {
	lower := strings.ToLower(body)
	cut := -1
	for _, marker := range footerMarkers {
		idx := strings.Index(lower, marker)
		for idx != -1 && idx < minFooterOffset {
			next := strings.Index(lower[idx+1:], marker)
			if next == -1 {
				idx = -1
			} else {
				idx = idx + 1 + next
			}
		}
		if idx >= minFooterOffset && (cut == -1 || idx < cut) {
			cut = idx
		}
	}
	if cut == -1 {
		return body
	}
	return strings.TrimRight(body[:cut], " \t\n")
}
