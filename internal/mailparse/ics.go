package mailparse

import (
	"strings"
	"time"
)

// ICSDetails holds the fields extracted from a calendar invite attachment.
// RawStart/RawEnd preserve the datetime tokens exactly as received so a later
// timezone fix-up stays possible; bare (non-Z) tokens are parsed as UTC,
// which is a documented limitation.
type ICSDetails struct {
	Start     *time.Time
	End       *time.Time
	RawStart  string
	RawEnd    string
	Location  string
	Organizer string
}

// ExtractICS finds the first part carrying a calendar invite (mime type
// text/calendar or filename invite.ics) and parses its DTSTART, DTEND,
// LOCATION, and ORGANIZER lines. Returns nil when no invite part exists.
func ExtractICS(parts []Part) *ICSDetails {
	for _, p := range parts {
		if strings.EqualFold(p.MimeType, "text/calendar") || strings.EqualFold(p.Filename, "invite.ics") {
			return parseICS(p.Body)
		}
	}
	return nil
}

func parseICS(body string) *ICSDetails {
	d := &ICSDetails{}
	for _, line := range strings.Split(body, "\n") {
		line = strings.TrimRight(line, "\r")
		switch {
		case strings.HasPrefix(line, "DTSTART"):
			if tok := icsValue(line); tok != "" {
				d.RawStart = tok
				if t, ok := parseICSTime(tok); ok {
					d.Start = &t
				}
			}
		case strings.HasPrefix(line, "DTEND"):
			if tok := icsValue(line); tok != "" {
				d.RawEnd = tok
				if t, ok := parseICSTime(tok); ok {
					d.End = &t
				}
			}
		case strings.HasPrefix(line, "LOCATION:"):
			d.Location = strings.TrimSpace(strings.TrimPrefix(line, "LOCATION:"))
		case strings.HasPrefix(line, "ORGANIZER"):
			if v := icsValue(line); v != "" {
				d.Organizer = strings.TrimSpace(strings.TrimPrefix(v, "mailto:"))
			}
		}
	}
	if d.Start == nil && d.End == nil && d.Location == "" && d.Organizer == "" {
		return nil
	}
	return d
}

// icsValue returns the text after the first colon, skipping any property
// parameters (e.g. DTSTART;TZID=America/New_York:20260121T143000).
func icsValue(line string) string {
	idx := strings.Index(line, ":")
	if idx == -1 {
		return ""
	}
	return strings.TrimSpace(line[idx+1:])
}

// parseICSTime parses YYYYMMDDTHHMMSS with an optional trailing Z. Both forms
// produce UTC times; the raw token is kept by the caller for later fix-up.
func parseICSTime(tok string) (time.Time, bool) {
	tok = strings.TrimSpace(tok)
	if strings.HasSuffix(tok, "Z") {
		if t, err := time.Parse("20060102T150405Z", tok); err == nil {
			return t.UTC(), true
		}
		return time.Time{}, false
	}
	if t, err := time.Parse("20060102T150405", tok); err == nil {
		return t.UTC(), true
	}
	return time.Time{}, false
}
