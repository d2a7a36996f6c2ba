// Package heuristics extracts typed care-task fields from decoded message
// text and provides the deterministic classification gates that run before
// (and alongside) the LLM classifier.
package heuristics

import (
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/carebridge/inbox-triage/internal/domain"
	"github.com/carebridge/inbox-triage/internal/mailparse"
)

// Keyword groups for type selection and evidence checks. Matching is
// case-insensitive substring, first group wins.
var (
	appointmentKeywords = []string{"appointment", "appt", "calendar", "meeting"}
	billingKeywords     = []string{"bill", "invoice", "statement", "amount due", "payment"}
	rxKeywords          = []string{"medication", "prescription", "rx", "refill"}
)

var (
	isoDateRe   = regexp.MustCompile(`\b(\d{4}-\d{2}-\d{2})(?:[T ](\d{2}:\d{2})(?::(\d{2}))?)?`)
	slashDateRe = regexp.MustCompile(`\b(\d{1,2})/(\d{1,2})/(\d{2,4})\b`)
	monthDateRe = regexp.MustCompile(`\b(Jan|Feb|Mar|Apr|May|Jun|Jul|Aug|Sep|Oct|Nov|Dec)[a-z]*\.? (\d{1,2}),? (\d{4})`)

	amountRe    = regexp.MustCompile(`\$\s?(\d{1,6}(?:,\d{3})*(?:\.\d{2})?)`)
	dueRe       = regexp.MustCompile(`(?i)\bdue (?:on|by)\b`)
	statementRe = regexp.MustCompile(`(?i)statement period[:\s]+([^\n]+)`)
	referenceRe = regexp.MustCompile(`(?i:(invoice|statement|account)\s*(?:#|number)?\s*:?\s+)([A-Z0-9-]{4,})`)
	vendorRe    = regexp.MustCompile(`\bfrom ([A-Z][A-Za-z]+(?: [A-Z][A-Za-z]+)*)`)

	dosageRe    = regexp.MustCompile(`(?i)\b(\d+\s?(?:mg|mcg|ml|tabs?))\b`)
	frequencyRe = regexp.MustCompile(`(?i)\b((?:once|twice) daily|q\d+h|every \d+ (?:hours|hrs|days)|bid|tid|qid)\b`)
	routeRe     = regexp.MustCompile(`(?i)\b(oral|topical|inhaled?|ophthalmic|nasal)\b`)
	prescribeRe = regexp.MustCompile(`Dr\. [A-Z][a-z]+ [A-Z][a-z]+`)

	monthNum = map[string]time.Month{
		"Jan": time.January, "Feb": time.February, "Mar": time.March,
		"Apr": time.April, "May": time.May, "Jun": time.June,
		"Jul": time.July, "Aug": time.August, "Sep": time.September,
		"Oct": time.October, "Nov": time.November, "Dec": time.December,
	}
)

// Per-type base confidence before evidence adjustments.
var baseConfidence = map[domain.TaskType]float64{
	domain.TaskAppointment: 0.72,
	domain.TaskBill:        0.62,
	domain.TaskMedication:  0.58,
	domain.TaskGeneral:     0.35,
}

const evidenceBoost = 0.05

// Parse runs the heuristic extraction over the decoded subject, sender,
// snippet, and body, returning the typed record the router consumes. ICS
// details, when present, force the appointment type and supply start/end.
func Parse(subject, sender, snippet, body string, ics *mailparse.ICSDetails) *domain.ParsedRecord {
	haystack := subject + "\n" + snippet + "\n" + body
	lower := strings.ToLower(haystack)

	rec := &domain.ParsedRecord{Type: selectType(lower)}
	if ics != nil {
		rec.Type = domain.TaskAppointment
		rec.StartAt = ics.Start
		rec.EndAt = ics.End
		rec.RawStartToken = ics.RawStart
		rec.Location = ics.Location
		rec.Organizer = ics.Organizer
	}

	switch rec.Type {
	case domain.TaskAppointment:
		if rec.StartAt == nil {
			if t, ok := firstDate(haystack); ok {
				rec.StartAt = &t
			}
		}
		if rec.Location == "" {
			rec.Location = extractLocation(body)
		}
	case domain.TaskBill:
		parseBillFields(rec, haystack, sender)
	case domain.TaskMedication:
		parseMedicationFields(rec, haystack)
	}

	rec.Confidence = confidenceFor(rec)
	return rec
}

func selectType(lower string) domain.TaskType {
	if containsAny(lower, appointmentKeywords) {
		return domain.TaskAppointment
	}
	if containsAny(lower, billingKeywords) {
		return domain.TaskBill
	}
	if containsAny(lower, rxKeywords) {
		return domain.TaskMedication
	}
	return domain.TaskGeneral
}

func containsAny(lower string, keywords []string) bool {
	for _, kw := range keywords {
		if strings.Contains(lower, kw) {
			return true
		}
	}
	return false
}

func parseBillFields(rec *domain.ParsedRecord, haystack, sender string) {
	if m := amountRe.FindStringSubmatch(haystack); m != nil {
		raw := strings.ReplaceAll(m[1], ",", "")
		if v, err := strconv.ParseFloat(raw, 64); err == nil {
			rec.Amount = &v
			rec.Currency = "USD"
		}
	}
	if loc := dueRe.FindStringIndex(haystack); loc != nil {
		if t, ok := firstDate(haystack[loc[1]:]); ok {
			rec.DueAt = &t
		}
	}
	if m := statementRe.FindStringSubmatch(haystack); m != nil {
		rec.StatementPeriod = strings.TrimSpace(m[1])
	}
	if m := referenceRe.FindStringSubmatch(haystack); m != nil {
		rec.ReferenceNumber = m[2]
	}
	rec.Vendor = extractVendor(sender, haystack)
}

func parseMedicationFields(rec *domain.ParsedRecord, haystack string) {
	if m := dosageRe.FindStringSubmatch(haystack); m != nil {
		rec.Dosage = m[1]
		rec.MedicationName = medicationNameBefore(haystack, m[1])
	}
	if m := frequencyRe.FindStringSubmatch(haystack); m != nil {
		rec.Frequency = strings.ToLower(m[1])
	}
	if m := routeRe.FindStringSubmatch(haystack); m != nil {
		rec.Route = strings.ToLower(m[1])
	}
	if m := prescribeRe.FindString(haystack); m != "" {
		rec.PrescribingProvider = m
	}
}

// medicationNameBefore grabs the capitalized word immediately preceding the
// dosage token, which is how pharmacy notices usually read ("Lisinopril 20mg").
func medicationNameBefore(haystack, dosage string) string {
	idx := strings.Index(haystack, dosage)
	if idx <= 0 {
		return ""
	}
	before := strings.Fields(haystack[:idx])
	if len(before) == 0 {
		return ""
	}
	cand := strings.Trim(before[len(before)-1], ".,:;")
	if len(cand) > 2 && cand[0] >= 'A' && cand[0] <= 'Z' {
		return cand
	}
	return ""
}

// extractVendor prefers the sender's domain, falling back to a capitalized
// "from Acme Billing" phrase in the body.
func extractVendor(sender, haystack string) string {
	if dom := SenderDomain(sender); dom != "" {
		return dom
	}
	if m := vendorRe.FindStringSubmatch(haystack); m != nil {
		return m[1]
	}
	return ""
}

// extractLocation looks for an address-ish line. Kept deliberately loose; the
// ICS LOCATION field is the reliable path and wins when present.
var locationRe = regexp.MustCompile(`(?i)(?:location|address)[:\s]+([^\n]+)`)

func extractLocation(body string) string {
	if m := locationRe.FindStringSubmatch(body); m != nil {
		return strings.TrimSpace(m[1])
	}
	return ""
}

// firstDate tries the supported date shapes in order: ISO, m/d/yy(yy),
// then "Month d, yyyy". First match wins.
func firstDate(s string) (time.Time, bool) {
	if m := isoDateRe.FindStringSubmatch(s); m != nil {
		layout := "2006-01-02"
		val := m[1]
		if m[2] != "" {
			layout += "T15:04"
			val += "T" + m[2]
			if m[3] != "" {
				layout += ":05"
				val += ":" + m[3]
			}
		}
		if t, err := time.Parse(layout, val); err == nil {
			return t.UTC(), true
		}
	}
	if m := slashDateRe.FindStringSubmatch(s); m != nil {
		month, _ := strconv.Atoi(m[1])
		day, _ := strconv.Atoi(m[2])
		year, _ := strconv.Atoi(m[3])
		if year < 100 {
			year += 2000
		}
		if month >= 1 && month <= 12 && day >= 1 && day <= 31 {
			return time.Date(year, time.Month(month), day, 0, 0, 0, 0, time.UTC), true
		}
	}
	if m := monthDateRe.FindStringSubmatch(s); m != nil {
		day, _ := strconv.Atoi(m[2])
		year, _ := strconv.Atoi(m[3])
		return time.Date(year, monthNum[m[1]], day, 0, 0, 0, 0, time.UTC), true
	}
	return time.Time{}, false
}

// SenderDomain extracts the lowercased domain of an address or
// "Name <addr@domain>" header value. Empty when no @ is present.
func SenderDomain(sender string) string {
	addr := sender
	if i := strings.Index(addr, "<"); i != -1 {
		addr = addr[i+1:]
		if j := strings.Index(addr, ">"); j != -1 {
			addr = addr[:j]
		}
	}
	at := strings.LastIndex(addr, "@")
	if at == -1 || at == len(addr)-1 {
		return ""
	}
	return strings.ToLower(strings.TrimSpace(addr[at+1:]))
}

// confidenceFor starts from the per-type base and adds a small boost per
// evidence field present, clamped to [0.05, 0.95]. The scheme is monotone:
// more evidence never lowers confidence.
func confidenceFor(rec *domain.ParsedRecord) float64 {
	conf := baseConfidence[rec.Type]
	boost := func(present bool) {
		if present {
			conf += evidenceBoost
		}
	}
	switch rec.Type {
	case domain.TaskAppointment:
		boost(rec.StartAt != nil)
		boost(rec.Location != "")
		boost(rec.Organizer != "")
	case domain.TaskBill:
		boost(rec.Amount != nil)
		boost(rec.DueAt != nil)
		boost(rec.ReferenceNumber != "")
		boost(rec.StatementPeriod != "")
		boost(rec.Vendor != "")
	case domain.TaskMedication:
		boost(rec.Dosage != "")
		boost(rec.Frequency != "")
		boost(rec.Route != "")
		boost(rec.PrescribingProvider != "")
	}
	return clamp(conf, 0.05, 0.95)
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
