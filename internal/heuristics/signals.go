package heuristics

import (
	"regexp"
	"strings"

	"github.com/carebridge/inbox-triage/internal/domain"
)

var marketingRe = regexp.MustCompile(`(?i)%\s*off|discount|sale|bogo|coupon|deal|promo|offer|flash sale|limited[- ]time`)

// tombstoneLabels are the provider categories that tombstone a message
// without consulting the classifier.
var tombstoneLabels = map[string]bool{
	"CATEGORY_PROMOTIONS": true,
	"CATEGORY_SOCIAL":     true,
	"CATEGORY_FORUMS":     true,
}

// HasBulkHeaderSignals reports whether the header map (lowercased keys)
// carries list/bulk-mail markers.
func HasBulkHeaderSignals(headers map[string]string) bool {
	if _, ok := headers["list-unsubscribe"]; ok {
		return true
	}
	if _, ok := headers["list-id"]; ok {
		return true
	}
	if _, ok := headers["x-auto-response-suppress"]; ok {
		return true
	}
	if prec, ok := headers["precedence"]; ok {
		p := strings.ToLower(prec)
		if strings.Contains(p, "bulk") || strings.Contains(p, "list") {
			return true
		}
	}
	if auto, ok := headers["auto-submitted"]; ok {
		if strings.HasPrefix(strings.ToLower(auto), "auto-") {
			return true
		}
	}
	return false
}

// IsPromotionsCategory reports whether any provider label marks the message
// as promotions/social/forums.
func IsPromotionsCategory(labels []string) bool {
	for _, l := range labels {
		if tombstoneLabels[l] {
			return true
		}
	}
	return false
}

// LooksMarketing matches discount/promo language in the subject or snippet.
func LooksMarketing(subject, snippet string) bool {
	return marketingRe.MatchString(subject) || marketingRe.MatchString(snippet)
}

// HasEvidenceForType checks that the parsed record corroborates the claimed
// task type. A date alone is not appointment evidence; it needs a keyword or
// accompanying metadata.
func HasEvidenceForType(taskType domain.TaskType, parsed *domain.ParsedRecord, subject, snippet string) bool {
	lower := strings.ToLower(subject + "\n" + snippet)
	switch taskType {
	case domain.TaskAppointment:
		if containsAny(lower, appointmentKeywords) {
			return true
		}
		if parsed != nil && parsed.StartAt != nil {
			return parsed.Location != "" || parsed.Organizer != ""
		}
		return false
	case domain.TaskBill:
		if parsed != nil && (parsed.Amount != nil || parsed.DueAt != nil ||
			parsed.ReferenceNumber != "" || parsed.StatementPeriod != "" || parsed.Vendor != "") {
			return true
		}
		return containsAny(lower, billingKeywords)
	case domain.TaskMedication:
		if parsed != nil && (parsed.Dosage != "" || parsed.Frequency != "" || parsed.PrescribingProvider != "") {
			return true
		}
		return containsAny(lower, rxKeywords)
	default:
		return true
	}
}

// ShouldTombstoneMessage reports whether provider labels alone tombstone the
// message (promotions/social/forums categories).
func ShouldTombstoneMessage(labels []string) bool {
	return IsPromotionsCategory(labels)
}

// ShouldTombstoneNonActionable tombstones bulk mail that carries no hard
// structured evidence. Firing here short-circuits the classifier call.
func ShouldTombstoneNonActionable(bulkSignals bool, parsed *domain.ParsedRecord) (bool, string) {
	if bulkSignals && !parsed.HasHardEvidence() {
		return true, "bulk_no_evidence"
	}
	return false, ""
}
