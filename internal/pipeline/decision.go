package pipeline

import (
	"math"

	"github.com/carebridge/inbox-triage/internal/classifier"
	"github.com/carebridge/inbox-triage/internal/domain"
	"github.com/carebridge/inbox-triage/internal/heuristics"
)

// DecisionInput is everything the router looks at for one message: the
// classifier verdict (or its absence), the heuristic extraction, and the
// deterministic signals computed before the model ran.
type DecisionInput struct {
	Bucket          classifier.Bucket
	Failed          bool
	ModelConfidence float64
	Parsed          *domain.ParsedRecord
	Subject         string
	Snippet         string
	BulkSignals     bool
}

// Decision is the routed outcome: what type of task to write, whether the
// caregiver must review it, and whether to drop it entirely.
type Decision struct {
	TaskType    domain.TaskType
	ReviewState domain.ReviewState
	Confidence  float64
	HasEvidence bool
	ShouldDrop  bool
	Marketing   bool
}

// Decide merges the model verdict with the heuristic extraction. The rules run
// in a fixed order; later rules only ever tighten (approved -> pending), never
// loosen. A failed classification always lands in pending with the heuristic
// type and confidence.
func Decide(in DecisionInput) Decision {
	conf := in.ModelConfidence
	if in.Failed {
		conf = in.Parsed.Confidence
	}

	// Bulk markers discount the model's confidence unless the model already
	// routed the message away from the task lists.
	if !in.Failed && in.BulkSignals &&
		in.Bucket != classifier.BucketIgnore && in.Bucket != classifier.BucketNeedsReview {
		conf = math.Max(0, conf-0.25)
	}

	review := domain.ReviewApproved
	switch {
	case !in.Failed && in.Bucket == classifier.BucketIgnore:
		review = domain.ReviewIgnored
	case in.Failed, in.Bucket == classifier.BucketNeedsReview, conf < 0.8:
		review = domain.ReviewPending
	}

	taskType := in.Parsed.Type
	if !in.Failed {
		if t, ok := bucketTaskType(in.Bucket); ok {
			taskType = t
		}
	}

	marketing := heuristics.LooksMarketing(in.Subject, in.Snippet)
	if marketing && in.Bucket != classifier.BucketIgnore {
		review = domain.ReviewPending
	}

	// Corroboration: an actionable model label must be backed by heuristic
	// evidence for that type, else confidence drops and review is forced.
	hasEvidence := true
	if !in.Failed && in.Bucket.Actionable() {
		hasEvidence = heuristics.HasEvidenceForType(taskType, in.Parsed, in.Subject, in.Snippet)
		if !hasEvidence {
			conf = math.Max(0, conf-0.2)
			review = domain.ReviewPending
		} else if conf < 0.85 {
			review = domain.ReviewPending
		}
	}

	if !in.Failed && in.BulkSignals && in.Bucket != classifier.BucketIgnore {
		review = domain.ReviewPending
	}

	// Drop only what is confidently noise: an unevidenced actionable label at
	// low confidence with no bulk or marketing markers to explain it away.
	drop := !in.Failed && conf < 0.6 && in.Bucket.Actionable() &&
		!hasEvidence && !in.BulkSignals && !marketing

	return Decision{
		TaskType:    taskType,
		ReviewState: review,
		Confidence:  conf,
		HasEvidence: hasEvidence,
		ShouldDrop:  drop,
		Marketing:   marketing,
	}
}

func bucketTaskType(b classifier.Bucket) (domain.TaskType, bool) {
	switch b {
	case classifier.BucketAppointments:
		return domain.TaskAppointment, true
	case classifier.BucketBills:
		return domain.TaskBill, true
	case classifier.BucketMedications:
		return domain.TaskMedication, true
	default:
		return "", false
	}
}

// roundConfidence keeps stored confidences to two decimals so repeated syncs
// of an unchanged message compare equal.
func roundConfidence(v float64) float64 {
	return math.Round(v*100) / 100
}
