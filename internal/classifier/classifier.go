// Package classifier calls an external LLM to bucket a message into a care
// task category. The result is a strict two-variant type: a labeled outcome
// or a captured failure. Callers must branch on Failed(); a missing label is
// never a neutral default.
package classifier

import "context"

// Bucket is the classifier's output label.
type Bucket string

const (
	BucketAppointments Bucket = "appointments"
	BucketBills        Bucket = "bills"
	BucketMedications  Bucket = "medications"
	BucketNeedsReview  Bucket = "needs_review"
	BucketIgnore       Bucket = "ignore"
)

// Actionable reports whether the bucket names a concrete task class.
func (b Bucket) Actionable() bool {
	return b == BucketAppointments || b == BucketBills || b == BucketMedications
}

// Input carries the message fields the classifier sees. Headers beyond the
// cap and oversized fields are truncated before prompting.
type Input struct {
	Subject  string
	Snippet  string
	Body     string
	Sender   string
	LabelIDs []string
	Headers  map[string]string
}

// Result is the tagged union of a classifier call. Exactly one of
// (Label-valid, Err-set) holds.
type Result struct {
	Label      Bucket
	Confidence float64
	Reason     string
	Err        string
	ProjectID  string
}

// Failed reports whether the call produced no usable label. Transport,
// parse, and coercion failures all land here; the pipeline treats them as
// classification failure, never as an exception.
func (r Result) Failed() bool {
	return r.Err != ""
}

// Classifier is the LLM adapter interface the mail pipeline consumes.
type Classifier interface {
	Classify(ctx context.Context, in Input) Result
}

// Func adapts a plain function to the Classifier interface, used in tests.
type Func func(ctx context.Context, in Input) Result

// Classify implements Classifier.
func (f Func) Classify(ctx context.Context, in Input) Result { return f(ctx, in) }

// labelAliases maps near-miss labels the model emits to canonical buckets.
var labelAliases = map[string]Bucket{
	"appointments": BucketAppointments,
	"appointment":  BucketAppointments,
	"appt":         BucketAppointments,
	"calendar":     BucketAppointments,
	"bills":        BucketBills,
	"bill":         BucketBills,
	"billing":      BucketBills,
	"invoice":      BucketBills,
	"medications":  BucketMedications,
	"medication":   BucketMedications,
	"rx":           BucketMedications,
	"prescription": BucketMedications,
	"needs_review": BucketNeedsReview,
	"review":       BucketNeedsReview,
	"unknown":      BucketNeedsReview,
	"ignore":       BucketIgnore,
	"spam":         BucketIgnore,
	"junk":         BucketIgnore,
	"trash":        BucketIgnore,
}

// NormalizeLabel resolves a raw model label against the alias table.
func NormalizeLabel(raw string) (Bucket, bool) {
	b, ok := labelAliases[normalizeKey(raw)]
	return b, ok
}

func normalizeKey(raw string) string {
	out := make([]rune, 0, len(raw))
	for _, r := range raw {
		switch {
		case r >= 'A' && r <= 'Z':
			out = append(out, r+('a'-'A'))
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9', r == '_':
			out = append(out, r)
		case r == ' ' || r == '-':
			out = append(out, '_')
		}
	}
	return string(out)
}

// ClampConfidence coerces a confidence into [0,1].
func ClampConfidence(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
