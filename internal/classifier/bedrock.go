package classifier

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"sort"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime"
)

// Prompt truncation caps. Oversized fields are cut, never rejected.
const (
	maxSubjectLen = 500
	maxSenderLen  = 200
	maxSnippetLen = 700
	maxBodyLen    = 3500
	maxHeaderLen  = 300
	maxHeaders    = 20
)

// BedrockClassifier classifies messages through AWS Bedrock (Claude).
// All data stays within AWS - no external API calls.
type BedrockClassifier struct {
	client  *bedrockruntime.Client
	modelID string
	timeout time.Duration
}

// bedrockMessage mirrors the Anthropic messages format Bedrock expects.
type bedrockMessage struct {
	Role    string                `json:"role"`
	Content []bedrockContentBlock `json:"content"`
}

type bedrockContentBlock struct {
	Type string `json:"type"`
	Text string `json:"text,omitempty"`
}

type bedrockRequest struct {
	AnthropicVersion string           `json:"anthropic_version"`
	MaxTokens        int              `json:"max_tokens"`
	System           string           `json:"system,omitempty"`
	Messages         []bedrockMessage `json:"messages"`
	Temperature      float64          `json:"temperature"`
}

type bedrockResponse struct {
	Content []struct {
		Type string `json:"type"`
		Text string `json:"text"`
	} `json:"content"`
	StopReason string `json:"stop_reason"`
	Usage      struct {
		InputTokens  int `json:"input_tokens"`
		OutputTokens int `json:"output_tokens"`
	} `json:"usage"`
}

// modelVerdict is the JSON object the prompt demands from the model.
type modelVerdict struct {
	Label      string          `json:"label"`
	Confidence json.RawMessage `json:"confidence"`
	Reason     string          `json:"reason"`
}

// NewBedrockClassifier creates a Bedrock-backed classifier in the given
// region. The model defaults to Claude 3 Haiku when unset.
func NewBedrockClassifier(ctx context.Context, region, modelID string, timeout time.Duration) (*BedrockClassifier, error) {
	cfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(region))
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}
	if modelID == "" {
		modelID = "anthropic.claude-3-haiku-20240307-v1:0"
	}
	if timeout == 0 {
		timeout = 15 * time.Second
	}

	log.Printf("[Classifier] Initialized with model=%s, region=%s", modelID, region)
	return &BedrockClassifier{
		client:  bedrockruntime.NewFromConfig(cfg),
		modelID: modelID,
		timeout: timeout,
	}, nil
}

const systemPrompt = `You classify a caregiver's incoming email into exactly one care-task label.

Labels:
- "appointments": medical or care appointments, visit confirmations, calendar invites
- "bills": invoices, statements, amounts due, payment requests
- "medications": prescriptions, refills, dosage instructions
- "needs_review": plausibly care-related but you are unsure
- "ignore": marketing, newsletters, receipts for unrelated purchases, noise

Respond with a single JSON object and nothing else:
{"label": "<one of the five labels>", "confidence": <number 0..1>, "reason": "<short phrase>"}`

// Classify sends the message to Bedrock and returns either a normalized
// labeled result or a captured failure. It never panics or propagates an
// error value; transport, parse, and coercion failures all become Result.Err.
func (b *BedrockClassifier) Classify(ctx context.Context, in Input) Result {
	ctx, cancel := context.WithTimeout(ctx, b.timeout)
	defer cancel()

	request := bedrockRequest{
		AnthropicVersion: "bedrock-2023-05-31",
		MaxTokens:        300,
		System:           systemPrompt,
		Messages: []bedrockMessage{{
			Role:    "user",
			Content: []bedrockContentBlock{{Type: "text", Text: BuildPrompt(in)}},
		}},
		Temperature: 0,
	}

	requestBody, err := json.Marshal(request)
	if err != nil {
		return Result{Err: fmt.Sprintf("marshal request: %v", err)}
	}

	output, err := b.client.InvokeModel(ctx, &bedrockruntime.InvokeModelInput{
		ModelId:     aws.String(b.modelID),
		ContentType: aws.String("application/json"),
		Accept:      aws.String("application/json"),
		Body:        requestBody,
	})
	if err != nil {
		return Result{Err: fmt.Sprintf("bedrock invoke: %v", err)}
	}

	var response bedrockResponse
	if err := json.Unmarshal(output.Body, &response); err != nil {
		return Result{Err: fmt.Sprintf("parse response envelope: %v", err)}
	}

	var text strings.Builder
	for _, content := range response.Content {
		if content.Type == "text" {
			text.WriteString(content.Text)
		}
	}
	return ParseVerdict(text.String())
}

// BuildPrompt renders the user message for the model, applying the header
// cap and field truncation limits.
func BuildPrompt(in Input) string {
	var sb strings.Builder
	sb.WriteString("Subject: " + truncate(in.Subject, maxSubjectLen) + "\n")
	if in.Sender != "" {
		sb.WriteString("Sender: " + truncate(in.Sender, maxSenderLen) + "\n")
	}
	if len(in.LabelIDs) > 0 {
		sb.WriteString("Labels: " + strings.Join(in.LabelIDs, ", ") + "\n")
	}
	if len(in.Headers) > 0 {
		keys := make([]string, 0, len(in.Headers))
		for k := range in.Headers {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		if len(keys) > maxHeaders {
			keys = keys[:maxHeaders]
		}
		sb.WriteString("Headers:\n")
		for _, k := range keys {
			sb.WriteString("  " + k + ": " + truncate(in.Headers[k], maxHeaderLen) + "\n")
		}
	}
	if in.Snippet != "" {
		sb.WriteString("Snippet: " + truncate(in.Snippet, maxSnippetLen) + "\n")
	}
	sb.WriteString("Body:\n" + truncate(in.Body, maxBodyLen) + "\n")
	return sb.String()
}

// ParseVerdict extracts and normalizes the model's JSON verdict. A label that
// survives neither the enum nor the alias table is an error result.
func ParseVerdict(text string) Result {
	raw := extractJSONObject(text)
	if raw == "" {
		return Result{Err: "no JSON object in model output"}
	}

	var v modelVerdict
	if err := json.Unmarshal([]byte(raw), &v); err != nil {
		return Result{Err: fmt.Sprintf("parse verdict: %v", err)}
	}

	label, ok := NormalizeLabel(v.Label)
	if !ok {
		return Result{Err: fmt.Sprintf("unknown label %q", v.Label)}
	}

	conf, err := coerceConfidence(v.Confidence)
	if err != nil {
		return Result{Err: err.Error()}
	}

	return Result{Label: label, Confidence: ClampConfidence(conf), Reason: v.Reason}
}

// extractJSONObject pulls the first {...} block out of the model text, which
// tolerates prose or fencing around the object.
func extractJSONObject(text string) string {
	start := strings.Index(text, "{")
	end := strings.LastIndex(text, "}")
	if start == -1 || end == -1 || end < start {
		return ""
	}
	return text[start : end+1]
}

// coerceConfidence accepts a JSON number or a numeric string.
func coerceConfidence(raw json.RawMessage) (float64, error) {
	if len(raw) == 0 {
		return 0, fmt.Errorf("missing confidence")
	}
	var f float64
	if err := json.Unmarshal(raw, &f); err == nil {
		return f, nil
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		if _, err := fmt.Sscanf(strings.TrimSpace(s), "%g", &f); err == nil {
			return f, nil
		}
	}
	return 0, fmt.Errorf("confidence %s is not a number", string(raw))
}

func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max]
}
