// Package handover detects requests for human support and manages
// conversations waiting for an agent.
package handover

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
)

// ConfidenceThreshold is the minimum classifier confidence required to
// trigger a handover.
const ConfidenceThreshold = 0.7

// Classifier runs a JSON-mode completion and returns the raw document.
type Classifier interface {
	ClassifyJSON(ctx context.Context, systemPrompt, userPrompt string) (string, error)
}

// Detection is the outcome of handover classification.
type Detection struct {
	RequiresHuman bool
	Reason        string
	Confidence    float64
}

// classificationResult mirrors the JSON document the classifier returns.
type classificationResult struct {
	RequiresHuman bool    `json:"requires_human"`
	Reason        string  `json:"reason"`
	Confidence    float64 `json:"confidence"`
}

const classifierSystemPrompt = `You are an expert customer service classifier. Your job is to determine if a customer message is genuinely requesting to speak with a human agent, or if it's a question/request that an AI chatbot should handle.

HANDOVER REQUIRED (requires_human: true):
- Explicit requests for human contact: "I want to talk to a human", "Can I speak to someone?"
- Complex technical support beyond bot capabilities
- Complaints requiring human empathy
- Account-specific issues like billing problems
- Situations requiring human judgment or negotiation

NO HANDOVER NEEDED (requires_human: false):
- Questions about bot memory or capabilities
- Product information requests
- General questions the bot can answer
- Testing bot functionality

RESPOND WITH VALID JSON:
{
  "requires_human": boolean,
  "reason": "brief explanation of decision",
  "confidence": 0.0-1.0
}`

// explicitKeywords are very explicit human request phrases used by the
// fallback detector.
var explicitKeywords = []string{
	"speak to a human", "talk to a human", "human agent", "human support",
	"speak to someone", "talk to someone", "connect me to",
	"transfer me to", "escalate to", "human representative",
	"real person", "live agent", "customer service rep",
	"speak to a person",
}

// complaintKeywords indicate frustration that may need a human.
var complaintKeywords = []string{
	"frustrated", "angry", "terrible service", "this doesn't work",
	"billing issue", "account problem", "cancel my", "refund",
}

// Detector classifies inbound messages for handover intent. When no
// classifier is configured it falls back to keyword detection.
type Detector struct {
	classifier Classifier
}

// NewDetector creates a Detector. The classifier may be nil.
func NewDetector(c Classifier) *Detector {
	return &Detector{classifier: c}
}

// Detect classifies a message. The customer context is free-form text
// passed to the classifier for better decisions and may be empty.
func (d *Detector) Detect(ctx context.Context, message, customerContext string) Detection {
	if d.classifier == nil {
		return detectByKeywords(message)
	}

	prompt := fmt.Sprintf("Classify this customer message:\n\nMESSAGE: %q\n", message)
	if customerContext != "" {
		prompt += "\nCustomer Context:\n" + customerContext + "\n"
	}
	prompt += "\nIs this customer genuinely requesting to speak with a human agent, or asking a question that the AI chatbot should handle?\n\nRespond with JSON classification:"

	raw, err := d.classifier.ClassifyJSON(ctx, classifierSystemPrompt, prompt)
	if err != nil {
		slog.Warn("Detector.Detect classification failed, using keyword fallback", "error", err)
		return detectByKeywords(message)
	}

	var result classificationResult
	if err := json.Unmarshal([]byte(raw), &result); err != nil {
		slog.Warn("Detector.Detect invalid classifier document, using keyword fallback", "error", err)
		return detectByKeywords(message)
	}

	det := Detection{
		RequiresHuman: result.RequiresHuman && result.Confidence >= ConfidenceThreshold,
		Reason:        result.Reason,
		Confidence:    result.Confidence,
	}
	slog.Info("Detector.Detect", "requiresHuman", det.RequiresHuman, "confidence", det.Confidence, "reason", det.Reason)
	return det
}

// detectByKeywords is the conservative fallback that only triggers on very
// explicit human requests or complaint language.
func detectByKeywords(message string) Detection {
	lower := strings.ToLower(message)
	for _, kw := range explicitKeywords {
		if strings.Contains(lower, kw) {
			return Detection{RequiresHuman: true, Reason: fmt.Sprintf("explicit human request: %q", kw), Confidence: 0.9}
		}
	}
	for _, kw := range complaintKeywords {
		if strings.Contains(lower, kw) {
			return Detection{RequiresHuman: true, Reason: fmt.Sprintf("complaint detected: %q", kw), Confidence: 0.7}
		}
	}
	return Detection{RequiresHuman: false, Reason: "no clear human request detected", Confidence: 0.8}
}
