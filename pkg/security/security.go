// Package security validates user-provided text before it reaches a
// model: prompt injection detection, sanitization, and safe prompt
// assembly.
package security

import (
	"context"
	"fmt"
	"regexp"
	"strings"

	"github.com/editorai/copilot-core/pkg/logging"
)

// injectionPatterns cover instruction overrides, role manipulation,
// context switching, jailbreak phrasing, and code execution requests.
var injectionPatterns = []string{
	`(?i)ignore\s+(?:previous|all|above)\s+(?:instructions?|prompts?|rules?)`,
	`(?i)forget\s+(?:everything|all|previous|above)`,
	`(?i)disregard\s+(?:previous|all|above)\s+(?:instructions?|prompts?|rules?)`,
	`(?i)override\s+(?:system|previous|all)\s+(?:instructions?|prompts?|rules?)`,
	`(?i)new\s+(?:instructions?|prompts?|rules?|task)`,

	`(?i)(?:you\s+are\s+now|act\s+as|pretend\s+to\s+be|roleplay\s+as)\s+(?:a\s+)?(?:different|new)`,
	`(?i)system\s*:\s*`,
	`(?i)assistant\s*:\s*`,
	`(?i)user\s*:\s*`,
	`(?i)human\s*:\s*`,
	`(?i)ai\s*:\s*`,
	`(?i)prompt\s*:\s*`,
	`(?i)instruction\s*:\s*`,

	`(?i)end\s+of\s+(?:context|input|prompt)`,
	`(?i)start\s+of\s+(?:new|different)\s+(?:context|input|prompt)`,
	`(?i)switch\s+(?:context|mode|role)`,
	`(?i)change\s+(?:context|mode|role|behavior)`,

	`(?i)jailbreak`,
	`(?i)break\s+(?:out|free)\s+(?:of|from)`,
	`(?i)escape\s+(?:from|your)\s+(?:constraints?|limitations?|rules?)`,
	`(?i)bypass\s+(?:safety|security|filters?|restrictions?)`,

	`(?i)execute\s+(?:code|command|script)`,
	`(?i)run\s+(?:code|command|script)`,
	`(?i)eval\s*\(`,
	`(?i)exec\s*\(`,
}

var suspiciousKeywords = []string{
	"ignore", "forget", "disregard", "override", "bypass", "jailbreak",
	"system:", "assistant:", "user:", "human:", "ai:", "prompt:",
	"instruction:", "execute", "eval", "exec", "script", "command",
}

var (
	newlineRuns = regexp.MustCompile(`\n{4,}`)
	spaceRuns   = regexp.MustCompile(` {10,}`)
)

// RiskLevel buckets a detection confidence score.
type RiskLevel string

const (
	RiskNone   RiskLevel = "none"
	RiskLow    RiskLevel = "low"
	RiskMedium RiskLevel = "medium"
	RiskHigh   RiskLevel = "high"
)

// DetectionResult describes one injection analysis.
type DetectionResult struct {
	Injection  bool
	Confidence float64
	Risk       RiskLevel
	Matches    []string
}

// Detector scans text for prompt injection attempts using layered
// signals: known patterns, suspicious keyword density, and degenerate
// repetition.
type Detector struct {
	patterns []*regexp.Regexp
}

// NewDetector compiles the pattern set once.
func NewDetector() *Detector {
	compiled := make([]*regexp.Regexp, len(injectionPatterns))
	for i, pattern := range injectionPatterns {
		compiled[i] = regexp.MustCompile(pattern)
	}
	return &Detector{patterns: compiled}
}

// Detect analyzes text and scores the likelihood of an injection
// attempt. Each matched pattern adds 0.3, high keyword density adds 0.4,
// and degenerate repetition adds 0.3, capped at 1.0. Scores above 0.5
// classify as injection.
func (d *Detector) Detect(text string) DetectionResult {
	if text == "" {
		return DetectionResult{Risk: RiskNone}
	}

	var result DetectionResult
	var confidence float64

	for _, pattern := range d.patterns {
		if match := pattern.FindString(text); match != "" {
			result.Matches = append(result.Matches, match)
			confidence += 0.3
		}
	}

	lowered := strings.ToLower(text)
	keywordCount := 0
	for _, keyword := range suspiciousKeywords {
		if strings.Contains(lowered, keyword) {
			keywordCount++
		}
	}
	words := len(strings.Fields(text))
	if words < 1 {
		words = 1
	}
	if float64(keywordCount)/float64(words) > 0.1 {
		confidence += 0.4
	}

	if len(text) > 100 && uniqueRuneRatio(lowered) < 0.1 {
		confidence += 0.3
	}

	if confidence > 1.0 {
		confidence = 1.0
	}

	result.Confidence = confidence
	result.Injection = confidence > 0.5
	result.Risk = riskLevel(confidence)
	return result
}

func riskLevel(confidence float64) RiskLevel {
	switch {
	case confidence >= 0.8:
		return RiskHigh
	case confidence >= 0.5:
		return RiskMedium
	case confidence >= 0.2:
		return RiskLow
	default:
		return RiskNone
	}
}

func uniqueRuneRatio(text string) float64 {
	seen := make(map[rune]struct{})
	total := 0
	for _, r := range text {
		seen[r] = struct{}{}
		total++
	}
	if total == 0 {
		return 1
	}
	return float64(len(seen)) / float64(total)
}

// Sanitize neutralizes detected injection patterns. Strict mode removes
// matches entirely; normal mode marks them as escaped so downstream
// logging keeps the evidence. Whitespace runs are collapsed either way.
func (d *Detector) Sanitize(text string, strict bool) string {
	if text == "" {
		return ""
	}

	sanitized := text
	for _, pattern := range d.patterns {
		if strict {
			sanitized = pattern.ReplaceAllString(sanitized, "[FILTERED]")
		} else {
			sanitized = pattern.ReplaceAllStringFunc(sanitized, func(match string) string {
				if len(match) > 50 {
					match = match[:50]
				}
				return fmt.Sprintf("[ESCAPED: %s]", match)
			})
		}
	}

	sanitized = newlineRuns.ReplaceAllString(sanitized, "\n\n\n")
	sanitized = spaceRuns.ReplaceAllString(sanitized, strings.Repeat(" ", 10))

	return sanitized
}

// ValidationResult carries the outcome of input validation. The
// sanitized text is always usable; warnings describe what was altered.
type ValidationResult struct {
	Valid         bool
	SanitizedText string
	Warnings      []string
}

// ValidateUserInput truncates oversized input and, when enabled,
// sanitizes medium and high risk injection attempts. Validation never
// rejects input outright; the caller gets the safest usable form.
func (d *Detector) ValidateUserInput(text string, maxLength int, checkInjection bool) ValidationResult {
	result := ValidationResult{Valid: true, SanitizedText: text}

	if text == "" {
		return result
	}

	if maxLength > 0 && len(text) > maxLength {
		result.Warnings = append(result.Warnings,
			fmt.Sprintf("text truncated from %d to %d characters", len(text), maxLength))
		result.SanitizedText = text[:maxLength] + "\n[TRUNCATED FOR SECURITY]"
	}

	if checkInjection {
		detection := d.Detect(text)
		if detection.Injection {
			result.Warnings = append(result.Warnings,
				fmt.Sprintf("potential prompt injection detected (risk: %s)", detection.Risk))

			if detection.Risk == RiskHigh || detection.Risk == RiskMedium {
				result.SanitizedText = d.Sanitize(result.SanitizedText, detection.Risk == RiskHigh)
				logging.GetLogger().Warn(context.Background(),
					"prompt injection attempt detected and sanitized (risk: %s)", detection.Risk)
			}
		}
	}

	return result
}

// SafePrompt assembles a prompt with user input validated and clearly
// separated from system context.
func (d *Detector) SafePrompt(userInput, systemContext string, maxUserLength int) string {
	validated := d.ValidateUserInput(userInput, maxUserLength, true)

	var parts []string
	if systemContext != "" {
		parts = append(parts, "Context: "+systemContext)
	}
	parts = append(parts, "User Request: "+validated.SanitizedText)

	return strings.Join(parts, "\n\n")
}
