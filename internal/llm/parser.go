package llm

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/Veraticus/spice-rules/internal/service"
)

// parseSuggestion extracts a suggestion from a model reply. JSON is expected;
// a CATEGORY:/CONFIDENCE: line format is accepted as a fallback.
func parseSuggestion(content string) (service.CategorySuggestion, error) {
	cleaned := cleanMarkdownWrapper(content)

	var jsonResp struct {
		Category   string          `json:"category"`
		Reasoning  string          `json:"reasoning"`
		Confidence json.RawMessage `json:"confidence"`
	}
	if err := json.Unmarshal([]byte(cleaned), &jsonResp); err == nil {
		if jsonResp.Category == "" {
			return service.CategorySuggestion{}, fmt.Errorf("no category found in response")
		}
		confidence, err := parseScore(strings.Trim(string(jsonResp.Confidence), `"`))
		if err != nil {
			return service.CategorySuggestion{}, fmt.Errorf("invalid confidence: %w", err)
		}
		return service.CategorySuggestion{
			Category:   strings.TrimSpace(jsonResp.Category),
			Confidence: confidence,
			Reasoning:  jsonResp.Reasoning,
		}, nil
	}

	var suggestion service.CategorySuggestion
	var sawConfidence bool
	for _, line := range strings.Split(content, "\n") {
		line = strings.TrimSpace(line)
		switch {
		case strings.HasPrefix(line, "CATEGORY:"):
			suggestion.Category = strings.TrimSpace(strings.TrimPrefix(line, "CATEGORY:"))
		case strings.HasPrefix(line, "CONFIDENCE:"):
			score, err := parseScore(strings.TrimSpace(strings.TrimPrefix(line, "CONFIDENCE:")))
			if err == nil {
				suggestion.Confidence = score
				sawConfidence = true
			}
		case strings.HasPrefix(line, "REASONING:"):
			suggestion.Reasoning = strings.TrimSpace(strings.TrimPrefix(line, "REASONING:"))
		}
	}
	if suggestion.Category == "" || !sawConfidence {
		return service.CategorySuggestion{}, fmt.Errorf("unable to parse suggestion response")
	}
	return suggestion, nil
}

// parseScore reads a confidence as a fraction or a percentage and clamps it
// to [0, 1].
func parseScore(s string) (float64, error) {
	s = strings.TrimSpace(s)
	percent := strings.HasSuffix(s, "%")
	s = strings.TrimSpace(strings.TrimSuffix(s, "%"))

	score, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, err
	}
	if percent || score > 1 && score <= 100 {
		score /= 100
	}
	return min(max(score, 0), 1), nil
}

// cleanMarkdownWrapper strips a ```json fence and any text around the outer
// JSON object.
func cleanMarkdownWrapper(content string) string {
	content = strings.TrimSpace(content)
	content = strings.TrimPrefix(content, "```json")
	content = strings.TrimPrefix(content, "```")
	content = strings.TrimSuffix(content, "```")

	start := strings.Index(content, "{")
	end := strings.LastIndex(content, "}")
	if start >= 0 && end > start {
		return content[start : end+1]
	}
	return strings.TrimSpace(content)
}
