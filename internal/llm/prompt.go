package llm

import (
	"fmt"
	"strings"

	"github.com/Veraticus/spice-rules/internal/service"
)

func buildPrompt(req service.SuggestionRequest) string {
	var b strings.Builder

	b.WriteString("Choose the best category for bank transactions matched by this rule.\n\n")
	fmt.Fprintf(&b, "Rule pattern: %q (%s match)\n", req.Pattern, req.MatchType)

	if len(req.Samples) > 0 {
		b.WriteString("\nExample transactions:\n")
		for _, s := range req.Samples {
			fmt.Fprintf(&b, "- %s  %s  %.2f\n", s.Date.Format("2006-01-02"), s.Description, s.Amount)
		}
	}

	b.WriteString("\nCategories (answer with one of these names exactly):\n")
	for _, c := range req.Categories {
		fmt.Fprintf(&b, "- %s\n", c.Name)
	}

	b.WriteString("\nRespond with JSON only:\n")
	b.WriteString(`{"category": "<name>", "confidence": <0.0-1.0>, "reasoning": "<one sentence>"}`)
	b.WriteString("\n")
	return b.String()
}
