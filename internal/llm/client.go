// Package llm provides category suggestion providers. It supports remote
// language models (Anthropic, OpenAI) and a local Bayesian classifier trained
// on already categorized transactions.
package llm

import (
	"context"
)

// Client sends one prompt to a language model and returns its text reply.
type Client interface {
	Complete(ctx context.Context, prompt string) (string, error)
}

// Config holds configuration for a provider.
type Config struct {
	Provider    string
	APIKey      string
	Model       string
	BaseURL     string
	Temperature float64
	MaxTokens   int
}

const systemPrompt = "You are a financial transaction classifier. You MUST respond with ONLY a valid JSON object. " +
	"Do not include any explanatory text, markdown formatting, or commentary before or after the JSON."
