package llm

import (
	"context"
	"fmt"
	"math"
	"strings"
	"sync"

	"github.com/jbrukh/bayesian"

	"github.com/Veraticus/spice-rules/internal/common"
	"github.com/Veraticus/spice-rules/internal/model"
	"github.com/Veraticus/spice-rules/internal/normalize"
	"github.com/Veraticus/spice-rules/internal/service"
)

const bayesProviderName = "bayes"

// HistorySource lists already categorized transactions to learn from.
type HistorySource interface {
	Fetch(ctx context.Context, filter service.TransactionFilter) ([]model.Transaction, error)
	ListCategories(ctx context.Context) ([]model.Category, error)
}

// BayesProvider suggests categories with a naive Bayes classifier trained on
// the user's own categorized transactions. It works offline. Confidence is
// the softmax of the class log scores.
type BayesProvider struct {
	history HistorySource
	cl      *bayesian.Classifier
	classes []bayesian.Class
	mu      sync.Mutex
}

var _ service.CategorySuggestionProvider = (*BayesProvider)(nil)

// NewBayesProvider creates a provider that trains lazily on first use.
func NewBayesProvider(history HistorySource) *BayesProvider {
	return &BayesProvider{history: history}
}

// Name returns "bayes".
func (b *BayesProvider) Name() string {
	return bayesProviderName
}

// ensureTrained trains on first use. A failed attempt is retried on the
// next call.
func (b *BayesProvider) ensureTrained(ctx context.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.cl != nil {
		return nil
	}
	return b.train(ctx)
}

func (b *BayesProvider) train(ctx context.Context) error {
	categories, err := b.history.ListCategories(ctx)
	if err != nil {
		return fmt.Errorf("failed to list categories: %w", err)
	}
	names := make(map[int64]string, len(categories))
	for _, c := range categories {
		names[c.ID] = c.Name
	}

	txns, err := b.history.Fetch(ctx, service.TransactionFilter{Categorized: true})
	if err != nil {
		return fmt.Errorf("failed to fetch training data: %w", err)
	}

	var classes []bayesian.Class
	seen := make(map[string]bool)
	type sample struct {
		terms []string
		class string
	}
	var samples []sample
	for _, txn := range txns {
		name, ok := names[*txn.CategoryID]
		if !ok {
			continue
		}
		terms := termsFor(txn.NormalizedDescription)
		if len(terms) == 0 {
			continue
		}
		if !seen[name] {
			seen[name] = true
			classes = append(classes, bayesian.Class(name))
		}
		samples = append(samples, sample{terms: terms, class: name})
	}

	// The classifier needs at least two classes.
	if len(classes) < 2 {
		return fmt.Errorf("need categorized transactions in at least two categories, have %d", len(classes))
	}

	cl := bayesian.NewClassifier(classes...)
	for _, s := range samples {
		cl.Learn(s.terms, bayesian.Class(s.class))
	}
	b.cl, b.classes = cl, classes
	return nil
}

// Suggest classifies the rule pattern together with its sample descriptions.
func (b *BayesProvider) Suggest(ctx context.Context, req service.SuggestionRequest) (service.CategorySuggestion, error) {
	if err := b.ensureTrained(ctx); err != nil {
		return service.CategorySuggestion{}, common.NewProviderError(bayesProviderName, err)
	}

	terms := termsFor(normalize.Description(req.Pattern))
	for _, s := range req.Samples {
		terms = append(terms, termsFor(normalize.Description(s.Description))...)
	}
	if len(terms) == 0 {
		return service.CategorySuggestion{}, common.NewProviderError(bayesProviderName, fmt.Errorf("nothing to classify in %q", req.Pattern))
	}

	scores, best, _ := b.cl.LogScores(terms)
	confidence := softmaxAt(scores, best)
	category := string(b.classes[best])

	allowed := false
	for _, c := range req.Categories {
		if strings.EqualFold(c.Name, category) {
			allowed = true
			break
		}
	}
	if !allowed {
		return service.CategorySuggestion{}, common.NewProviderError(bayesProviderName,
			fmt.Errorf("%w: %q is not among the requested categories", common.ErrUnknownCategory, category))
	}

	return service.CategorySuggestion{
		Category:   category,
		Confidence: confidence,
		Reasoning:  fmt.Sprintf("naive Bayes over %d terms", len(terms)),
	}, nil
}

func termsFor(normalized string) []string {
	return strings.Fields(normalized)
}

func softmaxAt(scores []float64, idx int) float64 {
	if len(scores) == 0 {
		return 0
	}
	maxScore := scores[0]
	for _, s := range scores {
		maxScore = max(maxScore, s)
	}
	var sum float64
	for _, s := range scores {
		sum += math.Exp(s - maxScore)
	}
	return math.Exp(scores[idx]-maxScore) / sum
}
