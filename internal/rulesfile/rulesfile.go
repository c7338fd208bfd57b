// Package rulesfile reads and writes rule sets as YAML so they can be kept
// under version control and loaded into a fresh database.
package rulesfile

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/Veraticus/spice-rules/internal/common"
	"github.com/Veraticus/spice-rules/internal/model"
	"github.com/Veraticus/spice-rules/internal/pattern"
	"github.com/Veraticus/spice-rules/internal/service"
)

// CurrentVersion is the file format version written by Encode.
const CurrentVersion = 1

const dateLayout = "2006-01-02"

// File is the top-level YAML document.
type File struct {
	Rules   []Rule `yaml:"rules"`
	Version int    `yaml:"version"`
}

// Rule is one rule as written in the file. Categories and counterparty
// accounts are referenced by name.
type Rule struct {
	MinAmount    *float64 `yaml:"min_amount,omitempty"`
	MaxAmount    *float64 `yaml:"max_amount,omitempty"`
	Pattern      string   `yaml:"pattern"`
	MatchType    string   `yaml:"match_type"`
	Category     string   `yaml:"category,omitempty"`
	Counterparty string   `yaml:"counterparty,omitempty"`
	Source       string   `yaml:"source,omitempty"`
	Status       string   `yaml:"status,omitempty"`
	ValidFrom    string   `yaml:"valid_from,omitempty"`
	ValidTo      string   `yaml:"valid_to,omitempty"`
}

// Catalog resolves category and account names.
type Catalog interface {
	ListCategories(ctx context.Context) ([]model.Category, error)
	CreateCategory(ctx context.Context, name string) (*model.Category, error)
	ListAccounts(ctx context.Context) ([]model.Account, error)
	CreateAccount(ctx context.Context, name string) (*model.Account, error)
}

// RuleLister lists stored rules.
type RuleLister interface {
	ListRules(ctx context.Context, filter service.RuleFilter) ([]model.EnhancementRule, error)
}

// RuleCreator stores new rules.
type RuleCreator interface {
	CreateRule(ctx context.Context, rule *model.EnhancementRule) error
}

// Decode reads a rules file. Unknown keys are rejected so typos do not
// silently drop settings.
func Decode(r io.Reader) (File, error) {
	var f File
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(&f); err != nil {
		if errors.Is(err, io.EOF) {
			return File{Version: CurrentVersion}, nil
		}
		return File{}, fmt.Errorf("failed to parse rules file: %w", err)
	}
	if f.Version == 0 {
		f.Version = CurrentVersion
	}
	if f.Version != CurrentVersion {
		return File{}, fmt.Errorf("unsupported rules file version %d", f.Version)
	}
	return f, nil
}

// Encode writes a rules file.
func Encode(w io.Writer, f File) error {
	if f.Version == 0 {
		f.Version = CurrentVersion
	}
	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	if err := enc.Encode(f); err != nil {
		return fmt.Errorf("failed to write rules file: %w", err)
	}
	return enc.Close()
}

// Export writes every valid and invalid rule to w and returns how many were written.
func Export(ctx context.Context, rules RuleLister, catalog Catalog, w io.Writer) (int, error) {
	stored, err := rules.ListRules(ctx, service.RuleFilter{IncludeInvalid: true})
	if err != nil {
		return 0, fmt.Errorf("failed to list rules: %w", err)
	}
	categories, accounts, err := names(ctx, catalog)
	if err != nil {
		return 0, err
	}

	f := File{Version: CurrentVersion, Rules: make([]Rule, 0, len(stored))}
	for _, r := range stored {
		out := Rule{
			Pattern:   r.Pattern,
			MatchType: string(r.MatchType),
			Source:    string(r.Source),
			MinAmount: r.MinAmount,
			MaxAmount: r.MaxAmount,
		}
		if r.Source != model.SourceManual {
			out.Status = string(r.SuggestionStatus)
		}
		if r.CategoryID != nil {
			out.Category = categories[*r.CategoryID]
		}
		if r.CounterpartyAccountID != nil {
			out.Counterparty = accounts[*r.CounterpartyAccountID]
		}
		if r.ValidFrom != nil {
			out.ValidFrom = r.ValidFrom.Format(dateLayout)
		}
		if r.ValidTo != nil {
			out.ValidTo = r.ValidTo.Format(dateLayout)
		}
		f.Rules = append(f.Rules, out)
	}

	if err := Encode(w, f); err != nil {
		return 0, err
	}
	return len(f.Rules), nil
}

// ImportOptions controls Import.
type ImportOptions struct {
	// CreateMissing creates categories and accounts the file names but the
	// database lacks. Without it such a file is rejected.
	CreateMissing bool
}

// ImportResult counts what Import did.
type ImportResult struct {
	Created   int
	Duplicate int
	Invalid   int
}

// Import reads a rules file and creates its rules. The whole file is checked
// before anything is written. Rules that already exist are counted, not
// treated as errors.
func Import(ctx context.Context, r io.Reader, rules RuleCreator, catalog Catalog, opts ImportOptions) (ImportResult, error) {
	var result ImportResult

	f, err := Decode(r)
	if err != nil {
		return result, err
	}

	resolver, err := newNameResolver(ctx, catalog, opts.CreateMissing)
	if err != nil {
		return result, err
	}

	parsed := make([]model.EnhancementRule, 0, len(f.Rules))
	for i, fr := range f.Rules {
		rule, err := fr.toModel()
		if err != nil {
			return result, common.NewUserError(fmt.Sprintf("rule %d (%q): %v", i+1, fr.Pattern, err), err)
		}
		if fr.Category != "" {
			// Placeholder until names are resolved below.
			rule.CategoryID = new(int64)
		}
		if err := pattern.Prepare(&rule); err != nil {
			return result, common.NewUserError(fmt.Sprintf("rule %d (%q): %v", i+1, fr.Pattern, err), err)
		}
		if err := resolver.check(fr); err != nil {
			return result, common.NewUserError(fmt.Sprintf("rule %d (%q): %v", i+1, fr.Pattern, err), err)
		}
		parsed = append(parsed, rule)
	}

	for i := range parsed {
		rule := &parsed[i]
		if rule.CategoryID, err = resolver.category(ctx, f.Rules[i].Category); err != nil {
			return result, err
		}
		if rule.CounterpartyAccountID, err = resolver.account(ctx, f.Rules[i].Counterparty); err != nil {
			return result, err
		}
		if err := pattern.CheckSuggestionState(rule.Source, rule.SuggestionStatus, rule.CategoryID != nil); err != nil {
			return result, fmt.Errorf("%w: rule %q: %w", common.ErrInvalidRule, rule.Pattern, err)
		}

		err = rules.CreateRule(ctx, rule)
		switch {
		case errors.Is(err, common.ErrDuplicateRule):
			result.Duplicate++
		case err != nil:
			return result, fmt.Errorf("failed to create rule %q: %w", rule.Pattern, err)
		case rule.Invalid:
			result.Invalid++
			result.Created++
		default:
			result.Created++
		}
	}
	return result, nil
}

func (fr Rule) toModel() (model.EnhancementRule, error) {
	if strings.TrimSpace(fr.Pattern) == "" {
		return model.EnhancementRule{}, fmt.Errorf("%w: empty pattern", common.ErrInvalidRule)
	}
	mt, err := model.ParseMatchType(strings.ToUpper(fr.MatchType))
	if err != nil {
		return model.EnhancementRule{}, fmt.Errorf("%w: %v", common.ErrInvalidRule, err)
	}
	source := model.SourceManual
	if fr.Source != "" {
		if source, err = model.ParseRuleSource(strings.ToUpper(fr.Source)); err != nil {
			return model.EnhancementRule{}, fmt.Errorf("%w: %v", common.ErrInvalidRule, err)
		}
	}

	status, err := fr.suggestionStatus(source)
	if err != nil {
		return model.EnhancementRule{}, err
	}

	rule := model.EnhancementRule{
		Pattern:          fr.Pattern,
		MatchType:        mt,
		Source:           source,
		MinAmount:        fr.MinAmount,
		MaxAmount:        fr.MaxAmount,
		SuggestionStatus: status,
	}
	if rule.ValidFrom, err = parseDate(fr.ValidFrom); err != nil {
		return model.EnhancementRule{}, err
	}
	if rule.ValidTo, err = parseDate(fr.ValidTo); err != nil {
		return model.EnhancementRule{}, err
	}
	return rule, nil
}

// suggestionStatus picks the review state of an imported rule. Files written
// before the status key existed get the state implied by the category: a
// suggested rule with a category was applied, one without is still pending.
func (fr Rule) suggestionStatus(source model.RuleSource) (model.SuggestionStatus, error) {
	if fr.Status != "" {
		status, err := model.ParseSuggestionStatus(strings.ToUpper(fr.Status))
		if err != nil {
			return "", fmt.Errorf("%w: %v", common.ErrInvalidRule, err)
		}
		return status, nil
	}
	switch {
	case source == model.SourceManual:
		return model.SuggestionNone, nil
	case fr.Category != "":
		return model.SuggestionApplied, nil
	default:
		return model.SuggestionPending, nil
	}
}

func parseDate(s string) (*time.Time, error) {
	if s == "" {
		return nil, nil
	}
	t, err := time.Parse(dateLayout, s)
	if err != nil {
		return nil, fmt.Errorf("%w: bad date %q, want YYYY-MM-DD", common.ErrInvalidRule, s)
	}
	return &t, nil
}

func names(ctx context.Context, catalog Catalog) (map[int64]string, map[int64]string, error) {
	categories, err := catalog.ListCategories(ctx)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to list categories: %w", err)
	}
	accounts, err := catalog.ListAccounts(ctx)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to list accounts: %w", err)
	}

	cats := make(map[int64]string, len(categories))
	for _, c := range categories {
		cats[c.ID] = c.Name
	}
	accts := make(map[int64]string, len(accounts))
	for _, a := range accounts {
		accts[a.ID] = a.Name
	}
	return cats, accts, nil
}

// nameResolver maps names to IDs case-insensitively, creating missing
// entries when allowed.
type nameResolver struct {
	catalog    Catalog
	categories map[string]int64
	accounts   map[string]int64
	create     bool
}

func newNameResolver(ctx context.Context, catalog Catalog, create bool) (*nameResolver, error) {
	cats, accts, err := names(ctx, catalog)
	if err != nil {
		return nil, err
	}
	r := &nameResolver{
		catalog:    catalog,
		categories: make(map[string]int64, len(cats)),
		accounts:   make(map[string]int64, len(accts)),
		create:     create,
	}
	for id, name := range cats {
		r.categories[strings.ToLower(name)] = id
	}
	for id, name := range accts {
		r.accounts[strings.ToLower(name)] = id
	}
	return r, nil
}

func (r *nameResolver) check(fr Rule) error {
	if r.create {
		return nil
	}
	if fr.Category != "" {
		if _, ok := r.categories[strings.ToLower(fr.Category)]; !ok {
			return fmt.Errorf("%w: category %q", common.ErrNotFound, fr.Category)
		}
	}
	if fr.Counterparty != "" {
		if _, ok := r.accounts[strings.ToLower(fr.Counterparty)]; !ok {
			return fmt.Errorf("%w: account %q", common.ErrNotFound, fr.Counterparty)
		}
	}
	return nil
}

func (r *nameResolver) category(ctx context.Context, name string) (*int64, error) {
	if name == "" {
		return nil, nil
	}
	if id, ok := r.categories[strings.ToLower(name)]; ok {
		return &id, nil
	}
	c, err := r.catalog.CreateCategory(ctx, name)
	if err != nil {
		return nil, fmt.Errorf("failed to create category %q: %w", name, err)
	}
	r.categories[strings.ToLower(name)] = c.ID
	return &c.ID, nil
}

func (r *nameResolver) account(ctx context.Context, name string) (*int64, error) {
	if name == "" {
		return nil, nil
	}
	if id, ok := r.accounts[strings.ToLower(name)]; ok {
		return &id, nil
	}
	a, err := r.catalog.CreateAccount(ctx, name)
	if err != nil {
		return nil, fmt.Errorf("failed to create account %q: %w", name, err)
	}
	r.accounts[strings.ToLower(name)] = a.ID
	return &a.ID, nil
}
