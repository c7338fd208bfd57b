package pattern

import (
	"fmt"
	"regexp"
	"strings"
	"sync"

	"github.com/Veraticus/spice-rules/internal/common"
)

// flagGroup matches a leading flag group such as (?s) or (?-i:...). Other
// (? prefixes are non-capturing or named groups and set no flags.
var flagGroup = regexp.MustCompile(`^\(\?[imsU-]+[):]`)

type cachedRegex struct {
	re     *regexp.Regexp
	source string
}

// RegexCache holds compiled REGEX rule patterns keyed by rule ID. Entries are
// dropped with Invalidate whenever a rule changes, and an entry whose source
// no longer matches the rule's pattern is recompiled rather than served.
type RegexCache struct {
	entries map[int64]cachedRegex
	mu      sync.RWMutex
}

// NewRegexCache creates an empty cache.
func NewRegexCache() *RegexCache {
	return &RegexCache{entries: make(map[int64]cachedRegex)}
}

// Get returns the compiled expression for a rule, compiling it on first use.
func (c *RegexCache) Get(ruleID int64, source string) (*regexp.Regexp, error) {
	c.mu.RLock()
	entry, ok := c.entries[ruleID]
	c.mu.RUnlock()
	if ok && entry.source == source {
		return entry.re, nil
	}

	re, err := Compile(source)
	if err != nil {
		return nil, err
	}

	c.mu.Lock()
	c.entries[ruleID] = cachedRegex{re: re, source: source}
	c.mu.Unlock()

	return re, nil
}

// Invalidate forgets the compiled expression of a rule.
func (c *RegexCache) Invalidate(ruleID int64) {
	c.mu.Lock()
	delete(c.entries, ruleID)
	c.mu.Unlock()
}

// Len returns the number of cached expressions.
func (c *RegexCache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}

// Compile compiles a REGEX rule pattern. Matching is case-insensitive unless
// the pattern sets its own flags.
func Compile(source string) (*regexp.Regexp, error) {
	if strings.TrimSpace(source) == "" {
		return nil, fmt.Errorf("%w: empty expression", common.ErrInvalidPattern)
	}
	if !flagGroup.MatchString(source) {
		source = "(?i)" + source
	}
	re, err := regexp.Compile(source)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", common.ErrInvalidPattern, err)
	}
	return re, nil
}
