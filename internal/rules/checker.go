// Package rules implements the local rule checker: deterministic,
// dependency-free checks run before any external classifier is consulted.
// Checks are evaluated in fixed priority order and short-circuit on the
// first unsafe verdict: blacklist, personal information, age-banded lists,
// harmful patterns.
package rules

import (
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/kidsafe/guardian/internal/moderation"
)

// Confidence and severity assigned by each check, in priority order.
const (
	blacklistConfidence    = 0.90
	personalInfoConfidence = 0.85
	ageBandConfidence      = 0.80
	harmfulConfidence      = 0.75
)

// sourceNote marks results produced by this stage.
const sourceNote = "local_rules"

// Checker evaluates the local rule set. The blacklist and whitelist are
// mutable through the management surface and guarded by a read/write lock;
// the personal-info, banded, and harmful lists are fixed tables.
type Checker struct {
	mu        sync.RWMutex
	words     map[string]struct{}
	phrases   []pattern
	whitelist map[string]struct{}
}

// NewChecker creates a Checker seeded with the default word lists.
func NewChecker() *Checker {
	return NewCheckerWithLists(defaultBlacklist, defaultWhitelist)
}

// NewCheckerWithLists creates a Checker with explicit blacklist and
// whitelist entries. Empty and whitespace-only entries are dropped.
func NewCheckerWithLists(blacklist, whitelist []string) *Checker {
	c := &Checker{
		words:     make(map[string]struct{}),
		whitelist: make(map[string]struct{}),
	}
	for _, term := range blacklist {
		c.addBlacklistLocked(term)
	}
	for _, term := range whitelist {
		if w := strings.ToLower(strings.TrimSpace(term)); w != "" {
			c.whitelist[w] = struct{}{}
		}
	}
	return c
}

// Check runs the rule checks against the request content and returns the
// first unsafe verdict, or a safe result when nothing matches. It never
// fails: an internal fault degrades to a safe verdict with a note, matching
// the pipeline's fail-open policy.
func (c *Checker) Check(req *moderation.Request) (res moderation.Result) {
	defer func() {
		if r := recover(); r != nil {
			res = moderation.SafeResult(fmt.Sprintf("%s: internal fault: %v", sourceNote, r))
		}
	}()

	tokens := tokenizePlain(req.Content)

	if term := c.matchBlacklist(tokens, req.Content); term != "" {
		return unsafeResult(moderation.CategoryProfanity, moderation.SeverityHigh,
			blacklistConfidence, "blacklist:"+term)
	}

	if p := matchPatterns(tokens, personalInfoPatterns); p != "" {
		return unsafeResult(moderation.CategoryPersonalInfo, moderation.SeverityHigh,
			personalInfoConfidence, "personal_info:"+p)
	}
	if phonePattern.MatchString(req.Content) {
		return unsafeResult(moderation.CategoryPersonalInfo, moderation.SeverityHigh,
			personalInfoConfidence, "personal_info:phone_number")
	}

	if band := bandFor(req.Age); band != nil {
		if w := matchPatterns(tokens, band.scary); w != "" {
			return unsafeResult(moderation.CategoryScaryContent, moderation.SeverityMedium,
				ageBandConfidence, "age_band_scary:"+w)
		}
		if w := matchPatterns(tokens, band.complex); w != "" {
			return unsafeResult(moderation.CategoryAgeInappropriate, moderation.SeverityMedium,
				ageBandConfidence, "age_band_complex:"+w)
		}
	}

	for _, g := range harmfulGroups {
		if p := matchPatterns(tokens, g.patterns); p != "" {
			return unsafeResult(moderation.CategoryHarmfulContent, moderation.SeverityMedium,
				harmfulConfidence, "harmful_pattern:"+g.name)
		}
	}

	return moderation.SafeResult(sourceNote + ": clean")
}

// matchBlacklist checks plain tokens first, then phrases, then a leet-
// normalized pass so "$h!t" is caught. Whitelisted words never match.
func (c *Checker) matchBlacklist(tokens []string, raw string) string {
	c.mu.RLock()
	defer c.mu.RUnlock()

	for _, tok := range tokens {
		if _, white := c.whitelist[tok]; white {
			continue
		}
		if _, ok := c.words[tok]; ok {
			return tok
		}
	}

	for _, p := range c.phrases {
		if containsWords(tokens, p.words) {
			return p.raw
		}
	}

	for _, tok := range leetTokens(raw) {
		if _, white := c.whitelist[tok]; white {
			continue
		}
		if _, ok := c.words[tok]; ok {
			return tok
		}
	}

	return ""
}

// AddBlacklist adds a term to the blacklist. Multi-word terms are matched
// as phrases.
func (c *Checker) AddBlacklist(term string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.addBlacklistLocked(term)
}

func (c *Checker) addBlacklistLocked(term string) {
	words := tokenizePlain(term)
	switch {
	case len(words) == 0:
		return
	case len(words) == 1:
		c.words[words[0]] = struct{}{}
	default:
		raw := strings.Join(words, " ")
		for _, p := range c.phrases {
			if p.raw == raw {
				return
			}
		}
		c.phrases = append(c.phrases, pattern{raw: raw, words: words})
	}
}

// RemoveBlacklist removes a term from the blacklist. Removing an absent
// term is a no-op.
func (c *Checker) RemoveBlacklist(term string) {
	words := tokenizePlain(term)
	if len(words) == 0 {
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if len(words) == 1 {
		delete(c.words, words[0])
		return
	}
	raw := strings.Join(words, " ")
	for i, p := range c.phrases {
		if p.raw == raw {
			c.phrases = append(c.phrases[:i], c.phrases[i+1:]...)
			return
		}
	}
}

// AddWhitelist adds a single word to the whitelist.
func (c *Checker) AddWhitelist(term string) {
	if w := strings.ToLower(strings.TrimSpace(term)); w != "" {
		c.mu.Lock()
		c.whitelist[w] = struct{}{}
		c.mu.Unlock()
	}
}

// RemoveWhitelist removes a word from the whitelist.
func (c *Checker) RemoveWhitelist(term string) {
	w := strings.ToLower(strings.TrimSpace(term))
	c.mu.Lock()
	delete(c.whitelist, w)
	c.mu.Unlock()
}

// Blacklist returns the current blacklist terms, sorted, for the management
// surface.
func (c *Checker) Blacklist() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]string, 0, len(c.words)+len(c.phrases))
	for w := range c.words {
		out = append(out, w)
	}
	for _, p := range c.phrases {
		out = append(out, p.raw)
	}
	sort.Strings(out)
	return out
}

// Whitelist returns the current whitelist terms, sorted.
func (c *Checker) Whitelist() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]string, 0, len(c.whitelist))
	for w := range c.whitelist {
		out = append(out, w)
	}
	sort.Strings(out)
	return out
}

func unsafeResult(cat moderation.Category, sev moderation.Severity, conf float64, rule string) moderation.Result {
	return moderation.Result{
		Safe:       false,
		Severity:   sev,
		Categories: []moderation.Category{cat},
		Confidence: map[moderation.Category]float64{cat: conf},
		Rules:      []string{rule},
		Notes:      []string{sourceNote},
	}
}
