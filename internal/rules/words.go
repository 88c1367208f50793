package rules

import (
	"regexp"
	"strings"
	"unicode"
)

// defaultBlacklist seeds the profanity blacklist. Single words are matched
// per token; multi-word entries are matched as boundary-aware phrases.
// The list is deliberately conservative; deployments extend it through the
// management surface.
var defaultBlacklist = []string{
	"shit",
	"fuck",
	"bitch",
	"bastard",
	"asshole",
	"dick",
	"piss",
	"damn",
	"crap",
	"whore",
	"slut",
	"kill yourself",
	"go die",
}

// defaultWhitelist seeds the always-allowed word set. A whitelisted word can
// never produce a blacklist match, which keeps common child vocabulary from
// being caught by overeager additions to the blacklist.
var defaultWhitelist = []string{
	"hello", "hi", "hey",
	"teddy", "bear", "puppy", "kitten",
	"play", "learn", "story", "game", "fun", "happy",
	"family", "friend", "school",
	"please", "thanks", "birthday",
}

// personalInfoPatterns flag disclosure phrasing around contact details and
// credentials. Matched against tokens, so "address" does not fire inside
// "addressing".
var personalInfoPatterns = compilePatterns([]string{
	"password",
	"secret",
	"address",
	"phone number",
	"email",
	"credit card",
	"social security",
	"bank account",
	"my address is",
	"i live at",
	"my phone",
	"call me at",
})

// phonePattern matches phone number formats such as +1-555-123-4567,
// (555) 123-4567, and 555.123.4567, catching a number shared without any
// disclosure phrasing around it. Anchored to whitespace/string boundaries
// so short counts like "100" or "42 out of 50" do not fire.
var phonePattern = regexp.MustCompile(`(?:^|\s)(\+?\d{1,3}[-.\s]?)?\(?\d{2,4}\)?[-.\s]?\d{3,4}[-.\s]?\d{3,4}(?:\s|$)`)

// harmfulGroup is one named phrase list of the harmful-pattern check.
type harmfulGroup struct {
	name     string
	patterns []pattern
}

// harmfulGroups are evaluated in order after the banded checks. The group
// name becomes part of the matched rule for audit.
var harmfulGroups = []harmfulGroup{
	{name: "violence", patterns: compilePatterns([]string{
		"hit", "punch", "fight", "hurt", "pain", "blood",
	})},
	{name: "bullying", patterns: compilePatterns([]string{
		"stupid", "ugly", "hate you", "shut up", "loser",
	})},
	{name: "inappropriate", patterns: compilePatterns([]string{
		"adult only", "not for kids", "mature content",
	})},
}

// ageBand holds the scary-word and complex-topic lists for one age ceiling.
type ageBand struct {
	maxAge  int
	scary   []pattern
	complex []pattern
}

// ageBands orders the banded lists from most to least restrictive; bandFor
// picks the first band whose ceiling covers the child's age. Children older
// than the last ceiling get no banded check.
var ageBands = []ageBand{
	{
		maxAge:  5,
		scary:   compilePatterns([]string{"monster", "ghost", "scary", "dark", "nightmare", "afraid"}),
		complex: compilePatterns([]string{"death", "violence", "adult", "grown-up stuff"}),
	},
	{
		maxAge:  8,
		scary:   compilePatterns([]string{"horror", "terror", "frightening", "nightmare"}),
		complex: compilePatterns([]string{"adult content", "violence", "inappropriate"}),
	},
	{
		maxAge:  12,
		scary:   compilePatterns([]string{"extremely violent", "graphic"}),
		complex: compilePatterns([]string{"adult content"}),
	},
}

// bandFor returns the most restrictive band applicable to age, or nil when
// the age is above every ceiling.
func bandFor(age int) *ageBand {
	for i := range ageBands {
		if age <= ageBands[i].maxAge {
			return &ageBands[i]
		}
	}
	return nil
}

// pattern is a pre-tokenized list entry: one word for token matches, several
// for boundary-aware phrase matches.
type pattern struct {
	raw   string
	words []string
}

// compilePatterns tokenizes each entry once so Check never re-splits the
// static lists.
func compilePatterns(entries []string) []pattern {
	out := make([]pattern, 0, len(entries))
	for _, e := range entries {
		words := tokenizePlain(e)
		if len(words) == 0 {
			continue
		}
		out = append(out, pattern{raw: strings.ToLower(strings.TrimSpace(e)), words: words})
	}
	return out
}

// matchPatterns returns the raw form of the first pattern found in tokens,
// or "" when none match.
func matchPatterns(tokens []string, patterns []pattern) string {
	for _, p := range patterns {
		if containsWords(tokens, p.words) {
			return p.raw
		}
	}
	return ""
}

// containsWords reports whether want appears in tokens as a contiguous run.
// Single words reduce to a linear scan; phrases use a sliding window, so
// "kill yourselves" does not match the phrase "kill yourself".
func containsWords(tokens, want []string) bool {
	if len(want) == 0 || len(tokens) < len(want) {
		return false
	}
	for i := 0; i+len(want) <= len(tokens); i++ {
		match := true
		for j, w := range want {
			if tokens[i+j] != w {
				match = false
				break
			}
		}
		if match {
			return true
		}
	}
	return false
}

// leetSubstitutions maps common character substitutions back to the letters
// they disguise.
var leetSubstitutions = map[rune]rune{
	'@': 'a',
	'$': 's',
	'0': 'o',
	'1': 'i',
	'3': 'e',
	'4': 'a',
	'5': 's',
	'7': 't',
	'!': 'i',
}

// normalizeLeet rewrites disguised characters so "b@dw0rd" compares equal to
// "badword".
func normalizeLeet(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	for _, r := range s {
		if sub, ok := leetSubstitutions[r]; ok {
			b.WriteRune(sub)
		} else {
			b.WriteRune(r)
		}
	}
	return b.String()
}

// tokenizePlain lowercases text and splits it on every non-alphanumeric
// rune.
func tokenizePlain(text string) []string {
	return strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
}

// leetTokens splits text on whitespace only (preserving substitution
// characters inside a word), normalizes each chunk, and re-tokenizes the
// result. "$h!t," becomes "shit".
func leetTokens(text string) []string {
	var out []string
	for _, chunk := range strings.Fields(strings.ToLower(text)) {
		out = append(out, tokenizePlain(normalizeLeet(chunk))...)
	}
	return out
}
