package moderation

// composePriority fixes the order in which merged categories are tried
// against the reason and alternative tables. The first category present in
// the result that has a table entry decides both strings.
var composePriority = []Category{
	CategoryViolence,
	CategoryPersonalInfo,
	CategoryCyberbullying,
	CategoryScaryContent,
	CategoryAgeInappropriate,
}

// reasonTable maps a category to the child-facing explanation for why the
// content was not allowed.
var reasonTable = map[Category]string{
	CategoryViolence:         "That talks about hurting people, and we keep things kind here.",
	CategoryPersonalInfo:     "Let's keep private things like addresses and phone numbers secret.",
	CategoryCyberbullying:    "Those words can really hurt someone's feelings.",
	CategoryScaryContent:     "That sounds a little too scary for right now.",
	CategoryAgeInappropriate: "That topic is for when you're older.",
}

// alternativeTable maps a category to a positive redirect utterance offered
// in place of the blocked content.
var alternativeTable = map[Category]string{
	CategoryViolence:         "Let's talk about something fun instead! What's your favorite game?",
	CategoryPersonalInfo:     "How about you tell me about your favorite story instead?",
	CategoryCyberbullying:    "Let's use kind words! What made you smile today?",
	CategoryScaryContent:     "How about a happy story with friendly animals instead?",
	CategoryAgeInappropriate: "Let's find something fun just for you. Do you like puzzles?",
}

// Fallback strings used when no merged category has a table entry.
const (
	genericReason      = "Let's talk about something else."
	genericAlternative = "What's your favorite thing to do for fun?"
)

// Compose selects the single rejection reason and the single alternative
// utterance for a merged result. Safe results compose to empty strings; the
// allowed response itself is the acknowledgment.
func Compose(r Result) (reason, alternative string) {
	if r.Safe {
		return "", ""
	}
	for _, c := range composePriority {
		if !r.HasCategory(c) {
			continue
		}
		if reason, ok := reasonTable[c]; ok {
			return reason, alternativeTable[c]
		}
	}
	return genericReason, genericAlternative
}
