package genai

import "strings"

// softenings maps lexical categories that commonly trip image moderation to
// neutral synonyms. Matching is case-insensitive on whole words; replacements
// are applied everywhere they occur.
var softenings = map[string]string{
	"blood":     "red paint",
	"bloody":    "crimson",
	"gore":      "dramatic shadows",
	"kill":      "defeat",
	"killing":   "defeating",
	"dead":      "sleeping",
	"death":     "mystery",
	"gun":       "toy blaster",
	"guns":      "toy blasters",
	"weapon":    "gadget",
	"weapons":   "gadgets",
	"knife":     "butter spreader",
	"bomb":      "balloon",
	"explosion": "burst of confetti",
	"drug":      "potion",
	"drugs":     "potions",
	"naked":     "cartoonish",
	"nude":      "stylized",
	"sexy":      "glamorous",
	"violence":  "action",
	"violent":   "energetic",
	"war":       "friendly rivalry",
	"fight":     "dance-off",
	"fighting":  "dancing",
}

// Soften replaces flagged lexical categories in prompt with neutral synonyms.
// It is a pure transformation; calling it on an already-soft prompt returns
// the prompt unchanged.
func Soften(prompt string) string {
	words := strings.Fields(prompt)
	for i, word := range words {
		trimmed := strings.ToLower(strings.Trim(word, ".,!?;:\"'()"))
		replacement, ok := softenings[trimmed]
		if !ok {
			continue
		}
		// Preserve surrounding punctuation.
		prefix := word[:strings.Index(strings.ToLower(word), trimmed)]
		suffix := word[len(prefix)+len(trimmed):]
		words[i] = prefix + replacement + suffix
	}
	return strings.Join(words, " ")
}
