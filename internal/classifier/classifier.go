package classifier

import (
	"sort"
	"strings"
)

// Tagger suggests tags for free text.
type Tagger interface {
	Tags(content string) []string
}

// KeywordTagger extracts hashtags and keyword categories without calling a model.
type KeywordTagger struct {
	maxTags int
}

func NewKeywordTagger(maxTags int) *KeywordTagger {
	return &KeywordTagger{maxTags: maxTags}
}

var categories = map[string][]string{
	"work":      {"project", "meeting", "deadline", "report", "review", "client", "presentation"},
	"personal":  {"family", "friend", "home", "birthday", "holiday"},
	"shopping":  {"buy", "purchase", "store", "shop", "price"},
	"education": {"study", "learn", "course", "book", "homework"},
	"travel":    {"trip", "flight", "hotel", "vacation", "booking"},
	"finance":   {"budget", "invoice", "tax", "numbers", "expense"},
}

func (c *KeywordTagger) Tags(content string) []string {
	tags := make(map[string]struct{})

	// Extract hashtags
	for _, word := range strings.Fields(content) {
		if strings.HasPrefix(word, "#") {
			tag := strings.ToLower(strings.Trim(word, "#.,!?;:"))
			if tag != "" {
				tags[tag] = struct{}{}
			}
		}
	}

	lower := strings.ToLower(content)
	for category, keywords := range categories {
		for _, keyword := range keywords {
			if strings.Contains(lower, keyword) {
				tags[category] = struct{}{}
				break
			}
		}
	}

	result := make([]string, 0, len(tags))
	for tag := range tags {
		result = append(result, tag)
	}
	sort.Strings(result)

	if c.maxTags > 0 && len(result) > c.maxTags {
		result = result[:c.maxTags]
	}
	return result
}
