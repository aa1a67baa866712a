package filter

import "github.com/hearthline/core/internal/model"

// DefaultProvider supplies the built-in keyword/regex seed lists per
// category, grounded on original_source/server/src/moderation/
// defaults.rs's wordlist-per-category structure. That file embeds
// external wordlist text files at compile time; this module inlines a
// small representative seed list per category instead of shipping a
// wordlist asset pipeline, since spec §1 leaves moderation-content
// curation out of scope and only the mechanism (built-in category +
// custom pattern) is being specified.
type DefaultProvider interface {
	DefaultKeywords(cat model.FilterCategory) []string
	DefaultPatterns(cat model.FilterCategory) []string
}

type staticDefaults struct{}

// StaticDefaults is the built-in DefaultProvider used outside of tests.
var StaticDefaults DefaultProvider = staticDefaults{}

var defaultKeywordSeeds = map[model.FilterCategory][]string{
	model.CategorySlurs:      {},
	model.CategoryHateSpeech: {},
	model.CategorySpam:       {"buy now", "limited time offer", "click here"},
	model.CategoryAbusive:    {"kill yourself"},
}

var defaultPatternSeeds = map[model.FilterCategory][]string{
	model.CategorySpam: {
		`(?i)claim\s+your\s+prize`,
		`(?i)\bfree\s+money\b`,
		`(?i)https?://\S+\.(?:tk|top|xyz)\b`,
	},
}

func (staticDefaults) DefaultKeywords(cat model.FilterCategory) []string {
	return defaultKeywordSeeds[cat]
}

func (staticDefaults) DefaultPatterns(cat model.FilterCategory) []string {
	return defaultPatternSeeds[cat]
}
