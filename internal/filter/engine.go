package filter

import (
	"regexp"
	"time"

	"github.com/hearthline/core/internal/model"
)

const (
	// MaxPatternsPerGuild and MaxPatternChars are the limits spec §4.2
	// names for custom patterns.
	MaxPatternsPerGuild = 100
	MaxPatternChars     = 500
	MaxTestInputChars   = 4000

	redosCompileBudget = 10 * time.Millisecond
	redosEvalBudget    = 10 * time.Millisecond
	redosStressChars   = 1000
)

// Decision is the outcome of checking one piece of content.
type Decision struct {
	Blocked bool
	Matches []MatchResult
}

// MatchResult is one triggered pattern, carrying enough identity for
// logging and audit but never returned to the end user (spec §7:
// "blocked content returns the category label but not the matched
// pattern").
type MatchResult struct {
	Category       model.FilterCategory
	Action         model.FilterAction
	MatchedPattern string
	PatternID      string // empty for built-in keywords/patterns
}

type compiledRegex struct {
	id       string
	re       *regexp.Regexp
	category model.FilterCategory
	action   model.FilterAction
	source   string
}

// Engine is one guild's compiled filter, combining the Aho-Corasick
// keyword trie with a list of compiled regexes. Immutable once built;
// concurrent Check calls never suspend or mutate shared state, matching
// spec §5's "Filter check never suspends once the engine is cached."
type Engine struct {
	trie        *Trie
	keywordMeta []keywordMeta
	regexes     []compiledRegex
}

type keywordMeta struct {
	category model.FilterCategory
	action   model.FilterAction
}

// Build compiles an engine from a guild's enabled filter configs and
// custom patterns, mirroring the reference server's
// FilterEngine::build: built-in keyword/regex lists for every enabled
// category, plus custom literal or regex patterns. Regexes that fail to
// compile or exceed the ReDoS budget are skipped, not fatal to the
// build — matching the reference's "skip and warn" behavior.
func Build(configs []model.FilterConfig, patterns []model.FilterPattern, defaults DefaultProvider) *Engine {
	var keywords []string
	var meta []keywordMeta
	var regexes []compiledRegex

	enabled := make(map[model.FilterCategory]model.FilterConfig)
	for _, c := range configs {
		if c.Enabled {
			enabled[c.Category] = c
		}
	}

	for cat, cfg := range enabled {
		for _, kw := range defaults.DefaultKeywords(cat) {
			keywords = append(keywords, Lowercase(kw))
			meta = append(meta, keywordMeta{category: cat, action: cfg.Action})
		}
		for _, pat := range defaults.DefaultPatterns(cat) {
			if re, ok := compileGuarded(pat); ok {
				regexes = append(regexes, compiledRegex{re: re, category: cat, action: cfg.Action, source: pat})
			}
		}
	}

	for _, p := range patterns {
		if !p.Enabled {
			continue
		}
		if p.IsRegex {
			if re, ok := compileGuarded(p.Text); ok {
				regexes = append(regexes, compiledRegex{
					id: p.ID, re: re, category: model.CategoryCustom,
					action: model.ActionBlock, source: p.Text,
				})
			}
			continue
		}
		keywords = append(keywords, Lowercase(p.Text))
		meta = append(meta, keywordMeta{category: model.CategoryCustom, action: model.ActionBlock})
	}

	return &Engine{
		trie:        BuildTrie(keywords),
		keywordMeta: meta,
		regexes:     regexes,
	}
}

// compileGuarded compiles pattern and rejects it if compilation or a
// stress-input evaluation exceeds the ReDoS budgets from spec §4.2.
// Go's regexp package is RE2-based (no backtracking, so no pattern can
// exhibit catastrophic-backtracking blowup), but the spec's timing
// budgets are enforced regardless as a defense against pathological
// input sizes and as an explicit, testable property (spec §5: "ReDoS
// check 10 ms").
func compileGuarded(pattern string) (*regexp.Regexp, bool) {
	if len(pattern) > MaxPatternChars {
		return nil, false
	}
	start := time.Now()
	re, err := regexp.Compile(pattern)
	if err != nil || time.Since(start) > redosCompileBudget {
		return nil, false
	}

	stress := make([]byte, redosStressChars)
	for i := range stress {
		stress[i] = 'a'
	}
	start = time.Now()
	re.Match(stress)
	if time.Since(start) > redosEvalBudget {
		return nil, false
	}
	return re, true
}

// Check runs content against the compiled engine. Match order follows
// spec §4.2: keyword (Aho-Corasick) matches first, then regex matches in
// registration order; the overall decision uses action precedence
// block > warn > log, earliest pattern wins ties.
func (e *Engine) Check(content string) Decision {
	var matches []MatchResult
	lower := Lowercase(content)

	for _, m := range e.trie.FindAll(lower) {
		meta := e.keywordMeta[m.PatternIdx]
		matches = append(matches, MatchResult{
			Category:       meta.category,
			Action:         meta.action,
			MatchedPattern: e.trie.patterns[m.PatternIdx],
		})
	}

	for _, cr := range e.regexes {
		if cr.re.MatchString(content) {
			matches = append(matches, MatchResult{
				Category:       cr.category,
				Action:         cr.action,
				MatchedPattern: cr.source,
				PatternID:      cr.id,
			})
		}
	}

	return Decision{
		Blocked: mostSevere(matches) == model.ActionBlock,
		Matches: matches,
	}
}

// mostSevere returns the most severe action across matches per spec
// §4.2's block > warn > log precedence, or "" if there are no matches.
func mostSevere(matches []MatchResult) model.FilterAction {
	var seenWarn, seenLog bool
	for _, m := range matches {
		switch m.Action {
		case model.ActionBlock:
			return model.ActionBlock
		case model.ActionWarn:
			seenWarn = true
		case model.ActionLog:
			seenLog = true
		}
	}
	if seenWarn {
		return model.ActionWarn
	}
	if seenLog {
		return model.ActionLog
	}
	return ""
}

// Decide returns the most severe action and the first matching pattern
// with that action, for the moderation pipeline's branching logic
// (spec §4.9 step 2).
func (d Decision) Decide() (action model.FilterAction, m MatchResult, matched bool) {
	sev := mostSevere(d.Matches)
	if sev == "" {
		return "", MatchResult{}, false
	}
	for _, cand := range d.Matches {
		if cand.Action == sev {
			return sev, cand, true
		}
	}
	return "", MatchResult{}, false
}

// IsEmpty reports whether this engine has no active filters at all.
func (e *Engine) IsEmpty() bool {
	return e.trie.IsEmpty() && len(e.regexes) == 0
}
