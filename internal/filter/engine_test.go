package filter

import (
	"testing"

	"github.com/hearthline/core/internal/model"
)

func customPattern(text string, isRegex bool) model.FilterPattern {
	return model.FilterPattern{ID: "p1", GuildID: "g1", Text: text, IsRegex: isRegex, Enabled: true}
}

func TestEngine_EmptyEngineAllowsEverything(t *testing.T) {
	e := Build(nil, nil, StaticDefaults)
	d := e.Check("hello world")
	if d.Blocked {
		t.Fatalf("expected not blocked")
	}
	if len(d.Matches) != 0 {
		t.Fatalf("expected no matches, got %v", d.Matches)
	}
	if !e.IsEmpty() {
		t.Fatalf("expected engine to report empty")
	}
}

func TestEngine_CustomKeywordBlocks(t *testing.T) {
	e := Build(nil, []model.FilterPattern{customPattern("badword", false)}, StaticDefaults)
	d := e.Check("this has a badword in it")
	if !d.Blocked {
		t.Fatalf("expected blocked")
	}
	if len(d.Matches) != 1 || d.Matches[0].MatchedPattern != "badword" {
		t.Fatalf("expected single match on 'badword', got %v", d.Matches)
	}
}

func TestEngine_CustomKeywordCaseInsensitive(t *testing.T) {
	e := Build(nil, []model.FilterPattern{customPattern("BadWord", false)}, StaticDefaults)
	d := e.Check("BADWORD is here")
	if !d.Blocked {
		t.Fatalf("expected blocked regardless of case")
	}
}

func TestEngine_CustomRegexBlocks(t *testing.T) {
	e := Build(nil, []model.FilterPattern{customPattern(`(?i)free\s+money`, true)}, StaticDefaults)
	d := e.Check("get FREE MONEY now!")
	if !d.Blocked {
		t.Fatalf("expected blocked")
	}
	if len(d.Matches) != 1 {
		t.Fatalf("expected exactly one match, got %v", d.Matches)
	}
}

func TestEngine_DisabledPatternSkipped(t *testing.T) {
	p := customPattern("badword", false)
	p.Enabled = false
	e := Build(nil, []model.FilterPattern{p}, StaticDefaults)
	d := e.Check("this has a badword")
	if d.Blocked {
		t.Fatalf("expected not blocked for disabled pattern")
	}
}

func TestEngine_CleanContentPasses(t *testing.T) {
	e := Build(nil, []model.FilterPattern{customPattern("badword", false)}, StaticDefaults)
	d := e.Check("this is perfectly fine")
	if d.Blocked || len(d.Matches) != 0 {
		t.Fatalf("expected clean pass, got %v", d)
	}
}

func TestEngine_InvalidRegexSkipped(t *testing.T) {
	e := Build(nil, []model.FilterPattern{customPattern("[invalid", true)}, StaticDefaults)
	if !e.IsEmpty() {
		t.Fatalf("expected engine built from only an invalid regex to be empty")
	}
}

func TestEngine_BuiltinSpamPatterns(t *testing.T) {
	cfg := model.FilterConfig{GuildID: "g1", Category: model.CategorySpam, Enabled: true, Action: model.ActionBlock}
	e := Build([]model.FilterConfig{cfg}, nil, StaticDefaults)
	d := e.Check("click here to claim your prize!")
	if !d.Blocked {
		t.Fatalf("expected builtin spam pattern to block")
	}
}

func TestEngine_DisabledConfigSkipped(t *testing.T) {
	cfg := model.FilterConfig{GuildID: "g1", Category: model.CategorySpam, Enabled: false, Action: model.ActionBlock}
	e := Build([]model.FilterConfig{cfg}, nil, StaticDefaults)
	d := e.Check("click here to claim your prize!")
	if d.Blocked {
		t.Fatalf("expected disabled config not to block")
	}
}

func TestEngine_ActionPrecedence(t *testing.T) {
	warn := customPattern("meh", false)
	warn.ID = "warn1"
	cfg := model.FilterConfig{GuildID: "g1", Category: model.CategorySpam, Enabled: true, Action: model.ActionWarn}
	e := Build([]model.FilterConfig{cfg}, nil, StaticDefaults)
	d := e.Check("claim your prize now")
	action, _, ok := d.Decide()
	if !ok || action != model.ActionWarn {
		t.Fatalf("expected warn action to win when nothing blocks, got %v ok=%v", action, ok)
	}
}

func TestTrie_MultiplePatternsNoDuplicateReports(t *testing.T) {
	tr := BuildTrie([]string{"cat", "dog"})
	matches := tr.FindAll(Lowercase("the cat chased the cat and the dog"))
	if len(matches) != 2 {
		t.Fatalf("expected exactly one report per distinct pattern, got %d: %v", len(matches), matches)
	}
}

func TestTrie_OverlappingPatterns(t *testing.T) {
	// "he" is a suffix of "she", reachable while scanning "she"; both must report.
	tr := BuildTrie([]string{"he", "she", "his"})
	matches := tr.FindAll(Lowercase("she saw his hat"))
	if len(matches) < 2 {
		t.Fatalf("expected overlapping suffix patterns to all report, got %v", matches)
	}
}
