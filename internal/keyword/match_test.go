package keyword

import (
	"testing"
	"time"

	"github.com/moxley/arbiter/internal/capability"
)

func testRegistry(t *testing.T) *Registry {
	t.Helper()
	bindings := []Binding{
		{Keyword: "nfl", Capability: capability.Sports, Enabled: true, Timeout: time.Second},
		{Keyword: "nfl scores", Capability: capability.Sports, Enabled: true, Timeout: time.Second},
		{Keyword: "scores for nfl", Capability: capability.Sports, Enabled: true, Timeout: time.Second},
		{Keyword: "weather", Capability: capability.Weather, Enabled: true, Timeout: time.Second},
		{Keyword: "draw", Capability: capability.Image, Enabled: true, Timeout: time.Second},
		{Keyword: "retired", Capability: capability.Search, Enabled: false, Timeout: time.Second},
	}
	r, err := NewRegistry("!", bindings)
	if err != nil {
		t.Fatalf("NewRegistry: %v", err)
	}
	return r
}

func TestMatch_LongestKeywordWins(t *testing.T) {
	r := testRegistry(t)

	b, rest, ok := r.Match("!nfl scores today")
	if !ok {
		t.Fatal("expected a match")
	}
	if b.Keyword != "nfl scores" {
		t.Errorf("matched %q, want %q", b.Keyword, "nfl scores")
	}
	if rest != "today" {
		t.Errorf("rest = %q, want %q", rest, "today")
	}
}

func TestMatch_MultiWordOutranksShort(t *testing.T) {
	r := testRegistry(t)

	b, _, ok := r.Match("!scores for nfl")
	if !ok || b.Keyword != "scores for nfl" {
		t.Errorf("matched %v %q, want scores for nfl", ok, b.Keyword)
	}
}

func TestMatch_WordBoundary(t *testing.T) {
	r := testRegistry(t)

	if _, _, ok := r.Match("!nflx stock price"); ok {
		t.Error("\"nflx\" should not match the nfl binding")
	}
}

func TestMatch_MultibyteBoundary(t *testing.T) {
	r := testRegistry(t)

	// U+2014 is punctuation, and so a word boundary, even though its
	// first UTF-8 byte looks like a Latin-1 letter.
	b, _, ok := r.Match("!weather—austin")
	if !ok || b.Capability != capability.Weather {
		t.Errorf("punctuation rune after keyword should match: ok=%v %+v", ok, b)
	}
}

func TestMatchDirective_MultibyteBoundary(t *testing.T) {
	r := testRegistry(t)

	b, _, ok := r.MatchDirective("WEATHER—austin")
	if !ok || b.Capability != capability.Weather {
		t.Errorf("punctuation rune after directive keyword should match: ok=%v %+v", ok, b)
	}
}

func TestMatch_CaseInsensitive(t *testing.T) {
	r := testRegistry(t)

	b, rest, ok := r.Match("!WEATHER Austin TX")
	if !ok || b.Capability != capability.Weather {
		t.Fatalf("expected weather match, got %v %v", ok, b)
	}
	if rest != "Austin TX" {
		t.Errorf("rest = %q, original casing should survive", rest)
	}
}

func TestMatch_NoMarker(t *testing.T) {
	r := testRegistry(t)

	if _, _, ok := r.Match("weather austin"); ok {
		t.Error("text without the marker should not match")
	}
}

func TestMatch_DisabledExcluded(t *testing.T) {
	r := testRegistry(t)

	if _, _, ok := r.Match("!retired stuff"); ok {
		t.Error("disabled binding should not match")
	}
}

func TestMatch_ReservedExact(t *testing.T) {
	r := testRegistry(t)

	b, _, ok := r.Match("!help")
	if !ok || !b.Reserved || b.Keyword != KeywordHelp {
		t.Fatalf("expected reserved help match, got %v %+v", ok, b)
	}
}

func TestMatch_ReservedRejectsTrailingText(t *testing.T) {
	r := testRegistry(t)

	if _, _, ok := r.Match("!help extra"); ok {
		t.Error("reserved keyword with trailing text must not match")
	}
}

func TestMatchDirective_InlineParameter(t *testing.T) {
	r := testRegistry(t)

	b, inline, ok := r.MatchDirective("WEATHER austin tx")
	if !ok || b.Capability != capability.Weather {
		t.Fatalf("expected weather directive, got %v %+v", ok, b)
	}
	if inline != "austin tx" {
		t.Errorf("inline = %q, want %q", inline, "austin tx")
	}
}

func TestMatchDirective_SeparatorPunct(t *testing.T) {
	r := testRegistry(t)

	_, inline, ok := r.MatchDirective("weather: austin")
	if !ok || inline != "austin" {
		t.Errorf("got ok=%v inline=%q, want austin", ok, inline)
	}
}

func TestMatchDirective_ReservedNeverInferable(t *testing.T) {
	r := testRegistry(t)

	if _, _, ok := r.MatchDirective("help"); ok {
		t.Error("reserved keywords must not be inferable from a directive")
	}
}

func TestMatchDirective_NoMatchFallsThrough(t *testing.T) {
	r := testRegistry(t)

	if _, _, ok := r.MatchDirective("I think you want the weather in Austin."); ok {
		t.Error("prose first line should not parse as a directive")
	}
}

func TestReplace_DuplicateKeywordsRejected(t *testing.T) {
	r := testRegistry(t)

	dup := []Binding{
		{Keyword: "draw", Capability: capability.Image, Enabled: true},
		{Keyword: "DRAW", Capability: capability.Meme, Enabled: true},
	}
	if err := r.Replace(dup); err == nil {
		t.Fatal("expected duplicate keyword error")
	}

	// Previous snapshot must survive a failed reload.
	if _, _, ok := r.Match("!weather austin"); !ok {
		t.Error("registry lost its snapshot after failed Replace")
	}
}

func TestReplace_DisabledDuplicateAllowed(t *testing.T) {
	r := testRegistry(t)

	set := []Binding{
		{Keyword: "draw", Capability: capability.Image, Enabled: true},
		{Keyword: "draw", Capability: capability.Meme, Enabled: false},
	}
	if err := r.Replace(set); err != nil {
		t.Fatalf("disabled duplicate should be allowed: %v", err)
	}
}

func TestInferable_ExcludesReservedAndDisabled(t *testing.T) {
	r := testRegistry(t)

	for _, b := range r.Inferable() {
		if b.Reserved {
			t.Errorf("reserved binding %q in inferable set", b.Keyword)
		}
		if !b.Enabled {
			t.Errorf("disabled binding %q in inferable set", b.Keyword)
		}
	}
}
