package catalog

import (
	"errors"
	"regexp"
	"testing"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
)

func TestConcernFilterRejectsEmptyLabelSet(t *testing.T) {
	filter, ok := ConcernFilter(nil)
	if ok {
		t.Fatalf("empty label set must not build a filter, got %v", filter)
	}
	filter, ok = ConcernFilter([]string{})
	if ok {
		t.Fatalf("empty label set must not build a filter, got %v", filter)
	}
}

func TestConcernFilterBuildsCaseInsensitiveExactMatch(t *testing.T) {
	filter, ok := ConcernFilter([]string{"Acne", "Dark Circles"})
	if !ok {
		t.Fatal("expected a filter")
	}

	field, ok := filter["skin_concern"].(bson.M)
	if !ok {
		t.Fatalf("expected skin_concern predicate, got %v", filter)
	}
	patterns, ok := field["$in"].([]primitive.Regex)
	if !ok {
		t.Fatalf("expected $in of regexes, got %v", field)
	}
	if len(patterns) != 2 {
		t.Fatalf("expected 2 patterns, got %d", len(patterns))
	}

	for i, want := range []string{"^Acne$", "^Dark Circles$"} {
		if patterns[i].Pattern != want {
			t.Fatalf("pattern %d: got %q, want %q", i, patterns[i].Pattern, want)
		}
		if patterns[i].Options != "i" {
			t.Fatalf("pattern %d must be case-insensitive", i)
		}
	}

	// The anchored pattern must hit the label in any casing and nothing else.
	re := regexp.MustCompile("(?i)" + patterns[0].Pattern)
	if !re.MatchString("acne") || !re.MatchString("ACNE") {
		t.Fatal("anchored pattern must match case-insensitively")
	}
	if re.MatchString("acne scars") {
		t.Fatal("anchored pattern must not match a longer label")
	}
}

func TestSkinTypeFilterBuildsSuffixPattern(t *testing.T) {
	filter, err := SkinTypeFilter("Oily")
	if err != nil {
		t.Fatalf("expected success, got %v", err)
	}
	pattern, ok := filter["skin_concern"].(primitive.Regex)
	if !ok {
		t.Fatalf("expected regex predicate, got %v", filter)
	}
	if pattern.Options != "i" {
		t.Fatal("skin type pattern must be case-insensitive")
	}

	re := regexp.MustCompile("(?i)" + pattern.Pattern)
	if !re.MatchString("Oily Skin") || !re.MatchString("oily skin") {
		t.Fatalf("pattern %q must match 'Oily Skin'", pattern.Pattern)
	}
	if re.MatchString("Dry Skin") {
		t.Fatalf("pattern %q must not match other skin types", pattern.Pattern)
	}
}

func TestSkinTypeFilterToleratesSkinSuffix(t *testing.T) {
	plain, err := SkinTypeFilter("Oily")
	if err != nil {
		t.Fatalf("expected success, got %v", err)
	}
	suffixed, err := SkinTypeFilter("oily skin")
	if err != nil {
		t.Fatalf("expected success, got %v", err)
	}

	p1 := plain["skin_concern"].(primitive.Regex)
	p2 := suffixed["skin_concern"].(primitive.Regex)
	re1 := regexp.MustCompile("(?i)" + p1.Pattern)
	re2 := regexp.MustCompile("(?i)" + p2.Pattern)
	for _, label := range []string{"Oily Skin", "oily skin"} {
		if re1.MatchString(label) != re2.MatchString(label) {
			t.Fatalf("patterns %q and %q disagree on %q", p1.Pattern, p2.Pattern, label)
		}
	}
}

func TestSkinTypeFilterRejectsBlankInput(t *testing.T) {
	for _, input := range []string{"", "   ", "skin", " Skin "} {
		if _, err := SkinTypeFilter(input); !errors.Is(err, ErrEmptySkinType) {
			t.Fatalf("input %q: expected ErrEmptySkinType, got %v", input, err)
		}
	}
}

func TestProductTrimNormalizesFields(t *testing.T) {
	p := Product{
		SkinConcern: "  Acne ",
		Name:        " Clearing Gel\n",
		Type:        "\tSerum",
		Ingredients: " niacinamide, zinc ",
		Reviews:     "",
		Price:       " 12.99 ",
	}
	p.trim()

	if p.SkinConcern != "Acne" || p.Name != "Clearing Gel" || p.Type != "Serum" {
		t.Fatalf("unexpected trim result: %+v", p)
	}
	if p.Ingredients != "niacinamide, zinc" || p.Price != "12.99" {
		t.Fatalf("unexpected trim result: %+v", p)
	}
	if p.Reviews != "" {
		t.Fatalf("missing field must stay empty, got %q", p.Reviews)
	}
}
