package flow

import (
	"testing"

	"github.com/BTreeMap/EvaluBot/internal/models"
)

func TestIsNegative(t *testing.T) {
	c := NewClassifier()
	tests := []struct {
		in   string
		want bool
	}{
		{"The stream was TERRIBLE", true},
		{"  useless overlays ", true},
		{"Disappointing schedule", true},
		{"I enjoy the music because it is calm", false},
		// substring match over-matches short keywords
		{"I like the badge rewards", true},
	}
	for _, tt := range tests {
		if got := c.IsNegative(tt.in); got != tt.want {
			t.Errorf("IsNegative(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
}

func TestIsUnhelpful(t *testing.T) {
	c := NewClassifier()
	tests := []struct {
		in   string
		want bool
	}{
		{"Okay", true},
		{"it's fine I guess", true},
		{"meh", true},
		{"They should post clips on weekdays", false},
		{"Goodness, the editing rocks", true},
	}
	for _, tt := range tests {
		if got := c.IsUnhelpful(tt.in); got != tt.want {
			t.Errorf("IsUnhelpful(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
}

func TestIsConstructive_ShortResponses(t *testing.T) {
	c := NewClassifier()
	for _, ft := range models.FeedbackTypes {
		var seen SeenResponses
		for _, in := range []string{"", "   ", "why", " try  "} {
			if c.IsConstructive(in, ft, &seen) {
				t.Errorf("IsConstructive(%q, %s) = true for short response", in, ft)
			}
		}
	}
}

func TestIsConstructive_StrengthsNeedJustification(t *testing.T) {
	c := NewClassifier()
	tests := []struct {
		in   string
		want bool
	}{
		{"The editing is sharp and snappy", false},
		{"The editing is sharp because cuts are quick", true},
		{"Chat grows due to the weekly giveaways", true},
		{"As a result of the schedule I never miss a stream", true},
		{"They should keep the editing style", false},
	}
	for _, tt := range tests {
		var seen SeenResponses
		if got := c.IsConstructive(tt.in, models.FeedbackStrengths, &seen); got != tt.want {
			t.Errorf("IsConstructive(%q, strengths) = %v, want %v", tt.in, got, tt.want)
		}
	}
}

func TestIsConstructive_ImprovementsNeedAction(t *testing.T) {
	c := NewClassifier()
	tests := []struct {
		in   string
		want bool
	}{
		{"The audio is quiet", false},
		{"They should raise the microphone gain", true},
		{"It could use a schedule", true},
		{"They need to answer chat more", true},
		{"Try to stream at the same hour", true},
		{"I like it because it is loud", false},
	}
	for _, tt := range tests {
		var seen SeenResponses
		if got := c.IsConstructive(tt.in, models.FeedbackImprovements, &seen); got != tt.want {
			t.Errorf("IsConstructive(%q, improvements) = %v, want %v", tt.in, got, tt.want)
		}
	}
}

func TestIsConstructive_RepetitionAndSideEffect(t *testing.T) {
	c := NewClassifier()
	var seen SeenResponses
	in := "The overlays are clean because they use few colors"

	if !c.IsConstructive(in, models.FeedbackStrengths, &seen) {
		t.Fatal("first submission should be constructive")
	}
	if c.IsConstructive("  THE OVERLAYS are clean because they use few colors ", models.FeedbackStrengths, &seen) {
		t.Error("second identical normalized submission should not be constructive")
	}
	if len(seen) != 2 {
		t.Errorf("expected every evaluated response to be recorded, got %d", len(seen))
	}

	// failing responses are recorded too
	c.IsConstructive("nope", models.FeedbackStrengths, &seen)
	if !seen.Contains("nope") {
		t.Error("expected failing response to be recorded")
	}
}

func TestClassify_Order(t *testing.T) {
	c := NewClassifier()
	var seen SeenResponses

	got := c.Classify("This is bad and fine", models.FeedbackStrengths, &seen)
	if !got.Negative || got.Unhelpful || got.Constructive {
		t.Errorf("expected negative only, got %+v", got)
	}
	got = c.Classify("It was fine", models.FeedbackStrengths, &seen)
	if !got.Unhelpful || got.Negative {
		t.Errorf("expected unhelpful only, got %+v", got)
	}
	if len(seen) != 0 {
		t.Errorf("negative and unhelpful responses must not touch the seen set, got %v", seen)
	}

	got = c.Classify("The pacing works because cuts are short", models.FeedbackStrengths, &seen)
	if !got.Constructive {
		t.Errorf("expected constructive, got %+v", got)
	}
}
