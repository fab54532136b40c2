package flow

import (
	"errors"
	"strings"
	"testing"

	"github.com/BTreeMap/EvaluBot/internal/models"
)

func TestDefaultDomains(t *testing.T) {
	s := mustDomain(t, DomainStreamer)
	if got := strings.Join(s.Categories, ","); got != "marketing strategies,content production,community management" {
		t.Errorf("unexpected streamer categories %q", got)
	}
	for _, m := range []models.Mode{models.ModeManual, models.ModeAdaptive, models.ModeHybrid} {
		if !s.AllowsMode(m) {
			t.Errorf("streamer domain should allow %s", m)
		}
	}

	teach := mustDomain(t, DomainTeaching)
	if teach.AllowsMode(models.ModeManual) {
		t.Error("teaching domain should not allow manual mode")
	}
	for _, p := range teach.Phrases[models.FeedbackStrengths] {
		if strings.Contains(p, "{subject}") {
			t.Errorf("teaching phrase interpolates the subject: %q", p)
		}
	}

	if _, err := DefaultDomain("podcast"); err == nil {
		t.Error("expected error for unknown domain")
	}
}

func TestLoadDomains_Invalid(t *testing.T) {
	tests := []struct {
		name string
		yaml string
	}{
		{"bad yaml", "streamer: [unclosed"},
		{"no categories", "streamer:\n  modes: [manual]\n"},
		{"bad mode", "streamer:\n  modes: [telepathic]\n  categories: [a]\n"},
		{"empty domain", "streamer:\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := LoadDomains([]byte(tt.yaml)); err == nil {
				t.Error("expected error")
			}
		})
	}

	_, err := LoadDomains([]byte("x:\n  modes: [telepathic]\n  categories: [a]\n"))
	if !errors.Is(err, models.ErrInvalidMode) {
		t.Errorf("expected ErrInvalidMode, got %v", err)
	}
}

func TestDomainValidate_RequiresEveryMessage(t *testing.T) {
	tests := []struct {
		field  string
		mutate func(*Domain)
	}{
		{"acknowledgment", func(d *Domain) { d.Acknowledgment = "" }},
		{"unhelpful_prompt", func(d *Domain) { d.UnhelpfulPrompt = " " }},
		{"assisted_question", func(d *Domain) { d.AssistedQuestion = "" }},
		{"adaptive_instruction", func(d *Domain) { d.AdaptiveInstruction = "\n" }},
	}
	for _, tt := range tests {
		t.Run(tt.field, func(t *testing.T) {
			d := *mustDomain(t, DomainStreamer)
			if err := d.Validate(); err != nil {
				t.Fatalf("default domain invalid: %v", err)
			}
			tt.mutate(&d)
			err := d.Validate()
			if err == nil || !strings.Contains(err.Error(), tt.field) {
				t.Errorf("Validate() = %v, want error naming %s", err, tt.field)
			}
		})
	}
}

func TestRender(t *testing.T) {
	d := mustDomain(t, DomainStreamer)
	got := d.Render("{subject}/{category}/{feedback_type}", "", Position{Category: "c", FeedbackType: models.FeedbackImprovements})
	if got != "the streamer/c/improvements" {
		t.Errorf("Render() = %q", got)
	}
}

func TestModeAssigners(t *testing.T) {
	all := []models.Mode{models.ModeManual, models.ModeAdaptive, models.ModeHybrid}
	if got := FixedMode(models.ModeHybrid).Assign(all); got != models.ModeHybrid {
		t.Errorf("FixedMode = %s", got)
	}
	if got := FixedMode(models.ModeManual).Assign(all[1:]); got != models.ModeAdaptive {
		t.Errorf("FixedMode outside allowed set = %s, want first allowed", got)
	}

	weights := map[models.Mode]int{models.ModeManual: 0, models.ModeAdaptive: 3, models.ModeHybrid: 1}
	tests := []struct {
		pick int
		want models.Mode
	}{
		{0, models.ModeAdaptive},
		{2, models.ModeAdaptive},
		{3, models.ModeHybrid},
	}
	for _, tt := range tests {
		r := NewRandomMode(weights, func(n int) int {
			if n != 4 {
				t.Errorf("expected total weight 4, got %d", n)
			}
			return tt.pick
		})
		if got := r.Assign(all); got != tt.want {
			t.Errorf("RandomMode pick %d = %s, want %s", tt.pick, got, tt.want)
		}
	}

	uniform := NewRandomMode(nil, func(n int) int { return n - 1 })
	if got := uniform.Assign(all); got != models.ModeHybrid {
		t.Errorf("uniform RandomMode = %s", got)
	}
}
