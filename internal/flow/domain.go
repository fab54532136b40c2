package flow

import (
	_ "embed"
	"fmt"
	"strings"
	"sync"

	"github.com/BTreeMap/EvaluBot/internal/models"
	"gopkg.in/yaml.v3"
)

// Domain names for the two feedback entry points.
const (
	DomainStreamer = "streamer"
	DomainTeaching = "teaching"
)

//go:embed domains.yaml
var defaultDomainsYAML []byte

// Domain holds the fixed tables of one feedback domain: its categories,
// phrase banks and canned replies.
type Domain struct {
	Name                string                           `yaml:"-"`
	DefaultSubject      string                           `yaml:"default_subject"`
	Modes               []models.Mode                    `yaml:"modes"`
	Categories          []string                         `yaml:"categories"`
	Intro               string                           `yaml:"intro"`
	ConfirmPrompt       string                           `yaml:"confirm_prompt"`
	Farewell            string                           `yaml:"farewell"`
	Completion          string                           `yaml:"completion"`
	Acknowledgment      string                           `yaml:"acknowledgment"`
	NegativePrompt      string                           `yaml:"negative_prompt"`
	UnhelpfulPrompt     string                           `yaml:"unhelpful_prompt"`
	ErrorMessage        string                           `yaml:"error_message"`
	Clarify             map[models.FeedbackType]string   `yaml:"clarify"`
	Phrases             map[models.FeedbackType][]string `yaml:"phrases"`
	AssistedQuestion    string                           `yaml:"assisted_question"`
	AdaptiveInstruction string                           `yaml:"adaptive_instruction"`
}

// Position is a point in the category × feedback-type grid.
type Position struct {
	Category     string
	FeedbackType models.FeedbackType
}

// Validate checks that the domain tables are complete.
func (d *Domain) Validate() error {
	if len(d.Categories) == 0 {
		return fmt.Errorf("domain %s: no categories", d.Name)
	}
	if len(d.Modes) == 0 {
		return fmt.Errorf("domain %s: no modes", d.Name)
	}
	for _, m := range d.Modes {
		if !models.IsValidMode(m) {
			return fmt.Errorf("domain %s: %w: %q", d.Name, models.ErrInvalidMode, m)
		}
	}
	for _, ft := range models.FeedbackTypes {
		if len(d.Phrases[ft]) == 0 {
			return fmt.Errorf("domain %s: no phrases for %s", d.Name, ft)
		}
		if d.Clarify[ft] == "" {
			return fmt.Errorf("domain %s: no clarifying question for %s", d.Name, ft)
		}
	}
	required := map[string]string{
		"intro":                d.Intro,
		"confirm_prompt":       d.ConfirmPrompt,
		"farewell":             d.Farewell,
		"completion":           d.Completion,
		"acknowledgment":       d.Acknowledgment,
		"error_message":        d.ErrorMessage,
		"negative_prompt":      d.NegativePrompt,
		"unhelpful_prompt":     d.UnhelpfulPrompt,
		"assisted_question":    d.AssistedQuestion,
		"adaptive_instruction": d.AdaptiveInstruction,
	}
	for field, v := range required {
		if strings.TrimSpace(v) == "" {
			return fmt.Errorf("domain %s: %s is empty", d.Name, field)
		}
	}
	return nil
}

// AllowsMode reports whether the domain may run a conversation in mode m.
func (d *Domain) AllowsMode(m models.Mode) bool {
	for _, allowed := range d.Modes {
		if allowed == m {
			return true
		}
	}
	return false
}

// Render substitutes the placeholders of a domain template.
func (d *Domain) Render(tmpl, subject string, pos Position) string {
	if subject == "" {
		subject = d.DefaultSubject
	}
	return strings.NewReplacer(
		"{subject}", subject,
		"{category}", pos.Category,
		"{feedback_type}", string(pos.FeedbackType),
	).Replace(tmpl)
}

// LoadDomains parses a YAML document of domain tables keyed by domain name.
func LoadDomains(data []byte) (map[string]*Domain, error) {
	raw := make(map[string]*Domain)
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("failed to parse domain tables: %w", err)
	}
	for name, d := range raw {
		if d == nil {
			return nil, fmt.Errorf("domain %s is empty", name)
		}
		d.Name = name
		if err := d.Validate(); err != nil {
			return nil, err
		}
	}
	return raw, nil
}

var (
	defaultDomainsOnce sync.Once
	defaultDomains     map[string]*Domain
	defaultDomainsErr  error
)

// DefaultDomain returns one of the built-in domains.
func DefaultDomain(name string) (*Domain, error) {
	defaultDomainsOnce.Do(func() {
		defaultDomains, defaultDomainsErr = LoadDomains(defaultDomainsYAML)
	})
	if defaultDomainsErr != nil {
		return nil, defaultDomainsErr
	}
	d, ok := defaultDomains[name]
	if !ok {
		return nil, fmt.Errorf("unknown domain %q", name)
	}
	return d, nil
}
