package feedback

import (
	"fmt"
	"os"
	"sort"

	"gopkg.in/yaml.v3"
)

// Tier maps a minimum average score to a label.
type Tier struct {
	Min   int    `yaml:"min"`
	Label string `yaml:"label"`
}

// Policy holds the aggregation constants. The strength and improvement
// summaries are a keyword heuristic: each vocabulary label is reported when it
// appears (case-insensitively) anywhere in the per-turn text, and the fallback
// list is used when nothing matches.
type Policy struct {
	Tiers                 []Tier   `yaml:"tiers"`
	LowestTier            string   `yaml:"lowest_tier"`
	StrengthVocabulary    []string `yaml:"strength_vocabulary"`
	ImprovementVocabulary []string `yaml:"improvement_vocabulary"`
	FallbackStrengths     []string `yaml:"fallback_strengths"`
	FallbackImprovements  []string `yaml:"fallback_improvements"`
}

// DefaultPolicy returns the built-in thresholds and vocabulary.
func DefaultPolicy() Policy {
	return Policy{
		Tiers: []Tier{
			{Min: 85, Label: "Excellent"},
			{Min: 70, Label: "Good"},
			{Min: 55, Label: "Needs Improvement"},
		},
		LowestTier: "Requires Practice",
		StrengthVocabulary: []string{
			"Communication",
			"Clarity",
			"Problem solving",
			"Technical knowledge",
			"Leadership",
			"Teamwork",
			"Structure",
			"Confidence",
			"Ownership",
			"Examples",
		},
		ImprovementVocabulary: []string{
			"Specific examples",
			"Conciseness",
			"Structure",
			"Technical depth",
			"Quantify",
			"Confidence",
			"Clarity",
			"STAR",
			"Detail",
		},
		FallbackStrengths: []string{
			"Completed the interview",
			"Engaged with every question",
		},
		FallbackImprovements: []string{
			"Give more specific examples",
			"Structure answers with a clear beginning, middle and end",
		},
	}
}

// Validate checks that tiers are usable.
func (p Policy) Validate() error {
	if p.LowestTier == "" {
		return fmt.Errorf("lowest tier label is required")
	}
	for i, t := range p.Tiers {
		if t.Label == "" {
			return fmt.Errorf("tier %d has no label", i)
		}
		if t.Min < 0 || t.Min > 100 {
			return fmt.Errorf("tier %q threshold %d out of range [0,100]", t.Label, t.Min)
		}
	}
	return nil
}

// LoadPolicy reads YAML overrides from path on top of DefaultPolicy.
// Fields absent from the file keep their defaults.
func LoadPolicy(path string) (Policy, error) {
	policy := DefaultPolicy()
	if path == "" {
		return policy, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return Policy{}, fmt.Errorf("read feedback policy: %w", err)
	}

	var override Policy
	if err := yaml.Unmarshal(data, &override); err != nil {
		return Policy{}, fmt.Errorf("parse feedback policy: %w", err)
	}

	if len(override.Tiers) > 0 {
		policy.Tiers = override.Tiers
	}
	if override.LowestTier != "" {
		policy.LowestTier = override.LowestTier
	}
	if len(override.StrengthVocabulary) > 0 {
		policy.StrengthVocabulary = override.StrengthVocabulary
	}
	if len(override.ImprovementVocabulary) > 0 {
		policy.ImprovementVocabulary = override.ImprovementVocabulary
	}
	if len(override.FallbackStrengths) > 0 {
		policy.FallbackStrengths = override.FallbackStrengths
	}
	if len(override.FallbackImprovements) > 0 {
		policy.FallbackImprovements = override.FallbackImprovements
	}

	if err := policy.Validate(); err != nil {
		return Policy{}, err
	}
	return policy, nil
}

// TierFor returns the label for an average score.
func (p Policy) TierFor(average int) string {
	tiers := append([]Tier(nil), p.Tiers...)
	sort.SliceStable(tiers, func(i, j int) bool { return tiers[i].Min > tiers[j].Min })
	for _, t := range tiers {
		if average >= t.Min {
			return t.Label
		}
	}
	return p.LowestTier
}
