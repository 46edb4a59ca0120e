// Package seed creates the default automation rules for a tenant from embedded YAML.
// Seeding is idempotent on (locationId, seed key).
package seed

import (
	"context"
	_ "embed"
	"fmt"
	"regexp"
	"strings"

	"fieldservice_backend/internal/automation/domain"
	"fieldservice_backend/platform/apperr"
	"fieldservice_backend/platform/logger"

	"github.com/google/uuid"
	"gopkg.in/yaml.v3"
)

//go:embed rules/defaults.yaml
var defaultRules []byte

// Store is the subset of the rule store the seeder needs.
type Store interface {
	CreateRule(ctx context.Context, rule domain.Rule) (domain.Rule, error)
	FindRuleBySeedKey(ctx context.Context, locationID, seedKey string) (*domain.Rule, error)
}

// Definition is one seeded rule as written in YAML.
type Definition struct {
	Key        string             `yaml:"key"`
	Name       string             `yaml:"name"`
	Priority   int                `yaml:"priority"`
	Inactive   bool               `yaml:"inactive"`
	Requires   []string           `yaml:"requires"`
	Trigger    domain.Trigger     `yaml:"trigger"`
	Conditions []domain.Condition `yaml:"conditions"`
	Actions    []domain.Action    `yaml:"actions"`
}

type document struct {
	Rules []Definition `yaml:"rules"`
}

// Result reports what a seeding run did, by seed key.
type Result struct {
	Created  []string `json:"created"`
	Existing []string `json:"existing"`
	Skipped  []string `json:"skipped"`
}

// Seeder creates default rules per tenant.
type Seeder struct {
	store Store
	defs  []Definition
	log   *logger.Logger
}

// New builds a seeder over the embedded default rules.
func New(store Store, log *logger.Logger) (*Seeder, error) {
	return NewFromYAML(store, defaultRules, log)
}

// NewFromYAML builds a seeder over custom definitions.
func NewFromYAML(store Store, data []byte, log *logger.Logger) (*Seeder, error) {
	var doc document
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("decode seed rules: %w", err)
	}
	seen := make(map[string]bool, len(doc.Rules))
	for i, def := range doc.Rules {
		if strings.TrimSpace(def.Key) == "" {
			return nil, fmt.Errorf("seed rule %d: key is required", i)
		}
		if seen[def.Key] {
			return nil, fmt.Errorf("seed rule %q defined twice", def.Key)
		}
		seen[def.Key] = true
	}
	return &Seeder{store: store, defs: doc.Rules, log: log}, nil
}

// Definitions returns the loaded definitions.
func (s *Seeder) Definitions() []Definition {
	return s.defs
}

// SeedLocation creates every default rule the tenant does not have yet.
func (s *Seeder) SeedLocation(ctx context.Context, locationID string, params map[string]string) (Result, error) {
	var res Result
	if strings.TrimSpace(locationID) == "" {
		return res, apperr.Validation("locationId is required")
	}
	log := s.log.WithLocation(locationID)

	for _, def := range s.defs {
		if missing := missingParams(def.Requires, params); len(missing) > 0 {
			log.Info("seed rule skipped", "seedKey", def.Key, "missing", strings.Join(missing, ","))
			res.Skipped = append(res.Skipped, def.Key)
			continue
		}

		existing, err := s.store.FindRuleBySeedKey(ctx, locationID, def.Key)
		if err != nil && !apperr.Is(err, apperr.KindNotFound) {
			return res, fmt.Errorf("look up seed %s: %w", def.Key, err)
		}
		if existing != nil {
			res.Existing = append(res.Existing, def.Key)
			continue
		}

		rule, err := def.build(locationID, params)
		if err != nil {
			return res, fmt.Errorf("seed %s: %w", def.Key, err)
		}
		if _, err := s.store.CreateRule(ctx, rule); err != nil {
			// Another seeder won the race.
			if apperr.Is(err, apperr.KindConflict) {
				res.Existing = append(res.Existing, def.Key)
				continue
			}
			return res, fmt.Errorf("create seed %s: %w", def.Key, err)
		}
		log.Info("seed rule created", "seedKey", def.Key, "ruleId", rule.ID.String())
		res.Created = append(res.Created, def.Key)
	}
	return res, nil
}

func (d Definition) build(locationID string, params map[string]string) (domain.Rule, error) {
	key := d.Key
	rule := domain.Rule{
		ID:         uuid.New(),
		LocationID: locationID,
		Name:       d.Name,
		SeedKey:    &key,
		Trigger:    d.Trigger,
		Conditions: make([]domain.Condition, len(d.Conditions)),
		Actions:    make([]domain.Action, len(d.Actions)),
		Priority:   d.Priority,
		IsActive:   !d.Inactive,
	}
	rule.Trigger.StageID = expand(rule.Trigger.StageID, params)
	for i, c := range d.Conditions {
		c.Value = expandValue(c.Value, params)
		rule.Conditions[i] = c
	}
	for i, a := range d.Actions {
		cfg, _ := expandValue(a.Config, params).(map[string]any)
		rule.Actions[i] = domain.Action{Type: a.Type, Config: cfg, Critical: a.Critical}
	}
	if err := rule.Validate(); err != nil {
		return domain.Rule{}, err
	}
	return rule, nil
}

var placeholder = regexp.MustCompile(`\$\{(\w+)\}`)

func expand(s string, params map[string]string) string {
	return placeholder.ReplaceAllStringFunc(s, func(m string) string {
		return params[placeholder.FindStringSubmatch(m)[1]]
	})
}

// expandValue copies v, replacing placeholders in every string.
func expandValue(v any, params map[string]string) any {
	switch typed := v.(type) {
	case string:
		return expand(typed, params)
	case map[string]any:
		out := make(map[string]any, len(typed))
		for k, val := range typed {
			out[k] = expandValue(val, params)
		}
		return out
	case []any:
		out := make([]any, len(typed))
		for i, val := range typed {
			out[i] = expandValue(val, params)
		}
		return out
	}
	return v
}

func missingParams(required []string, params map[string]string) []string {
	var missing []string
	for _, name := range required {
		if strings.TrimSpace(params[name]) == "" {
			missing = append(missing, name)
		}
	}
	return missing
}
