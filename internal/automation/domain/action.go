package domain

import (
	"fmt"
	"strings"
	"unicode"
)

// ActionType is the closed set of side effects a rule can perform.
type ActionType string

const (
	ActionSendSMS               ActionType = "send-sms"
	ActionSendEmail             ActionType = "send-email"
	ActionCreateTask            ActionType = "create-task"
	ActionMoveToStage           ActionType = "move-to-stage"
	ActionPushNotification      ActionType = "push-notification"
	ActionAssignUser            ActionType = "assign-user"
	ActionUpdateRealtimeChannel ActionType = "update-realtime-channel"
	ActionTransitionPipeline    ActionType = "transition-pipeline"
	ActionConditional           ActionType = "conditional-action"
	ActionKeywordRouter         ActionType = "keyword-router"
	ActionCheckWeather          ActionType = "check-weather"
	ActionGenerateContract      ActionType = "generate-contract"
	ActionEnableTracking        ActionType = "enable-tracking"
	ActionSendDailyBrief        ActionType = "send-daily-brief"
)

// AllActionTypes lists every action type. The executor refuses to start unless
// each one has a handler.
func AllActionTypes() []ActionType {
	return []ActionType{
		ActionSendSMS,
		ActionSendEmail,
		ActionCreateTask,
		ActionMoveToStage,
		ActionPushNotification,
		ActionAssignUser,
		ActionUpdateRealtimeChannel,
		ActionTransitionPipeline,
		ActionConditional,
		ActionKeywordRouter,
		ActionCheckWeather,
		ActionGenerateContract,
		ActionEnableTracking,
		ActionSendDailyBrief,
	}
}

// ParseActionType rejects unknown action tags.
func ParseActionType(raw string) (ActionType, error) {
	candidate := ActionType(strings.TrimSpace(raw))
	for _, t := range AllActionTypes() {
		if t == candidate {
			return t, nil
		}
	}
	return "", fmt.Errorf("unknown action type %q", raw)
}

// IsMeta reports whether the action dispatches nested actions.
func (t ActionType) IsMeta() bool {
	return t == ActionConditional || t == ActionKeywordRouter
}

// Action is one step of a rule. Config string values may contain {{path}} placeholders.
type Action struct {
	Type     ActionType     `json:"type" bson:"type" yaml:"type"`
	Config   map[string]any `json:"config,omitempty" bson:"config,omitempty" yaml:"config,omitempty"`
	Critical bool           `json:"critical,omitempty" bson:"critical,omitempty" yaml:"critical,omitempty"`
}

// ValidateActions checks action types and the nested definitions of meta-actions.
func ValidateActions(actions []Action) error {
	for i, a := range actions {
		if err := validateAction(a, 0); err != nil {
			return fmt.Errorf("action %d: %w", i, err)
		}
	}
	return nil
}

const maxNesting = 3

func validateAction(a Action, depth int) error {
	if depth > maxNesting {
		return fmt.Errorf("meta-actions nested deeper than %d", maxNesting)
	}
	if _, err := ParseActionType(string(a.Type)); err != nil {
		return err
	}

	switch a.Type {
	case ActionConditional:
		expr, _ := a.Config["expression"].(string)
		if strings.TrimSpace(expr) == "" {
			return fmt.Errorf("conditional-action requires expression")
		}
		nested, err := NestedAction(a.Config["action"])
		if err != nil {
			return fmt.Errorf("conditional-action: %w", err)
		}
		return validateAction(nested, depth+1)
	case ActionKeywordRouter:
		routes, err := KeywordRoutes(a.Config)
		if err != nil {
			return err
		}
		named, err := NamedActions(a.Config["actions"])
		if err != nil {
			return fmt.Errorf("keyword-router: %w", err)
		}
		for _, r := range routes {
			target, ok := named[r.Action]
			if !ok {
				return fmt.Errorf("keyword-router: keyword %q references unknown action %q", r.Keyword, r.Action)
			}
			if err := validateAction(target, depth+1); err != nil {
				return err
			}
		}
		if def, _ := a.Config["defaultAction"].(string); def != "" {
			if _, ok := named[def]; !ok {
				return fmt.Errorf("keyword-router: unknown defaultAction %q", def)
			}
		}
	}
	return nil
}

// KeywordRoute maps one inbound keyword to a named action.
type KeywordRoute struct {
	Keyword string
	Action  string
}

// KeywordRoutes reads config.keywords. A list keeps its order; a map is ordered by key
// so evaluation stays deterministic.
func KeywordRoutes(config map[string]any) ([]KeywordRoute, error) {
	raw, ok := config["keywords"]
	if !ok {
		return nil, fmt.Errorf("keyword-router requires keywords")
	}
	var routes []KeywordRoute
	switch typed := raw.(type) {
	case []any:
		for _, item := range typed {
			entry, ok := asMap(item)
			if !ok {
				return nil, fmt.Errorf("keyword-router: keywords entries must be objects")
			}
			kw, _ := entry["keyword"].(string)
			act, _ := entry["action"].(string)
			if strings.TrimSpace(kw) == "" || act == "" {
				return nil, fmt.Errorf("keyword-router: keyword and action are required")
			}
			routes = append(routes, KeywordRoute{Keyword: kw, Action: act})
		}
	default:
		entries, ok := asMap(raw)
		if !ok {
			return nil, fmt.Errorf("keyword-router: keywords must be a list or map")
		}
		for _, kw := range sortedKeys(entries) {
			act, _ := entries[kw].(string)
			if act == "" {
				return nil, fmt.Errorf("keyword-router: keyword %q has no action", kw)
			}
			routes = append(routes, KeywordRoute{Keyword: kw, Action: act})
		}
	}
	return routes, nil
}

// NestedAction decodes an inline action definition from a config value.
func NestedAction(raw any) (Action, error) {
	m, ok := asMap(raw)
	if !ok {
		return Action{}, fmt.Errorf("nested action must be an object")
	}
	typ, _ := m["type"].(string)
	t, err := ParseActionType(typ)
	if err != nil {
		return Action{}, err
	}
	cfg, _ := asMap(m["config"])
	critical, _ := m["critical"].(bool)
	return Action{Type: t, Config: cfg, Critical: critical}, nil
}

// NamedActions decodes config.actions (name -> action definition).
func NamedActions(raw any) (map[string]Action, error) {
	m, ok := asMap(raw)
	if !ok {
		return nil, fmt.Errorf("actions must be an object of named actions")
	}
	out := make(map[string]Action, len(m))
	for name, def := range m {
		a, err := NestedAction(def)
		if err != nil {
			return nil, fmt.Errorf("action %q: %w", name, err)
		}
		out[name] = a
	}
	return out, nil
}

// asMap accepts the map shapes produced by JSON, YAML and BSON decoders.
func asMap(v any) (map[string]any, bool) {
	switch typed := v.(type) {
	case map[string]any:
		return typed, true
	case nil:
		return nil, false
	}
	m, ok := NormalizeValue(v).(map[string]any)
	return m, ok
}

// KeywordMatches reports whether an inbound message contains keyword, ignoring case.
// Single-word keywords must match a whole word so "yes" does not fire on "yesterday".
func KeywordMatches(text, keyword string) bool {
	kw := strings.ToLower(strings.TrimSpace(keyword))
	if kw == "" {
		return false
	}
	body := strings.ToLower(text)
	if strings.ContainsAny(kw, " \t") {
		return strings.Contains(strings.Join(strings.Fields(body), " "), strings.Join(strings.Fields(kw), " "))
	}
	words := strings.FieldsFunc(body, func(r rune) bool {
		return !(r == '\'' || r == '-' || unicode.IsLetter(r) || unicode.IsDigit(r))
	})
	for _, w := range words {
		if w == kw {
			return true
		}
	}
	return false
}
