// Package render builds the evaluation context for an automation event and resolves
// {{path}} placeholders against it.
package render

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"fieldservice_backend/internal/automation/domain"
)

// Context is the merged view of an event used by conditions and templates.
type Context map[string]any

// BuildContext merges the event payload with event metadata. Payload keys win over
// nothing; metadata lives under "event", "locationId" and "entityId".
func BuildContext(evt domain.Event) Context {
	ctx := make(Context, len(evt.Data)+3)
	for k, v := range domain.NormalizeMap(cloneMap(evt.Data)) {
		ctx[k] = v
	}
	ctx["event"] = map[string]any{
		"id":         evt.ID.String(),
		"type":       string(evt.Type),
		"entityType": evt.EntityType,
		"entityId":   evt.EntityID,
		"occurredAt": evt.OccurredAt.UTC().Format(time.RFC3339),
	}
	ctx["locationId"] = evt.LocationID
	ctx["entityId"] = evt.EntityID
	return ctx
}

// Lookup resolves a dot path. Map keys match exactly first, then case-insensitively;
// numeric segments index into lists.
func (c Context) Lookup(path string) (any, bool) {
	path = strings.TrimSpace(path)
	if path == "" {
		return nil, false
	}
	var current any = map[string]any(c)
	for _, segment := range strings.Split(path, ".") {
		next, ok := step(current, segment)
		if !ok {
			return nil, false
		}
		current = next
	}
	return current, true
}

// Set stores v at path, creating intermediate objects.
func (c Context) Set(path string, v any) {
	segments := strings.Split(path, ".")
	current := map[string]any(c)
	for _, segment := range segments[:len(segments)-1] {
		child, ok := current[segment].(map[string]any)
		if !ok {
			child = map[string]any{}
			current[segment] = child
		}
		current = child
	}
	current[segments[len(segments)-1]] = v
}

// Merge copies values into the context under prefix.
func (c Context) Merge(prefix string, values map[string]any) {
	for k, v := range values {
		if prefix == "" {
			c[k] = v
			continue
		}
		c.Set(prefix+"."+k, v)
	}
}

func step(current any, segment string) (any, bool) {
	switch typed := current.(type) {
	case map[string]any:
		if v, ok := typed[segment]; ok {
			return v, true
		}
		// Case-insensitive fallback; the lexicographically smallest matching key wins.
		best, found := "", false
		for k := range typed {
			if strings.EqualFold(k, segment) && (!found || k < best) {
				best, found = k, true
			}
		}
		if found {
			return typed[best], true
		}
	case []any:
		idx, err := strconv.Atoi(segment)
		if err != nil || idx < 0 || idx >= len(typed) {
			return nil, false
		}
		return typed[idx], true
	}
	return nil, false
}

var placeholderPattern = regexp.MustCompile(`{{\s*([A-Za-z_][A-Za-z0-9_]*(?:\.[A-Za-z0-9_]+)*)\s*}}`)

// String substitutes every {{path}} placeholder in one pass. Substituted values are
// not scanned again; unresolved paths render as the empty string.
func String(tpl string, ctx Context) string {
	if !strings.Contains(tpl, "{{") {
		return tpl
	}
	return placeholderPattern.ReplaceAllStringFunc(tpl, func(match string) string {
		sub := placeholderPattern.FindStringSubmatch(match)
		if len(sub) < 2 {
			return ""
		}
		v, ok := ctx.Lookup(sub[1])
		if !ok {
			return ""
		}
		return Stringify(v)
	})
}

// Config renders every string inside a config bag, recursing into lists and objects.
// Keys listed in skip are copied verbatim.
func Config(cfg map[string]any, ctx Context, skip ...string) map[string]any {
	out := make(map[string]any, len(cfg))
	for k, v := range cfg {
		if contains(skip, k) {
			out[k] = v
			continue
		}
		out[k] = value(v, ctx)
	}
	return out
}

func value(v any, ctx Context) any {
	switch typed := v.(type) {
	case string:
		return String(typed, ctx)
	case map[string]any:
		return Config(typed, ctx)
	case []any:
		out := make([]any, len(typed))
		for i, item := range typed {
			out[i] = value(item, ctx)
		}
		return out
	}
	return v
}

// Stringify formats a context value for message text.
func Stringify(v any) string {
	switch typed := v.(type) {
	case nil:
		return ""
	case string:
		return typed
	case float64:
		return strconv.FormatFloat(typed, 'f', -1, 64)
	case float32:
		return strconv.FormatFloat(float64(typed), 'f', -1, 32)
	case time.Time:
		return typed.UTC().Format(time.RFC3339)
	case bool:
		return strconv.FormatBool(typed)
	case fmt.Stringer:
		return typed.String()
	}
	return fmt.Sprint(v)
}

func cloneMap(in map[string]any) map[string]any {
	out := make(map[string]any, len(in))
	for k, v := range in {
		out[k] = cloneValue(v)
	}
	return out
}

func cloneValue(v any) any {
	switch typed := v.(type) {
	case map[string]any:
		return cloneMap(typed)
	case []any:
		out := make([]any, len(typed))
		for i, item := range typed {
			out[i] = cloneValue(item)
		}
		return out
	}
	return v
}

func contains(list []string, v string) bool {
	for _, item := range list {
		if item == v {
			return true
		}
	}
	return false
}
