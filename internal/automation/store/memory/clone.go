package memory

import "fieldservice_backend/internal/automation/domain"

// Stored values are copied on the way in and out so callers cannot mutate them.

func cloneRule(r domain.Rule) domain.Rule {
	r.Conditions = append([]domain.Condition(nil), r.Conditions...)
	actions := make([]domain.Action, len(r.Actions))
	for i, a := range r.Actions {
		a.Config = cloneMap(a.Config)
		actions[i] = a
	}
	r.Actions = actions
	r.Trigger.Keywords = append([]string(nil), r.Trigger.Keywords...)
	return r
}

func cloneItem(item domain.QueueItem) domain.QueueItem {
	item.ActionLog = append([]domain.RunLog(nil), item.ActionLog...)
	item.Event.Data = cloneMap(item.Event.Data)
	return item
}

func cloneMap(m map[string]any) map[string]any {
	if m == nil {
		return nil
	}
	out := make(map[string]any, len(m))
	for k, v := range m {
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
