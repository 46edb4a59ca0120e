package executor

import (
	"context"
	"fmt"
	"strings"

	"fieldservice_backend/internal/automation/domain"
	"fieldservice_backend/internal/automation/render"
)

func (e *Executor) conditional(ctx context.Context, inv *invocation) (string, error) {
	expr, _ := inv.config["expression"].(string)
	if strings.TrimSpace(expr) == "" {
		return "", fmt.Errorf("expression is empty")
	}
	ok, err := EvalExpression(expr, inv.run.ctx)
	if err != nil {
		return "", fmt.Errorf("expression %q: %w", expr, err)
	}
	if !ok {
		return skipped("condition false: " + expr)
	}

	nested, err := domain.NestedAction(inv.config["action"])
	if err != nil {
		return "", err
	}
	if failure := e.dispatch(ctx, inv.run, nested, inv.index, inv.path+".action"); failure != nil {
		return "", fmt.Errorf("nested %s failed: %w", nested.Type, failure.Err)
	}
	return "condition true, ran " + string(nested.Type), nil
}

func (e *Executor) keywordRouter(ctx context.Context, inv *invocation) (string, error) {
	routes, err := domain.KeywordRoutes(inv.config)
	if err != nil {
		return "", err
	}
	named, err := domain.NamedActions(inv.config["actions"])
	if err != nil {
		return "", err
	}

	body := render.Text(inv.run.ctx, "message.body")
	target := ""
	matched := ""
	for _, route := range routes {
		if domain.KeywordMatches(body, route.Keyword) {
			target = route.Action
			matched = route.Keyword
			break
		}
	}
	if target == "" {
		target, _ = inv.config["defaultAction"].(string)
	}
	if target == "" {
		return skipped("no keyword matched")
	}

	nested, ok := named[target]
	if !ok {
		return "", fmt.Errorf("unknown routed action %q", target)
	}
	inv.run.ctx.Set("route.keyword", matched)
	inv.run.ctx.Set("route.action", target)

	if failure := e.dispatch(ctx, inv.run, nested, inv.index, inv.path+".routes."+target); failure != nil {
		return "", fmt.Errorf("routed %s failed: %w", target, failure.Err)
	}
	if matched == "" {
		return "default route " + target, nil
	}
	return fmt.Sprintf("keyword %q routed to %s", matched, target), nil
}
