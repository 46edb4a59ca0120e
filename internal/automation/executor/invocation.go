package executor

import (
	"strings"
	"time"

	"fieldservice_backend/internal/automation/render"
)

// str returns the rendered config string for key, falling back to the first non-empty
// context path.
func (inv *invocation) str(key string, fallbackPaths ...string) string {
	if v, ok := inv.config[key]; ok {
		if s := strings.TrimSpace(render.Stringify(v)); s != "" {
			return s
		}
	}
	for _, p := range fallbackPaths {
		if s := render.Text(inv.run.ctx, p); s != "" {
			return s
		}
	}
	return ""
}

func (inv *invocation) number(key string) (float64, bool) {
	v, ok := inv.config[key]
	if !ok {
		return 0, false
	}
	return render.Number(v)
}

func (inv *invocation) flag(key string) bool {
	b, _ := render.Bool(inv.config[key])
	return b
}

func (inv *invocation) locationID() string {
	return inv.run.event.LocationID
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}

func minutesDuration(minutes float64) time.Duration {
	return time.Duration(minutes * float64(time.Minute))
}
