package optimizer

import (
	"encoding/json"
	"fmt"
	"maps"
	"time"

	"github.com/anmar534/desktop-management-system/internal/metrics"
)

// ComponentTTL is how long a component props snapshot stays live.
const ComponentTTL = 30 * time.Second

const componentKeyPrefix = "component:"

// ComponentResult is the outcome of OptimizeComponent.
type ComponentResult struct {
	ShouldUpdate   bool           `json:"should_update"`
	EffectiveProps map[string]any `json:"effective_props"`
}

// OptimizeComponent decides whether a component must re-render. The cache key
// encodes name and the values of deps taken from props, so a live hit means
// every dependency is unchanged; other props are ignored. On a hit the stored
// props are returned with ShouldUpdate false.
func (e *Engine) OptimizeComponent(name string, props map[string]any, deps []string) ComponentResult {
	start := e.now()
	defer func() {
		e.recorder.Record(metrics.OpComponentRender, name, e.now().Sub(start), false)
	}()

	if !e.RuleEnabled(RuleComponentMemoization) {
		return ComponentResult{ShouldUpdate: true, EffectiveProps: props}
	}

	key := componentKey(name, props, deps)
	if v, ok := e.cache.Get(key); ok {
		if stored, ok := v.(map[string]any); ok {
			return ComponentResult{ShouldUpdate: false, EffectiveProps: maps.Clone(stored)}
		}
	}

	e.cache.Set(key, maps.Clone(props), ComponentTTL)
	metrics.CacheEntries.Set(float64(e.cache.Len()))
	return ComponentResult{ShouldUpdate: true, EffectiveProps: props}
}

func componentKey(name string, props map[string]any, deps []string) string {
	values := make([]any, len(deps))
	for i, d := range deps {
		values[i] = props[d]
	}
	encoded, err := json.Marshal(values)
	if err != nil {
		// Values json cannot encode (funcs, channels) still get a stable key.
		return fmt.Sprintf("%s%s:%v", componentKeyPrefix, name, values)
	}
	return componentKeyPrefix + name + ":" + string(encoded)
}
