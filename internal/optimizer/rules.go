package optimizer

import (
	"errors"
	"fmt"
	"slices"

	"github.com/anmar534/desktop-management-system/internal/config"
)

// ErrRuleNotFound is returned for an unknown rule id.
var ErrRuleNotFound = errors.New("optimizer: rule not found")

// Rule ids.
const (
	RuleQueryCaching         = "query-caching"
	RuleMemoryCleanup        = "memory-cleanup"
	RuleComponentMemoization = "component-memoization"
	RuleMetricsPruning       = "metrics-pruning"
)

// Rule is a toggleable optimization. Lower priority values run first.
type Rule struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description"`
	Category    string `json:"category"`
	Enabled     bool   `json:"enabled"`
	Priority    int    `json:"priority"`
}

func defaultRules(cfg config.Optimization) []Rule {
	return []Rule{
		{
			ID:          RuleQueryCaching,
			Name:        "Query caching",
			Description: "Serve repeated queries from the cache until their TTL expires",
			Category:    "performance",
			Enabled:     cfg.CacheEnabled,
			Priority:    1,
		},
		{
			ID:          RuleMemoryCleanup,
			Name:        "Memory cleanup",
			Description: "Evict expired cache entries and prune old samples on every monitoring tick",
			Category:    "memory",
			Enabled:     true,
			Priority:    2,
		},
		{
			ID:          RuleComponentMemoization,
			Name:        "Component memoization",
			Description: "Skip component updates when dependency fields are unchanged",
			Category:    "rendering",
			Enabled:     true,
			Priority:    3,
		},
		{
			ID:          RuleMetricsPruning,
			Name:        "Metrics pruning",
			Description: "Prune samples older than the retention window even when memory cleanup is off",
			Category:    "memory",
			Enabled:     true,
			Priority:    4,
		},
	}
}

// Rules returns the rules ordered by priority.
func (e *Engine) Rules() []Rule {
	e.mu.RLock()
	out := slices.Clone(e.rules)
	e.mu.RUnlock()
	slices.SortStableFunc(out, func(a, b Rule) int { return a.Priority - b.Priority })
	return out
}

// RuleEnabled reports whether the rule with id is enabled. Unknown ids are disabled.
func (e *Engine) RuleEnabled(id string) bool {
	e.mu.RLock()
	defer e.mu.RUnlock()
	for _, r := range e.rules {
		if r.ID == id {
			return r.Enabled
		}
	}
	return false
}

// SetRuleEnabled toggles a rule. Toggling query-caching also flips
// CacheEnabled in the configuration.
func (e *Engine) SetRuleEnabled(id string, enabled bool) error {
	e.mu.Lock()
	if !e.setRuleLocked(id, enabled) {
		e.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrRuleNotFound, id)
	}
	if id == RuleQueryCaching {
		e.cfg.CacheEnabled = enabled
	}
	e.mu.Unlock()

	e.log.Info("Optimization rule updated", "rule", id, "enabled", enabled)
	return nil
}

func (e *Engine) setRuleLocked(id string, enabled bool) bool {
	for i := range e.rules {
		if e.rules[i].ID == id {
			e.rules[i].Enabled = enabled
			return true
		}
	}
	return false
}
