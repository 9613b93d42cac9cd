package extract

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"
)

// Registry resolves rule sets by target identifier. Rule documents live as
// YAML files named <target>.yaml under a directory; parsed sets are cached
// since rule sets are immutable for the life of an invocation.
type Registry struct {
	dir string

	mu    sync.RWMutex
	cache map[string]*RuleSet
}

// NewRegistry creates a Registry reading from dir.
func NewRegistry(dir string) *Registry {
	return &Registry{
		dir:   dir,
		cache: make(map[string]*RuleSet),
	}
}

// Get returns the rule set for a target, loading and validating it on first
// use.
func (r *Registry) Get(targetID string) (*RuleSet, error) {
	r.mu.RLock()
	rs, ok := r.cache[targetID]
	r.mu.RUnlock()
	if ok {
		return rs, nil
	}

	doc, err := os.ReadFile(filepath.Join(r.dir, targetID+".yaml"))
	if err != nil {
		return nil, fmt.Errorf("load rule set for %s: %w", targetID, err)
	}
	rs, err = ParseRuleSet(doc)
	if err != nil {
		return nil, err
	}
	if rs.Target != targetID {
		return nil, badRuleSet(fmt.Errorf("rule set target %q does not match %q", rs.Target, targetID))
	}

	r.mu.Lock()
	r.cache[targetID] = rs
	r.mu.Unlock()
	return rs, nil
}

// Register installs a rule set directly, bypassing the directory. Used by
// tests and by callers that retrieve rule documents elsewhere.
func (r *Registry) Register(rs *RuleSet) error {
	if err := rs.Validate(); err != nil {
		return err
	}
	r.mu.Lock()
	r.cache[rs.Target] = rs
	r.mu.Unlock()
	return nil
}
