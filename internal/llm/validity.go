package llm

import (
	"context"
	"log/slog"
	"strings"
	"sync"
	"time"
)

// ModelLister is the subset of the endpoint client the validity cache
// needs.
type ModelLister interface {
	ListModels(ctx context.Context) ([]string, error)
}

// Validity caches whether a configured model exists on the endpoint so
// the router does not hit /api/tags on every inbound message. Entries
// expire after a TTL, and the cache resets itself whenever the
// endpoint or model name changes (a config reload points us somewhere
// new).
type Validity struct {
	ttl    time.Duration
	logger *slog.Logger
	now    func() time.Time

	mu        sync.Mutex
	key       string
	checkedAt time.Time
	valid     bool
}

// NewValidity creates a validity cache. A non-positive ttl disables
// caching so every call re-checks the endpoint.
func NewValidity(ttl time.Duration, logger *slog.Logger) *Validity {
	if logger == nil {
		logger = slog.Default()
	}
	return &Validity{
		ttl:    ttl,
		logger: logger,
		now:    time.Now,
	}
}

// Check reports whether model is available on the endpoint, consulting
// the cache first. A failed listing is treated as unknown and reported
// as valid; refusing to route because a health probe failed would take
// the whole bridge down with it.
func (v *Validity) Check(ctx context.Context, lister ModelLister, endpoint, model string) bool {
	key := endpoint + "|" + model

	v.mu.Lock()
	if v.key == key && v.ttl > 0 && v.now().Sub(v.checkedAt) < v.ttl {
		valid := v.valid
		v.mu.Unlock()
		return valid
	}
	v.mu.Unlock()

	models, err := lister.ListModels(ctx)
	if err != nil {
		v.logger.Warn("model listing failed, assuming model is valid",
			"endpoint", endpoint,
			"model", model,
			"error", err)
		return true
	}

	valid := containsModel(models, model)
	if !valid {
		v.logger.Warn("configured model not found on endpoint",
			"endpoint", endpoint,
			"model", model,
			"available", len(models))
	}

	v.mu.Lock()
	v.key = key
	v.checkedAt = v.now()
	v.valid = valid
	v.mu.Unlock()

	return valid
}

// containsModel matches exactly, or treats an untagged name as
// matching any tag of the same model ("llama3" matches "llama3:8b").
func containsModel(models []string, want string) bool {
	for _, m := range models {
		if m == want {
			return true
		}
		if !strings.Contains(want, ":") && strings.HasPrefix(m, want+":") {
			return true
		}
	}
	return false
}
