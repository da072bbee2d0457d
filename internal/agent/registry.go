package agent

import (
	"context"
	"log/slog"
	"sort"
	"sync"

	"github.com/maestro-ai/maestro/pkg/schema"
)

// Discovery resolves a free-text capability query to an agent endpoint.
// Optional; failures surface as executor failures, never orchestrator errors.
type Discovery interface {
	FindAgent(ctx context.Context, queryText string) (*Card, error)
}

// Registry maps logical agent names to typed executor handles. Populated at
// startup from configuration and extendable at runtime; when a name is
// unbound, the discovery collaborator (if configured) is consulted once and
// the resolved endpoint is cached.
type Registry struct {
	mu        sync.RWMutex
	executors map[string]Executor
	cards     map[string]Card
	discovery Discovery
	dial      func(Card) Executor // endpoint descriptor → executor handle
	logger    *slog.Logger
}

// NewRegistry creates an empty Registry. discovery may be nil.
func NewRegistry(discovery Discovery, dial func(Card) Executor, logger *slog.Logger) *Registry {
	if dial == nil {
		dial = func(c Card) Executor { return NewHTTPExecutor(c.URL, HTTPExecutorConfig{}) }
	}
	return &Registry{
		executors: make(map[string]Executor),
		cards:     make(map[string]Card),
		discovery: discovery,
		dial:      dial,
		logger:    logger,
	}
}

// Register binds a logical name to an executor handle.
// Re-registering a name replaces the previous handle (reconnect).
func (r *Registry) Register(name string, card Card, exec Executor) error {
	if name == "" {
		return schema.NewError(schema.ErrCodeValidation, "agent name is empty")
	}
	if exec == nil {
		return schema.NewError(schema.ErrCodeValidation, "executor is nil")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.executors[name] = exec
	r.cards[name] = card
	return nil
}

// Resolve returns the executor for a logical agent name, consulting discovery
// for unbound names.
func (r *Registry) Resolve(ctx context.Context, name string) (Executor, error) {
	r.mu.RLock()
	exec, ok := r.executors[name]
	r.mu.RUnlock()
	if ok {
		return exec, nil
	}

	if r.discovery == nil {
		return nil, schema.NewErrorf(schema.ErrCodeNotFound, "agent %q not registered", name)
	}

	card, err := r.discovery.FindAgent(ctx, name)
	if err != nil {
		return nil, schema.NewErrorf(schema.ErrCodeExecution, "discover agent %q: %s", name, err.Error()).WithCause(err)
	}
	if card == nil || card.URL == "" {
		return nil, schema.NewErrorf(schema.ErrCodeNotFound, "no agent found for %q", name)
	}

	exec = r.dial(*card)
	if r.logger != nil {
		r.logger.InfoContext(ctx, "agent resolved via discovery", "agent", name, "url", card.URL)
	}

	r.mu.Lock()
	// Another caller may have raced the discovery; keep the first binding.
	if existing, ok := r.executors[name]; ok {
		r.mu.Unlock()
		return existing, nil
	}
	r.executors[name] = exec
	r.cards[name] = *card
	r.mu.Unlock()
	return exec, nil
}

// Cards returns the known agent cards, sorted by name.
func (r *Registry) Cards() []Card {
	r.mu.RLock()
	defer r.mu.RUnlock()

	cards := make([]Card, 0, len(r.cards))
	for _, c := range r.cards {
		cards = append(cards, c)
	}
	sort.Slice(cards, func(i, j int) bool { return cards[i].Name < cards[j].Name })
	return cards
}
