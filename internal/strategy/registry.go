package strategy

import (
	"encoding/json"
	"sort"
	"sync"

	"log/slog"

	"github.com/johnkush50/kalshi-NBA/pkg/types"
)

// New constructs a strategy instance of the given type. rawCfg overlays the
// type's defaults and may be nil.
func New(typ, id string, rawCfg json.RawMessage, logger *slog.Logger) (Strategy, error) {
	switch typ {
	case TypeSharpLine:
		return NewSharpLine(id, rawCfg, logger)
	case TypeMomentum:
		return NewMomentum(id, rawCfg, logger)
	case TypeEVMultiBook:
		return NewEVMultiBook(id, rawCfg, logger)
	case TypeMeanReversion:
		return NewMeanReversion(id, rawCfg, logger)
	case TypeCorrelation:
		return NewCorrelation(id, rawCfg, logger)
	default:
		return nil, types.E(types.KindBadInput, "unknown strategy type %q", typ)
	}
}

// TypeInfo describes an available strategy type for the catalog endpoint.
type TypeInfo struct {
	Type          string          `json:"type"`
	Name          string          `json:"name"`
	Description   string          `json:"description"`
	DefaultConfig json.RawMessage `json:"default_config"`
}

// Catalog lists every known strategy type with its default configuration.
func Catalog() []TypeInfo {
	marshal := func(v any) json.RawMessage {
		raw, _ := json.Marshal(v)
		return raw
	}
	return []TypeInfo{
		{TypeSharpLine, sharpLineName, sharpLineDesc, marshal(DefaultSharpLineConfig())},
		{TypeMomentum, momentumName, momentumDesc, marshal(DefaultMomentumConfig())},
		{TypeEVMultiBook, evMultiBookName, evMultiBookDesc, marshal(DefaultEVMultiBookConfig())},
		{TypeMeanReversion, meanReversionName, meanReversionDesc, marshal(DefaultMeanReversionConfig())},
		{TypeCorrelation, correlationName, correlationDesc, marshal(DefaultCorrelationConfig())},
	}
}

// Registry holds the loaded strategy instances. At most one instance per
// type is active: loading a second instance of a type replaces the first.
type Registry struct {
	mu   sync.RWMutex
	byID map[string]Strategy
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{byID: make(map[string]Strategy)}
}

// Load registers a strategy, evicting any existing instance of the same
// type. The evicted strategy is returned, or nil.
func (r *Registry) Load(s Strategy) Strategy {
	r.mu.Lock()
	defer r.mu.Unlock()
	var replaced Strategy
	for id, existing := range r.byID {
		if existing.Type() == s.Type() && id != s.ID() {
			replaced = existing
			delete(r.byID, id)
		}
	}
	r.byID[s.ID()] = s
	return replaced
}

// Get returns the strategy with the given id.
func (r *Registry) Get(id string) (Strategy, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.byID[id]
	if !ok {
		return nil, types.E(types.KindNotFound, "strategy %q not loaded", id)
	}
	return s, nil
}

// Remove unloads the strategy with the given id.
func (r *Registry) Remove(id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.byID[id]; !ok {
		return types.E(types.KindNotFound, "strategy %q not loaded", id)
	}
	delete(r.byID, id)
	return nil
}

// List returns all loaded strategies ordered by id.
func (r *Registry) List() []Strategy {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Strategy, 0, len(r.byID))
	for _, s := range r.byID {
		out = append(out, s)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID() < out[j].ID() })
	return out
}

// Enabled returns the loaded strategies currently enabled, ordered by id.
func (r *Registry) Enabled() []Strategy {
	all := r.List()
	out := all[:0]
	for _, s := range all {
		if s.IsEnabled() {
			out = append(out, s)
		}
	}
	return out
}
