package core

import (
	"sort"
	"sync"
)

// ── Registry ──────────────────────────────────────────────────────────────────

// DefaultRegistry is a thread-safe implementation of Registry.
type DefaultRegistry struct {
	mu        sync.RWMutex
	factories map[Format]SessionFactory
	decoders  map[Format]Decoder
}

// NewRegistry returns an empty DefaultRegistry.
func NewRegistry() *DefaultRegistry {
	return &DefaultRegistry{
		factories: make(map[Format]SessionFactory),
		decoders:  make(map[Format]Decoder),
	}
}

func (r *DefaultRegistry) RegisterFactory(f Format, sf SessionFactory) {
	r.mu.Lock()
	r.factories[f] = sf
	r.mu.Unlock()
}

func (r *DefaultRegistry) RegisterDecoder(f Format, d Decoder) {
	r.mu.Lock()
	r.decoders[f] = d
	r.mu.Unlock()
}

func (r *DefaultRegistry) FactoryFor(f Format) (SessionFactory, bool) {
	r.mu.RLock()
	sf, ok := r.factories[f]
	r.mu.RUnlock()
	return sf, ok
}

func (r *DefaultRegistry) DecoderFor(f Format) (Decoder, bool) {
	r.mu.RLock()
	d, ok := r.decoders[f]
	r.mu.RUnlock()
	return d, ok
}

func (r *DefaultRegistry) Sniff(prefix []byte) (Format, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	// Deterministic order so overlapping magics resolve the same way.
	formats := make([]string, 0, len(r.factories))
	for f := range r.factories {
		formats = append(formats, string(f))
	}
	sort.Strings(formats)
	for _, f := range formats {
		if r.factories[Format(f)].Sniff(prefix) {
			return Format(f), true
		}
	}
	return FormatUnknown, false
}
