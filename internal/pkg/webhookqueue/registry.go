package webhookqueue

import (
	"encoding/json"
	"fmt"
	"sync"
)

// registry maps (provider, endpoint) to the processor invoked for
// matching events.
type registry struct {
	mu         sync.RWMutex
	processors map[string]Processor
}

func newRegistry() *registry {
	return &registry{processors: make(map[string]Processor)}
}

func processorKey(provider, endpoint string) string {
	return provider + "/" + endpoint
}

func (r *registry) register(provider, endpoint string, p Processor) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.processors[processorKey(provider, endpoint)] = p
}

func (r *registry) lookup(provider, endpoint string) (Processor, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.processors[processorKey(provider, endpoint)]
	if !ok {
		return nil, fmt.Errorf("no processor registered for %s", processorKey(provider, endpoint))
	}
	return p, nil
}

func encodeHeaders(h map[string]string) string {
	if len(h) == 0 {
		return ""
	}
	b, err := json.Marshal(h)
	if err != nil {
		return ""
	}
	return string(b)
}

func decodeHeaders(raw string) map[string]string {
	if raw == "" {
		return nil
	}
	var h map[string]string
	if err := json.Unmarshal([]byte(raw), &h); err != nil {
		return nil
	}
	return h
}
