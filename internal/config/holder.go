package config

import "sync"

// Holder lets the daemon swap in a freshly resolved Config on SIGHUP while
// cycles keep reading. A Config is never mutated once stored; Update
// replaces the pointer.
type Holder struct {
	mu   sync.RWMutex
	cfg  *Config
	path string
}

// NewHolder wraps cfg, which was read from path.
func NewHolder(cfg *Config, path string) *Holder {
	return &Holder{cfg: cfg, path: path}
}

// Config is the most recently stored snapshot.
func (h *Holder) Config() *Config {
	h.mu.RLock()
	defer h.mu.RUnlock()

	return h.cfg
}

// Path is the file the daemon reloads from. It is fixed for the life of
// the process.
func (h *Holder) Path() string {
	return h.path
}

// Update stores cfg as the current snapshot.
func (h *Holder) Update(cfg *Config) {
	h.mu.Lock()
	h.cfg = cfg
	h.mu.Unlock()
}
