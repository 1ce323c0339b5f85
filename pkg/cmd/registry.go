package cmd

import (
	"fmt"
	"sort"
	"sync"
)

// DefaultRegistry is shared by the Discord runtime and the CLI.
var DefaultRegistry = NewRegistry()

// Registry stores commands by name. Dispatch is left to adapters.
type Registry struct {
	mu       sync.RWMutex
	commands map[string]Command
}

func NewRegistry() *Registry {
	return &Registry{commands: make(map[string]Command)}
}

// Register adds c. A second command with the same name is an error.
func (r *Registry) Register(c Command) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, dup := r.commands[c.Name()]; dup {
		return fmt.Errorf("command %q already registered", c.Name())
	}
	r.commands[c.Name()] = c
	return nil
}

// MustRegister is Register for init-time wiring.
func (r *Registry) MustRegister(c Command) {
	if err := r.Register(c); err != nil {
		panic(err)
	}
}

// Get returns the command with the given name, or nil.
func (r *Registry) Get(name string) Command {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.commands[name]
}

// GetAll returns all commands sorted by name.
func (r *Registry) GetAll() []Command {
	r.mu.RLock()
	list := make([]Command, 0, len(r.commands))
	for _, c := range r.commands {
		list = append(list, c)
	}
	r.mu.RUnlock()

	sort.Slice(list, func(i, j int) bool {
		return list[i].Name() < list[j].Name()
	})
	return list
}
