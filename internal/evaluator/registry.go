package evaluator

import (
	"errors"
	"fmt"
	"sort"
	"sync"
)

var (
	ErrEvaluatorExists   = errors.New("evaluator already registered")
	ErrEvaluatorNotFound = errors.New("evaluator not found")
)

var evaluatorRegistry = struct {
	mu sync.RWMutex
	m  map[string]Evaluator
}{
	m: make(map[string]Evaluator),
}

// Register adds an evaluator under its Name.
func Register(ev Evaluator) error {
	if ev == nil {
		return errors.New("evaluator is required")
	}
	if ev.Name() == "" {
		return errors.New("evaluator name is required")
	}
	if ev.Version() == "" {
		return fmt.Errorf("evaluator %s has no version tag", ev.Name())
	}

	evaluatorRegistry.mu.Lock()
	defer evaluatorRegistry.mu.Unlock()

	if _, exists := evaluatorRegistry.m[ev.Name()]; exists {
		return fmt.Errorf("%w: %s", ErrEvaluatorExists, ev.Name())
	}
	evaluatorRegistry.m[ev.Name()] = ev
	return nil
}

// Resolve returns the evaluator registered under name.
func Resolve(name string) (Evaluator, error) {
	evaluatorRegistry.mu.RLock()
	defer evaluatorRegistry.mu.RUnlock()

	ev, ok := evaluatorRegistry.m[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrEvaluatorNotFound, name)
	}
	return ev, nil
}

// List returns registered evaluator names, sorted.
func List() []string {
	evaluatorRegistry.mu.RLock()
	defer evaluatorRegistry.mu.RUnlock()

	names := make([]string, 0, len(evaluatorRegistry.m))
	for name := range evaluatorRegistry.m {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func resetRegistryForTests() {
	evaluatorRegistry.mu.Lock()
	defer evaluatorRegistry.mu.Unlock()
	evaluatorRegistry.m = make(map[string]Evaluator)
}
