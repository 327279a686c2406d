package evo

import (
	"errors"
	"fmt"
	"sort"
	"sync"
)

var (
	ErrOperatorExists   = errors.New("operator already registered")
	ErrOperatorNotFound = errors.New("operator not found")
)

var mutatorRegistry = struct {
	mu sync.RWMutex
	m  map[string]Mutator
}{
	m: make(map[string]Mutator),
}

var crosserRegistry = struct {
	mu sync.RWMutex
	m  map[string]Crosser
}{
	m: make(map[string]Crosser),
}

// RegisterMutator makes a mutator resolvable by name.
func RegisterMutator(m Mutator) error {
	if m == nil {
		return errors.New("mutator is required")
	}
	if m.Name() == "" {
		return errors.New("mutator name is required")
	}

	mutatorRegistry.mu.Lock()
	defer mutatorRegistry.mu.Unlock()

	if _, exists := mutatorRegistry.m[m.Name()]; exists {
		return fmt.Errorf("%w: %s", ErrOperatorExists, m.Name())
	}
	mutatorRegistry.m[m.Name()] = m
	return nil
}

// RegisterCrosser makes a crosser resolvable by name.
func RegisterCrosser(c Crosser) error {
	if c == nil {
		return errors.New("crosser is required")
	}
	if c.Name() == "" {
		return errors.New("crosser name is required")
	}

	crosserRegistry.mu.Lock()
	defer crosserRegistry.mu.Unlock()

	if _, exists := crosserRegistry.m[c.Name()]; exists {
		return fmt.Errorf("%w: %s", ErrOperatorExists, c.Name())
	}
	crosserRegistry.m[c.Name()] = c
	return nil
}

func ResolveMutator(name string) (Mutator, error) {
	mutatorRegistry.mu.RLock()
	defer mutatorRegistry.mu.RUnlock()

	m, ok := mutatorRegistry.m[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrOperatorNotFound, name)
	}
	return m, nil
}

func ResolveCrosser(name string) (Crosser, error) {
	crosserRegistry.mu.RLock()
	defer crosserRegistry.mu.RUnlock()

	c, ok := crosserRegistry.m[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrOperatorNotFound, name)
	}
	return c, nil
}

func ListMutators() []string {
	mutatorRegistry.mu.RLock()
	defer mutatorRegistry.mu.RUnlock()

	names := make([]string, 0, len(mutatorRegistry.m))
	for name := range mutatorRegistry.m {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func ListCrossers() []string {
	crosserRegistry.mu.RLock()
	defer crosserRegistry.mu.RUnlock()

	names := make([]string, 0, len(crosserRegistry.m))
	for name := range crosserRegistry.m {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// RegisterBuiltinOperators registers the stock operator set. Names already
// taken are left as they are.
func RegisterBuiltinOperators() error {
	mutators := []Mutator{
		SubstituteBlock{},
		SwapTopology{},
		ShuffleBlocks{},
		GrowChain{},
	}
	for _, m := range mutators {
		if err := RegisterMutator(m); err != nil && !errors.Is(err, ErrOperatorExists) {
			return err
		}
	}
	crossers := []Crosser{
		RecombineBlocks{},
		ExchangeTopology{},
	}
	for _, c := range crossers {
		if err := RegisterCrosser(c); err != nil && !errors.Is(err, ErrOperatorExists) {
			return err
		}
	}
	return nil
}

func resetOperatorRegistriesForTests() {
	mutatorRegistry.mu.Lock()
	mutatorRegistry.m = make(map[string]Mutator)
	mutatorRegistry.mu.Unlock()

	crosserRegistry.mu.Lock()
	crosserRegistry.m = make(map[string]Crosser)
	crosserRegistry.mu.Unlock()
}
