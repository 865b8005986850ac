package di

import (
	"context"
	"fmt"
	"reflect"
	"sync"
)

// Container is the dependency injection surface used across the library.
type Container interface {
	// Register stores a lazy constructor under key. Supported signatures:
	// func() T, func() (T, error), func(context.Context) (T, error),
	// func(Container) (T, error).
	Register(key string, constructor any) error
	// RegisterSingleton stores a pre-created instance under key.
	RegisterSingleton(key string, instance any) error
	// Resolve returns the instance for key, constructing it on first use.
	Resolve(key string) (any, error)
	// MustResolve is Resolve that panics on failure.
	MustResolve(key string) any
	// ResolveByType finds an instance assignable to t, constructing lazy
	// components whose constructors return a matching type.
	ResolveByType(t reflect.Type) (any, bool)
	// Invalidate drops the cached instance for key so the next Resolve
	// reconstructs it.
	Invalidate(key string) error
	// Refresh invalidates and immediately re-resolves key.
	Refresh(key string) (any, error)
	// Keys lists all registered keys.
	Keys() []string
	// Close closes every initialized component that implements io.Closer.
	Close() error
}

type registration struct {
	key         string
	constructor any
	instance    any
	initialized bool
	mu          sync.Mutex
}

type container struct {
	mu         sync.RWMutex
	components map[string]*registration
	singletons map[string]any
}

// NewContainer creates an empty container.
func NewContainer() Container {
	return &container{
		components: make(map[string]*registration),
		singletons: make(map[string]any),
	}
}

func (c *container) Register(key string, constructor any) error {
	if reflect.ValueOf(constructor).Kind() != reflect.Func {
		return fmt.Errorf("di: constructor for %q must be a function", key)
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, exists := c.components[key]; exists {
		return fmt.Errorf("di: component %q already registered", key)
	}
	if _, exists := c.singletons[key]; exists {
		return fmt.Errorf("di: component %q already registered", key)
	}
	c.components[key] = &registration{key: key, constructor: constructor}
	return nil
}

func (c *container) RegisterSingleton(key string, instance any) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, exists := c.components[key]; exists {
		return fmt.Errorf("di: component %q already registered", key)
	}
	c.singletons[key] = instance
	return nil
}

func (c *container) Resolve(key string) (any, error) {
	c.mu.RLock()
	if singleton, ok := c.singletons[key]; ok {
		c.mu.RUnlock()
		return singleton, nil
	}
	reg, ok := c.components[key]
	c.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("di: component %q not registered", key)
	}
	return c.initialize(reg)
}

func (c *container) MustResolve(key string) any {
	instance, err := c.Resolve(key)
	if err != nil {
		panic(err)
	}
	return instance
}

func (c *container) initialize(reg *registration) (any, error) {
	reg.mu.Lock()
	defer reg.mu.Unlock()
	if reg.initialized {
		return reg.instance, nil
	}
	instance, err := c.call(reg.constructor)
	if err != nil {
		return nil, fmt.Errorf("di: construct %q: %w", reg.key, err)
	}
	reg.instance = instance
	reg.initialized = true
	return instance, nil
}

var (
	ctxType       = reflect.TypeOf((*context.Context)(nil)).Elem()
	containerType = reflect.TypeOf((*Container)(nil)).Elem()
	errType       = reflect.TypeOf((*error)(nil)).Elem()
)

func (c *container) call(constructor any) (any, error) {
	fn := reflect.ValueOf(constructor)
	fnType := fn.Type()

	args := make([]reflect.Value, fnType.NumIn())
	for i := range args {
		in := fnType.In(i)
		switch {
		case in == ctxType:
			args[i] = reflect.ValueOf(context.Background())
		case in == containerType:
			args[i] = reflect.ValueOf(Container(c))
		default:
			dep, ok := c.ResolveByType(in)
			if !ok {
				return nil, fmt.Errorf("no component satisfies constructor argument %d (%s)", i, in)
			}
			args[i] = reflect.ValueOf(dep)
		}
	}

	results := fn.Call(args)
	switch len(results) {
	case 1:
		return results[0].Interface(), nil
	case 2:
		if errVal := results[1].Interface(); errVal != nil {
			return nil, errVal.(error)
		}
		return results[0].Interface(), nil
	default:
		return nil, fmt.Errorf("constructor must return (T) or (T, error)")
	}
}

func (c *container) ResolveByType(t reflect.Type) (any, bool) {
	c.mu.RLock()
	for _, singleton := range c.singletons {
		if assignable(singleton, t) {
			c.mu.RUnlock()
			return singleton, true
		}
	}
	var candidates []*registration
	for _, reg := range c.components {
		if constructorReturns(reg.constructor, t) {
			candidates = append(candidates, reg)
		}
	}
	c.mu.RUnlock()

	for _, reg := range candidates {
		if instance, err := c.initialize(reg); err == nil && assignable(instance, t) {
			return instance, true
		}
	}
	return nil, false
}

func (c *container) Invalidate(key string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if reg, ok := c.components[key]; ok {
		reg.mu.Lock()
		reg.instance = nil
		reg.initialized = false
		reg.mu.Unlock()
		return nil
	}
	if _, ok := c.singletons[key]; ok {
		delete(c.singletons, key)
		return nil
	}
	return fmt.Errorf("di: component %q not registered", key)
}

func (c *container) Refresh(key string) (any, error) {
	if err := c.Invalidate(key); err != nil {
		return nil, err
	}
	return c.Resolve(key)
}

func (c *container) Keys() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	keys := make([]string, 0, len(c.components)+len(c.singletons))
	for key := range c.components {
		keys = append(keys, key)
	}
	for key := range c.singletons {
		keys = append(keys, key)
	}
	return keys
}

func (c *container) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, reg := range c.components {
		reg.mu.Lock()
		if reg.initialized {
			if closer, ok := reg.instance.(interface{ Close() error }); ok {
				_ = closer.Close()
			}
		}
		reg.mu.Unlock()
	}
	for _, singleton := range c.singletons {
		if closer, ok := singleton.(interface{ Close() error }); ok {
			_ = closer.Close()
		}
	}
	return nil
}

func assignable(instance any, t reflect.Type) bool {
	if instance == nil {
		return false
	}
	it := reflect.TypeOf(instance)
	if t.Kind() == reflect.Interface {
		return it.Implements(t)
	}
	return it.AssignableTo(t)
}

func constructorReturns(constructor any, t reflect.Type) bool {
	fnType := reflect.TypeOf(constructor)
	if fnType.NumOut() == 0 {
		return false
	}
	out := fnType.Out(0)
	if out == errType {
		return false
	}
	if t.Kind() == reflect.Interface {
		return out.Implements(t) || out == t
	}
	return out.AssignableTo(t)
}
