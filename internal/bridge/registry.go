package bridge

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/phurth/ble-plugin-bridge/internal/infrastructure/config"
	"github.com/phurth/ble-plugin-bridge/internal/infrastructure/mqtt"
)

// Registry holds plugin factories and the driver instances built from
// them. It owns instance startup, shutdown, and command routing.
//
// All public methods are thread-safe.
type Registry struct {
	topics mqtt.Topics
	logger Logger

	mu        sync.RWMutex
	connected map[string]ConnectedFactory
	polled    map[string]PolledFactory
	instances map[string]Driver // by instance ID
	order     []string          // instance IDs in creation order
}

// NewRegistry creates an empty registry routing under the given topics.
func NewRegistry(topics mqtt.Topics) *Registry {
	return &Registry{
		topics:    topics,
		logger:    noopLogger{},
		connected: make(map[string]ConnectedFactory),
		polled:    make(map[string]PolledFactory),
		instances: make(map[string]Driver),
	}
}

// SetLogger sets the logger for the registry.
func (r *Registry) SetLogger(logger Logger) {
	if logger != nil {
		r.logger = logger
	}
}

// RegisterConnectedFactory registers a factory for a lifecycle-owning
// plugin type. Registering the same type again replaces the factory.
func (r *Registry) RegisterConnectedFactory(pluginType string, f ConnectedFactory) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.polled, pluginType)
	r.connected[pluginType] = f
}

// RegisterPolledFactory registers a factory for a polled plugin type.
// Registering the same type again replaces the factory.
func (r *Registry) RegisterPolledFactory(pluginType string, f PolledFactory) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.connected, pluginType)
	r.polled[pluginType] = f
}

// PluginTypes returns the registered plugin type names, sorted.
func (r *Registry) PluginTypes() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	types := make([]string, 0, len(r.connected)+len(r.polled))
	for t := range r.connected {
		types = append(types, t)
	}
	for t := range r.polled {
		types = append(types, t)
	}
	sort.Strings(types)
	return types
}

// Instantiate builds a driver for one configured instance and records
// it for startup and routing. Polled drivers come back wrapped in a
// PollRunner.
//
// Returns ErrUnknownPluginType when no factory matches.
func (r *Registry) Instantiate(cfg config.InstanceConfig, deps Deps) (Driver, error) {
	inst, err := NewInstance(cfg)
	if err != nil {
		return nil, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.instances[inst.ID]; exists {
		return nil, fmt.Errorf("%w: duplicate instance %s", ErrInvalidInstance, inst.ID)
	}

	var driver Driver
	switch {
	case r.connected[inst.PluginType] != nil:
		driver, err = r.connected[inst.PluginType](inst, deps)
		if err != nil {
			return nil, fmt.Errorf("creating %s instance %s: %w", inst.PluginType, inst.ID, err)
		}
	case r.polled[inst.PluginType] != nil:
		polled, interval, err := r.polled[inst.PluginType](inst, deps)
		if err != nil {
			return nil, fmt.Errorf("creating %s instance %s: %w", inst.PluginType, inst.ID, err)
		}
		driver = NewPollRunner(polled, interval, deps.logger())
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnknownPluginType, inst.PluginType)
	}

	r.instances[inst.ID] = driver
	r.order = append(r.order, inst.ID)
	r.logger.Info("instance registered",
		"instance", inst.ID,
		"plugin", inst.PluginType)
	return driver, nil
}

// StartAll starts every registered instance in creation order.
// The first failure stops the sweep and is returned; instances already
// started keep running.
func (r *Registry) StartAll(ctx context.Context) error {
	r.mu.RLock()
	drivers := make([]Driver, 0, len(r.order))
	for _, id := range r.order {
		drivers = append(drivers, r.instances[id])
	}
	r.mu.RUnlock()

	for _, d := range drivers {
		inst := d.Instance()
		if err := d.Start(ctx); err != nil {
			return fmt.Errorf("starting instance %s: %w", inst.ID, err)
		}
		r.logger.Info("instance started", "instance", inst.ID)
	}
	return nil
}

// Remove stops one instance and withdraws it from command routing.
// Other instances are untouched. Returns ErrNoMatchingInstance for an
// unknown instance ID.
func (r *Registry) Remove(instanceID string) error {
	r.mu.Lock()
	driver, ok := r.instances[instanceID]
	if !ok {
		r.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrNoMatchingInstance, instanceID)
	}
	delete(r.instances, instanceID)
	for i, id := range r.order {
		if id == instanceID {
			r.order = append(r.order[:i], r.order[i+1:]...)
			break
		}
	}
	r.mu.Unlock()

	// Stop blocks until the driver's goroutines exit; no routing lock
	// is held so other instances keep receiving commands meanwhile.
	driver.Stop()
	r.logger.Info("instance removed", "instance", instanceID)
	return nil
}

// StopAll stops every instance. Safe to call more than once.
func (r *Registry) StopAll() {
	r.mu.RLock()
	drivers := make([]Driver, 0, len(r.order))
	for _, id := range r.order {
		drivers = append(drivers, r.instances[id])
	}
	r.mu.RUnlock()

	for _, d := range drivers {
		d.Stop()
	}
}

// InstanceCount returns the number of registered instances.
func (r *Registry) InstanceCount() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.instances)
}

// RouteCommand dispatches an inbound command topic to the owning
// instance's HandleCommand.
//
// The topic must match {prefix}/{plugin}/{deviceID}/{field}/set; other
// shapes and unowned device IDs return ErrNoMatchingInstance.
func (r *Registry) RouteCommand(ctx context.Context, topic string, payload []byte) error {
	plugin, deviceID, field, ok := r.parseCommandTopic(topic)
	if !ok {
		return fmt.Errorf("%w: unrecognised command topic %s", ErrNoMatchingInstance, topic)
	}

	r.mu.RLock()
	var target Driver
	for _, d := range r.instances {
		inst := d.Instance()
		if inst.PluginType == plugin && inst.OwnsDevice(deviceID) {
			target = d
			break
		}
	}
	r.mu.RUnlock()

	if target == nil {
		return fmt.Errorf("%w: %s/%s", ErrNoMatchingInstance, plugin, deviceID)
	}

	r.logger.Debug("routing command",
		"instance", target.Instance().ID,
		"device", deviceID,
		"field", field)
	return target.HandleCommand(ctx, deviceID, field, payload)
}

// parseCommandTopic splits {prefix}/{plugin}/{deviceID}/{field}/set.
func (r *Registry) parseCommandTopic(topic string) (plugin, deviceID, field string, ok bool) {
	rest, found := strings.CutPrefix(topic, r.topics.Prefix+"/")
	if !found {
		return "", "", "", false
	}
	parts := strings.Split(rest, "/")
	if len(parts) != 4 || parts[3] != "set" {
		return "", "", "", false
	}
	if parts[0] == "" || parts[1] == "" || parts[2] == "" {
		return "", "", "", false
	}
	return parts[0], parts[1], parts[2], true
}
