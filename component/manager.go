package component

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/c360/telestream/errors"
)

// managed tracks a component and its lifecycle state. The manager owns the
// per-component child context; components only ever receive it as a
// parameter.
type managed struct {
	component LifecycleComponent
	state     State
	cancel    context.CancelFunc
	lastError error
}

// Manager drives component lifecycle: Initialize in registration order,
// Start in registration order, Stop in reverse.
type Manager struct {
	logger *slog.Logger

	mu         sync.RWMutex
	components map[string]*managed
	startOrder []string
	started    bool
}

// NewManager creates a component manager.
func NewManager(logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{
		logger:     logger.With("component", "manager"),
		components: make(map[string]*managed),
	}
}

// Register adds a component under its metadata name. Registration order
// determines start order.
func (m *Manager) Register(c LifecycleComponent) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	name := c.Meta().Name
	if name == "" {
		return errors.WrapInvalid(fmt.Errorf("component has empty name"),
			"Manager", "Register", "register component")
	}
	if _, exists := m.components[name]; exists {
		return errors.WrapInvalid(fmt.Errorf("component %q already registered", name),
			"Manager", "Register", "register component")
	}

	m.components[name] = &managed{component: c, state: StateCreated}
	m.startOrder = append(m.startOrder, name)
	return nil
}

// InitializeAll initializes every registered component. Fails fast on the
// first error.
func (m *Manager) InitializeAll() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, name := range m.startOrder {
		mc := m.components[name]
		if err := mc.component.Initialize(); err != nil {
			mc.state = StateFailed
			mc.lastError = err
			return errors.Wrap(err, "Manager", "InitializeAll", fmt.Sprintf("initialize %s", name))
		}
		mc.state = StateInitialized
		m.logger.Debug("component initialized", "name", name)
	}
	return nil
}

// StartAll starts components in registration order, each with its own child
// context so one component can be cancelled without touching the others.
func (m *Manager) StartAll(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.started {
		return errors.ErrAlreadyStarted
	}

	for _, name := range m.startOrder {
		mc := m.components[name]
		if mc.state != StateInitialized {
			return errors.WrapInvalid(
				fmt.Errorf("component %s in state %s", name, mc.state),
				"Manager", "StartAll", "start component")
		}

		childCtx, cancel := context.WithCancel(ctx)
		mc.cancel = cancel

		m.logger.Info("starting component", "name", name, "type", mc.component.Meta().Type)
		if err := mc.component.Start(childCtx); err != nil {
			mc.state = StateFailed
			mc.lastError = err
			cancel()
			m.stopStartedLocked(5 * time.Second)
			return errors.Wrap(err, "Manager", "StartAll", fmt.Sprintf("start %s", name))
		}
		mc.state = StateStarted
	}

	m.started = true
	return nil
}

// StopAll stops components in reverse start order. All components get a stop
// attempt; errors are collected.
func (m *Manager) StopAll(timeout time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.started {
		return nil
	}
	m.started = false

	errs := m.stopStartedLocked(timeout)
	if len(errs) > 0 {
		return fmt.Errorf("failed to stop %d components: %v", len(errs), errs)
	}
	return nil
}

// stopStartedLocked stops every started component in reverse order.
// Caller must hold m.mu.
func (m *Manager) stopStartedLocked(timeout time.Duration) []error {
	var errs []error
	for i := len(m.startOrder) - 1; i >= 0; i-- {
		name := m.startOrder[i]
		mc := m.components[name]
		if mc.state != StateStarted {
			continue
		}

		if mc.cancel != nil {
			mc.cancel()
		}

		m.logger.Info("stopping component", "name", name)
		if err := mc.component.Stop(timeout); err != nil {
			mc.state = StateFailed
			mc.lastError = err
			errs = append(errs, fmt.Errorf("%s: %w", name, err))
			continue
		}
		mc.state = StateStopped
	}
	return errs
}

// Health reports per-component health. The bool is true only when every
// component reports healthy.
func (m *Manager) Health() (bool, map[string]string) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	healthy := true
	detail := make(map[string]string, len(m.components))
	for name, mc := range m.components {
		h := mc.component.Health()
		if h.Healthy {
			detail[name] = "healthy"
		} else {
			healthy = false
			if h.LastError != "" {
				detail[name] = "unhealthy: " + h.LastError
			} else {
				detail[name] = "unhealthy"
			}
		}
	}
	return healthy, detail
}

// States returns the lifecycle state of each registered component.
func (m *Manager) States() map[string]State {
	m.mu.RLock()
	defer m.mu.RUnlock()

	states := make(map[string]State, len(m.components))
	for name, mc := range m.components {
		states[name] = mc.state
	}
	return states
}
