package bootstrap

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/pkg/errors"
	"go.uber.org/zap"
)

// Lifecycle errors
var (
	ErrAlreadyStarted      = errors.New("lifecycle manager already started")
	ErrAlreadyRegistered   = errors.New("service already registered")
	ErrUnknownDependency   = errors.New("dependency is not registered")
	ErrCircularDependency  = errors.New("circular dependency detected")
	ErrInvalidRegistration = errors.New("invalid service registration")
)

// DefaultLifecycleManager implements the LifecycleManager interface
type DefaultLifecycleManager struct {
	// services holds all registered services
	services map[string]Service

	// dependencies tracks service dependencies
	dependencies map[string][]string

	// startOrder tracks the order services were started
	startOrder []string

	mutex    sync.RWMutex
	started  bool
	stopping bool

	// eventChan for broadcasting lifecycle events
	eventChan chan LifecycleEvent

	// listeners for lifecycle events
	listeners []func(LifecycleEvent)

	// timeout for a single service operation
	timeout time.Duration

	logger *zap.Logger
}

// NewLifecycleManager creates a new lifecycle manager
func NewLifecycleManager(logger *zap.Logger) *DefaultLifecycleManager {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &DefaultLifecycleManager{
		services:     make(map[string]Service),
		dependencies: make(map[string][]string),
		eventChan:    make(chan LifecycleEvent, 100),
		timeout:      30 * time.Second,
		logger:       logger,
	}
}

// Register registers a service with the lifecycle manager
func (lm *DefaultLifecycleManager) Register(name string, service Service, deps ...string) error {
	if name == "" {
		return errors.Wrap(ErrInvalidRegistration, "service name cannot be empty")
	}
	if service == nil {
		return errors.Wrapf(ErrInvalidRegistration, "service %s is nil", name)
	}

	lm.mutex.Lock()
	defer lm.mutex.Unlock()

	if lm.started {
		return errors.Wrapf(ErrAlreadyStarted, "cannot register service %s", name)
	}
	if _, exists := lm.services[name]; exists {
		return errors.Wrapf(ErrAlreadyRegistered, "%s", name)
	}

	lm.services[name] = service
	lm.dependencies[name] = deps

	lm.broadcastEvent(LifecycleEvent{
		Type:      EventServiceRegistered,
		Service:   name,
		Timestamp: time.Now(),
		Data:      map[string]interface{}{"dependencies": deps},
	})

	return nil
}

// Start starts all services in dependency order. When a service fails to
// start, the services already started are stopped again.
func (lm *DefaultLifecycleManager) Start(ctx context.Context) error {
	lm.mutex.Lock()
	defer lm.mutex.Unlock()

	if lm.started {
		return ErrAlreadyStarted
	}

	startOrder, err := lm.calculateStartOrder()
	if err != nil {
		return errors.Wrap(err, "failed to calculate start order")
	}

	lm.broadcastEvent(LifecycleEvent{
		Type:      EventLifecycleStarting,
		Timestamp: time.Now(),
		Data:      map[string]interface{}{"order": startOrder},
	})

	for _, serviceName := range startOrder {
		service := lm.services[serviceName]

		lm.broadcastEvent(LifecycleEvent{
			Type:      EventServiceStarting,
			Service:   serviceName,
			Timestamp: time.Now(),
		})

		startCtx, cancel := context.WithTimeout(ctx, lm.timeout)
		err := service.Start(startCtx)
		cancel()

		if err != nil {
			lm.broadcastEvent(LifecycleEvent{
				Type:      EventServiceStartFailed,
				Service:   serviceName,
				Timestamp: time.Now(),
				Error:     err,
			})
			lm.logger.Error("service failed to start", zap.String("service", serviceName), zap.Error(err))

			lm.stopStarted(ctx)
			return &ApplicationError{Operation: "start", Service: serviceName, Err: err}
		}

		lm.startOrder = append(lm.startOrder, serviceName)
		lm.logger.Info("service started", zap.String("service", serviceName))

		lm.broadcastEvent(LifecycleEvent{
			Type:      EventServiceStarted,
			Service:   serviceName,
			Timestamp: time.Now(),
		})
	}

	lm.started = true

	lm.broadcastEvent(LifecycleEvent{
		Type:      EventLifecycleStarted,
		Timestamp: time.Now(),
	})

	return nil
}

// Stop stops all services in reverse start order
func (lm *DefaultLifecycleManager) Stop(ctx context.Context) error {
	lm.mutex.Lock()
	defer lm.mutex.Unlock()

	if !lm.started || lm.stopping {
		return nil
	}
	lm.stopping = true

	lm.broadcastEvent(LifecycleEvent{
		Type:      EventLifecycleStopping,
		Timestamp: time.Now(),
	})

	lastError := lm.stopStarted(ctx)

	lm.started = false
	lm.stopping = false

	lm.broadcastEvent(LifecycleEvent{
		Type:      EventLifecycleStopped,
		Timestamp: time.Now(),
	})

	return lastError
}

// stopStarted stops the started services in reverse order and returns the
// last failure.
func (lm *DefaultLifecycleManager) stopStarted(ctx context.Context) error {
	var lastError error

	for i := len(lm.startOrder) - 1; i >= 0; i-- {
		serviceName := lm.startOrder[i]
		service := lm.services[serviceName]

		lm.broadcastEvent(LifecycleEvent{
			Type:      EventServiceStopping,
			Service:   serviceName,
			Timestamp: time.Now(),
		})

		stopCtx, cancel := context.WithTimeout(ctx, lm.timeout)
		err := service.Stop(stopCtx)
		cancel()

		if err != nil {
			lastError = &ApplicationError{Operation: "stop", Service: serviceName, Err: err}
			lm.logger.Warn("service failed to stop", zap.String("service", serviceName), zap.Error(err))
			lm.broadcastEvent(LifecycleEvent{
				Type:      EventServiceStopFailed,
				Service:   serviceName,
				Timestamp: time.Now(),
				Error:     err,
			})
			continue
		}

		lm.logger.Info("service stopped", zap.String("service", serviceName))
		lm.broadcastEvent(LifecycleEvent{
			Type:      EventServiceStopped,
			Service:   serviceName,
			Timestamp: time.Now(),
		})
	}

	lm.startOrder = nil
	return lastError
}

// Health returns the health status of all services
func (lm *DefaultLifecycleManager) Health(ctx context.Context) (map[string]HealthStatus, error) {
	lm.mutex.RLock()
	defer lm.mutex.RUnlock()

	health := make(map[string]HealthStatus)

	for name, service := range lm.services {
		healthCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		status, err := service.Health(healthCtx)
		cancel()

		if err != nil {
			status = HealthStatus{
				State:   HealthUnhealthy,
				Message: err.Error(),
			}
		}
		if status.LastCheck.IsZero() {
			status.LastCheck = time.Now()
		}
		health[name] = status
	}

	return health, nil
}

// Services returns all registered service names
func (lm *DefaultLifecycleManager) Services() []string {
	lm.mutex.RLock()
	defer lm.mutex.RUnlock()

	names := make([]string, 0, len(lm.services))
	for name := range lm.services {
		names = append(names, name)
	}

	sort.Strings(names)
	return names
}

// Events returns a channel for lifecycle events
func (lm *DefaultLifecycleManager) Events() <-chan LifecycleEvent {
	return lm.eventChan
}

// AddListener adds a lifecycle event listener
func (lm *DefaultLifecycleManager) AddListener(listener func(LifecycleEvent)) {
	lm.mutex.Lock()
	defer lm.mutex.Unlock()

	lm.listeners = append(lm.listeners, listener)
}

// calculateStartOrder orders services with Kahn's algorithm. Services that
// become ready at the same time start in name order.
func (lm *DefaultLifecycleManager) calculateStartOrder() ([]string, error) {
	inDegree := make(map[string]int)
	graph := make(map[string][]string)

	for service := range lm.services {
		inDegree[service] = 0
	}

	for service, deps := range lm.dependencies {
		for _, dep := range deps {
			if _, exists := lm.services[dep]; !exists {
				return nil, errors.Wrapf(ErrUnknownDependency, "%s of service %s", dep, service)
			}
			graph[dep] = append(graph[dep], service)
			inDegree[service]++
		}
	}

	var queue []string
	for service, degree := range inDegree {
		if degree == 0 {
			queue = append(queue, service)
		}
	}
	sort.Strings(queue)

	result := make([]string, 0, len(lm.services))
	for len(queue) > 0 {
		current := queue[0]
		queue = queue[1:]
		result = append(result, current)

		var ready []string
		for _, dependent := range graph[current] {
			inDegree[dependent]--
			if inDegree[dependent] == 0 {
				ready = append(ready, dependent)
			}
		}
		sort.Strings(ready)
		queue = append(queue, ready...)
	}

	if len(result) != len(lm.services) {
		return nil, ErrCircularDependency
	}

	return result, nil
}

// broadcastEvent broadcasts a lifecycle event to all listeners
func (lm *DefaultLifecycleManager) broadcastEvent(event LifecycleEvent) {
	// drop the event when nobody drains the channel
	select {
	case lm.eventChan <- event:
	default:
	}

	for _, listener := range lm.listeners {
		go func(l func(LifecycleEvent)) {
			defer func() {
				if r := recover(); r != nil {
					lm.logger.Error("lifecycle listener panicked", zap.Any("panic", r))
				}
			}()
			l(event)
		}(listener)
	}
}

// SetTimeout sets the timeout for service operations
func (lm *DefaultLifecycleManager) SetTimeout(timeout time.Duration) {
	lm.mutex.Lock()
	defer lm.mutex.Unlock()

	lm.timeout = timeout
}

// IsStarted returns true if the lifecycle manager has been started
func (lm *DefaultLifecycleManager) IsStarted() bool {
	lm.mutex.RLock()
	defer lm.mutex.RUnlock()

	return lm.started
}

// GetService returns a registered service by name
func (lm *DefaultLifecycleManager) GetService(name string) (Service, bool) {
	lm.mutex.RLock()
	defer lm.mutex.RUnlock()

	service, exists := lm.services[name]
	return service, exists
}
