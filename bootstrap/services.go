package bootstrap

import (
	"context"

	"go.uber.org/zap"

	"github.com/najoast/procsys/config"
	"github.com/najoast/procsys/core"
	"github.com/najoast/procsys/monitor"
)

// Service names registered by the Application
const (
	ServiceSystem  = "system"
	ServiceMonitor = "monitor"
	ServiceWatcher = "config-watcher"
)

// SystemService manages the process System. The scheduler loop itself is
// driven by Application.Run, Stop tears every live process down.
type SystemService struct {
	system *core.System
}

// NewSystemService wraps system as a managed service
func NewSystemService(system *core.System) *SystemService {
	return &SystemService{system: system}
}

func (s *SystemService) Name() string {
	return ServiceSystem
}

func (s *SystemService) Start(ctx context.Context) error {
	return nil
}

func (s *SystemService) Stop(ctx context.Context) error {
	return s.system.Shutdown(ctx)
}

func (s *SystemService) Health(ctx context.Context) (HealthStatus, error) {
	scheduler := s.system.Scheduler()
	status := HealthStatus{
		State:   HealthHealthy,
		Message: "scheduler running",
		Data: map[string]interface{}{
			"processes":  s.system.Count(),
			"pending":    scheduler.Pending(),
			"reductions": scheduler.TotalReductions(),
		},
	}
	if !scheduler.Running() {
		status.State = HealthStopped
		status.Message = "scheduler not running"
	}
	return status, nil
}

// MonitorService manages the HTTP monitoring server
type MonitorService struct {
	server *monitor.Server
}

// NewMonitorService wraps server as a managed service
func NewMonitorService(server *monitor.Server) *MonitorService {
	return &MonitorService{server: server}
}

func (s *MonitorService) Name() string {
	return ServiceMonitor
}

func (s *MonitorService) Start(ctx context.Context) error {
	_, err := s.server.Start()
	return err
}

func (s *MonitorService) Stop(ctx context.Context) error {
	return s.server.Stop(ctx)
}

func (s *MonitorService) Health(ctx context.Context) (HealthStatus, error) {
	addr := s.server.Addr()
	if addr == "" {
		return HealthStatus{State: HealthStopped, Message: "monitor server not listening"}, nil
	}
	return HealthStatus{
		State:   HealthHealthy,
		Message: "monitor server listening",
		Data:    map[string]interface{}{"address": addr},
	}, nil
}

// WatcherService reloads the configuration file and applies scheduler
// settings to the running System.
type WatcherService struct {
	watcher *config.Watcher
	system  *core.System
	logger  *zap.Logger
}

// NewWatcherService wraps watcher as a managed service
func NewWatcherService(watcher *config.Watcher, system *core.System, logger *zap.Logger) *WatcherService {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &WatcherService{watcher: watcher, system: system, logger: logger}
	watcher.OnConfigChange(s.apply)
	return s
}

func (s *WatcherService) Name() string {
	return ServiceWatcher
}

func (s *WatcherService) Start(ctx context.Context) error {
	return s.watcher.Start()
}

func (s *WatcherService) Stop(ctx context.Context) error {
	return s.watcher.Stop()
}

func (s *WatcherService) Health(ctx context.Context) (HealthStatus, error) {
	cfg := s.watcher.GetConfig()
	return HealthStatus{
		State: HealthHealthy,
		Data: map[string]interface{}{
			"reduction_budget": cfg.Scheduler.ReductionBudget,
			"throttle":         cfg.Scheduler.Throttle.String(),
		},
	}, nil
}

// apply pushes live-tunable settings into the scheduler
func (s *WatcherService) apply(oldConfig, newConfig *config.Config) {
	scheduler := s.system.Scheduler()

	if oldConfig.Scheduler.ReductionBudget != newConfig.Scheduler.ReductionBudget {
		scheduler.SetReductionBudget(newConfig.Scheduler.ReductionBudget)
		s.logger.Info("reduction budget changed", zap.Int("budget", newConfig.Scheduler.ReductionBudget))
	}
	if oldConfig.Scheduler.Throttle != newConfig.Scheduler.Throttle {
		scheduler.SetThrottle(newConfig.Scheduler.Throttle)
		s.logger.Info("scheduler throttle changed", zap.Duration("throttle", newConfig.Scheduler.Throttle))
	}
}
