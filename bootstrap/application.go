package bootstrap

import (
	"context"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/najoast/procsys/config"
	"github.com/najoast/procsys/core"
	"github.com/najoast/procsys/monitor"
)

var (
	// ErrApplicationRunning is returned by Run on a running application.
	ErrApplicationRunning = errors.New("application is already running")

	// ErrStopApplication is returned by a Worker to stop the application
	// without reporting an error.
	ErrStopApplication = errors.New("stop application")
)

const defaultShutdownTimeout = 10 * time.Second

// Worker is a function run alongside the scheduler by Application.Run. A
// worker returning an error stops the application, returning nil does not.
type Worker func(ctx context.Context, system *core.System) error

// Option configures a DefaultApplication
type Option func(*DefaultApplication)

// WithLogger sets the logger instead of building one from the config
func WithLogger(logger *zap.Logger) Option {
	return func(app *DefaultApplication) {
		app.logger = logger
	}
}

// WithConfigFile enables hot reload of the scheduler settings from path
func WithConfigFile(path string) Option {
	return func(app *DefaultApplication) {
		app.configFile = path
	}
}

// WithRegistry sets the Prometheus registry metrics are registered with
func WithRegistry(registry *prometheus.Registry) Option {
	return func(app *DefaultApplication) {
		app.registry = registry
	}
}

// WithWorker adds a worker run by Application.Run
func WithWorker(worker Worker) Option {
	return func(app *DefaultApplication) {
		app.workers = append(app.workers, worker)
	}
}

// DefaultApplication implements the Application interface
type DefaultApplication struct {
	cfg        *config.Config
	configFile string
	logger     *zap.Logger

	system    *core.System
	registry  *prometheus.Registry
	recorder  *monitor.Recorder
	monitor   *monitor.Server
	lifecycle *DefaultLifecycleManager
	workers   []Worker

	mutex   sync.Mutex
	running bool
	cancel  context.CancelFunc
	done    chan struct{}
}

// NewApplication creates an application from cfg
func NewApplication(cfg *config.Config, opts ...Option) (*DefaultApplication, error) {
	if cfg == nil {
		cfg = config.DefaultConfig()
	}
	if err := cfg.Validate(); err != nil {
		return nil, errors.Wrap(err, "invalid configuration")
	}

	app := &DefaultApplication{cfg: cfg}
	for _, opt := range opts {
		opt(app)
	}

	if app.logger == nil {
		logger, err := config.NewLogger(cfg.Log)
		if err != nil {
			return nil, err
		}
		app.logger = logger
	}
	app.logger = app.logger.With(zap.String("app", cfg.App.Name))

	if app.registry == nil {
		app.registry = prometheus.NewRegistry()
		app.registry.MustRegister(
			collectors.NewGoCollector(),
			collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		)
	}

	recorder, err := monitor.NewRecorder(app.registry, cfg.Monitor.Namespace)
	if err != nil {
		return nil, errors.Wrap(err, "failed to register metrics")
	}
	app.recorder = recorder

	app.system = core.NewSystem(core.Options{
		Scheduler: core.SchedulerOptions{
			ReductionBudget: cfg.Scheduler.ReductionBudget,
			Throttle:        cfg.Scheduler.Throttle,
		},
		Logger:      app.logger.Named("core"),
		Recorder:    recorder,
		RootProcess: cfg.Scheduler.RootProcess,
	})

	app.lifecycle = NewLifecycleManager(app.logger.Named("lifecycle"))
	if cfg.App.ShutdownTimeout > 0 {
		app.lifecycle.SetTimeout(cfg.App.ShutdownTimeout)
	}
	if err := app.registerServices(); err != nil {
		return nil, err
	}

	return app, nil
}

func (app *DefaultApplication) registerServices() error {
	if err := app.lifecycle.Register(ServiceSystem, NewSystemService(app.system)); err != nil {
		return err
	}

	if app.cfg.Monitor.Enabled {
		app.monitor = monitor.NewServer(app.cfg.Monitor, app.system, app.registry, app.logger.Named("monitor"))
		if err := app.lifecycle.Register(ServiceMonitor, NewMonitorService(app.monitor), ServiceSystem); err != nil {
			return err
		}
	}

	if app.configFile != "" {
		watcher, err := config.NewWatcher(app.configFile, config.NewLoader(), app.logger.Named("config"))
		if err != nil {
			return errors.Wrap(err, "failed to create config watcher")
		}
		service := NewWatcherService(watcher, app.system, app.logger.Named("config"))
		if err := app.lifecycle.Register(ServiceWatcher, service, ServiceSystem); err != nil {
			return err
		}
	}

	return nil
}

// Run starts every service and drives the scheduler until ctx is done,
// SIGINT or SIGTERM is received, Shutdown is called or a worker fails. The
// services are stopped before Run returns.
func (app *DefaultApplication) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	app.mutex.Lock()
	if app.running {
		app.mutex.Unlock()
		return ErrApplicationRunning
	}
	app.running = true
	app.cancel = cancel
	app.done = make(chan struct{})
	done := app.done
	app.mutex.Unlock()

	defer func() {
		app.mutex.Lock()
		app.running = false
		app.cancel = nil
		app.mutex.Unlock()
		close(done)
	}()

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := app.lifecycle.Start(ctx); err != nil {
		return errors.Wrap(err, "failed to start services")
	}

	app.logger.Info("application started",
		zap.String("version", app.cfg.App.Version),
		zap.String("environment", app.cfg.App.Environment.String()),
		zap.Strings("services", app.lifecycle.Services()))

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return app.system.Run(gctx)
	})
	for _, worker := range app.workers {
		worker := worker
		g.Go(func() error {
			err := worker(gctx, app.system)
			if errors.Is(err, ErrStopApplication) {
				cancel()
				return nil
			}
			return err
		})
	}
	if app.monitor != nil {
		app.monitor.SetReady(true)
	}

	runErr := g.Wait()
	if runErr != nil {
		app.logger.Error("application stopped with error", zap.Error(runErr))
	} else {
		app.logger.Info("application stopping")
	}

	timeout := app.cfg.App.ShutdownTimeout
	if timeout <= 0 {
		timeout = defaultShutdownTimeout
	}
	stopCtx, stopCancel := context.WithTimeout(context.Background(), timeout)
	defer stopCancel()

	if err := app.lifecycle.Stop(stopCtx); err != nil {
		app.logger.Error("failed to stop services", zap.Error(err))
		if runErr == nil {
			runErr = errors.Wrap(err, "failed to stop services")
		}
	} else {
		app.logger.Info("application stopped")
	}
	_ = app.logger.Sync()

	return runErr
}

// Shutdown stops a running application and waits until Run has returned
func (app *DefaultApplication) Shutdown(ctx context.Context) error {
	app.mutex.Lock()
	cancel, done := app.cancel, app.done
	app.mutex.Unlock()

	if cancel == nil {
		return nil
	}
	cancel()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// System returns the process system
func (app *DefaultApplication) System() *core.System {
	return app.system
}

// LifecycleManager returns the lifecycle manager
func (app *DefaultApplication) LifecycleManager() LifecycleManager {
	return app.lifecycle
}

// Config returns the configuration the application was built from
func (app *DefaultApplication) Config() *config.Config {
	return app.cfg
}

// Registry returns the Prometheus registry of the application
func (app *DefaultApplication) Registry() *prometheus.Registry {
	return app.registry
}

// Logger returns the application logger
func (app *DefaultApplication) Logger() *zap.Logger {
	return app.logger
}

var _ Application = (*DefaultApplication)(nil)
