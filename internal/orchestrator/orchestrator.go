package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/seantiz/storefleet/internal/model"
	"github.com/seantiz/storefleet/internal/registry"
	"github.com/seantiz/storefleet/internal/workflow"
)

// DefaultBaseDomain is the domain store hostnames are created under.
const DefaultBaseDomain = "localhost"

// ErrUnsupportedEngine is wrapped by the ValidationError returned for an
// engine with no registered workflow.
var ErrUnsupportedEngine = errors.New("unsupported engine")

// ValidationError rejects a create request before any side effect.
type ValidationError struct {
	Engine    string
	Supported []string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("unsupported engine %q: supported engines are %s", e.Engine, strings.Join(e.Supported, ", "))
}

func (e *ValidationError) Unwrap() error {
	return ErrUnsupportedEngine
}

// TeardownFailure is one best-effort teardown operation that failed.
type TeardownFailure struct {
	Operation string `json:"operation"`
	Error     string `json:"error"`
}

// TeardownReport lists what went wrong while deleting a store. The record is
// removed regardless.
type TeardownReport struct {
	Store    string            `json:"store"`
	Failures []TeardownFailure `json:"failures,omitempty"`
}

// Clean reports whether every teardown operation succeeded.
func (r *TeardownReport) Clean() bool {
	return len(r.Failures) == 0
}

// Observer is notified of workflow progress and teardown problems. Methods
// are called from workflow goroutines and request handlers and must not block.
type Observer interface {
	StepFinished(store, engine string, result workflow.StepResult)
	WorkflowFinished(store *model.Store, err error)
	TeardownFailed(store string, failure TeardownFailure)
}

// NopObserver ignores every notification.
type NopObserver struct{}

func (NopObserver) StepFinished(string, string, workflow.StepResult) {}
func (NopObserver) WorkflowFinished(*model.Store, error)             {}
func (NopObserver) TeardownFailed(string, TeardownFailure)           {}

// Config holds the generators and defaults used when creating stores. Zero
// fields take the production defaults.
type Config struct {
	BaseDomain     string
	AdminUser      string
	PasswordLength int
	DefaultEngine  string

	Observer    Observer
	Now         func() time.Time
	NewName     func() string
	NewPassword func(n int) (string, error)
}

func (c *Config) setDefaults() {
	if c.BaseDomain == "" {
		c.BaseDomain = DefaultBaseDomain
	}
	if c.AdminUser == "" {
		c.AdminUser = model.DefaultAdminUser
	}
	if c.PasswordLength <= 0 {
		c.PasswordLength = model.DefaultPasswordLength
	}
	if c.DefaultEngine == "" {
		c.DefaultEngine = model.EngineWooCommerce
	}
	if c.Observer == nil {
		c.Observer = NopObserver{}
	}
	if c.Now == nil {
		c.Now = time.Now
	}
	if c.NewName == nil {
		c.NewName = model.NewName
	}
	if c.NewPassword == nil {
		c.NewPassword = model.NewPassword
	}
}

// Orchestrator provisions and tears down stores.
type Orchestrator struct {
	registry registry.Registry
	catalog  *workflow.Catalog
	tools    workflow.Tools
	logger   *slog.Logger
	cfg      Config
	broker   *EventBroker
	wg       sync.WaitGroup
}

// New creates an orchestrator. tools supplies the invoker and kubectl used
// for namespace deletion; the workflows in catalog carry their own.
func New(reg registry.Registry, catalog *workflow.Catalog, tools workflow.Tools, logger *slog.Logger, cfg Config) *Orchestrator {
	cfg.setDefaults()
	return &Orchestrator{
		registry: reg,
		catalog:  catalog,
		tools:    tools,
		logger:   logger,
		cfg:      cfg,
		broker:   NewEventBroker(),
	}
}

// Broker returns the live event broker.
func (o *Orchestrator) Broker() *EventBroker {
	return o.broker
}

// Engines returns the catalog's engine descriptions.
func (o *Orchestrator) Engines() []workflow.EngineInfo {
	return o.catalog.List()
}

// Create validates engine, records a new store in Provisioning and starts its
// workflow in the background. The returned record is a copy; the workflow's
// outcome is only visible through the registry, events and the Observer.
func (o *Orchestrator) Create(ctx context.Context, engine string) (*model.Store, error) {
	if engine == "" {
		engine = o.cfg.DefaultEngine
	}
	wf, err := o.catalog.Lookup(engine)
	if err != nil {
		return nil, &ValidationError{Engine: engine, Supported: o.catalog.Engines()}
	}

	password, err := o.cfg.NewPassword(o.cfg.PasswordLength)
	if err != nil {
		return nil, err
	}

	name := o.cfg.NewName()
	s := &model.Store{
		Name:          name,
		Namespace:     model.NamespaceFor(name),
		Engine:        engine,
		Status:        model.StatusProvisioning,
		URL:           model.URLFor(name, o.cfg.BaseDomain),
		AdminUser:     o.cfg.AdminUser,
		AdminPassword: password,
		CreatedAt:     o.cfg.Now().UTC(),
	}

	if err := o.registry.CreateStore(ctx, s); err != nil {
		return nil, fmt.Errorf("create store: %w", err)
	}

	o.logger.Info("store created", "store", s.Name, "engine", engine, "namespace", s.Namespace)

	o.broker.Open(s.Name)
	sCopy := *s
	o.wg.Go(func() {
		o.execute(&sCopy, wf)
	})

	return s, nil
}

// Wait blocks until all in-flight workflows complete.
func (o *Orchestrator) Wait() {
	o.wg.Wait()
}

func (o *Orchestrator) target(s *model.Store) workflow.Target {
	return workflow.Target{
		Name:          s.Name,
		Namespace:     s.Namespace,
		Engine:        s.Engine,
		Host:          model.HostFor(s.Name, o.cfg.BaseDomain),
		AdminUser:     s.AdminUser,
		AdminPassword: s.AdminPassword,
	}
}

// execute runs the store's workflow to its end and records exactly one
// terminal status. Nothing cancels it.
func (o *Orchestrator) execute(s *model.Store, wf workflow.Workflow) {
	defer o.broker.Close(s.Name)

	workflowsInFlight.Inc()
	defer workflowsInFlight.Dec()

	ctx := context.Background()
	logger := o.logger.With("store", s.Name, "engine", s.Engine)
	rec := &recorder{o: o, store: s.Name, logger: logger}

	start := time.Now()
	err := workflow.Execute(ctx, workflow.NewRun(o.target(s)), wf.Steps(), workflow.Hooks{
		OnStart: func(step workflow.Step, index, total int) {
			rec.emit(step.Name, model.EventStarted, fmt.Sprintf("step %d/%d", index+1, total))
		},
		OnFinish: func(r workflow.StepResult) {
			o.stepFinished(rec, s, r)
		},
	})

	status := model.StatusReady
	message := status
	if err != nil {
		status = model.StatusFailed
		message = status + ": " + err.Error()
	}

	provisionsTotal.WithLabelValues(s.Engine, status).Inc()
	provisionDuration.WithLabelValues(s.Engine).Observe(time.Since(start).Seconds())

	if uerr := o.registry.UpdateStoreStatus(ctx, s.Name, status); uerr != nil {
		if errors.Is(uerr, registry.ErrNotFound) {
			logger.Info("store deleted before workflow finished", "status", status)
		} else {
			logger.Error("failed to record final status", "status", status, "error", uerr)
		}
	} else {
		s.Status = status
		rec.emit("", model.EventFinished, message)
	}

	if err != nil {
		logger.Error("store provisioning failed", "error", err)
	} else {
		logger.Info("store provisioned", "url", s.URL, "duration", time.Since(start).Round(time.Millisecond))
	}

	o.cfg.Observer.WorkflowFinished(s, err)
}

func (o *Orchestrator) stepFinished(rec *recorder, s *model.Store, r workflow.StepResult) {
	switch {
	case r.Err == nil:
		rec.emit(r.Step, model.EventCompleted, r.Duration.Round(time.Millisecond).String())
	case r.Policy == workflow.BestEffort:
		stepFailuresTotal.WithLabelValues(s.Engine, r.Step, r.Policy.String()).Inc()
		rec.logger.Warn("best-effort step failed", "step", r.Step, "error", r.Err)
		rec.emit(r.Step, model.EventSkipped, r.Err.Error())
	default:
		stepFailuresTotal.WithLabelValues(s.Engine, r.Step, r.Policy.String()).Inc()
		rec.emit(r.Step, model.EventFailed, r.Err.Error())
	}
	o.cfg.Observer.StepFinished(s.Name, s.Engine, r)
}

// recorder persists and publishes the events of one workflow run. It is
// used only by the goroutine executing that workflow. Once the store has been
// deleted it records nothing more.
type recorder struct {
	o      *Orchestrator
	store  string
	logger *slog.Logger
	seq    int
	gone   bool
}

func (r *recorder) emit(step, kind, message string) {
	if r.gone {
		return
	}
	e := model.Event{
		Store:     r.store,
		Seq:       r.seq,
		Step:      step,
		Kind:      kind,
		Message:   message,
		CreatedAt: r.o.cfg.Now().UTC(),
	}
	r.seq++

	err := r.o.registry.InsertEvent(context.Background(), &e)
	switch {
	case errors.Is(err, registry.ErrNotFound):
		r.gone = true
		r.logger.Info("store deleted during workflow, events no longer recorded", "step", step)
		return
	case err != nil:
		r.logger.Error("failed to persist event", "step", step, "kind", kind, "error", err)
	}
	r.o.broker.Publish(e)
}

// Delete tears down the named store and removes its record. Uninstall and
// namespace deletion are each attempted once, independently; their failures
// are collected in the report rather than returned. The returned error is
// registry.ErrNotFound for an unknown store, or a registry failure.
func (o *Orchestrator) Delete(ctx context.Context, name string) (*TeardownReport, error) {
	s, err := o.registry.GetStore(ctx, name)
	if err != nil {
		return nil, err
	}

	// Teardown runs to completion even if the caller goes away.
	ctx = context.WithoutCancel(ctx)
	logger := o.logger.With("store", s.Name, "engine", s.Engine, "namespace", s.Namespace)
	report := &TeardownReport{Store: s.Name}

	if err := o.uninstall(ctx, s); err != nil {
		o.teardownFailed(logger, report, OpUninstall, err)
	}
	if _, err := o.tools.Invoker.Run(ctx, o.tools.Kubectl.DeleteNamespace(s.Namespace)); err != nil {
		o.teardownFailed(logger, report, OpDeleteNamespace, err)
	}

	if err := o.registry.DeleteStore(ctx, s.Name); err != nil && !errors.Is(err, registry.ErrNotFound) {
		return report, fmt.Errorf("delete store: %w", err)
	}
	o.broker.Forget(s.Name)

	logger.Info("store deleted", "clean", report.Clean())
	return report, nil
}

func (o *Orchestrator) uninstall(ctx context.Context, s *model.Store) error {
	engine := s.Engine
	if engine == "" {
		engine = o.cfg.DefaultEngine
	}
	wf, err := o.catalog.Lookup(engine)
	if err != nil {
		return err
	}
	return wf.Uninstall().Run(ctx, workflow.NewRun(o.target(s)))
}

func (o *Orchestrator) teardownFailed(logger *slog.Logger, report *TeardownReport, op string, err error) {
	f := TeardownFailure{Operation: op, Error: err.Error()}
	report.Failures = append(report.Failures, f)
	teardownFailuresTotal.WithLabelValues(op).Inc()
	logger.Warn("teardown operation failed", "operation", op, "error", err)
	o.cfg.Observer.TeardownFailed(report.Store, f)
}

// Get returns the named store.
func (o *Orchestrator) Get(ctx context.Context, name string) (*model.Store, error) {
	return o.registry.GetStore(ctx, name)
}

// List returns every store, oldest first.
func (o *Orchestrator) List(ctx context.Context) ([]*model.Store, error) {
	return o.registry.ListStores(ctx)
}

// Stats returns aggregate store counts.
func (o *Orchestrator) Stats(ctx context.Context) (*registry.Stats, error) {
	return o.registry.GetStoreStats(ctx)
}

// Events returns the persisted event history of the named store.
func (o *Orchestrator) Events(ctx context.Context, name string) ([]model.Event, error) {
	if _, err := o.registry.GetStore(ctx, name); err != nil {
		return nil, err
	}
	return o.registry.GetEvents(ctx, name)
}

// Subscribe streams the live events of the named store until its workflow
// finishes. Call the returned function to stop early.
func (o *Orchestrator) Subscribe(name string) (<-chan model.Event, func()) {
	return o.broker.Subscribe(name)
}

// FailOrphaned marks stores left in Provisioning by an earlier process as
// Failed. Their workflows cannot resume, so without this they would never
// leave Provisioning. It must run before the first Create.
func (o *Orchestrator) FailOrphaned(ctx context.Context) (int, error) {
	orphans, err := o.registry.ListStoresByStatus(ctx, model.StatusProvisioning)
	if err != nil {
		return 0, fmt.Errorf("list orphaned stores: %w", err)
	}

	n := 0
	for _, s := range orphans {
		err := o.registry.UpdateStoreStatus(ctx, s.Name, model.StatusFailed)
		switch {
		case errors.Is(err, registry.ErrNotFound), errors.Is(err, registry.ErrInvalidTransition):
			continue
		case err != nil:
			return n, fmt.Errorf("fail orphaned store %s: %w", s.Name, err)
		}

		events, err := o.registry.GetEvents(ctx, s.Name)
		if err != nil {
			return n, fmt.Errorf("fail orphaned store %s: %w", s.Name, err)
		}
		e := model.Event{
			Store:     s.Name,
			Seq:       len(events),
			Kind:      model.EventFinished,
			Message:   "workflow interrupted by restart",
			CreatedAt: o.cfg.Now().UTC(),
		}
		if err := o.registry.InsertEvent(ctx, &e); err != nil {
			o.logger.Error("failed to persist event", "store", s.Name, "error", err)
		}

		provisionsTotal.WithLabelValues(s.Engine, model.StatusFailed).Inc()
		o.logger.Warn("orphaned store marked failed", "store", s.Name, "engine", s.Engine)
		n++
	}
	return n, nil
}
