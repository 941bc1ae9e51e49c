package taskvisor

import (
	"fmt"
	"sync"

	validation "github.com/go-ozzo/ozzo-validation/v4"
	"github.com/oklog/ulid/v2"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/lancer-kit/taskvisor/imq"
	"github.com/lancer-kit/taskvisor/registry"
	"github.com/lancer-kit/taskvisor/task"
	"github.com/lancer-kit/taskvisor/xctx"
)

var (
	ErrNotInitialized   = errors.New("supervisor is not initialized")
	ErrWrongProcess     = errors.New("workers must be requested from outside the control process")
	ErrContextFailed    = errors.New("worker context failed before it was ready")
	ErrWorkerNotFound   = errors.New("worker not found")
	ErrMalformedRequest = errors.New("malformed create request")

	errAlreadyInitialized = errors.New("already initialized")
)

// Option configures a Supervisor.
type Option func(*Supervisor)

// WithLogger sets the base logger.
func WithLogger(entry *logrus.Entry) Option {
	return func(s *Supervisor) { s.logger = entry }
}

// WithBroker shares an existing message broker.
func WithBroker(b *imq.Broker) Option {
	return func(s *Supervisor) { s.broker = b }
}

// WithHub shares an existing registry hub.
func WithHub(h *registry.Hub) Option {
	return func(s *Supervisor) { s.hub = h }
}

// WithCatalog sets the catalog tasks are resolved from.
func WithCatalog(c *task.Catalog) Option {
	return func(s *Supervisor) { s.catalog = c }
}

// WithEventHandler sets the consumer of internal events.
func WithEventHandler(h EventHandler) Option {
	return func(s *Supervisor) { s.eventHandler = h }
}

// WithMetrics enables prometheus metrics.
func WithMetrics(m *Metrics) Option {
	return func(s *Supervisor) { s.metrics = m }
}

// WithAppInfo sets the application details reported by Info.
func WithAppInfo(app AppInfo) Option {
	return func(s *Supervisor) { s.app = app }
}

// Supervisor is the control process: it creates workers on request, routes
// the events their contexts report and tears them down.
type Supervisor struct {
	cfg          Config
	app          AppInfo
	logger       *logrus.Entry
	broker       *imq.Broker
	hub          *registry.Hub
	catalog      *task.Catalog
	metrics      *Metrics
	eventHandler EventHandler

	mu          sync.Mutex
	initialized bool
	bootstrap   string
	store       *registry.Store
	control     *imq.Endpoint
	contexts    map[string]*xctx.Handle
}

func NewSupervisor(cfg Config, opts ...Option) *Supervisor {
	s := &Supervisor{
		cfg:      cfg,
		contexts: map[string]*xctx.Handle{},
	}
	for _, opt := range opts {
		opt(s)
	}

	if s.logger == nil {
		s.logger = logrus.NewEntry(logrus.StandardLogger())
	}
	s.logger = s.logger.WithFields(logrus.Fields{
		"app":     s.app.Name,
		"service": "worker-supervisor",
	})
	if s.broker == nil {
		s.broker = imq.NewBroker(s.logger)
	}
	if s.hub == nil {
		s.hub = registry.NewHub()
	}
	if s.catalog == nil {
		s.catalog = task.NewCatalog()
	}
	if s.eventHandler == nil {
		s.eventHandler = LogrusEventHandler(s.logger)
	}
	return s
}

// Init prepares the control process. bootstrap is the locator every worker
// context is started from; task files resolve relative to its directory.
// Calls after the first successful one do nothing.
func (s *Supervisor) Init(bootstrap string, host Host) error {
	err := s.init(bootstrap)
	if err == errAlreadyInitialized {
		return nil
	}
	if err != nil {
		return err
	}
	if host != nil {
		host.OnClose(s.StopAll)
	}

	s.event(InfoEvent("supervisor initialized").SetField("bootstrap", bootstrap))
	return nil
}

func (s *Supervisor) init(bootstrap string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.initialized {
		return errAlreadyInitialized
	}

	if err := s.cfg.Validate(); err != nil {
		return errors.Wrap(err, "invalid supervisor config")
	}
	if err := validation.Validate(bootstrap, validation.Required); err != nil {
		return errors.Wrap(err, "bootstrap")
	}

	storeOpts := []registry.Option{}
	if s.cfg.StoreDir != "" {
		storeOpts = append(storeOpts, registry.WithDir(s.cfg.StoreDir))
	}
	store, err := s.hub.Open(s.cfg.StoreID, storeOpts...)
	if err != nil {
		return errors.Wrap(err, "unable to open worker store")
	}

	control, err := s.broker.Attach(imq.ControlAddress, imq.RoleControl)
	if err != nil {
		return errors.Wrap(err, "unable to attach control endpoint")
	}

	control.On(imq.ChanCreate, s.handleCreate)
	control.On(imq.ChanUpdate, s.route((*Worker).handleUpdate))
	control.On(imq.ChanEnd, s.route((*Worker).handleEnd))
	control.On(imq.ChanError, s.route((*Worker).handleError))

	s.bootstrap = bootstrap
	s.store = store
	s.control = control
	s.initialized = true
	return nil
}

// Initialized reports whether Init completed.
func (s *Supervisor) Initialized() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.initialized
}

// Catalog returns the task catalog.
func (s *Supervisor) Catalog() *task.Catalog { return s.catalog }

// Broker returns the message broker.
func (s *Supervisor) Broker() *imq.Broker { return s.broker }

// Store returns the worker registry view, nil before Init.
func (s *Supervisor) Store() *registry.Store { return s.registry() }

// Bootstrap returns the locator given to Init.
func (s *Supervisor) Bootstrap() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.bootstrap
}

// Info returns the application details and the states of all workers.
func (s *Supervisor) Info() StateInfo {
	return StateInfo{
		App:     s.app,
		Workers: s.GetWorkersStates(),
	}
}

// Commit writes the worker registry to `<StoreDir>/<StoreID>.json`.
func (s *Supervisor) Commit() error {
	store := s.registry()
	if store == nil {
		return ErrNotInitialized
	}
	return store.Commit(registry.CommitOptions{})
}

// Shutdown stops every worker, destroys contexts left open by debug
// workers and detaches the control endpoint.
func (s *Supervisor) Shutdown() {
	s.StopAll()

	s.mu.Lock()
	handles := make([]*xctx.Handle, 0, len(s.contexts))
	for _, h := range s.contexts {
		handles = append(handles, h)
	}
	control := s.control
	persist := s.cfg.Persist && s.store != nil
	s.mu.Unlock()

	for _, h := range handles {
		h.Destroy()
	}

	if persist {
		if err := s.Commit(); err != nil {
			s.event(ErrorEvent("unable to commit worker store").SetField("error", err.Error()))
		}
	}

	if control != nil {
		control.Close()
	}
	s.event(InfoEvent("supervisor stopped"))
}

func (s *Supervisor) registry() *registry.Store {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.store
}

func (s *Supervisor) event(e Event) {
	if s.eventHandler != nil {
		s.eventHandler(e)
	}
}

func (s *Supervisor) route(fn func(w *Worker, payload interface{})) imq.HandlerFunc {
	return func(msg *imq.Message) {
		w, ok := s.Worker(msg.WorkerID)
		if !ok {
			s.logger.WithFields(logrus.Fields{
				"worker_id": msg.WorkerID,
				"channel":   msg.Channel,
			}).Debug("event for unknown worker dropped")
			return
		}
		fn(w, msg.Payload)
	}
}

func (s *Supervisor) handleCreate(msg *imq.Message) {
	var req imq.CreateRequest
	switch p := msg.Payload.(type) {
	case imq.CreateRequest:
		req = p
	case *imq.CreateRequest:
		req = *p
	default:
		s.reply(msg, imq.ChanCreateFailed, "", ErrMalformedRequest.Error())
		return
	}

	s.mu.Lock()
	store, control, bootstrap := s.store, s.control, s.bootstrap
	s.mu.Unlock()

	id := ulid.Make().String()
	w := newWorker(id, req.TaskFile, req.Debug, store, s.logger, s.metrics)
	store.Set(id, w, registry.Overwrite())
	s.metrics.workerCreated()

	boot := func(h *xctx.Handle) error {
		return task.InitTask(h, store, s.catalog)
	}
	h, err := xctx.Create(s.broker, control, bootstrap,
		map[string]string{xctx.QueryWorkerID: id}, boot, s.logger)
	if err != nil {
		w.Stop()
		s.metrics.workerCreateFailed()
		s.event(ErrorEvent("unable to create worker context").SetWorker(id).SetField("error", err.Error()))
		s.reply(msg, imq.ChanCreateFailed, id, err.Error())
		return
	}
	w.attach(h)

	s.mu.Lock()
	s.contexts[id] = h
	s.mu.Unlock()

	h.OnReady(func() {
		s.metrics.workerReady(w.created)
		w.ready()
		s.event(InfoEvent("worker created").SetWorker(id).SetField("task_file", req.TaskFile))
		s.reply(msg, imq.ChanCreated, id, id)
	})

	h.OnDestroyed(func() {
		s.mu.Lock()
		delete(s.contexts, id)
		s.mu.Unlock()

		if !h.IsReady() {
			reason := "context destroyed"
			if err := h.Err(); err != nil {
				reason = err.Error()
			}
			s.metrics.workerCreateFailed()
			s.event(ErrorEvent("worker context failed").SetWorker(id).SetField("error", reason))
			s.reply(msg, imq.ChanCreateFailed, id, reason)
		}
		w.Stop()
	})

	h.Load()
}

func (s *Supervisor) reply(req *imq.Message, channel imq.Channel, workerID string, payload interface{}) {
	s.mu.Lock()
	control := s.control
	s.mu.Unlock()

	err := control.Post(&imq.Message{
		To:        req.From,
		Channel:   channel,
		WorkerID:  workerID,
		RequestID: req.RequestID,
		Payload:   payload,
	})
	if err != nil {
		s.logger.WithError(err).WithField("to", req.From).Debug(fmt.Sprintf("unable to send %s", channel))
	}
}
