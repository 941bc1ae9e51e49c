package task

import (
	"fmt"
	"sync"
	"time"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/lancer-kit/taskvisor/imq"
	"github.com/lancer-kit/taskvisor/registry"
	"github.com/lancer-kit/taskvisor/xctx"
)

// Context is the in-context view of an execution context.
type Context interface {
	Endpoint() *imq.Endpoint
	Bootstrap() string
	Query() map[string]string
	IsDestroyed() bool
	Destroy()
	Logger() *logrus.Entry
}

type runtime struct {
	ctx      Context
	host     Host
	task     Task
	workerID string
	mode     Mode
	delay    time.Duration
	logger   *logrus.Entry
}

// InitTask bootstraps the task of the worker named in the context query.
// It must run inside the context, usually as its xctx.BootFunc.
func InitTask(ctx Context, store *registry.Store, catalog *Catalog) error {
	ep := ctx.Endpoint()
	if ep == nil || ep.Role() != imq.RoleContext {
		return ErrWrongProcess
	}

	workerID := ctx.Query()[xctx.QueryWorkerID]
	if workerID == "" {
		return ErrMissingWorkerID
	}

	value, ok := store.Get(workerID)
	if !ok {
		return errors.Wrap(ErrWorkerNotFound, workerID)
	}
	host, ok := value.(Host)
	if !ok {
		return errors.Wrap(ErrWorkerNotFound, workerID)
	}

	factory, err := catalog.Resolve(ResolvePath(ctx.Bootstrap(), host.TaskFile()))
	if err != nil {
		return err
	}

	instance := factory(workerID)
	if instance == nil {
		return errors.Wrapf(ErrNotConstructor, "task %q built nothing", host.TaskFile())
	}
	host.Bind(instance)

	mode, delay := ModeOf(instance)
	rt := &runtime{
		ctx:      ctx,
		host:     host,
		task:     instance,
		workerID: workerID,
		mode:     mode,
		delay:    delay,
		logger: ctx.Logger().WithFields(logrus.Fields{
			"worker_id": workerID,
			"mode":      mode,
		}),
	}

	ep.On(imq.ChanMessage, rt.onMessage)
	ep.On(imq.ChanClose, rt.onClose)
	ep.On(imq.ChanExecute, rt.onExecute)
	return nil
}

func (rt *runtime) onMessage(msg *imq.Message) {
	if rt.ctx.IsDestroyed() {
		return
	}
	handler, ok := rt.task.(MessageHandler)
	if !ok {
		return
	}

	switch env := msg.Payload.(type) {
	case imq.Envelope:
		handler.OnMessage(env.Channel, env.Payload)
	case *imq.Envelope:
		handler.OnMessage(env.Channel, env.Payload)
	default:
		rt.logger.WithField("payload", msg.Payload).Warn("malformed message envelope")
	}
}

func (rt *runtime) onClose(*imq.Message) {
	if rt.ctx.IsDestroyed() {
		return
	}

	var once sync.Once
	done := func() { once.Do(rt.ctx.Destroy) }

	if closer, ok := rt.task.(Closer); ok {
		closer.Close(done)
		return
	}
	done()
}

func (rt *runtime) onExecute(msg *imq.Message) {
	if rt.ctx.IsDestroyed() {
		return
	}
	params := msg.Payload

	switch rt.mode {
	case ModeInterval:
		tick := func() {
			rt.ctx.Endpoint().Do(func() {
				if !rt.ctx.IsDestroyed() {
					rt.run(params, rt.reporter(params))
				}
			})
		}
		if !rt.host.StartInterval(rt.delay, tick) {
			rt.logger.Warn("worker refused to start interval")
		}
	default:
		rt.run(params, rt.reporter(params))
	}
}

func (rt *runtime) reporter(params interface{}) *reporter {
	return &reporter{rt: rt, params: params}
}

func (rt *runtime) run(params interface{}, r *reporter) {
	defer func() {
		if rec := recover(); rec != nil {
			rt.logger.WithField("panic", rec).Error("task run panicked")
			r.Error(fmt.Sprintf("task panicked: %v", rec), false)
		}
	}()

	rt.task.Run(params, r)
}

func (rt *runtime) send(channel imq.Channel, payload interface{}) {
	if rt.ctx.IsDestroyed() {
		return
	}
	err := rt.ctx.Endpoint().Send(imq.ControlAddress, channel, rt.workerID, payload)
	if err != nil {
		rt.logger.WithError(err).WithField("channel", channel).Debug("unable to report")
	}
}

// reporter is bound to a single Run round.
type reporter struct {
	rt     *runtime
	params interface{}
	next   sync.Once
}

func (r *reporter) Update(payload interface{}) {
	r.rt.send(imq.ChanUpdate, payload)
}

func (r *reporter) End(payload interface{}) {
	r.rt.send(imq.ChanEnd, payload)
}

func (r *reporter) Error(payload interface{}, alsoEnd bool) {
	if r.rt.ctx.IsDestroyed() {
		return
	}
	r.rt.send(imq.ChanError, payload)
	if alsoEnd {
		r.End(nil)
	}
}

func (r *reporter) Next() {
	rt := r.rt
	if rt.mode != ModeTimeout || rt.ctx.IsDestroyed() {
		return
	}

	r.next.Do(func() {
		time.AfterFunc(rt.delay, func() {
			rt.ctx.Endpoint().Do(func() {
				if !rt.ctx.IsDestroyed() {
					rt.run(r.params, rt.reporter(r.params))
				}
			})
		})
	})
}
