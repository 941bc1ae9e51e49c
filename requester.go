package taskvisor

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/pkg/errors"

	"github.com/lancer-kit/taskvisor/imq"
	"github.com/lancer-kit/taskvisor/registry"
)

// Requester asks the control process for new workers. It must live on an
// endpoint other than the control one.
type Requester struct {
	ep      *imq.Endpoint
	store   *registry.Store
	timeout time.Duration

	mu      sync.Mutex
	pending map[string]chan *imq.Message
}

// NewRequester wraps ep. Workers are looked up in store once created.
func NewRequester(ep *imq.Endpoint, store *registry.Store) *Requester {
	r := &Requester{
		ep:      ep,
		store:   store,
		timeout: DefaultCreateTimeout,
		pending: map[string]chan *imq.Message{},
	}
	ep.On(imq.ChanCreated, r.resolve)
	ep.On(imq.ChanCreateFailed, r.resolve)
	return r
}

// NewRequester attaches a requester endpoint to the supervisor's broker.
func (s *Supervisor) NewRequester() (*Requester, error) {
	store := s.registry()
	if store == nil {
		return nil, ErrNotInitialized
	}

	ep, err := s.broker.Attach(imq.Address("req-"+ulid.Make().String()), imq.RoleRequester)
	if err != nil {
		return nil, errors.Wrap(err, "unable to attach requester")
	}

	r := NewRequester(ep, store)
	if s.cfg.CreateTimeout > 0 {
		r.timeout = s.cfg.CreateTimeout
	}
	return r, nil
}

// CreateWorker asks for a worker running taskFile and waits until its
// context is ready. A ctx without deadline is bounded by the create timeout.
func (r *Requester) CreateWorker(ctx context.Context, taskFile string, debug bool) (*Worker, error) {
	if r.ep.Role() == imq.RoleControl {
		return nil, ErrWrongProcess
	}
	if _, ok := r.ep.Broker().Lookup(imq.ControlAddress); !ok {
		return nil, ErrNotInitialized
	}

	if _, ok := ctx.Deadline(); !ok && r.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.timeout)
		defer cancel()
	}

	reqID := ulid.Make().String()
	result := make(chan *imq.Message, 1)

	r.mu.Lock()
	r.pending[reqID] = result
	r.mu.Unlock()
	defer func() {
		r.mu.Lock()
		delete(r.pending, reqID)
		r.mu.Unlock()
	}()

	err := r.ep.Post(&imq.Message{
		To:        imq.ControlAddress,
		Channel:   imq.ChanCreate,
		RequestID: reqID,
		Payload:   imq.CreateRequest{TaskFile: taskFile, Debug: debug},
	})
	if err != nil {
		return nil, errors.Wrap(err, "unable to send create request")
	}

	select {
	case msg := <-result:
		if msg.Channel == imq.ChanCreateFailed {
			return nil, errors.Wrap(ErrContextFailed, fmt.Sprint(msg.Payload))
		}

		id, _ := msg.Payload.(string)
		v, ok := r.store.Get(id)
		if !ok {
			return nil, errors.Wrap(ErrWorkerNotFound, id)
		}
		w, ok := v.(*Worker)
		if !ok {
			return nil, errors.Wrap(ErrWorkerNotFound, id)
		}
		return w, nil
	case <-ctx.Done():
		return nil, errors.Wrap(ctx.Err(), "create worker")
	}
}

// Close detaches the requester endpoint.
func (r *Requester) Close() {
	r.ep.Close()
}

func (r *Requester) resolve(msg *imq.Message) {
	r.mu.Lock()
	ch, ok := r.pending[msg.RequestID]
	r.mu.Unlock()

	if !ok {
		return
	}
	select {
	case ch <- msg:
	default:
	}
}
