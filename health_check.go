package taskvisor

import (
	"context"
	"encoding/json"

	"github.com/lancer-kit/sam"
	"github.com/pkg/errors"

	"github.com/lancer-kit/taskvisor/socket"
)

const (
	// StatusAction is a command useful for health-checks, because it returns status of all workers.
	StatusAction = "status"
	// PingAction is a simple command that returns the "pong" message.
	PingAction = "ping"
	// StopAllAction stops every worker.
	StopAllAction = "stop-all"
	// PauseAction pauses the worker named in `WorkerArgs`.
	PauseAction = "pause"
	// ResumeAction resumes the worker named in `WorkerArgs`.
	ResumeAction = "resume"
	// StopAction stops the worker named in `WorkerArgs`.
	StopAction = "stop"
)

// AppInfo is a details of the *Application* build.
type AppInfo struct {
	Name    string `json:"name"`
	Version string `json:"version"`
	Build   string `json:"build"`
	Tag     string `json:"tag"`
}

// SocketName returns name of the *Service Socket*.
func (app AppInfo) SocketName() string {
	return "/tmp/_taskvisor_" + app.Name + ".socket"
}

// StateInfo is result the `StatusAction` command.
type StateInfo struct {
	App     AppInfo              `json:"app"`
	Workers map[string]sam.State `json:"workers"`
}

// ParseStateInfo decodes `StateInfo` from the JSON response for the `StatusAction` command.
func ParseStateInfo(data json.RawMessage) (*StateInfo, error) {
	var res = new(StateInfo)
	if err := json.Unmarshal(data, res); err != nil {
		return nil, errors.Wrap(err, "invalid state info")
	}
	return res, nil
}

// WorkerArgs are the arguments of the per-worker socket actions.
type WorkerArgs struct {
	WorkerID string `json:"worker_id"`
}

// SocketActions returns the service socket commands of the supervisor.
func (s *Supervisor) SocketActions() []socket.Action {
	return []socket.Action{
		{
			Name: StatusAction,
			Handler: func(socket.Request) socket.Response {
				return socket.OK(s.Info())
			},
		},
		{
			Name: PingAction,
			Handler: func(socket.Request) socket.Response {
				return socket.OK("pong")
			},
		},
		{
			Name: StopAllAction,
			Handler: func(socket.Request) socket.Response {
				s.StopAll()
				return socket.OK(s.Info())
			},
		},
		{Name: PauseAction, Handler: s.workerAction((*Worker).Pause)},
		{Name: ResumeAction, Handler: s.workerAction((*Worker).Resume)},
		{Name: StopAction, Handler: s.workerAction((*Worker).Stop)},
	}
}

// ServeSocket runs the service socket until ctx is done.
func (s *Supervisor) ServeSocket(ctx context.Context) error {
	server := socket.NewServer(s.app.SocketName(), s.SocketActions()...)
	go func() {
		for {
			select {
			case err := <-server.Errors():
				s.event(ErrorEvent("service socket").SetField("error", err.Error()))
			case <-ctx.Done():
				return
			}
		}
	}()

	s.logger.WithField("socket", s.app.SocketName()).Info("service socket enabled")
	return server.Serve(ctx)
}

func (s *Supervisor) workerAction(fn func(w *Worker) bool) socket.ActionFunc {
	return func(req socket.Request) socket.Response {
		var args WorkerArgs
		if err := req.Bind(&args); err != nil {
			return socket.Fail(err)
		}

		w, ok := s.Worker(args.WorkerID)
		if !ok {
			return socket.Fail(errors.Wrap(ErrWorkerNotFound, args.WorkerID))
		}
		return socket.OK(map[string]interface{}{
			"worker_id": w.ID(),
			"applied":   fn(w),
			"state":     w.State(),
		})
	}
}
