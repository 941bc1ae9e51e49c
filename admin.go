package taskvisor

import (
	"context"
	"encoding/json"
	"html/template"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi"
	"github.com/go-chi/chi/middleware"
	"github.com/go-chi/cors"
	validation "github.com/go-ozzo/ozzo-validation/v4"
	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/lancer-kit/taskvisor/presets/api"
)

// AdminConfig configures the admin HTTP API.
type AdminConfig struct {
	API api.Config `json:"api" yaml:"api"`
	// AllowControl enables the endpoints that create or change workers.
	AllowControl bool `json:"allow_control" yaml:"allow_control"`
	// Metrics exposes /metrics.
	Metrics bool `json:"metrics" yaml:"metrics"`
}

// Validate is an implementation of Validatable interface from ozzo-validation.
func (c AdminConfig) Validate() error {
	return validation.ValidateStruct(&c,
		validation.Field(&c.API),
	)
}

// CreateWorkerRequest is the body of POST /workers.
type CreateWorkerRequest struct {
	TaskFile string `json:"task_file"`
	Debug    bool   `json:"debug"`
	// Execute starts the worker with Params right after it was created.
	Execute bool        `json:"execute"`
	Params  interface{} `json:"params,omitempty"`
}

type workerActionResult struct {
	WorkerID string      `json:"worker_id"`
	Applied  bool        `json:"applied"`
	State    interface{} `json:"state"`
}

type admin struct {
	s        *Supervisor
	cfg      AdminConfig
	gatherer prometheus.Gatherer

	mu        sync.Mutex
	requester *Requester
}

// AdminRouter returns the admin API handler. gatherer serves /metrics when
// cfg.Metrics is set; nil means the default prometheus gatherer.
func (s *Supervisor) AdminRouter(cfg AdminConfig, gatherer prometheus.Gatherer) http.Handler {
	a := &admin{s: s, cfg: cfg, gatherer: gatherer}
	if a.gatherer == nil {
		a.gatherer = prometheus.DefaultGatherer
	}
	return a.router()
}

// ServeAdmin runs the admin API until ctx is done.
func (s *Supervisor) ServeAdmin(ctx context.Context, cfg AdminConfig, gatherer prometheus.Gatherer) error {
	if err := cfg.Validate(); err != nil {
		return errors.Wrap(err, "invalid admin config")
	}
	return api.NewServer(cfg.API, s.AdminRouter(cfg, gatherer), s.logger).Run(ctx)
}

func (a *admin) router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	if a.cfg.API.EnableCORS {
		r.Use(cors.Handler(cors.Options{
			AllowedOrigins:   []string{"*"},
			AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
			AllowedHeaders:   []string{"Accept", "Content-Type"},
			AllowCredentials: false,
			MaxAge:           300,
		}))
	}
	if a.cfg.API.APIRequestTimeout > 0 {
		r.Use(middleware.Timeout(time.Duration(a.cfg.API.APIRequestTimeout) * time.Second))
	}

	r.Get("/list", a.list)
	r.Get("/info", func(w http.ResponseWriter, _ *http.Request) {
		renderJSON(w, http.StatusOK, a.s.Info())
	})
	if a.cfg.Metrics {
		r.Method(http.MethodGet, "/metrics", promhttp.HandlerFor(a.gatherer, promhttp.HandlerOpts{}))
	}

	r.Route("/workers", func(r chi.Router) {
		r.Get("/", a.workers)
		r.Get("/{id}", a.worker)

		if !a.cfg.AllowControl {
			return
		}
		r.Post("/", a.create)
		r.Post("/{id}/execute", a.execute)
		r.Post("/{id}/pause", a.action((*Worker).Pause))
		r.Post("/{id}/resume", a.action((*Worker).Resume))
		r.Post("/{id}/stop", a.action((*Worker).Stop))
	})
	return r
}

var listTemplate = template.Must(template.New("workers").Parse(`<!DOCTYPE html>
<html lang="en">
<head>
  <meta charset="UTF-8">
  <title>taskvisor</title>
</head>
<body>
<table>
  <tr>
    <th>Worker</th>
    <th>Task</th>
    <th>State</th>
  </tr>
    {{ range . }}
      <tr>
        <td>{{ .ID }}</td>
        <td>{{ .TaskFile }}</td>
        <td>{{ .State }}</td>
      </tr>
    {{ end }}
</table>
</body>
</html>
`))

func (a *admin) list(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	if err := listTemplate.Execute(w, a.s.Workers()); err != nil {
		a.s.logger.WithError(err).Debug("unable to render worker list")
	}
}

func (a *admin) workers(w http.ResponseWriter, _ *http.Request) {
	workers := a.s.Workers()
	if workers == nil {
		workers = []*Worker{}
	}
	renderJSON(w, http.StatusOK, workers)
}

func (a *admin) worker(w http.ResponseWriter, r *http.Request) {
	worker, ok := a.s.Worker(chi.URLParam(r, "id"))
	if !ok {
		renderError(w, http.StatusNotFound, ErrWorkerNotFound)
		return
	}
	renderJSON(w, http.StatusOK, worker)
}

func (a *admin) create(w http.ResponseWriter, r *http.Request) {
	var req CreateWorkerRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		renderError(w, http.StatusBadRequest, errors.Wrap(err, "invalid body"))
		return
	}

	err := validation.ValidateStruct(&req,
		validation.Field(&req.TaskFile, validation.Required,
			&TaskExistRule{Catalog: a.s.Catalog(), Bootstrap: a.s.Bootstrap()}),
	)
	if err != nil {
		renderError(w, http.StatusBadRequest, err)
		return
	}

	requester, err := a.getRequester()
	if err != nil {
		renderError(w, http.StatusServiceUnavailable, err)
		return
	}

	worker, err := requester.CreateWorker(r.Context(), req.TaskFile, req.Debug)
	switch {
	case err == nil:
	case errors.Cause(err) == ErrContextFailed:
		renderError(w, http.StatusUnprocessableEntity, err)
		return
	case errors.Cause(err) == context.DeadlineExceeded:
		renderError(w, http.StatusGatewayTimeout, err)
		return
	default:
		renderError(w, http.StatusInternalServerError, err)
		return
	}

	if req.Execute {
		if err := worker.Execute(req.Params); err != nil {
			renderError(w, http.StatusConflict, err)
			return
		}
	}
	renderJSON(w, http.StatusCreated, worker)
}

func (a *admin) execute(w http.ResponseWriter, r *http.Request) {
	worker, ok := a.s.Worker(chi.URLParam(r, "id"))
	if !ok {
		renderError(w, http.StatusNotFound, ErrWorkerNotFound)
		return
	}

	var params interface{}
	if err := json.NewDecoder(r.Body).Decode(&params); err != nil && err != io.EOF {
		renderError(w, http.StatusBadRequest, errors.Wrap(err, "invalid params"))
		return
	}

	if err := worker.Execute(params); err != nil {
		renderError(w, http.StatusConflict, err)
		return
	}
	renderJSON(w, http.StatusOK, workerActionResult{
		WorkerID: worker.ID(),
		Applied:  true,
		State:    worker.State(),
	})
}

func (a *admin) action(fn func(w *Worker) bool) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		worker, ok := a.s.Worker(chi.URLParam(r, "id"))
		if !ok {
			renderError(w, http.StatusNotFound, ErrWorkerNotFound)
			return
		}
		applied := fn(worker)
		renderJSON(w, http.StatusOK, workerActionResult{
			WorkerID: worker.ID(),
			Applied:  applied,
			State:    worker.State(),
		})
	}
}

func (a *admin) getRequester() (*Requester, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.requester != nil {
		return a.requester, nil
	}
	r, err := a.s.NewRequester()
	if err != nil {
		return nil, err
	}
	a.requester = r
	return r, nil
}

func renderJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func renderError(w http.ResponseWriter, status int, err error) {
	renderJSON(w, status, map[string]interface{}{
		"status": status,
		"error":  err.Error(),
	})
}
