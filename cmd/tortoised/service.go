package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/Comcast/tortoise/config"
	"github.com/Comcast/tortoise/core"
	"github.com/Comcast/tortoise/store/httpstore"
	"github.com/Comcast/tortoise/supervisor"
	"github.com/Comcast/tortoise/tools"
	"github.com/Comcast/tortoise/workflows"

	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Service runs one Supervisor (and its Engine) per workflow in a
// workflows.Dir against a single entity store.
type Service struct {
	Dir    *workflows.Dir
	Store  core.EntityStore
	Lister supervisor.Lister

	// Deferred, if enabled, makes engines compose pending
	// commands rather than write the store.
	Deferred config.DeferredConfig

	Supervise  config.SupervisorConfig
	HTTP       config.HTTPConfig
	EngineOpts []core.EngineOption

	// Observers see every engine's observations.
	Observers []core.Observer

	Logger *slog.Logger

	sync.Mutex
	sups   map[string]*supervisor.Supervisor
	runCtx context.Context
	wg     sync.WaitGroup
}

// NewService makes a Service.  Call Dir.Read before Start.
func NewService(dir *workflows.Dir, store core.EntityStore, lister supervisor.Lister) *Service {
	return &Service{
		Dir:       dir,
		Store:     store,
		Lister:    lister,
		Supervise: config.Default().Supervisor,
		HTTP:      config.Default().HTTP,
		Logger:    slog.Default(),
		sups:      make(map[string]*supervisor.Supervisor, 8),
	}
}

// Start makes supervisors for all workflows and, if supervision is
// enabled, runs them until the context is done.
func (s *Service) Start(ctx context.Context) error {
	s.Lock()
	s.runCtx = ctx
	s.Unlock()
	for _, name := range s.Dir.Names() {
		if _, err := s.supervisor(name); err != nil {
			return err
		}
	}
	return nil
}

// Wait waits for running supervisors to stop.
func (s *Service) Wait() {
	s.wg.Wait()
}

// Reload rereads the workflows directory.  Existing engines see the
// new definitions, and new workflows get supervisors.
func (s *Service) Reload(ctx context.Context) error {
	if err := s.Dir.Read(ctx); err != nil {
		return err
	}
	for _, name := range s.Dir.Names() {
		if _, err := s.supervisor(name); err != nil {
			return err
		}
	}
	s.Logger.Info("reloaded", "workflows", s.Dir.Names())
	return nil
}

func (s *Service) adapter(def *core.Definition) core.Adapter {
	d := s.Deferred
	if d.Enabled {
		return httpstore.NewDeferredAdapter(s.Store, def, d.Host, d.Port, d.Username, d.Password)
	}
	return core.NewAttributeAdapter(s.Store, def)
}

func (s *Service) observe(ctx context.Context, o core.Observation) {
	for _, obs := range s.Observers {
		obs.Observe(ctx, o)
	}
}

// supervisor finds or makes the named workflow's Supervisor.
func (s *Service) supervisor(name string) (*supervisor.Supervisor, error) {
	s.Lock()
	defer s.Unlock()
	if sup, have := s.sups[name]; have {
		return sup, nil
	}

	u, err := s.Dir.Find(name)
	if err != nil {
		return nil, err
	}
	opts := append([]core.EngineOption{
		core.WithLogger(s.Logger),
		core.WithObserver(core.ObserverFunc(s.observe)),
	}, s.EngineOpts...)
	e := core.NewEngine(u, s.adapter(u.Definition()), opts...)

	sup, err := supervisor.New(e, s.Lister, s.Supervise.Schedule)
	if err != nil {
		return nil, err
	}
	sup.Logger = s.Logger
	sup.Retry = s.Supervise.Retry
	sup.Options.Quiet = s.Supervise.Quiet
	sup.Entities = s.Supervise.Enroll
	s.sups[name] = sup

	if s.Supervise.Enabled && s.runCtx != nil {
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			if err := sup.Run(s.runCtx); err != nil && !errors.Is(err, context.Canceled) {
				s.Logger.Error("supervisor stopped", "workflow", name, "error", err)
			}
		}()
	}
	return sup, nil
}

// workflowFor returns the only workflow that defines the event.
func (s *Service) workflowFor(event string) (string, error) {
	var found []string
	for _, name := range s.Dir.Names() {
		u, err := s.Dir.Find(name)
		if err != nil {
			continue
		}
		if !u.Definition().Event(event).IsNone() {
			found = append(found, name)
		}
	}
	switch len(found) {
	case 0:
		return "", fmt.Errorf("no workflow has event %q", event)
	case 1:
		return found[0], nil
	default:
		return "", fmt.Errorf("event %q is in workflows %v", event, found)
	}
}

type httpError struct {
	status int
	err    error
}

func (e *httpError) Error() string {
	return e.err.Error()
}

func (e *httpError) Unwrap() error {
	return e.err
}

// pick finds the Supervisor for the request's workflow parameter,
// which can be omitted when there's only one workflow.
func (s *Service) pick(r *http.Request) (*supervisor.Supervisor, error) {
	name := r.URL.Query().Get("workflow")
	if name == "" {
		names := s.Dir.Names()
		if len(names) != 1 {
			return nil, &httpError{http.StatusBadRequest, fmt.Errorf("need workflow (have %v)", names)}
		}
		name = names[0]
	}
	sup, err := s.supervisor(name)
	if err != nil {
		return nil, &httpError{http.StatusNotFound, err}
	}
	return sup, nil
}

func status(err error) int {
	var (
		he *httpError
		ue *core.UnknownEvent
		tf *core.TransitionFailed
	)
	switch {
	case errors.As(err, &he):
		return he.status
	case errors.Is(err, core.ErrNotFound):
		return http.StatusNotFound
	case errors.As(err, &ue):
		return http.StatusNotFound
	case errors.As(err, &tf):
		return http.StatusConflict
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	}
	return http.StatusInternalServerError
}

func (s *Service) punt(w http.ResponseWriter, r *http.Request, err error) {
	code := status(err)
	s.Logger.Warn("request failed", "method", r.Method, "path", r.URL.Path, "status", code, "error", err)
	s.reply(w, code, map[string]string{"error": err.Error()})
}

func (s *Service) reply(w http.ResponseWriter, code int, x interface{}) {
	js, err := json.Marshal(x)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	w.Write(js)
	w.Write([]byte("\n"))
}

// Handler returns the service's HTTP API.
//
//	GET    /workflows
//	POST   /workflows/reload
//	GET    /workflows/{name}            HTML documentation with a graph
//	GET    /workflows/{name}/analysis
//	GET    /entities/{id}               ?workflow=W
//	DELETE /entities/{id}
//	POST   /entities/{id}/transition    ?quiet=true
//	GET    /entities/{id}/plan
//	GET    /entities/{id}/events/{event}
//	POST   /entities/{id}/events/{event}
//	GET    /metrics
//
// The store's own protocol is under httpstore.APIPrefix when
// HTTP.ServeStore is set.
func (s *Service) Handler(feed http.Handler) http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /workflows", s.listWorkflows)
	mux.HandleFunc("POST /workflows/reload", s.reload)
	mux.HandleFunc("GET /workflows/{name}", s.workflowPage)
	mux.HandleFunc("GET /workflows/{name}/analysis", s.analysis)

	mux.HandleFunc("GET /entities/{id}", s.read)
	mux.HandleFunc("DELETE /entities/{id}", s.reset)
	mux.HandleFunc("POST /entities/{id}/transition", s.transition)
	mux.HandleFunc("GET /entities/{id}/plan", s.plan)
	mux.HandleFunc("GET /entities/{id}/events/{event}", s.isIn)
	mux.HandleFunc("POST /entities/{id}/events/{event}", s.invoke)

	mux.Handle("GET /metrics", promhttp.Handler())

	if feed != nil && s.HTTP.Websocket != "" {
		mux.Handle("GET "+s.HTTP.Websocket, feed)
	}

	if s.HTTP.ServeStore {
		srv := httpstore.NewServer(s.Store)
		srv.Username = s.HTTP.Username
		srv.Password = s.HTTP.Password
		srv.Register(mux)
	}

	return mux
}

func (s *Service) listWorkflows(w http.ResponseWriter, r *http.Request) {
	s.reply(w, http.StatusOK, s.Dir.Names())
}

func (s *Service) reload(w http.ResponseWriter, r *http.Request) {
	if err := s.Reload(r.Context()); err != nil {
		s.punt(w, r, &httpError{http.StatusBadRequest, err})
		return
	}
	s.reply(w, http.StatusOK, s.Dir.Names())
}

func (s *Service) definition(r *http.Request) (*core.Definition, error) {
	u, err := s.Dir.Find(r.PathValue("name"))
	if err != nil {
		return nil, &httpError{http.StatusNotFound, err}
	}
	return u.Definition(), nil
}

func (s *Service) workflowPage(w http.ResponseWriter, r *http.Request) {
	def, err := s.definition(r)
	if err != nil {
		s.punt(w, r, err)
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	if err = tools.RenderPage(def, w, nil, true); err != nil {
		s.Logger.Warn("render", "workflow", def.Name(), "error", err)
	}
}

func (s *Service) analysis(w http.ResponseWriter, r *http.Request) {
	def, err := s.definition(r)
	if err != nil {
		s.punt(w, r, err)
		return
	}
	s.reply(w, http.StatusOK, tools.Analyze(def))
}

func (s *Service) read(w http.ResponseWriter, r *http.Request) {
	sup, err := s.pick(r)
	if err != nil {
		s.punt(w, r, err)
		return
	}
	spec, err := sup.Engine.Read(r.Context(), r.PathValue("id"))
	if err != nil {
		s.punt(w, r, err)
		return
	}
	s.reply(w, http.StatusOK, map[string]interface{}{
		"spec":    spec,
		"expired": !spec.Empty() && sup.Engine.Expired(spec),
	})
}

func (s *Service) reset(w http.ResponseWriter, r *http.Request) {
	sup, err := s.pick(r)
	if err != nil {
		s.punt(w, r, err)
		return
	}
	res, err := sup.Reset(r.Context(), r.PathValue("id"))
	if err != nil {
		s.punt(w, r, err)
		return
	}
	s.reply(w, http.StatusOK, res)
}

func quiet(r *http.Request) bool {
	switch r.URL.Query().Get("quiet") {
	case "true", "1", "yes":
		return true
	}
	return false
}

func (s *Service) transition(w http.ResponseWriter, r *http.Request) {
	sup, err := s.pick(r)
	if err != nil {
		s.punt(w, r, err)
		return
	}
	opts := sup.Options
	if quiet(r) {
		opts.Quiet = true
	}
	res, err := sup.Transition(r.Context(), r.PathValue("id"), opts)
	if err != nil {
		s.punt(w, r, err)
		return
	}
	s.reply(w, http.StatusOK, res)
}

func (s *Service) plan(w http.ResponseWriter, r *http.Request) {
	sup, err := s.pick(r)
	if err != nil {
		s.punt(w, r, err)
		return
	}
	steps, err := sup.Engine.Plan(r.Context(), r.PathValue("id"))
	if err != nil {
		s.punt(w, r, err)
		return
	}
	s.reply(w, http.StatusOK, steps)
}

func (s *Service) isIn(w http.ResponseWriter, r *http.Request) {
	sup, err := s.pick(r)
	if err != nil {
		s.punt(w, r, err)
		return
	}
	in, err := sup.Engine.IsInState(r.Context(), r.PathValue("id"), r.PathValue("event"))
	if err != nil {
		s.punt(w, r, err)
		return
	}
	s.reply(w, http.StatusOK, map[string]bool{"in": in})
}

func (s *Service) invoke(w http.ResponseWriter, r *http.Request) {
	sup, err := s.pick(r)
	if err != nil {
		s.punt(w, r, err)
		return
	}
	ctx, cancel := context.WithTimeout(r.Context(), time.Minute)
	defer cancel()
	res, err := sup.Invoke(ctx, r.PathValue("event"), r.PathValue("id"), core.TransitionOptions{Quiet: quiet(r)})
	if err != nil {
		s.punt(w, r, err)
		return
	}
	s.reply(w, http.StatusOK, res)
}
