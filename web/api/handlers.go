package api

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/hochfrequenz/wfsync/internal/domain"
	"github.com/hochfrequenz/wfsync/internal/runner"
	"github.com/hochfrequenz/wfsync/internal/scheduler"
	"github.com/hochfrequenz/wfsync/internal/workflow"
	"github.com/hochfrequenz/wfsync/internal/workflowstore"
)

// maxBodyBytes bounds request documents
const maxBodyBytes = 4 << 20

// ScheduleRequest selects a workflow, either stored by name or inline,
// plus optional run parameters
type ScheduleRequest struct {
	Workflow string `json:"workflow,omitempty"`
	// Document is a JSON workflow object, or a string holding a document
	// in Format (yaml, toml or hcl).
	Document         json.RawMessage `json:"document,omitempty"`
	Format           string          `json:"format,omitempty"`
	Method           string          `json:"method,omitempty"`
	MaxParallel      int             `json:"max_parallel,omitempty"`
	Strict           bool            `json:"strict,omitempty"`
	ResourceCapacity float64         `json:"resource_capacity,omitempty"`
	// Policies is used by /api/compare; empty means all policies.
	Policies []string `json:"policies,omitempty"`
}

func (req ScheduleRequest) params() runner.Params {
	return runner.Params{
		Method:           req.Method,
		MaxParallel:      req.MaxParallel,
		Strict:           req.Strict,
		ResourceCapacity: req.ResourceCapacity,
	}
}

// StatusResponse is the API response for overall status
type StatusResponse struct {
	Workflows     int      `json:"workflows"`
	CachedResults int      `json:"cached_results"`
	Subscribers   int      `json:"subscribers"`
	Policies      []string `json:"policies"`
	Uptime        string   `json:"uptime"`
}

// CompareResponse is the API response for a policy comparison
type CompareResponse struct {
	Workflow string           `json:"workflow"`
	Results  []*runner.Result `json:"results"`
}

// ScheduledEvent is broadcast on /api/events after each successful run
type ScheduledEvent struct {
	RunID    string  `json:"run_id"`
	Workflow string  `json:"workflow"`
	Policy   string  `json:"policy"`
	Makespan float64 `json:"makespan"`
	Cached   bool    `json:"cached"`
}

func (s *Server) statusHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			writeError(w, http.StatusMethodNotAllowed, "method not allowed")
			return
		}

		var status StatusResponse
		if s.store != nil {
			list, err := s.store.ListWorkflows()
			if err != nil {
				writeError(w, http.StatusInternalServerError, err.Error())
				return
			}
			status.Workflows = len(list)
		}
		status.CachedResults = s.cache.Len()
		status.Subscribers = s.sseHub.Clients()
		for _, p := range scheduler.Policies() {
			status.Policies = append(status.Policies, string(p))
		}
		status.Uptime = time.Since(s.started).Round(time.Second).String()

		writeJSON(w, status)
	}
}

func (s *Server) listWorkflowsHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			writeError(w, http.StatusMethodNotAllowed, "method not allowed")
			return
		}

		if s.store == nil {
			writeJSON(w, []workflowstore.Summary{})
			return
		}

		list, err := s.store.ListWorkflows()
		if err != nil {
			writeError(w, http.StatusInternalServerError, err.Error())
			return
		}
		if list == nil {
			list = []workflowstore.Summary{}
		}

		writeJSON(w, list)
	}
}

// workflowHandler serves /api/workflows/{name} and /api/workflows/{name}/steps
func (s *Server) workflowHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			writeError(w, http.StatusMethodNotAllowed, "method not allowed")
			return
		}

		path := strings.TrimPrefix(r.URL.Path, "/api/workflows/")
		name, rest, _ := strings.Cut(path, "/")
		if name == "" {
			writeError(w, http.StatusBadRequest, "workflow name required")
			return
		}

		wf, err := s.lookup(name)
		if err != nil {
			writeDomainError(w, err)
			return
		}

		switch rest {
		case "":
			writeJSON(w, wf)
		case "steps":
			s.streamSteps(w, r, wf)
		default:
			writeError(w, http.StatusNotFound, "not found")
		}
	}
}

func (s *Server) scheduleHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			writeError(w, http.StatusMethodNotAllowed, "method not allowed")
			return
		}

		req, err := decodeRequest(w, r)
		if err != nil {
			writeDomainError(w, err)
			return
		}
		wf, err := s.resolveWorkflow(req)
		if err != nil {
			writeDomainError(w, err)
			return
		}

		res, err := s.schedule(r, wf, req.params())
		if err != nil {
			writeDomainError(w, err)
			return
		}

		writeJSON(w, res)
	}
}

func (s *Server) compareHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			writeError(w, http.StatusMethodNotAllowed, "method not allowed")
			return
		}

		req, err := decodeRequest(w, r)
		if err != nil {
			writeDomainError(w, err)
			return
		}
		wf, err := s.resolveWorkflow(req)
		if err != nil {
			writeDomainError(w, err)
			return
		}

		policies := make([]scheduler.Policy, len(req.Policies))
		for i, p := range req.Policies {
			policies[i] = scheduler.Policy(p)
		}

		results, err := s.runner.Compare(r.Context(), wf, policies, req.params())
		s.metrics.observeCompare(results, err)
		if err != nil {
			writeDomainError(w, err)
			return
		}
		for _, res := range results {
			s.record(res)
		}

		writeJSON(w, CompareResponse{Workflow: wf.Name, Results: results})
	}
}

// streamSteps replays a schedule's event timeline as server-sent events:
// one "step" event per event time, then "done" with the metrics.
func (s *Server) streamSteps(w http.ResponseWriter, r *http.Request, wf *domain.Workflow) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "Streaming not supported", http.StatusInternalServerError)
		return
	}

	p, err := queryParams(r)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	res, err := s.schedule(r, wf, p)
	if err != nil {
		writeDomainError(w, err)
		return
	}

	setSSEHeaders(w)
	w.WriteHeader(http.StatusOK)

	for _, step := range res.Schedule.Steps {
		if r.Context().Err() != nil {
			return
		}
		if err := writeEvent(w, flusher, "step", step); err != nil {
			return
		}
	}
	writeEvent(w, flusher, "done", res.Metrics)
}

// schedule answers from the cache when the same input was already run
func (s *Server) schedule(r *http.Request, wf *domain.Workflow, p runner.Params) (*runner.Result, error) {
	p = s.runner.Resolve(wf, p)
	policy, err := scheduler.ParsePolicy(p.Method)
	if err != nil {
		s.metrics.observe(p.Method, nil, err)
		return nil, err
	}

	runID, err := runner.RunID(wf, policy, p)
	if err != nil {
		return nil, err
	}
	if res, ok := s.cache.Get(runID); ok {
		s.metrics.cacheHits.Inc()
		s.Broadcast(SSEEvent{Type: "scheduled", Data: scheduledEvent(res, true)})
		return res, nil
	}

	res, err := s.runner.Run(r.Context(), wf, p)
	s.metrics.observe(string(policy), res, err)
	if err != nil {
		return nil, err
	}
	s.record(res)
	return res, nil
}

// record caches a fresh result and announces it to event subscribers
func (s *Server) record(res *runner.Result) {
	s.cache.Add(res.RunID, res)
	s.Broadcast(SSEEvent{Type: "scheduled", Data: scheduledEvent(res, false)})
}

func scheduledEvent(res *runner.Result, cached bool) ScheduledEvent {
	return ScheduledEvent{
		RunID:    res.RunID,
		Workflow: res.Workflow,
		Policy:   string(res.Policy),
		Makespan: res.Metrics.Makespan,
		Cached:   cached,
	}
}

func (s *Server) lookup(name string) (*domain.Workflow, error) {
	if s.store == nil {
		return nil, fmt.Errorf("%w: %s", workflowstore.ErrNotFound, name)
	}
	return s.store.GetWorkflow(name)
}

// resolveWorkflow loads the named workflow or parses the inline document
func (s *Server) resolveWorkflow(req ScheduleRequest) (*domain.Workflow, error) {
	switch {
	case req.Workflow != "" && len(req.Document) > 0:
		return nil, &domain.ConfigError{Field: "workflow", Message: "give either a workflow name or a document, not both"}
	case req.Workflow != "":
		return s.lookup(req.Workflow)
	case len(req.Document) == 0:
		return nil, &domain.ConfigError{Field: "document", Message: "a workflow name or document is required"}
	}

	format := workflow.FormatJSON
	if req.Format != "" {
		f, err := workflow.ParseFormat(req.Format)
		if err != nil {
			return nil, err
		}
		format = f
	}

	data := []byte(req.Document)
	if format != workflow.FormatJSON {
		var text string
		if err := json.Unmarshal(req.Document, &text); err != nil {
			return nil, &domain.ConfigError{Field: "document", Message: fmt.Sprintf("%s documents must be sent as a string", format)}
		}
		data = []byte(text)
	}

	wf, err := workflow.Parse(data, format, "request")
	if err != nil {
		return nil, err
	}
	if wf.Name == "" {
		wf.Name = "inline"
	}
	return wf, nil
}

func decodeRequest(w http.ResponseWriter, r *http.Request) (ScheduleRequest, error) {
	var req ScheduleRequest
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&req); err != nil {
		return req, &domain.ConfigError{Field: "body", Message: err.Error()}
	}
	if dec.More() {
		return req, &domain.ConfigError{Field: "body", Message: "unexpected data after JSON object"}
	}
	return req, nil
}

// queryParams reads run parameters from the query string
func queryParams(r *http.Request) (runner.Params, error) {
	q := r.URL.Query()
	p := runner.Params{Method: q.Get("method")}

	if v := q.Get("max_parallel"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return p, &domain.ConfigError{Field: "max_parallel", Message: fmt.Sprintf("not a number: %q", v)}
		}
		p.MaxParallel = n
	}
	if v := q.Get("strict"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return p, &domain.ConfigError{Field: "strict", Message: fmt.Sprintf("not a boolean: %q", v)}
		}
		p.Strict = b
	}
	if v := q.Get("resource_capacity"); v != "" {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return p, &domain.ConfigError{Field: "resource_capacity", Message: fmt.Sprintf("not a number: %q", v)}
		}
		p.ResourceCapacity = f
	}
	return p, nil
}
