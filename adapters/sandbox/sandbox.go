// Package sandbox serves an in-memory imitation of the JustPaid API for local
// development and end-to-end tests.
//
// It implements the five endpoints the client uses. Idempotency keys are
// remembered for the lifetime of the server, so resubmitted events are
// reported as duplicates. Async jobs are processed on submission but report
// their intermediate states one step per status poll before becoming
// terminal.
package sandbox

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"

	"github.com/artpar/justpaid/adapters/clock"
	"github.com/artpar/justpaid/adapters/idgen"
	"github.com/artpar/justpaid/domain/billing"
	"github.com/artpar/justpaid/domain/usage"
	"github.com/artpar/justpaid/ports"
)

// BasePath is where the API is mounted, matching the production layout.
const BasePath = "/api/v1"

const defaultInvoiceLimit = 10

// Config configures a sandbox server.
type Config struct {
	// Token is the bearer token every request must carry. Empty disables
	// authentication.
	Token     string
	Customers []billing.BillableItemCustomer
	Invoices  []billing.Invoice
	// JobSteps are the statuses an async job reports before it is terminal.
	// Nil means PENDING then RUNNING; an empty slice finishes on first poll.
	JobSteps []usage.JobStatus
	// FailOnErrors makes a job with any rejected event end FAILED.
	FailOnErrors bool
	IDs          ports.IDGenerator
	Clock        ports.Clock
	Logger       zerolog.Logger
}

// Server is the in-memory API. It is safe for concurrent use.
type Server struct {
	cfg   Config
	items map[string]bool

	mu       sync.Mutex
	seen     map[string]bool
	accepted []usage.Event
	jobs     map[string]*job
}

type job struct {
	status    usage.JobStatusResponse
	result    usage.EventResponse
	remaining []usage.JobStatus
	terminal  usage.JobStatus
}

// New creates a sandbox server.
func New(cfg Config) *Server {
	if cfg.JobSteps == nil {
		cfg.JobSteps = []usage.JobStatus{usage.JobPending, usage.JobRunning}
	}
	if cfg.IDs == nil {
		cfg.IDs = idgen.UUID{}
	}
	if cfg.Clock == nil {
		cfg.Clock = clock.Real{}
	}

	items := make(map[string]bool)
	for _, c := range cfg.Customers {
		for _, item := range c.Items {
			items[item.ItemID] = true
		}
	}

	return &Server{
		cfg:   cfg,
		items: items,
		seen:  make(map[string]bool),
		jobs:  make(map[string]*job),
	}
}

// Handler returns the HTTP handler serving the API under BasePath.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(s.logRequests)

	r.Route(BasePath, func(r chi.Router) {
		r.Use(s.authenticate)
		r.Get("/usage/items", s.billableItems)
		r.Post("/usage/ingest", s.ingest)
		r.Post("/usage/ingest/async", s.ingestAsync)
		r.Get("/usage/ingest/async/{jobID}", s.jobStatus)
		r.Get("/invoice", s.invoices)
	})

	r.Get("/health", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	return r
}

// Accepted returns the events stored so far, in arrival order.
func (s *Server) Accepted() []usage.Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]usage.Event(nil), s.accepted...)
}

func (s *Server) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		s.cfg.Logger.Debug().
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", ww.Status()).
			Dur("duration", time.Since(start)).
			Msg("sandbox request")
	})
}

func (s *Server) authenticate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.cfg.Token != "" {
			token, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
			if !ok || token != s.cfg.Token {
				writeDetail(w, http.StatusUnauthorized, "Invalid token.")
				return
			}
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) billableItems(w http.ResponseWriter, r *http.Request) {
	customerID := r.URL.Query().Get("customer_id")
	externalID := r.URL.Query().Get("external_customer_id")

	customers := make([]billing.BillableItemCustomer, 0, len(s.cfg.Customers))
	for _, c := range s.cfg.Customers {
		if customerID != "" && c.CustomerID != customerID {
			continue
		}
		if externalID != "" && c.ExternalCustomerID != externalID {
			continue
		}
		if c.Items == nil {
			c.Items = []billing.BillableItem{}
		}
		customers = append(customers, c)
	}
	writeJSON(w, http.StatusOK, billing.BillableItemsResponse{Customers: customers})
}

func (s *Server) ingest(w http.ResponseWriter, r *http.Request) {
	req, ok := decodeRequest(w, r)
	if !ok {
		return
	}

	s.mu.Lock()
	resp := s.process(req)
	s.mu.Unlock()

	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) ingestAsync(w http.ResponseWriter, r *http.Request) {
	req, ok := decodeRequest(w, r)
	if !ok {
		return
	}

	now := s.now()
	s.mu.Lock()
	result := s.process(req)
	j := &job{
		result:    result,
		remaining: append([]usage.JobStatus(nil), s.cfg.JobSteps...),
		terminal:  usage.JobSuccess,
		status: usage.JobStatusResponse{
			JobID:       s.cfg.IDs.New(),
			Status:      usage.JobSubmitted,
			CreatedAt:   now,
			UpdatedAt:   now,
			TotalEvents: len(req.Events),
		},
	}
	if s.cfg.FailOnErrors && len(result.Errors) > 0 {
		j.terminal = usage.JobFailed
	}
	s.jobs[j.status.JobID] = j
	s.mu.Unlock()

	writeJSON(w, http.StatusAccepted, usage.AsyncResponse{
		JobID:       j.status.JobID,
		Status:      usage.JobSubmitted,
		CreatedAt:   now,
		TotalEvents: len(req.Events),
	})
}

func (s *Server) jobStatus(w http.ResponseWriter, r *http.Request) {
	jobID := chi.URLParam(r, "jobID")
	now := s.now()

	s.mu.Lock()
	j, ok := s.jobs[jobID]
	if !ok {
		s.mu.Unlock()
		writeDetail(w, http.StatusNotFound, "Job not found.")
		return
	}
	j.advance(now)
	resp := j.status
	s.mu.Unlock()

	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) invoices(w http.ResponseWriter, r *http.Request) {
	limit, err := queryInt(r, "limit", defaultInvoiceLimit)
	if err != nil {
		writeDetail(w, http.StatusBadRequest, err.Error())
		return
	}
	offset, err := queryInt(r, "offset", 0)
	if err != nil {
		writeDetail(w, http.StatusBadRequest, err.Error())
		return
	}

	all := s.cfg.Invoices
	page := make([]billing.Invoice, 0, min(limit, len(all)))
	for i := offset; i < len(all) && len(page) < limit; i++ {
		inv := all[i]
		if inv.LineItems == nil {
			inv.LineItems = []billing.InvoiceLineItem{}
		}
		page = append(page, inv)
	}
	writeJSON(w, http.StatusOK, billing.InvoiceListResponse{Items: page, Count: len(all)})
}

// process applies req to the store. The caller holds s.mu.
func (s *Server) process(req usage.EventRequest) usage.EventResponse {
	resp := usage.EventResponse{Info: usage.EventInfo{Duplicates: []string{}}}
	for _, e := range req.Events {
		if s.seen[e.IdempotencyKey] {
			resp.Info.Duplicates = append(resp.Info.Duplicates, e.IdempotencyKey)
			continue
		}
		if e.ItemID != "" && len(s.items) > 0 && !s.items[e.ItemID] {
			resp.Errors = append(resp.Errors, usage.ErrorInfo{
				IdempotencyKey: e.IdempotencyKey,
				Error:          fmt.Sprintf("Billable item %q does not exist.", e.ItemID),
			})
			continue
		}
		s.seen[e.IdempotencyKey] = true
		s.accepted = append(s.accepted, e)
		resp.Info.CreatedEvents++
	}
	return resp
}

func (s *Server) now() string {
	return usage.FormatTimestamp(s.cfg.Clock.Now())
}

// advance moves the job one step towards its terminal status.
func (j *job) advance(now string) {
	if j.status.Status.IsTerminal() {
		return
	}
	j.status.UpdatedAt = now
	if len(j.remaining) > 0 {
		j.status.Status = j.remaining[0]
		j.remaining = j.remaining[1:]
		return
	}
	info := j.result.Info
	j.status.Status = j.terminal
	j.status.Info = &info
	j.status.Errors = j.result.Errors
}

func decodeRequest(w http.ResponseWriter, r *http.Request) (usage.EventRequest, bool) {
	var raw json.RawMessage
	if err := json.NewDecoder(r.Body).Decode(&raw); err != nil {
		writeDetail(w, http.StatusBadRequest, "Malformed JSON body.")
		return usage.EventRequest{}, false
	}
	req, err := usage.ParseEventRequest(raw)
	if err != nil {
		writeDetail(w, http.StatusUnprocessableEntity, err.Error())
		return usage.EventRequest{}, false
	}
	return req, true
}

func queryInt(r *http.Request, name string, def int) (int, error) {
	v := r.URL.Query().Get(name)
	if v == "" {
		return def, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil || n < 0 {
		return 0, fmt.Errorf("%s must be a non-negative integer", name)
	}
	return n, nil
}

func writeDetail(w http.ResponseWriter, status int, detail string) {
	writeJSON(w, status, map[string]string{"detail": detail})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
