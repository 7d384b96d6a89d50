package api

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"social-outreach/internal/config"
	"social-outreach/internal/models"
	"social-outreach/internal/plan"
	"social-outreach/internal/ratelimit"
	"social-outreach/internal/runner"
	"social-outreach/internal/session"
	"social-outreach/internal/store"
	"social-outreach/internal/telemetry"
)

// CampaignManager starts and stops campaign runs.
type CampaignManager interface {
	Start(ctx context.Context, campaignID int64) error
	Stop(campaignID int64) error
	Running(campaignID int64) bool
}

// LeadResolver turns a lead source reference into ordered profile identifiers.
type LeadResolver interface {
	Resolve(ctx context.Context, source string) ([]string, error)
}

// Server wires HTTP handlers for the control API.
type Server struct {
	cfg     config.Config
	store   *store.Store
	manager CampaignManager
	leads   LeadResolver
	limiter *ratelimit.TokenBucket
}

// New constructs the API server.
func New(cfg config.Config, st *store.Store, manager CampaignManager, leads LeadResolver, limiter *ratelimit.TokenBucket) *Server {
	return &Server{
		cfg:     cfg,
		store:   st,
		manager: manager,
		leads:   leads,
		limiter: limiter,
	}
}

// Router builds the HTTP router.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})

	r.Mount("/metrics", telemetry.Handler())

	r.Group(func(r chi.Router) {
		r.Use(s.rateLimit)

		r.Post("/accounts", s.handleCreateAccount)
		r.Put("/accounts/{id}", s.handleUpdateAccount)
		r.Delete("/accounts/{id}", s.handleDeleteAccount)
		r.Post("/accounts/proxy-test", s.handleProxyTest)

		r.Post("/campaigns", s.handleCreateCampaign)
		r.Delete("/campaigns/{id}", s.handleDeleteCampaign)
		r.Post("/campaigns/{id}/start", s.handleStartCampaign)
		r.Post("/campaigns/{id}/stop", s.handleStopCampaign)
	})

	r.Get("/accounts", s.handleListAccounts)
	r.Get("/accounts/{id}", s.handleGetAccount)
	r.Get("/campaigns", s.handleListCampaigns)
	r.Get("/campaigns/{id}", s.handleGetCampaign)

	return r
}

// rateLimit applies the shared token bucket to mutating routes, keyed by the
// caller's address.
func (s *Server) rateLimit(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.limiter == nil {
			next.ServeHTTP(w, r)
			return
		}
		host, _, err := net.SplitHostPort(r.RemoteAddr)
		if err != nil {
			host = r.RemoteAddr
		}
		allowed, err := s.limiter.Allow(r.Context(), host)
		if err != nil {
			http.Error(w, "rate limit error", http.StatusInternalServerError)
			return
		}
		if !allowed {
			telemetry.RateLimitRejects.Inc()
			http.Error(w, "rate limited", http.StatusTooManyRequests)
			return
		}
		next.ServeHTTP(w, r)
	})
}

type accountRequest struct {
	LoginType     string  `json:"login_type"`
	Login         string  `json:"login"`
	Password      string  `json:"password"`
	ProxyType     *string `json:"proxy_type"`
	ProxyHost     *string `json:"proxy_host"`
	ProxyPort     *int    `json:"proxy_port"`
	ProxyUsername *string `json:"proxy_username"`
	ProxyPassword *string `json:"proxy_password"`
	IsActive      *bool   `json:"is_active"`
}

func (req *accountRequest) validate() string {
	if req.Login == "" {
		return "login is required"
	}
	if req.Password == "" {
		return "password is required"
	}
	if req.LoginType != models.LoginPhone && req.LoginType != models.LoginEmail {
		return "login_type must be phone or email"
	}
	if req.ProxyType != nil && !models.ValidProxyType(*req.ProxyType) {
		return "unsupported proxy_type"
	}
	if req.ProxyHost != nil && (req.ProxyType == nil || req.ProxyPort == nil) {
		return "proxy requires proxy_type, proxy_host and proxy_port"
	}
	return ""
}

func (req *accountRequest) apply(a *models.Account) {
	a.LoginType = req.LoginType
	a.Login = req.Login
	a.Password = req.Password
	a.ProxyType = req.ProxyType
	a.ProxyHost = req.ProxyHost
	a.ProxyPort = req.ProxyPort
	a.ProxyUsername = req.ProxyUsername
	a.ProxyPassword = req.ProxyPassword
	a.IsActive = true
	if req.IsActive != nil {
		a.IsActive = *req.IsActive
	}
}

func (s *Server) handleCreateAccount(w http.ResponseWriter, r *http.Request) {
	var req accountRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid json", http.StatusBadRequest)
		return
	}
	if msg := req.validate(); msg != "" {
		http.Error(w, msg, http.StatusBadRequest)
		return
	}

	var account models.Account
	req.apply(&account)
	if err := s.store.CreateAccount(r.Context(), &account); err != nil {
		if errors.Is(err, store.ErrDuplicateLogin) {
			http.Error(w, "login already exists", http.StatusConflict)
			return
		}
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusCreated, account)
}

func (s *Server) handleListAccounts(w http.ResponseWriter, r *http.Request) {
	accounts, err := s.store.ListAccounts(r.Context())
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"accounts": accounts})
}

func (s *Server) handleGetAccount(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	account, err := s.store.GetAccount(r.Context(), id)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			http.Error(w, "account not found", http.StatusNotFound)
			return
		}
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, account)
}

func (s *Server) handleUpdateAccount(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	var req accountRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid json", http.StatusBadRequest)
		return
	}
	if msg := req.validate(); msg != "" {
		http.Error(w, msg, http.StatusBadRequest)
		return
	}

	account := models.Account{ID: id}
	req.apply(&account)
	if err := s.store.UpdateAccount(r.Context(), &account); err != nil {
		switch {
		case errors.Is(err, store.ErrNotFound):
			http.Error(w, "account not found", http.StatusNotFound)
		case errors.Is(err, store.ErrDuplicateLogin):
			http.Error(w, "login already exists", http.StatusConflict)
		default:
			http.Error(w, err.Error(), http.StatusInternalServerError)
		}
		return
	}
	writeJSON(w, http.StatusOK, account)
}

func (s *Server) handleDeleteAccount(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	if err := s.store.DeleteAccount(r.Context(), id); err != nil {
		switch {
		case errors.Is(err, store.ErrNotFound):
			http.Error(w, "account not found", http.StatusNotFound)
		case errors.Is(err, store.ErrAccountInUse):
			http.Error(w, "account is referenced by a campaign", http.StatusConflict)
		default:
			http.Error(w, err.Error(), http.StatusInternalServerError)
		}
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "deleted"})
}

type proxyTestRequest struct {
	ProxyType     string `json:"proxy_type"`
	ProxyHost     string `json:"proxy_host"`
	ProxyPort     int    `json:"proxy_port"`
	ProxyUsername string `json:"proxy_username"`
	ProxyPassword string `json:"proxy_password"`
}

func (s *Server) handleProxyTest(w http.ResponseWriter, r *http.Request) {
	var req proxyTestRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid json", http.StatusBadRequest)
		return
	}
	if !models.ValidProxyType(req.ProxyType) {
		http.Error(w, "unsupported proxy_type", http.StatusBadRequest)
		return
	}
	if req.ProxyHost == "" || req.ProxyPort == 0 {
		http.Error(w, "proxy_host and proxy_port are required", http.StatusBadRequest)
		return
	}

	proxy := session.Proxy{
		Type:     req.ProxyType,
		Host:     req.ProxyHost,
		Port:     req.ProxyPort,
		Username: req.ProxyUsername,
		Password: req.ProxyPassword,
	}
	if err := session.CheckProxy(r.Context(), proxy, s.cfg.ProxyCheckURL, s.cfg.ProxyCheckTimeout); err != nil {
		writeJSON(w, http.StatusOK, map[string]any{"ok": false, "error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true})
}

type createCampaignRequest struct {
	Name            string   `json:"name"`
	MessageTemplate string   `json:"message_template"`
	MinDelay        *int     `json:"min_delay"`
	MaxDelay        *int     `json:"max_delay"`
	AccountIDs      []int64  `json:"account_ids"`
	Leads           []string `json:"leads"`
	LeadSource      string   `json:"lead_source"`
}

func (s *Server) handleCreateCampaign(w http.ResponseWriter, r *http.Request) {
	var req createCampaignRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid json", http.StatusBadRequest)
		return
	}
	if req.Name == "" {
		http.Error(w, "name is required", http.StatusBadRequest)
		return
	}
	if req.MessageTemplate == "" {
		http.Error(w, "message_template is required", http.StatusBadRequest)
		return
	}
	if len(req.Leads) > 0 && req.LeadSource != "" {
		http.Error(w, "provide leads or lead_source, not both", http.StatusBadRequest)
		return
	}

	minDelay := s.cfg.DefaultMinDelay
	if req.MinDelay != nil {
		minDelay = *req.MinDelay
	}
	maxDelay := s.cfg.DefaultMaxDelay
	if req.MaxDelay != nil {
		maxDelay = *req.MaxDelay
	}
	if minDelay < 0 || maxDelay < minDelay {
		http.Error(w, "delays must satisfy 0 <= min_delay <= max_delay", http.StatusBadRequest)
		return
	}

	for _, id := range req.AccountIDs {
		if _, err := s.store.GetAccount(r.Context(), id); err != nil {
			if errors.Is(err, store.ErrNotFound) {
				http.Error(w, "account "+strconv.FormatInt(id, 10)+" not found", http.StatusBadRequest)
				return
			}
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
	}

	leads := req.Leads
	if req.LeadSource != "" {
		resolved, err := s.leads.Resolve(r.Context(), req.LeadSource)
		if err != nil {
			http.Error(w, "resolve lead source: "+err.Error(), http.StatusBadRequest)
			return
		}
		leads = resolved
	}

	assignments, err := plan.Assign(leads, req.AccountIDs)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	campaign, err := s.store.CreateCampaign(r.Context(), store.CreateCampaignParams{
		Name:            req.Name,
		MessageTemplate: req.MessageTemplate,
		MinDelay:        minDelay,
		MaxDelay:        maxDelay,
		Assignments:     assignments,
	})
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusCreated, campaign)
}

func (s *Server) handleListCampaigns(w http.ResponseWriter, r *http.Request) {
	campaigns, err := s.store.ListCampaigns(r.Context())
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"campaigns": campaigns})
}

type campaignDetail struct {
	Campaign     models.Campaign              `json:"campaign"`
	Stats        models.CampaignStats         `json:"stats"`
	Distribution []models.AccountDistribution `json:"distribution"`
	Running      bool                         `json:"running"`
}

func (s *Server) handleGetCampaign(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	campaign, err := s.store.GetCampaign(r.Context(), id)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			http.Error(w, "campaign not found", http.StatusNotFound)
			return
		}
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	stats, err := s.store.CampaignStats(r.Context(), id)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	distribution, err := s.store.CampaignDistribution(r.Context(), id)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, campaignDetail{
		Campaign:     campaign,
		Stats:        stats,
		Distribution: distribution,
		Running:      s.manager.Running(id),
	})
}

func (s *Server) handleDeleteCampaign(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	if err := s.store.DeleteCampaign(r.Context(), id); err != nil {
		switch {
		case errors.Is(err, store.ErrNotFound):
			http.Error(w, "campaign not found", http.StatusNotFound)
		case errors.Is(err, store.ErrCampaignRunning):
			http.Error(w, "campaign is running", http.StatusConflict)
		default:
			http.Error(w, err.Error(), http.StatusInternalServerError)
		}
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "deleted"})
}

func (s *Server) handleStartCampaign(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	if err := s.manager.Start(r.Context(), id); err != nil {
		switch {
		case errors.Is(err, store.ErrNotFound):
			http.Error(w, "campaign not found", http.StatusNotFound)
		case errors.Is(err, runner.ErrAlreadyRunning):
			http.Error(w, "campaign is already running", http.StatusConflict)
		case errors.Is(err, plan.ErrNoAccounts), errors.Is(err, plan.ErrNoLeads):
			http.Error(w, err.Error(), http.StatusBadRequest)
		default:
			http.Error(w, err.Error(), http.StatusInternalServerError)
		}
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"status": models.CampaignRunning})
}

func (s *Server) handleStopCampaign(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	if err := s.manager.Stop(id); err != nil {
		if errors.Is(err, runner.ErrNotRunning) {
			http.Error(w, "campaign is not running", http.StatusConflict)
			return
		}
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"status": "stopping"})
}

func pathID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		http.Error(w, "invalid id", http.StatusBadRequest)
		return 0, false
	}
	return id, true
}

func writeJSON(w http.ResponseWriter, code int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(payload)
}
