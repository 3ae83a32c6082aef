package admin

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/2beens/sitegate/internal/auth"
	"github.com/2beens/sitegate/internal/csrf"
	"github.com/2beens/sitegate/internal/middleware"
	"github.com/2beens/sitegate/internal/notify"
	"github.com/2beens/sitegate/internal/public"
	"github.com/2beens/sitegate/internal/ratelimit"
	"github.com/2beens/sitegate/internal/site"
	"github.com/2beens/sitegate/internal/telemetry/metrics"
	"github.com/2beens/sitegate/pkg"

	"github.com/gorilla/mux"
	log "github.com/sirupsen/logrus"
)

type HandlerParams struct {
	Credentials *auth.CredentialStore
	Sessions    *auth.SessionManager
	Guard       *csrf.Guard
	Dispatcher  *notify.Dispatcher
	Contacts    site.ContactRepo
	Subscribers site.SubscriberRepo
	Metrics     *metrics.Manager
	// shown on the email settings page, password never leaves the process
	SMTP notify.SMTPConfig
	// used for the anonymous login form token
	FormToken public.FormTokenParams
}

type Handler struct {
	credentials *auth.CredentialStore
	sessions    *auth.SessionManager
	guard       *csrf.Guard
	dispatcher  *notify.Dispatcher
	contacts    site.ContactRepo
	subscribers site.SubscriberRepo
	metrics     *metrics.Manager
	smtp        notify.SMTPConfig
	formToken   public.FormTokenParams
	now         func() time.Time
}

func NewHandler(params HandlerParams) *Handler {
	return &Handler{
		credentials: params.Credentials,
		sessions:    params.Sessions,
		guard:       params.Guard,
		dispatcher:  params.Dispatcher,
		contacts:    params.Contacts,
		subscribers: params.Subscribers,
		metrics:     params.Metrics,
		smtp:        params.SMTP,
		formToken:   params.FormToken,
		now:         time.Now,
	}
}

func (handler *Handler) SetupRoutes(router *mux.Router, gate middleware.Gate) {
	router.HandleFunc("/admin/login", handler.handleLoginForm).Methods("GET").Name("admin-login-form")
	router.
		Handle("/admin/login", gate.Public(ratelimit.ActionLoginAttempt, handler.handleLogin)).
		Methods("POST", "OPTIONS").Name("admin-login")

	router.Handle("/admin", gate.Admin(handler.handleDashboard)).Methods("GET").Name("admin-dashboard")
	router.Handle("/admin/csrf", gate.Admin(handler.handleCsrf)).Methods("GET").Name("admin-csrf")
	router.Handle("/admin/logout", gate.Admin(handler.handleLogout)).Methods("POST").Name("admin-logout")
	router.
		Handle("/admin/change-password", gate.Admin(handler.handleChangePassword)).
		Methods("POST").Name("admin-change-password")
	router.
		Handle("/admin/contact/{id}/reply", gate.Admin(handler.handleContactReply)).
		Methods("POST").Name("admin-contact-reply")
	router.
		Handle("/admin/newsletter/broadcast", gate.Admin(handler.handleBroadcast)).
		Methods("POST").Name("admin-newsletter-broadcast")
	router.Handle("/admin/settings/email", gate.Admin(handler.handleEmailSettings)).Methods("GET").Name("admin-email-settings")
	router.
		Handle("/admin/settings/email/test", gate.Admin(handler.handleTestEmail)).
		Methods("POST").Name("admin-email-test")
	router.Handle("/admin/email/jobs/{id}", gate.Admin(handler.handleGetJob)).Methods("GET").Name("admin-email-job")
	router.Handle("/admin/email/batches/{id}", gate.Admin(handler.handleGetBatch)).Methods("GET").Name("admin-email-batch")
}

func (handler *Handler) countLogin(result string) {
	if handler.metrics != nil {
		handler.metrics.CounterLoginAttempts.WithLabelValues(result).Inc()
	}
}

// sessionToken is always set behind RequireSession.
func sessionToken(r *http.Request) string {
	token, _ := middleware.SessionTokenFromContext(r.Context())
	return token
}

func (handler *Handler) issueSessionToken(r *http.Request) (string, error) {
	return handler.guard.Issue(csrf.SessionContext(sessionToken(r)))
}

// safeNext only lets local paths through, so the login form cannot be used as an open redirect.
func safeNext(next string) string {
	if !strings.HasPrefix(next, "/") || strings.HasPrefix(next, "//") || strings.HasPrefix(next, "/\\") {
		return "/admin"
	}
	return next
}

func pathID(r *http.Request) (int, bool) {
	id, err := strconv.Atoi(mux.Vars(r)["id"])
	if err != nil || id <= 0 {
		return 0, false
	}
	return id, true
}

func (handler *Handler) handleLoginForm(w http.ResponseWriter, _ *http.Request) {
	if err := public.WriteFormToken(w, handler.guard, handler.formToken); err != nil {
		log.Errorf("admin handler, issue login form token: %s", err)
		http.Error(w, "internal server error", http.StatusInternalServerError)
	}
}

type csrfResponse struct {
	CsrfToken string `json:"csrf_token"`
}

func (handler *Handler) handleCsrf(w http.ResponseWriter, r *http.Request) {
	token, err := handler.issueSessionToken(r)
	if err != nil {
		log.Errorf("admin handler, issue csrf token: %s", err)
		http.Error(w, "internal server error", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Cache-Control", "no-store")
	pkg.WriteJSON(w, http.StatusOK, csrfResponse{CsrfToken: token})
}

type dashboardResponse struct {
	Admin     string `json:"admin"`
	CsrfToken string `json:"csrf_token"`
	// false means replies and broadcasts will only be recorded as failed
	EmailConfigured bool `json:"email_configured"`
}

func (handler *Handler) handleDashboard(w http.ResponseWriter, r *http.Request) {
	adminID, _ := middleware.AdminIDFromContext(r.Context())
	token, err := handler.issueSessionToken(r)
	if err != nil {
		log.Errorf("admin handler, dashboard csrf token: %s", err)
		http.Error(w, "internal server error", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Cache-Control", "no-store")
	pkg.WriteJSON(w, http.StatusOK, dashboardResponse{
		Admin:           adminID,
		CsrfToken:       token,
		EmailConfigured: handler.dispatcher.Configured(),
	})
}
