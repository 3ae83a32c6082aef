package public

import (
	"errors"
	"net/http"
	"net/url"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/2beens/sitegate/internal/middleware"
	"github.com/2beens/sitegate/internal/ratelimit"
	"github.com/2beens/sitegate/internal/site"
	"github.com/2beens/sitegate/internal/telemetry/tracing"
	"github.com/2beens/sitegate/pkg"

	"github.com/gorilla/mux"
	log "github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel/codes"
)

const (
	maxNameLen    = 100
	maxSubjectLen = 200
	maxMessageLen = 5000
)

type Handler struct {
	guard       TokenIssuer
	contacts    site.ContactRepo
	subscribers site.SubscriberRepo
	formToken   FormTokenParams
	now         func() time.Time
}

func NewHandler(
	guard TokenIssuer,
	contacts site.ContactRepo,
	subscribers site.SubscriberRepo,
	formToken FormTokenParams,
) *Handler {
	return &Handler{
		guard:       guard,
		contacts:    contacts,
		subscribers: subscribers,
		formToken:   formToken,
		now:         time.Now,
	}
}

func (handler *Handler) SetupRoutes(router *mux.Router, gate middleware.Gate) {
	router.HandleFunc("/csrf", handler.handleCsrf).Methods("GET").Name("csrf")
	router.
		Handle("/contact", gate.Public(ratelimit.ActionContactSubmit, handler.handleContact)).
		Methods("POST", "OPTIONS").Name("contact")
	router.
		Handle("/newsletter/subscribe", gate.Public(ratelimit.ActionNewsletterSignup, handler.handleSubscribe)).
		Methods("POST", "OPTIONS").Name("newsletter-subscribe")
	// the link in every newsletter email lands here
	router.HandleFunc("/newsletter/unsubscribe", handler.handleUnsubscribePage).Methods("GET").Name("newsletter-unsubscribe-page")
	router.
		Handle("/newsletter/unsubscribe", gate.Public("", handler.handleUnsubscribe)).
		Methods("POST", "OPTIONS").Name("newsletter-unsubscribe")
}

type statusResponse struct {
	Status string `json:"status"`
	ID     int    `json:"id,omitempty"`
}

func (handler *Handler) handleCsrf(w http.ResponseWriter, r *http.Request) {
	if err := WriteFormToken(w, handler.guard, handler.formToken); err != nil {
		log.Errorf("public handler, issue form token: %s", err)
		http.Error(w, "internal server error", http.StatusInternalServerError)
	}
}

type contactRequest struct {
	Name    string `json:"name"`
	Email   string `json:"email"`
	Subject string `json:"subject"`
	Message string `json:"message"`
}

func (req *contactRequest) FromForm(values url.Values) {
	req.Name = values.Get("name")
	req.Email = values.Get("email")
	req.Subject = values.Get("subject")
	req.Message = values.Get("message")
}

func (req *contactRequest) validate() (string, error) {
	email, err := site.NormalizeEmail(req.Email)
	if err != nil {
		return "", err
	}
	req.Name = strings.TrimSpace(req.Name)
	req.Subject = strings.TrimSpace(req.Subject)
	req.Message = strings.TrimSpace(req.Message)
	switch {
	case req.Message == "":
		return "", errors.New("message empty")
	case utf8.RuneCountInString(req.Name) > maxNameLen:
		return "", errors.New("name too long")
	case utf8.RuneCountInString(req.Subject) > maxSubjectLen:
		return "", errors.New("subject too long")
	case utf8.RuneCountInString(req.Message) > maxMessageLen:
		return "", errors.New("message too long")
	}
	return email, nil
}

func (handler *Handler) handleContact(w http.ResponseWriter, r *http.Request) {
	ctx, span := tracing.GlobalTracer.Start(r.Context(), "publicHandler.contact")
	defer span.End()

	var req contactRequest
	if err := pkg.DecodeRequest(r, &req); err != nil {
		http.Error(w, "invalid request", http.StatusBadRequest)
		return
	}

	email, err := req.validate()
	if err != nil {
		span.SetStatus(codes.Error, "invalid-contact")
		http.Error(w, "error, "+err.Error(), http.StatusBadRequest)
		return
	}

	added, err := handler.contacts.Add(ctx, &site.ContactMessage{
		Name:      req.Name,
		Email:     email,
		Subject:   req.Subject,
		Message:   req.Message,
		CreatedAt: handler.now(),
	})
	if err != nil {
		log.Errorf("public handler, store contact message: %s", err)
		span.RecordError(err)
		http.Error(w, "error, failed to send message", http.StatusInternalServerError)
		return
	}

	log.Infof("new contact message received: %d", added.ID)
	span.SetStatus(codes.Ok, "ok")
	pkg.WriteJSON(w, http.StatusCreated, statusResponse{Status: "received", ID: added.ID})
}

type subscriptionRequest struct {
	Email string `json:"email"`
	Name  string `json:"name"`
}

func (req *subscriptionRequest) FromForm(values url.Values) {
	req.Email = values.Get("email")
	req.Name = values.Get("name")
}

func (handler *Handler) handleSubscribe(w http.ResponseWriter, r *http.Request) {
	ctx, span := tracing.GlobalTracer.Start(r.Context(), "publicHandler.subscribe")
	defer span.End()

	var req subscriptionRequest
	if err := pkg.DecodeRequest(r, &req); err != nil {
		http.Error(w, "invalid request", http.StatusBadRequest)
		return
	}
	email, err := site.NormalizeEmail(req.Email)
	if err != nil {
		http.Error(w, "error, invalid email", http.StatusBadRequest)
		return
	}
	name := strings.TrimSpace(req.Name)
	if utf8.RuneCountInString(name) > maxNameLen {
		http.Error(w, "error, name too long", http.StatusBadRequest)
		return
	}

	err = handler.subscribers.Subscribe(ctx, email, name, handler.now())
	switch {
	case errors.Is(err, site.ErrAlreadySubscribed):
		pkg.WriteJSON(w, http.StatusOK, statusResponse{Status: "already-subscribed"})
	case err != nil:
		log.Errorf("public handler, subscribe: %s", err)
		span.RecordError(err)
		http.Error(w, "error, failed to subscribe", http.StatusInternalServerError)
	default:
		log.Debugln("new newsletter subscriber")
		pkg.WriteJSON(w, http.StatusCreated, statusResponse{Status: "subscribed"})
	}
}

type unsubscribePageResponse struct {
	formTokenResponse
	Email string `json:"email"`
}

// handleUnsubscribePage prepares the unsubscribe form: the email from the link
// plus a form token for the POST that follows.
func (handler *Handler) handleUnsubscribePage(w http.ResponseWriter, r *http.Request) {
	email := strings.TrimSpace(r.URL.Query().Get("email"))
	if email != "" {
		normalized, err := site.NormalizeEmail(email)
		if err != nil {
			http.Error(w, "error, invalid email", http.StatusBadRequest)
			return
		}
		email = normalized
	}

	token, err := issueFormToken(w, handler.guard, handler.formToken)
	if err != nil {
		log.Errorf("public handler, issue unsubscribe form token: %s", err)
		http.Error(w, "internal server error", http.StatusInternalServerError)
		return
	}
	pkg.WriteJSON(w, http.StatusOK, unsubscribePageResponse{
		formTokenResponse: token,
		Email:             email,
	})
}

func (handler *Handler) handleUnsubscribe(w http.ResponseWriter, r *http.Request) {
	ctx, span := tracing.GlobalTracer.Start(r.Context(), "publicHandler.unsubscribe")
	defer span.End()

	var req subscriptionRequest
	if err := pkg.DecodeRequest(r, &req); err != nil {
		http.Error(w, "invalid request", http.StatusBadRequest)
		return
	}
	email, err := site.NormalizeEmail(req.Email)
	if err != nil {
		http.Error(w, "error, invalid email", http.StatusBadRequest)
		return
	}

	err = handler.subscribers.Unsubscribe(ctx, email, handler.now())
	switch {
	case errors.Is(err, site.ErrSubscriberNotFound):
		pkg.WriteJSON(w, http.StatusOK, statusResponse{Status: "not-subscribed"})
	case err != nil:
		log.Errorf("public handler, unsubscribe: %s", err)
		span.RecordError(err)
		http.Error(w, "error, failed to unsubscribe", http.StatusInternalServerError)
	default:
		pkg.WriteJSON(w, http.StatusOK, statusResponse{Status: "unsubscribed"})
	}
}
