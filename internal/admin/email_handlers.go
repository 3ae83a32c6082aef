package admin

import (
	"errors"
	"net/http"
	"net/url"
	"strings"

	"github.com/2beens/sitegate/internal/notify"
	"github.com/2beens/sitegate/internal/site"
	"github.com/2beens/sitegate/internal/telemetry/tracing"
	"github.com/2beens/sitegate/pkg"

	"github.com/gorilla/mux"
	log "github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel/attribute"
)

// emailWarning turns the errors that leave the request itself successful into
// a message for the admin. Other errors give "".
func emailWarning(err error) string {
	switch {
	case errors.Is(err, notify.ErrTransportUnconfigured):
		return "email is not configured, nothing was sent"
	case errors.Is(err, notify.ErrQueueFull):
		return "email queue is full, nothing was sent, try again later"
	case errors.Is(err, notify.ErrDispatcherStopped):
		return "email dispatcher is shutting down, nothing was sent"
	}
	return ""
}

type replyRequest struct {
	Body     string `json:"body"`
	SendCopy bool   `json:"send_copy"`
}

func (req *replyRequest) FromForm(values url.Values) {
	req.Body = values.Get("body")
	req.SendCopy = pkg.FormBool(values.Get("send_copy"))
}

type replyResponse struct {
	Job     notify.EmailJob `json:"job"`
	Warning string          `json:"warning,omitempty"`
}

func (handler *Handler) handleContactReply(w http.ResponseWriter, r *http.Request) {
	ctx, span := tracing.GlobalTracer.Start(r.Context(), "adminHandler.contactReply")
	defer span.End()

	id, ok := pathID(r)
	if !ok {
		http.Error(w, "error, invalid id", http.StatusBadRequest)
		return
	}
	span.SetAttributes(attribute.Int("contact.id", id))

	var req replyRequest
	if err := pkg.DecodeRequest(r, &req); err != nil {
		http.Error(w, "invalid request", http.StatusBadRequest)
		return
	}
	if strings.TrimSpace(req.Body) == "" {
		http.Error(w, "error, reply body empty", http.StatusBadRequest)
		return
	}

	contact, err := handler.contacts.Get(ctx, id)
	if err != nil {
		if errors.Is(err, site.ErrContactNotFound) {
			http.Error(w, "error, contact message not found", http.StatusNotFound)
			return
		}
		log.Errorf("admin handler, get contact %d: %s", id, err)
		http.Error(w, "internal server error", http.StatusInternalServerError)
		return
	}

	// read regardless of what happens to the email
	if err := handler.contacts.MarkRead(ctx, id); err != nil {
		log.Errorf("admin handler, mark contact %d read: %s", id, err)
	}

	job, err := handler.dispatcher.SendReply(notify.ReplyMessage{
		To:              notify.Recipient{Email: contact.Email, Name: contact.Name},
		OriginalSubject: contact.Subject,
		Body:            req.Body,
		SendCopy:        req.SendCopy,
	})
	if err != nil {
		warning := emailWarning(err)
		if warning == "" {
			log.Errorf("admin handler, reply to contact %d: %s", id, err)
			span.RecordError(err)
			http.Error(w, "error, failed to prepare reply", http.StatusInternalServerError)
			return
		}
		log.Warnf("admin handler, reply to contact %d not sent: %s", id, err)
		pkg.WriteJSON(w, http.StatusOK, replyResponse{Job: job, Warning: warning})
		return
	}

	if err := handler.contacts.MarkReplied(ctx, id, handler.now()); err != nil {
		log.Errorf("admin handler, mark contact %d replied: %s", id, err)
	}

	pkg.WriteJSON(w, http.StatusAccepted, replyResponse{Job: job})
}

type broadcastRequest struct {
	Title   string `json:"title"`
	Excerpt string `json:"excerpt"`
	Slug    string `json:"slug"`
}

func (req *broadcastRequest) FromForm(values url.Values) {
	req.Title = values.Get("title")
	req.Excerpt = values.Get("excerpt")
	req.Slug = values.Get("slug")
}

type broadcastResponse struct {
	Batch   notify.Batch `json:"batch"`
	Warning string       `json:"warning,omitempty"`
}

// handleBroadcast returns as soon as the batch is queued; progress is read
// from /admin/email/batches/{id}.
func (handler *Handler) handleBroadcast(w http.ResponseWriter, r *http.Request) {
	ctx, span := tracing.GlobalTracer.Start(r.Context(), "adminHandler.broadcast")
	defer span.End()

	var req broadcastRequest
	if err := pkg.DecodeRequest(r, &req); err != nil {
		http.Error(w, "invalid request", http.StatusBadRequest)
		return
	}
	req.Title = strings.TrimSpace(req.Title)
	req.Slug = strings.TrimSpace(req.Slug)
	if req.Title == "" || req.Slug == "" {
		http.Error(w, "error, post title and slug required", http.StatusBadRequest)
		return
	}

	active, err := handler.subscribers.ListActive(ctx)
	if err != nil {
		log.Errorf("admin handler, list subscribers: %s", err)
		span.RecordError(err)
		http.Error(w, "internal server error", http.StatusInternalServerError)
		return
	}

	recipients := make([]notify.Subscriber, 0, len(active))
	for _, s := range active {
		recipients = append(recipients, notify.Subscriber{Email: s.Email, Name: s.Name})
	}
	span.SetAttributes(attribute.Int("broadcast.recipients", len(recipients)))

	batch, err := handler.dispatcher.SendBroadcast(notify.Post{
		Title:   req.Title,
		Excerpt: strings.TrimSpace(req.Excerpt),
		Slug:    req.Slug,
	}, recipients)
	if err != nil {
		warning := emailWarning(err)
		if warning == "" {
			log.Errorf("admin handler, broadcast: %s", err)
			span.RecordError(err)
			http.Error(w, "error, failed to prepare newsletter", http.StatusInternalServerError)
			return
		}
		log.Warnf("admin handler, broadcast not sent: %s", err)
		pkg.WriteJSON(w, http.StatusOK, broadcastResponse{Batch: batch, Warning: warning})
		return
	}

	log.Infof("admin handler, newsletter batch %s queued for %d subscribers", batch.ID, batch.Total)
	pkg.WriteJSON(w, http.StatusAccepted, broadcastResponse{Batch: batch})
}

func (handler *Handler) handleGetJob(w http.ResponseWriter, r *http.Request) {
	job, ok := handler.dispatcher.Job(mux.Vars(r)["id"])
	if !ok {
		http.Error(w, "error, email job not found", http.StatusNotFound)
		return
	}
	pkg.WriteJSON(w, http.StatusOK, job)
}

func (handler *Handler) handleGetBatch(w http.ResponseWriter, r *http.Request) {
	batch, ok := handler.dispatcher.Batch(mux.Vars(r)["id"])
	if !ok {
		http.Error(w, "error, email batch not found", http.StatusNotFound)
		return
	}
	pkg.WriteJSON(w, http.StatusOK, batch)
}

type emailSettingsResponse struct {
	SMTPServer   string `json:"smtp_server"`
	SMTPPort     int    `json:"smtp_port"`
	SMTPUsername string `json:"smtp_username"`
	PasswordSet  bool   `json:"smtp_password_set"`
	SenderEmail  string `json:"sender_email"`
	SenderName   string `json:"sender_name"`
	Configured   bool   `json:"configured"`
	CsrfToken    string `json:"csrf_token"`
}

func (handler *Handler) handleEmailSettings(w http.ResponseWriter, r *http.Request) {
	token, err := handler.issueSessionToken(r)
	if err != nil {
		log.Errorf("admin handler, email settings csrf token: %s", err)
		http.Error(w, "internal server error", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Cache-Control", "no-store")
	pkg.WriteJSON(w, http.StatusOK, emailSettingsResponse{
		SMTPServer:   handler.smtp.Server,
		SMTPPort:     handler.smtp.Port,
		SMTPUsername: handler.smtp.Username,
		PasswordSet:  handler.smtp.Password != "",
		SenderEmail:  handler.smtp.SenderEmail,
		SenderName:   handler.smtp.SenderName,
		Configured:   handler.dispatcher.Configured(),
		CsrfToken:    token,
	})
}

type testEmailRequest struct {
	TestEmail string `json:"test_email"`
}

func (req *testEmailRequest) FromForm(values url.Values) {
	req.TestEmail = values.Get("test_email")
}

func (handler *Handler) handleTestEmail(w http.ResponseWriter, r *http.Request) {
	_, span := tracing.GlobalTracer.Start(r.Context(), "adminHandler.testEmail")
	defer span.End()

	var req testEmailRequest
	if err := pkg.DecodeRequest(r, &req); err != nil {
		http.Error(w, "invalid request", http.StatusBadRequest)
		return
	}
	if strings.TrimSpace(req.TestEmail) == "" {
		req.TestEmail = handler.smtp.SenderEmail
	}
	to, err := site.NormalizeEmail(req.TestEmail)
	if err != nil {
		http.Error(w, "error, invalid test email address", http.StatusBadRequest)
		return
	}

	job, err := handler.dispatcher.SendTest(notify.Recipient{Email: to})
	if err != nil {
		warning := emailWarning(err)
		if warning == "" {
			log.Errorf("admin handler, test email: %s", err)
			span.RecordError(err)
			http.Error(w, "error, failed to prepare test email", http.StatusInternalServerError)
			return
		}
		pkg.WriteJSON(w, http.StatusOK, replyResponse{Job: job, Warning: warning})
		return
	}

	log.Infof("admin handler, test email %s queued", job.ID)
	pkg.WriteJSON(w, http.StatusAccepted, replyResponse{Job: job})
}
