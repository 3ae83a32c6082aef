package admin

import (
	"errors"
	"net/http"
	"net/url"
	"time"

	"github.com/2beens/sitegate/internal/auth"
	"github.com/2beens/sitegate/internal/middleware"
	"github.com/2beens/sitegate/internal/telemetry/tracing"
	"github.com/2beens/sitegate/pkg"

	log "github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel/codes"
)

type loginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
	Next     string `json:"next"`
}

func (req *loginRequest) FromForm(values url.Values) {
	req.Username = values.Get("username")
	req.Password = values.Get("password")
	req.Next = values.Get("next")
}

type loginResponse struct {
	Admin     string    `json:"admin"`
	ExpiresAt time.Time `json:"expires_at"`
	Next      string    `json:"next"`
}

func (handler *Handler) handleLogin(w http.ResponseWriter, r *http.Request) {
	ctx, span := tracing.GlobalTracer.Start(r.Context(), "adminHandler.login")
	defer span.End()

	var req loginRequest
	if err := pkg.DecodeRequest(r, &req); err != nil {
		http.Error(w, "login failed", http.StatusBadRequest)
		return
	}
	if req.Username == "" || req.Password == "" {
		http.Error(w, "error, username and password required", http.StatusBadRequest)
		return
	}

	if !handler.credentials.Verify(ctx, req.Username, req.Password) {
		handler.countLogin("invalid")
		log.Tracef("failed login attempt for user: %s", req.Username)
		span.SetStatus(codes.Error, "invalid-credentials")
		http.Error(w, "invalid username or password", http.StatusUnauthorized)
		return
	}

	// whatever session this browser had before is not carried over
	if cookie, err := r.Cookie(handler.sessions.CookieName()); err == nil {
		if err := handler.sessions.Revoke(ctx, cookie.Value); err != nil {
			log.Warnf("admin handler, login: revoke previous session: %s", err)
		}
	}

	session, err := handler.sessions.Create(ctx, req.Username)
	if err != nil {
		handler.countLogin("error")
		log.Errorf("admin handler, login: create session: %s", err)
		span.RecordError(err)
		http.Error(w, "login failed", http.StatusInternalServerError)
		return
	}

	handler.countLogin("success")
	log.Infof("admin [%s] logged in", req.Username)
	span.SetStatus(codes.Ok, "ok")

	http.SetCookie(w, handler.sessions.Cookie(session))
	pkg.WriteJSON(w, http.StatusOK, loginResponse{
		Admin:     session.AdminID,
		ExpiresAt: session.ExpiresAt,
		Next:      safeNext(req.Next),
	})
}

func (handler *Handler) handleLogout(w http.ResponseWriter, r *http.Request) {
	ctx, span := tracing.GlobalTracer.Start(r.Context(), "adminHandler.logout")
	defer span.End()

	if err := handler.sessions.Revoke(ctx, sessionToken(r)); err != nil {
		log.Errorf("admin handler, logout: %s", err)
		span.RecordError(err)
		http.Error(w, "logout failed", http.StatusInternalServerError)
		return
	}

	adminID, _ := middleware.AdminIDFromContext(ctx)
	log.Infof("admin [%s] logged out", adminID)
	http.SetCookie(w, handler.sessions.ClearCookie())
	pkg.WriteJSON(w, http.StatusOK, map[string]string{"status": "logged-out"})
}

type changePasswordRequest struct {
	CurrentPassword string `json:"current_password"`
	NewPassword     string `json:"new_password"`
	ConfirmPassword string `json:"confirm_password"`
}

func (req *changePasswordRequest) FromForm(values url.Values) {
	req.CurrentPassword = values.Get("current_password")
	req.NewPassword = values.Get("new_password")
	req.ConfirmPassword = values.Get("confirm_password")
}

// handleChangePassword ends every session of the admin, this one included.
func (handler *Handler) handleChangePassword(w http.ResponseWriter, r *http.Request) {
	ctx, span := tracing.GlobalTracer.Start(r.Context(), "adminHandler.changePassword")
	defer span.End()

	var req changePasswordRequest
	if err := pkg.DecodeRequest(r, &req); err != nil {
		http.Error(w, "invalid request", http.StatusBadRequest)
		return
	}

	adminID, _ := middleware.AdminIDFromContext(ctx)
	if req.NewPassword != req.ConfirmPassword {
		http.Error(w, "error, new passwords do not match", http.StatusBadRequest)
		return
	}
	if !handler.credentials.Verify(ctx, adminID, req.CurrentPassword) {
		log.Tracef("change password: wrong current password for admin [%s]", adminID)
		http.Error(w, "error, current password is incorrect", http.StatusBadRequest)
		return
	}

	err := handler.credentials.ChangePassword(ctx, adminID, req.NewPassword)
	switch {
	case errors.Is(err, auth.ErrPasswordTooShort), errors.Is(err, auth.ErrPasswordTooLong):
		http.Error(w, "error, "+err.Error(), http.StatusBadRequest)
		return
	case err != nil:
		log.Errorf("admin handler, change password: %s", err)
		span.RecordError(err)
		http.Error(w, "error, failed to change password", http.StatusInternalServerError)
		return
	}

	log.Infof("admin [%s] changed password, all sessions revoked", adminID)
	http.SetCookie(w, handler.sessions.ClearCookie())
	pkg.WriteJSON(w, http.StatusOK, map[string]string{"status": "password-changed"})
}
