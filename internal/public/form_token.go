package public

import (
	"fmt"
	"net/http"
	"time"

	"github.com/2beens/sitegate/internal/csrf"
	"github.com/2beens/sitegate/pkg"
)

type TokenIssuer interface {
	Issue(c csrf.Context) (string, error)
}

type FormTokenParams struct {
	FieldName       string
	NonceCookieName string
	TTL             time.Duration
	SecureCookie    bool
}

type formTokenResponse struct {
	CsrfToken string `json:"csrf_token"`
	FieldName string `json:"field_name"`
	ExpiresIn int    `json:"expires_in"`
}

// WriteFormToken starts a public form rendering: a fresh nonce goes into a
// cookie and the token bound to it into the JSON response.
func WriteFormToken(w http.ResponseWriter, issuer TokenIssuer, params FormTokenParams) error {
	resp, err := issueFormToken(w, issuer, params)
	if err != nil {
		return err
	}
	pkg.WriteJSON(w, http.StatusOK, resp)
	return nil
}

// issueFormToken sets the nonce cookie and leaves writing the body to the caller.
func issueFormToken(w http.ResponseWriter, issuer TokenIssuer, params FormTokenParams) (formTokenResponse, error) {
	c, nonce, err := csrf.NewAnonymousContext()
	if err != nil {
		return formTokenResponse{}, err
	}
	token, err := issuer.Issue(c)
	if err != nil {
		return formTokenResponse{}, fmt.Errorf("issue form token: %w", err)
	}

	http.SetCookie(w, &http.Cookie{
		Name:     params.NonceCookieName,
		Value:    nonce,
		Path:     "/",
		MaxAge:   int(params.TTL.Seconds()),
		HttpOnly: true,
		Secure:   params.SecureCookie,
		SameSite: http.SameSiteStrictMode,
	})
	w.Header().Set("Cache-Control", "no-store")
	return formTokenResponse{
		CsrfToken: token,
		FieldName: params.FieldName,
		ExpiresIn: int(params.TTL.Seconds()),
	}, nil
}
