package pkg

import (
	"encoding/json"
	"fmt"
	"mime"
	"net/http"
	"net/url"
)

// FormDecoder is implemented by request payloads that can also come as a
// plain form post.
type FormDecoder interface {
	FromForm(values url.Values)
}

// DecodeRequest reads a JSON body when the request says so, form values otherwise.
func DecodeRequest(r *http.Request, dst FormDecoder) error {
	mediaType, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
	if mediaType == "application/json" {
		if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
			return fmt.Errorf("decode json body: %w", err)
		}
		return nil
	}

	if err := r.ParseForm(); err != nil {
		return fmt.Errorf("parse form: %w", err)
	}
	dst.FromForm(r.PostForm)
	return nil
}

// FormBool accepts the usual checkbox and flag spellings.
func FormBool(v string) bool {
	switch v {
	case "1", "true", "on", "yes":
		return true
	}
	return false
}
