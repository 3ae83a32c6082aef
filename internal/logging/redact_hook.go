package logging

import (
	"strings"

	"github.com/sirupsen/logrus"
)

const redacted = "[redacted]"

var defaultSecretKeys = []string{"password", "token", "csrf", "secret", "cookie", "authorization"}

// RedactHook masks log fields whose key looks like it carries a credential.
// It has to be registered before any hook that ships entries elsewhere.
type RedactHook struct {
	keys []string
}

func NewRedactHook(extraKeys ...string) *RedactHook {
	keys := append([]string{}, defaultSecretKeys...)
	for _, k := range extraKeys {
		keys = append(keys, strings.ToLower(k))
	}
	return &RedactHook{keys: keys}
}

func (h *RedactHook) Levels() []logrus.Level {
	return logrus.AllLevels
}

func (h *RedactHook) Fire(entry *logrus.Entry) error {
	for k, v := range entry.Data {
		if v == nil || !h.secret(k) {
			continue
		}
		if s, ok := v.(string); ok && s == "" {
			continue
		}
		entry.Data[k] = redacted
	}
	return nil
}

func (h *RedactHook) secret(key string) bool {
	key = strings.ToLower(key)
	for _, k := range h.keys {
		if strings.Contains(key, k) {
			return true
		}
	}
	return false
}
