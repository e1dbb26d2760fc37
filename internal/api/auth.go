package api

import (
	"crypto/hmac"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"errors"
	"fmt"
	"net/http"
	"strings"
)

// Заголовки подписанных callbacks.
const (
	HeaderSource    = "X-Atelier-Source"
	HeaderSignature = "X-Atelier-Signature"
)

// signaturePrefix — схема подписи в заголовке.
const signaturePrefix = "sha256="

// Ошибки аутентификации.
var (
	ErrMissingToken     = errors.New("missing bearer token")
	ErrInvalidToken     = errors.New("invalid bearer token")
	ErrUnknownSource    = errors.New("unknown callback source")
	ErrInvalidSignature = errors.New("invalid callback signature")
)

// AdminAuthorizer проверяет административный запрос.
type AdminAuthorizer interface {
	AuthorizeAdmin(r *http.Request) error
}

// BearerToken — AdminAuthorizer со статическим токеном.
type BearerToken string

// AuthorizeAdmin реализует AdminAuthorizer.
func (t BearerToken) AuthorizeAdmin(r *http.Request) error {
	header := r.Header.Get("Authorization")
	token, ok := strings.CutPrefix(header, "Bearer ")
	if !ok || token == "" {
		return ErrMissingToken
	}
	if t == "" || subtle.ConstantTimeCompare([]byte(token), []byte(t)) != 1 {
		return ErrInvalidToken
	}
	return nil
}

// Signer проверяет HMAC-SHA256 подписи callbacks по секретам источников.
type Signer struct {
	secrets map[string][]byte
}

// NewSigner создаёт Signer из таблицы источник → секрет.
func NewSigner(secrets map[string]string) *Signer {
	s := &Signer{secrets: make(map[string][]byte, len(secrets))}
	for source, secret := range secrets {
		s.secrets[strings.ToLower(source)] = []byte(secret)
	}
	return s
}

// Sign возвращает значение заголовка X-Atelier-Signature для тела.
func Sign(secret, body []byte) string {
	mac := hmac.New(sha256.New, secret)
	mac.Write(body)
	return signaturePrefix + hex.EncodeToString(mac.Sum(nil))
}

// Verify проверяет подпись тела и возвращает нормализованное имя источника.
func (s *Signer) Verify(source, signature string, body []byte) (string, error) {
	source = strings.ToLower(strings.TrimSpace(source))
	secret, ok := s.secrets[source]
	if !ok {
		return "", fmt.Errorf("%w: %q", ErrUnknownSource, source)
	}
	if !hmac.Equal([]byte(Sign(secret, body)), []byte(strings.TrimSpace(signature))) {
		return "", ErrInvalidSignature
	}
	return source, nil
}
