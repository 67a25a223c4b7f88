package sessionstore

import (
	"crypto/sha256"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/gorilla/sessions"
	"golang.org/x/crypto/hkdf"
)

// deriveKey expands secret into n bytes bound to info using HKDF-SHA256.
func deriveKey(secret []byte, info string, n int) ([]byte, error) {
	h := hkdf.New(sha256.New, secret, nil, []byte(info))
	out := make([]byte, n)
	if _, err := io.ReadFull(h, out); err != nil {
		return nil, err
	}
	return out, nil
}

// DeriveCookieKeys derives the HMAC key (64 bytes) and the AES-256 key
// (32 bytes) for session cookies from one secret.
func DeriveCookieKeys(secret string) (hashKey, blockKey []byte, err error) {
	if secret == "" {
		return nil, nil, fmt.Errorf("empty session secret")
	}
	hashKey, err = deriveKey([]byte(secret), "dashboard-session-cookie-hash", 64)
	if err != nil {
		return nil, nil, err
	}
	blockKey, err = deriveKey([]byte(secret), "dashboard-session-cookie-block", 32)
	if err != nil {
		return nil, nil, err
	}
	return hashKey, blockKey, nil
}

// NewCookieStore builds the gorilla cookie store for browser sessions.
func NewCookieStore(secret string, maxAge time.Duration, secure bool) (*sessions.CookieStore, error) {
	hashKey, blockKey, err := DeriveCookieKeys(secret)
	if err != nil {
		return nil, err
	}
	store := sessions.NewCookieStore(hashKey, blockKey)
	store.Options = &sessions.Options{
		Path:     "/",
		MaxAge:   int(maxAge.Seconds()),
		HttpOnly: true,
		Secure:   secure,
		SameSite: http.SameSiteLaxMode,
	}
	store.MaxAge(store.Options.MaxAge)
	return store, nil
}
