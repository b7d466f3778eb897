package auth

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/Jackwwg83/coderunner2-sub003/pkg/types"
)

// Identity is the verified principal behind a bearer token.
type Identity struct {
	UserID   string
	Email    string
	PlanType string
}

// Authenticator verifies bearer tokens. Token format is opaque to the
// rest of the control plane.
type Authenticator interface {
	Verify(token string) (*Identity, error)
}

// HMACAuthenticator verifies tokens of the form
// base64(user_id|email|plan|expiry_unix)).base64(hmac-sha256(payload)).
// A process-scoped blacklist supports revocation; cross-process
// revocation is the issuer's concern.
type HMACAuthenticator struct {
	secret    []byte
	mu        sync.RWMutex
	blacklist map[string]time.Time
}

// NewHMACAuthenticator creates an authenticator with the shared secret.
func NewHMACAuthenticator(secret string) *HMACAuthenticator {
	return &HMACAuthenticator{
		secret:    []byte(secret),
		blacklist: make(map[string]time.Time),
	}
}

// Issue creates a signed token for the identity, valid for ttl.
// Used by tests and development tooling; production tokens come from
// the credential service.
func (a *HMACAuthenticator) Issue(id Identity, ttl time.Duration) string {
	payload := fmt.Sprintf("%s|%s|%s|%d", id.UserID, id.Email, id.PlanType, time.Now().Add(ttl).Unix())
	encoded := base64.RawURLEncoding.EncodeToString([]byte(payload))
	return encoded + "." + a.sign(encoded)
}

// Verify checks signature, expiry, and the revocation list.
func (a *HMACAuthenticator) Verify(token string) (*Identity, error) {
	a.mu.RLock()
	_, revoked := a.blacklist[token]
	a.mu.RUnlock()
	if revoked {
		return nil, types.AccessDeniedf("token revoked")
	}

	encoded, sig, ok := strings.Cut(token, ".")
	if !ok {
		return nil, types.AccessDeniedf("malformed token")
	}
	if !hmac.Equal([]byte(a.sign(encoded)), []byte(sig)) {
		return nil, types.AccessDeniedf("bad token signature")
	}

	raw, err := base64.RawURLEncoding.DecodeString(encoded)
	if err != nil {
		return nil, types.AccessDeniedf("malformed token payload")
	}
	parts := strings.Split(string(raw), "|")
	if len(parts) != 4 {
		return nil, types.AccessDeniedf("malformed token payload")
	}

	expiry, err := strconv.ParseInt(parts[3], 10, 64)
	if err != nil || time.Now().Unix() > expiry {
		return nil, types.AccessDeniedf("token expired")
	}

	return &Identity{
		UserID:   parts[0],
		Email:    parts[1],
		PlanType: parts[2],
	}, nil
}

// Revoke blacklists a token until its natural expiry would have passed.
func (a *HMACAuthenticator) Revoke(token string) {
	a.mu.Lock()
	a.blacklist[token] = time.Now()
	a.mu.Unlock()
}

func (a *HMACAuthenticator) sign(payload string) string {
	mac := hmac.New(sha256.New, a.secret)
	mac.Write([]byte(payload))
	return base64.RawURLEncoding.EncodeToString(mac.Sum(nil))
}
