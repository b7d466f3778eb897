package auth

import (
	"testing"
	"time"

	"github.com/Jackwwg83/coderunner2-sub003/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestVerifyRoundTrip(t *testing.T) {
	a := NewHMACAuthenticator("test-secret")

	token := a.Issue(Identity{UserID: "u1", Email: "u1@example.com", PlanType: "pro"}, time.Minute)

	id, err := a.Verify(token)
	require.NoError(t, err)
	assert.Equal(t, "u1", id.UserID)
	assert.Equal(t, "u1@example.com", id.Email)
	assert.Equal(t, "pro", id.PlanType)
}

func TestVerifyRejectsTampering(t *testing.T) {
	a := NewHMACAuthenticator("test-secret")
	token := a.Issue(Identity{UserID: "u1"}, time.Minute)

	_, err := a.Verify(token + "x")
	require.Error(t, err)
	assert.Equal(t, types.ErrAccessDenied, types.CategoryOf(err))

	_, err = a.Verify("not-a-token")
	assert.Error(t, err)
}

func TestVerifyRejectsWrongSecret(t *testing.T) {
	issuer := NewHMACAuthenticator("secret-a")
	verifier := NewHMACAuthenticator("secret-b")

	token := issuer.Issue(Identity{UserID: "u1"}, time.Minute)
	_, err := verifier.Verify(token)
	assert.Error(t, err)
}

func TestVerifyRejectsExpired(t *testing.T) {
	a := NewHMACAuthenticator("test-secret")
	token := a.Issue(Identity{UserID: "u1"}, -time.Minute)

	_, err := a.Verify(token)
	assert.Error(t, err)
}

func TestRevoke(t *testing.T) {
	a := NewHMACAuthenticator("test-secret")
	token := a.Issue(Identity{UserID: "u1"}, time.Minute)

	_, err := a.Verify(token)
	require.NoError(t, err)

	a.Revoke(token)
	_, err = a.Verify(token)
	assert.Error(t, err)
}
