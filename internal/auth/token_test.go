package auth

import (
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/baduk1/threadsync/pkg/thread"
)

var ada = thread.User{ID: "u-1", DisplayName: "Ada", Email: "ada@example.test"}

func newTestIssuer(t *testing.T) *Issuer {
	t.Helper()
	issuer, err := NewIssuer("test-secret")
	require.NoError(t, err)
	return issuer
}

func TestIssueAndVerify(t *testing.T) {
	issuer := newTestIssuer(t)

	token, err := issuer.Issue(ada)
	require.NoError(t, err)

	claims, err := issuer.Verify(token)
	require.NoError(t, err)
	assert.Equal(t, ada, claims.User())
	assert.Equal(t, "u-1", claims.Subject)
	assert.NotEmpty(t, claims.ID)

	userID, err := issuer.UserID(token)
	require.NoError(t, err)
	assert.Equal(t, "u-1", userID)
}

func TestIssue_UniqueTokenIDs(t *testing.T) {
	issuer := newTestIssuer(t)
	a, err := issuer.Issue(ada)
	require.NoError(t, err)
	b, err := issuer.Issue(ada)
	require.NoError(t, err)

	ca, err := issuer.Verify(a)
	require.NoError(t, err)
	cb, err := issuer.Verify(b)
	require.NoError(t, err)
	assert.NotEqual(t, ca.ID, cb.ID)
}

func TestVerify_Rejections(t *testing.T) {
	issuer := newTestIssuer(t)
	valid, err := issuer.Issue(ada)
	require.NoError(t, err)

	other, err := NewIssuer("other-secret")
	require.NoError(t, err)
	foreign, err := other.Issue(ada)
	require.NoError(t, err)

	expiredIssuer := newTestIssuer(t)
	expiredIssuer.now = func() time.Time { return time.Now().Add(-48 * time.Hour) }
	expired, err := expiredIssuer.Issue(ada)
	require.NoError(t, err)

	unsigned, err := jwt.NewWithClaims(jwt.SigningMethodNone, &Claims{UserID: "u-1"}).
		SignedString(jwt.UnsafeAllowNoneSignatureType)
	require.NoError(t, err)

	tests := map[string]string{
		"empty":        "",
		"garbage":      "not-a-token",
		"other secret": foreign,
		"expired":      expired,
		"alg none":     unsigned,
		"truncated":    valid[:len(valid)-4],
	}
	for name, token := range tests {
		t.Run(name, func(t *testing.T) {
			_, err := issuer.Verify(token)
			require.Error(t, err)
			assert.ErrorIs(t, err, ErrInvalidToken)
		})
	}
}

func TestNewIssuer_EmptySecret(t *testing.T) {
	_, err := NewIssuer("")
	assert.Error(t, err)

	issuer := newTestIssuer(t)
	_, err = issuer.Issue(thread.User{DisplayName: "nobody"})
	assert.Error(t, err)
}
