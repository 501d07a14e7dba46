package session

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yourusername/university/internal/users"
)

type fakeClock struct {
	now time.Time
}

func (c *fakeClock) Now() time.Time { return c.now }

func (c *fakeClock) Advance(d time.Duration) { c.now = c.now.Add(d) }

func newTestTokens(t *testing.T) (*SignedTokens, *fakeClock) {
	t.Helper()
	clock := &fakeClock{now: time.Date(2026, 10, 19, 9, 0, 0, 0, time.UTC)}
	tokens, err := NewSignedTokens([]byte("test-secret"), 60*time.Second, WithClock(clock.Now))
	require.NoError(t, err)
	return tokens, clock
}

var foo = users.User{Username: "foo", DisplayName: "Foo Foo"}

func TestIssueAndVerify(t *testing.T) {
	tokens, clock := newTestTokens(t)

	token, err := tokens.Issue(foo)
	require.NoError(t, err)

	p, err := tokens.Verify(token)
	require.NoError(t, err)
	assert.Equal(t, "foo", p.Username)
	assert.Equal(t, "Foo Foo", p.DisplayName)
	assert.True(t, p.IssuedAt.Equal(clock.now))
	assert.True(t, p.ExpiresAt.Equal(clock.now.Add(60*time.Second)))
}

func TestVerifyExpiryBoundary(t *testing.T) {
	tokens, clock := newTestTokens(t)

	token, err := tokens.Issue(foo)
	require.NoError(t, err)

	clock.Advance(59 * time.Second)
	_, err = tokens.Verify(token)
	require.NoError(t, err)

	clock.Advance(time.Second)
	_, err = tokens.Verify(token)
	assert.ErrorIs(t, err, ErrExpiredToken)

	clock.Advance(time.Hour)
	_, err = tokens.Verify(token)
	assert.ErrorIs(t, err, ErrExpiredToken)
}

func TestVerifyExpiryBoundarySubSecondIssue(t *testing.T) {
	tokens, clock := newTestTokens(t)
	clock.Advance(900 * time.Millisecond)
	issuedAt := clock.now

	token, err := tokens.Issue(foo)
	require.NoError(t, err)

	clock.now = issuedAt.Add(59500 * time.Millisecond)
	p, err := tokens.Verify(token)
	require.NoError(t, err)
	assert.True(t, p.ExpiresAt.Equal(issuedAt.Add(60*time.Second)))

	clock.now = issuedAt.Add(60*time.Second - time.Millisecond)
	_, err = tokens.Verify(token)
	require.NoError(t, err)

	clock.now = issuedAt.Add(60 * time.Second)
	_, err = tokens.Verify(token)
	assert.ErrorIs(t, err, ErrExpiredToken)
}

func TestVerifyRejectsTampering(t *testing.T) {
	tokens, _ := newTestTokens(t)
	token, err := tokens.Issue(foo)
	require.NoError(t, err)

	other, err := NewSignedTokens([]byte("other-secret"), time.Minute)
	require.NoError(t, err)
	forged, err := other.Issue(foo)
	require.NoError(t, err)

	parts := strings.Split(token, ".")
	require.Len(t, parts, 3)

	for name, candidate := range map[string]string{
		"empty":         "",
		"garbage":       "not-a-token",
		"other secret":  forged,
		"bad signature": parts[0] + "." + parts[1] + ".AAAA",
		"no signature":  parts[0] + "." + parts[1] + ".",
	} {
		t.Run(name, func(t *testing.T) {
			_, err := tokens.Verify(candidate)
			assert.ErrorIs(t, err, ErrInvalidToken)
		})
	}
}

func TestNewSignedTokensValidation(t *testing.T) {
	_, err := NewSignedTokens(nil, time.Minute)
	require.Error(t, err)

	_, err = NewSignedTokens([]byte("s"), 0)
	require.Error(t, err)

	tokens, err := NewSignedTokens([]byte("s"), time.Minute)
	require.NoError(t, err)
	_, err = tokens.Issue(users.User{})
	require.Error(t, err)
}

func TestResolve(t *testing.T) {
	tokens, clock := newTestTokens(t)
	token, err := tokens.Issue(foo)
	require.NoError(t, err)

	r := Resolve(tokens, "")
	assert.Equal(t, Anonymous, r.State)
	assert.Equal(t, RejectMissing, r.Rejection)
	assert.False(t, r.Stale())

	r = Resolve(tokens, token)
	assert.Equal(t, Authenticated, r.State)
	assert.Equal(t, "Foo Foo", r.Principal.DisplayName)
	assert.Equal(t, RejectNone, r.Rejection)

	r = Resolve(tokens, "garbage")
	assert.Equal(t, Anonymous, r.State)
	assert.Equal(t, RejectInvalid, r.Rejection)
	assert.True(t, r.Stale())

	clock.Advance(60 * time.Second)
	r = Resolve(tokens, token)
	assert.Equal(t, Anonymous, r.State)
	assert.Equal(t, RejectExpired, r.Rejection)
	assert.True(t, r.Stale())

	assert.Equal(t, "anonymous", Anonymous.String())
	assert.Equal(t, "authenticated", Authenticated.String())
}
