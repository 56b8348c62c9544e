package auth_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/quizfi/aptquiz/internal/auth"
	"github.com/quizfi/aptquiz/internal/errors"
)

func TestIssueVerify(t *testing.T) {
	s, err := auth.NewService(auth.Config{Secret: "test-secret"})
	require.NoError(t, err)

	token, err := s.Issue(7)
	require.NoError(t, err)
	require.NotEmpty(t, token)

	uid, err := s.Verify(token)
	require.NoError(t, err)
	require.Equal(t, int64(7), uid)
}

func TestVerify_RejectsGarbage(t *testing.T) {
	s, err := auth.NewService(auth.Config{Secret: "test-secret"})
	require.NoError(t, err)

	_, err = s.Verify("not-a-token")
	require.True(t, errors.IsCode(err, errors.CodeUnauthenticated))
}

func TestVerify_RejectsForeignSignature(t *testing.T) {
	issuer, err := auth.NewService(auth.Config{Secret: "secret-a"})
	require.NoError(t, err)
	verifier, err := auth.NewService(auth.Config{Secret: "secret-b"})
	require.NoError(t, err)

	token, err := issuer.Issue(7)
	require.NoError(t, err)

	_, err = verifier.Verify(token)
	require.True(t, errors.IsCode(err, errors.CodeUnauthenticated))
}

func TestVerify_RejectsExpired(t *testing.T) {
	s, err := auth.NewService(auth.Config{Secret: "test-secret", TokenTTL: -time.Minute})
	require.NoError(t, err)

	token, err := s.Issue(7)
	require.NoError(t, err)

	_, err = s.Verify(token)
	require.True(t, errors.IsCode(err, errors.CodeUnauthenticated))
}

func TestNewService_RequiresSecret(t *testing.T) {
	_, err := auth.NewService(auth.Config{})
	require.Error(t, err)
}
