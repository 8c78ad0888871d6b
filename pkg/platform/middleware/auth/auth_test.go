package auth

import (
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"

	"kycvault/pkg/requestcontext"
)

type AuthMiddlewareSuite struct {
	suite.Suite
	validator *Validator
	logger    *slog.Logger
	seenActor string
	next      http.Handler
}

func TestAuthMiddlewareSuite(t *testing.T) {
	suite.Run(t, new(AuthMiddlewareSuite))
}

func (s *AuthMiddlewareSuite) SetupTest() {
	s.validator = NewValidator([]byte("test-secret-key-32-bytes-long!!!"), "kycvault")
	s.logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	s.seenActor = ""
	s.next = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		s.seenActor = requestcontext.Actor(r.Context())
		w.WriteHeader(http.StatusNoContent)
	})
}

func (s *AuthMiddlewareSuite) serve(h http.Handler, token string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodGet, "/admin/kyc/records", nil)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	return w
}

func (s *AuthMiddlewareSuite) TestRequireAdmin() {
	h := RequireAdmin(s.validator, s.logger)(s.next)

	s.Run("valid admin token sets actor", func() {
		token, err := s.validator.Issue("admin-1", RoleAdmin, time.Minute)
		s.Require().NoError(err)

		w := s.serve(h, token)
		s.Equal(http.StatusNoContent, w.Code)
		s.Equal("admin-1", s.seenActor)
	})

	s.Run("missing token is unauthorized", func() {
		w := s.serve(h, "")
		s.Equal(http.StatusUnauthorized, w.Code)
	})

	s.Run("non-admin role is forbidden", func() {
		token, err := s.validator.Issue("user-1", "user", time.Minute)
		s.Require().NoError(err)

		w := s.serve(h, token)
		s.Equal(http.StatusForbidden, w.Code)
	})

	s.Run("token signed with another key is unauthorized", func() {
		other := NewValidator([]byte("another-secret-key-32-bytes-long"), "kycvault")
		token, err := other.Issue("admin-1", RoleAdmin, time.Minute)
		s.Require().NoError(err)

		w := s.serve(h, token)
		s.Equal(http.StatusUnauthorized, w.Code)
	})
}

func (s *AuthMiddlewareSuite) TestOptionalAuth() {
	h := OptionalAuth(s.validator)(s.next)

	s.Run("anonymous passes through", func() {
		w := s.serve(h, "")
		s.Equal(http.StatusNoContent, w.Code)
		s.Empty(s.seenActor)
	})

	s.Run("valid token sets actor", func() {
		token, err := s.validator.Issue("user-7", "user", time.Minute)
		s.Require().NoError(err)

		w := s.serve(h, token)
		s.Equal(http.StatusNoContent, w.Code)
		s.Equal("user-7", s.seenActor)
	})
}

func TestValidateRejectsExpiredToken(t *testing.T) {
	v := NewValidator([]byte("test-secret-key-32-bytes-long!!!"), "kycvault")
	token, err := v.Issue("admin-1", RoleAdmin, -time.Minute)
	require.NoError(t, err)

	_, err = v.Validate(token)
	assert.Error(t, err)
}
