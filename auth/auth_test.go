package auth

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"atende/supabase"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const secret = "super-secret"

func sign(t *testing.T, method jwt.SigningMethod, key interface{}, claims jwt.MapClaims) string {
	t.Helper()
	s, err := jwt.NewWithClaims(method, claims).SignedString(key)
	require.NoError(t, err)
	return s
}

func validClaims(role string) jwt.MapClaims {
	return jwt.MapClaims{
		"sub":   "user-1",
		"email": "ana@example.com",
		"role":  "authenticated",
		"app_metadata": map[string]interface{}{
			"role": role,
		},
		"exp": time.Now().Add(time.Hour).Unix(),
	}
}

func serve(h http.Handler, token string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodGet, "/api/me", nil)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestJWTVerifier(t *testing.T) {
	v := NewJWTVerifier(secret)
	ctx := context.Background()

	p, err := v.Verify(ctx, sign(t, jwt.SigningMethodHS256, []byte(secret), validClaims("admin")))
	require.NoError(t, err)
	assert.Equal(t, "user-1", p.Subject)
	assert.Equal(t, "admin", p.Role)
	assert.True(t, p.IsAdmin())

	noMeta := validClaims("")
	delete(noMeta, "app_metadata")
	p, err = v.Verify(ctx, sign(t, jwt.SigningMethodHS256, []byte(secret), noMeta))
	require.NoError(t, err)
	assert.Equal(t, "authenticated", p.Role)
	assert.False(t, p.IsAdmin())

	expired := validClaims("admin")
	expired["exp"] = time.Now().Add(-time.Minute).Unix()
	noExp := validClaims("admin")
	delete(noExp, "exp")
	noSub := validClaims("admin")
	delete(noSub, "sub")

	for name, token := range map[string]string{
		"wrong key": sign(t, jwt.SigningMethodHS256, []byte("other"), validClaims("admin")),
		"HS512":     sign(t, jwt.SigningMethodHS512, []byte(secret), validClaims("admin")),
		"expired":   sign(t, jwt.SigningMethodHS256, []byte(secret), expired),
		"no exp":    sign(t, jwt.SigningMethodHS256, []byte(secret), noExp),
		"no sub":    sign(t, jwt.SigningMethodHS256, []byte(secret), noSub),
		"garbage":   "not.a.jwt",
	} {
		_, err := v.Verify(ctx, token)
		assert.ErrorIs(t, err, ErrInvalidToken, name)
	}
}

func TestMiddlewareWithSecret(t *testing.T) {
	m := NewMiddleware(secret, nil)
	h := m.Handler(http.HandlerFunc(MeHandler))

	assert.Equal(t, http.StatusUnauthorized, serve(h, "").Code)
	assert.Equal(t, http.StatusUnauthorized, serve(h, "bad").Code)

	rec := serve(h, sign(t, jwt.SigningMethodHS256, []byte(secret), validClaims("")))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"sub":"user-1","email":"ana@example.com","role":"authenticated"}`, rec.Body.String())

	req := httptest.NewRequest(http.MethodGet, "/ws?access_token="+sign(t, jwt.SigningMethodHS256, []byte(secret), validClaims("")), nil)
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)

	req = httptest.NewRequest(http.MethodGet, "/api/me", nil)
	req.Header.Set("Authorization", "Basic dXNlcjpwYXNz")
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

type fakeUsers struct {
	user *supabase.User
	err  error
}

func (f fakeUsers) GetUser(context.Context, string) (*supabase.User, error) {
	return f.user, f.err
}

func TestMiddlewareWithRemoteVerifier(t *testing.T) {
	ok := NewMiddleware("", fakeUsers{user: &supabase.User{ID: "u1", Role: "authenticated", AppMetadata: map[string]any{"role": "service_role"}}})
	rec := serve(ok.Handler(RequireAdmin(http.HandlerFunc(MeHandler))), "tok")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"role":"service_role"`)

	denied := NewMiddleware("", fakeUsers{err: supabase.ErrUnauthorized})
	assert.Equal(t, http.StatusUnauthorized, serve(denied.Handler(http.HandlerFunc(MeHandler)), "tok").Code)

	down := NewMiddleware("", fakeUsers{err: errors.New("circuit breaker is open")})
	assert.Equal(t, http.StatusServiceUnavailable, serve(down.Handler(http.HandlerFunc(MeHandler)), "tok").Code)
}

func TestDevModeAllowsEverything(t *testing.T) {
	m := NewMiddleware("", nil)
	rec := serve(m.Handler(RequireAdmin(http.HandlerFunc(MeHandler))), "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"sub":"dev"`)
}

func TestRequireAdmin(t *testing.T) {
	h := NewMiddleware(secret, nil).Handler(RequireAdmin(http.HandlerFunc(MeHandler)))
	assert.Equal(t, http.StatusForbidden, serve(h, sign(t, jwt.SigningMethodHS256, []byte(secret), validClaims(""))).Code)
	assert.Equal(t, http.StatusOK, serve(h, sign(t, jwt.SigningMethodHS256, []byte(secret), validClaims("admin"))).Code)

	rec := httptest.NewRecorder()
	RequireAdmin(http.HandlerFunc(MeHandler)).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}
