// Package auth は /api 配下の Bearer トークン認証です。
package auth

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"atende/httpx"
	"atende/supabase"

	"github.com/golang-jwt/jwt/v5"
	log "github.com/sirupsen/logrus"
)

var ErrInvalidToken = errors.New("invalid token")

const (
	RoleAdmin       = "admin"
	RoleServiceRole = "service_role"
)

// Principal は認証済みの利用者です。
type Principal struct {
	Subject string `json:"sub"`
	Email   string `json:"email,omitempty"`
	Role    string `json:"role"`
}

func (p *Principal) IsAdmin() bool {
	return p != nil && (p.Role == RoleAdmin || p.Role == RoleServiceRole)
}

// Verifier はアクセストークンを検証します。
type Verifier interface {
	Verify(ctx context.Context, token string) (*Principal, error)
}

// JWTVerifier は HS256 の共有鍵で署名を検証します。
type JWTVerifier struct {
	secret []byte
}

func NewJWTVerifier(secret string) *JWTVerifier {
	return &JWTVerifier{secret: []byte(secret)}
}

func (v *JWTVerifier) Verify(_ context.Context, token string) (*Principal, error) {
	claims := jwt.MapClaims{}
	parsed, err := jwt.ParseWithClaims(token, claims, func(t *jwt.Token) (interface{}, error) {
		return v.secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}), jwt.WithExpirationRequired())
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	if !parsed.Valid {
		return nil, ErrInvalidToken
	}

	sub, _ := claims.GetSubject()
	if sub == "" {
		return nil, fmt.Errorf("%w: missing sub", ErrInvalidToken)
	}
	p := &Principal{Subject: sub, Role: stringClaim(claims, "role")}
	p.Email = stringClaim(claims, "email")
	if meta, ok := claims["app_metadata"].(map[string]interface{}); ok {
		if r, ok := meta["role"].(string); ok && r != "" {
			p.Role = r
		}
	}
	return p, nil
}

func stringClaim(c jwt.MapClaims, key string) string {
	s, _ := c[key].(string)
	return s
}

// UserGetter は supabase.AuthClient の必要部分です。
type UserGetter interface {
	GetUser(ctx context.Context, accessToken string) (*supabase.User, error)
}

// RemoteVerifier は BaaS の認証 API に問い合わせて検証します。
type RemoteVerifier struct {
	users UserGetter
}

func NewRemoteVerifier(users UserGetter) *RemoteVerifier {
	return &RemoteVerifier{users: users}
}

func (v *RemoteVerifier) Verify(ctx context.Context, token string) (*Principal, error) {
	u, err := v.users.GetUser(ctx, token)
	if err != nil {
		if errors.Is(err, supabase.ErrUnauthorized) {
			return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
		}
		return nil, err
	}
	return &Principal{Subject: u.ID, Email: u.Email, Role: u.AppRole()}, nil
}

type ctxKey struct{}

func WithPrincipal(ctx context.Context, p *Principal) context.Context {
	return context.WithValue(ctx, ctxKey{}, p)
}

func FromContext(ctx context.Context) (*Principal, bool) {
	p, ok := ctx.Value(ctxKey{}).(*Principal)
	return p, ok
}

// devPrincipal は検証手段が無い開発モードの利用者です。
var devPrincipal = &Principal{Subject: "dev", Role: RoleAdmin}

// Middleware は Authorization: Bearer を検証して Principal を context に載せます。
type Middleware struct {
	verifier Verifier
}

// NewMiddleware は jwtSecret があれば HS256、無ければ users (BaaS)、
// どちらも無ければ認証なしの開発モードになります。
func NewMiddleware(jwtSecret string, users UserGetter) *Middleware {
	switch {
	case jwtSecret != "":
		log.Info("auth: verifying HS256 tokens locally")
		return &Middleware{verifier: NewJWTVerifier(jwtSecret)}
	case users != nil:
		log.Info("auth: verifying tokens against the auth service")
		return &Middleware{verifier: NewRemoteVerifier(users)}
	default:
		log.Warn("auth: no ATENDE_JWT_SECRET or SUPABASE_URL configured, API is running WITHOUT authentication")
		return &Middleware{}
	}
}

func (m *Middleware) Handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if m.verifier == nil {
			next.ServeHTTP(w, r.WithContext(WithPrincipal(r.Context(), devPrincipal)))
			return
		}

		token := bearerToken(r)
		if token == "" {
			httpx.WriteJSONError(w, "missing bearer token", http.StatusUnauthorized)
			return
		}

		p, err := m.verifier.Verify(r.Context(), token)
		if err != nil {
			if errors.Is(err, ErrInvalidToken) {
				log.WithFields(log.Fields{"path": r.URL.Path}).Debugf("auth rejected: %v", err)
				httpx.WriteJSONError(w, "invalid token", http.StatusUnauthorized)
				return
			}
			log.Printf("WARN: auth verification unavailable: %v", err)
			httpx.WriteJSONError(w, "auth service unavailable", http.StatusServiceUnavailable)
			return
		}
		next.ServeHTTP(w, r.WithContext(WithPrincipal(r.Context(), p)))
	})
}

// bearerToken は Authorization ヘッダー、無ければ ?access_token= (WebSocket 用) を読みます。
func bearerToken(r *http.Request) string {
	if header := r.Header.Get("Authorization"); header != "" {
		scheme, token, ok := strings.Cut(header, " ")
		if !ok || !strings.EqualFold(scheme, "Bearer") {
			return ""
		}
		return strings.TrimSpace(token)
	}
	return strings.TrimSpace(r.URL.Query().Get("access_token"))
}

// RequireAdmin は admin / service_role 以外を 403 にします。
func RequireAdmin(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		p, ok := FromContext(r.Context())
		if !ok {
			httpx.WriteJSONError(w, "unauthenticated", http.StatusUnauthorized)
			return
		}
		if !p.IsAdmin() {
			httpx.WriteJSONError(w, "admin role required", http.StatusForbidden)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// MeHandler は現在の利用者を返します。
func MeHandler(w http.ResponseWriter, r *http.Request) {
	p, ok := FromContext(r.Context())
	if !ok {
		httpx.WriteJSONError(w, "unauthenticated", http.StatusUnauthorized)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, p)
}
