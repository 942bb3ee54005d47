package api

import (
	"context"
	"net/http"
	"strings"

	"github.com/golang-jwt/jwt/v5"

	"propmarket-payments/internal/domain"
	"propmarket-payments/internal/infra/logging"
)

type subjectKey struct{}

// Authenticator validates purchaser bearer tokens. Tokens are issued by the
// marketplace's identity service; this side only verifies them.
type Authenticator struct {
	secret []byte
	issuer string
}

// NewAuthenticator returns nil when secret is empty, which disables auth.
func NewAuthenticator(secret, issuer string) *Authenticator {
	if secret == "" {
		return nil
	}
	return &Authenticator{secret: []byte(secret), issuer: issuer}
}

func (a *Authenticator) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		sub, err := a.parseRequest(r)
		if err != nil {
			writeError(w, err)
			return
		}
		ctx := context.WithValue(r.Context(), subjectKey{}, sub)
		ctx = logging.WithUserID(ctx, sub)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func (a *Authenticator) parseRequest(r *http.Request) (string, error) {
	hdr := r.Header.Get("Authorization")
	if len(hdr) < 7 || !strings.EqualFold(hdr[:7], "bearer ") {
		return "", domain.NewError("missing bearer token").WithHint("missing bearer token").Mark(domain.ErrUnauthorized)
	}
	opts := []jwt.ParserOption{jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()})}
	if a.issuer != "" {
		opts = append(opts, jwt.WithIssuer(a.issuer))
	}
	claims := &jwt.RegisteredClaims{}
	tkn, err := jwt.ParseWithClaims(strings.TrimSpace(hdr[7:]), claims, func(*jwt.Token) (any, error) {
		return a.secret, nil
	}, opts...)
	if err != nil || !tkn.Valid || claims.Subject == "" {
		return "", domain.NewError("invalid token").WithHint("invalid token").Mark(domain.ErrUnauthorized)
	}
	return claims.Subject, nil
}

// authorizePurchaser checks the token subject against the purchaser a request
// acts for. With auth disabled every purchaser is accepted.
func authorizePurchaser(ctx context.Context, purchaserID string) error {
	sub, ok := ctx.Value(subjectKey{}).(string)
	if !ok {
		return nil
	}
	if sub != purchaserID {
		return domain.NewError("token subject does not match purchaser").
			WithHint("token does not belong to purchaser").
			Mark(domain.ErrForbidden)
	}
	return nil
}
