package api

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/hakimelghazi/confidential-book/internal/engine"
)

type ctxKey int

const traderKey ctxKey = iota

var errNoTrader = errors.New("token subject must be a trader uuid")

// JWTAuth accepts HS256 bearer tokens whose subject is the trader id.
func JWTAuth(secret string) func(http.Handler) http.Handler {
	key := []byte(secret)
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			raw, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
			if !ok || raw == "" {
				writeProblem(w, r, http.StatusUnauthorized, "unauthorized", "missing bearer token")
				return
			}
			trader, err := parseTrader(raw, key)
			if err != nil {
				writeProblem(w, r, http.StatusUnauthorized, "unauthorized", err.Error())
				return
			}
			ctx := context.WithValue(r.Context(), traderKey, trader)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func parseTrader(raw string, key []byte) (engine.TraderID, error) {
	token, err := jwt.ParseWithClaims(raw, &jwt.RegisteredClaims{}, func(*jwt.Token) (any, error) {
		return key, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	if err != nil {
		return engine.TraderID{}, err
	}
	sub, err := token.Claims.GetSubject()
	if err != nil {
		return engine.TraderID{}, err
	}
	id, err := uuid.Parse(sub)
	if err != nil || id == uuid.Nil {
		return engine.TraderID{}, errNoTrader
	}
	return id, nil
}

// TraderFrom returns the authenticated trader. Only valid behind JWTAuth.
func TraderFrom(ctx context.Context) (engine.TraderID, bool) {
	id, ok := ctx.Value(traderKey).(engine.TraderID)
	return id, ok
}

// IssueToken signs a token for trader valid for ttl.
func IssueToken(secret string, trader engine.TraderID, ttl time.Duration) (string, error) {
	now := time.Now()
	claims := jwt.RegisteredClaims{
		Subject:   trader.String(),
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
}
