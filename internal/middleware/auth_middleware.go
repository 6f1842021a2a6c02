package middleware

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/driftlock/desktop-auth/internal/services"
	"github.com/driftlock/desktop-auth/internal/utils"
)

type contextKey string

const ContextKeyUserID = contextKey("userID")

// AuthMiddleware guards authenticated endpoints. Desktop clients send the
// session token as Authorization: Bearer; browsers carry it in the
// session cookie. Either is accepted.
func AuthMiddleware(tokens services.TokenService) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			tokenStr, err := extractSessionToken(r)
			if err != nil {
				utils.RespondErrorWithCode(
					w, http.StatusUnauthorized, utils.ErrCodeUnauthorized, err.Error(), nil,
				)
				return
			}

			subjectID, vErr := tokens.Validate(tokenStr)
			if vErr != nil {
				if errors.Is(vErr, utils.ErrTokenExpired) {
					utils.RespondErrorWithCode(
						w, http.StatusUnauthorized, utils.ErrCodeTokenExpired, "Token expired", vErr,
					)
					return
				}
				utils.RespondErrorWithCode(
					w, http.StatusUnauthorized, utils.ErrCodeUnauthorized, "Invalid token", vErr,
				)
				return
			}

			ctx := context.WithValue(r.Context(), ContextKeyUserID, subjectID.String())
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// helper: Bearer header first, session cookie as the browser fallback
func extractSessionToken(r *http.Request) (string, error) {
	h := r.Header.Get("Authorization")
	if strings.HasPrefix(h, "Bearer ") {
		return strings.TrimPrefix(h, "Bearer "), nil
	}

	c, err := r.Cookie(utils.SessionCookieName)
	if err != nil || c.Value == "" {
		return "", errors.New("missing session token")
	}
	return c.Value, nil
}
