package middleware

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/amankumarsingh77/transcode-orchestrator/pkg/utils"
	"github.com/labstack/echo/v4"
)

const tokenCookie = "jwt-token"

type ClaimsCtxKey struct{}

// AuthJWTMiddleware requires a bearer token or jwt-token cookie signed with
// the server secret. With no secret configured every request passes.
func (mw *MiddlewareManager) AuthJWTMiddleware() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			secret := mw.cfg.Server.JwtSecretKey
			if secret == "" {
				return next(c)
			}

			tokenString, err := tokenFromRequest(c)
			if err != nil {
				mw.logger.Warnf("AuthJWTMiddleware RequestID: %s error: %v", utils.GetRequestID(c), err)
				return c.JSON(http.StatusUnauthorized, map[string]string{"error": "Unauthorized"})
			}
			claims, err := utils.ValidateToken(tokenString, secret)
			if err != nil {
				mw.logger.Warnf("AuthJWTMiddleware RequestID: %s error: %v", utils.GetRequestID(c), err)
				return c.JSON(http.StatusUnauthorized, map[string]string{"error": "Unauthorized"})
			}

			c.Set("claims", claims)
			ctx := context.WithValue(c.Request().Context(), ClaimsCtxKey{}, claims)
			c.SetRequest(c.Request().WithContext(ctx))
			return next(c)
		}
	}
}

func tokenFromRequest(c echo.Context) (string, error) {
	if bearerHeader := c.Request().Header.Get(echo.HeaderAuthorization); bearerHeader != "" {
		headerParts := strings.Split(bearerHeader, " ")
		if len(headerParts) != 2 || !strings.EqualFold(headerParts[0], "bearer") || headerParts[1] == "" {
			return "", errors.New("malformed authorization header")
		}
		return headerParts[1], nil
	}
	cookie, err := c.Cookie(tokenCookie)
	if err != nil || cookie.Value == "" {
		return "", errors.New("no token in request")
	}
	return cookie.Value, nil
}

// ClaimsFromCtx returns the caller claims set by AuthJWTMiddleware.
func ClaimsFromCtx(ctx context.Context) (*utils.Claims, bool) {
	claims, ok := ctx.Value(ClaimsCtxKey{}).(*utils.Claims)
	return claims, ok
}
