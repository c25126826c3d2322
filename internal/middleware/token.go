package middleware

import (
	"os"
	"strings"

	"github.com/gofiber/fiber/v2"
	"github.com/golang-jwt/jwt/v5"
	"github.com/sirupsen/logrus"

	jwtPkg "PaperDetection/pkg/jwt"
	"PaperDetection/pkg/log"
)

const (
	AccessTokenSecret = "JWT_ACCESS_TOKEN_SECRET"
	SubjectKey        = "subject"
)

// NewTokenMiddleware guards mutating routes with a bearer token. It is a
// pass-through while JWT_ACCESS_TOKEN_SECRET is unset.
func (m *middleware) NewTokenMiddleware(ctx *fiber.Ctx) error {
	if os.Getenv(AccessTokenSecret) == "" {
		return ctx.Next()
	}

	unauthorized := func(reason string) error {
		m.log.WithFields(logrus.Fields{
			"path":       ctx.Path(),
			"method":     ctx.Method(),
			"client_ip":  ctx.IP(),
			"request_id": m.GetRequestID(ctx),
			"error":      reason,
		}).Warn("Token check failed")
		return ctx.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
			"error": "Unauthorized, access token invalid or expired",
		})
	}

	if !strings.HasPrefix(ctx.Get("Authorization"), "Bearer ") {
		return unauthorized("authorization header is missing or malformed")
	}

	token, err := jwtPkg.VerifyTokenHeader(ctx, AccessTokenSecret)
	if err != nil {
		return unauthorized(err.Error())
	}

	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok {
		return unauthorized("invalid token claims")
	}

	subject, err := claims.GetSubject()
	if err != nil || subject == "" {
		return unauthorized("token has no subject")
	}

	ctx.Locals(SubjectKey, subject)
	log.Debug(log.Fields{"subject": subject}, "Authentication successful")
	return ctx.Next()
}
