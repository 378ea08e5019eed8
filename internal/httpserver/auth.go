package httpserver

import (
	"fmt"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
)

const authSubjectKey = "auth_subject"

// authorizer guards mutating routes with static API keys or HS256 bearer
// tokens. With no keys and no signing key configured it lets every request
// through.
type authorizer struct {
	apiKeys    map[string]struct{}
	signingKey []byte
	issuer     string
}

func newAuthorizer(cfg Config) *authorizer {
	keys := make(map[string]struct{}, len(cfg.APIKeys))
	for _, key := range cfg.APIKeys {
		keys[key] = struct{}{}
	}
	return &authorizer{
		apiKeys:    keys,
		signingKey: []byte(cfg.JWTSigningKey),
		issuer:     cfg.JWTIssuer,
	}
}

func (auth *authorizer) enabled() bool {
	return len(auth.apiKeys) > 0 || len(auth.signingKey) > 0
}

// GinMiddleware rejects requests that carry no recognized bearer credential.
func (auth *authorizer) GinMiddleware() gin.HandlerFunc {
	return func(ctx *gin.Context) {
		if !auth.enabled() {
			ctx.Next()
			return
		}
		credential := bearerToken(ctx.GetHeader("Authorization"))
		if credential == "" {
			ctx.AbortWithStatusJSON(http.StatusUnauthorized, errorResponse("unauthorized", "missing bearer credential"))
			return
		}
		if _, known := auth.apiKeys[credential]; known {
			ctx.Set(authSubjectKey, "api-key")
			ctx.Next()
			return
		}
		subject, err := auth.verifyToken(credential)
		if err != nil {
			ctx.AbortWithStatusJSON(http.StatusUnauthorized, errorResponse("unauthorized", "invalid bearer credential"))
			return
		}
		ctx.Set(authSubjectKey, subject)
		ctx.Next()
	}
}

func (auth *authorizer) verifyToken(credential string) (string, error) {
	if len(auth.signingKey) == 0 {
		return "", fmt.Errorf("token verification is not configured")
	}
	parsed, err := jwt.Parse(credential, func(token *jwt.Token) (any, error) {
		return auth.signingKey, nil
	}, jwt.WithValidMethods([]string{"HS256"}), jwt.WithIssuer(auth.issuer), jwt.WithExpirationRequired())
	if err != nil {
		return "", err
	}
	subject, err := parsed.Claims.GetSubject()
	if err != nil {
		return "", err
	}
	return subject, nil
}

func bearerToken(header string) string {
	const prefix = "Bearer "
	if len(header) < len(prefix) || !strings.EqualFold(header[:len(prefix)], prefix) {
		return ""
	}
	return strings.TrimSpace(header[len(prefix):])
}
