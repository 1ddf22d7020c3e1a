package middleware

import (
	"context"
	"crypto/subtle"
	"errors"
	"fmt"
	"strconv"
	"strings"

	pkgerrors "eduoj/pkg/errors"
	"eduoj/pkg/utils/contextkey"
	"eduoj/pkg/utils/response"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
)

const (
	RoleStudent = "student"
	RoleTeacher = "teacher"
	RoleAdmin   = "admin"

	userIDContextKey   = "user_id"
	userRoleContextKey = "user_role"

	judgeTokenHeader = "X-Judge-Token"
)

// Identity is the caller resolved from a bearer token.
type Identity struct {
	UserID int64
	Role   string
}

// IsStaff reports whether the caller may manage tasks and contests.
func (i Identity) IsStaff() bool {
	return i.Role == RoleTeacher || i.Role == RoleAdmin
}

// IsAdmin reports whether the caller bypasses ownership checks.
func (i Identity) IsAdmin() bool {
	return i.Role == RoleAdmin
}

// TokenVerifier validates HS256 access tokens issued by the identity service.
type TokenVerifier struct {
	secret []byte
	issuer string
}

// NewTokenVerifier creates a verifier; issuer may be empty to skip the check.
func NewTokenVerifier(secret, issuer string) (*TokenVerifier, error) {
	if secret == "" {
		return nil, errors.New("jwt secret is required")
	}
	return &TokenVerifier{secret: []byte(secret), issuer: issuer}, nil
}

type tokenClaims struct {
	Role      string `json:"role"`
	TokenType string `json:"typ"`
	jwt.RegisteredClaims
}

// Verify parses raw and returns the identity it carries.
func (v *TokenVerifier) Verify(raw string) (Identity, error) {
	if raw == "" {
		return Identity{}, pkgerrors.New(pkgerrors.Unauthorized)
	}
	parsed, err := jwt.ParseWithClaims(raw, &tokenClaims{}, func(token *jwt.Token) (interface{}, error) {
		if token.Method != jwt.SigningMethodHS256 {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return v.secret, nil
	})
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return Identity{}, pkgerrors.New(pkgerrors.TokenExpired)
		}
		return Identity{}, pkgerrors.New(pkgerrors.TokenInvalid)
	}
	claims, ok := parsed.Claims.(*tokenClaims)
	if !ok || !parsed.Valid {
		return Identity{}, pkgerrors.New(pkgerrors.TokenInvalid)
	}
	if v.issuer != "" && claims.Issuer != v.issuer {
		return Identity{}, pkgerrors.New(pkgerrors.TokenInvalid)
	}
	if claims.TokenType != "access" {
		return Identity{}, pkgerrors.New(pkgerrors.TokenInvalid)
	}
	userID, err := strconv.ParseInt(claims.Subject, 10, 64)
	if err != nil || userID <= 0 {
		return Identity{}, pkgerrors.New(pkgerrors.TokenInvalid)
	}
	role := strings.ToLower(claims.Role)
	if role == "" {
		role = RoleStudent
	}
	return Identity{UserID: userID, Role: role}, nil
}

// Authenticate requires a valid bearer token and stores the identity on the
// gin context and the request context.
func Authenticate(verifier *TokenVerifier) gin.HandlerFunc {
	return func(c *gin.Context) {
		if verifier == nil {
			response.AbortWithErrorCode(c, pkgerrors.ServiceUnavailable, "auth unavailable")
			return
		}
		id, err := verifier.Verify(extractBearerToken(c.GetHeader("Authorization")))
		if err != nil {
			response.AbortWithError(c, err)
			return
		}
		c.Set(userIDContextKey, id.UserID)
		c.Set(userRoleContextKey, id.Role)
		ctx := context.WithValue(c.Request.Context(), contextkey.UserID, id.UserID)
		ctx = context.WithValue(ctx, contextkey.UserRole, id.Role)
		c.Request = c.Request.WithContext(ctx)
		c.Next()
	}
}

// RequireRole rejects authenticated callers whose role is not listed.
func RequireRole(roles ...string) gin.HandlerFunc {
	return func(c *gin.Context) {
		id, ok := CurrentIdentity(c)
		if !ok {
			response.AbortWithErrorCode(c, pkgerrors.Unauthorized, "")
			return
		}
		for _, r := range roles {
			if strings.EqualFold(id.Role, r) {
				c.Next()
				return
			}
		}
		response.AbortWithErrorCode(c, pkgerrors.Forbidden, "insufficient role")
	}
}

// CurrentIdentity returns the identity placed by Authenticate.
func CurrentIdentity(c *gin.Context) (Identity, bool) {
	rawID, ok := c.Get(userIDContextKey)
	if !ok {
		return Identity{}, false
	}
	userID, ok := rawID.(int64)
	if !ok {
		return Identity{}, false
	}
	role := c.GetString(userRoleContextKey)
	return Identity{UserID: userID, Role: role}, true
}

// JudgeToken guards judge-facing callbacks with a shared secret.
func JudgeToken(token string) gin.HandlerFunc {
	expected := []byte(token)
	return func(c *gin.Context) {
		got := []byte(c.GetHeader(judgeTokenHeader))
		if len(expected) == 0 || subtle.ConstantTimeCompare(got, expected) != 1 {
			response.AbortWithErrorCode(c, pkgerrors.Unauthorized, "invalid judge token")
			return
		}
		c.Next()
	}
}

func extractBearerToken(authHeader string) string {
	parts := strings.SplitN(authHeader, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return ""
	}
	return strings.TrimSpace(parts[1])
}
