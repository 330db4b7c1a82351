package auth

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"

	"github.com/carefront/platform/internal/shared/config"
	"github.com/golang-jwt/jwt/v5"
)

type contextKey string

const (
	UserContextKey contextKey = "user"
)

// Hospital staff roles
const (
	RoleAdmin  = "admin"
	RoleNurse  = "nurse"
	RoleDoctor = "doctor"
)

// User represents the authenticated user from JWT claims
type User struct {
	ID    string   `json:"sub"`
	Email string   `json:"email"`
	Roles []string `json:"roles"`
	// StaffID links a nurse or doctor account to its roster entry (e.g. N004)
	StaffID string `json:"staff_id,omitempty"`
}

// Claims extends JWT claims with hospital-specific data
type Claims struct {
	jwt.RegisteredClaims
	Email   string   `json:"email"`
	Roles   []string `json:"roles"`
	StaffID string   `json:"staff_id,omitempty"`
}

// devUser is attached to every request when authentication is disabled.
var devUser = &User{ID: "dev", Email: "dev@localhost", Roles: []string{RoleAdmin, RoleNurse, RoleDoctor}}

// Middleware creates JWT authentication middleware. With auth disabled it
// attaches a development user holding every role.
func Middleware(cfg config.AuthConfig) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !cfg.Enabled {
				next.ServeHTTP(w, r.WithContext(WithUser(r.Context(), devUser)))
				return
			}

			authHeader := r.Header.Get("Authorization")
			if authHeader == "" {
				writeError(w, http.StatusUnauthorized, "missing authorization header")
				return
			}

			parts := strings.SplitN(authHeader, " ", 2)
			if len(parts) != 2 || strings.ToLower(parts[0]) != "bearer" {
				writeError(w, http.StatusUnauthorized, "invalid authorization header format")
				return
			}

			user, err := ParseToken(parts[1], cfg.JWTSecret)
			if err != nil {
				writeError(w, http.StatusUnauthorized, "invalid token")
				return
			}

			next.ServeHTTP(w, r.WithContext(WithUser(r.Context(), user)))
		})
	}
}

// ParseToken validates an HS256 token and builds the user from its claims.
func ParseToken(tokenString, secret string) (*User, error) {
	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(token *jwt.Token) (interface{}, error) {
		return []byte(secret), nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	if err != nil {
		return nil, err
	}

	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid {
		return nil, jwt.ErrTokenInvalidClaims
	}

	return &User{
		ID:      claims.Subject,
		Email:   claims.Email,
		Roles:   claims.Roles,
		StaffID: claims.StaffID,
	}, nil
}

// IssueToken signs an HS256 token for a user. Used by tooling and tests.
func IssueToken(user *User, secret string, claims jwt.RegisteredClaims) (string, error) {
	claims.Subject = user.ID
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, &Claims{
		RegisteredClaims: claims,
		Email:            user.Email,
		Roles:            user.Roles,
		StaffID:          user.StaffID,
	})
	return token.SignedString([]byte(secret))
}

// WithUser stores the user in ctx
func WithUser(ctx context.Context, user *User) context.Context {
	return context.WithValue(ctx, UserContextKey, user)
}

// GetUser extracts the user from request context
func GetUser(ctx context.Context) *User {
	user, ok := ctx.Value(UserContextKey).(*User)
	if !ok {
		return nil
	}
	return user
}

// RequireRoles creates middleware that requires any of the given roles
func RequireRoles(roles ...string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			user := GetUser(r.Context())
			if user == nil {
				writeError(w, http.StatusUnauthorized, "authentication required")
				return
			}

			if !hasAnyRole(user.Roles, roles) {
				writeError(w, http.StatusForbidden, "insufficient permissions")
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

// HasRole checks if user has a specific role
func (u *User) HasRole(role string) bool {
	return hasAnyRole(u.Roles, []string{role})
}

// IsAdmin checks if user is an admin
func (u *User) IsAdmin() bool {
	return u.HasRole(RoleAdmin)
}

func hasAnyRole(userRoles, requiredRoles []string) bool {
	for _, required := range requiredRoles {
		for _, role := range userRoles {
			if role == required {
				return true
			}
		}
	}
	return false
}

func writeError(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{"error": message})
}
