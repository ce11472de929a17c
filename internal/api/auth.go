package api

import (
	"crypto/subtle"
	"net/http"

	"github.com/AaronLay10/SentientRoom/internal/config"
)

// Role represents an authorization role.
type Role string

const (
	RoleAdmin    Role = "admin"
	RoleOperator Role = "operator"
)

const (
	envAdminUser    = "SENTIENT_ADMIN_USER"
	envAdminPass    = "SENTIENT_ADMIN_PASS"
	envOperatorUser = "SENTIENT_OPERATOR_USER"
	envOperatorPass = "SENTIENT_OPERATOR_PASS"
)

// Auth holds basic-auth credentials. The zero value has auth disabled.
type Auth struct {
	adminUser    string
	adminPass    string
	operatorUser string
	operatorPass string
}

// LoadAuth resolves credentials from the environment, honouring the *_FILE
// convention. Auth is enabled only if admin credentials are set.
func LoadAuth() (*Auth, error) {
	secrets, err := config.ResolveSecrets(envAdminUser, envAdminPass, envOperatorUser, envOperatorPass)
	if err != nil {
		return nil, err
	}
	return &Auth{
		adminUser:    secrets[envAdminUser],
		adminPass:    secrets[envAdminPass],
		operatorUser: secrets[envOperatorUser],
		operatorPass: secrets[envOperatorPass],
	}, nil
}

// Enabled returns true if authentication is configured.
func (a *Auth) Enabled() bool {
	return a != nil && a.adminUser != "" && a.adminPass != ""
}

// authenticate checks basic auth credentials and returns the role if valid.
// Returns empty string if credentials are invalid.
func (a *Auth) authenticate(r *http.Request) Role {
	if !a.Enabled() {
		return RoleAdmin
	}

	user, pass, ok := r.BasicAuth()
	if !ok {
		return ""
	}

	if secureCompare(user, a.adminUser) && secureCompare(pass, a.adminPass) {
		return RoleAdmin
	}
	if a.operatorUser != "" && a.operatorPass != "" {
		if secureCompare(user, a.operatorUser) && secureCompare(pass, a.operatorPass) {
			return RoleOperator
		}
	}
	return ""
}

// secureCompare performs constant-time string comparison.
func secureCompare(a, b string) bool {
	return subtle.ConstantTimeCompare([]byte(a), []byte(b)) == 1
}

func requireAuth(w http.ResponseWriter) {
	w.Header().Set("WWW-Authenticate", `Basic realm="Sentient Room"`)
	http.Error(w, "Unauthorized", http.StatusUnauthorized)
}

// RequireRole returns middleware admitting only the given roles.
func (a *Auth) RequireRole(allowed ...Role) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			role := a.authenticate(r)
			if role == "" {
				requireAuth(w)
				return
			}
			for _, ok := range allowed {
				if role == ok {
					next.ServeHTTP(w, r)
					return
				}
			}
			http.Error(w, "Forbidden", http.StatusForbidden)
		})
	}
}

// RequireAnyRole admits admin or operator.
func (a *Auth) RequireAnyRole(next http.Handler) http.Handler {
	return a.RequireRole(RoleAdmin, RoleOperator)(next)
}
