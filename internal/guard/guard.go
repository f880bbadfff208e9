// Package guard decides, per navigation, whether the frontend may render the
// requested page or must redirect.
package guard

import (
	"net/http"
	"path"
	"slices"
	"strings"

	"github.com/google/uuid"
)

const (
	HomePath  = "/"
	LoginPath = "/login"
)

// assetExtensions are served without a session check.
var assetExtensions = []string{
	".js", ".mjs", ".css", ".map",
	".png", ".jpg", ".jpeg", ".gif", ".svg", ".ico", ".webp", ".avif",
	".woff", ".woff2", ".ttf", ".otf",
	".json", ".txt", ".xml", ".webmanifest", ".wasm",
}

// PublicPaths are reachable without a session. Matching is exact.
var PublicPaths = []string{
	"/login",
	"/register",
	"/forgot-password",
	"/reset-password",
	"/verify-email",
}

// Action is what a navigation should do.
type Action string

const (
	Allow         Action = "allow"
	RedirectHome  Action = "redirect_home"
	RedirectLogin Action = "redirect_login"
)

// Decision is the outcome for one navigation.
type Decision struct {
	Action   Action
	Location string
}

// Decide evaluates the route table for one navigation:
//
//	session valid, path is /login or /register  -> redirect home
//	session valid, any other path               -> allow
//	no session, public path                     -> allow
//	no session, any other path                  -> redirect to login
func Decide(requestPath string, sessionValid bool) Decision {
	if sessionValid {
		if requestPath == "/login" || requestPath == "/register" {
			return Decision{Action: RedirectHome, Location: HomePath}
		}
		return Decision{Action: Allow}
	}
	if slices.Contains(PublicPaths, requestPath) {
		return Decision{Action: Allow}
	}
	return Decision{Action: RedirectLogin, Location: LoginPath}
}

// SessionValidator checks a session token.
type SessionValidator interface {
	ValidateSession(token string) (uuid.UUID, error)
}

// DecisionRecorder counts decisions.
type DecisionRecorder interface {
	RecordGuardDecision(action string)
}

// Options configure Middleware.
type Options struct {
	// CookieName holds the session token.
	CookieName string
	// Recorder is optional.
	Recorder DecisionRecorder
}

// Middleware applies Decide to page navigations before next renders them.
// The session is validated on every request. Requests for static assets
// (a known file extension) and non-GET requests pass through untouched.
func Middleware(sessions SessionValidator, opts Options) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !isNavigation(r) {
				next.ServeHTTP(w, r)
				return
			}

			d := Decide(r.URL.Path, sessionValid(r, sessions, opts.CookieName))
			if opts.Recorder != nil {
				opts.Recorder.RecordGuardDecision(string(d.Action))
			}

			if d.Action != Allow {
				w.Header().Set("Cache-Control", "no-store")
				http.Redirect(w, r, d.Location, http.StatusFound)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func isNavigation(r *http.Request) bool {
	if r.Method != http.MethodGet && r.Method != http.MethodHead {
		return false
	}
	return !slices.Contains(assetExtensions, strings.ToLower(path.Ext(r.URL.Path)))
}

func sessionValid(r *http.Request, sessions SessionValidator, cookieName string) bool {
	c, err := r.Cookie(cookieName)
	if err != nil || c.Value == "" {
		return false
	}
	_, err = sessions.ValidateSession(c.Value)
	return err == nil
}
