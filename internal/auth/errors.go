package auth

import (
	"errors"
	"net/http"
	"strings"

	"github.com/redmonkez12/go-auth-api/internal/httputil"
)

var (
	ErrChallengeMissing    = errors.New("challenge token is required")
	ErrChallengeInvalid    = errors.New("challenge token is invalid")
	ErrInvalidCredentials  = errors.New("invalid email or password")
	ErrEmailNotVerified    = errors.New("email not verified")
	ErrDuplicateAccount    = errors.New("account already exists")
	ErrPendingVerification = errors.New("account exists but email is not verified")
	ErrTokenInvalid        = errors.New("invalid or expired token")
	ErrPasswordUnchanged   = errors.New("new password equals the current password")
	ErrAlreadyVerified     = errors.New("email already verified")
	ErrUserNotFound        = errors.New("user not found")
	ErrEmailRequired       = errors.New("email is required")
	ErrInvalidInput        = errors.New("invalid input")
	ErrUnauthenticated     = errors.New("not authenticated")
)

// InputError carries a user-facing validation message and matches
// ErrInvalidInput.
type InputError struct {
	Message string
}

func (e *InputError) Error() string { return e.Message }

func (e *InputError) Is(target error) bool { return target == ErrInvalidInput }

// kind is how an error is presented over HTTP.
type kind struct {
	err     error
	status  int
	code    string
	message string
}

var kinds = []kind{
	{ErrChallengeMissing, http.StatusBadRequest, httputil.CodeChallengeMissing, "Turnstile-Token ist erforderlich"},
	{ErrChallengeInvalid, http.StatusBadRequest, httputil.CodeChallengeInvalid, "Ungültiges Turnstile-Token"},
	{ErrInvalidInput, http.StatusBadRequest, httputil.CodeInvalidInput, "Ungültige Eingabe"},
	{ErrInvalidCredentials, http.StatusUnauthorized, httputil.CodeInvalidCredentials, "Ungültige Anmeldedaten"},
	{ErrEmailNotVerified, http.StatusForbidden, httputil.CodeEmailNotVerified, "Bitte verifiziere zuerst deine E-Mail-Adresse."},
	{ErrDuplicateAccount, http.StatusBadRequest, httputil.CodeDuplicateAccount, "Fehler bei der Registrierung"},
	{ErrPendingVerification, http.StatusBadRequest, httputil.CodePendingVerification, "Diese E-Mail-Adresse wurde bereits registriert, ist aber noch nicht verifiziert. Bitte prüfen Sie Ihre E-Mails oder fordern Sie einen neuen Verifizierungslink an."},
	{ErrTokenInvalid, http.StatusBadRequest, httputil.CodeTokenInvalid, "Ungültiger oder abgelaufener Token"},
	{ErrPasswordUnchanged, http.StatusBadRequest, httputil.CodePasswordUnchanged, "Das neue Passwort darf nicht dem alten Passwort entsprechen"},
	{ErrAlreadyVerified, http.StatusBadRequest, httputil.CodeAlreadyVerified, "E-Mail-Adresse wurde bereits verifiziert"},
	{ErrUserNotFound, http.StatusNotFound, httputil.CodeUserNotFound, "Benutzer nicht gefunden"},
	{ErrEmailRequired, http.StatusBadRequest, httputil.CodeEmailRequired, "E-Mail-Adresse ist erforderlich"},
	{ErrUnauthenticated, http.StatusUnauthorized, httputil.CodeUnauthenticated, "Nicht authentifiziert"},
}

var internalKind = kind{
	status:  http.StatusInternalServerError,
	code:    httputil.CodeInternalError,
	message: "Ein Fehler ist aufgetreten",
}

// classify maps err to its presentation. Unknown errors are internal.
func classify(err error) kind {
	for _, k := range kinds {
		if errors.Is(err, k.err) {
			var inputErr *InputError
			if k.err == ErrInvalidInput && errors.As(err, &inputErr) {
				k.message = inputErr.Message
			}
			return k
		}
	}
	return internalKind
}

// IsKnown reports whether err is one of the flow outcomes above rather than
// an internal failure.
func IsKnown(err error) bool {
	return classify(err).code != httputil.CodeInternalError
}

// Outcome is the metrics label for err: "success" or the lower-cased code.
func Outcome(err error) string {
	if err == nil {
		return "success"
	}
	return strings.ToLower(classify(err).code)
}
