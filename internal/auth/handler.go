package auth

import (
	"errors"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/redmonkez12/go-auth-api/internal/httputil"
	"github.com/redmonkez12/go-auth-api/internal/logging"
	"github.com/redmonkez12/go-auth-api/internal/user"
)

// Handler contains HTTP handlers for authentication endpoints
type Handler struct {
	service      *Service
	cookieMaxAge time.Duration
}

func NewHandler(service *Service, cookieMaxAge time.Duration) *Handler {
	return &Handler{
		service:      service,
		cookieMaxAge: cookieMaxAge,
	}
}

// RegisterRequest represents the registration request body
type RegisterRequest struct {
	Email          string  `json:"email"`
	Password       string  `json:"password"`
	TurnstileToken string  `json:"turnstileToken"`
	FirstName      *string `json:"firstName,omitempty"`
	LastName       *string `json:"lastName,omitempty"`
	TermsOfService bool    `json:"termsOfService"`
	PrivacyPolicy  bool    `json:"privacyPolicy"`
}

// LoginRequest represents the login request body
type LoginRequest struct {
	Email          string `json:"email"`
	Password       string `json:"password"`
	TurnstileToken string `json:"turnstileToken"`
}

// ForgotPasswordRequest represents the password reset request
type ForgotPasswordRequest struct {
	Email string `json:"email"`
}

// ResetPasswordRequest represents the password reset confirmation
type ResetPasswordRequest struct {
	Token    string `json:"token"`
	Password string `json:"password"`
}

// SendVerificationRequest represents the verification email request
type SendVerificationRequest struct {
	Email string `json:"email"`
}

// VerifyEmailRequest represents the email verification request
type VerifyEmailRequest struct {
	Token string `json:"token"`
}

// UserResponse wraps the current user
type UserResponse struct {
	User *user.User `json:"user"`
}

// Register handles user registration
// @Summary      Register a new user
// @Description  Create an unverified account. A verification email is sent; login is refused until the address is verified.
// @Tags         auth
// @Accept       json
// @Produce      json
// @Param        request body RegisterRequest true "Registration data"
// @Success      200 {object} httputil.MessageResponse
// @Failure      400 {object} httputil.ErrorResponse "Challenge, validation or duplicate account"
// @Failure      500 {object} httputil.ErrorResponse "Internal server error"
// @Router       /auth/register [post]
func (h *Handler) Register(w http.ResponseWriter, r *http.Request) {
	logger := logging.GetLoggerFromContext(r.Context())

	var req RegisterRequest
	if err := httputil.DecodeJSON(w, r, &req); err != nil {
		logger.Warn("invalid registration request body", "error", err.Error())
		respondInvalidBody(w)
		return
	}

	logger = logger.WithFields(map[string]any{"email": req.Email})

	created, err := h.service.Register(r.Context(), RegisterInput{
		Email:          strings.TrimSpace(req.Email),
		Password:       req.Password,
		ChallengeToken: req.TurnstileToken,
		FirstName:      req.FirstName,
		LastName:       req.LastName,
		TermsOfService: req.TermsOfService,
		PrivacyPolicy:  req.PrivacyPolicy,
	})
	if err != nil {
		h.respondFlowError(logger, w, "registration failed", err)
		return
	}

	logger.Info("user registered", "user_id", created.ID)

	httputil.RespondMessage(w, "Registrierung erfolgreich. Bitte prüfe deine E-Mails und verifiziere deinen Account.", http.StatusOK)
}

// Login handles user login
// @Summary      User login
// @Description  Authenticate with email and password. Returns the user and a session token, which is also set as the auth_token cookie.
// @Tags         auth
// @Accept       json
// @Produce      json
// @Param        request body LoginRequest true "Login credentials"
// @Success      200 {object} LoginResult
// @Failure      400 {object} httputil.ErrorResponse "Missing or invalid challenge"
// @Failure      401 {object} httputil.ErrorResponse "Invalid credentials"
// @Failure      403 {object} httputil.ErrorResponse "Email not verified"
// @Failure      500 {object} httputil.ErrorResponse "Internal server error"
// @Router       /auth/login [post]
func (h *Handler) Login(w http.ResponseWriter, r *http.Request) {
	logger := logging.GetLoggerFromContext(r.Context())

	var req LoginRequest
	if err := httputil.DecodeJSON(w, r, &req); err != nil {
		logger.Warn("invalid login request body", "error", err.Error())
		respondInvalidBody(w)
		return
	}

	logger = logger.WithFields(map[string]any{"email": req.Email})

	res, err := h.service.Login(r.Context(), LoginInput{
		Email:          strings.TrimSpace(req.Email),
		Password:       req.Password,
		ChallengeToken: req.TurnstileToken,
	})
	if err != nil {
		h.respondFlowError(logger, w, "login failed", err)
		return
	}

	logger.Info("user logged in", "user_id", res.User.ID)

	SetSessionCookie(w, res.Token, h.cookieMaxAge)
	httputil.RespondJSON(w, res, http.StatusOK)
}

// Me returns the authenticated user
// @Summary      Current user
// @Description  Return the user behind the session token
// @Tags         auth
// @Produce      json
// @Security     BearerAuth
// @Success      200 {object} UserResponse
// @Failure      401 {object} httputil.ErrorResponse "Not authenticated"
// @Failure      404 {object} httputil.ErrorResponse "User not found"
// @Router       /auth/me [get]
func (h *Handler) Me(w http.ResponseWriter, r *http.Request) {
	logger := logging.GetLoggerFromContext(r.Context())

	userID, ok := GetUserIDFromContext(r.Context())
	if !ok {
		h.respondFlowError(logger, w, "me failed", ErrUnauthenticated)
		return
	}

	u, err := h.service.Me(r.Context(), userID)
	if err != nil {
		h.respondFlowError(logger, w, "me failed", err)
		return
	}

	httputil.RespondJSON(w, UserResponse{User: u}, http.StatusOK)
}

// Logout clears the session cookie
// @Summary      User logout
// @Description  Clear the auth_token cookie. Sessions are stateless; bearer tokens stay valid until they expire.
// @Tags         auth
// @Produce      json
// @Success      200 {object} httputil.SuccessResponse
// @Router       /auth/logout [post]
func (h *Handler) Logout(w http.ResponseWriter, r *http.Request) {
	ClearSessionCookie(w)
	httputil.RespondJSON(w, httputil.SuccessResponse{Success: true}, http.StatusOK)
}

// ForgotPassword handles password reset requests
// @Summary      Request password reset
// @Description  Send a password reset link. The response is the same whether or not the account exists.
// @Tags         auth
// @Accept       json
// @Produce      json
// @Param        request body ForgotPasswordRequest true "Email address"
// @Success      200 {object} httputil.SuccessResponse
// @Failure      400 {object} httputil.ErrorResponse "Invalid request body"
// @Failure      500 {object} httputil.ErrorResponse "Email could not be sent"
// @Router       /auth/password-reset/forgot [post]
func (h *Handler) ForgotPassword(w http.ResponseWriter, r *http.Request) {
	logger := logging.GetLoggerFromContext(r.Context())

	var req ForgotPasswordRequest
	if err := httputil.DecodeJSON(w, r, &req); err != nil {
		logger.Warn("invalid forgot password request body", "error", err.Error())
		respondInvalidBody(w)
		return
	}

	if err := h.service.RequestPasswordReset(r.Context(), strings.TrimSpace(req.Email)); err != nil {
		h.respondFlowError(logger, w, "password reset request failed", err)
		return
	}

	httputil.RespondJSON(w, httputil.SuccessResponse{Success: true}, http.StatusOK)
}

// ResetPassword handles password reset with token
// @Summary      Reset password
// @Description  Set a new password using a reset token
// @Tags         auth
// @Accept       json
// @Produce      json
// @Param        request body ResetPasswordRequest true "Reset token and new password"
// @Success      200 {object} httputil.SuccessResponse
// @Failure      400 {object} httputil.ErrorResponse "Invalid token or password"
// @Failure      500 {object} httputil.ErrorResponse "Internal server error"
// @Router       /auth/password-reset/reset [post]
func (h *Handler) ResetPassword(w http.ResponseWriter, r *http.Request) {
	logger := logging.GetLoggerFromContext(r.Context())

	var req ResetPasswordRequest
	if err := httputil.DecodeJSON(w, r, &req); err != nil {
		logger.Warn("invalid reset password request body", "error", err.Error())
		respondInvalidBody(w)
		return
	}

	if err := h.service.CompletePasswordReset(r.Context(), req.Token, req.Password); err != nil {
		h.respondFlowError(logger, w, "password reset failed", err)
		return
	}

	logger.Info("password reset completed")

	httputil.RespondJSON(w, httputil.SuccessResponse{Success: true}, http.StatusOK)
}

// SendVerification handles (re)sending the verification email
// @Summary      Send verification email
// @Description  Send a new verification link to the given email, or to the authenticated user when the body has none
// @Tags         auth
// @Accept       json
// @Produce      json
// @Param        request body SendVerificationRequest false "Email address"
// @Success      200 {object} httputil.MessageResponse
// @Failure      400 {object} httputil.ErrorResponse "Email required or already verified"
// @Failure      404 {object} httputil.ErrorResponse "User not found"
// @Failure      500 {object} httputil.ErrorResponse "Email could not be sent"
// @Router       /auth/verify-email/send [post]
func (h *Handler) SendVerification(w http.ResponseWriter, r *http.Request) {
	logger := logging.GetLoggerFromContext(r.Context())

	var req SendVerificationRequest
	if err := httputil.DecodeJSON(w, r, &req); err != nil && !errors.Is(err, io.EOF) {
		logger.Warn("invalid send verification request body", "error", err.Error())
		respondInvalidBody(w)
		return
	}

	// a malformed Authorization header is treated as absent here
	bearer, _ := bearerToken(r.Header.Get("Authorization"))

	if err := h.service.SendEmailVerification(r.Context(), strings.TrimSpace(req.Email), bearer); err != nil {
		h.respondFlowError(logger, w, "sending verification email failed", err)
		return
	}

	httputil.RespondMessage(w, "Verifizierungs-E-Mail wurde gesendet", http.StatusOK)
}

// VerifyEmail handles email verification
// @Summary      Verify email address
// @Description  Verify an email address with the token from the verification link
// @Tags         auth
// @Accept       json
// @Produce      json
// @Param        request body VerifyEmailRequest true "Verification token"
// @Success      200 {object} httputil.MessageResponse
// @Failure      400 {object} httputil.ErrorResponse "Invalid, expired or already verified"
// @Failure      404 {object} httputil.ErrorResponse "User not found"
// @Failure      500 {object} httputil.ErrorResponse "Internal server error"
// @Router       /auth/verify-email/verify [post]
func (h *Handler) VerifyEmail(w http.ResponseWriter, r *http.Request) {
	logger := logging.GetLoggerFromContext(r.Context())

	var req VerifyEmailRequest
	if err := httputil.DecodeJSON(w, r, &req); err != nil {
		logger.Warn("invalid verify email request body", "error", err.Error())
		respondInvalidBody(w)
		return
	}

	if err := h.service.VerifyEmail(r.Context(), req.Token); err != nil {
		h.respondFlowError(logger, w, "email verification failed", err)
		return
	}

	logger.Info("email verified")

	httputil.RespondMessage(w, "E-Mail-Adresse wurde erfolgreich verifiziert", http.StatusOK)
}

// respondFlowError writes the status, code and message for err. Internal
// failures are logged with their details, which never reach the client.
func (h *Handler) respondFlowError(logger *logging.Logger, w http.ResponseWriter, msg string, err error) {
	k := classify(err)
	if k.status >= http.StatusInternalServerError {
		logger.Error(msg, "error", err)
	} else {
		logger.Warn(msg, "reason", k.code)
	}
	httputil.RespondErrorWithCode(w, k.message, k.code, k.status)
}

func respondInvalidBody(w http.ResponseWriter) {
	httputil.RespondErrorWithCode(w, "Ungültige Anfrage", httputil.CodeInvalidRequestBody, http.StatusBadRequest)
}
