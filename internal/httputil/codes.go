package httputil

// Machine-readable error codes returned in ErrorResponse.Code.
const (
	CodeInvalidRequestBody  = "INVALID_REQUEST_BODY"
	CodeInvalidInput        = "INVALID_INPUT"
	CodeChallengeMissing    = "CHALLENGE_MISSING"
	CodeChallengeInvalid    = "CHALLENGE_INVALID"
	CodeInvalidCredentials  = "INVALID_CREDENTIALS"
	CodeEmailNotVerified    = "EMAIL_NOT_VERIFIED"
	CodeDuplicateAccount    = "DUPLICATE_ACCOUNT"
	CodePendingVerification = "PENDING_VERIFICATION"
	CodeTokenInvalid        = "TOKEN_INVALID"
	CodePasswordUnchanged   = "PASSWORD_UNCHANGED"
	CodeAlreadyVerified     = "ALREADY_VERIFIED"
	CodeUserNotFound        = "USER_NOT_FOUND"
	CodeEmailRequired       = "EMAIL_REQUIRED"
	CodeUnauthenticated     = "UNAUTHENTICATED"
	CodeInvalidAuthHeader   = "INVALID_AUTH_HEADER"
	CodeTokenExpired        = "TOKEN_EXPIRED"
	CodeInternalError       = "INTERNAL_ERROR"
)
