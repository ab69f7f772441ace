package auth

import (
	goerrors "github.com/goliatone/go-errors"
)

// Text codes carried by every error this package returns.
const (
	CodeInvalidCredentials = "INVALID_CREDENTIALS"
	CodeInvalidToken       = "INVALID_TOKEN"
	CodeNotFound           = "NOT_FOUND"
	CodeEmailTaken         = "EMAIL_TAKEN"
	CodeVerificationFailed = "VERIFICATION_FAILED"
	CodeValidation         = "VALIDATION_FAILED"
	CodeInternal           = "INTERNAL"
)

func errInvalidCredentials() error {
	return goerrors.New("email or password is incorrect", goerrors.CategoryAuth).
		WithCode(goerrors.CodeUnauthorized).
		WithTextCode(CodeInvalidCredentials)
}

func errInvalidToken() error {
	return goerrors.New("invalid token", goerrors.CategoryAuth).
		WithCode(goerrors.CodeUnauthorized).
		WithTextCode(CodeInvalidToken)
}

func errNotFound(what string) error {
	return goerrors.New(what+" not found", goerrors.CategoryNotFound).
		WithCode(goerrors.CodeNotFound).
		WithTextCode(CodeNotFound)
}

func errEmailTaken(email string) error {
	return goerrors.New("email '"+email+"' is already registered", goerrors.CategoryValidation).
		WithCode(goerrors.CodeBadRequest).
		WithTextCode(CodeEmailTaken)
}

func errVerificationFailed() error {
	return goerrors.New("verification failed", goerrors.CategoryValidation).
		WithCode(goerrors.CodeBadRequest).
		WithTextCode(CodeVerificationFailed)
}

func errValidation(msg string) error {
	return goerrors.New(msg, goerrors.CategoryValidation).
		WithCode(goerrors.CodeBadRequest).
		WithTextCode(CodeValidation)
}

func errInternal(err error, msg string) error {
	return goerrors.Wrap(err, goerrors.CategoryInternal, msg).
		WithCode(goerrors.CodeInternal).
		WithTextCode(CodeInternal)
}

// TextCode returns the text code attached to err, or "" for foreign errors.
func TextCode(err error) string {
	var richErr *goerrors.Error
	if goerrors.As(err, &richErr) {
		return richErr.TextCode
	}
	return ""
}

func HasTextCode(err error, code string) bool {
	return err != nil && TextCode(err) == code
}
