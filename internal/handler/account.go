package handler

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/sakif/storefront-auth/internal/model"
	"github.com/sakif/storefront-auth/internal/service"
)

// Consumer-side interfaces, satisfied by the service package and by fakes in tests.
type (
	Signupper interface {
		Signup(ctx context.Context, in service.SignupInput) (*service.SignupResult, error)
	}
	LoginChecker interface {
		Login(ctx context.Context, email, password string) (*service.LoginResult, error)
	}
	PasswordResetter interface {
		RequestReset(ctx context.Context, email string) error
		CompleteReset(ctx context.Context, token, newPassword string) error
	}
)

// AccountHandler serves the public signup, login and password reset routes.
//
// Handlers only decode, call the service and encode. Validation, trimming and
// case folding happen in the service so every caller gets the same rules.
type AccountHandler struct {
	signup Signupper
	login  LoginChecker
	reset  PasswordResetter
	logger *slog.Logger
}

func NewAccountHandler(signup Signupper, login LoginChecker, reset PasswordResetter, logger *slog.Logger) *AccountHandler {
	return &AccountHandler{
		signup: signup,
		login:  login,
		reset:  reset,
		logger: logger,
	}
}

type signupResponse struct {
	ID           string  `json:"id"`
	ReferralCode string  `json:"referralCode"`
	ReferredBy   *string `json:"referredBy"`
}

// HandleSignup registers a user.
//
// HTTP: POST /api/signup
// REQUEST BODY: {"name", "email", "password", "phone", "country", "state", "referralCode"}
// RESPONSE: 201 {"id", "referralCode", "referredBy"}
func (h *AccountHandler) HandleSignup(w http.ResponseWriter, r *http.Request) {
	var in service.SignupInput
	if err := decodeJSON(w, r, &in); err != nil {
		writeError(w, h.logger, err)
		return
	}

	result, err := h.signup.Signup(r.Context(), in)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}

	writeJSON(w, http.StatusCreated, signupResponse{
		ID:           result.ProfileID,
		ReferralCode: result.ReferralCode,
		ReferredBy:   result.ReferredBy,
	})
}

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type loginResponse struct {
	ID          string     `json:"id"`
	Role        model.Role `json:"role"`
	DisplayName string     `json:"displayName"`
}

// HandleLogin checks credentials and returns who logged in.
//
// HTTP: POST /api/login
// REQUEST BODY: {"email", "password"}
// RESPONSE: 200 {"id", "role", "displayName"}
func (h *AccountHandler) HandleLogin(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, h.logger, err)
		return
	}

	result, err := h.login.Login(r.Context(), req.Email, req.Password)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}

	writeJSON(w, http.StatusOK, loginResponse{
		ID:          result.ID,
		Role:        result.Role,
		DisplayName: result.DisplayName,
	})
}

type forgotPasswordRequest struct {
	Email string `json:"email"`
}

type resetPasswordRequest struct {
	Token    string `json:"token"`
	Password string `json:"password"`
}

type messageResponse struct {
	Message string `json:"message"`
}

// HandleForgotPassword starts a password reset.
//
// HTTP: POST /api/password/forgot
// The response is the same whether or not the email is registered.
func (h *AccountHandler) HandleForgotPassword(w http.ResponseWriter, r *http.Request) {
	var req forgotPasswordRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, h.logger, err)
		return
	}

	if err := h.reset.RequestReset(r.Context(), req.Email); err != nil {
		writeError(w, h.logger, err)
		return
	}

	writeJSON(w, http.StatusAccepted, messageResponse{
		Message: "If an account exists for that email, a reset link is on its way.",
	})
}

// HandleResetPassword sets a new password from a reset token.
//
// HTTP: POST /api/password/reset
func (h *AccountHandler) HandleResetPassword(w http.ResponseWriter, r *http.Request) {
	var req resetPasswordRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, h.logger, err)
		return
	}

	if err := h.reset.CompleteReset(r.Context(), req.Token, req.Password); err != nil {
		writeError(w, h.logger, err)
		return
	}

	writeJSON(w, http.StatusOK, messageResponse{Message: "Password updated. You can now log in."})
}
