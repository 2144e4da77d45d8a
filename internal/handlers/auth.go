package handlers

import (
	"context"
	"net/http"

	"github.com/authsvc/apiserver/internal/services"
	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"
)

const contextAccessTokenKey contextKey = "access_token"

// RouterOptions carries the optional pieces of the auth router.
type RouterOptions struct {
	Logger *zap.Logger
	// RateLimit guards the OTP-related routes. Nil disables it.
	RateLimit func(http.Handler) http.Handler
	// MaxUploadBytes bounds the profile photo request body.
	MaxUploadBytes int64
}

// AuthHandler provides account and session endpoints.
type AuthHandler struct {
	authService *services.AuthService
	logger      *zap.Logger
}

// NewAuthHandler constructs an AuthHandler with the provided dependencies.
func NewAuthHandler(authService *services.AuthService, logger *zap.Logger) *AuthHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &AuthHandler{authService: authService, logger: logger}
}

// AuthRouter registers auth and profile routes on the given router.
func AuthRouter(r chi.Router, authService *services.AuthService, profileService *services.ProfileService, opts RouterOptions) {
	handler := NewAuthHandler(authService, opts.Logger)
	profile := NewProfileHandler(profileService, opts.MaxUploadBytes, opts.Logger)

	limited := r
	if opts.RateLimit != nil {
		limited = r.With(opts.RateLimit)
	}
	protected := r.With(handler.RequireAuth)

	r.Post("/register", handler.Register)
	limited.Post("/verify", handler.Verify)
	r.Post("/login", handler.Login)
	r.Post("/refresh", handler.Refresh)
	protected.Get("/logout", handler.Logout)
	limited.Post("/resend-otp", handler.ResendOTP)
	limited.Post("/reset-password", handler.ResetPassword)
	limited.Post("/reset-password-confirm", handler.ResetPasswordConfirm)
	protected.Post("/set-new-password", handler.SetNewPassword)

	protected.Get("/profile", profile.GetProfile)
	protected.Patch("/profile", profile.PatchProfile)
	protected.Get("/profile-photo", profile.GetPhoto)
	protected.Patch("/profile-photo", profile.UpdatePhoto)
}

// RequireAuth resolves the bearer access token to a user and rejects
// revoked, expired or refresh tokens.
func (h *AuthHandler) RequireAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token, err := bearerToken(r)
		if err != nil {
			writeError(w, http.StatusUnauthorized, "unauthorized")
			return
		}

		userID, err := h.authService.Authenticate(r.Context(), token)
		if err != nil {
			writeServiceError(w, h.logger, err)
			return
		}

		ctx := withUserID(r.Context(), userID)
		ctx = context.WithValue(ctx, contextAccessTokenKey, token)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// Register creates a pending account and sends its activation code.
func (h *AuthHandler) Register(w http.ResponseWriter, r *http.Request) {
	var req RegisterRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeDecodeError(w, err)
		return
	}

	err := h.authService.Register(r.Context(), services.RegisterInput{
		FirstName: req.FirstName,
		LastName:  req.LastName,
		Email:     req.Email,
		Password:  req.Password,
	})
	if err != nil {
		writeServiceError(w, h.logger, err)
		return
	}
	writeMessage(w, http.StatusCreated, msgUserCreated)
}

func (h *AuthHandler) Verify(w http.ResponseWriter, r *http.Request) {
	var req VerifyRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeDecodeError(w, err)
		return
	}

	if err := h.authService.VerifyAccount(r.Context(), req.Email, req.OTPCode); err != nil {
		writeServiceError(w, h.logger, err)
		return
	}
	writeMessage(w, http.StatusOK, msgAccountVerified)
}

// Login returns a fresh access and refresh token pair.
func (h *AuthHandler) Login(w http.ResponseWriter, r *http.Request) {
	var req LoginRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeDecodeError(w, err)
		return
	}

	pair, err := h.authService.Login(r.Context(), req.Email, req.Password)
	if err != nil {
		writeServiceError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, pair)
}

// Refresh exchanges a refresh token for a new pair. The old pair is revoked.
func (h *AuthHandler) Refresh(w http.ResponseWriter, r *http.Request) {
	var req RefreshRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeDecodeError(w, err)
		return
	}

	pair, err := h.authService.RefreshToken(r.Context(), req.RefreshToken)
	if err != nil {
		writeServiceError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, pair)
}

func (h *AuthHandler) Logout(w http.ResponseWriter, r *http.Request) {
	token, _ := r.Context().Value(contextAccessTokenKey).(string)
	if err := h.authService.Logout(r.Context(), token); err != nil {
		writeServiceError(w, h.logger, err)
		return
	}
	writeMessage(w, http.StatusOK, msgLoggedOut)
}

func (h *AuthHandler) ResendOTP(w http.ResponseWriter, r *http.Request) {
	var req LoginRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeDecodeError(w, err)
		return
	}

	if err := h.authService.RequestOTP(r.Context(), req.Email, req.Password); err != nil {
		writeServiceError(w, h.logger, err)
		return
	}
	writeMessage(w, http.StatusOK, msgOTPResent)
}

func (h *AuthHandler) ResetPassword(w http.ResponseWriter, r *http.Request) {
	var req ResetPasswordRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeDecodeError(w, err)
		return
	}

	if err := h.authService.ResetPassword(r.Context(), req.Email); err != nil {
		writeServiceError(w, h.logger, err)
		return
	}
	writeMessage(w, http.StatusOK, msgPasswordResetSent)
}

func (h *AuthHandler) ResetPasswordConfirm(w http.ResponseWriter, r *http.Request) {
	var req ResetPasswordConfirmRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeDecodeError(w, err)
		return
	}

	err := h.authService.ResetPasswordConfirm(r.Context(), services.ResetConfirmInput{
		Email:           req.Email,
		Code:            req.OTPCode,
		NewPassword:     req.NewPassword,
		ConfirmPassword: req.ReNewPassword,
	})
	if err != nil {
		writeServiceError(w, h.logger, err)
		return
	}
	writeMessage(w, http.StatusOK, msgPasswordChanged)
}

func (h *AuthHandler) SetNewPassword(w http.ResponseWriter, r *http.Request) {
	userID, err := userIDFromContext(r.Context())
	if err != nil {
		writeError(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	var req SetNewPasswordRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeDecodeError(w, err)
		return
	}

	err = h.authService.SetNewPassword(r.Context(), userID, services.SetPasswordInput{
		OldPassword:     req.OldPassword,
		NewPassword:     req.NewPassword,
		ConfirmPassword: req.ReNewPassword,
	})
	if err != nil {
		writeServiceError(w, h.logger, err)
		return
	}
	writeMessage(w, http.StatusOK, msgPasswordChanged)
}

type RegisterRequest struct {
	FirstName string `json:"first_name"`
	LastName  string `json:"last_name"`
	Email     string `json:"email"`
	Password  string `json:"password"`
}

type VerifyRequest struct {
	Email   string `json:"email"`
	OTPCode string `json:"otp_code"`
}

type LoginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type RefreshRequest struct {
	RefreshToken string `json:"refresh_token"`
}

type ResetPasswordRequest struct {
	Email string `json:"email"`
}

type ResetPasswordConfirmRequest struct {
	Email         string `json:"email"`
	OTPCode       string `json:"otp_code"`
	NewPassword   string `json:"new_password"`
	ReNewPassword string `json:"re_new_password"`
}

type SetNewPasswordRequest struct {
	OldPassword   string `json:"old_password"`
	NewPassword   string `json:"new_password"`
	ReNewPassword string `json:"re_new_password"`
}
