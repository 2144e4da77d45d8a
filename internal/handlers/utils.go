package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/authsvc/apiserver/internal/services"
	"go.uber.org/zap"
)

const maxJSONBodyBytes = 1 << 20

type contextKey string

const contextUserIDKey contextKey = "user_id"

// ErrorResponse is the error payload of every failed request.
type ErrorResponse struct {
	Error             string `json:"error"`
	Field             string `json:"field,omitempty"`
	RemainingAttempts *int   `json:"remaining_attempts,omitempty"`
}

// MessageResponse acknowledges an operation with a human-readable message.
type MessageResponse struct {
	Message string `json:"message"`
}

func withUserID(ctx context.Context, userID int) context.Context {
	return context.WithValue(ctx, contextUserIDKey, userID)
}

func userIDFromContext(ctx context.Context) (int, error) {
	userID, ok := ctx.Value(contextUserIDKey).(int)
	if !ok || userID < 1 {
		return 0, errors.New("missing subject")
	}
	return userID, nil
}

func writeJSON(w http.ResponseWriter, status int, value any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(value)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, ErrorResponse{Error: message})
}

func writeMessage(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, MessageResponse{Message: message})
}

// decodeJSON reads a single JSON object into dst, rejecting unknown fields.
func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxJSONBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		var maxErr *http.MaxBytesError
		switch {
		case errors.As(err, &maxErr):
			return errBodyTooLarge
		case errors.Is(err, io.EOF):
			return errors.New("request body is empty")
		case strings.HasPrefix(err.Error(), "json: unknown field "):
			return fmt.Errorf("unknown field %s", strings.TrimPrefix(err.Error(), "json: unknown field "))
		}
		return errors.New("invalid request")
	}
	if dec.More() {
		return errors.New("request body must contain a single JSON object")
	}
	return nil
}

var errBodyTooLarge = errors.New("request body too large")

func writeDecodeError(w http.ResponseWriter, err error) {
	if errors.Is(err, errBodyTooLarge) {
		writeError(w, http.StatusRequestEntityTooLarge, err.Error())
		return
	}
	writeError(w, http.StatusUnprocessableEntity, err.Error())
}

// writeServiceError maps service errors to status codes and messages.
// Unknown errors are logged and reported as 500.
func writeServiceError(w http.ResponseWriter, logger *zap.Logger, err error) {
	var otpErr *services.InvalidOTPError
	if errors.As(err, &otpErr) {
		remaining := otpErr.Remaining
		writeJSON(w, http.StatusForbidden, ErrorResponse{
			Error:             fmt.Sprintf(msgInvalidOTP, remaining),
			RemainingAttempts: &remaining,
		})
		return
	}

	var validationErr *services.ValidationError
	if errors.As(err, &validationErr) {
		writeJSON(w, http.StatusUnprocessableEntity, ErrorResponse{
			Error: validationErr.Error(),
			Field: validationErr.Field,
		})
		return
	}

	switch {
	case errors.Is(err, services.ErrUserNotFound):
		writeError(w, http.StatusNotFound, msgUserNotFound)
	case errors.Is(err, services.ErrPhotoNotFound):
		writeError(w, http.StatusNotFound, msgPhotoNotFound)
	case errors.Is(err, services.ErrEmailDuplication):
		writeError(w, http.StatusConflict, msgEmailDuplication)
	case errors.Is(err, services.ErrAccountAlreadyVerified):
		writeError(w, http.StatusConflict, msgAccountAlreadyVerified)
	case errors.Is(err, services.ErrUnauthorized):
		writeError(w, http.StatusUnauthorized, msgInvalidCredentials)
	case errors.Is(err, services.ErrTokenExpired):
		writeError(w, http.StatusUnauthorized, msgTokenExpired)
	case errors.Is(err, services.ErrUnActivated):
		writeError(w, http.StatusUnauthorized, msgUnActivated)
	case errors.Is(err, services.ErrPermissionDenied):
		writeError(w, http.StatusForbidden, msgPermissionDenied)
	case errors.Is(err, services.ErrPasswordsDidNotMatch):
		writeError(w, http.StatusUnprocessableEntity, msgPasswordsDidNotMatch)
	case errors.Is(err, services.ErrUnsupportedPhoto):
		writeError(w, http.StatusUnprocessableEntity, msgUnsupportedPhoto)
	case errors.Is(err, services.ErrInvalidData):
		writeError(w, http.StatusUnprocessableEntity, msgInvalidData)
	case errors.Is(err, services.ErrAccountDeleted):
		writeError(w, http.StatusGone, msgAccountDeleted)
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		writeError(w, http.StatusServiceUnavailable, "request cancelled")
	default:
		if logger != nil {
			logger.Error("request failed", zap.Error(err))
		}
		writeError(w, http.StatusInternalServerError, "internal server error")
	}
}

func bearerToken(r *http.Request) (string, error) {
	auth := strings.TrimSpace(r.Header.Get("Authorization"))
	if auth == "" {
		return "", errors.New("missing authorization")
	}
	parts := strings.SplitN(auth, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return "", errors.New("invalid authorization")
	}
	token := strings.TrimSpace(parts[1])
	if token == "" {
		return "", errors.New("invalid authorization")
	}
	return token, nil
}
