package handlers

import (
	"errors"
	"io"
	"net/http"
	"strings"

	"github.com/authsvc/apiserver/internal/services"
	"github.com/authsvc/apiserver/types"
	"go.uber.org/zap"
)

const (
	defaultMaxUploadBytes = 5 << 20
	maxMultipartMemory    = 1 << 20
	formFieldPhoto        = "file"
)

// ProfileHandler serves the authenticated user's profile.
type ProfileHandler struct {
	profileService *services.ProfileService
	maxUploadBytes int64
	logger         *zap.Logger
}

func NewProfileHandler(profileService *services.ProfileService, maxUploadBytes int64, logger *zap.Logger) *ProfileHandler {
	if maxUploadBytes <= 0 {
		maxUploadBytes = defaultMaxUploadBytes
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ProfileHandler{
		profileService: profileService,
		maxUploadBytes: maxUploadBytes,
		logger:         logger,
	}
}

func (h *ProfileHandler) GetProfile(w http.ResponseWriter, r *http.Request) {
	userID, err := userIDFromContext(r.Context())
	if err != nil {
		writeError(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	user, err := h.profileService.Get(r.Context(), userID)
	if err != nil {
		writeServiceError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, user)
}

// PatchProfile updates first_name, last_name and features. Any other field is rejected.
func (h *ProfileHandler) PatchProfile(w http.ResponseWriter, r *http.Request) {
	userID, err := userIDFromContext(r.Context())
	if err != nil {
		writeError(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	var patch types.ProfilePatch
	if err := decodeJSON(w, r, &patch); err != nil {
		writeDecodeError(w, err)
		return
	}

	user, err := h.profileService.Patch(r.Context(), userID, patch)
	if err != nil {
		writeServiceError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, user)
}

// UpdatePhoto replaces the photo with the multipart "file" field, or removes
// it when the field is absent.
func (h *ProfileHandler) UpdatePhoto(w http.ResponseWriter, r *http.Request) {
	userID, err := userIDFromContext(r.Context())
	if err != nil {
		writeError(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, h.maxUploadBytes)
	if err := r.ParseMultipartForm(maxMultipartMemory); err != nil {
		if isBodyTooLarge(err) {
			writeError(w, http.StatusRequestEntityTooLarge, msgPhotoTooLarge)
			return
		}
		writeError(w, http.StatusUnprocessableEntity, "invalid multipart form")
		return
	}
	defer func() {
		_ = r.MultipartForm.RemoveAll()
	}()

	var upload *services.PhotoUpload
	file, header, err := r.FormFile(formFieldPhoto)
	switch {
	case err == nil:
		defer file.Close()
		upload = &services.PhotoUpload{Filename: header.Filename, Content: file}
	case errors.Is(err, http.ErrMissingFile):
	default:
		writeError(w, http.StatusUnprocessableEntity, "invalid photo upload")
		return
	}

	user, err := h.profileService.UpdatePhoto(r.Context(), userID, upload)
	if err != nil {
		writeServiceError(w, h.logger, err)
		return
	}

	message := msgPhotoUpdated
	if upload == nil {
		message = msgPhotoRemoved
	}
	writeJSON(w, http.StatusOK, PhotoResponse{Message: message, Photo: user.Photo})
}

// GetPhoto streams the current profile photo.
func (h *ProfileHandler) GetPhoto(w http.ResponseWriter, r *http.Request) {
	userID, err := userIDFromContext(r.Context())
	if err != nil {
		writeError(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	rc, err := h.profileService.OpenPhoto(r.Context(), userID)
	if err != nil {
		writeServiceError(w, h.logger, err)
		return
	}
	defer rc.Close()

	w.Header().Set("Content-Type", "image/jpeg")
	w.WriteHeader(http.StatusOK)
	if _, err := io.Copy(w, rc); err != nil {
		h.logger.Warn("photo stream interrupted", zap.Int("user_id", userID), zap.Error(err))
	}
}

type PhotoResponse struct {
	Message string  `json:"message"`
	Photo   *string `json:"photo"`
}

func isBodyTooLarge(err error) bool {
	var maxErr *http.MaxBytesError
	if errors.As(err, &maxErr) {
		return true
	}
	// Some multipart reader paths flatten the error to text.
	return strings.Contains(err.Error(), "request body too large")
}
