package services

import (
	"context"
	"errors"
	"io"

	"github.com/authsvc/apiserver/internal/storage"
	"github.com/authsvc/apiserver/types"
	"go.uber.org/zap"
)

// PhotoStore keeps profile photos in object storage.
type PhotoStore interface {
	Save(ctx context.Context, userID int, filename string, r io.Reader) (string, error)
	Open(ctx context.Context, key string) (io.ReadCloser, error)
	Remove(ctx context.Context, key string) error
}

// PhotoUpload is an uploaded profile photo.
type PhotoUpload struct {
	Filename string
	Content  io.Reader
}

// ProfileService encapsulates profile read and update use-cases.
type ProfileService struct {
	accounts AccountRepository
	photos   PhotoStore
	logger   *zap.Logger
}

func NewProfileService(accounts AccountRepository, photos PhotoStore, logger *zap.Logger) *ProfileService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ProfileService{accounts: accounts, photos: photos, logger: logger}
}

func (s *ProfileService) Get(ctx context.Context, userID int) (types.User, error) {
	user, err := s.accounts.GetByID(ctx, userID)
	if err != nil {
		return types.User{}, mapAccountErr(err)
	}
	return user, nil
}

// Patch applies the allow-listed profile fields.
func (s *ProfileService) Patch(ctx context.Context, userID int, patch types.ProfilePatch) (types.User, error) {
	if patch.FirstName != nil {
		name, err := ValidateName("first_name", *patch.FirstName)
		if err != nil {
			return types.User{}, err
		}
		patch.FirstName = &name
	}
	if patch.LastName != nil {
		name, err := ValidateName("last_name", *patch.LastName)
		if err != nil {
			return types.User{}, err
		}
		patch.LastName = &name
	}
	features, err := ValidateFeatures(patch.Features)
	if err != nil {
		return types.User{}, err
	}
	patch.Features = features

	user, err := s.accounts.UpdateProfile(ctx, userID, patch)
	if err != nil {
		return types.User{}, mapAccountErr(err)
	}
	return user, nil
}

// UpdatePhoto replaces the profile photo, or removes it when upload is nil.
func (s *ProfileService) UpdatePhoto(ctx context.Context, userID int, upload *PhotoUpload) (types.User, error) {
	user, err := s.accounts.GetByID(ctx, userID)
	if err != nil {
		return types.User{}, mapAccountErr(err)
	}
	previous := user.Photo

	var key *string
	if upload != nil {
		saved, err := s.photos.Save(ctx, userID, upload.Filename, upload.Content)
		if err != nil {
			if errors.Is(err, storage.ErrUnsupportedImage) {
				return types.User{}, ErrUnsupportedPhoto
			}
			return types.User{}, err
		}
		key = &saved
	}

	if err := s.accounts.SetPhoto(ctx, userID, key); err != nil {
		if key != nil {
			s.removePhoto(ctx, *key)
		}
		return types.User{}, mapAccountErr(err)
	}
	if previous != nil {
		s.removePhoto(ctx, *previous)
	}

	user.Photo = key
	return user, nil
}

// OpenPhoto streams the current profile photo.
func (s *ProfileService) OpenPhoto(ctx context.Context, userID int) (io.ReadCloser, error) {
	user, err := s.accounts.GetByID(ctx, userID)
	if err != nil {
		return nil, mapAccountErr(err)
	}
	if user.Photo == nil {
		return nil, ErrPhotoNotFound
	}
	rc, err := s.photos.Open(ctx, *user.Photo)
	if err != nil {
		if errors.Is(err, storage.ErrObjectNotFound) {
			return nil, ErrPhotoNotFound
		}
		return nil, err
	}
	return rc, nil
}

func (s *ProfileService) removePhoto(ctx context.Context, key string) {
	if err := s.photos.Remove(ctx, key); err != nil {
		s.logger.Warn("failed to remove photo", zap.String("key", key), zap.Error(err))
	}
}
