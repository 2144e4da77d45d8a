package store

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/authsvc/apiserver/internal/db"
	"github.com/authsvc/apiserver/types"
)

const userColumns = `id, first_name, last_name, email, password_hash, otp_code, reset_code,
		is_active, attempts_count, last_login, photo, created_at, updated_at`

// UserRepository handles persistence for accounts and their features.
type UserRepository struct {
	db *sql.DB
}

func NewUserRepository(conn *sql.DB) *UserRepository {
	return &UserRepository{db: conn}
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanUser(row rowScanner) (types.User, error) {
	var user types.User
	err := row.Scan(
		&user.ID,
		&user.FirstName,
		&user.LastName,
		&user.Email,
		&user.PasswordHash,
		&user.OTPCode,
		&user.ResetCode,
		&user.IsActive,
		&user.AttemptsCount,
		&user.LastLogin,
		&user.Photo,
		&user.CreatedAt,
		&user.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return types.User{}, ErrNotFound
		}
		return types.User{}, err
	}
	return user, nil
}

func (r *UserRepository) getOne(ctx context.Context, query string, args ...any) (types.User, error) {
	user, err := scanUser(r.db.QueryRowContext(ctx, query, args...))
	if err != nil {
		return types.User{}, err
	}
	user.Features, err = loadFeatures(ctx, r.db, user.ID)
	if err != nil {
		return types.User{}, err
	}
	return user, nil
}

func (r *UserRepository) GetByID(ctx context.Context, id int) (types.User, error) {
	const query = `SELECT ` + userColumns + ` FROM users WHERE id = $1`
	return r.getOne(ctx, query, id)
}

func (r *UserRepository) GetByEmail(ctx context.Context, email string) (types.User, error) {
	const query = `SELECT ` + userColumns + ` FROM users WHERE email = $1`
	return r.getOne(ctx, query, email)
}

// GetByEmailAndResetCode finds the account with an outstanding reset code.
func (r *UserRepository) GetByEmailAndResetCode(ctx context.Context, email, code string) (types.User, error) {
	const query = `SELECT ` + userColumns + ` FROM users WHERE email = $1 AND reset_code = $2`
	return r.getOne(ctx, query, email, code)
}

// Create inserts a pending account. Duplicate emails yield ErrDuplicate and
// column constraint violations yield ErrInvalidData.
func (r *UserRepository) Create(ctx context.Context, user types.User) (types.User, error) {
	now := time.Now()
	user.CreatedAt = now
	user.UpdatedAt = now

	const query = `
		INSERT INTO users (first_name, last_name, email, password_hash, otp_code, is_active, attempts_count, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		RETURNING id`
	if err := r.db.QueryRowContext(
		ctx,
		query,
		user.FirstName,
		user.LastName,
		user.Email,
		user.PasswordHash,
		nullable(user.OTPCode),
		user.IsActive,
		user.AttemptsCount,
		user.CreatedAt,
		user.UpdatedAt,
	).Scan(&user.ID); err != nil {
		return types.User{}, translate(err)
	}
	if user.Features == nil {
		user.Features = []types.Feature{}
	}
	return user, nil
}

// Activate flips a pending account to active if otp is still its outstanding
// code. ErrConflict means the account was activated or re-challenged meanwhile.
func (r *UserRepository) Activate(ctx context.Context, id int, otp string, attempts int) error {
	const query = `
		UPDATE users
		SET is_active = TRUE,
			otp_code = NULL,
			attempts_count = $1,
			updated_at = $2
		WHERE id = $3 AND is_active = FALSE AND otp_code = $4`
	result, err := r.db.ExecContext(ctx, query, attempts, time.Now(), id, otp)
	if err != nil {
		return err
	}
	return expectAffected(result, ErrConflict)
}

// ConsumeAttempt decrements attempts_count under a row lock. When the counter
// would reach zero the account is deleted instead and deleted is true. A
// non-nil otp replaces the outstanding activation code in the same step.
func (r *UserRepository) ConsumeAttempt(ctx context.Context, id int, otp *string) (remaining int, deleted bool, err error) {
	err = db.WithTx(ctx, r.db, nil, func(ctx context.Context, tx db.DBTX) error {
		const lockQuery = `SELECT attempts_count, is_active FROM users WHERE id = $1 FOR UPDATE`
		var attempts int
		var active bool
		if err := tx.QueryRowContext(ctx, lockQuery, id).Scan(&attempts, &active); err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return ErrNotFound
			}
			return err
		}
		if active {
			return ErrConflict
		}

		remaining = attempts - 1
		if remaining <= 0 {
			remaining = 0
			deleted = true
			const deleteQuery = `DELETE FROM users WHERE id = $1`
			_, err := tx.ExecContext(ctx, deleteQuery, id)
			return err
		}

		const updateQuery = `
			UPDATE users
			SET attempts_count = $1,
				otp_code = COALESCE($2, otp_code),
				updated_at = $3
			WHERE id = $4`
		_, err := tx.ExecContext(ctx, updateQuery, remaining, nullable(otp), time.Now(), id)
		return err
	})
	if err != nil {
		return 0, false, err
	}
	return remaining, deleted, nil
}

// SetResetCode stores a fresh password-reset code for the account.
func (r *UserRepository) SetResetCode(ctx context.Context, id int, code string) error {
	const query = `UPDATE users SET reset_code = $1, reset_attempts = 0, updated_at = $2 WHERE id = $3`
	result, err := r.db.ExecContext(ctx, query, code, time.Now(), id)
	if err != nil {
		return err
	}
	return expectAffected(result, ErrNotFound)
}

// FailResetAttempt records a wrong reset code for email. The outstanding code
// is dropped once maxAttempts failures have been counted against it. Accounts
// without an outstanding code are left alone.
func (r *UserRepository) FailResetAttempt(ctx context.Context, email string, maxAttempts int) error {
	const query = `
		UPDATE users
		SET reset_attempts = reset_attempts + 1,
			reset_code = CASE WHEN reset_attempts + 1 >= $1 THEN NULL ELSE reset_code END,
			updated_at = $2
		WHERE email = $3 AND reset_code IS NOT NULL`
	_, err := r.db.ExecContext(ctx, query, maxAttempts, time.Now(), email)
	return err
}

// ResetPassword replaces the password hash and consumes the reset code. It
// fails with ErrNotFound if code is no longer outstanding.
func (r *UserRepository) ResetPassword(ctx context.Context, id int, code, passwordHash string) error {
	const query = `
		UPDATE users
		SET password_hash = $1,
			reset_code = NULL,
			reset_attempts = 0,
			updated_at = $2
		WHERE id = $3 AND reset_code = $4`
	result, err := r.db.ExecContext(ctx, query, passwordHash, time.Now(), id, code)
	if err != nil {
		return err
	}
	return expectAffected(result, ErrNotFound)
}

func (r *UserRepository) SetPassword(ctx context.Context, id int, passwordHash string) error {
	const query = `UPDATE users SET password_hash = $1, updated_at = $2 WHERE id = $3`
	result, err := r.db.ExecContext(ctx, query, passwordHash, time.Now(), id)
	if err != nil {
		return err
	}
	return expectAffected(result, ErrNotFound)
}

func (r *UserRepository) UpdateLastLogin(ctx context.Context, id int, at time.Time) error {
	const query = `UPDATE users SET last_login = $1 WHERE id = $2`
	result, err := r.db.ExecContext(ctx, query, at, id)
	if err != nil {
		return err
	}
	return expectAffected(result, ErrNotFound)
}

// SetPhoto stores the object key of the profile photo; nil clears it.
func (r *UserRepository) SetPhoto(ctx context.Context, id int, key *string) error {
	const query = `UPDATE users SET photo = $1, updated_at = $2 WHERE id = $3`
	result, err := r.db.ExecContext(ctx, query, nullable(key), time.Now(), id)
	if err != nil {
		return err
	}
	return expectAffected(result, ErrNotFound)
}

// UpdateProfile applies the allow-listed fields of patch in one transaction
// and returns the refreshed account.
func (r *UserRepository) UpdateProfile(ctx context.Context, id int, patch types.ProfilePatch) (types.User, error) {
	err := db.WithTx(ctx, r.db, nil, func(ctx context.Context, tx db.DBTX) error {
		now := time.Now()

		const userQuery = `
			UPDATE users
			SET first_name = COALESCE($1, first_name),
				last_name = COALESCE($2, last_name),
				updated_at = $3
			WHERE id = $4`
		result, err := tx.ExecContext(ctx, userQuery, nullable(patch.FirstName), nullable(patch.LastName), now, id)
		if err != nil {
			return translate(err)
		}
		if err := expectAffected(result, ErrNotFound); err != nil {
			return err
		}

		for _, feature := range patch.Features {
			if err := upsertFeature(ctx, tx, id, feature, now); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return types.User{}, err
	}
	return r.GetByID(ctx, id)
}

func (r *UserRepository) Delete(ctx context.Context, id int) error {
	const query = `DELETE FROM users WHERE id = $1`
	result, err := r.db.ExecContext(ctx, query, id)
	if err != nil {
		return err
	}
	return expectAffected(result, ErrNotFound)
}

func upsertFeature(ctx context.Context, tx db.DBTX, userID int, feature types.FeaturePatch, now time.Time) error {
	var featureID int
	if feature.ID != nil {
		featureID = *feature.ID
		const updateQuery = `
			UPDATE user_features
			SET title = $1,
				updated_at = $2
			WHERE id = $3 AND user_id = $4`
		result, err := tx.ExecContext(ctx, updateQuery, feature.Title, now, featureID, userID)
		if err != nil {
			return translate(err)
		}
		if err := expectAffected(result, ErrNotFound); err != nil {
			return err
		}
		const clearQuery = `DELETE FROM user_feature_values WHERE feature_id = $1`
		if _, err := tx.ExecContext(ctx, clearQuery, featureID); err != nil {
			return err
		}
	} else {
		const insertQuery = `
			INSERT INTO user_features (user_id, title, created_at, updated_at)
			VALUES ($1, $2, $3, $4)
			RETURNING id`
		if err := tx.QueryRowContext(ctx, insertQuery, userID, feature.Title, now, now).Scan(&featureID); err != nil {
			return translate(err)
		}
	}

	const valueQuery = `INSERT INTO user_feature_values (feature_id, value) VALUES ($1, $2)`
	for _, value := range feature.Values {
		if _, err := tx.ExecContext(ctx, valueQuery, featureID, value); err != nil {
			return translate(err)
		}
	}
	return nil
}

func loadFeatures(ctx context.Context, q db.DBTX, userID int) ([]types.Feature, error) {
	const featureQuery = `SELECT id, title FROM user_features WHERE user_id = $1 ORDER BY id`
	rows, err := q.QueryContext(ctx, featureQuery, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	features := []types.Feature{}
	index := make(map[int]int)
	for rows.Next() {
		feature := types.Feature{Values: []string{}}
		if err := rows.Scan(&feature.ID, &feature.Title); err != nil {
			return nil, err
		}
		index[feature.ID] = len(features)
		features = append(features, feature)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if len(features) == 0 {
		return features, nil
	}

	const valueQuery = `
		SELECT v.feature_id, v.value
		FROM user_feature_values v
		JOIN user_features f ON f.id = v.feature_id
		WHERE f.user_id = $1
		ORDER BY v.id`
	valueRows, err := q.QueryContext(ctx, valueQuery, userID)
	if err != nil {
		return nil, err
	}
	defer valueRows.Close()

	for valueRows.Next() {
		var featureID int
		var value string
		if err := valueRows.Scan(&featureID, &value); err != nil {
			return nil, err
		}
		if i, ok := index[featureID]; ok {
			features[i].Values = append(features[i].Values, value)
		}
	}
	if err := valueRows.Err(); err != nil {
		return nil, err
	}
	return features, nil
}

func expectAffected(result sql.Result, missing error) error {
	affected, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return missing
	}
	return nil
}

func nullable(s *string) any {
	if s == nil {
		return nil
	}
	return *s
}
