// Package memory holds in-process implementations of the account and session
// repositories with the same error contract as the Postgres ones.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/authsvc/apiserver/internal/store"
	"github.com/authsvc/apiserver/types"
)

// Accounts is an in-memory account repository.
type Accounts struct {
	mu            sync.Mutex
	nextID        int
	nextFeatureID int
	users         map[int]types.User
	resetFailures map[int]int
}

func NewAccounts() *Accounts {
	return &Accounts{users: map[int]types.User{}, resetFailures: map[int]int{}}
}

func (a *Accounts) Create(_ context.Context, user types.User) (types.User, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	for _, existing := range a.users {
		if existing.Email == user.Email {
			return types.User{}, store.ErrDuplicate
		}
	}
	a.nextID++
	now := time.Now()
	user.ID = a.nextID
	user.CreatedAt = now
	user.UpdatedAt = now
	if user.Features == nil {
		user.Features = []types.Feature{}
	}
	a.users[user.ID] = cloneUser(user)
	return cloneUser(user), nil
}

func (a *Accounts) GetByID(_ context.Context, id int) (types.User, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	user, ok := a.users[id]
	if !ok {
		return types.User{}, store.ErrNotFound
	}
	return cloneUser(user), nil
}

func (a *Accounts) GetByEmail(_ context.Context, email string) (types.User, error) {
	return a.find(func(u types.User) bool { return u.Email == email })
}

func (a *Accounts) GetByEmailAndResetCode(_ context.Context, email, code string) (types.User, error) {
	return a.find(func(u types.User) bool {
		return u.Email == email && u.ResetCode != nil && *u.ResetCode == code
	})
}

func (a *Accounts) find(match func(types.User) bool) (types.User, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	for _, user := range a.users {
		if match(user) {
			return cloneUser(user), nil
		}
	}
	return types.User{}, store.ErrNotFound
}

func (a *Accounts) Activate(_ context.Context, id int, otp string, attempts int) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	user, ok := a.users[id]
	if !ok || user.IsActive || user.OTPCode == nil || *user.OTPCode != otp {
		return store.ErrConflict
	}
	user.IsActive = true
	user.OTPCode = nil
	user.AttemptsCount = attempts
	user.UpdatedAt = time.Now()
	a.users[id] = user
	return nil
}

func (a *Accounts) ConsumeAttempt(_ context.Context, id int, otp *string) (int, bool, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	user, ok := a.users[id]
	if !ok {
		return 0, false, store.ErrNotFound
	}
	if user.IsActive {
		return 0, false, store.ErrConflict
	}
	remaining := user.AttemptsCount - 1
	if remaining <= 0 {
		delete(a.users, id)
		return 0, true, nil
	}
	user.AttemptsCount = remaining
	if otp != nil {
		code := *otp
		user.OTPCode = &code
	}
	user.UpdatedAt = time.Now()
	a.users[id] = user
	return remaining, false, nil
}

func (a *Accounts) SetResetCode(_ context.Context, id int, code string) error {
	return a.update(id, func(u *types.User) error {
		u.ResetCode = &code
		delete(a.resetFailures, id)
		return nil
	})
}

func (a *Accounts) FailResetAttempt(_ context.Context, email string, maxAttempts int) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	for id, user := range a.users {
		if user.Email != email || user.ResetCode == nil {
			continue
		}
		a.resetFailures[id]++
		if a.resetFailures[id] >= maxAttempts {
			user.ResetCode = nil
			delete(a.resetFailures, id)
		}
		user.UpdatedAt = time.Now()
		a.users[id] = user
	}
	return nil
}

func (a *Accounts) ResetPassword(_ context.Context, id int, code, passwordHash string) error {
	return a.update(id, func(u *types.User) error {
		if u.ResetCode == nil || *u.ResetCode != code {
			return store.ErrNotFound
		}
		u.ResetCode = nil
		u.PasswordHash = passwordHash
		delete(a.resetFailures, id)
		return nil
	})
}

func (a *Accounts) SetPassword(_ context.Context, id int, passwordHash string) error {
	return a.update(id, func(u *types.User) error {
		u.PasswordHash = passwordHash
		return nil
	})
}

func (a *Accounts) UpdateLastLogin(_ context.Context, id int, at time.Time) error {
	return a.update(id, func(u *types.User) error {
		u.LastLogin = &at
		return nil
	})
}

func (a *Accounts) SetPhoto(_ context.Context, id int, key *string) error {
	return a.update(id, func(u *types.User) error {
		if key == nil {
			u.Photo = nil
			return nil
		}
		photo := *key
		u.Photo = &photo
		return nil
	})
}

func (a *Accounts) UpdateProfile(ctx context.Context, id int, patch types.ProfilePatch) (types.User, error) {
	err := a.update(id, func(u *types.User) error {
		features := cloneFeatures(u.Features)
		for _, fp := range patch.Features {
			if fp.ID == nil {
				a.nextFeatureID++
				features = append(features, types.Feature{
					ID:     a.nextFeatureID,
					Title:  fp.Title,
					Values: append([]string{}, fp.Values...),
				})
				continue
			}
			i := sort.Search(len(features), func(i int) bool { return features[i].ID >= *fp.ID })
			if i == len(features) || features[i].ID != *fp.ID {
				return store.ErrNotFound
			}
			features[i].Title = fp.Title
			features[i].Values = append([]string{}, fp.Values...)
		}

		if patch.FirstName != nil {
			u.FirstName = *patch.FirstName
		}
		if patch.LastName != nil {
			u.LastName = *patch.LastName
		}
		u.Features = features
		return nil
	})
	if err != nil {
		return types.User{}, err
	}
	return a.GetByID(ctx, id)
}

func (a *Accounts) Delete(_ context.Context, id int) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if _, ok := a.users[id]; !ok {
		return store.ErrNotFound
	}
	delete(a.users, id)
	delete(a.resetFailures, id)
	return nil
}

func (a *Accounts) update(id int, fn func(*types.User) error) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	user, ok := a.users[id]
	if !ok {
		return store.ErrNotFound
	}
	if err := fn(&user); err != nil {
		return err
	}
	user.UpdatedAt = time.Now()
	a.users[id] = user
	return nil
}

// Sessions is an in-memory session repository.
type Sessions struct {
	mu       sync.Mutex
	nextID   int64
	sessions map[int64]types.Session
}

func NewSessions() *Sessions {
	return &Sessions{sessions: map[int64]types.Session{}}
}

func (s *Sessions) Record(_ context.Context, pair types.TokenPair) (types.Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, existing := range s.sessions {
		if existing.AccessToken == pair.AccessToken || existing.RefreshToken == pair.RefreshToken {
			return types.Session{}, store.ErrDuplicate
		}
	}
	s.nextID++
	now := time.Now()
	session := types.Session{
		ID:           s.nextID,
		AccessToken:  pair.AccessToken,
		RefreshToken: pair.RefreshToken,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	s.sessions[session.ID] = session
	return session, nil
}

func (s *Sessions) FindValidByAccess(_ context.Context, accessToken string) (types.Session, error) {
	return s.find(func(ss types.Session) bool { return ss.AccessToken == accessToken })
}

func (s *Sessions) FindValidByRefresh(_ context.Context, refreshToken string) (types.Session, error) {
	return s.find(func(ss types.Session) bool { return ss.RefreshToken == refreshToken })
}

func (s *Sessions) find(match func(types.Session) bool) (types.Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, session := range s.sessions {
		if !session.Expired && match(session) {
			return session, nil
		}
	}
	return types.Session{}, store.ErrNotFound
}

func (s *Sessions) Revoke(_ context.Context, id int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if session, ok := s.sessions[id]; ok {
		session.Expired = true
		s.sessions[id] = session
	}
	return nil
}

func (s *Sessions) RevokeValid(_ context.Context, id int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	session, ok := s.sessions[id]
	if !ok || session.Expired {
		return store.ErrConflict
	}
	session.Expired = true
	session.UpdatedAt = time.Now()
	s.sessions[id] = session
	return nil
}

// Len returns the number of recorded sessions, revoked ones included.
func (s *Sessions) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.sessions)
}

func cloneUser(u types.User) types.User {
	u.Features = cloneFeatures(u.Features)
	return u
}

func cloneFeatures(features []types.Feature) []types.Feature {
	out := make([]types.Feature, len(features))
	for i, f := range features {
		out[i] = types.Feature{ID: f.ID, Title: f.Title, Values: append([]string{}, f.Values...)}
	}
	return out
}
