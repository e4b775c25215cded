package service

import (
	"context"

	"github.com/Clinical-Genomics/trailblazer-sub000/pkg/crypt"
	"github.com/Clinical-Genomics/trailblazer-sub000/pkg/models"
	"github.com/Clinical-Genomics/trailblazer-sub000/pkg/store"
)

// UserService owns user administration and refresh-token custody. Tokens
// cross this boundary in the clear and are stored encrypted.
type UserService struct {
	store  *store.Store
	cipher *crypt.Cipher
}

func NewUserService(s *store.Store, cipher *crypt.Cipher) *UserService {
	return &UserService{store: s, cipher: cipher}
}

func (s *UserService) AddUser(ctx context.Context, name, email, abbreviation string) (*models.User, error) {
	return s.store.AddUser(ctx, name, email, abbreviation)
}

func (s *UserService) GetUserByEmail(ctx context.Context, email string) (*models.User, error) {
	return s.store.GetUserByEmail(ctx, email, false)
}

func (s *UserService) GetUsers(ctx context.Context, name, email string, includeArchived bool) ([]*models.User, error) {
	return s.store.GetUsers(ctx, name, email, includeArchived)
}

func (s *UserService) SetUserIsArchived(ctx context.Context, userID uint, archived bool) error {
	return s.store.UpdateUserIsArchived(ctx, userID, archived)
}

// StoreRefreshToken encrypts and persists a refresh token for OAuth
// continuity across logins.
func (s *UserService) StoreRefreshToken(ctx context.Context, userID uint, token string) error {
	encrypted, err := s.cipher.Encrypt(token)
	if err != nil {
		return err
	}
	return s.store.UpdateUserToken(ctx, userID, encrypted)
}

// GetRefreshToken returns the decrypted refresh token, or empty when the user
// never stored one.
func (s *UserService) GetRefreshToken(ctx context.Context, user *models.User) (string, error) {
	if user.RefreshToken == "" {
		return "", nil
	}
	return s.cipher.Decrypt(user.RefreshToken)
}

// SetGoogleID records the identity provider subject on first login.
func (s *UserService) SetGoogleID(ctx context.Context, userID uint, googleID string) error {
	return s.store.UpdateUserGoogleID(ctx, userID, googleID)
}
