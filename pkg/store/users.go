package store

import (
	"context"
	"fmt"

	"github.com/Clinical-Genomics/trailblazer-sub000/pkg/models"
	"github.com/Clinical-Genomics/trailblazer-sub000/pkg/tberrors"
)

// AddUser creates a user. Email and abbreviation are unique; duplicates are
// rejected with a conflict.
func (s *Store) AddUser(ctx context.Context, name, email, abbreviation string) (*models.User, error) {
	if email == "" || abbreviation == "" {
		return nil, tberrors.NewInvalidInput("email and abbreviation are required")
	}
	row := User{
		Name:         name,
		Email:        email,
		Abbreviation: abbreviation,
		CreatedAt:    s.now(),
	}
	if err := s.DB.WithContext(ctx).Create(&row).Error; err != nil {
		return nil, translate(err, fmt.Sprintf("user %s", email))
	}
	return row.AsUser(), nil
}

// GetUserByEmail loads one user. Archived users are excluded unless asked
// for, so the auth gate rejects them by default.
func (s *Store) GetUserByEmail(ctx context.Context, email string, includeArchived bool) (*models.User, error) {
	db := s.DB.WithContext(ctx).Where("email = ?", email)
	if !includeArchived {
		db = db.Where("is_archived = ?", false)
	}
	var row User
	if err := db.First(&row).Error; err != nil {
		return nil, translate(err, fmt.Sprintf("user %s", email))
	}
	return row.AsUser(), nil
}

// GetUsers lists users filtered by optional name/email substrings.
func (s *Store) GetUsers(ctx context.Context, name, email string, includeArchived bool) ([]*models.User, error) {
	db := s.DB.WithContext(ctx).Model(&User{})
	if name != "" {
		db = db.Where("name LIKE ?", "%"+name+"%")
	}
	if email != "" {
		db = db.Where("email LIKE ?", "%"+email+"%")
	}
	if !includeArchived {
		db = db.Where("is_archived = ?", false)
	}
	var rows []User
	if err := db.Order("id ASC").Find(&rows).Error; err != nil {
		return nil, err
	}
	out := make([]*models.User, len(rows))
	for i := range rows {
		out[i] = rows[i].AsUser()
	}
	return out, nil
}

// UpdateUserIsArchived flips the archive flag. Archived users drop out of
// default queries and can no longer authenticate.
func (s *Store) UpdateUserIsArchived(ctx context.Context, userID uint, archived bool) error {
	res := s.DB.WithContext(ctx).Model(&User{}).Where("id = ?", userID).Update("is_archived", archived)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return tberrors.NewNotFound("user %d does not exist", userID)
	}
	return nil
}

// UpdateUserToken stores the encrypted OAuth refresh token.
func (s *Store) UpdateUserToken(ctx context.Context, userID uint, encryptedToken string) error {
	res := s.DB.WithContext(ctx).Model(&User{}).Where("id = ?", userID).Update("refresh_token", encryptedToken)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return tberrors.NewNotFound("user %d does not exist", userID)
	}
	return nil
}

// UpdateUserGoogleID records the subject claim from the first login.
func (s *Store) UpdateUserGoogleID(ctx context.Context, userID uint, googleID string) error {
	res := s.DB.WithContext(ctx).Model(&User{}).Where("id = ?", userID).Update("google_id", googleID)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return tberrors.NewNotFound("user %d does not exist", userID)
	}
	return nil
}
