package store

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/PortNumber53/saas-starter/internal/models"
)

const profileColumns = `id, full_name, display_name, bio, website, avatar_url, created_at, updated_at`

// GetOrCreateProfile returns the user's profile, inserting an empty one on
// first access.
func (s *Store) GetOrCreateProfile(ctx context.Context, userID string) (*models.UserProfile, error) {
	query := `
INSERT INTO user_profiles (id, created_at, updated_at)
VALUES ($1, NOW(), NOW())
ON CONFLICT (id) DO UPDATE SET id = EXCLUDED.id
RETURNING ` + profileColumns

	profile, err := scanProfile(s.db.QueryRowContext(ctx, query, userID))
	if err != nil {
		return nil, fmt.Errorf("store: get or create profile: %w", err)
	}
	return profile, nil
}

// UpsertProfile writes the editable profile fields.
func (s *Store) UpsertProfile(ctx context.Context, userID string, update models.ProfileUpdate) (*models.UserProfile, error) {
	query := `
INSERT INTO user_profiles (id, full_name, display_name, bio, website, created_at, updated_at)
VALUES ($1, $2, $3, $4, $5, NOW(), NOW())
ON CONFLICT (id) DO UPDATE SET
  full_name = EXCLUDED.full_name,
  display_name = EXCLUDED.display_name,
  bio = EXCLUDED.bio,
  website = EXCLUDED.website,
  updated_at = NOW()
RETURNING ` + profileColumns

	profile, err := scanProfile(s.db.QueryRowContext(ctx, query,
		userID,
		nullString(update.FullName),
		nullString(update.DisplayName),
		nullString(update.Bio),
		nullString(update.Website),
	))
	if err != nil {
		return nil, fmt.Errorf("store: upsert profile: %w", err)
	}
	return profile, nil
}

func scanProfile(row *sql.Row) (*models.UserProfile, error) {
	var (
		p                                      models.UserProfile
		fullName, displayName, bio, site, avtr sql.NullString
	)
	if err := row.Scan(&p.ID, &fullName, &displayName, &bio, &site, &avtr, &p.CreatedAt, &p.UpdatedAt); err != nil {
		return nil, err
	}
	p.FullName = nullStringPtr(fullName)
	p.DisplayName = nullStringPtr(displayName)
	p.Bio = nullStringPtr(bio)
	p.Website = nullStringPtr(site)
	p.AvatarURL = nullStringPtr(avtr)
	return &p, nil
}
