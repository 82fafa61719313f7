package library

import (
	"context"

	"github.com/zawalid/watchfolio/internal/library/schema"
)

// Preferences returns the user's preferences, or the defaults.
func (s *Service) Preferences(ctx context.Context) (schema.UserPreferences, error) {
	return s.store.GetPreferences(ctx, s.userID)
}

// UpdatePreferences applies fn to the stored preferences and saves them.
// A change to AutoSync is forwarded to the sync engine.
func (s *Service) UpdatePreferences(ctx context.Context, fn func(*schema.UserPreferences)) (schema.UserPreferences, error) {
	p, err := s.store.GetPreferences(ctx, s.userID)
	if err != nil {
		return schema.UserPreferences{}, err
	}
	fn(&p)
	p.UserID = s.userID
	p.UpdatedAt = s.now().UTC()

	if err := s.store.SavePreferences(ctx, p); err != nil {
		return schema.UserPreferences{}, err
	}
	if s.sync != nil && s.sync.AutoSyncEnabled() != p.AutoSync {
		s.sync.SetAutoSync(p.AutoSync)
	}
	return p, nil
}
