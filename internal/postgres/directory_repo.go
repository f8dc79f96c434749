package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/cwrk-planet/deal-chat/internal/domain"

	"github.com/jackc/pgx/v5"
)

// Таблицы listings и users — локальная проекция внешних реестров
// (владелец объявления и отображаемое имя).

func (s *Store) Listing(ctx context.Context, listingID string) (*domain.Listing, error) {
	var l domain.Listing
	err := s.db.QueryRow(ctx, QueryGetListing, listingID).Scan(&l.ID, &l.SellerID, &l.Title)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, domain.ErrListingNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("load listing: %w", err)
	}
	return &l, nil
}

func (s *Store) User(ctx context.Context, userID string) (*domain.User, error) {
	var u domain.User
	err := s.db.QueryRow(ctx, QueryGetUser, userID).Scan(&u.ID, &u.DisplayName)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, domain.ErrUserNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("load user: %w", err)
	}
	return &u, nil
}

// Seed upsert'ит объявления и пользователей одной транзакцией.
func (s *Store) Seed(ctx context.Context, listings []domain.Listing, users []domain.User) error {
	return s.inTx(ctx, func(tx pgx.Tx) error {
		for _, l := range listings {
			if _, err := tx.Exec(ctx, QueryUpsertListing, l.ID, l.SellerID, l.Title); err != nil {
				return fmt.Errorf("upsert listing %s: %w", l.ID, err)
			}
		}
		for _, u := range users {
			if _, err := tx.Exec(ctx, QueryUpsertUser, u.ID, u.DisplayName); err != nil {
				return fmt.Errorf("upsert user %s: %w", u.ID, err)
			}
		}
		return nil
	})
}
