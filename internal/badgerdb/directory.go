package badgerdb

import (
	"context"
	"errors"
	"fmt"

	"github.com/dgraph-io/badger/v4"

	"github.com/cwrk-planet/deal-chat/internal/domain"
	"github.com/cwrk-planet/deal-chat/internal/service"
)

var _ service.Repository = (*Store)(nil)

// Встроенный backend сам хранит копию реестра объявлений и справочника
// пользователей; их наполняет Seed или внешний синхронизатор.
func listingKey(id string) string { return "listing:" + id }
func userKey(id string) string    { return "user:" + id }

func (s *Store) Listing(ctx context.Context, listingID string) (*domain.Listing, error) {
	var l domain.Listing
	err := s.view(ctx, func(txn *badger.Txn) error {
		return getJSON(txn, listingKey(listingID), &l)
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, domain.ErrListingNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("load listing %s: %w", listingID, err)
	}
	return &l, nil
}

func (s *Store) User(ctx context.Context, userID string) (*domain.User, error) {
	var u domain.User
	err := s.view(ctx, func(txn *badger.Txn) error {
		return getJSON(txn, userKey(userID), &u)
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, domain.ErrUserNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("load user %s: %w", userID, err)
	}
	return &u, nil
}

func (s *Store) PutListing(ctx context.Context, l domain.Listing) error {
	return s.update(ctx, func(txn *badger.Txn) error {
		return setJSON(txn, listingKey(l.ID), l)
	})
}

func (s *Store) PutUser(ctx context.Context, u domain.User) error {
	return s.update(ctx, func(txn *badger.Txn) error {
		return setJSON(txn, userKey(u.ID), u)
	})
}

// Seed записывает объявления и пользователей одной транзакцией.
func (s *Store) Seed(ctx context.Context, listings []domain.Listing, users []domain.User) error {
	return s.update(ctx, func(txn *badger.Txn) error {
		for _, l := range listings {
			if err := setJSON(txn, listingKey(l.ID), l); err != nil {
				return err
			}
		}
		for _, u := range users {
			if err := setJSON(txn, userKey(u.ID), u); err != nil {
				return err
			}
		}
		return nil
	})
}
