package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/cwrk-planet/deal-chat/internal/domain"
)

// Seed — справочник объявлений и пользователей для локального стенда.
type Seed struct {
	Listings []SeedListing `yaml:"listings"`
	Users    []SeedUser    `yaml:"users"`
}

type SeedListing struct {
	ID       string `yaml:"id"`
	SellerID string `yaml:"sellerId"`
	Title    string `yaml:"title"`
}

type SeedUser struct {
	ID   string `yaml:"id"`
	Name string `yaml:"name"`
}

func LoadSeed(path string) (*Seed, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var s Seed
	if err := yaml.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("parse seed %s: %w", path, err)
	}
	for i, l := range s.Listings {
		if l.ID == "" || l.SellerID == "" {
			return nil, fmt.Errorf("seed listing #%d: id and sellerId are required", i)
		}
	}
	return &s, nil
}

func (s *Seed) Domain() ([]domain.Listing, []domain.User) {
	listings := make([]domain.Listing, 0, len(s.Listings))
	for _, l := range s.Listings {
		listings = append(listings, domain.Listing{ID: l.ID, SellerID: l.SellerID, Title: l.Title})
	}
	users := make([]domain.User, 0, len(s.Users))
	for _, u := range s.Users {
		users = append(users, domain.User{ID: u.ID, DisplayName: u.Name})
	}
	return listings, users
}
