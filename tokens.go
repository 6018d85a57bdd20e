package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"time"

	"golang.org/x/oauth2"
)

// ErrNoTokens means the token file holds no credentials for the requested bike.
var ErrNoTokens = errors.New("no tokens found")

// TokenStorage is the persisted credential set of one bike entry.
type TokenStorage struct {
	AccessToken  string    `json:"access_token"`
	RefreshToken string    `json:"refresh_token"`
	TokenType    string    `json:"token_type"`
	ExpiresAt    time.Time `json:"expires_at"`
	BikeID       string    `json:"bike_id"`
	BikeName     string    `json:"bike_name,omitempty"`
}

// TokenStorageMap is the on-disk layout of the token file.
type TokenStorageMap struct {
	Tokens map[string]*TokenStorage `json:"tokens"` // key = bike_id
}

// Token converts the stored entry to an oauth2.Token.
func (s *TokenStorage) Token() *oauth2.Token {
	return &oauth2.Token{
		AccessToken:  s.AccessToken,
		RefreshToken: s.RefreshToken,
		TokenType:    s.TokenType,
		Expiry:       s.ExpiresAt,
	}
}

func newTokenStorage(t *oauth2.Token, bikeID, bikeName string) *TokenStorage {
	return &TokenStorage{
		AccessToken:  t.AccessToken,
		RefreshToken: t.RefreshToken,
		TokenType:    t.Type(),
		ExpiresAt:    t.Expiry,
		BikeID:       bikeID,
		BikeName:     bikeName,
	}
}

func readTokenMap(path string) (*TokenStorageMap, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var storageMap TokenStorageMap
	if err := json.Unmarshal(data, &storageMap); err != nil {
		return nil, fmt.Errorf("failed to parse token file: %w", err)
	}
	return &storageMap, nil
}

// loadTokens returns the entry for bikeID. With an empty bikeID the file must
// hold exactly one entry, which is returned.
func loadTokens(path, bikeID string) (*TokenStorage, error) {
	storageMap, err := readTokenMap(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, ErrNoTokens
	}
	if err != nil {
		return nil, err
	}

	if bikeID != "" {
		if storage, ok := storageMap.Tokens[bikeID]; ok {
			if storage.BikeID == "" {
				storage.BikeID = bikeID
			}
			return storage, nil
		}
		return nil, fmt.Errorf("%w for bike_id: %s", ErrNoTokens, bikeID)
	}

	switch len(storageMap.Tokens) {
	case 0:
		return nil, ErrNoTokens
	case 1:
		for id, storage := range storageMap.Tokens {
			if storage.BikeID == "" {
				storage.BikeID = id
			}
			return storage, nil
		}
	}
	return nil, fmt.Errorf("token file holds %d bikes, select one with -bike-id", len(storageMap.Tokens))
}

// saveTokens merges storage into the token file, keeping other bikes' entries.
func saveTokens(ctx context.Context, path string, storage *TokenStorage) error {
	if storage.BikeID == "" {
		return errors.New("cannot save tokens without a bike id")
	}

	lock, err := acquireFileLock(ctx, path)
	if err != nil {
		return fmt.Errorf("failed to acquire lock: %w", err)
	}
	defer func() {
		if releaseErr := lock.release(); releaseErr != nil {
			fmt.Fprintf(os.Stderr, "failed to release lock: %v\n", releaseErr)
		}
	}()

	// Re-read inside the lock; an unreadable file starts over empty.
	storageMap, err := readTokenMap(path)
	if err != nil {
		storageMap = &TokenStorageMap{}
	}
	if storageMap.Tokens == nil {
		storageMap.Tokens = make(map[string]*TokenStorage)
	}

	storageMap.Tokens[storage.BikeID] = storage

	data, err := json.MarshalIndent(storageMap, "", "  ")
	if err != nil {
		return err
	}
	return writeLocked(path, data, 0o600)
}
