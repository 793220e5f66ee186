package repository

import (
	"context"
	"errors"
	"strings"
	"testing"

	"workpilot/models"
)

func TestMintAndVerify(t *testing.T) {
	store := NewAPIKeyStore(testDB(t))
	ctx := context.Background()

	plaintext, key, err := store.Mint(ctx, "alice@example.com", "laptop")
	if err != nil {
		t.Fatalf("Mint() error = %v", err)
	}
	if !strings.HasPrefix(plaintext, "wk_") {
		t.Fatalf("plaintext = %q, want wk_ prefix", plaintext)
	}
	if strings.Contains(key.SecretHash, plaintext) {
		t.Fatal("stored hash must not contain the plaintext")
	}

	got, err := store.Verify(ctx, plaintext)
	if err != nil {
		t.Fatalf("Verify() error = %v", err)
	}
	if got.UserID != "alice@example.com" {
		t.Errorf("UserID = %q, want alice@example.com", got.UserID)
	}
	if got.LastUsedAt == nil {
		t.Error("LastUsedAt not set after Verify")
	}
}

func TestVerifyRejectsBadKeys(t *testing.T) {
	store := NewAPIKeyStore(testDB(t))
	ctx := context.Background()

	plaintext, _, err := store.Mint(ctx, "alice@example.com", "laptop")
	if err != nil {
		t.Fatalf("Mint() error = %v", err)
	}

	cases := []struct {
		name string
		key  string
	}{
		{"wrong secret", plaintext[:len(plaintext)-4] + "XXXX"},
		{"no prefix", strings.TrimPrefix(plaintext, "wk_")},
		{"unknown id", "wk_deadbeefdeadbeef.notasecret"},
		{"empty", ""},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := store.Verify(ctx, tc.key); !errors.Is(err, models.ErrNotFound) {
				t.Errorf("Verify(%q) err = %v, want ErrNotFound", tc.key, err)
			}
		})
	}
}

func TestRevoke(t *testing.T) {
	store := NewAPIKeyStore(testDB(t))
	ctx := context.Background()

	plaintext, key, err := store.Mint(ctx, "alice@example.com", "laptop")
	if err != nil {
		t.Fatalf("Mint() error = %v", err)
	}

	// Another user cannot revoke someone else's key.
	if err := store.Revoke(ctx, "bob@example.com", key.ID); !errors.Is(err, models.ErrNotFound) {
		t.Fatalf("cross-user Revoke() err = %v, want ErrNotFound", err)
	}

	if err := store.Revoke(ctx, "alice@example.com", key.ID); err != nil {
		t.Fatalf("Revoke() error = %v", err)
	}
	if _, err := store.Verify(ctx, plaintext); !errors.Is(err, models.ErrNotFound) {
		t.Fatalf("Verify() after revoke err = %v, want ErrNotFound", err)
	}
}

func TestListForUser(t *testing.T) {
	store := NewAPIKeyStore(testDB(t))
	ctx := context.Background()

	if _, _, err := store.Mint(ctx, "alice@example.com", "laptop"); err != nil {
		t.Fatalf("Mint() error = %v", err)
	}
	if _, _, err := store.Mint(ctx, "alice@example.com", "phone"); err != nil {
		t.Fatalf("Mint() error = %v", err)
	}
	if _, _, err := store.Mint(ctx, "bob@example.com", "desk"); err != nil {
		t.Fatalf("Mint() error = %v", err)
	}

	keys, err := store.ListForUser(ctx, "alice@example.com")
	if err != nil {
		t.Fatalf("ListForUser() error = %v", err)
	}
	if len(keys) != 2 {
		t.Fatalf("len(keys) = %d, want 2", len(keys))
	}
	for _, k := range keys {
		if k.UserID != "alice@example.com" {
			t.Errorf("listed key belongs to %q", k.UserID)
		}
	}
}
