package main

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"
)

type countingMinter struct {
	calls   int
	expires func() time.Time
	err     error
}

func (m *countingMinter) mint(_ context.Context, id int64) (*InstallationToken, error) {
	m.calls++
	if m.err != nil {
		return nil, m.err
	}
	return &InstallationToken{Token: fmt.Sprintf("tok-%d-%d", id, m.calls), ExpiresAt: m.expires()}, nil
}

func TestTokenCacheReusesUntilSafetyMargin(t *testing.T) {
	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	expiry := now.Add(10 * time.Minute)
	m := &countingMinter{expires: func() time.Time { return expiry }}

	c := NewTokenCache(m.mint, true, nil)
	c.now = func() time.Time { return now }

	first, err := c.GetToken(context.Background(), 1)
	if err != nil {
		t.Fatal(err)
	}
	second, _ := c.GetToken(context.Background(), 1)
	if first.Token != second.Token || m.calls != 1 {
		t.Fatalf("expected reuse, minted %d times", m.calls)
	}

	// Other installations get their own token.
	if _, err := c.GetToken(context.Background(), 2); err != nil {
		t.Fatal(err)
	}
	if m.calls != 2 {
		t.Fatalf("expected a mint for installation 2, minted %d times", m.calls)
	}

	// Inside the safety margin the token is no longer handed out.
	now = expiry.Add(-tokenSafetyMargin)
	expiry = now.Add(time.Hour)
	third, _ := c.GetToken(context.Background(), 1)
	if third.Token == first.Token || m.calls != 3 {
		t.Errorf("expected re-mint inside the safety margin, minted %d times", m.calls)
	}
}

func TestTokenCacheNeverReusesUnknownExpiry(t *testing.T) {
	m := &countingMinter{expires: func() time.Time { return time.Time{} }}
	c := NewTokenCache(m.mint, true, nil)

	for i := 0; i < 3; i++ {
		if _, err := c.GetToken(context.Background(), 1); err != nil {
			t.Fatal(err)
		}
	}
	if m.calls != 3 {
		t.Errorf("tokens without expiry must not be cached, minted %d times", m.calls)
	}
}

func TestTokenCacheDisabled(t *testing.T) {
	m := &countingMinter{expires: func() time.Time { return time.Now().Add(time.Hour) }}
	c := NewTokenCache(m.mint, false, nil)

	c.GetToken(context.Background(), 1)
	c.GetToken(context.Background(), 1)
	if m.calls != 2 {
		t.Errorf("disabled cache should mint every call, minted %d times", m.calls)
	}
}

func TestTokenCacheMintError(t *testing.T) {
	boom := errors.New("boom")
	c := NewTokenCache((&countingMinter{err: boom}).mint, true, nil)

	if _, err := c.GetToken(context.Background(), 1); !errors.Is(err, boom) {
		t.Fatalf("expected mint error, got %v", err)
	}
}
