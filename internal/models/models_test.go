package models

import (
	"testing"
	"time"
)

func TestBadgeExpired(t *testing.T) {
	now := time.Date(2026, 3, 9, 12, 0, 0, 0, time.UTC)

	if (Badge{}).Expired(now) {
		t.Fatal("badge without expiration date never expires")
	}

	past := now.Add(-time.Hour)
	if !(Badge{DateExpiration: &past}).Expired(now) {
		t.Fatal("badge with a past expiration date must be expired")
	}

	future := now.Add(time.Hour)
	if (Badge{DateExpiration: &future}).Expired(now) {
		t.Fatal("badge with a future expiration date must not be expired")
	}
}
