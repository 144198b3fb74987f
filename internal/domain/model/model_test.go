//go:build !integration

package model

import (
	"testing"
	"time"
)

func TestPriorityRank(t *testing.T) {
	cases := []struct {
		p    Priority
		rank int
	}{
		{PriorityHigh, 0},
		{PriorityNormal, 1},
		{PriorityLow, 2},
		{Priority(""), 1},
		{Priority("whatever"), 1},
	}
	for _, tc := range cases {
		if got := tc.p.Rank(); got != tc.rank {
			t.Fatalf("Rank(%q) = %d, want %d", tc.p, got, tc.rank)
		}
	}
	if Priority("").Valid() {
		t.Fatal("empty priority must not be valid")
	}
}

func TestDeliveryJobState(t *testing.T) {
	j := &DeliveryJob{Status: JobStatusActive, AttemptsMade: 2, MaxAttempts: 3}
	if j.Terminal() {
		t.Fatal("active job is not terminal")
	}
	if !j.AttemptsLeft() {
		t.Fatal("2 of 3 attempts used, budget remains")
	}

	j.AttemptsMade = 3
	if j.AttemptsLeft() {
		t.Fatal("budget exhausted")
	}

	j.Status = JobStatusFailed
	if !j.Terminal() {
		t.Fatal("failed job is terminal")
	}
}

func TestCredentialFresh(t *testing.T) {
	now := time.Now()

	c := &Credential{AccessToken: "tok", TokenExpiry: now.Add(time.Hour).Unix()}
	if !c.Fresh(now) {
		t.Fatal("token an hour from expiry is fresh")
	}

	// Inside the slack window the token counts as expired.
	c.TokenExpiry = now.Add(2 * time.Minute).Unix()
	if c.Fresh(now) {
		t.Fatal("token at the expiry edge must refresh")
	}

	c.AccessToken = ""
	c.TokenExpiry = now.Add(time.Hour).Unix()
	if c.Fresh(now) {
		t.Fatal("missing access token is never fresh")
	}
}

func TestCredentialPairs(t *testing.T) {
	c := &Credential{RefreshToken: "rt", BaseURL: "https://acme.example.com"}
	if !c.HasOAuthPair() {
		t.Fatal("refresh token plus base URL is a usable OAuth pair")
	}
	if c.HasLoginPair() {
		t.Fatal("no login configured")
	}

	c.Login = "user@example.com"
	c.Password = "s3cret"
	if !c.HasLoginPair() {
		t.Fatal("login pair configured")
	}
}
