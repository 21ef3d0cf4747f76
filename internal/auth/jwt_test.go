package auth

import (
	"testing"
	"time"
)

func TestMintAndParse(t *testing.T) {
	m := NewJWTManager("magnify", "magnify-api", "test-secret")

	tok, err := m.Mint("0xabc", RoleMember, time.Hour)
	if err != nil {
		t.Fatalf("Mint: %v", err)
	}
	claims, err := m.Parse(tok)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if claims.Address != "0xabc" || claims.Role != RoleMember {
		t.Fatalf("claims = %+v", claims)
	}
}

func TestParseRejections(t *testing.T) {
	m := NewJWTManager("magnify", "magnify-api", "test-secret")

	t.Run("expired", func(t *testing.T) {
		tok, err := m.Mint("0xabc", RoleMember, -time.Minute)
		if err != nil {
			t.Fatalf("Mint: %v", err)
		}
		if _, err := m.Parse(tok); err == nil {
			t.Fatal("expected error for expired token")
		}
	})

	t.Run("wrong secret", func(t *testing.T) {
		other := NewJWTManager("magnify", "magnify-api", "other-secret")
		tok, err := other.Mint("0xabc", RoleMember, time.Hour)
		if err != nil {
			t.Fatalf("Mint: %v", err)
		}
		if _, err := m.Parse(tok); err == nil {
			t.Fatal("expected error for wrong secret")
		}
	})

	t.Run("wrong issuer", func(t *testing.T) {
		other := NewJWTManager("someone-else", "magnify-api", "test-secret")
		tok, err := other.Mint("0xabc", RoleMember, time.Hour)
		if err != nil {
			t.Fatalf("Mint: %v", err)
		}
		if _, err := m.Parse(tok); err == nil {
			t.Fatal("expected error for wrong issuer")
		}
	})

	t.Run("wrong audience", func(t *testing.T) {
		other := NewJWTManager("magnify", "someone-else", "test-secret")
		tok, err := other.Mint("0xabc", RoleMember, time.Hour)
		if err != nil {
			t.Fatalf("Mint: %v", err)
		}
		if _, err := m.Parse(tok); err == nil {
			t.Fatal("expected error for wrong audience")
		}
	})

	t.Run("garbage", func(t *testing.T) {
		if _, err := m.Parse("not.a.token"); err == nil {
			t.Fatal("expected error for garbage token")
		}
	})
}
