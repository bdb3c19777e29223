package auth

import (
	"errors"
	"testing"
	"time"

	"github.com/example/ride-hailing/internal/models"
)

func TestIssueAndVerify(t *testing.T) {
	m := NewManager("secret", time.Hour)
	tok, err := m.Issue("driver-7", models.RoleDriver)
	if err != nil {
		t.Fatalf("issue failed: %v", err)
	}
	id, role, err := m.Verify(tok)
	if err != nil {
		t.Fatalf("verify failed: %v", err)
	}
	if id != "driver-7" || role != models.RoleDriver {
		t.Fatalf("claims mangled: id=%s role=%s", id, role)
	}
}

func TestVerifyRejections(t *testing.T) {
	m := NewManager("secret", time.Hour)

	t.Run("garbage", func(t *testing.T) {
		if _, _, err := m.Verify("not.a.token"); !errors.Is(err, ErrInvalidToken) {
			t.Fatalf("expected ErrInvalidToken, got %v", err)
		}
	})
	t.Run("wrong secret", func(t *testing.T) {
		other := NewManager("other-secret", time.Hour)
		tok, _ := other.Issue("rider-1", models.RoleCustomer)
		if _, _, err := m.Verify(tok); !errors.Is(err, ErrInvalidToken) {
			t.Fatalf("expected ErrInvalidToken, got %v", err)
		}
	})
	t.Run("expired", func(t *testing.T) {
		short := NewManager("secret", -time.Minute)
		tok, _ := short.Issue("rider-1", models.RoleCustomer)
		if _, _, err := m.Verify(tok); !errors.Is(err, ErrInvalidToken) {
			t.Fatalf("expected ErrInvalidToken, got %v", err)
		}
	})
}
