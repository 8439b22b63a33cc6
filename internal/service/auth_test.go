package service

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"strings"
	"testing"
	"time"

	"golang.org/x/crypto/bcrypt"

	"github.com/crossnetg1-dev/cidpos-sub001/internal/domain"
	"github.com/crossnetg1-dev/cidpos-sub001/internal/permission"
	"github.com/crossnetg1-dev/cidpos-sub001/internal/store"
	"github.com/crossnetg1-dev/cidpos-sub001/internal/store/memory"
)

func TestOverlongPasswordsAreRejected(t *testing.T) {
	f := newFixture(t)
	long := strings.Repeat("p", maxPasswordLength+8)

	_, err := f.svc.CreateUser(f.admin, domain.UserCreateRequest{
		Name:     "Long",
		Username: "long",
		Password: long,
		RoleID:   f.roleID(t, permission.CashierRole),
	})
	if !errors.Is(err, store.ErrInvalidInput) {
		t.Fatalf("expected invalid input for %d-byte password, got %v", len(long), err)
	}

	exact := strings.Repeat("p", maxPasswordLength)
	if _, err := f.svc.CreateUser(f.admin, domain.UserCreateRequest{
		Name:     "Exact",
		Username: "exact",
		Password: exact,
		RoleID:   f.roleID(t, permission.CashierRole),
	}); err != nil {
		t.Fatalf("expected a %d-byte password to be accepted, got %v", len(exact), err)
	}

	svc := New(memory.New(), Options{BcryptCost: bcrypt.MinCost, Now: func() time.Time { return testNow }})
	_, err = svc.Bootstrap(context.Background(), domain.SetupRequest{Name: "Owner", Username: "owner", Password: long})
	if !errors.Is(err, store.ErrInvalidInput) {
		t.Fatalf("expected bootstrap to reject the long password, got %v", err)
	}
}

func TestUnknownUsersStillPayForBcrypt(t *testing.T) {
	f := newFixture(t)
	if f.svc.dummyHash != nil {
		t.Fatalf("dummy hash must be built lazily")
	}

	_, err := f.svc.Authenticate(context.Background(), "ghost", "whatever-1")
	if err.Error() != errInvalidCredentials.Error() {
		t.Fatalf("expected generic failure, got %v", err)
	}
	if f.svc.dummyHash == nil {
		t.Fatalf("expected a bcrypt comparison for an unknown user")
	}
	if cost, err := bcrypt.Cost(f.svc.dummyHash); err != nil || cost != bcrypt.MinCost {
		t.Fatalf("dummy hash must use the service cost, got %d (%v)", cost, err)
	}
}

func TestInactiveUsersStillPayForBcrypt(t *testing.T) {
	f := newFixture(t)
	_, cashier := f.cashier(t)
	inactive := false
	if _, err := f.svc.UpdateUser(f.admin, cashier.UserID, domain.UserUpdateRequest{Active: &inactive}); err != nil {
		t.Fatalf("deactivate: %v", err)
	}
	if f.svc.dummyHash != nil {
		t.Fatalf("successful logins must not build the dummy hash")
	}

	if _, err := f.svc.Authenticate(context.Background(), "kasir", "kasir-pass-1"); !errors.Is(err, ErrUnauthenticated) {
		t.Fatalf("expected unauthenticated, got %v", err)
	}
	if f.svc.dummyHash == nil {
		t.Fatalf("expected a bcrypt comparison for an inactive user")
	}
}

func TestAuditFailureIsLoggedOnceUnderAuditComponent(t *testing.T) {
	var buf bytes.Buffer
	svc := New(failingAuditRepo{Store: memory.New()}, Options{
		Logger:     slog.New(slog.NewJSONHandler(&buf, nil)),
		BcryptCost: bcrypt.MinCost,
		Now:        func() time.Time { return testNow },
	})
	if _, err := svc.Bootstrap(context.Background(), domain.SetupRequest{Name: "Owner", Username: "owner", Password: ownerPassword}); err != nil {
		t.Fatalf("bootstrap: %v", err)
	}
	buf.Reset()

	if _, err := svc.Authenticate(context.Background(), "owner", "wrong-password"); !errors.Is(err, ErrUnauthenticated) {
		t.Fatalf("expected unauthenticated, got %v", err)
	}
	line := strings.TrimSpace(buf.String())
	if !strings.Contains(line, "failed to write audit log") {
		t.Fatalf("expected an audit failure line, got %q", line)
	}
	if strings.Count(line, `"component"`) != 1 || !strings.Contains(line, `"component":"audit"`) {
		t.Fatalf("expected exactly one component=audit attribute, got %q", line)
	}
}
