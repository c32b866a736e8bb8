// ABOUTME: Unit tests for authentication context functions
// ABOUTME: Tests IsStudent and context propagation helpers

package auth

import (
	"context"
	"testing"

	"github.com/2389/lectern/internal/store"
)

func TestAuthContext_IsStudent(t *testing.T) {
	if !(&AuthContext{Role: store.RoleStudent}).IsStudent() {
		t.Error("student should be a student")
	}
	if (&AuthContext{Role: store.RoleEducator}).IsStudent() {
		t.Error("educator should not be a student")
	}
}

func TestWithAuth_FromContext(t *testing.T) {
	ctx := context.Background()

	if got := FromContext(ctx); got != nil {
		t.Errorf("FromContext() on empty context = %v, want nil", got)
	}

	want := &AuthContext{UserID: "user-1", Email: "u@example.com", Role: store.RoleStudent}
	ctx = WithAuth(ctx, want)

	if got := FromContext(ctx); got != want {
		t.Errorf("FromContext() = %v, want %v", got, want)
	}
}

func TestMustFromContext_Panics(t *testing.T) {
	defer func() {
		if recover() == nil {
			t.Error("MustFromContext() should panic without auth")
		}
	}()
	MustFromContext(context.Background())
}
