// ABOUTME: Tests for AuthContext propagation through context.Context
// ABOUTME: Verifies WithAuth/FromContext round trips and the anonymous case

package auth

import (
	"context"
	"testing"
)

func TestFromContext_Missing(t *testing.T) {
	if got := FromContext(context.Background()); got != nil {
		t.Errorf("FromContext() = %v, want nil", got)
	}
	if got := PrincipalID(context.Background()); got != "" {
		t.Errorf("PrincipalID() = %q, want empty", got)
	}
}

func TestWithAuth(t *testing.T) {
	ctx := WithAuth(context.Background(), &AuthContext{PrincipalID: "ops"})

	got := FromContext(ctx)
	if got == nil || got.PrincipalID != "ops" {
		t.Fatalf("FromContext() = %v, want principal ops", got)
	}
	if PrincipalID(ctx) != "ops" {
		t.Errorf("PrincipalID() = %q, want ops", PrincipalID(ctx))
	}
}

func TestFromContext_WrongType(t *testing.T) {
	ctx := context.WithValue(context.Background(), authContextKey{}, "not an AuthContext")
	if got := FromContext(ctx); got != nil {
		t.Errorf("FromContext() = %v, want nil", got)
	}
}
