package tokenstore

import (
	"context"
	"errors"
	"testing"
)

func TestEnvStoreLoad(t *testing.T) {
	t.Setenv("AIRVANE_TEST_TOKEN", "  static-token\n")

	store, err := NewEnvStore("AIRVANE_TEST_TOKEN")
	if err != nil {
		t.Fatalf("NewEnvStore: %v", err)
	}
	got, err := store.Load(context.Background())
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if string(got) != "static-token" {
		t.Errorf("Load = %q, want trimmed token", got)
	}
}

func TestEnvStoreUnsetVariable(t *testing.T) {
	if _, err := NewEnvStore("AIRVANE_TEST_TOKEN_UNSET"); err == nil {
		t.Fatal("accepted an unset environment variable")
	}
}

func TestEnvStoreEmptyVariable(t *testing.T) {
	t.Setenv("AIRVANE_TEST_TOKEN", "   ")

	store, err := NewEnvStore("AIRVANE_TEST_TOKEN")
	if err != nil {
		t.Fatalf("NewEnvStore: %v", err)
	}
	if _, err := store.Load(context.Background()); !errors.Is(err, ErrNotFound) {
		t.Fatalf("Load error = %v, want ErrNotFound", err)
	}
}

func TestEnvStoreReadOnly(t *testing.T) {
	t.Setenv("AIRVANE_TEST_TOKEN", "static-token")

	store, err := NewEnvStore("AIRVANE_TEST_TOKEN")
	if err != nil {
		t.Fatalf("NewEnvStore: %v", err)
	}
	if err := store.Save(context.Background(), []byte("x")); err == nil {
		t.Error("Save succeeded on read-only storage")
	}
	if err := store.Clear(context.Background()); err == nil {
		t.Error("Clear succeeded on read-only storage")
	}
}
