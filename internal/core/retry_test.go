package core

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/jackc/pgx/v5/pgconn"
)

func TestIsContentionError(t *testing.T) {
	cases := []struct {
		code string
		want bool
	}{
		{"40001", true}, // serialization_failure
		{"40P01", true}, // deadlock_detected
		{"55P03", true}, // lock_not_available
		{"23505", false},
		{"42601", false},
	}
	for _, c := range cases {
		err := fmt.Errorf("exec failed: %w", &pgconn.PgError{Code: c.code})
		if got := isContentionError(err); got != c.want {
			t.Errorf("isContentionError(%s): got %v, want %v", c.code, got, c.want)
		}
	}
	if isContentionError(errors.New("not a pg error")) {
		t.Error("non-pg errors must not count as contention")
	}
}

func TestWithContentionRetry(t *testing.T) {
	ctx := context.Background()
	deadlock := &pgconn.PgError{Code: "40P01"}

	t.Run("succeeds once contention clears", func(t *testing.T) {
		calls := 0
		err := withContentionRetry(ctx, postingRetries, func() error {
			calls++
			if calls < 3 {
				return deadlock
			}
			return nil
		})
		if err != nil {
			t.Fatalf("got %v, want nil", err)
		}
		if calls != 3 {
			t.Errorf("got %d calls, want 3", calls)
		}
	})

	t.Run("exhaustion surfaces ErrConcurrentModification", func(t *testing.T) {
		calls := 0
		err := withContentionRetry(ctx, postingRetries, func() error {
			calls++
			return deadlock
		})
		if !errors.Is(err, ErrConcurrentModification) {
			t.Fatalf("got %v, want ErrConcurrentModification", err)
		}
		if calls != postingRetries {
			t.Errorf("got %d calls, want %d", calls, postingRetries)
		}
	})

	t.Run("other errors pass through without retrying", func(t *testing.T) {
		boom := errors.New("boom")
		calls := 0
		err := withContentionRetry(ctx, postingRetries, func() error {
			calls++
			return boom
		})
		if !errors.Is(err, boom) {
			t.Fatalf("got %v, want the original error", err)
		}
		if calls != 1 {
			t.Errorf("got %d calls, want 1", calls)
		}
	})
}
