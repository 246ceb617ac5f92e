package postgres

import (
	"database/sql"
	"errors"
	"fmt"
	"testing"

	"github.com/jackc/pgx/v5/pgconn"

	"marketplace/backend/internal/store"
)

func TestTranslateError(t *testing.T) {
	other := errors.New("boom")

	tests := []struct {
		name string
		in   error
		want error
	}{
		{name: "nil", in: nil, want: nil},
		{name: "no rows", in: sql.ErrNoRows, want: store.ErrNotFound},
		{name: "wrapped no rows", in: fmt.Errorf("scan: %w", sql.ErrNoRows), want: store.ErrNotFound},
		{name: "booking exclusion", in: &pgconn.PgError{Code: "23P01", ConstraintName: "bookings_no_overlap"}, want: store.ErrConflict},
		{name: "window exclusion", in: &pgconn.PgError{Code: "23P01", ConstraintName: "availability_windows_no_overlap"}, want: store.ErrConflict},
		{name: "unique", in: &pgconn.PgError{Code: "23505", ConstraintName: "bookings_pkey"}, want: store.ErrConflict},
		{name: "other constraint", in: &pgconn.PgError{Code: "23P01", ConstraintName: "something_else"}},
		{name: "foreign key", in: &pgconn.PgError{Code: "23503"}},
		{name: "plain error", in: other, want: other},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := translateError(tt.in)
			if tt.want == nil && tt.in != nil {
				if got != tt.in {
					t.Fatalf("translateError = %v, want passthrough", got)
				}
				return
			}
			if !errors.Is(got, tt.want) && got != tt.want {
				t.Fatalf("translateError = %v, want %v", got, tt.want)
			}
		})
	}
}
