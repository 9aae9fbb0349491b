package repository

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/ph0rque/MakeDealCRM-sub005/internal/pipeline/domain"
)

func TestBuildDealQueryNumbersPlaceholders(t *testing.T) {
	owner := uuid.New()
	query, args := buildDealQuery(DealFilter{
		Stages:        []domain.Stage{domain.StageScreening},
		ExcludeStages: []domain.Stage{domain.StageClosedLost},
		OwnerID:       &owner,
		Limit:         10,
	})

	for _, want := range []string{"stage = ANY($1)", "NOT (stage = ANY($2))", "owner_id = $3", "LIMIT $4"} {
		if !strings.Contains(query, want) {
			t.Fatalf("expected %q in query: %s", want, query)
		}
	}
	if len(args) != 4 {
		t.Fatalf("expected 4 args, got %d", len(args))
	}
}

func TestBuildDealQueryWithoutFilter(t *testing.T) {
	query, args := buildDealQuery(DealFilter{})
	if strings.Contains(query, "WHERE") || len(args) != 0 {
		t.Fatalf("expected unfiltered query, got %s %v", query, args)
	}
}

func TestClassifyMapsDriverErrors(t *testing.T) {
	cases := []struct {
		name string
		err  error
		want error
	}{
		{"no rows", pgx.ErrNoRows, domain.ErrNotFound},
		{"deadline", context.DeadlineExceeded, domain.ErrStoreUnavailable},
		{"serialization", &pgconn.PgError{Code: "40001"}, domain.ErrStoreUnavailable},
		{"connection class", &pgconn.PgError{Code: "08006"}, domain.ErrStoreUnavailable},
		{"unique violation", &pgconn.PgError{Code: "23505"}, domain.ErrAlreadyExists},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := classify("op", tc.err); !errors.Is(got, tc.want) {
				t.Fatalf("expected %v, got %v", tc.want, got)
			}
		})
	}

	if classify("op", nil) != nil {
		t.Fatalf("expected nil for nil error")
	}
	plain := classify("op", errors.New("syntax"))
	if domain.IsStoreUnavailable(plain) {
		t.Fatalf("plain errors must not be retried")
	}
}
