package migrations

import (
	"context"
	"errors"
	"regexp"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
)

func TestApplyExecutesAllMigrations(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock new: %v", err)
	}
	defer db.Close()

	names, err := Names()
	if err != nil {
		t.Fatalf("names: %v", err)
	}
	if len(names) != 3 {
		t.Fatalf("expected 3 migrations, got %d", len(names))
	}

	mock.ExpectExec("CREATE TABLE IF NOT EXISTS accounts").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec("CREATE TABLE IF NOT EXISTS referral_edges").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec("CREATE TABLE IF NOT EXISTS user_activity").WillReturnResult(sqlmock.NewResult(0, 0))

	if err := Apply(context.Background(), db); err != nil {
		t.Fatalf("apply migrations: %v", err)
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestApplyStopsOnFirstFailure(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock new: %v", err)
	}
	defer db.Close()

	mock.ExpectExec(".*").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec(".*").WillReturnError(errors.New("relation already locked"))

	if err := Apply(context.Background(), db); err == nil {
		t.Fatal("expected error from second migration")
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestPoolAggregatesUseAmountPrecision(t *testing.T) {
	body, err := files.ReadFile("sql/0002_referrals_dividends.sql")
	if err != nil {
		t.Fatalf("read migration: %v", err)
	}

	for _, column := range []string{"total_equity", "available_amount", "distributed_amount"} {
		pattern := regexp.MustCompile(`(?m)^\s*` + column + `\s+NUMERIC\(20,4\)`)
		if !pattern.Match(body) {
			t.Fatalf("expected dividend_pools.%s to be NUMERIC(20,4)", column)
		}
	}
}
