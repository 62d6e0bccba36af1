package wallet

import (
	"errors"
	"fmt"
	"testing"

	"call-ledger/internal/ledger"
	"call-ledger/pkg/utils"

	"github.com/jackc/pgx/v5/pgconn"
)

func TestTranslatePgCodes(t *testing.T) {
	cases := []struct {
		code string
		want error
	}{
		{utils.PgSerializationFailure, ledger.ErrConcurrentModification},
		{utils.PgDeadlockDetected, ledger.ErrConcurrentModification},
		{utils.PgUniqueViolation, ledger.ErrConcurrentModification},
		{utils.PgLockNotAvailable, ErrLockTimeout},
	}
	for _, tc := range cases {
		err := translate(fmt.Errorf("update wallet: %w", &pgconn.PgError{Code: tc.code}))
		if !errors.Is(err, tc.want) {
			t.Fatalf("%s: expected %v, got %v", tc.code, tc.want, err)
		}
		if utils.PgCode(err) != tc.code {
			t.Fatalf("%s: driver error must stay wrapped, got %v", tc.code, err)
		}
	}
}

func TestTranslateLeavesOtherErrors(t *testing.T) {
	if translate(nil) != nil {
		t.Fatalf("nil must stay nil")
	}
	check := &pgconn.PgError{Code: "23514"}
	err := translate(check)
	if errors.Is(err, ledger.ErrConcurrentModification) || errors.Is(err, ErrLockTimeout) {
		t.Fatalf("check violation must not be retried, got %v", err)
	}
	if !errors.Is(err, check) {
		t.Fatalf("expected original error, got %v", err)
	}
}
