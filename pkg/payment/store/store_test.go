// Integration tests for the payment store repositories. Requires a
// live Postgres instance; skipped unless PAYMENT_TEST_DB is set.
package store

import (
	"context"
	"os"
	"testing"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
)

var testClient *Client

func TestMain(m *testing.M) {
	dsn := os.Getenv("PAYMENT_TEST_DB")
	if dsn == "" {
		os.Exit(0)
	}

	var err error
	testClient, err = NewClient(Config{DatabaseURL: dsn})
	if err != nil {
		panic("connect test db: " + err.Error())
	}
	if err := testClient.MigrateUp(context.Background()); err != nil {
		panic("migrate test db: " + err.Error())
	}

	code := m.Run()
	testClient.Close()
	os.Exit(code)
}

func TestLedgerRepository_AppendEntryIsIdempotentOnChangeID(t *testing.T) {
	ctx := context.Background()
	repo := NewLedgerRepository(testClient)
	address := "0xaddr-" + uuid.NewString()

	_, err := repo.AppendEntry(ctx, nil, address, "test_credit", "change-1", decimal.NewFromInt(100))
	require.NoError(t, err)
	_, err = repo.AppendEntry(ctx, nil, address, "test_credit", "change-1", decimal.NewFromInt(100))
	require.NoError(t, err)

	balance, err := repo.Balance(ctx, nil, address)
	require.NoError(t, err)
	require.True(t, balance.Equal(decimal.NewFromInt(100)), "duplicate change id must not double-apply")
}

func TestReservationRepository_CreateIsIdempotentOnDataItemID(t *testing.T) {
	ctx := context.Background()
	repo := NewReservationRepository(testClient)
	dataItemID := "item-" + uuid.NewString()

	first, err := repo.Create(ctx, nil, dataItemID, "grantee-1", decimal.NewFromInt(50), nil)
	require.NoError(t, err)

	second, err := repo.Create(ctx, nil, dataItemID, "grantee-1", decimal.NewFromInt(999), nil)
	require.NoError(t, err)

	require.Equal(t, first.ID, second.ID)
	require.True(t, second.Amount.Equal(decimal.NewFromInt(50)), "repeat create must return the original amount")
}

func TestDelegationRepository_DrawUsageClosesOutAtApprovedLimit(t *testing.T) {
	ctx := context.Background()
	deleg := NewDelegationRepository(testClient)
	grantor, grantee := "grantor-"+uuid.NewString(), "grantee-"+uuid.NewString()

	tx, err := testClient.BeginSerializable(ctx)
	require.NoError(t, err)
	defer tx.Rollback()

	d, err := deleg.Create(ctx, tx, grantor, grantee, decimal.NewFromInt(100), nil)
	require.NoError(t, err)

	require.NoError(t, deleg.DrawUsage(ctx, tx, d.ID, decimal.NewFromInt(100)))

	active, err := deleg.ActiveForGrantee(ctx, tx, grantee)
	require.NoError(t, err)
	require.Empty(t, active, "delegation must move to inactive once fully used")

	require.NoError(t, tx.Commit())
}
