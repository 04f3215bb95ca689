package history

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"yieldstake/native/staking"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	dsn, err := FileDSN(filepath.Join(t.TempDir(), "history.db"))
	require.NoError(t, err)
	store, err := Open(DriverSQLite, dsn)
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func TestRecordAndList(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()
	owner := [20]byte{0x01}
	other := [20]byte{0x02}

	receipts := []*staking.Receipt{
		{ID: "s-1", Operation: staking.OpStake, Owner: owner, AmountRaw: 1_000_000_000_000, StakedAfterRaw: 1_000_000_000_000, ConfigVersion: 1, SettledAt: 100},
		{ID: "s-2", Operation: staking.OpHarvest, Owner: owner, RewardRaw: 10_368_000_000, StakedAfterRaw: 1_000_000_000_000, TotalHarvestedRaw: 10_368_000_000, ConfigVersion: 1, SettledAt: 86_500},
		{ID: "s-3", Operation: staking.OpStake, Owner: other, AmountRaw: 5, StakedAfterRaw: 5, ConfigVersion: 1, SettledAt: 200},
		{ID: "s-4", Operation: staking.OpStake, Owner: owner, AmountRaw: 18_446_744_073_709_551_615, ConfigVersion: 1, SettledAt: 90_000},
	}
	for _, receipt := range receipts {
		require.NoError(t, store.Record(ctx, receipt))
	}
	require.NoError(t, store.Record(ctx, receipts[0]), "duplicate record is a no-op")

	list, err := store.ListByOwner(ctx, owner, 0)
	require.NoError(t, err)
	require.Len(t, list, 3)
	require.Equal(t, "s-4", list[0].ID)
	require.Equal(t, uint64(18_446_744_073_709_551_615), list[0].AmountRaw)
	require.Equal(t, "s-2", list[1].ID)
	require.Equal(t, uint64(10_368_000_000), list[1].RewardRaw)
	require.Equal(t, int64(86_500), list[1].SettledAt)
	require.Equal(t, owner, list[1].Owner)
	require.Equal(t, staking.StatusCommitted, list[2].Status)

	limited, err := store.ListByOwner(ctx, owner, 1)
	require.NoError(t, err)
	require.Len(t, limited, 1)

	total, err := store.Count(ctx, "")
	require.NoError(t, err)
	require.Equal(t, int64(4), total)
	stakes, err := store.Count(ctx, staking.OpStake)
	require.NoError(t, err)
	require.Equal(t, int64(3), stakes)
}

func TestOpenValidation(t *testing.T) {
	_, err := Open(DriverSQLite, " ")
	require.ErrorIs(t, err, ErrDSNRequired)
	_, err = Open("mysql", "dsn")
	require.ErrorIs(t, err, ErrUnknownDriver)
	_, err = FileDSN("")
	require.ErrorIs(t, err, ErrDSNRequired)
}

func TestRecordRequiresID(t *testing.T) {
	store := openTestStore(t)
	require.Error(t, store.Record(context.Background(), &staking.Receipt{}))
}

func TestRecordKeepsForfeit(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()
	owner := [20]byte{0x03}
	require.NoError(t, store.Record(ctx, &staking.Receipt{
		ID: "u-1", Operation: staking.OpUnstake, Owner: owner, AmountRaw: 500, ConfigVersion: 1, SettledAt: 10,
		ForfeitedRaw: 42, ForfeitReason: staking.ForfeitRequested,
	}))
	list, err := store.ListByOwner(ctx, owner, 0)
	require.NoError(t, err)
	require.Len(t, list, 1)
	require.Equal(t, uint64(42), list[0].ForfeitedRaw)
	require.Equal(t, staking.ForfeitRequested, list[0].ForfeitReason)
}
