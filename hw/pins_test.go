package hw

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestReserveAndRelease(t *testing.T) {
	reg := NewPinRegistry(10, []int{2, 3})

	require.True(t, reg.IsAvailable(5))
	require.NoError(t, reg.Reserve(5, OwnerSensor, "soil-moisture"))
	require.False(t, reg.IsAvailable(5))

	owner, ok := reg.OwnerOf(5)
	require.True(t, ok)
	require.Equal(t, "soil-moisture", owner)

	reg.Release(5)
	require.True(t, reg.IsAvailable(5))
	_, ok = reg.OwnerOf(5)
	require.False(t, ok)
}

func TestReserveConflictLeavesLedgerUntouched(t *testing.T) {
	reg := NewPinRegistry(10, nil)
	require.NoError(t, reg.Reserve(4, OwnerSensor, "light"))

	err := reg.Reserve(4, OwnerSensor, "rain")
	require.ErrorIs(t, err, ErrPinConflict)

	owner, ok := reg.OwnerOf(4)
	require.True(t, ok)
	require.Equal(t, "light", owner)
}

func TestReserveIdempotentForMatchingOwner(t *testing.T) {
	reg := NewPinRegistry(10, nil)
	label := BusOwnerLabel(4)
	require.NoError(t, reg.Reserve(4, OwnerBus, label))
	require.NoError(t, reg.Reserve(4, OwnerBus, label))

	// Same label but different kind is still a conflict.
	err := reg.Reserve(4, OwnerSensor, label)
	require.ErrorIs(t, err, ErrPinConflict)
}

func TestReserveOutOfRange(t *testing.T) {
	reg := NewPinRegistry(10, nil)
	require.Error(t, reg.Reserve(10, OwnerSensor, "x"))
	require.Error(t, reg.Reserve(-1, OwnerSensor, "x"))
	require.False(t, reg.IsAvailable(10))
}

func TestSystemReservation(t *testing.T) {
	reg := NewPinRegistry(40, nil)
	require.NoError(t, reg.Reserve(21, OwnerSystem, "i2c-data"))
	require.True(t, reg.IsReserved(21))
	require.False(t, reg.IsReserved(22))

	err := reg.Reserve(21, OwnerSensor, "light")
	require.ErrorIs(t, err, ErrPinConflict)
}

func TestIsAnalog(t *testing.T) {
	reg := NewPinRegistry(40, []int{32, 33})
	require.True(t, reg.IsAnalog(32))
	require.False(t, reg.IsAnalog(5))
}
