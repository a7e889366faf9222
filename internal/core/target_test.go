package core

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

func scanCondition(name string, degraded bool, reason string) func(dest ...any) error {
	return func(dest ...any) error {
		*(dest[0].(*string)) = name
		*(dest[1].(*bool)) = degraded
		*(dest[2].(*string)) = reason
		return nil
	}
}

func TestTargetService_List_MergesConditions(t *testing.T) {
	db := &mockDB{}
	svc := NewTargetService(db, testTargets())
	ctx := context.Background()

	db.On("Query", ctx, mock.AnythingOfType("string"), mock.Anything).
		Return(newMockRows(scanCondition("web-1", true, "no space left on device")), nil)

	statuses, err := svc.List(ctx)
	require.NoError(t, err)
	require.Len(t, statuses, 1)
	assert.Equal(t, "web-1", statuses[0].Name)
	assert.True(t, statuses[0].Degraded)
	assert.Equal(t, "no space left on device", statuses[0].DegradedReason)
	db.AssertExpectations(t)
}

func TestTargetService_List_NoConditions(t *testing.T) {
	db := &mockDB{}
	svc := NewTargetService(db, testTargets())
	ctx := context.Background()

	db.On("Query", ctx, mock.AnythingOfType("string"), mock.Anything).
		Return(newEmptyMockRows(), nil)

	statuses, err := svc.List(ctx)
	require.NoError(t, err)
	require.Len(t, statuses, 1)
	assert.False(t, statuses[0].Degraded)
	db.AssertExpectations(t)
}

func TestTargetService_GetByName_NotFound(t *testing.T) {
	db := &mockDB{}
	svc := NewTargetService(db, testTargets())

	_, err := svc.GetByName(context.Background(), "nonexistent")
	assert.ErrorIs(t, err, ErrTargetNotFound)
	db.AssertExpectations(t)
}

func TestTargetService_FindByRepository(t *testing.T) {
	db := &mockDB{}
	svc := NewTargetService(db, testTargets())

	target, ok := svc.FindByRepository("github.com/myorg/app")
	require.True(t, ok)
	assert.Equal(t, "web-1", target.Name)

	_, ok = svc.FindByRepository("github.com/other/repo")
	assert.False(t, ok)
}
