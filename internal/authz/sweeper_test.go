package authz

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func seedAssignment(store *memStore, subjectID int64, endsAt *time.Time) Assignment {
	a := Assignment{
		ID:        uuid.New(),
		SubjectID: subjectID,
		RoleID:    2,
		Scope:     TenantScope(tenantOne),
		EndsAt:    endsAt,
		IsActive:  true,
		GrantedBy: adminActor,
		GrantedAt: baseTime.Add(-24 * time.Hour),
	}
	store.assignments[a.ID] = &a
	return a
}

func TestSweeperExpiresExactlyTheDueSet(t *testing.T) {
	store := seedStore()
	now := baseTime

	past := now.Add(-time.Hour)
	boundary := now
	future := now.Add(time.Hour)
	due := seedAssignment(store, subjectAna, &past)
	atBoundary := seedAssignment(store, subjectAna, &boundary)
	notDue := seedAssignment(store, subjectBram, &future)
	openEnded := seedAssignment(store, subjectBram, nil)

	sweeper := NewSweeper(store, NopCache{}, nil, nil)
	report, err := sweeper.ExpireDue(context.Background(), now)
	require.NoError(t, err)
	assert.Equal(t, 1, report.Expired)
	assert.Empty(t, report.Failures)

	expired, err := store.GetAssignment(context.Background(), due.ID)
	require.NoError(t, err)
	assert.False(t, expired.IsActive)
	assert.Equal(t, RevokeReasonExpired, expired.RevokeReason)
	require.NotNil(t, expired.RevokedAt)
	assert.Equal(t, now, *expired.RevokedAt)
	assert.Contains(t, store.auditActions(), "expire:"+due.ID.String())

	// ends_at == now is not yet due, same as the open-ended and future rows.
	for _, id := range []uuid.UUID{atBoundary.ID, notDue.ID, openEnded.ID} {
		got, err := store.GetAssignment(context.Background(), id)
		require.NoError(t, err)
		assert.True(t, got.IsActive)
	}
}

func TestSweeperIsIdempotent(t *testing.T) {
	store := seedStore()
	now := baseTime
	past := now.Add(-time.Minute)
	due := seedAssignment(store, subjectAna, &past)

	sweeper := NewSweeper(store, NopCache{}, nil, nil)
	report, err := sweeper.ExpireDue(context.Background(), now)
	require.NoError(t, err)
	require.Equal(t, 1, report.Expired)

	report, err = sweeper.ExpireDue(context.Background(), now)
	require.NoError(t, err)
	assert.Zero(t, report.Expired)
	assert.Empty(t, report.Failures)

	// Exactly one audit event for the record across both runs.
	count := 0
	for _, entry := range store.auditActions() {
		if entry == "expire:"+due.ID.String() {
			count++
		}
	}
	assert.Equal(t, 1, count)
}

func TestSweeperIsolatesFailingRecords(t *testing.T) {
	store := seedStore()
	now := baseTime
	past := now.Add(-time.Minute)
	bad := seedAssignment(store, subjectAna, &past)
	good := seedAssignment(store, subjectBram, &past)
	store.expireErr[bad.ID] = errors.New("deadlock detected")

	sweeper := NewSweeper(store, NopCache{}, nil, nil)
	report, err := sweeper.ExpireDue(context.Background(), now)
	require.NoError(t, err)
	assert.Equal(t, 1, report.Expired)
	require.Len(t, report.Failures, 1)
	assert.Equal(t, bad.ID, report.Failures[0].AssignmentID)

	got, err := store.GetAssignment(context.Background(), good.ID)
	require.NoError(t, err)
	assert.False(t, got.IsActive)

	// The failed record stays due for the next run.
	delete(store.expireErr, bad.ID)
	report, err = sweeper.ExpireDue(context.Background(), now)
	require.NoError(t, err)
	assert.Equal(t, 1, report.Expired)
	assert.Empty(t, report.Failures)
}

func TestSweeperDrainsAcrossBatches(t *testing.T) {
	store := seedStore()
	now := baseTime
	for i := 0; i < 7; i++ {
		past := now.Add(-time.Duration(i+1) * time.Minute)
		seedAssignment(store, subjectAna, &past)
	}

	sweeper := NewSweeper(store, NopCache{}, nil, nil)
	sweeper.batchSize = 3
	report, err := sweeper.ExpireDue(context.Background(), now)
	require.NoError(t, err)
	assert.Equal(t, 7, report.Expired)

	due, err := store.ListDueAssignments(context.Background(), now, 100)
	require.NoError(t, err)
	assert.Empty(t, due)
}

func TestSweeperTerminatesWhenEveryDueRecordFails(t *testing.T) {
	store := seedStore()
	now := baseTime
	for i := 0; i < 4; i++ {
		past := now.Add(-time.Duration(i+1) * time.Minute)
		a := seedAssignment(store, subjectAna, &past)
		store.expireErr[a.ID] = fmt.Errorf("record %d unavailable", i)
	}

	sweeper := NewSweeper(store, NopCache{}, nil, nil)
	sweeper.batchSize = 2
	report, err := sweeper.ExpireDue(context.Background(), now)
	require.NoError(t, err)
	assert.Zero(t, report.Expired)
	assert.Len(t, report.Failures, 4)
}

func TestSweeperHonoursCancellation(t *testing.T) {
	store := seedStore()
	now := baseTime
	past := now.Add(-time.Minute)
	seedAssignment(store, subjectAna, &past)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	sweeper := NewSweeper(store, NopCache{}, nil, nil)
	report, err := sweeper.ExpireDue(ctx, now)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Zero(t, report.Expired)

	// Nothing was half-processed.
	due, err := store.ListDueAssignments(context.Background(), now, 100)
	require.NoError(t, err)
	assert.Len(t, due, 1)
}

func TestSweeperInvalidatesSubjectCache(t *testing.T) {
	store := seedStore()
	now := baseTime
	past := now.Add(-time.Minute)
	due := seedAssignment(store, subjectAna, &past)

	cache := NewMemoryCache(time.Hour)
	key := CacheKey{SubjectID: subjectAna, Scope: TenantScope(tenantOne)}
	require.NoError(t, cache.Set(context.Background(), key, Snapshot{
		Roles: []SnapshotRole{{Name: "project_member", Permissions: []string{PermRequirementsView}}},
	}))

	sweeper := NewSweeper(store, cache, nil, nil)
	report, err := sweeper.ExpireDue(context.Background(), now)
	require.NoError(t, err)
	require.Equal(t, 1, report.Expired)

	cached, err := cache.Get(context.Background(), key)
	require.NoError(t, err)
	assert.Nil(t, cached, "snapshot for %s must be flushed", due.ID)
}
