package share

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"growhub-backend/internal/db"
	"growhub-backend/internal/model"
)

func newTestDB(t *testing.T) *gorm.DB {
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", t.Name())
	gdb, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	require.NoError(t, err)
	require.NoError(t, db.Migrate(gdb))
	return gdb
}

func seedLocation(t *testing.T, gdb *gorm.DB, ownerID int64) *model.Location {
	loc := model.Location{Name: "Room", OwnerID: ownerID}
	require.NoError(t, gdb.Create(&loc).Error)
	return &loc
}

func seedDevice(t *testing.T, gdb *gorm.DB, ownerID int64) *model.Device {
	dev := model.Device{
		DeviceUID: fmt.Sprintf("uid-%d-%s", ownerID, t.Name()),
		APIKey:    "key",
		Name:      "Sensor",
		Type:      model.DeviceTypeEnvironmental,
		Scope:     model.ScopeRoom,
		OwnerID:   ownerID,
	}
	require.NoError(t, gdb.Create(&dev).Error)
	return &dev
}

func TestIssueGeneratesUniqueCode(t *testing.T) {
	gdb := newTestDB(t)
	svc := NewService(gdb, 12, 0)
	ctx := context.Background()
	loc := seedLocation(t, gdb, 1)

	g1, err := svc.Issue(ctx, 1, IssueInput{Target: TargetLocation, TargetID: loc.ID, Level: PermissionRead})
	require.NoError(t, err)
	assert.Len(t, g1.ShareCode, 12)
	assert.Nil(t, g1.ExpiresAt)
	assert.True(t, g1.IsActive)

	g2, err := svc.Issue(ctx, 1, IssueInput{Target: TargetLocation, TargetID: loc.ID, Level: PermissionWrite})
	require.NoError(t, err)
	assert.NotEqual(t, g1.ShareCode, g2.ShareCode)
}

func TestIssueAppliesDefaultExpiry(t *testing.T) {
	gdb := newTestDB(t)
	svc := NewService(gdb, 12, 30)
	ctx := context.Background()
	loc := seedLocation(t, gdb, 1)

	issued, err := svc.Issue(ctx, 1, IssueInput{Target: TargetLocation, TargetID: loc.ID, Level: PermissionRead})
	require.NoError(t, err)
	require.NotNil(t, issued.ExpiresAt)
	assert.WithinDuration(t, time.Now().UTC().AddDate(0, 0, 30), *issued.ExpiresAt, time.Minute)

	// An explicit TTL beats the configured default.
	ttl := time.Hour
	issued, err = svc.Issue(ctx, 1, IssueInput{Target: TargetLocation, TargetID: loc.ID, Level: PermissionRead, TTL: &ttl})
	require.NoError(t, err)
	require.NotNil(t, issued.ExpiresAt)
	assert.WithinDuration(t, time.Now().UTC().Add(time.Hour), *issued.ExpiresAt, time.Minute)
}

func TestIssueRejectsForeignTarget(t *testing.T) {
	gdb := newTestDB(t)
	svc := NewService(gdb, 12, 0)
	loc := seedLocation(t, gdb, 1)

	_, err := svc.Issue(context.Background(), 2, IssueInput{Target: TargetLocation, TargetID: loc.ID, Level: PermissionRead})
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestIssueRejectsInvalidPermission(t *testing.T) {
	gdb := newTestDB(t)
	svc := NewService(gdb, 12, 0)
	loc := seedLocation(t, gdb, 1)

	_, err := svc.Issue(context.Background(), 1, IssueInput{Target: TargetLocation, TargetID: loc.ID, Level: Permission("root")})
	assert.ErrorIs(t, err, ErrInvalidPermission)
}

func TestRedeemBindsOpenCode(t *testing.T) {
	gdb := newTestDB(t)
	svc := NewService(gdb, 12, 0)
	ctx := context.Background()
	loc := seedLocation(t, gdb, 1)

	issued, err := svc.Issue(ctx, 1, IssueInput{Target: TargetLocation, TargetID: loc.ID, Level: PermissionWrite})
	require.NoError(t, err)

	got, err := svc.Redeem(ctx, issued.ShareCode, 2)
	require.NoError(t, err)
	require.NotNil(t, got.SharedWithUserID)
	assert.Equal(t, int64(2), *got.SharedWithUserID)
	assert.NotNil(t, got.AcceptedAt)

	// Second redemption fails, even by the same user.
	_, err = svc.Redeem(ctx, issued.ShareCode, 2)
	assert.ErrorIs(t, err, ErrAlreadyAccepted)
}

func TestRedeemConcurrentSingleUse(t *testing.T) {
	gdb := newTestDB(t)
	sqlDB, err := gdb.DB()
	require.NoError(t, err)
	// One connection serializes the transactions; sqlite has no row locks.
	sqlDB.SetMaxOpenConns(1)

	svc := NewService(gdb, 12, 0)
	ctx := context.Background()
	loc := seedLocation(t, gdb, 1)

	recipient := int64(2)
	issued, err := svc.Issue(ctx, 1, IssueInput{Target: TargetLocation, TargetID: loc.ID, Level: PermissionWrite, Recipient: &recipient})
	require.NoError(t, err)

	const attempts = 8
	errs := make([]error, attempts)
	var wg sync.WaitGroup
	for i := 0; i < attempts; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = svc.Redeem(ctx, issued.ShareCode, recipient)
		}(i)
	}
	wg.Wait()

	// Exactly one attempt wins; every other one sees the accepted code.
	var won, lost int
	for _, err := range errs {
		switch {
		case err == nil:
			won++
		case errors.Is(err, ErrAlreadyAccepted):
			lost++
		default:
			t.Fatalf("unexpected redeem error: %v", err)
		}
	}
	assert.Equal(t, 1, won)
	assert.Equal(t, attempts-1, lost)
}

func TestRedeemOwnShare(t *testing.T) {
	gdb := newTestDB(t)
	svc := NewService(gdb, 12, 0)
	ctx := context.Background()
	loc := seedLocation(t, gdb, 1)

	issued, err := svc.Issue(ctx, 1, IssueInput{Target: TargetLocation, TargetID: loc.ID, Level: PermissionRead})
	require.NoError(t, err)

	_, err = svc.Redeem(ctx, issued.ShareCode, 1)
	assert.ErrorIs(t, err, ErrOwnShare)
}

func TestRedeemRecipientBound(t *testing.T) {
	gdb := newTestDB(t)
	svc := NewService(gdb, 12, 0)
	ctx := context.Background()
	loc := seedLocation(t, gdb, 1)

	recipient := int64(7)
	issued, err := svc.Issue(ctx, 1, IssueInput{Target: TargetLocation, TargetID: loc.ID, Level: PermissionRead, Recipient: &recipient})
	require.NoError(t, err)

	// A different user must not even learn the code exists.
	_, err = svc.Redeem(ctx, issued.ShareCode, 3)
	assert.ErrorIs(t, err, ErrNotFound)

	got, err := svc.Redeem(ctx, issued.ShareCode, recipient)
	require.NoError(t, err)
	assert.NotNil(t, got.AcceptedAt)
}

func TestRedeemExpired(t *testing.T) {
	gdb := newTestDB(t)
	svc := NewService(gdb, 12, 0)
	ctx := context.Background()
	loc := seedLocation(t, gdb, 1)

	ttl := -time.Hour // already past
	issued, err := svc.Issue(ctx, 1, IssueInput{Target: TargetLocation, TargetID: loc.ID, Level: PermissionRead, TTL: &ttl})
	require.NoError(t, err)

	_, err = svc.Redeem(ctx, issued.ShareCode, 2)
	assert.ErrorIs(t, err, ErrExpired)
}

func TestRedeemRevoked(t *testing.T) {
	gdb := newTestDB(t)
	svc := NewService(gdb, 12, 0)
	ctx := context.Background()
	loc := seedLocation(t, gdb, 1)

	issued, err := svc.Issue(ctx, 1, IssueInput{Target: TargetLocation, TargetID: loc.ID, Level: PermissionRead})
	require.NoError(t, err)
	require.NoError(t, svc.Revoke(ctx, TargetLocation, issued.ID, 1))

	_, err = svc.Redeem(ctx, issued.ShareCode, 2)
	assert.ErrorIs(t, err, ErrRevoked)
}

func TestRedeemDeviceShare(t *testing.T) {
	gdb := newTestDB(t)
	svc := NewService(gdb, 12, 0)
	ctx := context.Background()
	dev := seedDevice(t, gdb, 1)

	issued, err := svc.Issue(ctx, 1, IssueInput{Target: TargetDevice, TargetID: dev.ID, Level: PermissionWrite})
	require.NoError(t, err)

	got, err := svc.Redeem(ctx, issued.ShareCode, 5)
	require.NoError(t, err)
	assert.Equal(t, TargetDevice, got.Target)
	assert.Equal(t, dev.ID, got.TargetID)
}

func TestRevokeIdempotentAndOwnerScoped(t *testing.T) {
	gdb := newTestDB(t)
	svc := NewService(gdb, 12, 0)
	ctx := context.Background()
	loc := seedLocation(t, gdb, 1)

	issued, err := svc.Issue(ctx, 1, IssueInput{Target: TargetLocation, TargetID: loc.ID, Level: PermissionRead})
	require.NoError(t, err)

	// Someone else cannot revoke it.
	assert.ErrorIs(t, svc.Revoke(ctx, TargetLocation, issued.ID, 2), ErrNotFound)

	require.NoError(t, svc.Revoke(ctx, TargetLocation, issued.ID, 1))
	// Revoking again is a no-op, not an error.
	require.NoError(t, svc.Revoke(ctx, TargetLocation, issued.ID, 1))
}

func TestUpdatePermission(t *testing.T) {
	gdb := newTestDB(t)
	svc := NewService(gdb, 12, 0)
	ctx := context.Background()
	loc := seedLocation(t, gdb, 1)

	issued, err := svc.Issue(ctx, 1, IssueInput{Target: TargetLocation, TargetID: loc.ID, Level: PermissionRead})
	require.NoError(t, err)
	_, err = svc.Redeem(ctx, issued.ShareCode, 2)
	require.NoError(t, err)

	ok, err := svc.CheckLocation(ctx, loc.ID, 2, PermissionWrite)
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, svc.UpdatePermission(ctx, TargetLocation, issued.ID, 1, PermissionWrite))

	ok, err = svc.CheckLocation(ctx, loc.ID, 2, PermissionWrite)
	require.NoError(t, err)
	assert.True(t, ok)

	assert.ErrorIs(t, svc.UpdatePermission(ctx, TargetLocation, issued.ID, 1, Permission("root")), ErrInvalidPermission)
	assert.ErrorIs(t, svc.UpdatePermission(ctx, TargetLocation, issued.ID, 9, PermissionRead), ErrNotFound)
}

func TestCheckLocationOrdering(t *testing.T) {
	gdb := newTestDB(t)
	svc := NewService(gdb, 12, 0)
	ctx := context.Background()
	loc := seedLocation(t, gdb, 1)

	issued, err := svc.Issue(ctx, 1, IssueInput{Target: TargetLocation, TargetID: loc.ID, Level: PermissionAdmin})
	require.NoError(t, err)
	_, err = svc.Redeem(ctx, issued.ShareCode, 2)
	require.NoError(t, err)

	// Admin covers every lower level.
	for _, level := range []Permission{PermissionRead, PermissionWrite, PermissionAdmin} {
		ok, err := svc.CheckLocation(ctx, loc.ID, 2, level)
		require.NoError(t, err)
		assert.True(t, ok, "admin share should satisfy %s", level)
	}
}

func TestOwnerIsImplicitAdmin(t *testing.T) {
	gdb := newTestDB(t)
	svc := NewService(gdb, 12, 0)
	ctx := context.Background()
	loc := seedLocation(t, gdb, 1)
	dev := seedDevice(t, gdb, 1)

	ok, err := svc.CheckLocation(ctx, loc.ID, 1, PermissionAdmin)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = svc.CheckDevice(ctx, dev.ID, 1, PermissionAdmin)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestNoParentChildInheritance(t *testing.T) {
	gdb := newTestDB(t)
	svc := NewService(gdb, 12, 0)
	ctx := context.Background()

	parent := model.Location{Name: "Parent", OwnerID: 1}
	require.NoError(t, gdb.Create(&parent).Error)
	child := model.Location{Name: "Child", OwnerID: 1, ParentID: &parent.ID}
	require.NoError(t, gdb.Create(&child).Error)

	issued, err := svc.Issue(ctx, 1, IssueInput{Target: TargetLocation, TargetID: parent.ID, Level: PermissionAdmin})
	require.NoError(t, err)
	_, err = svc.Redeem(ctx, issued.ShareCode, 2)
	require.NoError(t, err)

	// A grant on the parent says nothing about the child.
	ok, err := svc.CheckLocation(ctx, child.ID, 2, PermissionRead)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestUnacceptedShareGrantsNothing(t *testing.T) {
	gdb := newTestDB(t)
	svc := NewService(gdb, 12, 0)
	ctx := context.Background()
	loc := seedLocation(t, gdb, 1)

	recipient := int64(2)
	_, err := svc.Issue(ctx, 1, IssueInput{Target: TargetLocation, TargetID: loc.ID, Level: PermissionWrite, Recipient: &recipient})
	require.NoError(t, err)

	ok, err := svc.CheckLocation(ctx, loc.ID, 2, PermissionRead)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestListForTarget(t *testing.T) {
	gdb := newTestDB(t)
	svc := NewService(gdb, 12, 0)
	ctx := context.Background()
	loc := seedLocation(t, gdb, 1)

	_, err := svc.Issue(ctx, 1, IssueInput{Target: TargetLocation, TargetID: loc.ID, Level: PermissionRead})
	require.NoError(t, err)
	_, err = svc.Issue(ctx, 1, IssueInput{Target: TargetLocation, TargetID: loc.ID, Level: PermissionWrite})
	require.NoError(t, err)

	grants, err := svc.ListForTarget(ctx, TargetLocation, loc.ID, 1)
	require.NoError(t, err)
	assert.Len(t, grants, 2)

	_, err = svc.ListForTarget(ctx, TargetLocation, loc.ID, 2)
	assert.ErrorIs(t, err, ErrNotFound)
}
