package share

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"math/big"
	"time"

	"gorm.io/gorm"

	"growhub-backend/internal/db"
	"growhub-backend/internal/model"
)

var (
	// ErrNotFound covers both a missing share and one the caller must not
	// learn exists (for example a recipient-bound code for someone else).
	ErrNotFound = errors.New("share not found")
	// ErrExpired is returned when a code is redeemed past its expiry.
	ErrExpired = errors.New("share code has expired")
	// ErrRevoked is returned for revoked or deactivated shares.
	ErrRevoked = errors.New("share has been revoked")
	// ErrAlreadyAccepted guards single-use codes against double redemption.
	ErrAlreadyAccepted = errors.New("share has already been accepted")
	// ErrOwnShare is returned when an owner redeems their own code.
	ErrOwnShare = errors.New("cannot redeem your own share")
	// ErrInvalidPermission is returned for unrecognized permission levels.
	ErrInvalidPermission = errors.New("invalid permission level")
)

// Target names the kind of entity a share grants access to.
type Target string

const (
	TargetLocation Target = "location"
	TargetDevice   Target = "device"
)

const codeCharset = "ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz0123456789"

// Service issues, redeems and checks location and device shares.
type Service struct {
	db                *gorm.DB
	codeLength        int
	defaultExpiryDays int
}

// NewService creates a new sharing service. codeLength is the length of
// generated share codes. defaultExpiryDays bounds the life of shares issued
// without an explicit TTL; zero means such shares never expire.
func NewService(gdb *gorm.DB, codeLength, defaultExpiryDays int) *Service {
	if codeLength <= 0 {
		codeLength = 12
	}
	return &Service{db: gdb, codeLength: codeLength, defaultExpiryDays: defaultExpiryDays}
}

// IssueInput holds the caller-settable fields of a new share.
type IssueInput struct {
	Target    Target
	TargetID  int64
	Level     Permission
	TTL       *time.Duration // nil falls back to the configured default expiry
	Recipient *int64         // nil means anyone with the code may redeem it
}

// Issue creates a share on a target the owner controls and returns it with
// a freshly generated, globally unique code.
func (s *Service) Issue(ctx context.Context, ownerID int64, in IssueInput) (*Grant, error) {
	if !in.Level.Valid() {
		return nil, ErrInvalidPermission
	}
	if err := s.verifyTargetOwner(ctx, in.Target, in.TargetID, ownerID); err != nil {
		return nil, err
	}

	code, err := s.generateCode(ctx)
	if err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	var expiresAt *time.Time
	switch {
	case in.TTL != nil:
		t := now.Add(*in.TTL)
		expiresAt = &t
	case s.defaultExpiryDays > 0:
		t := now.AddDate(0, 0, s.defaultExpiryDays)
		expiresAt = &t
	}

	switch in.Target {
	case TargetLocation:
		rec := model.LocationShare{
			LocationID:       in.TargetID,
			OwnerID:          ownerID,
			SharedWithUserID: in.Recipient,
			ShareCode:        code,
			PermissionLevel:  string(in.Level),
			CreatedAt:        now,
			ExpiresAt:        expiresAt,
			IsActive:         true,
		}
		if err := s.db.WithContext(ctx).Create(&rec).Error; err != nil {
			return nil, fmt.Errorf("create location share: %w", err)
		}
		return grantFromLocationShare(&rec), nil
	case TargetDevice:
		rec := model.DeviceShare{
			DeviceID:         in.TargetID,
			OwnerID:          ownerID,
			SharedWithUserID: in.Recipient,
			ShareCode:        code,
			PermissionLevel:  string(in.Level),
			CreatedAt:        now,
			ExpiresAt:        expiresAt,
			IsActive:         true,
		}
		if err := s.db.WithContext(ctx).Create(&rec).Error; err != nil {
			return nil, fmt.Errorf("create device share: %w", err)
		}
		return grantFromDeviceShare(&rec), nil
	}
	return nil, fmt.Errorf("unknown share target %q", in.Target)
}

// Grant is the target-agnostic view of a share record.
type Grant struct {
	ID               int64      `json:"id"`
	Target           Target     `json:"target"`
	TargetID         int64      `json:"target_id"`
	OwnerID          int64      `json:"owner_id"`
	SharedWithUserID *int64     `json:"shared_with_user_id,omitempty"`
	ShareCode        string     `json:"share_code"`
	Level            Permission `json:"permission_level"`
	CreatedAt        time.Time  `json:"created_at"`
	ExpiresAt        *time.Time `json:"expires_at,omitempty"`
	AcceptedAt       *time.Time `json:"accepted_at,omitempty"`
	RevokedAt        *time.Time `json:"revoked_at,omitempty"`
	IsActive         bool       `json:"is_active"`
}

func grantFromLocationShare(r *model.LocationShare) *Grant {
	return &Grant{
		ID: r.ID, Target: TargetLocation, TargetID: r.LocationID,
		OwnerID: r.OwnerID, SharedWithUserID: r.SharedWithUserID,
		ShareCode: r.ShareCode, Level: Permission(r.PermissionLevel),
		CreatedAt: r.CreatedAt, ExpiresAt: r.ExpiresAt,
		AcceptedAt: r.AcceptedAt, RevokedAt: r.RevokedAt, IsActive: r.IsActive,
	}
}

func grantFromDeviceShare(r *model.DeviceShare) *Grant {
	return &Grant{
		ID: r.ID, Target: TargetDevice, TargetID: r.DeviceID,
		OwnerID: r.OwnerID, SharedWithUserID: r.SharedWithUserID,
		ShareCode: r.ShareCode, Level: Permission(r.PermissionLevel),
		CreatedAt: r.CreatedAt, ExpiresAt: r.ExpiresAt,
		AcceptedAt: r.AcceptedAt, RevokedAt: r.RevokedAt, IsActive: r.IsActive,
	}
}

// Redeem accepts a share code on behalf of userID. The check-then-accept
// sequence runs under a row lock so that concurrent attempts on a single-use
// code produce exactly one success.
func (s *Service) Redeem(ctx context.Context, code string, userID int64) (*Grant, error) {
	var grant *Grant
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var locShare model.LocationShare
		err := db.LockForUpdate(tx.WithContext(ctx)).Where("share_code = ?", code).First(&locShare).Error
		if err == nil {
			if err := validateRedeem(grantFromLocationShare(&locShare), userID, time.Now().UTC()); err != nil {
				return err
			}
			now := time.Now().UTC()
			locShare.AcceptedAt = &now
			if locShare.SharedWithUserID == nil {
				locShare.SharedWithUserID = &userID
			}
			if err := tx.Save(&locShare).Error; err != nil {
				return fmt.Errorf("accept location share: %w", err)
			}
			grant = grantFromLocationShare(&locShare)
			return nil
		}
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			return fmt.Errorf("find location share: %w", err)
		}

		var devShare model.DeviceShare
		err = db.LockForUpdate(tx.WithContext(ctx)).Where("share_code = ?", code).First(&devShare).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return ErrNotFound
		}
		if err != nil {
			return fmt.Errorf("find device share: %w", err)
		}
		if err := validateRedeem(grantFromDeviceShare(&devShare), userID, time.Now().UTC()); err != nil {
			return err
		}
		now := time.Now().UTC()
		devShare.AcceptedAt = &now
		if devShare.SharedWithUserID == nil {
			devShare.SharedWithUserID = &userID
		}
		if err := tx.Save(&devShare).Error; err != nil {
			return fmt.Errorf("accept device share: %w", err)
		}
		grant = grantFromDeviceShare(&devShare)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return grant, nil
}

// validateRedeem applies the redemption guards in precedence order. Revoked
// and expired shares stay dead no matter what the active flag says.
func validateRedeem(g *Grant, userID int64, now time.Time) error {
	if g.RevokedAt != nil || !g.IsActive {
		return ErrRevoked
	}
	if g.ExpiresAt != nil && now.After(*g.ExpiresAt) {
		return ErrExpired
	}
	if g.OwnerID == userID {
		return ErrOwnShare
	}
	if g.SharedWithUserID != nil && *g.SharedWithUserID != userID {
		// A code bound to someone else must not reveal that it exists.
		return ErrNotFound
	}
	if g.AcceptedAt != nil {
		return ErrAlreadyAccepted
	}
	return nil
}

// Revoke marks a share dead. Revoking an already-revoked share is a no-op.
func (s *Service) Revoke(ctx context.Context, target Target, shareID, ownerID int64) error {
	now := time.Now().UTC()
	var res *gorm.DB
	switch target {
	case TargetLocation:
		res = s.db.WithContext(ctx).Model(&model.LocationShare{}).
			Where("id = ? AND owner_id = ? AND revoked_at IS NULL", shareID, ownerID).
			Updates(map[string]any{"revoked_at": now, "is_active": false})
	case TargetDevice:
		res = s.db.WithContext(ctx).Model(&model.DeviceShare{}).
			Where("id = ? AND owner_id = ? AND revoked_at IS NULL", shareID, ownerID).
			Updates(map[string]any{"revoked_at": now, "is_active": false})
	default:
		return fmt.Errorf("unknown share target %q", target)
	}
	if res.Error != nil {
		return fmt.Errorf("revoke share: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		// Distinguish "not yours" from "already revoked": only the former
		// is an error.
		exists, err := s.shareExists(ctx, target, shareID, ownerID)
		if err != nil {
			return err
		}
		if !exists {
			return ErrNotFound
		}
	}
	return nil
}

// UpdatePermission changes the level on an existing share.
func (s *Service) UpdatePermission(ctx context.Context, target Target, shareID, ownerID int64, level Permission) error {
	if !level.Valid() {
		return ErrInvalidPermission
	}
	var res *gorm.DB
	switch target {
	case TargetLocation:
		res = s.db.WithContext(ctx).Model(&model.LocationShare{}).
			Where("id = ? AND owner_id = ?", shareID, ownerID).
			Update("permission_level", string(level))
	case TargetDevice:
		res = s.db.WithContext(ctx).Model(&model.DeviceShare{}).
			Where("id = ? AND owner_id = ?", shareID, ownerID).
			Update("permission_level", string(level))
	default:
		return fmt.Errorf("unknown share target %q", target)
	}
	if res.Error != nil {
		return fmt.Errorf("update share permission: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// CheckLocation reports whether userID holds at least the required level on
// a location. Ownership grants admin implicitly. Shares are checked for that
// exact location only; grants never flow from parents to children.
func (s *Service) CheckLocation(ctx context.Context, locationID, userID int64, required Permission) (bool, error) {
	var count int64
	err := s.db.WithContext(ctx).Model(&model.Location{}).
		Where("id = ? AND owner_id = ?", locationID, userID).Count(&count).Error
	if err != nil {
		return false, fmt.Errorf("check location owner: %w", err)
	}
	if count > 0 {
		return true, nil
	}

	var levels []string
	err = s.db.WithContext(ctx).Model(&model.LocationShare{}).
		Where("location_id = ? AND shared_with_user_id = ? AND is_active = ? AND revoked_at IS NULL AND accepted_at IS NOT NULL", locationID, userID, true).
		Where("expires_at IS NULL OR expires_at > ?", time.Now().UTC()).
		Pluck("permission_level", &levels).Error
	if err != nil {
		return false, fmt.Errorf("check location shares: %w", err)
	}
	return holdsLevel(levels, required), nil
}

// CheckDevice is the device counterpart of CheckLocation.
func (s *Service) CheckDevice(ctx context.Context, deviceID, userID int64, required Permission) (bool, error) {
	var count int64
	err := s.db.WithContext(ctx).Model(&model.Device{}).
		Where("id = ? AND owner_id = ?", deviceID, userID).Count(&count).Error
	if err != nil {
		return false, fmt.Errorf("check device owner: %w", err)
	}
	if count > 0 {
		return true, nil
	}

	var levels []string
	err = s.db.WithContext(ctx).Model(&model.DeviceShare{}).
		Where("device_id = ? AND shared_with_user_id = ? AND is_active = ? AND revoked_at IS NULL AND accepted_at IS NOT NULL", deviceID, userID, true).
		Where("expires_at IS NULL OR expires_at > ?", time.Now().UTC()).
		Pluck("permission_level", &levels).Error
	if err != nil {
		return false, fmt.Errorf("check device shares: %w", err)
	}
	return holdsLevel(levels, required), nil
}

// ListForTarget returns every share the owner has issued for one target.
func (s *Service) ListForTarget(ctx context.Context, target Target, targetID, ownerID int64) ([]Grant, error) {
	if err := s.verifyTargetOwner(ctx, target, targetID, ownerID); err != nil {
		return nil, err
	}

	var grants []Grant
	switch target {
	case TargetLocation:
		var recs []model.LocationShare
		if err := s.db.WithContext(ctx).Where("location_id = ?", targetID).Order("id").Find(&recs).Error; err != nil {
			return nil, fmt.Errorf("list location shares: %w", err)
		}
		for i := range recs {
			grants = append(grants, *grantFromLocationShare(&recs[i]))
		}
	case TargetDevice:
		var recs []model.DeviceShare
		if err := s.db.WithContext(ctx).Where("device_id = ?", targetID).Order("id").Find(&recs).Error; err != nil {
			return nil, fmt.Errorf("list device shares: %w", err)
		}
		for i := range recs {
			grants = append(grants, *grantFromDeviceShare(&recs[i]))
		}
	}
	return grants, nil
}

func holdsLevel(levels []string, required Permission) bool {
	best := 0
	for _, l := range levels {
		if r, ok := permissionRank[Permission(l)]; ok && r > best {
			best = r
		}
	}
	return best >= permissionRank[required]
}

func (s *Service) verifyTargetOwner(ctx context.Context, target Target, targetID, ownerID int64) error {
	var count int64
	var err error
	switch target {
	case TargetLocation:
		err = s.db.WithContext(ctx).Model(&model.Location{}).
			Where("id = ? AND owner_id = ?", targetID, ownerID).Count(&count).Error
	case TargetDevice:
		err = s.db.WithContext(ctx).Model(&model.Device{}).
			Where("id = ? AND owner_id = ?", targetID, ownerID).Count(&count).Error
	default:
		return fmt.Errorf("unknown share target %q", target)
	}
	if err != nil {
		return fmt.Errorf("verify share target: %w", err)
	}
	if count == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *Service) shareExists(ctx context.Context, target Target, shareID, ownerID int64) (bool, error) {
	var count int64
	var err error
	switch target {
	case TargetLocation:
		err = s.db.WithContext(ctx).Model(&model.LocationShare{}).
			Where("id = ? AND owner_id = ?", shareID, ownerID).Count(&count).Error
	case TargetDevice:
		err = s.db.WithContext(ctx).Model(&model.DeviceShare{}).
			Where("id = ? AND owner_id = ?", shareID, ownerID).Count(&count).Error
	}
	if err != nil {
		return false, fmt.Errorf("find share: %w", err)
	}
	return count > 0, nil
}

// generateCode draws a fixed-length random code and retries until it is
// unused in both share tables.
func (s *Service) generateCode(ctx context.Context) (string, error) {
	for {
		buf := make([]byte, s.codeLength)
		for i := range buf {
			n, err := rand.Int(rand.Reader, big.NewInt(int64(len(codeCharset))))
			if err != nil {
				return "", fmt.Errorf("generate share code: %w", err)
			}
			buf[i] = codeCharset[n.Int64()]
		}
		code := string(buf)

		var count int64
		if err := s.db.WithContext(ctx).Model(&model.LocationShare{}).
			Where("share_code = ?", code).Count(&count).Error; err != nil {
			return "", fmt.Errorf("check share code: %w", err)
		}
		if count == 0 {
			if err := s.db.WithContext(ctx).Model(&model.DeviceShare{}).
				Where("share_code = ?", code).Count(&count).Error; err != nil {
				return "", fmt.Errorf("check share code: %w", err)
			}
		}
		if count == 0 {
			return code, nil
		}
	}
}
