package device

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	"growhub-backend/internal/model"
)

var (
	// ErrNotFound is returned for missing or inaccessible devices.
	ErrNotFound = errors.New("device not found")
	// ErrInvalidType is returned for unrecognized device types.
	ErrInvalidType = errors.New("invalid device type")
	// ErrInvalidScope is returned for scopes other than plant or room.
	ErrInvalidScope = errors.New("invalid device scope")
	// ErrScopeLocked is returned when a scope change is attempted on a
	// device that already has assignment history.
	ErrScopeLocked = errors.New("device scope cannot change once assignments exist")
	// ErrBadCredentials is returned when a device presents a wrong api key.
	ErrBadCredentials = errors.New("invalid device credentials")
)

// Service is the device registry.
type Service struct {
	db *gorm.DB
}

// NewService creates a new device registry service.
func NewService(gdb *gorm.DB) *Service {
	return &Service{db: gdb}
}

// RegisterInput holds the caller-settable fields of a new device.
type RegisterInput struct {
	Name       string
	SystemName string // firmware-reported identifier, if the device has one
	Type       string
	Scope      string // empty means "default for the type"
	LocationID *int64
}

// Register creates a device with a fresh external id and api key. Scope
// defaults per type (environmental sensors are room-scoped, everything else
// plant-scoped) unless the caller overrides it.
func (s *Service) Register(ctx context.Context, ownerID int64, in RegisterInput) (*model.Device, error) {
	if !model.ValidDeviceType(in.Type) {
		return nil, ErrInvalidType
	}
	scope := in.Scope
	if scope == "" {
		scope = model.DefaultScope(in.Type)
	}
	if scope != model.ScopePlant && scope != model.ScopeRoom {
		return nil, ErrInvalidScope
	}

	apiKey, err := generateAPIKey()
	if err != nil {
		return nil, err
	}

	dev := model.Device{
		DeviceUID:  uuid.NewString(),
		APIKey:     apiKey,
		Name:       in.Name,
		SystemName: in.SystemName,
		Type:       in.Type,
		Scope:      scope,
		OwnerID:    ownerID,
		LocationID: in.LocationID,
	}
	if err := s.db.WithContext(ctx).Create(&dev).Error; err != nil {
		return nil, fmt.Errorf("register device: %w", err)
	}
	return &dev, nil
}

// Get returns a device by internal id without any access check. Callers
// gate access through the sharing service.
func (s *Service) Get(ctx context.Context, id int64) (*model.Device, error) {
	var dev model.Device
	err := s.db.WithContext(ctx).First(&dev, id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get device: %w", err)
	}
	return &dev, nil
}

// GetByUID returns a device by its external identifier.
func (s *Service) GetByUID(ctx context.Context, deviceUID string) (*model.Device, error) {
	var dev model.Device
	err := s.db.WithContext(ctx).Where("device_uid = ?", deviceUID).First(&dev).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get device: %w", err)
	}
	return &dev, nil
}

// Authenticate resolves a device from the credentials a transport presents.
// A wrong key on an existing device and a missing device look the same.
func (s *Service) Authenticate(ctx context.Context, deviceUID, apiKey string) (*model.Device, error) {
	dev, err := s.GetByUID(ctx, deviceUID)
	if err != nil {
		return nil, err
	}
	if dev.APIKey != apiKey {
		return nil, ErrBadCredentials
	}
	return dev, nil
}

// List returns every device owned by ownerID.
func (s *Service) List(ctx context.Context, ownerID int64) ([]model.Device, error) {
	var devs []model.Device
	if err := s.db.WithContext(ctx).Where("owner_id = ?", ownerID).Order("id").Find(&devs).Error; err != nil {
		return nil, fmt.Errorf("list devices: %w", err)
	}
	return devs, nil
}

// UpdateInput holds the mutable device fields. Scope is included so the
// registry can reject changes once assignment history exists.
type UpdateInput struct {
	Name          *string
	Scope         *string
	LocationID    *int64
	ClearLocation bool
}

// Update applies the given changes to an owned device.
func (s *Service) Update(ctx context.Context, ownerID, id int64, in UpdateInput) (*model.Device, error) {
	var updated *model.Device
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var dev model.Device
		err := tx.Where("id = ? AND owner_id = ?", id, ownerID).First(&dev).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return ErrNotFound
		}
		if err != nil {
			return fmt.Errorf("get device: %w", err)
		}

		if in.Scope != nil && *in.Scope != dev.Scope {
			if *in.Scope != model.ScopePlant && *in.Scope != model.ScopeRoom {
				return ErrInvalidScope
			}
			var count int64
			if err := tx.Model(&model.DeviceAssignment{}).
				Where("device_id = ?", dev.ID).Count(&count).Error; err != nil {
				return fmt.Errorf("count assignments: %w", err)
			}
			if count > 0 {
				return ErrScopeLocked
			}
			dev.Scope = *in.Scope
		}
		if in.Name != nil {
			dev.Name = *in.Name
		}
		if in.ClearLocation {
			dev.LocationID = nil
		} else if in.LocationID != nil {
			dev.LocationID = in.LocationID
		}

		if err := tx.Save(&dev).Error; err != nil {
			return fmt.Errorf("update device: %w", err)
		}
		updated = &dev
		return nil
	})
	if err != nil {
		return nil, err
	}
	return updated, nil
}

// Delete removes an owned device together with its assignments and shares.
func (s *Service) Delete(ctx context.Context, ownerID, id int64) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var dev model.Device
		err := tx.Where("id = ? AND owner_id = ?", id, ownerID).First(&dev).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return ErrNotFound
		}
		if err != nil {
			return fmt.Errorf("get device: %w", err)
		}

		if err := tx.Where("device_id = ?", dev.ID).Delete(&model.DeviceAssignment{}).Error; err != nil {
			return fmt.Errorf("delete assignments: %w", err)
		}
		if err := tx.Where("device_id = ?", dev.ID).Delete(&model.DeviceShare{}).Error; err != nil {
			return fmt.Errorf("delete shares: %w", err)
		}
		if err := tx.Delete(&dev).Error; err != nil {
			return fmt.Errorf("delete device: %w", err)
		}
		return nil
	})
}

// MarkOnline records a device connect and refreshes last-seen.
func (s *Service) MarkOnline(ctx context.Context, deviceID int64) error {
	return s.setOnline(ctx, deviceID, true)
}

// MarkOffline records a device disconnect and refreshes last-seen.
func (s *Service) MarkOffline(ctx context.Context, deviceID int64) error {
	return s.setOnline(ctx, deviceID, false)
}

func (s *Service) setOnline(ctx context.Context, deviceID int64, online bool) error {
	now := time.Now().UTC()
	res := s.db.WithContext(ctx).Model(&model.Device{}).
		Where("id = ?", deviceID).
		Updates(map[string]any{"online": online, "last_seen": now})
	if res.Error != nil {
		return fmt.Errorf("update device online state: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// UpdateCapabilities replaces the stored capability blob verbatim. The
// payload is an opaque contract between the device and its own client.
func (s *Service) UpdateCapabilities(ctx context.Context, deviceID int64, payload datatypes.JSON) error {
	return s.replaceBlob(ctx, deviceID, "capabilities", payload)
}

// UpdateSettings replaces the stored settings blob verbatim.
func (s *Service) UpdateSettings(ctx context.Context, deviceID int64, payload datatypes.JSON) error {
	return s.replaceBlob(ctx, deviceID, "settings", payload)
}

func (s *Service) replaceBlob(ctx context.Context, deviceID int64, column string, payload datatypes.JSON) error {
	res := s.db.WithContext(ctx).Model(&model.Device{}).
		Where("id = ?", deviceID).Update(column, payload)
	if res.Error != nil {
		return fmt.Errorf("update device %s: %w", column, res.Error)
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

func generateAPIKey() (string, error) {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("generate api key: %w", err)
	}
	return hex.EncodeToString(buf), nil
}
