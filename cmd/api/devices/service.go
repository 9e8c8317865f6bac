// Package devices implements the device registry: creation (single and
// batch), status changes, deletion and listings. Status transitions driven
// by the ledger and the preparation workflow live in their own packages;
// this one owns the registry invariants.
package devices

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"

	"github.com/ptessari/devicedesk-go/cmd/api/events"
	"github.com/ptessari/devicedesk-go/cmd/api/metrics"
	"github.com/ptessari/devicedesk-go/internal/store"
)

// ErrAssigned is returned when deleting a device that currently holds an
// active assignment.
var ErrAssigned = errors.New("device is assigned")

// Hostname prefixes used by batch creation. The hint picks one; the asset
// tag number completes the hostname.
const (
	hostPrefixNotebook = "IGITMONCL0"
	hostPrefixDesktop  = "IGITMONCD0"
)

// Service provides registry operations.
type Service struct {
	st  store.Store
	rdb *redis.Client
}

// NewService creates a device registry service. rdb may be nil.
func NewService(st store.Store, rdb *redis.Client) *Service {
	return &Service{st: st, rdb: rdb}
}

// CreateInput carries the attributes of a single device creation.
type CreateInput struct {
	Hostname          string               `json:"hostname" binding:"required"`
	AssetTag          *string              `json:"asset_tag"`
	SerialNumber      *string              `json:"serial_number"`
	Category          store.DeviceCategory `json:"category" binding:"required"`
	Brand             string               `json:"brand" binding:"required"`
	Model             string               `json:"model" binding:"required"`
	Status            store.DeviceStatus   `json:"status"`
	PurchaseDate      *time.Time           `json:"purchase_date"`
	AdminPassword     *string              `json:"admin_password"`
	WarehouseLocation *string              `json:"warehouse_location"`
	Notes             *string              `json:"notes"`
}

// Create inserts a device. Status defaults to available. store.ErrConflict
// is returned when hostname, asset tag or serial already exist.
func (s *Service) Create(ctx context.Context, in CreateInput) (store.Device, error) {
	status := in.Status
	if status == "" {
		status = store.StatusAvailable
	}
	d, err := s.st.CreateDevice(ctx, store.Device{
		Hostname:          in.Hostname,
		AssetTag:          in.AssetTag,
		SerialNumber:      in.SerialNumber,
		Category:          in.Category,
		Brand:             in.Brand,
		Model:             in.Model,
		Status:            status,
		PurchaseDate:      in.PurchaseDate,
		AdminPassword:     in.AdminPassword,
		WarehouseLocation: in.WarehouseLocation,
		Notes:             in.Notes,
	})
	if err != nil {
		return store.Device{}, err
	}
	metrics.DevicesCreatedTotal.Inc()
	return d, nil
}

// BatchInput describes a sequential batch of devices sharing brand and
// model. TypeHint selects the hostname prefix ("notebook" or anything
// else, which means a fixed workstation).
type BatchInput struct {
	Category      store.DeviceCategory `json:"category" binding:"required"`
	Brand         string               `json:"brand" binding:"required"`
	Model         string               `json:"model" binding:"required"`
	TypeHint      string               `json:"type_hint" binding:"required"`
	StartAssetTag int                  `json:"start_asset_tag" binding:"required"`
	Count         int                  `json:"count" binding:"required,min=1"`
	PurchaseDate  *time.Time           `json:"purchase_date"`
}

// BatchResult reports what a batch call did.
type BatchResult struct {
	Created []store.Device `json:"created"`
	Skipped []string       `json:"skipped"`
}

// CreateBatch creates Count devices with asset tags StartAssetTag..+Count-1.
// A device whose asset tag already exists is skipped, its generated hostname
// recorded, and the batch continues; the asset tag is the only dedup key
// checked here.
func (s *Service) CreateBatch(ctx context.Context, in BatchInput) (BatchResult, error) {
	prefix := hostPrefixDesktop
	if in.TypeHint == "notebook" {
		prefix = hostPrefixNotebook
	}
	var res BatchResult
	res.Skipped = []string{}
	for i := 0; i < in.Count; i++ {
		tag := strconv.Itoa(in.StartAssetTag + i)
		hostname := prefix + tag
		if _, err := s.st.GetDeviceByAssetTag(ctx, tag); err == nil {
			res.Skipped = append(res.Skipped, hostname)
			continue
		} else if !errors.Is(err, store.ErrNotFound) {
			return res, err
		}
		serial := tag
		d, err := s.st.CreateDevice(ctx, store.Device{
			Hostname:     hostname,
			AssetTag:     &tag,
			SerialNumber: &serial,
			Category:     in.Category,
			Brand:        in.Brand,
			Model:        in.Model,
			Status:       store.StatusAvailable,
			PurchaseDate: in.PurchaseDate,
		})
		if err != nil {
			if errors.Is(err, store.ErrConflict) {
				res.Skipped = append(res.Skipped, hostname)
				continue
			}
			return res, err
		}
		metrics.DevicesCreatedTotal.Inc()
		res.Created = append(res.Created, d)
	}
	return res, nil
}

// Update replaces the editable attributes of a device.
func (s *Service) Update(ctx context.Context, id int64, in CreateInput) (store.Device, error) {
	d, err := s.st.GetDevice(ctx, id)
	if err != nil {
		return store.Device{}, err
	}
	d.Hostname = in.Hostname
	d.AssetTag = in.AssetTag
	d.SerialNumber = in.SerialNumber
	d.Category = in.Category
	d.Brand = in.Brand
	d.Model = in.Model
	if in.Status != "" {
		d.Status = in.Status
	}
	d.PurchaseDate = in.PurchaseDate
	d.AdminPassword = in.AdminPassword
	d.WarehouseLocation = in.WarehouseLocation
	d.Notes = in.Notes
	if err := s.st.UpdateDevice(ctx, d); err != nil {
		return store.Device{}, err
	}
	return d, nil
}

// UpdateStatus mutates the status directly. Used by the manual
// registration and reclamation flows (scrapping included); the ledger and
// the workflow drive their own transitions.
func (s *Service) UpdateStatus(ctx context.Context, id int64, status store.DeviceStatus) error {
	if err := s.st.SetDeviceStatus(ctx, id, status); err != nil {
		return err
	}
	events.DeviceStatusChanged(ctx, s.rdb, id, string(status))
	return nil
}

// Delete removes a device. Refused while the device is assigned.
func (s *Service) Delete(ctx context.Context, id int64) error {
	d, err := s.st.GetDevice(ctx, id)
	if err != nil {
		return err
	}
	if d.Status == store.StatusAssigned {
		return ErrAssigned
	}
	return s.st.DeleteDevice(ctx, id)
}

// DeleteMany removes the given devices, silently leaving assigned ones in
// place. Returns the number actually deleted.
func (s *Service) DeleteMany(ctx context.Context, ids []int64) (int, error) {
	n := 0
	for _, id := range ids {
		err := s.Delete(ctx, id)
		switch {
		case err == nil:
			n++
		case errors.Is(err, ErrAssigned), errors.Is(err, store.ErrNotFound):
			log.Ctx(ctx).Debug().Int64("device_id", id).Err(err).Msg("bulk delete skip")
		default:
			return n, err
		}
	}
	return n, nil
}

// CurrentHolder resolves the user holding the device's active assignment,
// or nil when there is none. Derived from the ledger, never stored.
func (s *Service) CurrentHolder(ctx context.Context, deviceID int64) (*store.User, error) {
	a, err := s.st.ActiveAssignmentForDevice(ctx, deviceID)
	if errors.Is(err, store.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	u, err := s.st.GetUser(ctx, a.UserID)
	if err != nil {
		return nil, fmt.Errorf("holder lookup: %w", err)
	}
	return &u, nil
}

// Get returns one device.
func (s *Service) Get(ctx context.Context, id int64) (store.Device, error) {
	return s.st.GetDevice(ctx, id)
}

// List returns devices matching the filter.
func (s *Service) List(ctx context.Context, f store.DeviceFilter) ([]store.Device, error) {
	return s.st.ListDevices(ctx, f)
}
