// Package assignments is the custody ledger: every interval during which a
// device is held by a user is one assignment row. The ledger owns the
// Assigned and InReclamation transitions of device status.
package assignments

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/ptessari/devicedesk-go/cmd/api/events"
	"github.com/ptessari/devicedesk-go/cmd/api/metrics"
	"github.com/ptessari/devicedesk-go/internal/store"
)

// Service performs ledger operations and their device status side effects.
type Service struct {
	st  store.Store
	rdb *redis.Client
}

func NewService(st store.Store, rdb *redis.Client) *Service {
	return &Service{st: st, rdb: rdb}
}

// Open creates a new active assignment and forces the device to Assigned.
// The ledger does not check for an existing active assignment on the same
// device; callers that care must check first. See TestOpenAllowsOverlap.
func (s *Service) Open(ctx context.Context, deviceID, userID int64, assignedOn time.Time) (store.Assignment, error) {
	if _, err := s.st.GetDevice(ctx, deviceID); err != nil {
		return store.Assignment{}, err
	}
	if _, err := s.st.GetUser(ctx, userID); err != nil {
		return store.Assignment{}, err
	}
	a, err := s.st.InsertAssignment(ctx, store.Assignment{
		DeviceID:   deviceID,
		UserID:     userID,
		AssignedOn: assignedOn,
	})
	if err != nil {
		return store.Assignment{}, err
	}
	if err := s.st.SetDeviceStatus(ctx, deviceID, store.StatusAssigned); err != nil {
		return store.Assignment{}, err
	}
	metrics.AssignmentsOpenedTotal.Inc()
	events.DeviceStatusChanged(ctx, s.rdb, deviceID, string(store.StatusAssigned))
	return a, nil
}

// Close sets the return date and forces the device to InReclamation. Closing
// an already-closed assignment is not an error: the return date is rewritten
// and the device is forced to InReclamation again, even if its status had
// been changed elsewhere in the meantime.
func (s *Service) Close(ctx context.Context, assignmentID int64, returnedOn time.Time) (store.Assignment, error) {
	a, err := s.st.GetAssignment(ctx, assignmentID)
	if err != nil {
		return store.Assignment{}, err
	}
	a.ReturnedOn = &returnedOn
	if err := s.st.UpdateAssignment(ctx, a); err != nil {
		return store.Assignment{}, err
	}
	if err := s.st.SetDeviceStatus(ctx, a.DeviceID, store.StatusInReclamation); err != nil {
		return store.Assignment{}, err
	}
	metrics.AssignmentsClosedTotal.Inc()
	events.DeviceStatusChanged(ctx, s.rdb, a.DeviceID, string(store.StatusInReclamation))
	return a, nil
}

// ReturnResult reports what the return flow did. When the device had no
// active assignment nothing is mutated and Message explains why.
type ReturnResult struct {
	Closed  *store.Assignment `json:"closed,omitempty"`
	Message string            `json:"message,omitempty"`
}

// ReturnDevice is the warehouse return flow: close the device's active
// assignment, record where it was stored and prepend a dated note. A device
// with no active assignment yields a no-op with a message rather than an
// error.
func (s *Service) ReturnDevice(ctx context.Context, deviceID int64, returnedOn time.Time, location, note string) (ReturnResult, error) {
	d, err := s.st.GetDevice(ctx, deviceID)
	if err != nil {
		return ReturnResult{}, err
	}
	active, err := s.st.ActiveAssignmentForDevice(ctx, deviceID)
	if errors.Is(err, store.ErrNotFound) {
		return ReturnResult{Message: "device has no active assignment"}, nil
	}
	if err != nil {
		return ReturnResult{}, err
	}
	closed, err := s.Close(ctx, active.ID, returnedOn)
	if err != nil {
		return ReturnResult{}, err
	}
	if location != "" {
		d.WarehouseLocation = &location
	}
	if note != "" {
		entry := fmt.Sprintf("%s: %s", returnedOn.Format("2006-01-02"), note)
		if d.Notes != nil && *d.Notes != "" {
			entry = entry + "\n" + *d.Notes
		}
		d.Notes = &entry
	}
	d.Status = store.StatusInReclamation
	if err := s.st.UpdateDevice(ctx, d); err != nil {
		return ReturnResult{}, err
	}
	return ReturnResult{Closed: &closed}, nil
}

// HistoryForDevice lists the device's assignments, most recent first.
func (s *Service) HistoryForDevice(ctx context.Context, deviceID int64) ([]store.Assignment, error) {
	return s.st.AssignmentsForDevice(ctx, deviceID)
}

// HistoryForUser lists the user's assignments, most recent first.
func (s *Service) HistoryForUser(ctx context.Context, userID int64) ([]store.Assignment, error) {
	return s.st.AssignmentsForUser(ctx, userID)
}
