// Package preparations implements the onboarding and replacement workflow.
// An open preparation reserves its linked device; finalizing it resolves the
// target user, closes the old device's assignment for replacements, opens
// the new assignment and completes the request.
package preparations

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/ptessari/devicedesk-go/cmd/api/assignments"
	"github.com/ptessari/devicedesk-go/cmd/api/events"
	"github.com/ptessari/devicedesk-go/cmd/api/metrics"
	"github.com/ptessari/devicedesk-go/internal/store"
)

// ErrNoNewDevice is the validation failure for finalizing a preparation
// with no linked new device. Nothing is mutated when it is returned.
var ErrNoNewDevice = errors.New("preparation has no new device linked")

// Service runs the workflow and its device reservation side effects.
type Service struct {
	st     store.Store
	rdb    *redis.Client
	ledger *assignments.Service
}

func NewService(st store.Store, rdb *redis.Client) *Service {
	return &Service{st: st, rdb: rdb, ledger: assignments.NewService(st, rdb)}
}

// Input carries all editable fields of a preparation. Edits are full field
// replacement, so the same shape serves create and update.
type Input struct {
	RequestType       store.RequestType         `json:"request_type" binding:"required"`
	Status            store.PreparationStatus   `json:"status"`
	Category          store.PreparationCategory `json:"category"`
	SiteID            *int64                    `json:"site_id"`
	Technician        *string                   `json:"technician"`
	NewHireName       *string                   `json:"new_hire_name"`
	NewHireSurname    *string                   `json:"new_hire_surname"`
	EntryDate         *time.Time                `json:"entry_date"`
	NewHireDepartment *string                   `json:"new_hire_department"`
	NewHireContract   store.ContractType        `json:"new_hire_contract"`
	ExistingUserID    *int64                    `json:"existing_user_id"`
	OldDeviceID       *int64                    `json:"old_device_id"`
	ReplacementReason *string                   `json:"replacement_reason"`
	NewDeviceID       *int64                    `json:"new_device_id"`
	HelpdeskTicket    *string                   `json:"helpdesk_ticket"`
	RequestedPCType   *string                   `json:"requested_pc_type"`
	SoftwareNotes     *string                   `json:"software_notes"`
	PlannedAt         *time.Time                `json:"planned_at"`
	MailSent          bool                      `json:"mail_sent"`
	DataInSCSM        bool                      `json:"data_in_scsm"`
	InARS             bool                      `json:"in_ars"`
	DeliverySent      bool                      `json:"delivery_sent"`
}

func (in Input) apply(p store.Preparation) store.Preparation {
	p.RequestType = in.RequestType
	p.Status = in.Status
	if p.Status == "" {
		p.Status = store.PrepAwaitingSpecs
	}
	p.Category = in.Category
	if p.Category == "" {
		p.Category = store.PrepCategoryStandard
	}
	p.SiteID = in.SiteID
	p.Technician = in.Technician
	p.NewHireName = in.NewHireName
	p.NewHireSurname = in.NewHireSurname
	p.EntryDate = in.EntryDate
	p.NewHireDepartment = in.NewHireDepartment
	p.NewHireContract = in.NewHireContract
	p.ExistingUserID = in.ExistingUserID
	p.OldDeviceID = in.OldDeviceID
	p.ReplacementReason = in.ReplacementReason
	p.NewDeviceID = in.NewDeviceID
	p.HelpdeskTicket = in.HelpdeskTicket
	p.RequestedPCType = in.RequestedPCType
	p.SoftwareNotes = in.SoftwareNotes
	p.PlannedAt = in.PlannedAt
	p.MailSent = in.MailSent
	p.DataInSCSM = in.DataInSCSM
	p.InARS = in.InARS
	p.DeliverySent = in.DeliverySent
	return p
}

// reserve fires on every save: an Available linked device becomes Reserved.
// Any other status is left alone, including the device a previous edit
// pointed at.
func (s *Service) reserve(ctx context.Context, p store.Preparation) error {
	if p.NewDeviceID == nil {
		return nil
	}
	d, err := s.st.GetDevice(ctx, *p.NewDeviceID)
	if err != nil {
		return err
	}
	if d.Status != store.StatusAvailable {
		return nil
	}
	if err := s.st.SetDeviceStatus(ctx, d.ID, store.StatusReserved); err != nil {
		return err
	}
	events.DeviceStatusChanged(ctx, s.rdb, d.ID, string(store.StatusReserved))
	return nil
}

// Create inserts a preparation and reserves its device.
func (s *Service) Create(ctx context.Context, in Input) (store.Preparation, error) {
	p, err := s.st.InsertPreparation(ctx, in.apply(store.Preparation{}))
	if err != nil {
		return store.Preparation{}, err
	}
	if err := s.reserve(ctx, p); err != nil {
		return store.Preparation{}, err
	}
	return p, nil
}

// Update replaces all editable fields and runs the reservation side effect
// again for the (possibly new) linked device.
func (s *Service) Update(ctx context.Context, id int64, in Input) (store.Preparation, error) {
	p, err := s.st.GetPreparation(ctx, id)
	if err != nil {
		return store.Preparation{}, err
	}
	p = in.apply(p)
	if err := s.st.UpdatePreparation(ctx, p); err != nil {
		return store.Preparation{}, err
	}
	if err := s.reserve(ctx, p); err != nil {
		return store.Preparation{}, err
	}
	return p, nil
}

// Checklist is a partial update of the four progress flags.
type Checklist struct {
	MailSent     *bool `json:"mail_sent"`
	DataInSCSM   *bool `json:"data_in_scsm"`
	InARS        *bool `json:"in_ars"`
	DeliverySent *bool `json:"delivery_sent"`
}

// UpdateChecklist sets only the flags present in the patch. This is still a
// save of the request, so the reservation hook runs here too.
func (s *Service) UpdateChecklist(ctx context.Context, id int64, in Checklist) (store.Preparation, error) {
	p, err := s.st.GetPreparation(ctx, id)
	if err != nil {
		return store.Preparation{}, err
	}
	if in.MailSent != nil {
		p.MailSent = *in.MailSent
	}
	if in.DataInSCSM != nil {
		p.DataInSCSM = *in.DataInSCSM
	}
	if in.InARS != nil {
		p.InARS = *in.InARS
	}
	if in.DeliverySent != nil {
		p.DeliverySent = *in.DeliverySent
	}
	if err := s.st.UpdatePreparation(ctx, p); err != nil {
		return store.Preparation{}, err
	}
	if err := s.reserve(ctx, p); err != nil {
		return store.Preparation{}, err
	}
	return p, nil
}

// Delete removes a preparation and releases its reservation: a Reserved
// linked device goes back to Available, any other status stays untouched.
func (s *Service) Delete(ctx context.Context, id int64) error {
	p, err := s.st.GetPreparation(ctx, id)
	if err != nil {
		return err
	}
	if err := s.st.DeletePreparation(ctx, id); err != nil {
		return err
	}
	if p.NewDeviceID == nil {
		return nil
	}
	d, err := s.st.GetDevice(ctx, *p.NewDeviceID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil
		}
		return err
	}
	if d.Status != store.StatusReserved {
		return nil
	}
	if err := s.st.SetDeviceStatus(ctx, d.ID, store.StatusAvailable); err != nil {
		return err
	}
	events.DeviceStatusChanged(ctx, s.rdb, d.ID, string(store.StatusAvailable))
	return nil
}

// Finalize completes a preparation: it resolves the target user (creating
// one for new hires), closes the old device's active assignment for
// replacements, opens the new assignment and marks the request Completed.
// There is no rollback: a failure after the user or assignment was created
// leaves those in place and is surfaced to the caller.
func (s *Service) Finalize(ctx context.Context, id int64, technician string) (store.Preparation, error) {
	p, err := s.st.GetPreparation(ctx, id)
	if err != nil {
		return store.Preparation{}, err
	}
	if p.NewDeviceID == nil {
		return store.Preparation{}, ErrNoNewDevice
	}
	p.Technician = &technician
	today := time.Now()

	var user *store.User
	switch p.RequestType {
	case store.RequestNewHire:
		var deptID *int64
		if p.NewHireDepartment != nil {
			if name := strings.TrimSpace(*p.NewHireDepartment); name != "" {
				dept, _, err := s.st.GetOrCreateDepartment(ctx, name)
				if err != nil {
					return store.Preparation{}, err
				}
				deptID = &dept.ID
			}
		}
		name, surname := "", ""
		if p.NewHireName != nil {
			name = *p.NewHireName
		}
		if p.NewHireSurname != nil {
			surname = *p.NewHireSurname
		}
		u, err := s.st.CreateUser(ctx, store.User{
			Name:         name,
			Surname:      surname,
			DepartmentID: deptID,
			ContractType: p.NewHireContract,
			Active:       true,
		})
		if err != nil {
			return store.Preparation{}, err
		}
		user = &u
	case store.RequestReplacement:
		if p.ExistingUserID != nil {
			u, err := s.st.GetUser(ctx, *p.ExistingUserID)
			if err != nil {
				return store.Preparation{}, err
			}
			user = &u
		}
		if p.OldDeviceID != nil {
			active, err := s.st.ActiveAssignmentForDevice(ctx, *p.OldDeviceID)
			switch {
			case err == nil:
				if _, err := s.ledger.Close(ctx, active.ID, today); err != nil {
					return store.Preparation{}, err
				}
			case errors.Is(err, store.ErrNotFound):
				// old device was never handed over, nothing to close
			default:
				return store.Preparation{}, err
			}
		}
	}

	if user != nil {
		asg, err := s.ledger.Open(ctx, *p.NewDeviceID, user.ID, today)
		if err != nil {
			return store.Preparation{}, err
		}
		p.AssignmentID = &asg.ID
	}

	p.Status = store.PrepCompleted
	if err := s.st.UpdatePreparation(ctx, p); err != nil {
		return store.Preparation{}, err
	}
	// The reservation hook runs on this save too; it only matters when no
	// assignment was opened and the device is still sitting Available.
	if err := s.reserve(ctx, p); err != nil {
		return store.Preparation{}, err
	}
	metrics.PreparationsFinalizedTotal.Inc()
	if p.AssignmentID != nil {
		events.PreparationFinalized(ctx, s.rdb, p.ID, *p.AssignmentID)
	}
	return p, nil
}

// Get returns one preparation.
func (s *Service) Get(ctx context.Context, id int64) (store.Preparation, error) {
	return s.st.GetPreparation(ctx, id)
}

// List returns all preparations, newest first.
func (s *Service) List(ctx context.Context) ([]store.Preparation, error) {
	return s.st.ListPreparations(ctx)
}
