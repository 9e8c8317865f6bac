package imports

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/ptessari/devicedesk-go/internal/store"
)

var validPrepCategories = map[store.PreparationCategory]bool{
	store.PrepCategoryStandard:     true,
	store.PrepCategoryIntern:       true,
	store.PrepCategoryTemp:         true,
	store.PrepCategoryPriority:     true,
	store.PrepCategoryReassignment: true,
	store.PrepCategoryExtra:        true,
}

// ImportHistory loads the historical spreadsheet: each row yields a device,
// a user, a completed preparation and the assignment linking them. Dates
// are dd/mm/yyyy.
func (s *Service) ImportHistory(ctx context.Context, r io.Reader) (Result, error) {
	rows, err := newCSVRows(r)
	if err != nil {
		return Result{}, err
	}
	res := Result{Skipped: []string{}, Errors: []string{}}
	for line := 2; ; line++ {
		rec, err := rows.next()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			res.Errors = append(res.Errors, fmt.Sprintf("line %d: %v", line, err))
			continue
		}
		res.Rows++
		if err := s.importHistoryRow(ctx, rows, rec, &res); err != nil {
			log.Ctx(ctx).Warn().Int("line", line).Err(err).Msg("history import row failed")
			res.Errors = append(res.Errors, fmt.Sprintf("line %d: %v", line, err))
		}
	}
	return res, nil
}

func (s *Service) importHistoryRow(ctx context.Context, rows *csvRows, rec []string, res *Result) error {
	hostname := rows.get(rec, "Hostname")
	if hostname == "" {
		return nil
	}
	if _, err := s.st.GetDeviceByHostname(ctx, hostname); err == nil {
		res.Skipped = append(res.Skipped, hostname+" (hostname)")
		return nil
	} else if !errors.Is(err, store.ErrNotFound) {
		return err
	}

	defaults := store.User{ContractType: store.ContractInternal, Active: true}
	if deptName := rows.get(rec, "Department"); deptName != "" {
		dp, _, err := s.st.GetOrCreateDepartment(ctx, deptName)
		if err != nil {
			return err
		}
		defaults.DepartmentID = &dp.ID
	}
	u, _, err := s.st.GetOrCreateUser(ctx, rows.get(rec, "Name"), rows.get(rec, "Surname"), defaults)
	if err != nil {
		return err
	}

	var purchase *time.Time
	if raw := rows.get(rec, "Arrival Date"); raw != "" {
		if t, err := time.Parse("2/1/2006", raw); err == nil {
			purchase = &t
		}
	}

	category := store.CategoryOffice
	if isCADModel(rows.get(rec, "Model"), []string{"zbook", "fury", "z2", "z16"}) {
		category = store.CategoryCAD
	}

	tag := nullable(rows.get(rec, "Asset Tag"))
	serial := hostname
	if tag != nil {
		serial = *tag
	}
	var adminPassword *string
	if pw := rows.get(rec, "Admin Password"); pw != "" {
		adminPassword = &pw
	}
	d, err := s.st.CreateDevice(ctx, store.Device{
		Hostname:      hostname,
		AssetTag:      tag,
		SerialNumber:  &serial,
		Category:      category,
		Brand:         rows.get(rec, "Brand"),
		Model:         rows.get(rec, "Model"),
		Status:        store.StatusAvailable,
		PurchaseDate:  purchase,
		AdminPassword: adminPassword,
	})
	if err != nil {
		return fmt.Errorf("create %s: %w", hostname, err)
	}
	res.Created++

	var planned *time.Time
	assignedOn := time.Now()
	if purchase != nil {
		assignedOn = *purchase
	}
	if raw := rows.get(rec, "Planned Date"); raw != "" {
		if t, err := time.Parse("2/1/2006", strings.SplitN(raw, " ", 2)[0]); err == nil {
			planned = &t
			assignedOn = t
		}
	}

	statusRaw := rows.get(rec, "Status")
	if statusRaw == "" {
		statusRaw = string(store.PrepCategoryStandard)
	}
	requestType := store.RequestNewHire
	if strings.Contains(strings.ToLower(statusRaw), "replacement") {
		requestType = store.RequestReplacement
	}
	prepCategory := store.PreparationCategory(strings.ToLower(statusRaw))
	if !validPrepCategories[prepCategory] {
		prepCategory = store.PrepCategoryStandard
	}
	var technician *string
	if tn := rows.get(rec, "Technician"); tn != "" {
		technician = &tn
	}
	var notes *string
	if n := rows.get(rec, "Notes"); n != "" {
		notes = &n
	}
	p, err := s.st.InsertPreparation(ctx, store.Preparation{
		RequestType:    requestType,
		Status:         store.PrepCompleted,
		Category:       prepCategory,
		Technician:     technician,
		ExistingUserID: &u.ID,
		NewDeviceID:    &d.ID,
		SoftwareNotes:  notes,
		PlannedAt:      planned,
	})
	if err != nil {
		return err
	}

	asg, err := s.ledger.Open(ctx, d.ID, u.ID, assignedOn)
	if err != nil {
		return err
	}
	p.AssignmentID = &asg.ID
	return s.st.UpdatePreparation(ctx, p)
}
