// Package imports loads external CSV inventories into the registry. Two
// formats are supported: the SCCM full export and the historical
// spreadsheet. Row failures are logged and skipped; no row aborts a run.
package imports

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"regexp"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"

	"github.com/ptessari/devicedesk-go/cmd/api/assignments"
	"github.com/ptessari/devicedesk-go/internal/store"
)

// Service runs CSV imports against the registry and the ledger.
type Service struct {
	st     store.Store
	ledger *assignments.Service
}

func NewService(st store.Store, rdb *redis.Client) *Service {
	return &Service{st: st, ledger: assignments.NewService(st, rdb)}
}

// Result summarizes one import run.
type Result struct {
	Rows    int      `json:"rows"`
	Created int      `json:"created"`
	Skipped []string `json:"skipped"`
	Errors  []string `json:"errors"`
}

// Locations whose devices are in the warehouse rather than with a user.
var warehouseLocations = map[string]bool{
	"ICT DHS":           true,
	"ICT DHS Nizza":     true,
	"ICT DHS Nichelino": true,
}

var (
	ownerParens = regexp.MustCompile(`\((.*?)\)`)
	ownerStrip  = regexp.MustCompile(`\s*\([^)]+\)`)
	ownerName   = regexp.MustCompile(`([^,]+),\s*(.+)`)
)

// parseOwner splits an SCCM owner string like "Rossi, Mario (Finance, extern)"
// into name, surname, department and contract type. Machine accounts
// (backslash in the name) yield empty name and surname.
func parseOwner(raw string) (name, surname string, department *string, contract store.ContractType) {
	contract = store.ContractInternal
	if raw == "" || strings.Contains(raw, `\`) {
		return "", "", nil, contract
	}
	if strings.Contains(strings.ToLower(raw), ", extern)") {
		contract = store.ContractExternal
	}
	if m := ownerParens.FindStringSubmatch(raw); m != nil {
		inside := strings.TrimSpace(m[1])
		dept := strings.TrimSpace(strings.SplitN(inside, ",", 2)[0])
		if dept != "" {
			department = &dept
		}
		raw = ownerStrip.ReplaceAllString(raw, "")
	}
	if m := ownerName.FindStringSubmatch(raw); m != nil {
		surname = strings.TrimSpace(m[1])
		name = strings.TrimSpace(m[2])
	} else {
		surname = strings.TrimSpace(raw)
	}
	return name, surname, department, contract
}

// cadModelTerms marks a model string as CAD hardware when any term appears.
func isCADModel(model string, terms []string) bool {
	model = strings.ToLower(model)
	for _, t := range terms {
		if strings.Contains(model, t) {
			return true
		}
	}
	return false
}

// nullable maps the export's "NO" and empty markers to a missing value.
func nullable(s string) *string {
	s = strings.TrimSpace(s)
	if s == "" || strings.EqualFold(s, "NO") {
		return nil
	}
	return &s
}

type csvRows struct {
	r      *csv.Reader
	header map[string]int
}

func newCSVRows(r io.Reader) (*csvRows, error) {
	cr := csv.NewReader(r)
	cr.Comma = ';'
	cr.FieldsPerRecord = -1
	head, err := cr.Read()
	if err != nil {
		return nil, fmt.Errorf("read header: %w", err)
	}
	idx := make(map[string]int, len(head))
	for i, h := range head {
		idx[strings.TrimSpace(h)] = i
	}
	return &csvRows{r: cr, header: idx}, nil
}

func (c *csvRows) next() ([]string, error) { return c.r.Read() }

func (c *csvRows) get(rec []string, col string) string {
	i, ok := c.header[col]
	if !ok || i >= len(rec) {
		return ""
	}
	return strings.TrimSpace(rec[i])
}

// deviceExists reports whether any of the three unique keys is taken.
func (s *Service) deviceExists(ctx context.Context, hostname string, tag, serial *string) (bool, string, error) {
	if _, err := s.st.GetDeviceByHostname(ctx, hostname); err == nil {
		return true, "hostname", nil
	} else if !errors.Is(err, store.ErrNotFound) {
		return false, "", err
	}
	if tag != nil {
		if _, err := s.st.GetDeviceByAssetTag(ctx, *tag); err == nil {
			return true, "asset tag", nil
		} else if !errors.Is(err, store.ErrNotFound) {
			return false, "", err
		}
	}
	if serial != nil {
		if _, err := s.st.GetDeviceBySerial(ctx, *serial); err == nil {
			return true, "serial", nil
		} else if !errors.Is(err, store.ErrNotFound) {
			return false, "", err
		}
	}
	return false, "", nil
}

// ImportSCCM loads the semicolon-separated SCCM export. Dates are
// mm/dd/yyyy. Devices in a warehouse location arrive as InReclamation;
// everything else is Assigned, with the owner string resolved to a user and
// an open assignment.
func (s *Service) ImportSCCM(ctx context.Context, r io.Reader) (Result, error) {
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
		if err := s.importSCCMRow(ctx, rows, rec, &res); err != nil {
			log.Ctx(ctx).Warn().Int("line", line).Err(err).Msg("sccm import row failed")
			res.Errors = append(res.Errors, fmt.Sprintf("line %d: %v", line, err))
		}
	}
	return res, nil
}

func (s *Service) importSCCMRow(ctx context.Context, rows *csvRows, rec []string, res *Result) error {
	hostname := rows.get(rec, "Asset Name")
	if hostname == "" {
		return nil
	}
	tag := nullable(rows.get(rec, "Asset IDG"))
	serial := nullable(rows.get(rec, "Serial Number"))

	exists, key, err := s.deviceExists(ctx, hostname, tag, serial)
	if err != nil {
		return err
	}
	if exists {
		res.Skipped = append(res.Skipped, hostname+" ("+key+")")
		return nil
	}

	location := rows.get(rec, "Location")
	status := store.StatusAssigned
	var warehouse *string
	if warehouseLocations[location] {
		status = store.StatusInReclamation
		warehouse = &location
	}

	category := store.CategoryOffice
	if isCADModel(rows.get(rec, "Model"), []string{"zbook", "fury", "z8", "z4", "z2"}) {
		category = store.CategoryCAD
	}

	var purchase *time.Time
	if raw := rows.get(rec, "Purchase Date"); raw != "" {
		if t, err := time.Parse("1/2/2006", strings.SplitN(raw, " ", 2)[0]); err == nil {
			purchase = &t
		}
	}

	d, err := s.st.CreateDevice(ctx, store.Device{
		Hostname:          hostname,
		AssetTag:          tag,
		SerialNumber:      serial,
		Category:          category,
		Brand:             rows.get(rec, "Manufacturer"),
		Model:             rows.get(rec, "Model"),
		Status:            status,
		PurchaseDate:      purchase,
		WarehouseLocation: warehouse,
	})
	if err != nil {
		return fmt.Errorf("create %s: %w", hostname, err)
	}
	res.Created++

	if status != store.StatusAssigned {
		return nil
	}
	name, surname, dept, contract := parseOwner(rows.get(rec, "Owner"))
	if name == "" || surname == "" {
		return nil
	}
	defaults := store.User{ContractType: contract, Active: true}
	if dept != nil {
		dp, _, err := s.st.GetOrCreateDepartment(ctx, *dept)
		if err != nil {
			return err
		}
		defaults.DepartmentID = &dp.ID
	}
	u, _, err := s.st.GetOrCreateUser(ctx, name, surname, defaults)
	if err != nil {
		return err
	}
	on := time.Now()
	if purchase != nil {
		on = *purchase
	}
	if _, err := s.ledger.Open(ctx, d.ID, u.ID, on); err != nil {
		return err
	}
	return nil
}
