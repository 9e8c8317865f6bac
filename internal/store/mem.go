package store

import (
	"context"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"
)

// Mem is an in-memory Store with the same semantics as the Postgres one.
// It backs the tests and the no-database dev mode.
type Mem struct {
	mu          sync.Mutex
	devices     map[int64]Device
	users       map[int64]User
	departments map[int64]Department
	sites       map[int64]Site
	assignments map[int64]Assignment
	preps       map[int64]Preparation
	nextID      map[string]int64
}

// NewMem returns an empty in-memory store.
func NewMem() *Mem {
	return &Mem{
		devices:     map[int64]Device{},
		users:       map[int64]User{},
		departments: map[int64]Department{},
		sites:       map[int64]Site{},
		assignments: map[int64]Assignment{},
		preps:       map[int64]Preparation{},
		nextID:      map[string]int64{},
	}
}

func (m *Mem) seq(table string) int64 {
	m.nextID[table]++
	return m.nextID[table]
}

func (m *Mem) deviceConflicts(d Device) bool {
	for _, other := range m.devices {
		if other.ID == d.ID {
			continue
		}
		if other.Hostname == d.Hostname {
			return true
		}
		if d.AssetTag != nil && other.AssetTag != nil && *other.AssetTag == *d.AssetTag {
			return true
		}
		if d.SerialNumber != nil && other.SerialNumber != nil && *other.SerialNumber == *d.SerialNumber {
			return true
		}
	}
	return false
}

func (m *Mem) CreateDevice(_ context.Context, d Device) (Device, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.deviceConflicts(d) {
		return Device{}, ErrConflict
	}
	d.ID = m.seq("devices")
	m.devices[d.ID] = d
	return d, nil
}

func (m *Mem) GetDevice(_ context.Context, id int64) (Device, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	d, ok := m.devices[id]
	if !ok {
		return Device{}, ErrNotFound
	}
	return d, nil
}

func (m *Mem) GetDeviceByAssetTag(_ context.Context, tag string) (Device, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, d := range m.devices {
		if d.AssetTag != nil && *d.AssetTag == tag {
			return d, nil
		}
	}
	return Device{}, ErrNotFound
}

func (m *Mem) GetDeviceByHostname(_ context.Context, hostname string) (Device, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, d := range m.devices {
		if d.Hostname == hostname {
			return d, nil
		}
	}
	return Device{}, ErrNotFound
}

func (m *Mem) GetDeviceBySerial(_ context.Context, serial string) (Device, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, d := range m.devices {
		if d.SerialNumber != nil && *d.SerialNumber == serial {
			return d, nil
		}
	}
	return Device{}, ErrNotFound
}

func (m *Mem) UpdateDevice(_ context.Context, d Device) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.devices[d.ID]; !ok {
		return ErrNotFound
	}
	if m.deviceConflicts(d) {
		return ErrConflict
	}
	m.devices[d.ID] = d
	return nil
}

func (m *Mem) SetDeviceStatus(_ context.Context, id int64, status DeviceStatus) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	d, ok := m.devices[id]
	if !ok {
		return ErrNotFound
	}
	d.Status = status
	m.devices[id] = d
	return nil
}

func (m *Mem) DeleteDevice(_ context.Context, id int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.devices[id]; !ok {
		return ErrNotFound
	}
	delete(m.devices, id)
	return nil
}

func containsFold(s, sub string) bool {
	return strings.Contains(strings.ToLower(s), strings.ToLower(sub))
}

func (m *Mem) holderSurname(deviceID int64) string {
	for _, a := range m.assignments {
		if a.DeviceID == deviceID && a.ReturnedOn == nil {
			if u, ok := m.users[a.UserID]; ok {
				return u.Surname
			}
		}
	}
	return ""
}

func (m *Mem) ListDevices(_ context.Context, f DeviceFilter) ([]Device, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []Device
	for _, d := range m.devices {
		if f.Status != "" && d.Status != f.Status {
			continue
		}
		if f.Category != "" && d.Category != f.Category {
			continue
		}
		if f.Query != "" {
			tag := ""
			if d.AssetTag != nil {
				tag = *d.AssetTag
			}
			if !containsFold(d.Hostname, f.Query) && !containsFold(tag, f.Query) && !containsFold(d.Model, f.Query) {
				continue
			}
		}
		out = append(out, d)
	}
	desc := strings.HasPrefix(f.Sort, "-")
	key := strings.TrimPrefix(f.Sort, "-")
	sort.SliceStable(out, func(i, j int) bool {
		a, b := out[i], out[j]
		var less bool
		switch key {
		case "category":
			less = a.Category < b.Category
		case "status":
			less = a.Status < b.Status
		case "location":
			av, bv := "", ""
			if a.WarehouseLocation != nil {
				av = *a.WarehouseLocation
			}
			if b.WarehouseLocation != nil {
				bv = *b.WarehouseLocation
			}
			less = av < bv
		case "holder":
			less = m.holderSurname(a.ID) < m.holderSurname(b.ID)
		default:
			less = a.Hostname < b.Hostname
		}
		if desc {
			return !less
		}
		return less
	})
	return out, nil
}

func (m *Mem) CreateUser(_ context.Context, u User) (User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	u.ID = m.seq("users")
	m.users[u.ID] = u
	return u, nil
}

func (m *Mem) GetUser(_ context.Context, id int64) (User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.users[id]
	if !ok {
		return User{}, ErrNotFound
	}
	return u, nil
}

func (m *Mem) ListUsers(_ context.Context) ([]User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []User
	for _, u := range m.users {
		out = append(out, u)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Surname != out[j].Surname {
			return out[i].Surname < out[j].Surname
		}
		return out[i].Name < out[j].Name
	})
	return out, nil
}

func (m *Mem) GetOrCreateUser(_ context.Context, name, surname string, defaults User) (User, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, u := range m.users {
		if u.Name == name && u.Surname == surname {
			return u, false, nil
		}
	}
	defaults.Name = name
	defaults.Surname = surname
	if defaults.ContractType == "" {
		defaults.ContractType = ContractInternal
	}
	defaults.Active = true
	defaults.ID = m.seq("users")
	m.users[defaults.ID] = defaults
	return defaults, true, nil
}

func (m *Mem) GetOrCreateDepartment(_ context.Context, name string) (Department, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, d := range m.departments {
		if d.Name == name {
			return d, false, nil
		}
	}
	d := Department{ID: m.seq("departments"), Name: name}
	m.departments[d.ID] = d
	return d, true, nil
}

func (m *Mem) ListDepartments(_ context.Context) ([]Department, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []Department
	for _, d := range m.departments {
		out = append(out, d)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

func (m *Mem) CreateSite(_ context.Context, s Site) (Site, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, other := range m.sites {
		if other.Name == s.Name {
			return Site{}, ErrConflict
		}
	}
	s.ID = m.seq("sites")
	m.sites[s.ID] = s
	return s, nil
}

func (m *Mem) ListSites(_ context.Context) ([]Site, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []Site
	for _, s := range m.sites {
		out = append(out, s)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

func (m *Mem) InsertAssignment(_ context.Context, a Assignment) (Assignment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.devices[a.DeviceID]; !ok {
		return Assignment{}, ErrNotFound
	}
	if _, ok := m.users[a.UserID]; !ok {
		return Assignment{}, ErrNotFound
	}
	a.ID = m.seq("assignments")
	m.assignments[a.ID] = a
	return a, nil
}

func (m *Mem) UpdateAssignment(_ context.Context, a Assignment) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.assignments[a.ID]; !ok {
		return ErrNotFound
	}
	m.assignments[a.ID] = a
	return nil
}

func (m *Mem) GetAssignment(_ context.Context, id int64) (Assignment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.assignments[id]
	if !ok {
		return Assignment{}, ErrNotFound
	}
	return a, nil
}

func (m *Mem) ActiveAssignmentForDevice(_ context.Context, deviceID int64) (Assignment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	best := Assignment{}
	found := false
	for _, a := range m.assignments {
		if a.DeviceID == deviceID && a.ReturnedOn == nil {
			if !found || a.ID < best.ID {
				best = a
				found = true
			}
		}
	}
	if !found {
		return Assignment{}, ErrNotFound
	}
	return best, nil
}

func sortAssignments(out []Assignment) {
	sort.Slice(out, func(i, j int) bool {
		if !out[i].AssignedOn.Equal(out[j].AssignedOn) {
			return out[i].AssignedOn.After(out[j].AssignedOn)
		}
		return out[i].ID > out[j].ID
	})
}

func (m *Mem) AssignmentsForDevice(_ context.Context, deviceID int64) ([]Assignment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []Assignment
	for _, a := range m.assignments {
		if a.DeviceID == deviceID {
			out = append(out, a)
		}
	}
	sortAssignments(out)
	return out, nil
}

func (m *Mem) AssignmentsForUser(_ context.Context, userID int64) ([]Assignment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []Assignment
	for _, a := range m.assignments {
		if a.UserID == userID {
			out = append(out, a)
		}
	}
	sortAssignments(out)
	return out, nil
}

func (m *Mem) InsertPreparation(_ context.Context, p Preparation) (Preparation, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p.ID = m.seq("preparations")
	m.preps[p.ID] = p
	return p, nil
}

func (m *Mem) UpdatePreparation(_ context.Context, p Preparation) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.preps[p.ID]; !ok {
		return ErrNotFound
	}
	m.preps[p.ID] = p
	return nil
}

func (m *Mem) GetPreparation(_ context.Context, id int64) (Preparation, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.preps[id]
	if !ok {
		return Preparation{}, ErrNotFound
	}
	return p, nil
}

func (m *Mem) DeletePreparation(_ context.Context, id int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.preps[id]; !ok {
		return ErrNotFound
	}
	delete(m.preps, id)
	return nil
}

func (m *Mem) ListPreparations(_ context.Context) ([]Preparation, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []Preparation
	for _, p := range m.preps {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID > out[j].ID })
	return out, nil
}

func (m *Mem) everAssigned(deviceID int64) bool {
	for _, a := range m.assignments {
		if a.DeviceID == deviceID {
			return true
		}
	}
	return false
}

func (m *Mem) CountAvailableNeverAssigned(_ context.Context) (office, cad, total int, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, d := range m.devices {
		if d.Status != StatusAvailable || m.everAssigned(d.ID) {
			continue
		}
		total++
		switch d.Category {
		case CategoryOffice:
			office++
		case CategoryCAD:
			cad++
		}
	}
	return
}

func (m *Mem) CountOpenPreparations(_ context.Context) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, p := range m.preps {
		if p.Status != PrepCompleted {
			n++
		}
	}
	return n, nil
}

func (m *Mem) OldestAssignedDevices(_ context.Context, limit int) ([]Device, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []Device
	for _, d := range m.devices {
		if d.Status == StatusAssigned {
			out = append(out, d)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		a, b := out[i].PurchaseDate, out[j].PurchaseDate
		switch {
		case a == nil:
			return false
		case b == nil:
			return true
		default:
			return a.Before(*b)
		}
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (m *Mem) UpcomingPreparations(_ context.Context, from time.Time, limit int) ([]Preparation, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []Preparation
	for _, p := range m.preps {
		if p.Status == PrepCompleted || p.PlannedAt == nil || p.PlannedAt.Before(from) {
			continue
		}
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].PlannedAt.Before(*out[j].PlannedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (m *Mem) AvailableCountByCategory(_ context.Context) ([]CategoryCount, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	counts := map[string]int{}
	for _, d := range m.devices {
		if d.Status == StatusAvailable {
			counts[string(d.Category)]++
		}
	}
	return sortedCounts(counts, false), nil
}

func (m *Mem) DeviceCountByBrand(_ context.Context) ([]CategoryCount, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	counts := map[string]int{}
	for _, d := range m.devices {
		counts[d.Brand]++
	}
	return sortedCounts(counts, true), nil
}

func sortedCounts(counts map[string]int, byCountDesc bool) []CategoryCount {
	var out []CategoryCount
	for k, v := range counts {
		out = append(out, CategoryCount{Label: k, Count: v})
	}
	sort.Slice(out, func(i, j int) bool {
		if byCountDesc && out[i].Count != out[j].Count {
			return out[i].Count > out[j].Count
		}
		return out[i].Label < out[j].Label
	})
	return out
}

func (m *Mem) MonthlyAssignmentCounts(_ context.Context) ([]MonthlyAssignments, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	byMonth := map[time.Time]*MonthlyAssignments{}
	for _, a := range m.assignments {
		month := time.Date(a.AssignedOn.Year(), a.AssignedOn.Month(), 1, 0, 0, 0, 0, time.UTC)
		bucket, ok := byMonth[month]
		if !ok {
			bucket = &MonthlyAssignments{Month: month}
			byMonth[month] = bucket
		}
		if d, ok := m.devices[a.DeviceID]; ok {
			switch d.Category {
			case CategoryOffice:
				bucket.Office++
			case CategoryCAD:
				bucket.CAD++
			}
		}
	}
	var out []MonthlyAssignments
	for _, b := range byMonth {
		out = append(out, *b)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Month.Before(out[j].Month) })
	return out, nil
}

func (m *Mem) PreparationReasonCounts(_ context.Context, from, to time.Time) (ReasonCounts, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var rc ReasonCounts
	for _, p := range m.preps {
		if p.Status != PrepCompleted || p.PlannedAt == nil {
			continue
		}
		if p.PlannedAt.Before(from) || !p.PlannedAt.Before(to) {
			continue
		}
		switch {
		case p.RequestType == RequestNewHire && p.Category == PrepCategoryStandard:
			rc.NewStaff++
		case p.RequestType == RequestNewHire && (p.Category == PrepCategoryIntern || p.Category == PrepCategoryTemp):
			rc.InternTemp++
		}
		if p.RequestType == RequestReplacement || p.Category == PrepCategoryReassignment || p.Category == PrepCategoryExtra {
			rc.ReplacementExtra++
		}
	}
	return rc, nil
}

func (m *Mem) ScrappedDevices(_ context.Context) ([]Device, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []Device
	for _, d := range m.devices {
		if d.Status == StatusScrapped {
			out = append(out, d)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Hostname < out[j].Hostname })
	return out, nil
}

func (m *Mem) DevicesAssignedToUser(_ context.Context, userID int64) ([]Device, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []Device
	for _, a := range m.assignments {
		if a.UserID != userID || a.ReturnedOn != nil {
			continue
		}
		if d, ok := m.devices[a.DeviceID]; ok && d.Status == StatusAssigned {
			out = append(out, d)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Hostname < out[j].Hostname })
	return out, nil
}

func (m *Mem) AvailableDevicesByCategory(_ context.Context, cat DeviceCategory) ([]Device, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []Device
	for _, d := range m.devices {
		if d.Status == StatusAvailable && d.Category == cat {
			out = append(out, d)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Hostname < out[j].Hostname })
	return out, nil
}

func (m *Mem) SearchUsers(_ context.Context, q string) ([]User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []User
	for _, u := range m.users {
		if containsFold(u.Name, q) || containsFold(u.Surname, q) {
			out = append(out, u)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Surname != out[j].Surname {
			return out[i].Surname < out[j].Surname
		}
		return out[i].Name < out[j].Name
	})
	return out, nil
}

func (m *Mem) SearchPreparations(_ context.Context, q string) ([]Preparation, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	id, _ := strconv.ParseInt(q, 10, 64)
	var out []Preparation
	for _, p := range m.preps {
		match := p.ID == id && id != 0
		if p.HelpdeskTicket != nil && containsFold(*p.HelpdeskTicket, q) {
			match = true
		}
		if p.NewHireName != nil && containsFold(*p.NewHireName, q) {
			match = true
		}
		if p.NewHireSurname != nil && containsFold(*p.NewHireSurname, q) {
			match = true
		}
		if p.ExistingUserID != nil {
			if u, ok := m.users[*p.ExistingUserID]; ok && (containsFold(u.Name, q) || containsFold(u.Surname, q)) {
				match = true
			}
		}
		if match {
			out = append(out, p)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID > out[j].ID })
	return out, nil
}
