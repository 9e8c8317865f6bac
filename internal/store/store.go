// Package store holds the persisted record types of the device fleet and the
// Store interface the service layer runs against. Two implementations exist:
// a Postgres one backed by pgx and an in-memory one used when no database is
// configured (and by the tests).
package store

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// DB is the subset of pgxpool.Pool the Postgres store needs. Kept narrow so
// tests can substitute fakes.
type DB interface {
	Query(ctx context.Context, sql string, args ...interface{}) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...interface{}) pgx.Row
	Exec(ctx context.Context, sql string, args ...interface{}) (pgconn.CommandTag, error)
}

var (
	// ErrNotFound is returned on any lookup miss.
	ErrNotFound = errors.New("not found")
	// ErrConflict is returned when a uniqueness constraint is violated
	// (hostname, asset tag or serial number).
	ErrConflict = errors.New("conflict")
)

// DeviceStatus is the lifecycle status of a device.
type DeviceStatus string

const (
	StatusAvailable     DeviceStatus = "available"
	StatusReserved      DeviceStatus = "reserved"
	StatusAssigned      DeviceStatus = "assigned"
	StatusInReclamation DeviceStatus = "in_reclamation"
	StatusScrapped      DeviceStatus = "scrapped"
)

// DeviceCategory classifies the hardware.
type DeviceCategory string

const (
	CategoryOffice   DeviceCategory = "office"
	CategoryCAD      DeviceCategory = "cad"
	CategoryNotebook DeviceCategory = "notebook"
	CategoryDesktop  DeviceCategory = "desktop"
	CategoryWacom    DeviceCategory = "wacom"
	CategoryOther    DeviceCategory = "other"
)

// ContractType classifies a user's employment contract.
type ContractType string

const (
	ContractInternal ContractType = "internal"
	ContractExternal ContractType = "external"
	ContractIntern   ContractType = "intern"
	ContractTemp     ContractType = "temp"
)

// RequestType distinguishes onboarding from replacement preparations.
type RequestType string

const (
	RequestNewHire     RequestType = "new_hire"
	RequestReplacement RequestType = "replacement"
)

// PreparationStatus is the workflow state of a preparation.
type PreparationStatus string

const (
	PrepAwaitingSpecs PreparationStatus = "awaiting_specs"
	PrepReadyForPrep  PreparationStatus = "ready_for_prep"
	PrepCompleted     PreparationStatus = "completed"
)

// PreparationCategory qualifies the request.
type PreparationCategory string

const (
	PrepCategoryStandard     PreparationCategory = "standard"
	PrepCategoryIntern       PreparationCategory = "intern"
	PrepCategoryTemp         PreparationCategory = "temp"
	PrepCategoryPriority     PreparationCategory = "priority"
	PrepCategoryReassignment PreparationCategory = "reassignment"
	PrepCategoryExtra        PreparationCategory = "extra"
)

// Department is a reference record resolved by name.
type Department struct {
	ID   int64  `json:"id"`
	Name string `json:"name"`
}

// Site is a physical location where preparations take place.
type Site struct {
	ID      int64   `json:"id"`
	Name    string  `json:"name"`
	Address *string `json:"address,omitempty"`
}

// User is a member of staff devices get assigned to.
type User struct {
	ID           int64        `json:"id"`
	Name         string       `json:"name"`
	Surname      string       `json:"surname"`
	DepartmentID *int64       `json:"department_id,omitempty"`
	ContractType ContractType `json:"contract_type"`
	Active       bool         `json:"active"`
}

// Device is a tracked piece of IT equipment. Hostname is mandatory and
// unique; asset tag and serial number are unique when present.
type Device struct {
	ID                int64          `json:"id"`
	Hostname          string         `json:"hostname"`
	AssetTag          *string        `json:"asset_tag,omitempty"`
	SerialNumber      *string        `json:"serial_number,omitempty"`
	Category          DeviceCategory `json:"category"`
	Brand             string         `json:"brand"`
	Model             string         `json:"model"`
	Status            DeviceStatus   `json:"status"`
	PurchaseDate      *time.Time     `json:"purchase_date,omitempty"`
	AdminPassword     *string        `json:"admin_password,omitempty"`
	WarehouseLocation *string        `json:"warehouse_location,omitempty"`
	Notes             *string        `json:"notes,omitempty"`
}

// Assignment is one interval of custody of a device by a user. A nil
// ReturnedOn marks the active assignment.
type Assignment struct {
	ID         int64      `json:"id"`
	DeviceID   int64      `json:"device_id"`
	UserID     int64      `json:"user_id"`
	AssignedOn time.Time  `json:"assigned_on"`
	ReturnedOn *time.Time `json:"returned_on,omitempty"`
}

// Active reports whether the assignment has no return date.
func (a Assignment) Active() bool { return a.ReturnedOn == nil }

// Preparation is a pending onboarding or replacement request. The new-hire
// fields are only meaningful for RequestNewHire, the replacement fields for
// RequestReplacement. NewHireDepartment stays free text until finalization
// resolves it to a Department row.
type Preparation struct {
	ID                int64               `json:"id"`
	RequestType       RequestType         `json:"request_type"`
	Status            PreparationStatus   `json:"status"`
	Category          PreparationCategory `json:"category"`
	SiteID            *int64              `json:"site_id,omitempty"`
	Technician        *string             `json:"technician,omitempty"`
	NewHireName       *string             `json:"new_hire_name,omitempty"`
	NewHireSurname    *string             `json:"new_hire_surname,omitempty"`
	EntryDate         *time.Time          `json:"entry_date,omitempty"`
	NewHireDepartment *string             `json:"new_hire_department,omitempty"`
	NewHireContract   ContractType        `json:"new_hire_contract"`
	ExistingUserID    *int64              `json:"existing_user_id,omitempty"`
	OldDeviceID       *int64              `json:"old_device_id,omitempty"`
	ReplacementReason *string             `json:"replacement_reason,omitempty"`
	NewDeviceID       *int64              `json:"new_device_id,omitempty"`
	HelpdeskTicket    *string             `json:"helpdesk_ticket,omitempty"`
	RequestedPCType   *string             `json:"requested_pc_type,omitempty"`
	SoftwareNotes     *string             `json:"software_notes,omitempty"`
	PlannedAt         *time.Time          `json:"planned_at,omitempty"`
	MailSent          bool                `json:"mail_sent"`
	DataInSCSM        bool                `json:"data_in_scsm"`
	InARS             bool                `json:"in_ars"`
	DeliverySent      bool                `json:"delivery_sent"`
	AssignmentID      *int64              `json:"assignment_id,omitempty"`
}

// DeviceFilter narrows and orders device listings.
type DeviceFilter struct {
	Status   DeviceStatus
	Category DeviceCategory
	// Query matches hostname, asset tag or model as a case-insensitive
	// substring.
	Query string
	// Sort is one of hostname, category, status, location, holder;
	// a leading '-' reverses the order. Defaults to hostname.
	Sort string
}

// CategoryCount is an aggregation bucket for chart data.
type CategoryCount struct {
	Label string `json:"label"`
	Count int    `json:"count"`
}

// MonthlyAssignments counts assignments opened in one month, split by
// device category.
type MonthlyAssignments struct {
	Month  time.Time `json:"month"`
	Office int       `json:"office"`
	CAD    int       `json:"cad"`
}

// ReasonCounts buckets finalized preparations the way the yearly report
// groups them.
type ReasonCounts struct {
	NewStaff         int `json:"new_staff"`
	InternTemp       int `json:"intern_temp"`
	ReplacementExtra int `json:"replacement_extra"`
}

// DeviceStore covers the device registry records.
type DeviceStore interface {
	CreateDevice(ctx context.Context, d Device) (Device, error)
	GetDevice(ctx context.Context, id int64) (Device, error)
	GetDeviceByAssetTag(ctx context.Context, tag string) (Device, error)
	GetDeviceByHostname(ctx context.Context, hostname string) (Device, error)
	GetDeviceBySerial(ctx context.Context, serial string) (Device, error)
	UpdateDevice(ctx context.Context, d Device) error
	SetDeviceStatus(ctx context.Context, id int64, status DeviceStatus) error
	DeleteDevice(ctx context.Context, id int64) error
	ListDevices(ctx context.Context, f DeviceFilter) ([]Device, error)
}

// DirectoryStore covers users, departments and sites.
type DirectoryStore interface {
	CreateUser(ctx context.Context, u User) (User, error)
	GetUser(ctx context.Context, id int64) (User, error)
	ListUsers(ctx context.Context) ([]User, error)
	// GetOrCreateUser matches on (name, surname); defaults are applied only
	// on creation. The bool reports whether a row was created.
	GetOrCreateUser(ctx context.Context, name, surname string, defaults User) (User, bool, error)
	GetOrCreateDepartment(ctx context.Context, name string) (Department, bool, error)
	ListDepartments(ctx context.Context) ([]Department, error)
	CreateSite(ctx context.Context, s Site) (Site, error)
	ListSites(ctx context.Context) ([]Site, error)
}

// AssignmentStore covers the custody ledger. Ordering of the history
// listings is by assignment date, most recent first.
type AssignmentStore interface {
	InsertAssignment(ctx context.Context, a Assignment) (Assignment, error)
	UpdateAssignment(ctx context.Context, a Assignment) error
	GetAssignment(ctx context.Context, id int64) (Assignment, error)
	ActiveAssignmentForDevice(ctx context.Context, deviceID int64) (Assignment, error)
	AssignmentsForDevice(ctx context.Context, deviceID int64) ([]Assignment, error)
	AssignmentsForUser(ctx context.Context, userID int64) ([]Assignment, error)
}

// PreparationStore covers the workflow records. ListPreparations orders by
// descending id.
type PreparationStore interface {
	InsertPreparation(ctx context.Context, p Preparation) (Preparation, error)
	UpdatePreparation(ctx context.Context, p Preparation) error
	GetPreparation(ctx context.Context, id int64) (Preparation, error)
	DeletePreparation(ctx context.Context, id int64) error
	ListPreparations(ctx context.Context) ([]Preparation, error)
}

// ReportStore covers the read-only aggregations behind the dashboard and
// charts.
type ReportStore interface {
	// CountAvailableNeverAssigned counts available devices with no ledger
	// history at all, split office/cad plus overall.
	CountAvailableNeverAssigned(ctx context.Context) (office, cad, total int, err error)
	CountOpenPreparations(ctx context.Context) (int, error)
	OldestAssignedDevices(ctx context.Context, limit int) ([]Device, error)
	UpcomingPreparations(ctx context.Context, from time.Time, limit int) ([]Preparation, error)
	AvailableCountByCategory(ctx context.Context) ([]CategoryCount, error)
	DeviceCountByBrand(ctx context.Context) ([]CategoryCount, error)
	MonthlyAssignmentCounts(ctx context.Context) ([]MonthlyAssignments, error)
	PreparationReasonCounts(ctx context.Context, from, to time.Time) (ReasonCounts, error)
	ScrappedDevices(ctx context.Context) ([]Device, error)
	DevicesAssignedToUser(ctx context.Context, userID int64) ([]Device, error)
	AvailableDevicesByCategory(ctx context.Context, cat DeviceCategory) ([]Device, error)
	SearchUsers(ctx context.Context, q string) ([]User, error)
	SearchPreparations(ctx context.Context, q string) ([]Preparation, error)
}

// Store is the full persistence surface of the service.
type Store interface {
	DeviceStore
	DirectoryStore
	AssignmentStore
	PreparationStore
	ReportStore
}
