package store

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// PG implements Store on Postgres via pgx.
type PG struct {
	db DB
}

// NewPG wraps a pgx pool (or a compatible fake) in a Store.
func NewPG(db DB) *PG { return &PG{db: db} }

func pgErr(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, pgx.ErrNoRows) {
		return ErrNotFound
	}
	var pge *pgconn.PgError
	if errors.As(err, &pge) && pge.Code == "23505" {
		return ErrConflict
	}
	return err
}

const deviceCols = `id, hostname, asset_tag, serial_number, category, brand, model, status, purchase_date, admin_password, warehouse_location, notes`

func scanDevice(row pgx.Row) (Device, error) {
	var d Device
	err := row.Scan(&d.ID, &d.Hostname, &d.AssetTag, &d.SerialNumber, &d.Category,
		&d.Brand, &d.Model, &d.Status, &d.PurchaseDate, &d.AdminPassword,
		&d.WarehouseLocation, &d.Notes)
	return d, pgErr(err)
}

func (s *PG) CreateDevice(ctx context.Context, d Device) (Device, error) {
	const q = `insert into devices (hostname, asset_tag, serial_number, category, brand, model, status, purchase_date, admin_password, warehouse_location, notes)
		values ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		returning ` + deviceCols
	return scanDevice(s.db.QueryRow(ctx, q, d.Hostname, d.AssetTag, d.SerialNumber,
		d.Category, d.Brand, d.Model, d.Status, d.PurchaseDate, d.AdminPassword,
		d.WarehouseLocation, d.Notes))
}

func (s *PG) GetDevice(ctx context.Context, id int64) (Device, error) {
	return scanDevice(s.db.QueryRow(ctx, `select `+deviceCols+` from devices where id=$1`, id))
}

func (s *PG) GetDeviceByAssetTag(ctx context.Context, tag string) (Device, error) {
	return scanDevice(s.db.QueryRow(ctx, `select `+deviceCols+` from devices where asset_tag=$1`, tag))
}

func (s *PG) GetDeviceByHostname(ctx context.Context, hostname string) (Device, error) {
	return scanDevice(s.db.QueryRow(ctx, `select `+deviceCols+` from devices where hostname=$1`, hostname))
}

func (s *PG) GetDeviceBySerial(ctx context.Context, serial string) (Device, error) {
	return scanDevice(s.db.QueryRow(ctx, `select `+deviceCols+` from devices where serial_number=$1`, serial))
}

func (s *PG) UpdateDevice(ctx context.Context, d Device) error {
	const q = `update devices set hostname=$1, asset_tag=$2, serial_number=$3, category=$4, brand=$5, model=$6, status=$7, purchase_date=$8, admin_password=$9, warehouse_location=$10, notes=$11 where id=$12`
	tag, err := s.db.Exec(ctx, q, d.Hostname, d.AssetTag, d.SerialNumber, d.Category,
		d.Brand, d.Model, d.Status, d.PurchaseDate, d.AdminPassword,
		d.WarehouseLocation, d.Notes, d.ID)
	if err != nil {
		return pgErr(err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *PG) SetDeviceStatus(ctx context.Context, id int64, status DeviceStatus) error {
	tag, err := s.db.Exec(ctx, `update devices set status=$1 where id=$2`, status, id)
	if err != nil {
		return pgErr(err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *PG) DeleteDevice(ctx context.Context, id int64) error {
	tag, err := s.db.Exec(ctx, `delete from devices where id=$1`, id)
	if err != nil {
		return pgErr(err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *PG) ListDevices(ctx context.Context, f DeviceFilter) ([]Device, error) {
	where := []string{}
	args := []any{}
	idx := 1
	if f.Status != "" {
		where = append(where, fmt.Sprintf("d.status=$%d", idx))
		args = append(args, f.Status)
		idx++
	}
	if f.Category != "" {
		where = append(where, fmt.Sprintf("d.category=$%d", idx))
		args = append(args, f.Category)
		idx++
	}
	if f.Query != "" {
		where = append(where, fmt.Sprintf("(d.hostname ilike $%d or d.asset_tag ilike $%d or d.model ilike $%d)", idx, idx, idx))
		args = append(args, "%"+f.Query+"%")
		idx++
	}
	clause := ""
	if len(where) > 0 {
		clause = "where " + strings.Join(where, " and ")
	}
	col, desc := sortColumn(f.Sort)
	order := col
	if desc {
		order += " desc"
	}
	q := fmt.Sprintf(`select `+deviceCols+`,
		(select u.surname from assignments a join users u on u.id=a.user_id
		 where a.device_id=d.id and a.returned_on is null limit 1) as holder_surname
		from devices d %s order by %s nulls last, d.hostname`, clause, order)
	rows, err := s.db.Query(ctx, q, args...)
	if err != nil {
		return nil, pgErr(err)
	}
	defer rows.Close()
	var out []Device
	for rows.Next() {
		var d Device
		var holder *string
		if err := rows.Scan(&d.ID, &d.Hostname, &d.AssetTag, &d.SerialNumber,
			&d.Category, &d.Brand, &d.Model, &d.Status, &d.PurchaseDate,
			&d.AdminPassword, &d.WarehouseLocation, &d.Notes, &holder); err != nil {
			return nil, pgErr(err)
		}
		out = append(out, d)
	}
	return out, rows.Err()
}

func sortColumn(sort string) (string, bool) {
	desc := strings.HasPrefix(sort, "-")
	switch strings.TrimPrefix(sort, "-") {
	case "category":
		return "d.category", desc
	case "status":
		return "d.status", desc
	case "location":
		return "d.warehouse_location", desc
	case "holder":
		return "holder_surname", desc
	default:
		return "d.hostname", desc
	}
}

func (s *PG) CreateUser(ctx context.Context, u User) (User, error) {
	const q = `insert into users (name, surname, department_id, contract_type, active)
		values ($1, $2, $3, $4, $5) returning id`
	err := s.db.QueryRow(ctx, q, u.Name, u.Surname, u.DepartmentID, u.ContractType, u.Active).Scan(&u.ID)
	return u, pgErr(err)
}

func scanUser(row pgx.Row) (User, error) {
	var u User
	err := row.Scan(&u.ID, &u.Name, &u.Surname, &u.DepartmentID, &u.ContractType, &u.Active)
	return u, pgErr(err)
}

const userCols = `id, name, surname, department_id, contract_type, active`

func (s *PG) GetUser(ctx context.Context, id int64) (User, error) {
	return scanUser(s.db.QueryRow(ctx, `select `+userCols+` from users where id=$1`, id))
}

func (s *PG) ListUsers(ctx context.Context) ([]User, error) {
	rows, err := s.db.Query(ctx, `select `+userCols+` from users order by surname, name`)
	if err != nil {
		return nil, pgErr(err)
	}
	defer rows.Close()
	var out []User
	for rows.Next() {
		u, err := scanUser(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, u)
	}
	return out, rows.Err()
}

func (s *PG) GetOrCreateUser(ctx context.Context, name, surname string, defaults User) (User, bool, error) {
	u, err := scanUser(s.db.QueryRow(ctx, `select `+userCols+` from users where name=$1 and surname=$2 limit 1`, name, surname))
	if err == nil {
		return u, false, nil
	}
	if !errors.Is(err, ErrNotFound) {
		return User{}, false, err
	}
	defaults.Name = name
	defaults.Surname = surname
	if defaults.ContractType == "" {
		defaults.ContractType = ContractInternal
	}
	defaults.Active = true
	u, err = s.CreateUser(ctx, defaults)
	return u, err == nil, err
}

func (s *PG) GetOrCreateDepartment(ctx context.Context, name string) (Department, bool, error) {
	var d Department
	err := s.db.QueryRow(ctx, `select id, name from departments where name=$1`, name).Scan(&d.ID, &d.Name)
	if err == nil {
		return d, false, nil
	}
	if !errors.Is(pgErr(err), ErrNotFound) {
		return Department{}, false, pgErr(err)
	}
	err = s.db.QueryRow(ctx, `insert into departments (name) values ($1) returning id, name`, name).Scan(&d.ID, &d.Name)
	return d, err == nil, pgErr(err)
}

func (s *PG) ListDepartments(ctx context.Context) ([]Department, error) {
	rows, err := s.db.Query(ctx, `select id, name from departments order by name`)
	if err != nil {
		return nil, pgErr(err)
	}
	defer rows.Close()
	var out []Department
	for rows.Next() {
		var d Department
		if err := rows.Scan(&d.ID, &d.Name); err != nil {
			return nil, err
		}
		out = append(out, d)
	}
	return out, rows.Err()
}

func (s *PG) CreateSite(ctx context.Context, site Site) (Site, error) {
	err := s.db.QueryRow(ctx, `insert into sites (name, address) values ($1, $2) returning id`, site.Name, site.Address).Scan(&site.ID)
	return site, pgErr(err)
}

func (s *PG) ListSites(ctx context.Context) ([]Site, error) {
	rows, err := s.db.Query(ctx, `select id, name, address from sites order by name`)
	if err != nil {
		return nil, pgErr(err)
	}
	defer rows.Close()
	var out []Site
	for rows.Next() {
		var site Site
		if err := rows.Scan(&site.ID, &site.Name, &site.Address); err != nil {
			return nil, err
		}
		out = append(out, site)
	}
	return out, rows.Err()
}

const assignmentCols = `id, device_id, user_id, assigned_on, returned_on`

func scanAssignment(row pgx.Row) (Assignment, error) {
	var a Assignment
	err := row.Scan(&a.ID, &a.DeviceID, &a.UserID, &a.AssignedOn, &a.ReturnedOn)
	return a, pgErr(err)
}

func (s *PG) InsertAssignment(ctx context.Context, a Assignment) (Assignment, error) {
	const q = `insert into assignments (device_id, user_id, assigned_on, returned_on)
		values ($1, $2, $3, $4) returning ` + assignmentCols
	return scanAssignment(s.db.QueryRow(ctx, q, a.DeviceID, a.UserID, a.AssignedOn, a.ReturnedOn))
}

func (s *PG) UpdateAssignment(ctx context.Context, a Assignment) error {
	tag, err := s.db.Exec(ctx, `update assignments set device_id=$1, user_id=$2, assigned_on=$3, returned_on=$4 where id=$5`,
		a.DeviceID, a.UserID, a.AssignedOn, a.ReturnedOn, a.ID)
	if err != nil {
		return pgErr(err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *PG) GetAssignment(ctx context.Context, id int64) (Assignment, error) {
	return scanAssignment(s.db.QueryRow(ctx, `select `+assignmentCols+` from assignments where id=$1`, id))
}

func (s *PG) ActiveAssignmentForDevice(ctx context.Context, deviceID int64) (Assignment, error) {
	return scanAssignment(s.db.QueryRow(ctx,
		`select `+assignmentCols+` from assignments where device_id=$1 and returned_on is null order by id limit 1`, deviceID))
}

func (s *PG) assignmentsBy(ctx context.Context, col string, id int64) ([]Assignment, error) {
	rows, err := s.db.Query(ctx,
		`select `+assignmentCols+` from assignments where `+col+`=$1 order by assigned_on desc, id desc`, id)
	if err != nil {
		return nil, pgErr(err)
	}
	defer rows.Close()
	var out []Assignment
	for rows.Next() {
		a, err := scanAssignment(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

func (s *PG) AssignmentsForDevice(ctx context.Context, deviceID int64) ([]Assignment, error) {
	return s.assignmentsBy(ctx, "device_id", deviceID)
}

func (s *PG) AssignmentsForUser(ctx context.Context, userID int64) ([]Assignment, error) {
	return s.assignmentsBy(ctx, "user_id", userID)
}

const prepCols = `id, request_type, status, category, site_id, technician,
	new_hire_name, new_hire_surname, entry_date, new_hire_department, new_hire_contract,
	existing_user_id, old_device_id, replacement_reason, new_device_id,
	helpdesk_ticket, requested_pc_type, software_notes, planned_at,
	mail_sent, data_in_scsm, in_ars, delivery_sent, assignment_id`

func scanPreparation(row pgx.Row) (Preparation, error) {
	var p Preparation
	err := row.Scan(&p.ID, &p.RequestType, &p.Status, &p.Category, &p.SiteID, &p.Technician,
		&p.NewHireName, &p.NewHireSurname, &p.EntryDate, &p.NewHireDepartment, &p.NewHireContract,
		&p.ExistingUserID, &p.OldDeviceID, &p.ReplacementReason, &p.NewDeviceID,
		&p.HelpdeskTicket, &p.RequestedPCType, &p.SoftwareNotes, &p.PlannedAt,
		&p.MailSent, &p.DataInSCSM, &p.InARS, &p.DeliverySent, &p.AssignmentID)
	return p, pgErr(err)
}

func (s *PG) InsertPreparation(ctx context.Context, p Preparation) (Preparation, error) {
	const q = `insert into preparations (request_type, status, category, site_id, technician,
		new_hire_name, new_hire_surname, entry_date, new_hire_department, new_hire_contract,
		existing_user_id, old_device_id, replacement_reason, new_device_id,
		helpdesk_ticket, requested_pc_type, software_notes, planned_at,
		mail_sent, data_in_scsm, in_ars, delivery_sent, assignment_id)
		values ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18,$19,$20,$21,$22,$23)
		returning ` + prepCols
	return scanPreparation(s.db.QueryRow(ctx, q, p.RequestType, p.Status, p.Category, p.SiteID, p.Technician,
		p.NewHireName, p.NewHireSurname, p.EntryDate, p.NewHireDepartment, p.NewHireContract,
		p.ExistingUserID, p.OldDeviceID, p.ReplacementReason, p.NewDeviceID,
		p.HelpdeskTicket, p.RequestedPCType, p.SoftwareNotes, p.PlannedAt,
		p.MailSent, p.DataInSCSM, p.InARS, p.DeliverySent, p.AssignmentID))
}

func (s *PG) UpdatePreparation(ctx context.Context, p Preparation) error {
	const q = `update preparations set request_type=$1, status=$2, category=$3, site_id=$4, technician=$5,
		new_hire_name=$6, new_hire_surname=$7, entry_date=$8, new_hire_department=$9, new_hire_contract=$10,
		existing_user_id=$11, old_device_id=$12, replacement_reason=$13, new_device_id=$14,
		helpdesk_ticket=$15, requested_pc_type=$16, software_notes=$17, planned_at=$18,
		mail_sent=$19, data_in_scsm=$20, in_ars=$21, delivery_sent=$22, assignment_id=$23
		where id=$24`
	tag, err := s.db.Exec(ctx, q, p.RequestType, p.Status, p.Category, p.SiteID, p.Technician,
		p.NewHireName, p.NewHireSurname, p.EntryDate, p.NewHireDepartment, p.NewHireContract,
		p.ExistingUserID, p.OldDeviceID, p.ReplacementReason, p.NewDeviceID,
		p.HelpdeskTicket, p.RequestedPCType, p.SoftwareNotes, p.PlannedAt,
		p.MailSent, p.DataInSCSM, p.InARS, p.DeliverySent, p.AssignmentID, p.ID)
	if err != nil {
		return pgErr(err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *PG) GetPreparation(ctx context.Context, id int64) (Preparation, error) {
	return scanPreparation(s.db.QueryRow(ctx, `select `+prepCols+` from preparations where id=$1`, id))
}

func (s *PG) DeletePreparation(ctx context.Context, id int64) error {
	tag, err := s.db.Exec(ctx, `delete from preparations where id=$1`, id)
	if err != nil {
		return pgErr(err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *PG) ListPreparations(ctx context.Context) ([]Preparation, error) {
	rows, err := s.db.Query(ctx, `select `+prepCols+` from preparations order by id desc`)
	if err != nil {
		return nil, pgErr(err)
	}
	defer rows.Close()
	var out []Preparation
	for rows.Next() {
		p, err := scanPreparation(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

func (s *PG) CountAvailableNeverAssigned(ctx context.Context) (office, cad, total int, err error) {
	const q = `select
		count(*) filter (where category='office'),
		count(*) filter (where category='cad'),
		count(*)
		from devices d
		where d.status='available' and not exists (select 1 from assignments a where a.device_id=d.id)`
	err = pgErr(s.db.QueryRow(ctx, q).Scan(&office, &cad, &total))
	return
}

func (s *PG) CountOpenPreparations(ctx context.Context) (int, error) {
	var n int
	err := s.db.QueryRow(ctx, `select count(*) from preparations where status <> 'completed'`).Scan(&n)
	return n, pgErr(err)
}

func (s *PG) OldestAssignedDevices(ctx context.Context, limit int) ([]Device, error) {
	return s.deviceList(ctx, `select `+deviceCols+` from devices where status='assigned' order by purchase_date nulls last limit $1`, limit)
}

func (s *PG) deviceList(ctx context.Context, q string, args ...any) ([]Device, error) {
	rows, err := s.db.Query(ctx, q, args...)
	if err != nil {
		return nil, pgErr(err)
	}
	defer rows.Close()
	var out []Device
	for rows.Next() {
		d, err := scanDevice(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, d)
	}
	return out, rows.Err()
}

func (s *PG) UpcomingPreparations(ctx context.Context, from time.Time, limit int) ([]Preparation, error) {
	rows, err := s.db.Query(ctx, `select `+prepCols+` from preparations
		where planned_at >= $1 and status <> 'completed' order by planned_at limit $2`, from, limit)
	if err != nil {
		return nil, pgErr(err)
	}
	defer rows.Close()
	var out []Preparation
	for rows.Next() {
		p, err := scanPreparation(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

func (s *PG) countBuckets(ctx context.Context, q string) ([]CategoryCount, error) {
	rows, err := s.db.Query(ctx, q)
	if err != nil {
		return nil, pgErr(err)
	}
	defer rows.Close()
	var out []CategoryCount
	for rows.Next() {
		var c CategoryCount
		if err := rows.Scan(&c.Label, &c.Count); err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

func (s *PG) AvailableCountByCategory(ctx context.Context) ([]CategoryCount, error) {
	return s.countBuckets(ctx, `select category, count(*) from devices where status='available' group by category order by category`)
}

func (s *PG) DeviceCountByBrand(ctx context.Context) ([]CategoryCount, error) {
	return s.countBuckets(ctx, `select brand, count(*) from devices group by brand order by count(*) desc`)
}

func (s *PG) MonthlyAssignmentCounts(ctx context.Context) ([]MonthlyAssignments, error) {
	const q = `select date_trunc('month', a.assigned_on) as month,
		count(*) filter (where d.category='office'),
		count(*) filter (where d.category='cad')
		from assignments a join devices d on d.id=a.device_id
		group by month order by month`
	rows, err := s.db.Query(ctx, q)
	if err != nil {
		return nil, pgErr(err)
	}
	defer rows.Close()
	var out []MonthlyAssignments
	for rows.Next() {
		var m MonthlyAssignments
		if err := rows.Scan(&m.Month, &m.Office, &m.CAD); err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

func (s *PG) PreparationReasonCounts(ctx context.Context, from, to time.Time) (ReasonCounts, error) {
	const q = `select
		count(*) filter (where request_type='new_hire' and category='standard'),
		count(*) filter (where request_type='new_hire' and category in ('intern','temp')),
		count(*) filter (where request_type='replacement' or category in ('reassignment','extra'))
		from preparations
		where status='completed' and planned_at >= $1 and planned_at < $2`
	var rc ReasonCounts
	err := s.db.QueryRow(ctx, q, from, to).Scan(&rc.NewStaff, &rc.InternTemp, &rc.ReplacementExtra)
	return rc, pgErr(err)
}

func (s *PG) ScrappedDevices(ctx context.Context) ([]Device, error) {
	return s.deviceList(ctx, `select `+deviceCols+` from devices where status='scrapped' order by hostname`)
}

func (s *PG) DevicesAssignedToUser(ctx context.Context, userID int64) ([]Device, error) {
	return s.deviceList(ctx, `select `+deviceCols+` from devices d
		join assignments a on a.device_id=d.id
		where d.status='assigned' and a.user_id=$1 and a.returned_on is null
		order by d.hostname`, userID)
}

func (s *PG) AvailableDevicesByCategory(ctx context.Context, cat DeviceCategory) ([]Device, error) {
	return s.deviceList(ctx, `select `+deviceCols+` from devices where status='available' and category=$1 order by hostname`, cat)
}

func (s *PG) SearchUsers(ctx context.Context, q string) ([]User, error) {
	rows, err := s.db.Query(ctx, `select `+userCols+` from users where name ilike $1 or surname ilike $1 order by surname, name`, "%"+q+"%")
	if err != nil {
		return nil, pgErr(err)
	}
	defer rows.Close()
	var out []User
	for rows.Next() {
		u, err := scanUser(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, u)
	}
	return out, rows.Err()
}

func (s *PG) SearchPreparations(ctx context.Context, q string) ([]Preparation, error) {
	const sql = `select ` + prepCols + ` from preparations p
		where p.helpdesk_ticket ilike $1
		or p.new_hire_name ilike $1 or p.new_hire_surname ilike $1
		or exists (select 1 from users u where u.id=p.existing_user_id and (u.name ilike $1 or u.surname ilike $1))
		or p.id::text = $2
		order by p.id desc`
	rows, err := s.db.Query(ctx, sql, "%"+q+"%", q)
	if err != nil {
		return nil, pgErr(err)
	}
	defer rows.Close()
	var out []Preparation
	for rows.Next() {
		p, err := scanPreparation(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}
