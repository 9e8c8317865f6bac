package store

import (
	"context"
	"errors"
	"testing"
	"time"
)

var (
	_ Store = (*Mem)(nil)
	_ Store = (*PG)(nil)
)

func strptr(s string) *string { return &s }

func TestMemDeviceUniqueness(t *testing.T) {
	ctx := context.Background()
	m := NewMem()

	d, err := m.CreateDevice(ctx, Device{Hostname: "PC001", AssetTag: strptr("100"), SerialNumber: strptr("SN100"), Status: StatusAvailable})
	if err != nil {
		t.Fatal(err)
	}
	if d.ID == 0 {
		t.Fatal("expected assigned id")
	}

	cases := []Device{
		{Hostname: "PC001"},
		{Hostname: "PC002", AssetTag: strptr("100")},
		{Hostname: "PC003", SerialNumber: strptr("SN100")},
	}
	for _, c := range cases {
		if _, err := m.CreateDevice(ctx, c); !errors.Is(err, ErrConflict) {
			t.Fatalf("create %q: expected ErrConflict, got %v", c.Hostname, err)
		}
	}

	// Updating another device into a taken hostname conflicts too.
	d2, err := m.CreateDevice(ctx, Device{Hostname: "PC004", Status: StatusAvailable})
	if err != nil {
		t.Fatal(err)
	}
	d2.Hostname = "PC001"
	if err := m.UpdateDevice(ctx, d2); !errors.Is(err, ErrConflict) {
		t.Fatalf("update: expected ErrConflict, got %v", err)
	}
}

func TestMemDeviceLookups(t *testing.T) {
	ctx := context.Background()
	m := NewMem()
	if _, err := m.CreateDevice(ctx, Device{Hostname: "PC001", AssetTag: strptr("100"), SerialNumber: strptr("SN100"), Status: StatusAvailable}); err != nil {
		t.Fatal(err)
	}

	if _, err := m.GetDeviceByHostname(ctx, "PC001"); err != nil {
		t.Fatalf("by hostname: %v", err)
	}
	if _, err := m.GetDeviceByAssetTag(ctx, "100"); err != nil {
		t.Fatalf("by tag: %v", err)
	}
	if _, err := m.GetDeviceBySerial(ctx, "SN100"); err != nil {
		t.Fatalf("by serial: %v", err)
	}
	if _, err := m.GetDeviceByHostname(ctx, "PC999"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("miss: expected ErrNotFound, got %v", err)
	}
}

func TestMemListDevicesSort(t *testing.T) {
	ctx := context.Background()
	m := NewMem()
	for _, h := range []string{"PC002", "PC001", "PC003"} {
		if _, err := m.CreateDevice(ctx, Device{Hostname: h, Status: StatusAvailable}); err != nil {
			t.Fatal(err)
		}
	}

	ds, err := m.ListDevices(ctx, DeviceFilter{})
	if err != nil {
		t.Fatal(err)
	}
	if len(ds) != 3 || ds[0].Hostname != "PC001" || ds[2].Hostname != "PC003" {
		t.Fatalf("default sort: %+v", ds)
	}

	ds, err = m.ListDevices(ctx, DeviceFilter{Sort: "-hostname"})
	if err != nil {
		t.Fatal(err)
	}
	if ds[0].Hostname != "PC003" {
		t.Fatalf("reversed sort: first = %s", ds[0].Hostname)
	}
}

func TestMemGetOrCreateUser(t *testing.T) {
	ctx := context.Background()
	m := NewMem()

	u1, created, err := m.GetOrCreateUser(ctx, "Mario", "Rossi", User{ContractType: ContractExternal})
	if err != nil || !created {
		t.Fatalf("first call: created=%v err=%v", created, err)
	}
	if u1.ContractType != ContractExternal || !u1.Active {
		t.Fatalf("defaults not applied: %+v", u1)
	}

	u2, created, err := m.GetOrCreateUser(ctx, "Mario", "Rossi", User{})
	if err != nil || created {
		t.Fatalf("second call: created=%v err=%v", created, err)
	}
	if u2.ID != u1.ID || u2.ContractType != ContractExternal {
		t.Fatalf("existing row changed: %+v", u2)
	}
}

func TestMemActiveAssignment(t *testing.T) {
	ctx := context.Background()
	m := NewMem()
	d, _ := m.CreateDevice(ctx, Device{Hostname: "PC001", Status: StatusAvailable})
	u, _ := m.CreateUser(ctx, User{Name: "Mario", Surname: "Rossi", Active: true})

	if _, err := m.ActiveAssignmentForDevice(ctx, d.ID); !errors.Is(err, ErrNotFound) {
		t.Fatalf("no history: expected ErrNotFound, got %v", err)
	}

	day := 24 * time.Hour
	first, err := m.InsertAssignment(ctx, Assignment{DeviceID: d.ID, UserID: u.ID, AssignedOn: time.Now().Add(-10 * day)})
	if err != nil {
		t.Fatal(err)
	}
	got, err := m.ActiveAssignmentForDevice(ctx, d.ID)
	if err != nil || got.ID != first.ID {
		t.Fatalf("active = %+v, err %v", got, err)
	}

	ret := time.Now()
	first.ReturnedOn = &ret
	if err := m.UpdateAssignment(ctx, first); err != nil {
		t.Fatal(err)
	}
	if _, err := m.ActiveAssignmentForDevice(ctx, d.ID); !errors.Is(err, ErrNotFound) {
		t.Fatalf("after close: expected ErrNotFound, got %v", err)
	}

	history, err := m.AssignmentsForDevice(ctx, d.ID)
	if err != nil || len(history) != 1 {
		t.Fatalf("history = %+v, err %v", history, err)
	}
}

func TestMemListPreparationsNewestFirst(t *testing.T) {
	ctx := context.Background()
	m := NewMem()
	for i := 0; i < 3; i++ {
		if _, err := m.InsertPreparation(ctx, Preparation{RequestType: RequestNewHire, Status: PrepAwaitingSpecs, Category: PrepCategoryStandard}); err != nil {
			t.Fatal(err)
		}
	}
	ps, err := m.ListPreparations(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(ps) != 3 || ps[0].ID <= ps[1].ID || ps[1].ID <= ps[2].ID {
		t.Fatalf("not newest first: %d %d %d", ps[0].ID, ps[1].ID, ps[2].ID)
	}
}

func TestMemSearchUsers(t *testing.T) {
	ctx := context.Background()
	m := NewMem()
	m.CreateUser(ctx, User{Name: "Mario", Surname: "Rossi", Active: true})
	m.CreateUser(ctx, User{Name: "Luigi", Surname: "Bianchi", Active: true})

	got, err := m.SearchUsers(ctx, "ross")
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 1 || got[0].Surname != "Rossi" {
		t.Fatalf("search = %+v", got)
	}
}
