package devices

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"

	apppkg "github.com/ptessari/devicedesk-go/cmd/api/app"
	authpkg "github.com/ptessari/devicedesk-go/cmd/api/auth"
	"github.com/ptessari/devicedesk-go/internal/store"
)

func newTestApp(t *testing.T) *apppkg.App {
	t.Helper()
	gin.SetMode(gin.TestMode)
	cfg := apppkg.Config{Env: "test", TestBypassAuth: true}
	a := apppkg.NewApp(cfg, nil, nil, nil)
	a.R.GET("/devices", authpkg.Middleware(a), List(a))
	a.R.POST("/devices", authpkg.Middleware(a), Create(a))
	a.R.POST("/devices/batch", authpkg.Middleware(a), CreateBatch(a))
	a.R.POST("/devices/delete", authpkg.Middleware(a), DeleteMany(a))
	a.R.GET("/devices/:id", authpkg.Middleware(a), Get(a))
	a.R.PUT("/devices/:id", authpkg.Middleware(a), Update(a))
	a.R.PATCH("/devices/:id/status", authpkg.Middleware(a), UpdateStatus(a))
	a.R.DELETE("/devices/:id", authpkg.Middleware(a), Delete(a))
	return a
}

func do(t *testing.T, a *apppkg.App, method, url, body string) *httptest.ResponseRecorder {
	t.Helper()
	rr := httptest.NewRecorder()
	req := httptest.NewRequest(method, url, strings.NewReader(body))
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	a.R.ServeHTTP(rr, req)
	return rr
}

func TestDeviceCRUD(t *testing.T) {
	a := newTestApp(t)

	rr := do(t, a, http.MethodPost, "/devices", `{"hostname":"IGITMONCL0100","asset_tag":"100","serial_number":"SN100","category":"office","brand":"HP","model":"EliteBook 840"}`)
	if rr.Code != http.StatusCreated {
		t.Fatalf("create: expected 201, got %d: %s", rr.Code, rr.Body.String())
	}
	var d store.Device
	if err := json.Unmarshal(rr.Body.Bytes(), &d); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if d.Status != store.StatusAvailable {
		t.Fatalf("expected new device to be available, got %q", d.Status)
	}

	// duplicate hostname
	rr = do(t, a, http.MethodPost, "/devices", `{"hostname":"IGITMONCL0100","category":"office","brand":"HP","model":"EliteBook 840"}`)
	if rr.Code != http.StatusConflict {
		t.Fatalf("duplicate: expected 409, got %d", rr.Code)
	}

	rr = do(t, a, http.MethodGet, "/devices/1", "")
	if rr.Code != http.StatusOK {
		t.Fatalf("get: expected 200, got %d", rr.Code)
	}
	var detail struct {
		Device        store.Device       `json:"device"`
		CurrentHolder *store.User        `json:"current_holder"`
		History       []store.Assignment `json:"history"`
	}
	if err := json.Unmarshal(rr.Body.Bytes(), &detail); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if detail.CurrentHolder != nil {
		t.Fatalf("expected no holder for an unassigned device")
	}
	if len(detail.History) != 0 {
		t.Fatalf("expected empty history, got %d entries", len(detail.History))
	}

	rr = do(t, a, http.MethodPut, "/devices/1", `{"hostname":"IGITMONCL0100","asset_tag":"100","serial_number":"SN100","category":"cad","brand":"HP","model":"ZBook Fury","status":"available"}`)
	if rr.Code != http.StatusOK {
		t.Fatalf("update: expected 200, got %d: %s", rr.Code, rr.Body.String())
	}

	rr = do(t, a, http.MethodPatch, "/devices/1/status", `{"status":"broken"}`)
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("bad status: expected 400, got %d", rr.Code)
	}
	var env apppkg.Envelope
	if err := json.Unmarshal(rr.Body.Bytes(), &env); err != nil {
		t.Fatal(err)
	}
	if env.Error == nil || env.Error.Code != "validation" || env.Error.FieldErrors["status"] != "devicestatus" {
		t.Fatalf("unexpected error envelope: %s", rr.Body.String())
	}

	rr = do(t, a, http.MethodPatch, "/devices/1/status", `{"status":"scrapped"}`)
	if rr.Code != http.StatusOK {
		t.Fatalf("status: expected 200, got %d", rr.Code)
	}
	got, err := a.Store.GetDevice(context.Background(), 1)
	if err != nil {
		t.Fatal(err)
	}
	if got.Status != store.StatusScrapped {
		t.Fatalf("expected scrapped, got %q", got.Status)
	}

	rr = do(t, a, http.MethodDelete, "/devices/1", "")
	if rr.Code != http.StatusOK {
		t.Fatalf("delete: expected 200, got %d", rr.Code)
	}
	rr = do(t, a, http.MethodGet, "/devices/1", "")
	if rr.Code != http.StatusNotFound {
		t.Fatalf("get after delete: expected 404, got %d", rr.Code)
	}
}

func TestDeviceDeleteGuard(t *testing.T) {
	a := newTestApp(t)
	ctx := context.Background()

	d, err := a.Store.CreateDevice(ctx, store.Device{Hostname: "IGITMONCL0200", Category: store.CategoryOffice, Brand: "HP", Model: "840", Status: store.StatusAssigned})
	if err != nil {
		t.Fatal(err)
	}
	u, err := a.Store.CreateUser(ctx, store.User{Name: "Mario", Surname: "Rossi", ContractType: store.ContractInternal, Active: true})
	if err != nil {
		t.Fatal(err)
	}
	if _, err := a.Store.InsertAssignment(ctx, store.Assignment{DeviceID: d.ID, UserID: u.ID, AssignedOn: time.Now()}); err != nil {
		t.Fatal(err)
	}

	rr := do(t, a, http.MethodDelete, "/devices/1", "")
	if rr.Code != http.StatusConflict {
		t.Fatalf("expected 409 for assigned device, got %d", rr.Code)
	}

	// bulk delete silently skips the assigned device
	d2, err := a.Store.CreateDevice(ctx, store.Device{Hostname: "IGITMONCL0201", Category: store.CategoryOffice, Brand: "HP", Model: "840", Status: store.StatusAvailable})
	if err != nil {
		t.Fatal(err)
	}
	rr = do(t, a, http.MethodPost, "/devices/delete", `{"ids":[1,2,999]}`)
	if rr.Code != http.StatusOK {
		t.Fatalf("bulk delete: expected 200, got %d", rr.Code)
	}
	var out struct {
		Deleted int `json:"deleted"`
	}
	if err := json.Unmarshal(rr.Body.Bytes(), &out); err != nil {
		t.Fatal(err)
	}
	if out.Deleted != 1 {
		t.Fatalf("expected 1 deleted, got %d", out.Deleted)
	}
	if _, err := a.Store.GetDevice(ctx, d.ID); err != nil {
		t.Fatalf("assigned device should survive bulk delete: %v", err)
	}
	if _, err := a.Store.GetDevice(ctx, d2.ID); err == nil {
		t.Fatalf("available device should be gone")
	}
}

func TestDeviceBatchCreate(t *testing.T) {
	a := newTestApp(t)
	ctx := context.Background()

	// occupy tag 301 so the batch has to skip it
	tag := "301"
	if _, err := a.Store.CreateDevice(ctx, store.Device{Hostname: "existing", AssetTag: &tag, Category: store.CategoryOffice, Brand: "HP", Model: "840", Status: store.StatusAvailable}); err != nil {
		t.Fatal(err)
	}

	rr := do(t, a, http.MethodPost, "/devices/batch", `{"category":"office","brand":"HP","model":"EliteBook 840","type_hint":"notebook","start_asset_tag":300,"count":3}`)
	if rr.Code != http.StatusCreated {
		t.Fatalf("batch: expected 201, got %d: %s", rr.Code, rr.Body.String())
	}
	var res BatchResult
	if err := json.Unmarshal(rr.Body.Bytes(), &res); err != nil {
		t.Fatal(err)
	}
	if len(res.Created) != 2 {
		t.Fatalf("expected 2 created, got %d", len(res.Created))
	}
	if len(res.Skipped) != 1 || !strings.Contains(res.Skipped[0], "301") {
		t.Fatalf("expected tag 301 skipped, got %v", res.Skipped)
	}
	if res.Created[0].Hostname != "IGITMONCL0300" {
		t.Fatalf("expected notebook prefix hostname, got %q", res.Created[0].Hostname)
	}
	if res.Created[0].SerialNumber == nil || *res.Created[0].SerialNumber != "300" {
		t.Fatalf("expected serial to mirror the asset tag")
	}

	rr = do(t, a, http.MethodPost, "/devices/batch", `{"category":"cad","brand":"HP","model":"Z4","type_hint":"desktop","start_asset_tag":400,"count":1}`)
	if rr.Code != http.StatusCreated {
		t.Fatalf("desktop batch: expected 201, got %d", rr.Code)
	}
	if err := json.Unmarshal(rr.Body.Bytes(), &res); err != nil {
		t.Fatal(err)
	}
	if res.Created[0].Hostname != "IGITMONCD0400" {
		t.Fatalf("expected desktop prefix hostname, got %q", res.Created[0].Hostname)
	}
}

func TestDeviceListFilters(t *testing.T) {
	a := newTestApp(t)
	ctx := context.Background()

	seed := []store.Device{
		{Hostname: "IGITMONCL0001", Category: store.CategoryOffice, Brand: "HP", Model: "EliteBook 840", Status: store.StatusAvailable},
		{Hostname: "IGITMONCL0002", Category: store.CategoryCAD, Brand: "HP", Model: "ZBook Fury", Status: store.StatusAssigned},
		{Hostname: "IGITMONCD0003", Category: store.CategoryCAD, Brand: "HP", Model: "Z4 G5", Status: store.StatusAvailable},
	}
	for _, d := range seed {
		if _, err := a.Store.CreateDevice(ctx, d); err != nil {
			t.Fatal(err)
		}
	}

	rr := do(t, a, http.MethodGet, "/devices?status=available", "")
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
	var out []store.Device
	if err := json.Unmarshal(rr.Body.Bytes(), &out); err != nil {
		t.Fatal(err)
	}
	if len(out) != 2 {
		t.Fatalf("status filter: expected 2, got %d", len(out))
	}

	rr = do(t, a, http.MethodGet, "/devices?category=cad&q=fury", "")
	if err := json.Unmarshal(rr.Body.Bytes(), &out); err != nil {
		t.Fatal(err)
	}
	if len(out) != 1 || out[0].Hostname != "IGITMONCL0002" {
		t.Fatalf("combined filter: got %v", out)
	}

	rr = do(t, a, http.MethodGet, "/devices?sort=-hostname", "")
	if err := json.Unmarshal(rr.Body.Bytes(), &out); err != nil {
		t.Fatal(err)
	}
	if len(out) != 3 || out[0].Hostname != "IGITMONCL0002" {
		t.Fatalf("reverse hostname sort: got %v", out)
	}
}
