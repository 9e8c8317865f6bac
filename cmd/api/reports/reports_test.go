package reports

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"

	apppkg "github.com/ptessari/devicedesk-go/cmd/api/app"
	"github.com/ptessari/devicedesk-go/cmd/api/assignments"
	authpkg "github.com/ptessari/devicedesk-go/cmd/api/auth"
	"github.com/ptessari/devicedesk-go/internal/store"
)

func newTestApp(t *testing.T) *apppkg.App {
	t.Helper()
	gin.SetMode(gin.TestMode)
	cfg := apppkg.Config{Env: "test", TestBypassAuth: true}
	a := apppkg.NewApp(cfg, nil, nil, nil)
	a.R.GET("/dashboard", authpkg.Middleware(a), Dashboard(a))
	a.R.GET("/charts/available-by-category", authpkg.Middleware(a), AvailableByCategory(a))
	a.R.GET("/charts/devices-by-brand", authpkg.Middleware(a), DevicesByBrand(a))
	a.R.GET("/charts/monthly-assignments", authpkg.Middleware(a), MonthlyAssignments(a))
	a.R.GET("/charts/preparation-reasons", authpkg.Middleware(a), PreparationReasons(a))
	a.R.GET("/reports/scrapped", authpkg.Middleware(a), Scrapped(a))
	a.R.GET("/search", authpkg.Middleware(a), Search(a))
	return a
}

func get(t *testing.T, a *apppkg.App, url string, out interface{}) {
	t.Helper()
	rr := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, url, nil)
	a.R.ServeHTTP(rr, req)
	if rr.Code != http.StatusOK {
		t.Fatalf("GET %s: expected 200, got %d: %s", url, rr.Code, rr.Body.String())
	}
	if err := json.Unmarshal(rr.Body.Bytes(), out); err != nil {
		t.Fatalf("GET %s: decode: %v", url, err)
	}
}

func mkDevice(t *testing.T, a *apppkg.App, hostname string, cat store.DeviceCategory, status store.DeviceStatus, brand string) store.Device {
	t.Helper()
	d, err := a.Store.CreateDevice(context.Background(), store.Device{
		Hostname: hostname, Category: cat, Brand: brand, Model: "m", Status: status,
	})
	if err != nil {
		t.Fatal(err)
	}
	return d
}

func TestDashboard(t *testing.T) {
	a := newTestApp(t)
	ctx := context.Background()

	mkDevice(t, a, "AV1", store.CategoryOffice, store.StatusAvailable, "HP")
	mkDevice(t, a, "AV2", store.CategoryCAD, store.StatusAvailable, "HP")
	used := mkDevice(t, a, "USED", store.CategoryOffice, store.StatusAvailable, "HP")
	u, err := a.Store.CreateUser(ctx, store.User{Name: "A", Surname: "B", ContractType: store.ContractInternal, Active: true})
	if err != nil {
		t.Fatal(err)
	}
	ledger := assignments.NewService(a.Store, nil)
	asg, err := ledger.Open(ctx, used.ID, u.ID, time.Now())
	if err != nil {
		t.Fatal(err)
	}
	// a returned device with history is not "new" stock even when available
	if _, err := ledger.Close(ctx, asg.ID, time.Now()); err != nil {
		t.Fatal(err)
	}
	if err := a.Store.SetDeviceStatus(ctx, used.ID, store.StatusAvailable); err != nil {
		t.Fatal(err)
	}

	future := time.Now().Add(48 * time.Hour)
	if _, err := a.Store.InsertPreparation(ctx, store.Preparation{
		RequestType: store.RequestNewHire, Status: store.PrepAwaitingSpecs,
		Category: store.PrepCategoryStandard, PlannedAt: &future,
	}); err != nil {
		t.Fatal(err)
	}

	var out struct {
		AvailableNew struct {
			Office int `json:"office"`
			CAD    int `json:"cad"`
			Total  int `json:"total"`
		} `json:"available_new"`
		OpenPreparations     int                 `json:"open_preparations"`
		OldestAssigned       []store.Device      `json:"oldest_assigned"`
		UpcomingPreparations []store.Preparation `json:"upcoming_preparations"`
	}
	get(t, a, "/dashboard", &out)
	if out.AvailableNew.Office != 1 || out.AvailableNew.CAD != 1 || out.AvailableNew.Total != 2 {
		t.Fatalf("available new: got %+v", out.AvailableNew)
	}
	if out.OpenPreparations != 1 {
		t.Fatalf("expected 1 open preparation, got %d", out.OpenPreparations)
	}
	if len(out.UpcomingPreparations) != 1 {
		t.Fatalf("expected 1 upcoming preparation, got %d", len(out.UpcomingPreparations))
	}
}

func TestCharts(t *testing.T) {
	a := newTestApp(t)
	ctx := context.Background()

	mkDevice(t, a, "A1", store.CategoryOffice, store.StatusAvailable, "HP")
	mkDevice(t, a, "A2", store.CategoryOffice, store.StatusAvailable, "HP")
	mkDevice(t, a, "A3", store.CategoryCAD, store.StatusAvailable, "Dell")
	mkDevice(t, a, "A4", store.CategoryCAD, store.StatusScrapped, "Dell")

	var chart struct {
		Labels []string `json:"labels"`
		Data   []int    `json:"data"`
	}
	get(t, a, "/charts/available-by-category", &chart)
	if len(chart.Labels) != 2 || chart.Labels[0] != "cad" || chart.Data[0] != 1 || chart.Data[1] != 2 {
		t.Fatalf("available by category: %+v", chart)
	}

	get(t, a, "/charts/devices-by-brand", &chart)
	if len(chart.Labels) != 2 {
		t.Fatalf("devices by brand: %+v", chart)
	}
	if chart.Data[0] < chart.Data[1] {
		t.Fatalf("brand counts must be descending: %+v", chart)
	}

	u, err := a.Store.CreateUser(ctx, store.User{Name: "A", Surname: "B", ContractType: store.ContractInternal, Active: true})
	if err != nil {
		t.Fatal(err)
	}
	ledger := assignments.NewService(a.Store, nil)
	if _, err := ledger.Open(ctx, 1, u.ID, time.Date(2024, 3, 5, 0, 0, 0, 0, time.UTC)); err != nil {
		t.Fatal(err)
	}
	if _, err := ledger.Open(ctx, 3, u.ID, time.Date(2024, 3, 20, 0, 0, 0, 0, time.UTC)); err != nil {
		t.Fatal(err)
	}
	var monthly struct {
		Labels []string `json:"labels"`
		Office []int    `json:"office"`
		CAD    []int    `json:"cad"`
	}
	get(t, a, "/charts/monthly-assignments", &monthly)
	if len(monthly.Labels) != 1 || monthly.Labels[0] != "2024-03" {
		t.Fatalf("monthly labels: %+v", monthly)
	}
	if monthly.Office[0] != 1 || monthly.CAD[0] != 1 {
		t.Fatalf("monthly split: %+v", monthly)
	}
}

func TestPreparationReasons(t *testing.T) {
	a := newTestApp(t)
	ctx := context.Background()

	recent := time.Now().AddDate(0, -6, 0)
	old := time.Now().AddDate(-5, 0, 0)
	rows := []store.Preparation{
		{RequestType: store.RequestNewHire, Status: store.PrepCompleted, Category: store.PrepCategoryStandard, PlannedAt: &recent},
		{RequestType: store.RequestNewHire, Status: store.PrepCompleted, Category: store.PrepCategoryIntern, PlannedAt: &recent},
		{RequestType: store.RequestReplacement, Status: store.PrepCompleted, Category: store.PrepCategoryStandard, PlannedAt: &recent},
		{RequestType: store.RequestNewHire, Status: store.PrepCompleted, Category: store.PrepCategoryExtra, PlannedAt: &recent},
		// outside the three year window
		{RequestType: store.RequestNewHire, Status: store.PrepCompleted, Category: store.PrepCategoryStandard, PlannedAt: &old},
		// not completed
		{RequestType: store.RequestNewHire, Status: store.PrepAwaitingSpecs, Category: store.PrepCategoryStandard, PlannedAt: &recent},
	}
	for _, p := range rows {
		if _, err := a.Store.InsertPreparation(ctx, p); err != nil {
			t.Fatal(err)
		}
	}

	var chart struct {
		Labels []string `json:"labels"`
		Data   []int    `json:"data"`
	}
	get(t, a, "/charts/preparation-reasons", &chart)
	if chart.Data[0] != 1 || chart.Data[1] != 1 || chart.Data[2] != 2 {
		t.Fatalf("reason buckets: %+v", chart)
	}
}

func TestScrappedAndSearch(t *testing.T) {
	a := newTestApp(t)
	ctx := context.Background()

	mkDevice(t, a, "SCRAP1", store.CategoryOffice, store.StatusScrapped, "HP")
	mkDevice(t, a, "LIVE1", store.CategoryOffice, store.StatusAvailable, "HP")
	if _, err := a.Store.CreateUser(ctx, store.User{Name: "Mario", Surname: "Scarpa", ContractType: store.ContractInternal, Active: true}); err != nil {
		t.Fatal(err)
	}
	ticket := "HD-123"
	if _, err := a.Store.InsertPreparation(ctx, store.Preparation{
		RequestType: store.RequestNewHire, Status: store.PrepAwaitingSpecs,
		Category: store.PrepCategoryStandard, HelpdeskTicket: &ticket,
	}); err != nil {
		t.Fatal(err)
	}

	var scrapped []store.Device
	get(t, a, "/reports/scrapped", &scrapped)
	if len(scrapped) != 1 || scrapped[0].Hostname != "SCRAP1" {
		t.Fatalf("scrapped: %+v", scrapped)
	}

	var res struct {
		Query        string              `json:"query"`
		Devices      []store.Device      `json:"devices"`
		Users        []store.User        `json:"users"`
		Preparations []store.Preparation `json:"preparations"`
	}
	get(t, a, "/search?q=scrap", &res)
	if len(res.Devices) != 1 || len(res.Users) != 1 {
		t.Fatalf("search scrap: %d devices, %d users", len(res.Devices), len(res.Users))
	}
	get(t, a, "/search?q=HD-123", &res)
	if len(res.Preparations) != 1 {
		t.Fatalf("search ticket: %+v", res.Preparations)
	}
	get(t, a, "/search?q=", &res)
	if len(res.Devices) != 0 || len(res.Users) != 0 || len(res.Preparations) != 0 {
		t.Fatalf("empty query must return nothing")
	}
}
