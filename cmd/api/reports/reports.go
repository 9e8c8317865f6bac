// Package reports serves the dashboard, the chart data feeds and the
// cross-entity search. Everything here is read only.
package reports

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	app "github.com/ptessari/devicedesk-go/cmd/api/app"
	"github.com/ptessari/devicedesk-go/internal/store"
)

// Dashboard handles GET /dashboard: stock counters, the twenty oldest
// assigned devices and the next planned preparations.
func Dashboard(a *app.App) gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx := c.Request.Context()
		office, cad, total, err := a.Store.CountAvailableNeverAssigned(ctx)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		open, err := a.Store.CountOpenPreparations(ctx)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		oldest, err := a.Store.OldestAssignedDevices(ctx, 20)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		upcoming, err := a.Store.UpcomingPreparations(ctx, time.Now(), 20)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		if oldest == nil {
			oldest = []store.Device{}
		}
		if upcoming == nil {
			upcoming = []store.Preparation{}
		}
		c.JSON(http.StatusOK, gin.H{
			"available_new":         gin.H{"office": office, "cad": cad, "total": total},
			"open_preparations":     open,
			"oldest_assigned":       oldest,
			"upcoming_preparations": upcoming,
		})
	}
}

// AvailableByCategory handles GET /charts/available-by-category.
func AvailableByCategory(a *app.App) gin.HandlerFunc {
	return func(c *gin.Context) {
		out, err := a.Store.AvailableCountByCategory(c.Request.Context())
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, chartPayload(out))
	}
}

// DevicesByBrand handles GET /charts/devices-by-brand, most common brand
// first.
func DevicesByBrand(a *app.App) gin.HandlerFunc {
	return func(c *gin.Context) {
		out, err := a.Store.DeviceCountByBrand(c.Request.Context())
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, chartPayload(out))
	}
}

func chartPayload(counts []store.CategoryCount) gin.H {
	labels := make([]string, 0, len(counts))
	data := make([]int, 0, len(counts))
	for _, cc := range counts {
		labels = append(labels, cc.Label)
		data = append(data, cc.Count)
	}
	return gin.H{"labels": labels, "data": data}
}

// MonthlyAssignments handles GET /charts/monthly-assignments, one bucket
// per month split between office and CAD hardware.
func MonthlyAssignments(a *app.App) gin.HandlerFunc {
	return func(c *gin.Context) {
		out, err := a.Store.MonthlyAssignmentCounts(c.Request.Context())
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		labels := make([]string, 0, len(out))
		office := make([]int, 0, len(out))
		cad := make([]int, 0, len(out))
		for _, m := range out {
			labels = append(labels, m.Month.Format("2006-01"))
			office = append(office, m.Office)
			cad = append(cad, m.CAD)
		}
		c.JSON(http.StatusOK, gin.H{"labels": labels, "office": office, "cad": cad})
	}
}

// PreparationReasons handles GET /charts/preparation-reasons: finalized
// preparations planned since January 1st three years back, bucketed into
// new staff, interns and temps, replacements and extras.
func PreparationReasons(a *app.App) gin.HandlerFunc {
	return func(c *gin.Context) {
		now := time.Now()
		from := time.Date(now.Year()-3, time.January, 1, 0, 0, 0, 0, time.UTC)
		out, err := a.Store.PreparationReasonCounts(c.Request.Context(), from, now)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{
			"labels": []string{"new staff", "interns and temps", "replacements and extras"},
			"data":   []int{out.NewStaff, out.InternTemp, out.ReplacementExtra},
		})
	}
}

// Scrapped handles GET /reports/scrapped.
func Scrapped(a *app.App) gin.HandlerFunc {
	return func(c *gin.Context) {
		out, err := a.Store.ScrappedDevices(c.Request.Context())
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		if out == nil {
			out = []store.Device{}
		}
		c.JSON(http.StatusOK, out)
	}
}

// Search handles GET /search?q=..., matching devices by hostname, asset
// tag or model, users by name or surname and preparations by helpdesk
// ticket, user name or id.
func Search(a *app.App) gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx := c.Request.Context()
		q := c.Query("q")
		devices := []store.Device{}
		users := []store.User{}
		preparations := []store.Preparation{}
		if q != "" {
			var err error
			devices, err = a.Store.ListDevices(ctx, store.DeviceFilter{Query: q})
			if err != nil {
				c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
				return
			}
			users, err = a.Store.SearchUsers(ctx, q)
			if err != nil {
				c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
				return
			}
			preparations, err = a.Store.SearchPreparations(ctx, q)
			if err != nil {
				c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
				return
			}
		}
		if devices == nil {
			devices = []store.Device{}
		}
		if users == nil {
			users = []store.User{}
		}
		if preparations == nil {
			preparations = []store.Preparation{}
		}
		c.JSON(http.StatusOK, gin.H{
			"query":        q,
			"devices":      devices,
			"users":        users,
			"preparations": preparations,
		})
	}
}
