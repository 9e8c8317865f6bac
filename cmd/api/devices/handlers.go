package devices

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	app "github.com/ptessari/devicedesk-go/cmd/api/app"
	"github.com/ptessari/devicedesk-go/internal/store"
)

func svc(a *app.App) *Service { return NewService(a.Store, a.Q) }

func deviceID(c *gin.Context) (int64, bool) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid device id"})
		return 0, false
	}
	return id, true
}

// List handles GET /devices with status, category, q and sort filters.
func List(a *app.App) gin.HandlerFunc {
	return func(c *gin.Context) {
		f := store.DeviceFilter{
			Status:   store.DeviceStatus(c.Query("status")),
			Category: store.DeviceCategory(c.Query("category")),
			Query:    c.Query("q"),
			Sort:     c.Query("sort"),
		}
		out, err := svc(a).List(c.Request.Context(), f)
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

// Create handles POST /devices.
func Create(a *app.App) gin.HandlerFunc {
	return func(c *gin.Context) {
		var in CreateInput
		if err := c.ShouldBindJSON(&in); err != nil {
			app.BindError(c, err)
			return
		}
		d, err := svc(a).Create(c.Request.Context(), in)
		if err != nil {
			if errors.Is(err, store.ErrConflict) {
				c.JSON(http.StatusConflict, gin.H{"error": "hostname, asset tag or serial number already exists"})
				return
			}
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusCreated, d)
	}
}

// CreateBatch handles POST /devices/batch.
func CreateBatch(a *app.App) gin.HandlerFunc {
	return func(c *gin.Context) {
		var in BatchInput
		if err := c.ShouldBindJSON(&in); err != nil {
			app.BindError(c, err)
			return
		}
		res, err := svc(a).CreateBatch(c.Request.Context(), in)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusCreated, res)
	}
}

// Get handles GET /devices/:id and includes the assignment history plus the
// derived current holder.
func Get(a *app.App) gin.HandlerFunc {
	return func(c *gin.Context) {
		id, ok := deviceID(c)
		if !ok {
			return
		}
		s := svc(a)
		d, err := s.Get(c.Request.Context(), id)
		if err != nil {
			c.JSON(http.StatusNotFound, gin.H{"error": "device not found"})
			return
		}
		holder, err := s.CurrentHolder(c.Request.Context(), id)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		history, err := a.Store.AssignmentsForDevice(c.Request.Context(), id)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		if history == nil {
			history = []store.Assignment{}
		}
		c.JSON(http.StatusOK, gin.H{"device": d, "current_holder": holder, "history": history})
	}
}

// Update handles PUT /devices/:id with full field replacement.
func Update(a *app.App) gin.HandlerFunc {
	return func(c *gin.Context) {
		id, ok := deviceID(c)
		if !ok {
			return
		}
		var in CreateInput
		if err := c.ShouldBindJSON(&in); err != nil {
			app.BindError(c, err)
			return
		}
		d, err := svc(a).Update(c.Request.Context(), id, in)
		switch {
		case errors.Is(err, store.ErrNotFound):
			c.JSON(http.StatusNotFound, gin.H{"error": "device not found"})
		case errors.Is(err, store.ErrConflict):
			c.JSON(http.StatusConflict, gin.H{"error": "hostname, asset tag or serial number already exists"})
		case err != nil:
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		default:
			c.JSON(http.StatusOK, d)
		}
	}
}

// UpdateStatus handles PATCH /devices/:id/status for the manual
// registration, reclamation and scrapping flows.
func UpdateStatus(a *app.App) gin.HandlerFunc {
	return func(c *gin.Context) {
		id, ok := deviceID(c)
		if !ok {
			return
		}
		var in struct {
			Status store.DeviceStatus `json:"status" binding:"required,devicestatus"`
		}
		if err := c.ShouldBindJSON(&in); err != nil {
			app.BindError(c, err)
			return
		}
		if err := svc(a).UpdateStatus(c.Request.Context(), id, in.Status); err != nil {
			if errors.Is(err, store.ErrNotFound) {
				c.JSON(http.StatusNotFound, gin.H{"error": "device not found"})
				return
			}
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{"ok": true})
	}
}

// Delete handles DELETE /devices/:id. Assigned devices are refused.
func Delete(a *app.App) gin.HandlerFunc {
	return func(c *gin.Context) {
		id, ok := deviceID(c)
		if !ok {
			return
		}
		err := svc(a).Delete(c.Request.Context(), id)
		switch {
		case errors.Is(err, ErrAssigned):
			c.JSON(http.StatusConflict, gin.H{"error": "cannot delete a device that is currently assigned"})
		case errors.Is(err, store.ErrNotFound):
			c.JSON(http.StatusNotFound, gin.H{"error": "device not found"})
		case err != nil:
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		default:
			c.JSON(http.StatusOK, gin.H{"ok": true})
		}
	}
}

// DeleteMany handles POST /devices/delete, removing the selected devices
// and silently skipping assigned ones.
func DeleteMany(a *app.App) gin.HandlerFunc {
	return func(c *gin.Context) {
		var in struct {
			IDs []int64 `json:"ids" binding:"required"`
		}
		if err := c.ShouldBindJSON(&in); err != nil {
			app.BindError(c, err)
			return
		}
		n, err := svc(a).DeleteMany(c.Request.Context(), in.IDs)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{"deleted": n})
	}
}
