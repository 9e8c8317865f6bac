package preparations

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	app "github.com/ptessari/devicedesk-go/cmd/api/app"
	"github.com/ptessari/devicedesk-go/cmd/api/auth"
	"github.com/ptessari/devicedesk-go/internal/store"
)

func svc(a *app.App) *Service { return NewService(a.Store, a.Q) }

func prepID(c *gin.Context) (int64, bool) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid preparation id"})
		return 0, false
	}
	return id, true
}

// List handles GET /preparations, newest first.
func List(a *app.App) gin.HandlerFunc {
	return func(c *gin.Context) {
		out, err := svc(a).List(c.Request.Context())
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		if out == nil {
			out = []store.Preparation{}
		}
		c.JSON(http.StatusOK, out)
	}
}

// Create handles POST /preparations. Saving reserves the linked device.
func Create(a *app.App) gin.HandlerFunc {
	return func(c *gin.Context) {
		var in Input
		if err := c.ShouldBindJSON(&in); err != nil {
			app.BindError(c, err)
			return
		}
		p, err := svc(a).Create(c.Request.Context(), in)
		if err != nil {
			if errors.Is(err, store.ErrNotFound) {
				c.JSON(http.StatusBadRequest, gin.H{"error": "linked device not found"})
				return
			}
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusCreated, p)
	}
}

// Get handles GET /preparations/:id.
func Get(a *app.App) gin.HandlerFunc {
	return func(c *gin.Context) {
		id, ok := prepID(c)
		if !ok {
			return
		}
		p, err := svc(a).Get(c.Request.Context(), id)
		if err != nil {
			c.JSON(http.StatusNotFound, gin.H{"error": "preparation not found"})
			return
		}
		c.JSON(http.StatusOK, p)
	}
}

// Update handles PUT /preparations/:id with full field replacement.
func Update(a *app.App) gin.HandlerFunc {
	return func(c *gin.Context) {
		id, ok := prepID(c)
		if !ok {
			return
		}
		var in Input
		if err := c.ShouldBindJSON(&in); err != nil {
			app.BindError(c, err)
			return
		}
		p, err := svc(a).Update(c.Request.Context(), id, in)
		if err != nil {
			if errors.Is(err, store.ErrNotFound) {
				c.JSON(http.StatusNotFound, gin.H{"error": "preparation not found"})
				return
			}
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, p)
	}
}

// UpdateChecklist handles PATCH /preparations/:id/checklist.
func UpdateChecklist(a *app.App) gin.HandlerFunc {
	return func(c *gin.Context) {
		id, ok := prepID(c)
		if !ok {
			return
		}
		var in Checklist
		if err := c.ShouldBindJSON(&in); err != nil {
			app.BindError(c, err)
			return
		}
		p, err := svc(a).UpdateChecklist(c.Request.Context(), id, in)
		if err != nil {
			if errors.Is(err, store.ErrNotFound) {
				c.JSON(http.StatusNotFound, gin.H{"error": "preparation not found"})
				return
			}
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, p)
	}
}

// Finalize handles POST /preparations/:id/finalize.
func Finalize(a *app.App) gin.HandlerFunc {
	return func(c *gin.Context) {
		id, ok := prepID(c)
		if !ok {
			return
		}
		p, err := svc(a).Finalize(c.Request.Context(), id, auth.CurrentTechnician(c))
		switch {
		case errors.Is(err, ErrNoNewDevice):
			c.JSON(http.StatusBadRequest, gin.H{"error": "a new device must be linked before finalizing"})
		case errors.Is(err, store.ErrNotFound):
			c.JSON(http.StatusNotFound, gin.H{"error": "preparation not found"})
		case err != nil:
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		default:
			c.JSON(http.StatusOK, p)
		}
	}
}

// Delete handles DELETE /preparations/:id and releases the reservation.
func Delete(a *app.App) gin.HandlerFunc {
	return func(c *gin.Context) {
		id, ok := prepID(c)
		if !ok {
			return
		}
		if err := svc(a).Delete(c.Request.Context(), id); err != nil {
			if errors.Is(err, store.ErrNotFound) {
				c.JSON(http.StatusNotFound, gin.H{"error": "preparation not found"})
				return
			}
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{"ok": true})
	}
}

// UserDevices handles GET /preparations/lookup/user-devices?user_id=N,
// listing the devices currently assigned to a user. The replacement form
// uses it to pick the old device.
func UserDevices(a *app.App) gin.HandlerFunc {
	return func(c *gin.Context) {
		id, err := strconv.ParseInt(c.Query("user_id"), 10, 64)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid user_id"})
			return
		}
		out, err := a.Store.DevicesAssignedToUser(c.Request.Context(), id)
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

// AvailableDevices handles GET /preparations/lookup/available?category=cad,
// listing available devices of one category for the new-device picker.
func AvailableDevices(a *app.App) gin.HandlerFunc {
	return func(c *gin.Context) {
		cat := store.DeviceCategory(c.Query("category"))
		if cat == "" {
			c.JSON(http.StatusBadRequest, gin.H{"error": "category is required"})
			return
		}
		out, err := a.Store.AvailableDevicesByCategory(c.Request.Context(), cat)
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
