package assignments

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	app "github.com/ptessari/devicedesk-go/cmd/api/app"
	"github.com/ptessari/devicedesk-go/internal/store"
)

func svc(a *app.App) *Service { return NewService(a.Store, a.Q) }

func pathID(c *gin.Context, name string) (int64, bool) {
	id, err := strconv.ParseInt(c.Param(name), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid " + name})
		return 0, false
	}
	return id, true
}

// dateOrNow accepts "2006-01-02" or RFC 3339 and defaults to today.
func dateOrNow(s string) (time.Time, error) {
	if s == "" {
		return time.Now(), nil
	}
	if t, err := time.Parse("2006-01-02", s); err == nil {
		return t, nil
	}
	return time.Parse(time.RFC3339, s)
}

// Open handles POST /assignments.
func Open(a *app.App) gin.HandlerFunc {
	return func(c *gin.Context) {
		var in struct {
			DeviceID   int64  `json:"device_id" binding:"required"`
			UserID     int64  `json:"user_id" binding:"required"`
			AssignedOn string `json:"assigned_on"`
		}
		if err := c.ShouldBindJSON(&in); err != nil {
			app.BindError(c, err)
			return
		}
		on, err := dateOrNow(in.AssignedOn)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid assigned_on date"})
			return
		}
		out, err := svc(a).Open(c.Request.Context(), in.DeviceID, in.UserID, on)
		if err != nil {
			if errors.Is(err, store.ErrNotFound) {
				c.JSON(http.StatusNotFound, gin.H{"error": "device or user not found"})
				return
			}
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusCreated, out)
	}
}

// Close handles POST /assignments/:id/close.
func Close(a *app.App) gin.HandlerFunc {
	return func(c *gin.Context) {
		id, ok := pathID(c, "id")
		if !ok {
			return
		}
		var in struct {
			ReturnedOn string `json:"returned_on"`
		}
		// body is optional; default is a return dated today
		_ = c.ShouldBindJSON(&in)
		on, err := dateOrNow(in.ReturnedOn)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid returned_on date"})
			return
		}
		out, err := svc(a).Close(c.Request.Context(), id, on)
		if err != nil {
			if errors.Is(err, store.ErrNotFound) {
				c.JSON(http.StatusNotFound, gin.H{"error": "assignment not found"})
				return
			}
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, out)
	}
}

// Return handles POST /devices/:id/return, the warehouse return flow.
func Return(a *app.App) gin.HandlerFunc {
	return func(c *gin.Context) {
		id, ok := pathID(c, "id")
		if !ok {
			return
		}
		var in struct {
			ReturnedOn        string `json:"returned_on"`
			WarehouseLocation string `json:"warehouse_location"`
			Note              string `json:"note"`
		}
		_ = c.ShouldBindJSON(&in)
		on, err := dateOrNow(in.ReturnedOn)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid returned_on date"})
			return
		}
		res, err := svc(a).ReturnDevice(c.Request.Context(), id, on, in.WarehouseLocation, in.Note)
		if err != nil {
			if errors.Is(err, store.ErrNotFound) {
				c.JSON(http.StatusNotFound, gin.H{"error": "device not found"})
				return
			}
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, res)
	}
}

// DeviceHistory handles GET /devices/:id/assignments.
func DeviceHistory(a *app.App) gin.HandlerFunc {
	return func(c *gin.Context) {
		id, ok := pathID(c, "id")
		if !ok {
			return
		}
		out, err := svc(a).HistoryForDevice(c.Request.Context(), id)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		if out == nil {
			out = []store.Assignment{}
		}
		c.JSON(http.StatusOK, out)
	}
}

// UserHistory handles GET /users/:id/assignments.
func UserHistory(a *app.App) gin.HandlerFunc {
	return func(c *gin.Context) {
		id, ok := pathID(c, "id")
		if !ok {
			return
		}
		out, err := svc(a).HistoryForUser(c.Request.Context(), id)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		if out == nil {
			out = []store.Assignment{}
		}
		c.JSON(http.StatusOK, out)
	}
}
