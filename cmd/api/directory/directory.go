// Package directory manages the reference records devices get assigned
// against: staff users, their departments and the physical sites where
// preparations happen.
package directory

import (
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"

	app "github.com/ptessari/devicedesk-go/cmd/api/app"
	"github.com/ptessari/devicedesk-go/internal/store"
)

type userInput struct {
	Name         string             `json:"name" binding:"required"`
	Surname      string             `json:"surname" binding:"required"`
	DepartmentID *int64             `json:"department_id"`
	ContractType store.ContractType `json:"contract_type"`
	Active       *bool              `json:"active"`
}

func (in userInput) toUser() store.User {
	u := store.User{
		Name:         in.Name,
		Surname:      in.Surname,
		DepartmentID: in.DepartmentID,
		ContractType: in.ContractType,
		Active:       true,
	}
	if u.ContractType == "" {
		u.ContractType = store.ContractInternal
	}
	if in.Active != nil {
		u.Active = *in.Active
	}
	return u
}

// CreateUser handles POST /users.
func CreateUser(a *app.App) gin.HandlerFunc {
	return func(c *gin.Context) {
		var in userInput
		if err := c.ShouldBindJSON(&in); err != nil {
			app.BindError(c, err)
			return
		}
		u, err := a.Store.CreateUser(c.Request.Context(), in.toUser())
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusCreated, u)
	}
}

// ListUsers handles GET /users.
func ListUsers(a *app.App) gin.HandlerFunc {
	return func(c *gin.Context) {
		out, err := a.Store.ListUsers(c.Request.Context())
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		if out == nil {
			out = []store.User{}
		}
		c.JSON(http.StatusOK, out)
	}
}

// GetUser handles GET /users/:id with the user's assignment history
// attached, most recent first.
func GetUser(a *app.App) gin.HandlerFunc {
	return func(c *gin.Context) {
		id, err := strconv.ParseInt(c.Param("id"), 10, 64)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid user id"})
			return
		}
		u, err := a.Store.GetUser(c.Request.Context(), id)
		if err != nil {
			if errors.Is(err, store.ErrNotFound) {
				c.JSON(http.StatusNotFound, gin.H{"error": "user not found"})
				return
			}
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		history, err := a.Store.AssignmentsForUser(c.Request.Context(), id)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		if history == nil {
			history = []store.Assignment{}
		}
		c.JSON(http.StatusOK, gin.H{"user": u, "history": history})
	}
}

// GetOrCreateUser handles POST /users/get-or-create, matching on the
// (name, surname) pair; the remaining fields only apply to a created row.
func GetOrCreateUser(a *app.App) gin.HandlerFunc {
	return func(c *gin.Context) {
		var in userInput
		if err := c.ShouldBindJSON(&in); err != nil {
			app.BindError(c, err)
			return
		}
		u, created, err := a.Store.GetOrCreateUser(c.Request.Context(), in.Name, in.Surname, in.toUser())
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		status := http.StatusOK
		if created {
			status = http.StatusCreated
		}
		c.JSON(status, u)
	}
}

// ListDepartments handles GET /departments.
func ListDepartments(a *app.App) gin.HandlerFunc {
	return func(c *gin.Context) {
		out, err := a.Store.ListDepartments(c.Request.Context())
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		if out == nil {
			out = []store.Department{}
		}
		c.JSON(http.StatusOK, out)
	}
}

// GetOrCreateDepartment handles POST /departments/get-or-create. The name
// is trimmed before matching so import rows with stray whitespace collapse
// onto one department.
func GetOrCreateDepartment(a *app.App) gin.HandlerFunc {
	return func(c *gin.Context) {
		var in struct {
			Name string `json:"name" binding:"required"`
		}
		if err := c.ShouldBindJSON(&in); err != nil {
			app.BindError(c, err)
			return
		}
		name := strings.TrimSpace(in.Name)
		if name == "" {
			c.JSON(http.StatusBadRequest, gin.H{"error": "name is required"})
			return
		}
		d, created, err := a.Store.GetOrCreateDepartment(c.Request.Context(), name)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		status := http.StatusOK
		if created {
			status = http.StatusCreated
		}
		c.JSON(status, d)
	}
}

// CreateSite handles POST /sites.
func CreateSite(a *app.App) gin.HandlerFunc {
	return func(c *gin.Context) {
		var in struct {
			Name    string  `json:"name" binding:"required"`
			Address *string `json:"address"`
		}
		if err := c.ShouldBindJSON(&in); err != nil {
			app.BindError(c, err)
			return
		}
		s, err := a.Store.CreateSite(c.Request.Context(), store.Site{Name: in.Name, Address: in.Address})
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusCreated, s)
	}
}

// ListSites handles GET /sites.
func ListSites(a *app.App) gin.HandlerFunc {
	return func(c *gin.Context) {
		out, err := a.Store.ListSites(c.Request.Context())
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		if out == nil {
			out = []store.Site{}
		}
		c.JSON(http.StatusOK, out)
	}
}
