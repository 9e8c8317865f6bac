package imports

import (
	"io"
	"net/http"

	"github.com/gin-gonic/gin"

	app "github.com/ptessari/devicedesk-go/cmd/api/app"
)

// body returns the CSV payload: either a multipart "file" field or the raw
// request body.
func body(c *gin.Context) (io.Reader, error) {
	if f, err := c.FormFile("file"); err == nil {
		fh, err := f.Open()
		return fh, err
	}
	return c.Request.Body, nil
}

// SCCM handles POST /imports/sccm.
func SCCM(a *app.App) gin.HandlerFunc {
	return func(c *gin.Context) {
		r, err := body(c)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		res, err := NewService(a.Store, a.Q).ImportSCCM(c.Request.Context(), r)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, res)
	}
}

// History handles POST /imports/history.
func History(a *app.App) gin.HandlerFunc {
	return func(c *gin.Context) {
		r, err := body(c)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		res, err := NewService(a.Store, a.Q).ImportHistory(c.Request.Context(), r)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, res)
	}
}
