package api

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"mailmodel/internal/reference"
)

type seedReq struct {
	FixturesDir string `json:"fixtures_dir"` // директория с *.yaml
}

// POST /api/admin/seed - прогоняет YAML-фикстуры через Store.
func AdminSeedHandler(storage *Storage) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req seedReq
		if c.Request.ContentLength != 0 {
			if err := c.ShouldBindJSON(&req); err != nil {
				c.JSON(http.StatusBadRequest, gin.H{
					"errors": []FieldError{ferr(ErrInvalidJSON, "", "Invalid JSON")},
				})
				return
			}
		}
		dir := strings.TrimSpace(req.FixturesDir)
		if dir == "" {
			dir = storage.FixturesDir
		}

		fixtures, err := reference.LoadFixtures(dir)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{
				"errors":      []FieldError{ferr(ErrInvalidJSON, "fixtures_dir", err.Error())},
				"fixturesDir": dir,
			})
			return
		}

		storage.mu.Lock()
		defer storage.mu.Unlock()

		report, err := reference.Seed(storage.Store, fixtures)
		if err != nil {
			storage.logger.Warnw("seed finished with errors", "dir", dir, "error", err)
			respondErr(c, err, gin.H{"report": report, "fixturesDir": dir})
			return
		}
		storage.logger.Infow("seeded fixtures", "dir", dir, "fixtures", report.Fixtures)
		c.JSON(http.StatusOK, gin.H{
			"ok":          true,
			"fixturesDir": dir,
			"report":      report,
		})
	}
}
