package api

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"mailmodel/internal/model"
)

type SchemaIssue struct {
	Model    string `json:"model"`
	Field    string `json:"field,omitempty"`
	Code     string `json:"code"`
	Message  string `json:"message"`
	Blocking bool   `json:"blocking"`
}

// SchemaLint собирает блокирующие проблемы реестра (для ещё не
// разрешённого реестра) и подсказки по описанию моделей.
func SchemaLint(reg *model.Registry) []SchemaIssue {
	var issues []SchemaIssue
	for _, it := range reg.Lint() {
		issues = append(issues, SchemaIssue{
			Model:    it.Model,
			Field:    it.Field,
			Code:     "configuration",
			Message:  it.Message,
			Blocking: true,
		})
	}

	for _, name := range reg.Names() {
		fields, err := reg.Fields(name)
		if err != nil {
			continue
		}
		hasIdentity := false
		for _, f := range fields {
			if f.IsIdentifying() {
				hasIdentity = true
			}
			// связь без inverse: цель не видит обратной стороны
			if f.IsRelation() && f.InverseName() == "" {
				issues = append(issues, SchemaIssue{
					Model:   name,
					Field:   f.Name(),
					Code:    "inverse_missing",
					Message: "relation has no inverse; reverse navigation and dependency paths through it are unavailable",
				})
			}
			if f.IsComputed() && len(f.Dependencies()) == 0 {
				issues = append(issues, SchemaIssue{
					Model:   name,
					Field:   f.Name(),
					Code:    "compute_without_deps",
					Message: "computed field has no dependencies and is evaluated only on insert",
				})
			}
		}
		if !hasIdentity {
			issues = append(issues, SchemaIssue{
				Model:   name,
				Code:    "identity_missing",
				Message: "model has no identifying fields; every insert creates a new record",
			})
		}
	}
	return issues
}

// GET /api/lint
func SchemaLintHandler(storage *Storage) gin.HandlerFunc {
	return func(c *gin.Context) {
		var issues []SchemaIssue
		storage.withLock(func() { issues = SchemaLint(storage.Registry) })

		blocking := 0
		for _, it := range issues {
			if it.Blocking {
				blocking++
			}
		}
		c.JSON(http.StatusOK, gin.H{
			"issues":   issues,
			"blocking": blocking,
		})
	}
}
