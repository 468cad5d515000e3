package api

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"mailmodel/internal/model"
)

// ===== META HANDLERS =====

type metaModelListItem struct {
	Model       string `json:"model"`
	Identifying string `json:"identifying"`
	Records     int    `json:"records"`
}

// GET /api/meta
func MetaListHandler(storage *Storage) gin.HandlerFunc {
	return func(c *gin.Context) {
		storage.mu.Lock()
		defer storage.mu.Unlock()

		names := storage.Registry.Names()
		out := make([]metaModelListItem, 0, len(names))
		for _, name := range names {
			mode, _ := storage.Registry.IdentifyingMode(name)
			out = append(out, metaModelListItem{
				Model:       name,
				Identifying: mode.String(),
				Records:     storage.Store.Count(name),
			})
		}
		c.JSON(http.StatusOK, out)
	}
}

type metaField struct {
	Name        string   `json:"name"`
	Kind        string   `json:"kind"`
	Type        string   `json:"type,omitempty"`
	Target      string   `json:"target,omitempty"`
	Inverse     string   `json:"inverse,omitempty"`
	Enum        []string `json:"enum,omitempty"`
	Deps        []string `json:"deps,omitempty"`
	Identifying bool     `json:"identifying,omitempty"`
	Required    bool     `json:"required,omitempty"`
	Causal      bool     `json:"causal,omitempty"`
	Readonly    bool     `json:"readonly,omitempty"`
	Computed    bool     `json:"computed,omitempty"`
	Default     bool     `json:"hasDefault,omitempty"`
}

type metaModel struct {
	Model         string      `json:"model"`
	Identifying   string      `json:"identifying"`
	Fields        []metaField `json:"fields"`
	RecordMethods []string    `json:"recordMethods,omitempty"`
	ModelMethods  []string    `json:"modelMethods,omitempty"`
}

func describeField(f *model.Field) metaField {
	mf := metaField{
		Name:        f.Name(),
		Kind:        f.Kind().String(),
		Target:      f.Target(),
		Inverse:     f.InverseName(),
		Deps:        f.Dependencies(),
		Identifying: f.IsIdentifying(),
		Required:    f.IsRequired(),
		Causal:      f.IsCausal(),
		Readonly:    f.IsReadonly(),
		Computed:    f.IsComputed(),
		Default:     f.HasDefault(),
	}
	if !f.IsRelation() {
		mf.Type = string(f.ValueType())
		mf.Enum = f.EnumValues()
	}
	return mf
}

// GET /api/meta/:model
func MetaModelHandler(storage *Storage) gin.HandlerFunc {
	return func(c *gin.Context) {
		name, ok := resolveModel(storage, c)
		if !ok {
			return
		}
		storage.mu.Lock()
		defer storage.mu.Unlock()

		fields, err := storage.Registry.Fields(name)
		if err != nil {
			respondErr(c, err, nil)
			return
		}
		mode, _ := storage.Registry.IdentifyingMode(name)
		out := metaModel{
			Model:       name,
			Identifying: mode.String(),
			Fields:      make([]metaField, 0, len(fields)),
		}
		for _, f := range fields {
			out.Fields = append(out.Fields, describeField(f))
		}
		rm, _ := storage.Registry.RecordMethods(name)
		out.RecordMethods = sortedKeys(rm)
		mm, _ := storage.Registry.ModelMethods(name)
		out.ModelMethods = sortedKeys(mm)
		c.JSON(http.StatusOK, out)
	}
}
