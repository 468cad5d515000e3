package api

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"mailmodel/internal/model"
)

// resolveModel читает :model и отвечает 404, если модели нет.
func resolveModel(storage *Storage, c *gin.Context) (string, bool) {
	name, ok := storage.NormalizeModelName(c.Param("model"))
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{
			"errors": []FieldError{ferr(ErrNotFound, "model", "Model not found")},
		})
		return "", false
	}
	return name, true
}

func bindObject(c *gin.Context) (map[string]any, bool) {
	var obj map[string]any
	if err := c.ShouldBindJSON(&obj); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"errors": []FieldError{ferr(ErrInvalidJSON, "", "Invalid JSON")},
		})
		return nil, false
	}
	if obj == nil {
		obj = map[string]any{}
	}
	return obj, true
}

func respondErr(c *gin.Context, err error, extra gin.H) {
	errs := fieldErrors(err)
	body := gin.H{"errors": errs}
	for k, v := range extra {
		body[k] = v
	}
	c.JSON(statusForErrors(errs), body)
}

func result(v any) any {
	switch t := v.(type) {
	case *model.Record:
		if t == nil {
			return nil
		}
		return flatten(t)
	case []*model.Record:
		return flattenAll(t)
	default:
		return v
	}
}

// POST /api/:model
// Повторная вставка с тем же identity-ключом обновляет существующую запись.
func CreateHandler(storage *Storage) gin.HandlerFunc {
	return func(c *gin.Context) {
		name, ok := resolveModel(storage, c)
		if !ok {
			return
		}
		obj, ok := bindObject(c)
		if !ok {
			return
		}

		storage.mu.Lock()
		defer storage.mu.Unlock()

		data, errs := storage.decodePayload(obj)
		if len(errs) > 0 {
			c.JSON(statusForErrors(errs), gin.H{"errors": errs})
			return
		}
		before := storage.Store.Count(name)
		rec, err := storage.Store.Insert(name, data)
		if err != nil {
			extra := gin.H{}
			// required-ошибки не откатывают вставку
			if rec != nil && rec.Exists() {
				extra["record"] = flatten(rec)
			}
			respondErr(c, err, extra)
			return
		}
		status := http.StatusOK
		if storage.Store.Count(name) > before {
			status = http.StatusCreated
		}
		c.JSON(status, flatten(rec))
	}
}

// POST /api/:model/_bulk - массив payload'ов одной операцией.
func BulkCreateHandler(storage *Storage) gin.HandlerFunc {
	return func(c *gin.Context) {
		name, ok := resolveModel(storage, c)
		if !ok {
			return
		}
		var items []map[string]any
		if err := c.ShouldBindJSON(&items); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{
				"errors": []FieldError{ferr(ErrInvalidJSON, "", "Expected JSON array")},
			})
			return
		}

		storage.mu.Lock()
		defer storage.mu.Unlock()

		batch := make([]model.Data, 0, len(items))
		for i, obj := range items {
			data, errs := storage.decodePayload(obj)
			if len(errs) > 0 {
				c.JSON(statusForErrors(errs), gin.H{"errors": errs, "index": i})
				return
			}
			batch = append(batch, data)
		}
		recs, err := storage.Store.InsertMany(name, batch)
		if err != nil {
			respondErr(c, err, gin.H{"records": flattenAll(recs)})
			return
		}
		c.JSON(http.StatusOK, flattenAll(recs))
	}
}

// GET /api/:model
func ListHandler(storage *Storage) gin.HandlerFunc {
	return func(c *gin.Context) {
		name, ok := resolveModel(storage, c)
		if !ok {
			return
		}
		lp := parseListParams(c.Request.URL.Query())

		var rows []map[string]any
		storage.withLock(func() {
			rows = flattenAll(storage.Store.All(name))
		})

		filtered := filterRows(rows, lp)
		sortRowsMultiNulls(filtered, lp.Sort, lp.Nulls)

		c.Header("X-Total-Count", strconv.Itoa(len(filtered)))
		c.JSON(http.StatusOK, page(filtered, lp))
	}
}

// GET /api/:model/count
func CountHandler(storage *Storage) gin.HandlerFunc {
	return func(c *gin.Context) {
		name, ok := resolveModel(storage, c)
		if !ok {
			return
		}
		lp := parseListParams(c.Request.URL.Query())

		var rows []map[string]any
		storage.withLock(func() {
			rows = flattenAll(storage.Store.All(name))
		})
		c.JSON(http.StatusOK, gin.H{"total": len(filterRows(rows, lp))})
	}
}

// GET /api/:model/:id
func GetOneHandler(storage *Storage) gin.HandlerFunc {
	return func(c *gin.Context) {
		name, ok := resolveModel(storage, c)
		if !ok {
			return
		}
		storage.mu.Lock()
		defer storage.mu.Unlock()

		rec, ok := storage.record(name, c.Param("id"))
		if !ok {
			c.JSON(http.StatusNotFound, gin.H{
				"errors": []FieldError{ferr(ErrNotFound, "id", "Record not found")},
			})
			return
		}
		c.JSON(http.StatusOK, flatten(rec))
	}
}

// POST /api/:model/_find - поиск по identity-ключу.
func FindHandler(storage *Storage) gin.HandlerFunc {
	return func(c *gin.Context) {
		name, ok := resolveModel(storage, c)
		if !ok {
			return
		}
		obj, ok := bindObject(c)
		if !ok {
			return
		}

		storage.mu.Lock()
		defer storage.mu.Unlock()

		data, errs := storage.decodePayload(obj)
		if len(errs) > 0 {
			c.JSON(statusForErrors(errs), gin.H{"errors": errs})
			return
		}
		rec, ok := storage.Store.FindByIdentity(name, model.Key(data))
		if !ok {
			c.JSON(http.StatusNotFound, gin.H{
				"errors": []FieldError{ferr(ErrNotFound, "", "No record with this identity")},
			})
			return
		}
		c.JSON(http.StatusOK, flatten(rec))
	}
}

// PATCH /api/:model/:id
func UpdatePartialHandler(storage *Storage) gin.HandlerFunc {
	return func(c *gin.Context) {
		name, ok := resolveModel(storage, c)
		if !ok {
			return
		}
		obj, ok := bindObject(c)
		if !ok {
			return
		}

		storage.mu.Lock()
		defer storage.mu.Unlock()

		rec, ok := storage.record(name, c.Param("id"))
		if !ok {
			c.JSON(http.StatusNotFound, gin.H{
				"errors": []FieldError{ferr(ErrNotFound, "id", "Record not found")},
			})
			return
		}
		// служебные поля из flatten не пишутся
		if v, ok := obj["id"].(string); ok && v == rec.ID() {
			delete(obj, "id")
		}
		if v, ok := obj["model"].(string); ok && v == rec.Model() {
			delete(obj, "model")
		}
		delete(obj, "$owner")

		data, errs := storage.decodePayload(obj)
		if len(errs) > 0 {
			c.JSON(statusForErrors(errs), gin.H{"errors": errs})
			return
		}
		if err := storage.Store.Update(rec, data); err != nil {
			extra := gin.H{}
			if rec.Exists() {
				extra["record"] = flatten(rec)
			}
			respondErr(c, err, extra)
			return
		}
		if !rec.Exists() {
			// запись потеряла identity и удалена в той же операции
			c.Status(http.StatusNoContent)
			return
		}
		c.JSON(http.StatusOK, flatten(rec))
	}
}

// DELETE /api/:model/:id - удаление с каскадом по causal-связям.
func DeleteHandler(storage *Storage) gin.HandlerFunc {
	return func(c *gin.Context) {
		name, ok := resolveModel(storage, c)
		if !ok {
			return
		}
		storage.mu.Lock()
		defer storage.mu.Unlock()

		rec, ok := storage.record(name, c.Param("id"))
		if !ok {
			c.JSON(http.StatusNotFound, gin.H{
				"errors": []FieldError{ferr(ErrNotFound, "id", "Record not found")},
			})
			return
		}
		if err := storage.Store.Delete(rec); err != nil {
			respondErr(c, err, nil)
			return
		}
		storage.logger.Debugw("record deleted", "model", name, "id", rec.ID())
		c.Status(http.StatusNoContent)
	}
}

type callReq struct {
	Args []any `json:"args"`
}

func bindArgs(storage *Storage, c *gin.Context) ([]any, bool) {
	var req callReq
	if c.Request.ContentLength != 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{
				"errors": []FieldError{ferr(ErrInvalidJSON, "args", "Invalid JSON")},
			})
			return nil, false
		}
	}
	args := make([]any, 0, len(req.Args))
	for _, a := range req.Args {
		v, fe := storage.decodeValue("args", a)
		if fe != nil {
			c.JSON(statusForErrors([]FieldError{*fe}), gin.H{"errors": []FieldError{*fe}})
			return nil, false
		}
		args = append(args, v)
	}
	return args, true
}

// POST /api/:model/:id/_call/:method - метод записи.
func RecordCallHandler(storage *Storage) gin.HandlerFunc {
	return func(c *gin.Context) {
		name, ok := resolveModel(storage, c)
		if !ok {
			return
		}
		storage.mu.Lock()
		defer storage.mu.Unlock()

		rec, ok := storage.record(name, c.Param("id"))
		if !ok {
			c.JSON(http.StatusNotFound, gin.H{
				"errors": []FieldError{ferr(ErrNotFound, "id", "Record not found")},
			})
			return
		}
		args, ok := bindArgs(storage, c)
		if !ok {
			return
		}
		res, err := rec.Call(c.Param("method"), args...)
		if err != nil {
			respondErr(c, err, nil)
			return
		}
		c.JSON(http.StatusOK, gin.H{"result": result(res)})
	}
}

// POST /api/:model/_call/:method - метод модели.
func ModelCallHandler(storage *Storage) gin.HandlerFunc {
	return func(c *gin.Context) {
		name, ok := resolveModel(storage, c)
		if !ok {
			return
		}
		storage.mu.Lock()
		defer storage.mu.Unlock()

		args, ok := bindArgs(storage, c)
		if !ok {
			return
		}
		res, err := storage.Store.CallModelMethod(name, c.Param("method"), args...)
		if err != nil {
			respondErr(c, err, nil)
			return
		}
		c.JSON(http.StatusOK, gin.H{"result": result(res)})
	}
}
