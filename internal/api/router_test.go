package api

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"mailmodel/internal/mail"
	"mailmodel/internal/model"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func newTestRouter(t *testing.T, fixturesDir string) (*gin.Engine, *Storage) {
	t.Helper()
	reg := model.NewRegistry(nil)
	require.NoError(t, mail.Register(reg))
	require.NoError(t, reg.Resolve())
	storage := NewStorage(model.NewStore(reg), fixturesDir, nil)
	return NewRouter(storage), storage
}

func do(t *testing.T, r http.Handler, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body != nil {
		b, err := json.Marshal(body)
		require.NoError(t, err)
		req = httptest.NewRequest(method, path, bytes.NewReader(b))
		req.Header.Set("Content-Type", "application/json")
	} else {
		req = httptest.NewRequest(method, path, nil)
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func decode[T any](t *testing.T, w *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &v), w.Body.String())
	return v
}

type errorsBody struct {
	Errors []FieldError `json:"errors"`
}

func ref(modelName, id string) map[string]any {
	return map[string]any{"$ref": map[string]any{"model": modelName, "id": id}}
}

func TestCreate_IsIdempotentByIdentity(t *testing.T) {
	r, _ := newTestRouter(t, "")

	w := do(t, r, http.MethodPost, "/api/Partner", map[string]any{"id": 1, "name": "Ann"})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	first := decode[map[string]any](t, w)
	assert.Equal(t, "Partner", first["model"])
	assert.EqualValues(t, 1, first["data.id"])

	w = do(t, r, http.MethodPost, "/api/partner", map[string]any{"id": 1.0, "email": "ann@example.com"})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	second := decode[map[string]any](t, w)
	assert.Equal(t, first["id"], second["id"])
	assert.Equal(t, "Ann", second["name"])
	assert.Equal(t, "ann@example.com", second["email"])

	w = do(t, r, http.MethodGet, "/api/Partner/count", nil)
	assert.EqualValues(t, 1, decode[map[string]any](t, w)["total"])
}

func TestCreate_NestedPayloadAndFind(t *testing.T) {
	r, _ := newTestRouter(t, "")

	w := do(t, r, http.MethodPost, "/api/Persona", map[string]any{
		"partner": map[string]any{"id": 3, "name": "Ann"},
	})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	persona := decode[map[string]any](t, w)
	assert.Equal(t, "Ann", persona["name"])
	assert.Equal(t, "offline", persona["im_status"])
	owner := persona["$owner"].(map[string]any)
	assert.Equal(t, "partner", owner["field"])
	partnerID := persona["partner"].(string)

	w = do(t, r, http.MethodPost, "/api/Persona/_find", map[string]any{"partner": ref("Partner", partnerID)})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, persona["id"], decode[map[string]any](t, w)["id"])

	w = do(t, r, http.MethodPost, "/api/Partner/_find", map[string]any{"id": 3})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, partnerID, decode[map[string]any](t, w)["id"])

	w = do(t, r, http.MethodPost, "/api/Partner/_find", map[string]any{"id": 4})
	assert.Equal(t, http.StatusNotFound, w.Code)

	// имя собеседника следует за партнёром
	w = do(t, r, http.MethodPatch, "/api/Partner/"+partnerID, map[string]any{"name": "Anna"})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	w = do(t, r, http.MethodGet, "/api/Persona/"+persona["id"].(string), nil)
	assert.Equal(t, "Anna", decode[map[string]any](t, w)["name"])
}

func TestCreate_ValidationErrors(t *testing.T) {
	r, _ := newTestRouter(t, "")

	w := do(t, r, http.MethodPost, "/api/Persona", map[string]any{})
	require.Equal(t, http.StatusBadRequest, w.Code)
	body := decode[errorsBody](t, w)
	require.NotEmpty(t, body.Errors)
	assert.Equal(t, model.CodeMissingIdentifying, body.Errors[0].Code)

	w = do(t, r, http.MethodPost, "/api/Persona", map[string]any{
		"partner": map[string]any{"id": 1},
		"guest":   map[string]any{"id": 1},
	})
	require.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, model.CodeAmbiguousIdentifying, decode[errorsBody](t, w).Errors[0].Code)

	w = do(t, r, http.MethodPost, "/api/Persona", map[string]any{"partner": ref("Partner", "nope")})
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = do(t, r, http.MethodPost, "/api/Nope", map[string]any{})
	assert.Equal(t, http.StatusNotFound, w.Code)

	req := httptest.NewRequest(http.MethodPost, "/api/Partner", bytes.NewBufferString("{"))
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, ErrInvalidJSON, decode[errorsBody](t, rec).Errors[0].Code)
}

func TestUpdate_IdentifyingIsImmutable(t *testing.T) {
	r, _ := newTestRouter(t, "")
	w := do(t, r, http.MethodPost, "/api/Partner", map[string]any{"id": 1, "name": "Ann"})
	id := decode[map[string]any](t, w)["id"].(string)

	w = do(t, r, http.MethodPatch, "/api/Partner/"+id, map[string]any{"id": 2})
	require.Equal(t, http.StatusConflict, w.Code, w.Body.String())
	body := decode[errorsBody](t, w)
	assert.Equal(t, model.CodeIdentifyingImmutable, body.Errors[0].Code)
	assert.Equal(t, "id", body.Errors[0].Field)

	w = do(t, r, http.MethodPatch, "/api/Partner/"+id, map[string]any{"name": nil})
	require.Equal(t, http.StatusOK, w.Code)
	_, has := decode[map[string]any](t, w)["name"]
	assert.False(t, has)

	w = do(t, r, http.MethodPatch, "/api/Partner/"+id, map[string]any{"name": 5})
	require.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, model.CodeTypeMismatch, decode[errorsBody](t, w).Errors[0].Code)
}

func TestDelete_CascadesThroughCausalRelations(t *testing.T) {
	r, _ := newTestRouter(t, "")
	w := do(t, r, http.MethodPost, "/api/Thread", map[string]any{"model": mail.ChannelModel, "id": 1, "name": "general"})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	thread := decode[map[string]any](t, w)
	assert.Equal(t, mail.ChannelModel, thread["data.model"])
	threadID := thread["id"].(string)

	w = do(t, r, http.MethodPost, "/api/Message", map[string]any{"id": 10, "body": "hi", "thread": ref("Thread", threadID)})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	msgID := decode[map[string]any](t, w)["id"].(string)

	w = do(t, r, http.MethodGet, "/api/MessageAction/count", nil)
	assert.EqualValues(t, 3, decode[map[string]any](t, w)["total"])

	w = do(t, r, http.MethodDelete, "/api/Thread/"+threadID, nil)
	require.Equal(t, http.StatusNoContent, w.Code)

	assert.Equal(t, http.StatusNotFound, do(t, r, http.MethodGet, "/api/Message/"+msgID, nil).Code)
	assert.Equal(t, http.StatusNotFound, do(t, r, http.MethodDelete, "/api/Thread/"+threadID, nil).Code)
	w = do(t, r, http.MethodGet, "/api/MessageAction/count", nil)
	assert.EqualValues(t, 0, decode[map[string]any](t, w)["total"])
}

func TestCall_RecordAndResult(t *testing.T) {
	r, _ := newTestRouter(t, "")
	w := do(t, r, http.MethodPost, "/api/Thread", map[string]any{"model": mail.ChannelModel, "id": 1})
	threadID := decode[map[string]any](t, w)["id"].(string)

	w = do(t, r, http.MethodPost, "/api/Thread/"+threadID+"/_call/post", map[string]any{
		"args": []any{map[string]any{"id": 11, "body": "second"}},
	})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	msg := decode[map[string]any](t, w)["result"].(map[string]any)
	assert.Equal(t, threadID, msg["thread"])
	msgID := msg["id"].(string)

	w = do(t, r, http.MethodPost, "/api/Message/"+msgID+"/_call/toggleStar", nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	w = do(t, r, http.MethodGet, "/api/Message/"+msgID, nil)
	assert.Equal(t, true, decode[map[string]any](t, w)["isStarred"])

	w = do(t, r, http.MethodGet, "/api/Thread/"+threadID, nil)
	assert.Equal(t, msgID, decode[map[string]any](t, w)["lastMessage"])

	w = do(t, r, http.MethodPost, "/api/Message/"+msgID+"/_call/nope", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestList_SortFilterPage(t *testing.T) {
	r, _ := newTestRouter(t, "")
	w := do(t, r, http.MethodPost, "/api/Partner/_bulk", []map[string]any{
		{"id": 1, "name": "Cid"},
		{"id": 2, "name": "Ann"},
		{"id": 10, "name": "Bob"},
	})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	require.Len(t, decode[[]map[string]any](t, w), 3)

	w = do(t, r, http.MethodGet, "/api/Partner?sort=name&limit=2", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "3", w.Header().Get("X-Total-Count"))
	rows := decode[[]map[string]any](t, w)
	require.Len(t, rows, 2)
	assert.Equal(t, "Ann", rows[0]["name"])
	assert.Equal(t, "Bob", rows[1]["name"])

	// числа сравниваются как числа: 10 > 2
	w = do(t, r, http.MethodGet, "/api/Partner?sort=-data.id", nil)
	rows = decode[[]map[string]any](t, w)
	assert.Equal(t, "Bob", rows[0]["name"])

	w = do(t, r, http.MethodGet, "/api/Partner?name=Cid&name=Ann&sort=name", nil)
	rows = decode[[]map[string]any](t, w)
	require.Len(t, rows, 2)
	assert.Equal(t, "Ann", rows[0]["name"])

	w = do(t, r, http.MethodGet, "/api/Partner?q=bo", nil)
	assert.Equal(t, "1", w.Header().Get("X-Total-Count"))
}

func TestMeta_DescribesModels(t *testing.T) {
	r, _ := newTestRouter(t, "")

	w := do(t, r, http.MethodGet, "/api/meta", nil)
	require.Equal(t, http.StatusOK, w.Code)
	list := decode[[]metaModelListItem](t, w)
	modes := map[string]string{}
	for _, it := range list {
		modes[it.Model] = it.Identifying
	}
	assert.Equal(t, "xor", modes[mail.Persona])
	assert.Equal(t, "and", modes[mail.Thread])

	w = do(t, r, http.MethodGet, "/api/meta/persona", nil)
	require.Equal(t, http.StatusOK, w.Code)
	meta := decode[metaModel](t, w)
	assert.Equal(t, mail.Persona, meta.Model)
	byName := map[string]metaField{}
	for _, f := range meta.Fields {
		byName[f.Name] = f
	}
	assert.Equal(t, "one", byName["partner"].Kind)
	assert.True(t, byName["partner"].Identifying)
	assert.Equal(t, "persona", byName["partner"].Inverse)
	assert.True(t, byName["name"].Computed)
	assert.Equal(t, []string{"online", "away", "offline"}, byName["im_status"].Enum)

	w = do(t, r, http.MethodGet, "/api/meta/Thread", nil)
	assert.Contains(t, decode[metaModel](t, w).RecordMethods, "post")

	assert.Equal(t, http.StatusNotFound, do(t, r, http.MethodGet, "/api/meta/Nope", nil).Code)
}

func TestLint_ReportsAdvisoryIssues(t *testing.T) {
	r, _ := newTestRouter(t, "")
	w := do(t, r, http.MethodGet, "/api/lint", nil)
	require.Equal(t, http.StatusOK, w.Code)

	var body struct {
		Issues   []SchemaIssue `json:"issues"`
		Blocking int           `json:"blocking"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Zero(t, body.Blocking)
	assert.Contains(t, body.Issues, SchemaIssue{
		Model:   mail.Message,
		Field:   "messageActionList",
		Code:    "compute_without_deps",
		Message: "computed field has no dependencies and is evaluated only on insert",
	})
}

func TestSchemaLint_BlockingBeforeResolve(t *testing.T) {
	reg := model.NewRegistry(nil)
	require.NoError(t, reg.Register(model.Definition{
		Name:   "A",
		Fields: map[string]model.Field{"b": model.One("B", model.Inverse("a"))},
	}))
	issues := SchemaLint(reg)
	require.NotEmpty(t, issues)
	assert.True(t, issues[0].Blocking)
	assert.Equal(t, "A", issues[0].Model)
}

func TestAdminSeed_LoadsFixtures(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "partners.yaml"), []byte(`
model: Partner
order: 1
records:
  - id: 1
    name: Ann
  - id: 2
    name: Bob
`), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "personas.yaml"), []byte(`
model: Persona
order: 2
records:
  - partner: {id: 1}
  - partner: {id: 2}
`), 0o644))

	r, storage := newTestRouter(t, dir)
	w := do(t, r, http.MethodPost, "/api/admin/seed", nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, 2, storage.Store.Count(mail.Partner))
	assert.Equal(t, 2, storage.Store.Count(mail.Persona))

	w = do(t, r, http.MethodGet, "/api/Persona?sort=name", nil)
	rows := decode[[]map[string]any](t, w)
	require.Len(t, rows, 2)
	assert.Equal(t, "Ann", rows[0]["name"])

	// повторный seed идемпотентен
	w = do(t, r, http.MethodPost, "/api/admin/seed", map[string]any{"fixtures_dir": dir})
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, 2, storage.Store.Count(mail.Persona))

	w = do(t, r, http.MethodPost, "/api/admin/seed", map[string]any{"fixtures_dir": filepath.Join(dir, "missing")})
	assert.Equal(t, http.StatusBadRequest, w.Code)
}
