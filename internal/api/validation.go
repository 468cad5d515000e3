package api

import (
	"errors"
	"net/http"

	"go.uber.org/multierr"

	"mailmodel/internal/model"
)

type FieldError struct {
	Code    string `json:"code"`
	Field   string `json:"field"`
	Message string `json:"message"`
}

// Коды ошибок HTTP-слоя; коды валидации приходят из model.
const (
	ErrInvalidJSON   = "invalid_json"
	ErrNotFound      = "not_found"
	ErrRefNotFound   = "ref_not_found"
	ErrConfiguration = "configuration"
	ErrInternal      = "internal"
)

func ferr(code, field, msg string) FieldError {
	return FieldError{Code: code, Field: field, Message: msg}
}

// fieldErrors раскладывает ошибку ядра (возможно, multierr) в список
// FieldError.
func fieldErrors(err error) []FieldError {
	var out []FieldError
	for _, e := range multierr.Errors(err) {
		var ve *model.ValidationError
		var ce *model.ConfigError
		switch {
		case errors.As(e, &ve):
			out = append(out, ferr(ve.Code, ve.Field, e.Error()))
		case errors.As(e, &ce):
			out = append(out, ferr(ErrConfiguration, ce.Field, e.Error()))
		case errors.Is(e, model.ErrNotFound):
			out = append(out, ferr(ErrNotFound, "", e.Error()))
		default:
			out = append(out, ferr(ErrInternal, "", e.Error()))
		}
	}
	return out
}

// statusForErrors: ошибка конфигурации важнее всего, затем 404, затем
// конфликт identity, иначе 400.
func statusForErrors(errs []FieldError) int {
	status := http.StatusBadRequest
	for _, e := range errs {
		switch e.Code {
		case ErrConfiguration, ErrInternal:
			return http.StatusInternalServerError
		case ErrNotFound, ErrRefNotFound:
			status = http.StatusNotFound
		case model.CodeIdentifyingImmutable:
			if status == http.StatusBadRequest {
				status = http.StatusConflict
			}
		}
	}
	return status
}

// decodePayload переводит JSON-объект в model.Data:
//   - null снимает значение поля;
//   - {"$ref": {"model": M, "id": ID}} - ссылка на существующую запись;
//   - вложенные объекты остаются payload'ами для вставки через связь.
func (s *Storage) decodePayload(obj map[string]any) (model.Data, []FieldError) {
	out := make(model.Data, len(obj))
	var errs []FieldError
	for k, v := range obj {
		if v == nil {
			out[k] = model.Clear()
			continue
		}
		dv, err := s.decodeValue(k, v)
		if err != nil {
			errs = append(errs, *err)
			continue
		}
		out[k] = dv
	}
	return out, errs
}

func (s *Storage) decodeValue(field string, v any) (any, *FieldError) {
	switch t := v.(type) {
	case map[string]any:
		if ref, ok := t["$ref"]; ok {
			return s.resolveRef(field, ref)
		}
		nested := make(model.Data, len(t))
		for k, nv := range t {
			dv, err := s.decodeValue(field+"."+k, nv)
			if err != nil {
				return nil, err
			}
			nested[k] = dv
		}
		return nested, nil
	case []any:
		items := make([]any, 0, len(t))
		for _, it := range t {
			dv, err := s.decodeValue(field, it)
			if err != nil {
				return nil, err
			}
			items = append(items, dv)
		}
		return items, nil
	default:
		return v, nil
	}
}

func (s *Storage) resolveRef(field string, ref any) (any, *FieldError) {
	m, ok := ref.(map[string]any)
	if !ok {
		e := ferr(model.CodeTypeMismatch, field, "$ref expects {\"model\":..., \"id\":...}")
		return nil, &e
	}
	modelName, _ := m["model"].(string)
	id, _ := m["id"].(string)
	name, ok := s.NormalizeModelName(modelName)
	if !ok {
		e := ferr(ErrRefNotFound, field, "unknown model "+modelName)
		return nil, &e
	}
	rec, ok := s.record(name, id)
	if !ok {
		e := ferr(ErrRefNotFound, field, name+"#"+id+" not found")
		return nil, &e
	}
	return rec, nil
}
