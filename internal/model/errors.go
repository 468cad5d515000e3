package model

import (
	"fmt"

	"github.com/cockroachdb/errors"
)

// Сентинелы для errors.Is: по ним вызывающий код отличает ошибку описания
// модели (фатально, чинится в коде) от ошибки данных (можно повторить с
// исправленным payload).
var (
	ErrConfiguration = errors.New("model: configuration error")
	ErrValidation    = errors.New("model: validation error")
	ErrNotFound      = errors.New("model: not found")
)

// Коды ошибок валидации
const (
	CodeMissingIdentifying   = "missing_identifying"
	CodeAmbiguousIdentifying = "ambiguous_identifying"
	CodeIdentifyingImmutable = "identifying_immutable"
	CodeRequired             = "required"
	CodeTypeMismatch         = "type_mismatch"
	CodeEnumInvalid          = "enum_invalid"
	CodeReadOnly             = "readonly_field"
	CodeDeleted              = "record_deleted"
)

// ConfigError описывает ошибку в определении модели: дубликат регистрации,
// несимметричный inverse, цикл зависимостей compute и т.п.
type ConfigError struct {
	Model  string
	Field  string
	Reason string
}

func (e *ConfigError) Error() string {
	if e.Field != "" {
		return "model: invalid definition " + e.Model + "." + e.Field + ": " + e.Reason
	}
	return "model: invalid definition " + e.Model + ": " + e.Reason
}

// Is позволяет матчить через errors.Is(err, ErrConfiguration), в том числе
// внутри multierr.
func (e *ConfigError) Is(target error) bool { return target == ErrConfiguration }

// ValidationError возвращается из Insert/Update, когда данные не проходят
// проверку: нет identifying поля, пустое required поле, неверный тип.
type ValidationError struct {
	Model  string
	Field  string
	Code   string
	Reason string
}

func (e *ValidationError) Error() string {
	if e.Field != "" {
		return "model: invalid " + e.Model + "." + e.Field + ": " + e.Reason
	}
	return "model: invalid " + e.Model + ": " + e.Reason
}

func (e *ValidationError) Is(target error) bool { return target == ErrValidation }

func configErr(model, field, format string, args ...any) error {
	return &ConfigError{Model: model, Field: field, Reason: fmt.Sprintf(format, args...)}
}

func validationErr(model, field, code, format string, args ...any) error {
	return &ValidationError{Model: model, Field: field, Code: code, Reason: fmt.Sprintf(format, args...)}
}
