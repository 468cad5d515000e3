package model

import (
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/cockroachdb/errors"
)

// CoerceValue приводит v к типу attr поля. nil проходит как есть (явное
// "пусто"), для TypeAny значение не трогаем.
func CoerceValue(t ValueType, enum []string, v any) (any, error) {
	if v == nil {
		return nil, nil
	}
	switch t {
	case TypeAny:
		return v, nil
	case TypeString:
		return toStringStrict(v)
	case TypeInt:
		return toIntStrict(v)
	case TypeFloat:
		return toFloatStrict(v)
	case TypeBool:
		return toBoolStrict(v)
	case TypeEnum:
		s, err := toStringStrict(v)
		if err != nil {
			return nil, err
		}
		for _, ev := range enum {
			if s == ev {
				return s, nil
			}
		}
		return nil, errors.Newf("value '%s' is not allowed", s)
	default:
		return v, nil
	}
}

func toStringStrict(v any) (string, error) {
	switch t := v.(type) {
	case string:
		return t, nil
	case []byte:
		return string(t), nil
	default:
		// числа не форматируем в строки молча
		return "", errors.New("must be string")
	}
}

func toIntStrict(v any) (int64, error) {
	switch t := v.(type) {
	case int:
		return int64(t), nil
	case int8:
		return int64(t), nil
	case int16:
		return int64(t), nil
	case int32:
		return int64(t), nil
	case int64:
		return t, nil
	case uint:
		return int64(t), nil
	case uint8:
		return int64(t), nil
	case uint16:
		return int64(t), nil
	case uint32:
		return int64(t), nil
	case uint64:
		if t > math.MaxInt64 {
			return 0, errors.New("integer overflow")
		}
		return int64(t), nil
	case float32:
		return toIntStrict(float64(t))
	case float64:
		// JSON числа приходят как float64 - проверяем целостность
		if t != math.Trunc(t) || math.IsInf(t, 0) || math.IsNaN(t) {
			return 0, errors.New("must be integer")
		}
		return int64(t), nil
	case string:
		n, err := strconv.ParseInt(strings.TrimSpace(t), 10, 64)
		if err != nil {
			return 0, errors.New("must be integer")
		}
		return n, nil
	default:
		return 0, errors.New("must be integer")
	}
}

func toFloatStrict(v any) (float64, error) {
	switch t := v.(type) {
	case float64:
		return t, nil
	case float32:
		return float64(t), nil
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(t), 64)
		if err != nil {
			return 0, errors.New("must be float")
		}
		return f, nil
	default:
		if n, err := toIntStrict(v); err == nil {
			return float64(n), nil
		}
		return 0, errors.New("must be float")
	}
}

func toBoolStrict(v any) (bool, error) {
	switch t := v.(type) {
	case bool:
		return t, nil
	case string:
		switch strings.ToLower(strings.TrimSpace(t)) {
		case "true", "1", "yes", "y", "on":
			return true, nil
		case "false", "0", "no", "n", "off":
			return false, nil
		default:
			return false, errors.New("must be boolean")
		}
	default:
		return false, errors.New("must be boolean")
	}
}

// keyPart кодирует одно значение identity-ключа. Числа нормализуются, чтобы
// 3 из Go-кода, 3.0 из JSON и int 3 из YAML давали один ключ.
func keyPart(v any) string {
	switch t := v.(type) {
	case nil:
		return "nil"
	case *Record:
		return "r:" + t.id
	case string:
		return "s:" + t
	case bool:
		return "b:" + strconv.FormatBool(t)
	case float32:
		return numberPart(float64(t))
	case float64:
		return numberPart(t)
	case int, int8, int16, int32, int64, uint, uint8, uint16, uint32, uint64:
		n, err := toIntStrict(t)
		if err != nil {
			return fmt.Sprintf("%T:%v", v, v)
		}
		return "n:" + strconv.FormatInt(n, 10)
	default:
		return fmt.Sprintf("%T:%v", v, v)
	}
}

func numberPart(f float64) string {
	if f == math.Trunc(f) && math.Abs(f) < 1<<63 {
		return "n:" + strconv.FormatInt(int64(f), 10)
	}
	return "n:" + strconv.FormatFloat(f, 'g', -1, 64)
}
