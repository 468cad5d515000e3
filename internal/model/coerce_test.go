package model

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCoerceValue(t *testing.T) {
	tests := []struct {
		name    string
		typ     ValueType
		in      any
		want    any
		wantErr bool
	}{
		{name: "nil_passes", typ: TypeInt, in: nil, want: nil},
		{name: "any_untouched", typ: TypeAny, in: []int{1}, want: []int{1}},
		{name: "int_from_json_number", typ: TypeInt, in: 3.0, want: int64(3)},
		{name: "int_from_string", typ: TypeInt, in: " 12 ", want: int64(12)},
		{name: "int_rejects_fraction", typ: TypeInt, in: 1.5, wantErr: true},
		{name: "float_from_int", typ: TypeFloat, in: 2, want: 2.0},
		{name: "bool_from_string", typ: TypeBool, in: "yes", want: true},
		{name: "bool_rejects_number", typ: TypeBool, in: 1, wantErr: true},
		{name: "string_rejects_number", typ: TypeString, in: 5, wantErr: true},
		{name: "enum_ok", typ: TypeEnum, in: "done", want: "done"},
		{name: "enum_rejects_unknown", typ: TypeEnum, in: "lost", wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := CoerceValue(tt.typ, []string{"draft", "done"}, tt.in)
			if tt.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestKeyPart_NormalisesNumbers(t *testing.T) {
	assert.Equal(t, keyPart(3), keyPart(3.0))
	assert.Equal(t, keyPart(int64(3)), keyPart(uint8(3)))
	assert.NotEqual(t, keyPart(3), keyPart("3"))
	assert.NotEqual(t, keyPart(3.5), keyPart(3))
	assert.Equal(t, "nil", keyPart(nil))
}
