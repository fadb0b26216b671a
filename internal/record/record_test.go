package record

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		rec     Record
		wantErr string
	}{
		{"ok", Record{Type: "product", ID: "P1", Source: SourceLocal}, ""},
		{"missing type", Record{ID: "P1", Source: SourceLocal}, "entity type is required"},
		{"blank id", Record{Type: "product", ID: "  ", Source: SourceLocal}, "id is required"},
		{"bad source", Record{Type: "product", ID: "P1", Source: "remote"}, "invalid source"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.rec.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestClone_DeepCopiesNestedValues(t *testing.T) {
	orig := Record{
		Type:   "product",
		ID:     "P1",
		Fields: map[string]any{"tags": []any{"a"}, "dims": map[string]any{"w": 1.0}},
	}
	cp := orig.Clone()
	cp.Fields["tags"].([]any)[0] = "b"
	cp.Fields["dims"].(map[string]any)["w"] = 2.0

	assert.Equal(t, "a", orig.Fields["tags"].([]any)[0])
	assert.Equal(t, 1.0, orig.Fields["dims"].(map[string]any)["w"])
}

func TestIsEmpty(t *testing.T) {
	assert.True(t, IsEmpty(nil))
	assert.True(t, IsEmpty(""))
	assert.True(t, IsEmpty([]any{}))
	assert.True(t, IsEmpty(map[string]any{}))
	assert.False(t, IsEmpty(0.0))
	assert.False(t, IsEmpty(false))
	assert.False(t, IsEmpty("x"))
}

func TestNormalizeKey_NFC(t *testing.T) {
	decomposed := "cafe\u0301"
	precomposed := "caf\u00e9"
	assert.NotEqual(t, decomposed, precomposed)
	assert.Equal(t, NormalizeKey(precomposed), NormalizeKey(" "+decomposed+" "))
}

func TestCanonical_SortedAndUnescaped(t *testing.T) {
	data, err := Canonical(map[string]any{"b": "<x>", "a": 1.5})
	require.NoError(t, err)
	assert.Equal(t, `{"a":1.5,"b":"<x>"}`, string(data))
}

func TestDecodeFields_KeepsLargeIntegersExact(t *testing.T) {
	fields, err := DecodeFields([]byte(`{"qty":5,"sku":9007199254740993,"tags":[-9007199254740993,1.5],"big":1e400}`))
	require.NoError(t, err)

	assert.Equal(t, float64(5), fields["qty"])
	assert.Equal(t, int64(9007199254740993), fields["sku"])
	assert.Equal(t, []any{int64(-9007199254740993), 1.5}, fields["tags"])
	assert.Equal(t, json.Number("1e400"), fields["big"])
	assert.False(t, IsEmpty(fields["big"]))

	empty, err := DecodeFields(nil)
	require.NoError(t, err)
	assert.Empty(t, empty)

	_, err = DecodeFields([]byte(`[1]`))
	assert.Error(t, err)
}

func TestSameContent_NumberForms(t *testing.T) {
	assert.True(t, SameContent(map[string]any{"n": 5}, map[string]any{"n": 5.0}))
	assert.True(t, SameContent(map[string]any{"n": json.Number("7")}, map[string]any{"n": int64(7)}))
	assert.False(t, SameContent(map[string]any{"n": int64(9007199254740993)}, map[string]any{"n": float64(9007199254740992)}))
}

func TestSameContent_IgnoresUnicodeComposition(t *testing.T) {
	a := map[string]any{"name": "cafe\u0301"}
	b := map[string]any{"name": "caf\u00e9"}
	assert.True(t, SameContent(a, b))
	assert.False(t, SameContent(a, map[string]any{"name": "tea"}))
}

func TestWireRoundTrip(t *testing.T) {
	rec := Record{
		Type:         "product",
		ID:           "P1",
		Fields:       map[string]any{"price": 9.99, "name": "Mug"},
		LastModified: time.Date(2024, 3, 1, 10, 0, 0, 500, time.UTC),
		Source:       SourceLocal,
	}
	doc := rec.Wire()
	assert.Equal(t, "P1", doc["id"])
	assert.Equal(t, "2024-03-01T10:00:00.0000005Z", doc["lastModified"])

	back, err := FromWire("product", doc, SourceLocal)
	require.NoError(t, err)
	assert.Equal(t, rec, back)
}

func TestFromWire_NumericIDAndLastUpdated(t *testing.T) {
	doc := map[string]any{"id": 42.0, "lastUpdated": "2024-01-02T03:04:05", "sku": "X"}
	rec, err := FromWire("customer", doc, SourceMasterData)
	require.NoError(t, err)
	assert.Equal(t, "42", rec.ID)
	assert.Equal(t, time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC), rec.LastModified)
	assert.Equal(t, map[string]any{"sku": "X"}, rec.Fields)
	assert.Equal(t, SourceMasterData, rec.Source)
}

func TestFromWire_Errors(t *testing.T) {
	_, err := FromWire("product", map[string]any{"name": "x"}, SourceLocal)
	assert.ErrorContains(t, err, "missing id")

	_, err = FromWire("product", map[string]any{"id": "P1", "lastModified": "yesterday"}, SourceLocal)
	assert.ErrorContains(t, err, "unrecognized timestamp")
}

func TestOperationValid(t *testing.T) {
	assert.True(t, OpCreate.Valid())
	assert.True(t, OpDelete.Valid())
	assert.False(t, Operation("upsert").Valid())
}
