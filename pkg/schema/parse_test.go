package schema_test

import (
	"encoding/json"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/covenant-data/covenant/pkg/errs"
	"github.com/covenant-data/covenant/pkg/schema"
)

func TestParse_Basic(t *testing.T) {
	node := schema.MustParse(`{
		"type": "object",
		"properties": {
			"id":   {"type": "string", "format": "uuid"},
			"age":  {"type": "integer", "minimum": 0},
			"tags": {"type": "array", "items": {"type": "string"}}
		},
		"required": ["id"]
	}`)

	assert.Equal(t, []string{"object"}, node.Types)
	assert.Equal(t, []string{"id"}, node.Required)
	require.Contains(t, node.Properties, "age")
	require.NotNil(t, node.Properties["age"].Minimum)
	assert.Equal(t, 0.0, *node.Properties["age"].Minimum)
	require.NotNil(t, node.Properties["tags"].Items)
	assert.Equal(t, []string{"string"}, node.Properties["tags"].Items.Types)
	assert.Equal(t, "uuid", node.Properties["id"].Format)
}

func TestParse_TypeUnionIsSorted(t *testing.T) {
	node := schema.MustParse(`{"type": ["string", "null", "integer"]}`)
	assert.Equal(t, []string{"integer", "null", "string"}, node.Types)
	assert.True(t, node.EffectiveNullable())
	assert.Equal(t, []string{"integer", "string"}, node.NonNullTypes())
}

func TestParse_RequiredIsSorted(t *testing.T) {
	node := schema.MustParse(`{"type": "object", "required": ["zeta", "alpha", "mid"]}`)
	assert.Equal(t, []string{"alpha", "mid", "zeta"}, node.Required)
}

func TestParse_RefResolution(t *testing.T) {
	node := schema.MustParse(`{
		"type": "object",
		"properties": {
			"address": {"$ref": "#/definitions/address"}
		},
		"definitions": {
			"address": {
				"type": "object",
				"properties": {"street": {"type": "string"}}
			}
		}
	}`)

	addr := node.Properties["address"]
	require.NotNil(t, addr)
	assert.Equal(t, []string{"object"}, addr.Types)
	assert.Contains(t, addr.Properties, "street")
}

func TestParse_DefsAlias(t *testing.T) {
	node := schema.MustParse(`{
		"properties": {"x": {"$ref": "#/$defs/thing"}},
		"$defs": {"thing": {"type": "boolean"}}
	}`)
	assert.Equal(t, []string{"boolean"}, node.Properties["x"].Types)
}

func TestParse_Errors(t *testing.T) {
	tests := []struct {
		name string
		raw  string
		want string
	}{
		{"empty document", ``, "empty"},
		{"not an object", `[1,2]`, "not a JSON object"},
		{"unresolved ref", `{"properties": {"x": {"$ref": "#/definitions/missing"}}}`, "unresolved"},
		{"external ref", `{"properties": {"x": {"$ref": "https://example.com/s.json"}}}`, "only local definitions"},
		{
			"circular ref",
			`{"properties": {"x": {"$ref": "#/definitions/a"}},
			  "definitions": {"a": {"properties": {"b": {"$ref": "#/definitions/a"}}}}}`,
			"circular",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := schema.Parse(json.RawMessage(tt.raw))
			require.Error(t, err)
			assert.True(t, errs.IsKind(err, errs.KindBrokenContract))
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestParse_DepthLimit(t *testing.T) {
	// Nest items beyond the depth bound.
	var b strings.Builder
	for i := 0; i < 70; i++ {
		b.WriteString(`{"type": "array", "items": `)
	}
	b.WriteString(`{"type": "string"}`)
	for i := 0; i < 70; i++ {
		b.WriteString(`}`)
	}

	_, err := schema.Parse(json.RawMessage(b.String()))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "depth")
}

func TestParse_UnknownKeywordsPreserved(t *testing.T) {
	node := schema.MustParse(`{"type": "string", "x-lineage": "orders.raw"}`)
	require.Contains(t, node.Extra, "x-lineage")
}

func TestParse_Draft4BooleanExclusiveBounds(t *testing.T) {
	node := schema.MustParse(`{"type": "number", "minimum": 1, "exclusiveMinimum": true}`)
	require.NotNil(t, node.Minimum)
	assert.Nil(t, node.ExclusiveMinimum)
}

func TestNode_Empty(t *testing.T) {
	assert.True(t, schema.MustParse(`{}`).Empty())
	assert.True(t, schema.MustParse(`{"description": "anything goes"}`).Empty())
	assert.False(t, schema.MustParse(`{"type": "object"}`).Empty())
	assert.False(t, schema.MustParse(`{"enum": [1, 2]}`).Empty())
}
