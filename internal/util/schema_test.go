package util

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type forecastArgs struct {
	City  string   `json:"city" description:"City name"`
	Units string   `json:"units,omitempty" enum:"metric,imperial"`
	Days  *int     `json:"days"`
	Tags  []string `json:"tags,omitempty"`
	Geo   struct {
		Lat float64 `json:"lat"`
		Lon float64 `json:"lon"`
	} `json:"geo,omitempty"`
	internal string
}

func TestCreateSchema(t *testing.T) {
	schema := CreateSchema(&forecastArgs{})
	props := schema["properties"].(map[string]any)

	assert.Equal(t, []string{"city"}, schema["required"])
	assert.NotContains(t, props, "internal")
	assert.Equal(t, "City name", props["city"].(map[string]any)["description"])
	assert.Equal(t, []string{"metric", "imperial"}, props["units"].(map[string]any)["enum"])
	assert.Equal(t, "integer", props["days"].(map[string]any)["type"])
	assert.Equal(t, map[string]any{"type": "string"}, props["tags"].(map[string]any)["items"])

	geo := props["geo"].(map[string]any)
	assert.Equal(t, "object", geo["type"])
	assert.Equal(t, []string{"lat", "lon"}, geo["required"])
}

func TestValidateArgs(t *testing.T) {
	schema := CreateSchema(forecastArgs{})

	ok := map[string]any{"city": "Berlin", "units": "metric", "days": float64(3), "geo": map[string]any{"lat": 52.5, "lon": 13.4}}
	assert.NoError(t, ValidateArgs(ok, schema))

	tests := map[string]struct {
		args  map[string]any
		field string
	}{
		"missing required": {args: map[string]any{}, field: "city"},
		"wrong type":       {args: map[string]any{"city": 5.0}, field: "city"},
		"not an integer":   {args: map[string]any{"city": "x", "days": 1.5}, field: "days"},
		"enum":             {args: map[string]any{"city": "x", "units": "kelvin"}, field: "units"},
		"nested required":  {args: map[string]any{"city": "x", "geo": map[string]any{"lat": 1.0}}, field: "geo.lon"},
		"array item":       {args: map[string]any{"city": "x", "tags": []any{"a", 2.0}}, field: "tags[1]"},
	}
	for name, tt := range tests {
		t.Run(name, func(t *testing.T) {
			var vErr *ValidationError
			require.ErrorAs(t, ValidateArgs(tt.args, schema), &vErr)
			assert.Equal(t, tt.field, vErr.Field)
		})
	}
}

func TestValidateArgsDecodedSchema(t *testing.T) {
	schema := map[string]any{
		"type":       "object",
		"properties": map[string]any{"x": map[string]any{"type": "integer"}},
		"required":   []any{"x"},
	}
	assert.NoError(t, ValidateArgs(map[string]any{"x": float64(5)}, schema))
	assert.Error(t, ValidateArgs(map[string]any{}, schema))
}

func TestRenderTemplate(t *testing.T) {
	out, err := RenderTemplate("plain <b>", nil)
	require.NoError(t, err)
	assert.Equal(t, "plain <b>", out)

	tmpl := "{{.role | upper}}: {{.content | trim}}"
	for range 2 {
		out, err = RenderTemplate(tmpl, map[string]any{"role": "user", "content": " a < b "})
		require.NoError(t, err)
		assert.Equal(t, "USER: a < b", out)
	}

	_, err = RenderTemplate("{{.broken", nil)
	assert.Error(t, err)
}
