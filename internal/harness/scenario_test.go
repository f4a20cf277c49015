package harness

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadScenario_ValidFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "test.yaml")
	content := `
name: test_scenario
description: "Test scenario for validation"
propagate_writes: true
deliver: true
setup:
  - method: saveEntitySchema
    params:
      name: note
      model: {type: object}
flow:
  - method: saveEntity
    params:
      name: note
      id: "0190a5d2-0000-7000-8000-000000000001"
      data: {text: hello}
  - method: getEntity
    params: {name: note, id: nope}
    expect:
      error: VALIDATION_ERROR
assertions:
  - type: delivered_count
    count: 1
  - type: row_count
    table: entity
    where: {type: note}
    count: 1
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))

	s, err := LoadScenario(path)
	require.NoError(t, err)

	assert.Equal(t, "test_scenario", s.Name)
	assert.True(t, s.PropagateWrites)
	assert.True(t, s.Deliver)
	require.Len(t, s.Setup, 1)
	assert.Equal(t, "saveEntitySchema", s.Setup[0].Method)
	require.Len(t, s.Flow, 2)
	assert.Nil(t, s.Flow[0].Expect)
	require.NotNil(t, s.Flow[1].Expect)
	assert.Equal(t, "VALIDATION_ERROR", s.Flow[1].Expect.Error)
	require.Len(t, s.Assertions, 2)
	assert.Equal(t, map[string]any{"type": "note"}, s.Assertions[1].Where)
}

func TestLoadScenario_MissingFile(t *testing.T) {
	_, err := LoadScenario(filepath.Join(t.TempDir(), "absent.yaml"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to read scenario file")
}

func TestParseScenario_Invalid(t *testing.T) {
	const flow = `
flow:
  - method: getEntity
`
	const assertions = `
assertions:
  - type: trace_count
    method: getEntity
    count: 1
`

	tests := []struct {
		name    string
		content string
		wantErr string
	}{
		{
			name:    "bad yaml",
			content: "name: [unterminated",
			wantErr: "failed to parse YAML",
		},
		{
			name:    "unknown field",
			content: "name: x\ndescription: y\ninvoke: z\n" + flow + assertions,
			wantErr: "failed to parse YAML",
		},
		{
			name:    "missing name",
			content: "description: y\n" + flow + assertions,
			wantErr: "name is required",
		},
		{
			name:    "missing description",
			content: "name: x\n" + flow + assertions,
			wantErr: "description is required",
		},
		{
			name:    "empty flow",
			content: "name: x\ndescription: y\nflow: []\n" + assertions,
			wantErr: "flow list is required",
		},
		{
			name:    "no assertions",
			content: "name: x\ndescription: y\n" + flow,
			wantErr: "assertions list is required",
		},
		{
			name:    "setup without method",
			content: "name: x\ndescription: y\nsetup:\n  - params: {name: a}\n" + flow + assertions,
			wantErr: "setup[0]: method is required",
		},
		{
			name: "error and result",
			content: "name: x\ndescription: y\nflow:\n  - method: getEntity\n    expect:\n" +
				"      error: NOT_FOUND\n      result: {a: 1}\n" + assertions,
			wantErr: "mutually exclusive",
		},
		{
			name:    "unknown assertion",
			content: "name: x\ndescription: y\n" + flow + "assertions:\n  - type: eventually\n",
			wantErr: `unknown assertion type "eventually"`,
		},
		{
			name:    "trace_order without methods",
			content: "name: x\ndescription: y\n" + flow + "assertions:\n  - type: trace_order\n",
			wantErr: "methods list is required",
		},
		{
			name:    "row_count without table",
			content: "name: x\ndescription: y\n" + flow + "assertions:\n  - type: row_count\n    count: 0\n",
			wantErr: "table is required",
		},
		{
			name:    "negative count",
			content: "name: x\ndescription: y\n" + flow + "assertions:\n  - type: delivered_count\n    count: -1\n",
			wantErr: "count must be non-negative",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseScenario([]byte(tt.content))
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}
