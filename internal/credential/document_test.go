package credential

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseDocument(t *testing.T) {
	clean := `{"type":["VerifiableCredential"],"credentialSubject":{"batchId":"B1","n":"good"}}`

	tests := []struct {
		name    string
		raw     string
		wantErr string
	}{
		{name: "clean document", raw: clean},
		{name: "surrounding whitespace", raw: "\n  " + clean + "\n"},
		{name: "empty", raw: "", wantErr: "JSON object"},
		{name: "array", raw: `[1,2]`, wantErr: "JSON object"},
		{name: "truncated", raw: `{"type":`, wantErr: "decode credential json"},
		{name: "trailing brace", raw: clean + `}`, wantErr: "trailing data"},
		{name: "trailing bracket", raw: clean + `]`, wantErr: "trailing data"},
		{name: "second value", raw: clean + ` {}`, wantErr: "trailing data"},
		{name: "duplicate top-level key", raw: `{"n":"evil","n":"good"}`, wantErr: "duplicate object key"},
		{name: "duplicate nested key", raw: `{"credentialSubject":{"n":"evil","n":"good"}}`, wantErr: "duplicate object key"},
		{name: "duplicate key inside array element", raw: `{"items":[{"a":1},{"a":1,"a":2}]}`, wantErr: "duplicate object key"},
		{name: "invalid utf-8", raw: "{\"n\":\"\xff\"}", wantErr: "invalid UTF-8"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			doc, err := ParseDocument([]byte(tt.raw))
			if tt.wantErr != "" {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.wantErr)
				assert.True(t, doc.IsZero())
				return
			}
			require.NoError(t, err)
			assert.False(t, doc.IsZero())
		})
	}
}

func TestParseDocument_HashIgnoresFormatting(t *testing.T) {
	a, err := ParseDocument([]byte(`{"b":1,"a":{"y":2,"x":1.50}}`))
	require.NoError(t, err)
	b, err := ParseDocument([]byte("{ \"a\": {\"x\": 1.50, \"y\": 2},\n \"b\": 1 }"))
	require.NoError(t, err)

	assert.Equal(t, a.Hash(), b.Hash())
	assert.Equal(t, `{"a":{"x":1.50,"y":2},"b":1}`, string(a.Bytes()))
}

func TestParseDocument_SameKeysInSeparateObjects(t *testing.T) {
	_, err := ParseDocument([]byte(`{"a":{"id":1},"b":{"id":2},"id":3}`))
	assert.NoError(t, err)
}
