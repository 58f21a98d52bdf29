package store

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidateName(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		wantErr bool
	}{
		{name: "plain", input: "README.md"},
		{name: "spaces and punctuation", input: "my file (v2)-final_x.txt"},
		{name: "empty", input: "", wantErr: true},
		{name: "blank", input: "   ", wantErr: true},
		{name: "colon", input: "a:b.txt", wantErr: true},
		{name: "unicode", input: "résumé.txt", wantErr: true},
		{name: "hash", input: "#notes", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateName(tt.input)
			if tt.wantErr {
				require.Error(t, err)
				assert.ErrorIs(t, err, ErrInvalidName)
				return
			}
			assert.NoError(t, err)
		})
	}
}

func TestValidateName_ReportsEachBadCharOnce(t *testing.T) {
	err := ValidateName("a::b::c")
	require.Error(t, err)
	assert.Contains(t, err.Error(), `":"`)
}

func TestEntityKind(t *testing.T) {
	assert.True(t, KindProject.IsContainer())
	assert.True(t, KindFolder.IsContainer())
	assert.False(t, KindFile.IsContainer())
	assert.Equal(t, "folder", KindFolder.String())
	assert.Equal(t, "unknown", EntityKind(0).String())
}
