package types

import (
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseID(t *testing.T) {
	id := NewID()

	tests := []struct {
		name    string
		input   string
		want    ID
		wantErr bool
	}{
		{"canonical", id.String(), id, false},
		{"upper case", strings.ToUpper(id.String()), id, false},
		{"braced", "{" + id.String() + "}", id, false},
		{"garbage", "not-a-uuid", "", true},
		{"empty", "", "", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseID(tt.input)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestIDValueAndScan(t *testing.T) {
	var zero ID
	v, err := zero.Value()
	require.NoError(t, err)
	assert.Nil(t, v)

	raw := uuid.New()
	var scanned ID
	require.NoError(t, scanned.Scan([16]byte(raw)))
	assert.Equal(t, ID(raw.String()), scanned)

	require.NoError(t, scanned.Scan([]byte(raw.String())))
	assert.Equal(t, ID(raw.String()), scanned)

	require.NoError(t, scanned.Scan(nil))
	assert.True(t, scanned.IsZero())

	assert.Error(t, scanned.Scan(42))
}
