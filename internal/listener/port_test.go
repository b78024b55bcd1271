package listener

import (
	"testing"

	"github.com/HerbHall/tagwatch/pkg/reader"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParsePort(t *testing.T) {
	tests := []struct {
		in      string
		want    int
		wantErr bool
	}{
		{in: "10005", want: 10005},
		{in: " 3000 ", want: 3000},
		{in: "1", want: 1},
		{in: "65535", want: 65535},
		{in: "0", wantErr: true},
		{in: "65536", wantErr: true},
		{in: "-1", wantErr: true},
		{in: "", wantErr: true},
		{in: "port", wantErr: true},
		{in: "10005a", wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParsePort(tt.in)
			if tt.wantErr {
				var ve *ValidationError
				require.ErrorAs(t, err, &ve)
				assert.Equal(t, "port", ve.Field)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestVariants(t *testing.T) {
	assert.Equal(t, []string{VariantBRM, VariantNotify}, VariantNames())

	v, ok := LookupVariant("")
	require.True(t, ok)
	assert.Equal(t, VariantNotify, v.Name)
	assert.Len(t, v.Kinds(), 6)

	brm, ok := LookupVariant(VariantBRM)
	require.True(t, ok)
	assert.False(t, brm.NeedsExtension)
	assert.Equal(t, []reader.EventKind{reader.EventBRM, reader.EventDiag}, brm.Kinds())
	assert.False(t, brm.Handles(reader.EventTag))

	_, ok = LookupVariant("nope")
	assert.False(t, ok)
}
