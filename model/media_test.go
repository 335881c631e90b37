package model

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestMediaKind_Validate(t *testing.T) {
	require.NoError(t, KindLocal.Validate())
	require.NoError(t, KindRemote.Validate())

	err := MediaKind("thumbnail").Validate()
	require.Error(t, err)
	require.True(t, errors.Is(err, ErrInvalidKind))
}

func TestMediaKey_String(t *testing.T) {
	require.Equal(t, "abc", MediaKey{MediaID: "abc"}.String())
	require.Equal(t, "example.org/abc", MediaKey{Origin: "example.org", MediaID: "abc"}.String())
}

func TestParseStorageClass(t *testing.T) {
	tests := []struct {
		in      string
		want    StorageClass
		wantErr bool
	}{
		{in: "", want: StorageClassStandard},
		{in: "STANDARD", want: StorageClassStandard},
		{in: "standard_ia", want: StorageClassStandardIA},
		{in: " ONEZONE_IA ", want: StorageClassOneZoneIA},
		{in: "REDUCED_REDUNDANCY", want: StorageClassReducedRedundancy},
		{in: "GLACIER", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseStorageClass(tt.in)
			if tt.wantErr {
				require.ErrorIs(t, err, ErrInvalidStorageClass)
				return
			}
			require.NoError(t, err)
			require.Equal(t, tt.want, got)
		})
	}
}
