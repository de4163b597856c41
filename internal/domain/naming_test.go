package domain

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestInferProductName(t *testing.T) {
	cases := []struct {
		name       string
		provenance string
		want       string
	}{
		{
			name:       "staged grib path",
			provenance: "decoded /tmp/mosaic-etl-1f0e/MRMS_MergedReflectivityQC_00.50_20220601-120039.grib2",
			want:       "MRMS_MergedReflectivityQC",
		},
		{
			name:       "hyphenated token",
			provenance: "/data/Merged-Reflectivity",
			want:       "Merged-Reflectivity",
		},
		{
			name:       "no path tokens",
			provenance: "12345 67890",
			want:       UnresolvedName,
		},
		{
			name:       "empty",
			provenance: "",
			want:       UnresolvedName,
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, InferProductName(tc.provenance))
		})
	}
}

func TestResolveName_KeepsKnownVariable(t *testing.T) {
	assert.Equal(t, "refd", ResolveName("refd", "/x/MRMS_Other"))
	assert.Equal(t, "MRMS_Other", ResolveName(UnknownVariable, "/x/MRMS_Other"))
	assert.Equal(t, "MRMS_Other", ResolveName("", "/x/MRMS_Other"))
}
