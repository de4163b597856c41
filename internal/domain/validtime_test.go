package domain

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseValidTime(t *testing.T) {
	got, ok := ParseValidTime("https://mrms.ncep.noaa.gov/data/3DRefl/MergedReflectivityQC_00.50/MRMS_MergedReflectivityQC_00.50_20220601-120039.grib2.gz")
	require.True(t, ok)
	assert.Equal(t, time.Date(2022, time.June, 1, 12, 0, 39, 0, time.UTC), got)
}

func TestParseValidTime_NoToken(t *testing.T) {
	_, ok := ParseValidTime("MRMS_MergedReflectivityQC_00.50_latest.grib2.gz")
	assert.False(t, ok)
}

func TestParseValidTime_InvalidCalendarDate(t *testing.T) {
	_, ok := ParseValidTime("MRMS_X_20221399-250000.grib2")
	assert.False(t, ok)
}

func TestProductToken(t *testing.T) {
	cases := map[string]string{
		"MRMS_MergedReflectivityQC_00.50_20220601-120039.grib2":       "MergedReflectivityQC",
		"/tmp/x/MRMS_MergedReflectivityQCComposite_00.50_20220601.gz": "MergedReflectivityQCComposite",
		"20130601-120000.netcdf":                                      "",
	}
	for name, want := range cases {
		assert.Equal(t, want, ProductToken(name), name)
	}
}

func TestWindow_Contains(t *testing.T) {
	target := time.Date(2022, time.June, 1, 12, 0, 0, 0, time.UTC)
	w := Window{Target: target, Delta: 5 * time.Minute}

	assert.True(t, w.Contains(target))
	assert.True(t, w.Contains(target.Add(5*time.Minute)))
	assert.True(t, w.Contains(target.Add(-5*time.Minute)))
	assert.False(t, w.Contains(target.Add(5*time.Minute+time.Second)))
	assert.False(t, w.Contains(target.Add(-6*time.Minute)))
}

func TestWindow_DaysAcrossMidnight(t *testing.T) {
	w := Window{Target: time.Date(2022, time.June, 1, 0, 2, 0, 0, time.UTC), Delta: 5 * time.Minute}
	days := w.Days()
	require.Len(t, days, 2)
	assert.Equal(t, time.Date(2022, time.May, 31, 0, 0, 0, 0, time.UTC), days[0])
	assert.Equal(t, time.Date(2022, time.June, 1, 0, 0, 0, 0, time.UTC), days[1])
}

func TestArchiveEntry_Name(t *testing.T) {
	e := ArchiveEntry{URL: "https://example.test/a/b/MRMS_X_20220601-120039.grib2.gz"}
	assert.Equal(t, "MRMS_X_20220601-120039.grib2.gz", e.Name())
}
