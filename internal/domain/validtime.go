package domain

import (
	"path"
	"regexp"
	"strings"
	"time"
)

// ValidTimeLayout is the timestamp embedded in archive file names.
const ValidTimeLayout = "20060102-150405"

// validTimeRe matches an 8-digit date and 6-digit time, e.g. 20220601-120039.
var validTimeRe = regexp.MustCompile(`(\d{8}-\d{6})`)

// ValidTimeToken returns the first YYYYMMDD-HHMMSS token in name.
func ValidTimeToken(name string) (string, bool) {
	m := validTimeRe.FindString(name)
	return m, m != ""
}

// ParseValidTime extracts the UTC valid time embedded in a file name or URL.
func ParseValidTime(name string) (time.Time, bool) {
	tok, ok := ValidTimeToken(name)
	if !ok {
		return time.Time{}, false
	}
	t, err := time.ParseInLocation(ValidTimeLayout, tok, time.UTC)
	if err != nil {
		return time.Time{}, false
	}
	return t, true
}

// ProductToken returns the product portion of an MRMS file name, i.e. the
// text between the "MRMS_" prefix and the level or timestamp suffix:
// "MRMS_MergedReflectivityQC_00.50_20220601-120039.grib2" -> "MergedReflectivityQC".
// Names without the prefix yield "".
func ProductToken(name string) string {
	base := path.Base(name)
	rest, ok := strings.CutPrefix(base, "MRMS_")
	if !ok {
		return ""
	}
	var parts []string
	for _, p := range strings.Split(rest, "_") {
		if p == "" || (p[0] >= '0' && p[0] <= '9') {
			break
		}
		parts = append(parts, p)
	}
	return strings.Join(parts, "_")
}

// Window is the closed interval [Target-Delta, Target+Delta].
type Window struct {
	Target time.Time
	Delta  time.Duration
}

// Contains reports whether t falls inside the window.
func (w Window) Contains(t time.Time) bool {
	d := t.Sub(w.Target)
	if d < 0 {
		d = -d
	}
	return d <= w.Delta
}

// Days returns the UTC calendar days overlapping the window, oldest first.
func (w Window) Days() []time.Time {
	start := w.Target.Add(-w.Delta).UTC().Truncate(24 * time.Hour)
	end := w.Target.Add(w.Delta).UTC()
	var days []time.Time
	for d := start; !d.After(end); d = d.Add(24 * time.Hour) {
		days = append(days, d)
	}
	return days
}

// ArchiveEntry is one remote listing result.
type ArchiveEntry struct {
	URL       string
	ValidTime time.Time
	Product   string
}

// Name returns the last path element of the entry URL.
func (e ArchiveEntry) Name() string {
	return path.Base(e.URL)
}
