// Command validate checks the integrity of a mosaic Zarr store: every group's
// array shapes agree with its coordinates, the time axis holds unique valid
// times, and the commit ledger records exactly the time steps on disk.
//
// Usage:
//
//	go run ./cmd/validate -store data/mrms.zarr
//	go run ./cmd/validate -store /shared/mrms.zarr -ledger-driver pgx -ledger-dsn postgres://...
package main

import (
	"context"
	"flag"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"slices"
	"time"

	"github.com/couchcryptid/radar-mosaic-etl/internal/domain"
	"github.com/couchcryptid/radar-mosaic-etl/internal/store"
)

// phase tracks pass/fail for a validation phase. Warnings never fail it.
type phase struct {
	name     string
	errors   []string
	warnings []string
}

func (p *phase) errorf(format string, args ...any) {
	p.errors = append(p.errors, fmt.Sprintf(format, args...))
}

func (p *phase) warnf(format string, args ...any) {
	p.warnings = append(p.warnings, fmt.Sprintf(format, args...))
}

func (p *phase) passed() bool { return len(p.errors) == 0 }

func main() {
	storePath := flag.String("store", "data/mrms.zarr", "Zarr store root")
	driver := flag.String("ledger-driver", store.DriverSQLite, "commit ledger driver (sqlite or pgx)")
	dsn := flag.String("ledger-dsn", "", "commit ledger DSN (default <store>/.commits.sqlite)")
	flag.Parse()

	if *dsn == "" {
		*dsn = filepath.Join(*storePath, ".commits.sqlite")
	}
	if code := run(context.Background(), *storePath, *driver, *dsn); code != 0 {
		os.Exit(code)
	}
}

func run(ctx context.Context, storePath, driver, dsn string) int {
	fmt.Println("=== Mosaic Store Integrity Validation ===")
	fmt.Println()

	if _, err := os.Stat(storePath); err != nil {
		fmt.Fprintf(os.Stderr, "FATAL: %v\n", err)
		return 1
	}
	ledger, err := store.OpenLedger(ctx, driver, dsn)
	if err != nil {
		fmt.Fprintf(os.Stderr, "FATAL: open ledger: %v\n", err)
		return 1
	}
	defer ledger.Close()
	st, err := store.Open(ctx, storePath, ledger)
	if err != nil {
		fmt.Fprintf(os.Stderr, "FATAL: open store: %v\n", err)
		return 1
	}

	groups, err := st.Groups()
	if err != nil {
		fmt.Fprintf(os.Stderr, "FATAL: list groups: %v\n", err)
		return 1
	}
	snapshots := map[string]*store.GroupSnapshot{}
	layout := &phase{name: "Group layout"}
	for _, g := range groups {
		snap, err := st.ReadGroup(g)
		if err != nil {
			layout.errorf("%s: %v", g, err)
			continue
		}
		snapshots[g] = snap
		checkLayout(layout, snap)
	}

	phases := []*phase{
		layout,
		validateTimeAxis(snapshots),
		validateLedgerParity(ctx, ledger, snapshots),
		validateVolumes(st, snapshots),
	}

	fmt.Println()
	allPassed := true
	for _, p := range phases {
		status := "\033[32mPASS\033[0m"
		if !p.passed() {
			status = fmt.Sprintf("\033[31mFAIL (%d errors)\033[0m", len(p.errors))
			allPassed = false
		}
		fmt.Printf("  %-42s %s\n", p.name, status)
	}

	fmt.Println()
	times := 0
	for _, s := range snapshots {
		times += len(s.ValidTimes)
	}
	fmt.Printf("Groups: %d, time steps: %d\n", len(groups), times)

	for _, p := range phases {
		if len(p.warnings) > 0 {
			fmt.Printf("\n--- %s (warnings) ---\n", p.name)
			for i, w := range p.warnings {
				fmt.Printf("  [%d] %s\n", i+1, w)
			}
		}
		if p.passed() {
			continue
		}
		fmt.Printf("\n--- %s ---\n", p.name)
		for i, e := range p.errors {
			fmt.Printf("  [%d] %s\n", i+1, e)
		}
	}

	if allPassed {
		fmt.Println("\nAll validations passed.")
		return 0
	}
	fmt.Println("\nValidation FAILED.")
	return 1
}

// ── Checks ──

func checkLayout(p *phase, s *store.GroupSnapshot) {
	if len(s.Shape) != 4 {
		p.errorf("%s: data variable %s has rank %d, want 4", s.Name, s.Variable, len(s.Shape))
		return
	}
	if s.Variable != s.Name {
		p.errorf("%s: data variable %s does not match group name", s.Name, s.Variable)
	}
	if s.Format == domain.FormatUnknown {
		p.errorf("%s: missing or unknown source_format attribute", s.Name)
	}
	if s.Shape[0] != len(s.ValidTimes) {
		p.errorf("%s: %d time steps in data, %d valid times", s.Name, s.Shape[0], len(s.ValidTimes))
	}
	if len(s.Durations) != len(s.ValidTimes) {
		p.errorf("%s: %d durations for %d valid times", s.Name, len(s.Durations), len(s.ValidTimes))
	}
	if s.Shape[1] != len(s.Heights) {
		p.errorf("%s: %d levels in data, %d heights", s.Name, s.Shape[1], len(s.Heights))
	}
	if s.Shape[2] != s.Grid.Rows || s.Shape[3] != s.Grid.Cols {
		p.errorf("%s: data grid %dx%d, coordinates %dx%d", s.Name, s.Shape[2], s.Shape[3], s.Grid.Rows, s.Grid.Cols)
	}
	if !slices.IsSorted(s.Heights) {
		p.errorf("%s: heights not ascending: %v", s.Name, s.Heights)
	}
	if want := s.Format.Duration(); want > 0 {
		for i, d := range s.Durations {
			if d != want {
				p.errorf("%s: duration[%d] = %s, want %s for %s", s.Name, i, d, want, s.Format)
			}
		}
	}
}

// validateTimeAxis requires unique valid times. Out-of-order entries come
// from backfill runs and are reported as warnings.
func validateTimeAxis(snapshots map[string]*store.GroupSnapshot) *phase {
	p := &phase{name: "Time axis"}
	for _, name := range sortedKeys(snapshots) {
		s := snapshots[name]
		seen := map[time.Time]int{}
		for i, t := range s.ValidTimes {
			if j, dup := seen[t]; dup {
				p.errorf("%s: valid time %s at indexes %d and %d", name, t.Format(time.RFC3339), j, i)
			}
			seen[t] = i
			if i > 0 && t.Before(s.ValidTimes[i-1]) {
				p.warnf("%s: valid time %s at index %d precedes %s", name, t.Format(time.RFC3339), i, s.ValidTimes[i-1].Format(time.RFC3339))
			}
		}
	}
	return p
}

func validateLedgerParity(ctx context.Context, ledger *store.Ledger, snapshots map[string]*store.GroupSnapshot) *phase {
	p := &phase{name: "Ledger parity"}
	for _, name := range sortedKeys(snapshots) {
		s := snapshots[name]
		entries, err := ledger.Entries(ctx, name)
		if err != nil {
			p.errorf("%s: read ledger: %v", name, err)
			continue
		}
		if len(entries) != len(s.ValidTimes) {
			p.errorf("%s: %d ledger entries, %d time steps", name, len(entries), len(s.ValidTimes))
		}
		for _, e := range entries {
			if !slices.ContainsFunc(s.ValidTimes, e.ValidTime.Equal) {
				p.errorf("%s: ledger key %s has no time step in the store", name, e.Key)
			}
			if e.Levels != len(s.Heights) {
				p.errorf("%s: ledger key %s records %d levels, group has %d", name, e.Key, e.Levels, len(s.Heights))
			}
		}
	}
	return p
}

// validateVolumes reads the latest time step of each group and checks that it
// decodes to the expected number of cells with at least one observed value.
func validateVolumes(st *store.Store, snapshots map[string]*store.GroupSnapshot) *phase {
	p := &phase{name: "Volume readability"}
	for _, name := range sortedKeys(snapshots) {
		s := snapshots[name]
		if len(s.Shape) != 4 || s.Shape[0] == 0 {
			continue
		}
		t := s.Shape[0] - 1
		vol, err := st.ReadVolume(name, t)
		if err != nil {
			p.errorf("%s: read time step %d: %v", name, t, err)
			continue
		}
		if want := s.Shape[1] * s.Shape[2] * s.Shape[3]; len(vol) != want {
			p.errorf("%s: time step %d has %d cells, want %d", name, t, len(vol), want)
			continue
		}
		if !slices.ContainsFunc(vol, func(v float32) bool { return !math.IsNaN(float64(v)) }) {
			p.warnf("%s: time step %d is fully masked", name, t)
		}
	}
	return p
}

func sortedKeys(m map[string]*store.GroupSnapshot) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	return keys
}
