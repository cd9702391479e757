// Command feedcheck parses saved EMT feed snapshots the same way the API does
// and reports record counts, skipped rows, grouping totals, and the result of a
// proximity search. It is meant for checking a feed change before deploying.
//
// Usage:
//
//	curl -o stops.csv https://datosabiertos.malaga.eu/recursos/transporte/EMT/EMTLineasYParadas/lineasyparadas.csv
//	curl -o buses.geojson https://datosabiertos.malaga.eu/recursos/transporte/EMT/EMTlineasUbicaciones/lineasyubicaciones.geojson
//	go run ./cmd/feedcheck -stops-csv stops.csv -buses-geojson buses.geojson \
//	  -lat 36.7190 -lon -4.4210 -radius 500
package main

import (
	"flag"
	"fmt"
	"os"

	"github.com/couchcryptid/malaga-opendata-api/internal/domain"
)

// phase tracks pass/fail for a check.
type phase struct {
	name   string
	notes  []string
	errors []string
}

func (p *phase) errorf(format string, args ...any) {
	p.errors = append(p.errors, fmt.Sprintf(format, args...))
}

func (p *phase) notef(format string, args ...any) {
	p.notes = append(p.notes, fmt.Sprintf(format, args...))
}

func (p *phase) passed() bool { return len(p.errors) == 0 }

type options struct {
	stopsCSV     string
	busesGeoJSON string
	center       domain.Point
	radius       int
	strict       bool
}

func main() {
	var opts options
	flag.StringVar(&opts.stopsCSV, "stops-csv", "", "path to a saved lineasyparadas.csv")
	flag.StringVar(&opts.busesGeoJSON, "buses-geojson", "", "path to a saved lineasyubicaciones.geojson")
	flag.Float64Var(&opts.center.Lat, "lat", 36.7190, "latitude of the proximity search center")
	flag.Float64Var(&opts.center.Lon, "lon", -4.4210, "longitude of the proximity search center")
	flag.IntVar(&opts.radius, "radius", domain.DefaultRadius, "proximity search radius in meters")
	flag.BoolVar(&opts.strict, "strict", false, "fail when any record is skipped")
	flag.Parse()

	if opts.stopsCSV == "" && opts.busesGeoJSON == "" {
		flag.Usage()
		os.Exit(1)
	}
	if !domain.IsCRS(opts.center.Lat, opts.center.Lon) || opts.radius < 0 {
		fmt.Fprintln(os.Stderr, "FATAL: -lat/-lon out of range or negative -radius")
		os.Exit(1)
	}

	os.Exit(run(opts))
}

func run(opts options) int {
	fmt.Println("=== EMT Feed Check ===")
	fmt.Println()

	var phases []*phase

	if opts.stopsCSV != "" {
		stops, p := checkStops(opts.stopsCSV, opts.strict)
		phases = append(phases, p)
		if p.passed() {
			phases = append(phases,
				checkGrouping(stops),
				checkNearby("Nearby stops", stops, opts),
			)
		}
	}

	if opts.busesGeoJSON != "" {
		buses, p := checkBuses(opts.busesGeoJSON, opts.strict)
		phases = append(phases, p)
		if p.passed() {
			phases = append(phases, checkNearby("Nearby buses", buses, opts))
		}
	}

	allPassed := true
	for _, p := range phases {
		status := "\033[32mPASS\033[0m"
		if !p.passed() {
			status = fmt.Sprintf("\033[31mFAIL (%d errors)\033[0m", len(p.errors))
			allPassed = false
		}
		fmt.Printf("  %-42s %s\n", p.name, status)
		for _, n := range p.notes {
			fmt.Printf("      %s\n", n)
		}
	}

	for _, p := range phases {
		if p.passed() {
			continue
		}
		fmt.Printf("\n--- %s ---\n", p.name)
		for i, e := range p.errors {
			fmt.Printf("  [%d] %s\n", i+1, e)
		}
	}

	if allPassed {
		fmt.Println("\nAll checks passed.")
		return 0
	}
	fmt.Println("\nCheck FAILED.")
	return 1
}

func checkStops(path string, strict bool) ([]domain.StopRecord, *phase) {
	p := &phase{name: "Stops CSV parses"}

	f, err := os.Open(path)
	if err != nil {
		p.errorf("open: %v", err)
		return nil, p
	}
	defer f.Close()

	stops, warnings, err := domain.ParseStopsCSV(f)
	if err != nil {
		p.errorf("parse: %v", err)
		return nil, p
	}
	if len(stops) == 0 {
		p.errorf("no stop rows")
	}
	p.notef("%d rows loaded, %d skipped", len(stops), len(warnings))
	reportWarnings(p, warnings, strict)
	return stops, p
}

func checkBuses(path string, strict bool) ([]domain.BusLocation, *phase) {
	p := &phase{name: "Bus positions parse"}

	data, err := os.ReadFile(path)
	if err != nil {
		p.errorf("read: %v", err)
		return nil, p
	}

	buses, warnings, err := domain.ParseBusLocations(data)
	if err != nil {
		p.errorf("parse: %v", err)
		return nil, p
	}
	p.notef("%d buses loaded, %d skipped", len(buses), len(warnings))
	reportWarnings(p, warnings, strict)
	return buses, p
}

func reportWarnings(p *phase, warnings []domain.Warning, strict bool) {
	const shown = 5
	for i, w := range warnings {
		if strict {
			p.errorf("%s", w)
			continue
		}
		if i < shown {
			p.notef("skipped %s", w)
		}
	}
	if !strict && len(warnings) > shown {
		p.notef("... %d more", len(warnings)-shown)
	}
}

// checkGrouping verifies that grouping by each stop code accounts for every row.
func checkGrouping(stops []domain.StopRecord) *phase {
	p := &phase{name: "Stop grouping totals"}

	counts := make(map[int]int)
	for _, s := range stops {
		counts[s.CodParada]++
	}

	for code, want := range counts {
		groups := domain.GroupByField(stops, domain.StopCodeKey, code)
		if len(groups) != 1 {
			p.errorf("codParada %d: %d groups, want 1", code, len(groups))
			continue
		}
		g := groups[0]
		if g.Total != want || len(g.Datos) != g.Total {
			p.errorf("codParada %d: total=%d datos=%d, want %d", code, g.Total, len(g.Datos), want)
		}
	}
	p.notef("%d distinct stops", len(counts))
	return p
}

// checkNearby runs a proximity search and verifies every hit is inside the radius.
func checkNearby[R domain.Locatable](name string, records []R, opts options) *phase {
	p := &phase{name: name}

	hits, warnings := domain.FilterWithin(records, opts.center, float64(opts.radius), nil)
	resp := domain.FormatNearby(hits, opts.center.Lat, opts.center.Lon, opts.radius)

	for i, r := range resp.Datos {
		pos, _ := r.Position()
		if d := domain.Haversine(opts.center, pos); d > float64(opts.radius) {
			p.errorf("result %d at %.1fm is outside %dm", i, d, opts.radius)
		}
	}
	p.notef("%d within %dm of (%.5f, %.5f), %d without coordinates",
		resp.Total, opts.radius, opts.center.Lat, opts.center.Lon, len(warnings))
	return p
}
