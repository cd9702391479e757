package domain

import (
	"encoding/csv"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"maps"
	"slices"
	"strings"
)

// Field names shared by the feeds and the JSON responses.
const (
	FieldStopCode   = "codParada"
	FieldStopLine   = "userCodLinea"
	FieldLat        = "lat"
	FieldLon        = "lon"
	FieldBusCode    = "codBus"
	FieldBusLine    = "codLinea"
	FieldGeometry   = "geometry"
	FieldLastUpdate = "lastUpdate"
	FieldDistance   = "distancia"
)

// droppedStopColumns are presentation-only columns removed on load.
var droppedStopColumns = map[string]bool{
	"lineas":             true,
	"codLineaStrSin":     true,
	"codLineaStr":        true,
	"observaciones":      true,
	"avisoSinHorarioEs":  true,
	"avisoSinHorarioEn":  true,
	"tagsAccesibilidad":  true,
	"fechaInicioDemanda": true,
	"fechaFinDemanda":    true,
	"linea":              true,
	"espera":             true,
}

// StopRecord is one (line, stop) row of the stops CSV.
type StopRecord struct {
	CodParada    int
	UserCodLinea string
	Lat          *float64
	Lon          *float64

	// Extra holds the remaining kept columns, type-inferred.
	Extra map[string]any
}

// Position returns the stop coordinates, if present and in range.
func (s StopRecord) Position() (Point, bool) {
	if s.Lat == nil || s.Lon == nil {
		return Point{}, false
	}
	return validPosition(*s.Lat, *s.Lon)
}

// Attributes returns the record as a flat field map. Each call returns a new map.
func (s StopRecord) Attributes() map[string]any {
	attrs := make(map[string]any, len(s.Extra)+4)
	maps.Copy(attrs, s.Extra)
	attrs[FieldStopCode] = s.CodParada
	attrs[FieldStopLine] = s.UserCodLinea
	attrs[FieldLat] = nullableFloat(s.Lat)
	attrs[FieldLon] = nullableFloat(s.Lon)
	return attrs
}

// MarshalJSON encodes the stop as its flat attribute map.
func (s StopRecord) MarshalJSON() ([]byte, error) {
	return json.Marshal(s.Attributes())
}

// ParseStopsCSV reads the stops CSV. Rows with the wrong number of fields or an
// unusable codParada are skipped and reported as warnings; a missing header or
// codParada column is an error.
func ParseStopsCSV(r io.Reader) ([]StopRecord, []Warning, error) {
	cr := csv.NewReader(r)
	cr.LazyQuotes = true

	header, err := cr.Read()
	if err != nil {
		return nil, nil, fmt.Errorf("read stops header: %w", err)
	}
	columns := make([]string, len(header))
	for i, h := range header {
		columns[i] = strings.TrimSpace(strings.TrimPrefix(h, "\ufeff"))
	}
	if !slices.Contains(columns, FieldStopCode) {
		return nil, nil, fmt.Errorf("stops csv: missing %q column", FieldStopCode)
	}

	stops := make([]StopRecord, 0)
	var warnings []Warning

	for row := 0; ; row++ {
		fields, err := cr.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			if errors.Is(err, csv.ErrFieldCount) {
				warnings = append(warnings, Warning{Index: row, Reason: err.Error()})
				continue
			}
			return nil, warnings, fmt.Errorf("read stops row %d: %w", row, err)
		}

		stop, err := stopFromRow(columns, fields)
		if err != nil {
			warnings = append(warnings, Warning{Index: row, Reason: err.Error()})
			continue
		}
		stops = append(stops, stop)
	}

	return stops, warnings, nil
}

func stopFromRow(columns, fields []string) (StopRecord, error) {
	stop := StopRecord{Extra: make(map[string]any)}

	for i, col := range columns {
		if droppedStopColumns[col] {
			continue
		}
		value := strings.TrimSpace(fields[i])

		switch col {
		case FieldStopCode:
			code, ok := parseIntegral(value)
			if !ok {
				return StopRecord{}, fmt.Errorf("invalid %s %q", FieldStopCode, value)
			}
			stop.CodParada = code
		case FieldStopLine:
			stop.UserCodLinea = value
		case FieldLat:
			stop.Lat = parseOptionalFloat(value)
		case FieldLon:
			stop.Lon = parseOptionalFloat(value)
		default:
			stop.Extra[col] = inferValue(value)
		}
	}

	return stop, nil
}
