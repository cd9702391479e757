package domain

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"maps"
)

// Geometry is a GeoJSON geometry. For bus positions Coordinates is [lon, lat].
type Geometry struct {
	Type        string    `json:"type"`
	Coordinates []float64 `json:"coordinates"`
}

// BusLocation is one live bus position from the EMT GeoJSON feed.
type BusLocation struct {
	CodBus     int
	CodLinea   float64
	Geometry   *Geometry
	LastUpdate string

	// Distancia is set by NearbyBuses, in meters.
	Distancia *float64

	// Extra holds the remaining top-level feature attributes.
	Extra map[string]any
}

// Position reads the GeoJSON point, which is ordered [lon, lat].
func (b BusLocation) Position() (Point, bool) {
	if b.Geometry == nil || len(b.Geometry.Coordinates) < 2 {
		return Point{}, false
	}
	return validPosition(b.Geometry.Coordinates[1], b.Geometry.Coordinates[0])
}

// Attributes returns the record as a flat field map. Each call returns a new map.
func (b BusLocation) Attributes() map[string]any {
	attrs := make(map[string]any, len(b.Extra)+5)
	maps.Copy(attrs, b.Extra)
	attrs[FieldBusCode] = b.CodBus
	attrs[FieldBusLine] = b.CodLinea
	if b.Geometry != nil {
		attrs[FieldGeometry] = *b.Geometry
	} else {
		attrs[FieldGeometry] = nil
	}
	if b.LastUpdate != "" {
		attrs[FieldLastUpdate] = b.LastUpdate
	} else {
		attrs[FieldLastUpdate] = nil
	}
	if b.Distancia != nil {
		attrs[FieldDistance] = *b.Distancia
	}
	return attrs
}

// MarshalJSON encodes the bus as its flat attribute map.
func (b BusLocation) MarshalJSON() ([]byte, error) {
	return json.Marshal(b.Attributes())
}

// feature keys consumed into typed fields or discarded.
var consumedBusKeys = map[string]bool{
	FieldBusCode:    true,
	FieldBusLine:    true,
	FieldGeometry:   true,
	FieldLastUpdate: true,
	"properties":    true,
	"geometry_name": true,
}

type rawFeature map[string]json.RawMessage

// ParseBusLocations decodes the bus positions feed, either a bare array of
// features or a FeatureCollection. Features without a usable codBus or
// codLinea are skipped and reported as warnings.
func ParseBusLocations(data []byte) ([]BusLocation, []Warning, error) {
	features, err := decodeFeatures(data)
	if err != nil {
		return nil, nil, err
	}

	buses := make([]BusLocation, 0, len(features))
	var warnings []Warning

	for i, f := range features {
		bus, err := busFromFeature(f)
		if err != nil {
			warnings = append(warnings, Warning{Index: i, Reason: err.Error()})
			continue
		}
		buses = append(buses, bus)
	}

	return buses, warnings, nil
}

func decodeFeatures(data []byte) ([]rawFeature, error) {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 {
		return nil, errors.New("decode bus locations: empty document")
	}

	if trimmed[0] == '{' {
		var collection struct {
			Features []rawFeature `json:"features"`
		}
		if err := json.Unmarshal(trimmed, &collection); err != nil {
			return nil, fmt.Errorf("decode bus locations: %w", err)
		}
		return collection.Features, nil
	}

	var features []rawFeature
	if err := json.Unmarshal(trimmed, &features); err != nil {
		return nil, fmt.Errorf("decode bus locations: %w", err)
	}
	return features, nil
}

func busFromFeature(f rawFeature) (BusLocation, error) {
	var props map[string]any
	if raw, ok := f["properties"]; ok {
		// A malformed properties object only costs us lastUpdate.
		_ = decodeNumber(raw, &props)
	}

	codBus, ok := toInt(lookupAttr(f, props, FieldBusCode))
	if !ok {
		return BusLocation{}, fmt.Errorf("missing or invalid %s", FieldBusCode)
	}
	codLinea, ok := toFloat(lookupAttr(f, props, FieldBusLine))
	if !ok {
		return BusLocation{}, fmt.Errorf("missing or invalid %s", FieldBusLine)
	}

	bus := BusLocation{
		CodBus:   codBus,
		CodLinea: codLinea,
		Extra:    make(map[string]any),
	}

	if raw, ok := f[FieldGeometry]; ok {
		var g Geometry
		if err := json.Unmarshal(raw, &g); err == nil && g.Type != "" {
			bus.Geometry = &g
		}
	}
	if s, ok := props["last_update"].(string); ok {
		bus.LastUpdate = s
	}

	for key, raw := range f {
		if consumedBusKeys[key] {
			continue
		}
		var v any
		if err := decodeNumber(raw, &v); err == nil {
			bus.Extra[key] = v
		}
	}

	return bus, nil
}

// lookupAttr prefers the feature's own attribute and falls back to properties.
func lookupAttr(f rawFeature, props map[string]any, key string) any {
	if raw, ok := f[key]; ok {
		var v any
		if err := decodeNumber(raw, &v); err == nil && v != nil {
			return v
		}
	}
	return props[key]
}

// decodeNumber unmarshals keeping numbers as json.Number so integer IDs
// survive re-encoding unchanged.
func decodeNumber(raw json.RawMessage, v any) error {
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	return dec.Decode(v)
}
