package domain

import (
	"fmt"
	"maps"
	"regexp"
	"strconv"
	"strings"
	"time"
)

// ForecastDay is one entry of prediccion.dia. Its fields differ between the
// daily and hourly documents, so it is kept as a dynamic object.
type ForecastDay map[string]any

// ForecastBlock is the forecast for one municipality.
type ForecastBlock struct {
	Nombre     string `json:"nombre"`
	Provincia  string `json:"provincia"`
	Elaborado  string `json:"elaborado"`
	Prediccion struct {
		Dia []ForecastDay `json:"dia"`
	} `json:"prediccion"`
}

// ForecastPayload is a full forecast document. Only the first block is used.
type ForecastPayload []ForecastBlock

const dayStartSuffix = "T00:00:00"

// hourlyDroppedFields are removed from hourly extractions.
var hourlyDroppedFields = []string{"probNieve", "probPrecipitacion", "probTormenta"}

var datePattern = regexp.MustCompile(`^\d{4}-\d{2}-\d{2}$`)

// ParseForecast decodes a forecast document, keeping numbers as json.Number.
func ParseForecast(data []byte) (ForecastPayload, error) {
	var payload ForecastPayload
	if err := decodeNumber(data, &payload); err != nil {
		return nil, fmt.Errorf("decode forecast: %w", err)
	}
	return payload, nil
}

// CheckTimeFormat accepts YYYY-MM-DD calendar dates only.
func CheckTimeFormat(day string) error {
	if !datePattern.MatchString(day) {
		return fmt.Errorf("%w: %q", ErrInvalidDateFormat, day)
	}
	if _, err := time.Parse(time.DateOnly, day); err != nil {
		return fmt.Errorf("%w: %q", ErrInvalidDateFormat, day)
	}
	return nil
}

// ParseHour reads an hour path value such as "8" or "08". The range is
// checked by CheckHour.
func ParseHour(hour string) (int, error) {
	h, err := strconv.Atoi(strings.TrimSpace(hour))
	if err != nil {
		return 0, fmt.Errorf("%w: %q", ErrInvalidHour, hour)
	}
	return h, nil
}

// CheckHour reports whether hour is an hour of the day, 0 through 23.
func CheckHour(hour int) error {
	if hour < 0 || hour > 23 {
		return fmt.Errorf("%w: %d", ErrInvalidHour, hour)
	}
	return nil
}

// ForecastDays returns every day of the first block, or an empty list.
func ForecastDays(p ForecastPayload) []ForecastDay {
	if len(p) == 0 || p[0].Prediccion.Dia == nil {
		return []ForecastDay{}
	}
	return p[0].Prediccion.Dia
}

// ExtractDay returns the entry for day, which must already pass CheckTimeFormat.
func ExtractDay(p ForecastPayload, day string) (ForecastDay, bool) {
	want := day + dayStartSuffix
	for _, d := range ForecastDays(p) {
		if fecha, ok := d["fecha"].(string); ok && fecha == want {
			return d, true
		}
	}
	return nil, false
}

// ExtractDayHour returns a copy of the hourly entry for day narrowed to hour:
// the probability fields are dropped and every list of period objects is
// replaced by the object whose periodo equals hour. Lists without a match are
// kept whole.
func ExtractDayHour(p ForecastPayload, day string, hour int) (ForecastDay, bool) {
	entry, ok := ExtractDay(p, day)
	if !ok {
		return nil, false
	}

	out := make(ForecastDay, len(entry))
	maps.Copy(out, entry)
	for _, f := range hourlyDroppedFields {
		delete(out, f)
	}

	for field, value := range out {
		list, ok := value.([]any)
		if !ok {
			continue
		}
		if match, found := selectPeriod(list, hour); found {
			out[field] = match
		}
	}
	return out, true
}

func selectPeriod(list []any, hour int) (map[string]any, bool) {
	for _, item := range list {
		obj, ok := item.(map[string]any)
		if !ok {
			continue
		}
		if periodo, ok := toInt(obj["periodo"]); ok && periodo == hour {
			return obj, true
		}
	}
	return nil, false
}
