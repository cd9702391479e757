package domain

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
)

// Record is a flat feed record that can be split into named fields.
type Record interface {
	Attributes() map[string]any
}

// Key names a record field and reads its typed value. The value type K is the
// field's native type, so a lookup value must already be coerced to it.
type Key[R Record, K comparable] struct {
	Field string
	Value func(R) K
}

var (
	// StopCodeKey groups stops by their integer codParada.
	StopCodeKey = Key[StopRecord, int]{
		Field: FieldStopCode,
		Value: func(s StopRecord) int { return s.CodParada },
	}
	// StopLineKey groups stops by their string userCodLinea.
	StopLineKey = Key[StopRecord, string]{
		Field: FieldStopLine,
		Value: func(s StopRecord) string { return s.UserCodLinea },
	}
	// BusCodeKey groups buses by their integer codBus.
	BusCodeKey = Key[BusLocation, int]{
		Field: FieldBusCode,
		Value: func(b BusLocation) int { return b.CodBus },
	}
	// BusLineKey groups buses by their decimal codLinea.
	BusLineKey = Key[BusLocation, float64]{
		Field: FieldBusLine,
		Value: func(b BusLocation) float64 { return b.CodLinea },
	}
)

// GroupedResult is every record sharing one key value. It encodes as
// {"<Field>": Value, "total": Total, "datos": [...]}.
type GroupedResult[K comparable] struct {
	Field string
	Value K
	Total int
	Datos []map[string]any
}

// MarshalJSON writes the key field first, then total and datos.
func (g GroupedResult[K]) MarshalJSON() ([]byte, error) {
	field, err := json.Marshal(g.Field)
	if err != nil {
		return nil, fmt.Errorf("encode group field: %w", err)
	}
	value, err := json.Marshal(g.Value)
	if err != nil {
		return nil, fmt.Errorf("encode group value: %w", err)
	}
	datos := g.Datos
	if datos == nil {
		datos = []map[string]any{}
	}
	items, err := json.Marshal(datos)
	if err != nil {
		return nil, fmt.Errorf("encode group datos: %w", err)
	}

	var buf bytes.Buffer
	buf.WriteByte('{')
	buf.Write(field)
	buf.WriteByte(':')
	buf.Write(value)
	buf.WriteString(`,"total":`)
	buf.WriteString(strconv.Itoa(g.Total))
	buf.WriteString(`,"datos":`)
	buf.Write(items)
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

// GroupByField keeps the records whose key equals value and groups them by
// key value. Groups appear in first-seen order; each group's datos holds the
// remaining fields of its members in input order. No match yields an empty,
// non-nil slice.
func GroupByField[R Record, K comparable](records []R, key Key[R, K], value K) []GroupedResult[K] {
	groups := make([]GroupedResult[K], 0)
	index := make(map[K]int)

	for _, r := range records {
		k := key.Value(r)
		if k != value {
			continue
		}

		rest := r.Attributes()
		delete(rest, key.Field)

		i, ok := index[k]
		if !ok {
			i = len(groups)
			index[k] = i
			groups = append(groups, GroupedResult[K]{Field: key.Field, Value: k})
		}
		groups[i].Datos = append(groups[i].Datos, rest)
	}

	for i := range groups {
		groups[i].Total = len(groups[i].Datos)
	}
	return groups
}
