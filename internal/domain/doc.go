// Package domain holds the request-scoped data transformations behind the
// Malaga open-data API: feed parsing, proximity search, grouping by key field,
// and forecast extraction. Nothing in this package performs I/O or keeps state
// between calls, so every function is safe for concurrent use.
//
// # Data Sources
//
// Transit data comes from the EMT (Empresa Malagueña de Transportes) open-data
// portal at https://datosabiertos.malaga.eu/recursos/transporte/EMT:
//
//	EMTLineasYParadas/lineasyparadas.csv              one row per (line, stop) pair
//	EMTLineasYParadas/lineasyparadas.geojson          same topology as GeoJSON
//	EMTlineasUbicaciones/lineasyubicaciones.geojson   live bus positions
//
// Forecasts come from the AEMET OpenData API for municipality 29067 (Malaga).
// AEMET answers every request with a small envelope whose "datos" field is a
// second URL holding the real payload. See the aemet adapter.
//
// # Stop CSV Conventions
//
// Columns are identified by header name. codParada is the stop identity and is
// always an integer; userCodLinea is the rider-facing line code and is kept as a
// string ("1", "C1", "N2"). Presentation-only columns (warnings, accessibility
// tags, demand dates, line lists) are dropped on load; see droppedStopColumns.
// Every other column is kept and type-inferred: integers and decimals become
// JSON numbers, blank cells become null.
//
// A row whose lat or lon cell is blank or not a number keeps a null coordinate.
// It still answers code and line lookups but is skipped by proximity search.
//
// # Bus GeoJSON Conventions
//
// The positions feed is a JSON array of Point features (a FeatureCollection is
// also accepted). Coordinates are [lon, lat]. codBus and codLinea usually sit
// on the feature itself; when they do not, properties is consulted.
// properties.last_update is lifted to lastUpdate, after which properties and
// geometry_name are discarded.
//
// codLinea is a decimal in this feed (e.g. 1.0, 11.0), unlike userCodLinea in
// the stop CSV, so line lookups on the two feeds use different key types.
//
// # Forecast Conventions
//
// Each day entry carries fecha as "YYYY-MM-DDT00:00:00". In the hourly document,
// per-hour values are lists of {periodo, value, ...} objects where periodo is a
// zero-padded hour ("08"). Probability fields use hour ranges ("0814") instead
// and are removed when a single hour is requested.
//
// # Distances
//
// Distances are great-circle distances on a sphere of radius 6371 km, returned
// in meters. Radii are inclusive.
package domain
