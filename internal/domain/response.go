package domain

// NearbyResponse wraps a proximity search result with the query that produced it.
type NearbyResponse[R any] struct {
	Lat    float64 `json:"lat"`
	Lon    float64 `json:"lon"`
	Radius int     `json:"radius"`
	Total  int     `json:"total"`
	Datos  []R     `json:"datos"`
}

// FormatNearby builds the response envelope. Total always equals len(Datos)
// and Datos is never nil.
func FormatNearby[R any](records []R, lat, lon float64, radius int) NearbyResponse[R] {
	if records == nil {
		records = []R{}
	}
	return NearbyResponse[R]{
		Lat:    lat,
		Lon:    lon,
		Radius: radius,
		Total:  len(records),
		Datos:  records,
	}
}
