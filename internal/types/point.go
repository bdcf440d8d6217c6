// Package types holds the data records shared across the storage engine's
// tiers: the memory tier, the segment store, and the engine façade.
package types

// Point is a single (timestamp, value, symbol) tick. Points are
// value-typed; equality is field-wise, and ordering within a symbol is by
// Timestamp.
type Point struct {
	// Timestamp is microseconds since the Unix epoch.
	Timestamp int64
	Value     float64
	Symbol    string
}

// Equal reports whether two points are field-wise identical. NaN values
// compare equal to themselves here, unlike Go's == on float64, so codec
// round-trip tests can assert equality on payloads containing NaN.
func (p Point) Equal(o Point) bool {
	if p.Timestamp != o.Timestamp || p.Symbol != o.Symbol {
		return false
	}
	if p.Value != o.Value {
		// Only NaN fails to equal itself under ==.
		return isNaN(p.Value) && isNaN(o.Value)
	}
	return true
}

func isNaN(f float64) bool {
	return f != f
}

// ByTimestamp implements sort.Interface, ordering a slice of Points
// ascending by Timestamp. sort.Sort with it is not stable; sort.Stable is.
// The engine's and segment store's read paths sort with sort.Slice /
// sort.SliceStable directly rather than through this type.
type ByTimestamp []Point

func (s ByTimestamp) Len() int           { return len(s) }
func (s ByTimestamp) Less(i, j int) bool { return s[i].Timestamp < s[j].Timestamp }
func (s ByTimestamp) Swap(i, j int)      { s[i], s[j] = s[j], s[i] }
