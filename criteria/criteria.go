// Package criteria models accumulated property-search constraints and the
// pure merge rule used to fold a newly extracted update into a thread's
// current criteria.
package criteria

import "sort"

// Field keys in the order the catalog query engine applies the numeric
// filters. Location and class filters sit outside the rollback sequence.
const (
	KeyDistrict           = "district"
	KeyResidentialComplex = "residential_complex"
	KeyClassType          = "class_type"
	KeyMinFloor           = "min_floor"
	KeyMaxFloor           = "max_floor"
	KeyMinArea            = "min_area"
	KeyMaxArea            = "max_area"
	KeyMinRooms           = "min_rooms"
	KeyMaxRooms           = "max_rooms"
	KeyMinPrice           = "min_price"
	KeyMaxPrice           = "max_price"
)

// FilterOrder is the fixed order the query engine evaluates numeric range
// filters in. The first filter that empties the cumulative result set is
// rolled back and evaluation stops for the turn.
var FilterOrder = []string{
	KeyMinFloor, KeyMaxFloor,
	KeyMinArea, KeyMaxArea,
	KeyMinRooms, KeyMaxRooms,
	KeyMinPrice, KeyMaxPrice,
}

// Criteria is a sparse constraint record. Nil fields mean "unconstrained",
// never "exclude". At most one of District and ResidentialComplex is set;
// Merge maintains that invariant. min > max pairs are passed through as-is
// and surface as an empty result at query time.
type Criteria struct {
	District           *string `json:"district,omitempty"`
	ResidentialComplex *string `json:"residential_complex,omitempty"`
	ClassType          *string `json:"class_type,omitempty"`

	MinFloor *int `json:"min_floor,omitempty"`
	MaxFloor *int `json:"max_floor,omitempty"`

	MinArea *float64 `json:"min_area,omitempty"`
	MaxArea *float64 `json:"max_area,omitempty"`

	MinPrice *float64 `json:"min_price,omitempty"`
	MaxPrice *float64 `json:"max_price,omitempty"`

	MinRooms *int `json:"min_rooms,omitempty"`
	MaxRooms *int `json:"max_rooms,omitempty"`
}

// Merge folds new into current and returns the combined criteria. Pure:
// neither argument is modified.
//
// Location exclusivity: a new residential complex clears any current
// district and vice versa. When the update names both, both are set; the
// caller's intent wins over the invariant's usual one-or-the-other outcome.
// Every other field is overwritten when present in new and retained from
// current otherwise. Fields absent from new are never deleted.
func Merge(current, new Criteria) Criteria {
	out := current

	switch {
	case new.ResidentialComplex != nil && new.District != nil:
		out.ResidentialComplex = new.ResidentialComplex
		out.District = new.District
	case new.ResidentialComplex != nil:
		out.ResidentialComplex = new.ResidentialComplex
		out.District = nil
	case new.District != nil:
		out.District = new.District
		out.ResidentialComplex = nil
	}

	if new.ClassType != nil {
		out.ClassType = new.ClassType
	}
	if new.MinFloor != nil {
		out.MinFloor = new.MinFloor
	}
	if new.MaxFloor != nil {
		out.MaxFloor = new.MaxFloor
	}
	if new.MinArea != nil {
		out.MinArea = new.MinArea
	}
	if new.MaxArea != nil {
		out.MaxArea = new.MaxArea
	}
	if new.MinPrice != nil {
		out.MinPrice = new.MinPrice
	}
	if new.MaxPrice != nil {
		out.MaxPrice = new.MaxPrice
	}
	if new.MinRooms != nil {
		out.MinRooms = new.MinRooms
	}
	if new.MaxRooms != nil {
		out.MaxRooms = new.MaxRooms
	}

	return out
}

// Keys returns the set of populated field keys in a stable order.
func (c Criteria) Keys() []string {
	keys := make([]string, 0, 11)
	for key := range c.toMap() {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return keys
}

// IsEmpty reports whether no field is set.
func (c Criteria) IsEmpty() bool {
	return len(c.toMap()) == 0
}

// Without returns a copy of c with the named field cleared. Used by the
// query engine to roll back the single filter that emptied the result set.
func (c Criteria) Without(key string) Criteria {
	out := c
	switch key {
	case KeyDistrict:
		out.District = nil
	case KeyResidentialComplex:
		out.ResidentialComplex = nil
	case KeyClassType:
		out.ClassType = nil
	case KeyMinFloor:
		out.MinFloor = nil
	case KeyMaxFloor:
		out.MaxFloor = nil
	case KeyMinArea:
		out.MinArea = nil
	case KeyMaxArea:
		out.MaxArea = nil
	case KeyMinPrice:
		out.MinPrice = nil
	case KeyMaxPrice:
		out.MaxPrice = nil
	case KeyMinRooms:
		out.MinRooms = nil
	case KeyMaxRooms:
		out.MaxRooms = nil
	}
	return out
}

func (c Criteria) toMap() map[string]any {
	out := map[string]any{}
	if c.District != nil {
		out[KeyDistrict] = *c.District
	}
	if c.ResidentialComplex != nil {
		out[KeyResidentialComplex] = *c.ResidentialComplex
	}
	if c.ClassType != nil {
		out[KeyClassType] = *c.ClassType
	}
	if c.MinFloor != nil {
		out[KeyMinFloor] = *c.MinFloor
	}
	if c.MaxFloor != nil {
		out[KeyMaxFloor] = *c.MaxFloor
	}
	if c.MinArea != nil {
		out[KeyMinArea] = *c.MinArea
	}
	if c.MaxArea != nil {
		out[KeyMaxArea] = *c.MaxArea
	}
	if c.MinPrice != nil {
		out[KeyMinPrice] = *c.MinPrice
	}
	if c.MaxPrice != nil {
		out[KeyMaxPrice] = *c.MaxPrice
	}
	if c.MinRooms != nil {
		out[KeyMinRooms] = *c.MinRooms
	}
	if c.MaxRooms != nil {
		out[KeyMaxRooms] = *c.MaxRooms
	}
	return out
}

// Describe returns the populated fields as key/value pairs ordered by key,
// for user-facing summaries of what changed.
func (c Criteria) Describe() []FieldValue {
	m := c.toMap()
	keys := make([]string, 0, len(m))
	for key := range m {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	out := make([]FieldValue, 0, len(keys))
	for _, key := range keys {
		out = append(out, FieldValue{Key: key, Value: m[key]})
	}
	return out
}

type FieldValue struct {
	Key   string
	Value any
}
