package catalog

import (
	"context"
	"fmt"
	"strings"

	"github.com/archiq/assistant/criteria"
)

const defaultPageSize = 5

// QueryEngine turns an accumulated criteria set into a filtered catalog read
// with over-constraint relaxation: numeric filters are applied one at a time
// in criteria.FilterOrder against the cumulative result set, and the first
// filter that empties it is rolled back, removed from the returned criteria
// and reported to the user, instead of failing the whole query. Remaining
// filters are not applied that turn, so the user learns about exactly one
// offending constraint at a time.
type QueryEngine struct {
	store    *Store
	pageSize int
}

type QueryOption func(*QueryEngine)

func WithPageSize(n int) QueryOption {
	return func(e *QueryEngine) {
		if n > 0 {
			e.pageSize = n
		}
	}
}

func NewQueryEngine(store *Store, opts ...QueryOption) (*QueryEngine, error) {
	if store == nil {
		return nil, fmt.Errorf("catalog store is required")
	}
	e := &QueryEngine{store: store, pageSize: defaultPageSize}
	for _, opt := range opts {
		opt(e)
	}
	return e, nil
}

// QueryResult carries the page of listings, the total match count and the
// possibly-adjusted criteria. RemovedKey is set when a rollback happened.
type QueryResult struct {
	Listings   []Listing
	Total      int
	Criteria   criteria.Criteria
	RemovedKey string
	Message    string
}

func (e *QueryEngine) Query(ctx context.Context, c criteria.Criteria) (QueryResult, error) {
	// Location and class constraints ride along from the start; only the
	// numeric range filters participate in the rollback sequence.
	active := criteria.Criteria{
		District:           c.District,
		ResidentialComplex: c.ResidentialComplex,
		ClassType:          c.ClassType,
	}

	for _, key := range criteria.FilterOrder {
		candidate, set := copyField(active, c, key)
		if !set {
			continue
		}
		count, err := e.store.CountMatches(ctx, candidate)
		if err != nil {
			return QueryResult{}, err
		}
		if count == 0 {
			return QueryResult{
				Criteria:   c.Without(key),
				RemovedKey: key,
				Message:    rollbackMessage(key, c),
			}, nil
		}
		active = candidate
	}

	total, err := e.store.CountMatches(ctx, active)
	if err != nil {
		return QueryResult{}, err
	}
	if total == 0 {
		return QueryResult{
			Criteria: c,
			Message:  "Sorry, no properties match your criteria.",
		}, nil
	}

	listings, err := e.store.Search(ctx, active, e.pageSize)
	if err != nil {
		return QueryResult{}, err
	}

	return QueryResult{
		Listings: listings,
		Total:    total,
		Criteria: c,
		Message:  formatListings(listings, total, e.pageSize),
	}, nil
}

// copyField copies one named field of src onto dst, reporting whether the
// field was set in src.
func copyField(dst, src criteria.Criteria, key string) (criteria.Criteria, bool) {
	out := dst
	switch key {
	case criteria.KeyMinFloor:
		if src.MinFloor == nil {
			return dst, false
		}
		out.MinFloor = src.MinFloor
	case criteria.KeyMaxFloor:
		if src.MaxFloor == nil {
			return dst, false
		}
		out.MaxFloor = src.MaxFloor
	case criteria.KeyMinArea:
		if src.MinArea == nil {
			return dst, false
		}
		out.MinArea = src.MinArea
	case criteria.KeyMaxArea:
		if src.MaxArea == nil {
			return dst, false
		}
		out.MaxArea = src.MaxArea
	case criteria.KeyMinRooms:
		if src.MinRooms == nil {
			return dst, false
		}
		out.MinRooms = src.MinRooms
	case criteria.KeyMaxRooms:
		if src.MaxRooms == nil {
			return dst, false
		}
		out.MaxRooms = src.MaxRooms
	case criteria.KeyMinPrice:
		if src.MinPrice == nil {
			return dst, false
		}
		out.MinPrice = src.MinPrice
	case criteria.KeyMaxPrice:
		if src.MaxPrice == nil {
			return dst, false
		}
		out.MaxPrice = src.MaxPrice
	default:
		return dst, false
	}
	return out, true
}

func rollbackMessage(key string, c criteria.Criteria) string {
	switch key {
	case criteria.KeyMinFloor:
		return fmt.Sprintf("Sorry, no available properties at floor %d or above were found. Remove or change this criterion.", *c.MinFloor)
	case criteria.KeyMaxFloor:
		return fmt.Sprintf("Sorry, no available properties at floor %d or below were found. Remove or change this criterion.", *c.MaxFloor)
	case criteria.KeyMinArea:
		return fmt.Sprintf("Sorry, no available properties with an area of at least %.0f m² were found. Remove or change this criterion.", *c.MinArea)
	case criteria.KeyMaxArea:
		return fmt.Sprintf("Sorry, no available properties with an area of at most %.0f m² were found. Remove or change this criterion.", *c.MaxArea)
	case criteria.KeyMinRooms:
		return fmt.Sprintf("Sorry, no available properties with at least %d rooms were found. Remove or change this criterion.", *c.MinRooms)
	case criteria.KeyMaxRooms:
		return fmt.Sprintf("Sorry, no available properties with at most %d rooms were found. Remove or change this criterion.", *c.MaxRooms)
	case criteria.KeyMinPrice:
		return fmt.Sprintf("Sorry, no available properties priced from %.0f ₸ were found. Remove or change this criterion.", *c.MinPrice)
	case criteria.KeyMaxPrice:
		return fmt.Sprintf("Sorry, no available properties priced up to %.0f ₸ were found. Remove or change this criterion.", *c.MaxPrice)
	}
	return "Sorry, one of your criteria matched no properties. Remove or change it."
}

func formatListings(listings []Listing, total, pageSize int) string {
	var sb strings.Builder
	sb.WriteString("Found properties:\n")
	for _, l := range listings {
		fmt.Fprintf(&sb, "property_id: %d. Address: %s, Complex: %s, District: %s\n",
			l.PropertyID, l.Address, l.ComplexName, l.DistrictName)
		if l.Price != nil {
			fmt.Fprintf(&sb, "Price: %.0f\n", *l.Price)
		}
		if l.PricePerSqm != nil {
			fmt.Fprintf(&sb, "Price per m²: %.0f\n", *l.PricePerSqm)
		}
		if l.Rooms != nil {
			fmt.Fprintf(&sb, "Rooms: %d\n", *l.Rooms)
		}
		fmt.Fprintf(&sb, "Area: %.1f m²\n", l.Area)
		fmt.Fprintf(&sb, "Floor: %d\n", l.Floor)
		fmt.Fprintf(&sb, "Heating: %s\n", l.HeatingType)
		fmt.Fprintf(&sb, "Passenger elevator: %s\n", yesNo(l.ElevatorPass))
		fmt.Fprintf(&sb, "Cargo elevator: %s\n", yesNo(l.ElevatorCargo))
		if l.DeadlineYear != nil && l.DeadlineQuarter != nil {
			fmt.Fprintf(&sb, "Completion: Q%d %d\n", *l.DeadlineQuarter, *l.DeadlineYear)
		}
		fmt.Fprintf(&sb, "Construction status: %s\n", l.BuildingStatus)
		if l.Queue != nil {
			fmt.Fprintf(&sb, "Queue: %d\n", *l.Queue)
		}
		sb.WriteString("\n")
	}
	if total > pageSize {
		fmt.Fprintf(&sb, "Total found: %d properties. Add more criteria to narrow the search.", total)
	}
	return strings.TrimRight(sb.String(), "\n")
}

func yesNo(v bool) string {
	if v {
		return "available"
	}
	return "not available"
}
