package catalog

import (
	"context"
	"fmt"
	"time"
)

// Insert helpers used by fixtures and the catalog import tooling. The agent
// itself never writes to the catalog except through CreateApplication.

func (s *Store) InsertDistrict(ctx context.Context, d District) (int64, error) {
	res, err := s.db.ExecContext(ctx,
		"INSERT INTO districts (name, description) VALUES (?, ?);",
		d.Name, d.Description,
	)
	if err != nil {
		return 0, fmt.Errorf("failed to insert district: %w", err)
	}
	return res.LastInsertId()
}

func (s *Store) InsertComplex(ctx context.Context, rc ResidentialComplex) (int64, error) {
	res, err := s.db.ExecContext(ctx, `
INSERT INTO residential_complexes
  (district_id, name, address, class_type, heating_type,
   has_elevator_pass, has_elevator_cargo, description_short, description_full)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?);`,
		rc.DistrictID, rc.Name, rc.Address, rc.ClassType, rc.HeatingType,
		boolToInt(rc.HasElevatorPass), boolToInt(rc.HasElevatorCargo),
		rc.DescriptionShort, rc.DescriptionFull,
	)
	if err != nil {
		return 0, fmt.Errorf("failed to insert complex: %w", err)
	}
	return res.LastInsertId()
}

func (s *Store) InsertBlock(ctx context.Context, b Block) (int64, error) {
	res, err := s.db.ExecContext(ctx, `
INSERT INTO blocks
  (complex_id, block_number, total_floors, queue, deadline_year, deadline_quarter, building_status)
VALUES (?, ?, ?, ?, ?, ?, ?);`,
		b.ComplexID, b.BlockNumber, b.TotalFloors,
		nullableIntValue(b.Queue), nullableIntValue(b.DeadlineYear), nullableIntValue(b.DeadlineQuarter),
		b.BuildingStatus,
	)
	if err != nil {
		return 0, fmt.Errorf("failed to insert block: %w", err)
	}
	return res.LastInsertId()
}

func (s *Store) InsertProperty(ctx context.Context, p Property) (int64, error) {
	res, err := s.db.ExecContext(ctx, `
INSERT INTO properties (block_id, category, number, price, price_per_sqm, floor, area, rooms)
VALUES (?, ?, ?, ?, ?, ?, ?, ?);`,
		p.BlockID, p.Category, nullableIntValue(p.Number),
		nullableFloatValue(p.Price), nullableFloatValue(p.PricePerSqm),
		p.Floor, p.Area, nullableIntValue(p.Rooms),
	)
	if err != nil {
		return 0, fmt.Errorf("failed to insert property: %w", err)
	}
	return res.LastInsertId()
}

// MarkPurchased moves a property into a purchase lifecycle state. States in
// {RESERVED, PAID, COMPLETED} take the property off the market.
func (s *Store) MarkPurchased(ctx context.Context, propertyID int64, status string) error {
	_, err := s.db.ExecContext(ctx,
		"INSERT INTO property_purchases (property_id, status, created_at) VALUES (?, ?, ?);",
		propertyID, status, time.Now().UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("failed to record purchase: %w", err)
	}
	return nil
}

func boolToInt(v bool) int {
	if v {
		return 1
	}
	return 0
}

func nullableIntValue(v *int) any {
	if v == nil {
		return nil
	}
	return *v
}

func nullableFloatValue(v *float64) any {
	if v == nil {
		return nil
	}
	return *v
}
