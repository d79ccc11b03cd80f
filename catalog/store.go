package catalog

import (
	"context"
	"database/sql"
	_ "embed"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"github.com/archiq/assistant/criteria"
)

//go:embed schema.sql
var schemaSQL string

const defaultBusyTimeout = 5 * time.Second

type Store struct {
	db          *sql.DB
	busyTimeout time.Duration
	enableWAL   bool
}

type Option func(*Store)

func WithBusyTimeout(timeout time.Duration) Option {
	return func(s *Store) {
		if timeout >= 0 {
			s.busyTimeout = timeout
		}
	}
}

func WithWAL(enabled bool) Option {
	return func(s *Store) {
		s.enableWAL = enabled
	}
}

func New(path string, opts ...Option) (*Store, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("catalog sqlite path is required")
	}

	s := &Store{
		busyTimeout: defaultBusyTimeout,
		enableWAL:   true,
	}
	for _, opt := range opts {
		opt(s)
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("failed to create catalog directory: %w", err)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open catalog db: %w", err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	s.db = db
	if err := s.initialize(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) initialize(ctx context.Context) error {
	if s.busyTimeout > 0 {
		ms := int(s.busyTimeout / time.Millisecond)
		if _, err := s.db.ExecContext(ctx, fmt.Sprintf("PRAGMA busy_timeout=%d;", ms)); err != nil {
			return fmt.Errorf("failed to set busy_timeout: %w", err)
		}
	}
	if s.enableWAL {
		if _, err := s.db.ExecContext(ctx, "PRAGMA journal_mode=WAL;"); err != nil {
			return fmt.Errorf("failed to enable wal: %w", err)
		}
	}
	if _, err := s.db.ExecContext(ctx, schemaSQL); err != nil {
		return fmt.Errorf("failed to initialize catalog schema: %w", err)
	}
	return nil
}

func (s *Store) Close() error {
	if s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// criteriaFilter turns the populated fields of a criteria set into WHERE
// clauses against the joined property view. The exclusive-purchase exclusion
// is always present regardless of filters.
func criteriaFilter(c criteria.Criteria) (string, []any) {
	clauses := []string{
		fmt.Sprintf(`NOT EXISTS (
  SELECT 1 FROM property_purchases pp
  WHERE pp.property_id = p.id AND pp.status IN (%s)
)`, exclusiveStatusList()),
	}
	args := []any{}

	if c.District != nil {
		clauses = append(clauses, "d.name = ? COLLATE NOCASE")
		args = append(args, *c.District)
	}
	if c.ResidentialComplex != nil {
		clauses = append(clauses, "rc.name = ? COLLATE NOCASE")
		args = append(args, *c.ResidentialComplex)
	}
	if c.ClassType != nil {
		clauses = append(clauses, "rc.class_type = ?")
		args = append(args, strings.ToUpper(*c.ClassType))
	}
	if c.MinFloor != nil {
		clauses = append(clauses, "p.floor >= ?")
		args = append(args, *c.MinFloor)
	}
	if c.MaxFloor != nil {
		clauses = append(clauses, "p.floor <= ?")
		args = append(args, *c.MaxFloor)
	}
	if c.MinArea != nil {
		clauses = append(clauses, "p.area >= ?")
		args = append(args, *c.MinArea)
	}
	if c.MaxArea != nil {
		clauses = append(clauses, "p.area <= ?")
		args = append(args, *c.MaxArea)
	}
	if c.MinRooms != nil {
		clauses = append(clauses, "p.rooms >= ?")
		args = append(args, *c.MinRooms)
	}
	if c.MaxRooms != nil {
		clauses = append(clauses, "p.rooms <= ?")
		args = append(args, *c.MaxRooms)
	}
	if c.MinPrice != nil {
		clauses = append(clauses, "p.price >= ?")
		args = append(args, *c.MinPrice)
	}
	if c.MaxPrice != nil {
		clauses = append(clauses, "p.price <= ?")
		args = append(args, *c.MaxPrice)
	}

	return strings.Join(clauses, "\n  AND "), args
}

const listingJoin = `
FROM properties p
JOIN blocks b ON b.id = p.block_id
JOIN residential_complexes rc ON rc.id = b.complex_id
JOIN districts d ON d.id = rc.district_id
`

// CountMatches returns how many sellable properties satisfy the criteria.
func (s *Store) CountMatches(ctx context.Context, c criteria.Criteria) (int, error) {
	where, args := criteriaFilter(c)
	q := "SELECT COUNT(*)" + listingJoin + "WHERE " + where + ";"

	var count int
	if err := s.db.QueryRowContext(ctx, q, args...).Scan(&count); err != nil {
		return 0, fmt.Errorf("failed to count properties: %w", err)
	}
	return count, nil
}

// Search returns up to limit sellable listings matching the criteria in
// catalog default order.
func (s *Store) Search(ctx context.Context, c criteria.Criteria, limit int) ([]Listing, error) {
	if limit <= 0 {
		limit = 5
	}
	where, args := criteriaFilter(c)
	q := `SELECT
  p.id, rc.address, rc.name, d.name,
  p.price, p.price_per_sqm, p.rooms, p.area, p.floor,
  rc.heating_type, rc.has_elevator_pass, rc.has_elevator_cargo,
  b.deadline_year, b.deadline_quarter, b.building_status, b.queue` +
		listingJoin + "WHERE " + where + "\nORDER BY p.id LIMIT ?;"
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to search properties: %w", err)
	}
	defer rows.Close()

	out := make([]Listing, 0, limit)
	for rows.Next() {
		var (
			l         Listing
			price     sql.NullFloat64
			perSqm    sql.NullFloat64
			rooms     sql.NullInt64
			deadY     sql.NullInt64
			deadQ     sql.NullInt64
			queue     sql.NullInt64
			elevPass  int
			elevCargo int
		)
		if err := rows.Scan(
			&l.PropertyID, &l.Address, &l.ComplexName, &l.DistrictName,
			&price, &perSqm, &rooms, &l.Area, &l.Floor,
			&l.HeatingType, &elevPass, &elevCargo,
			&deadY, &deadQ, &l.BuildingStatus, &queue,
		); err != nil {
			return nil, fmt.Errorf("failed to scan listing row: %w", err)
		}
		l.Price = nullFloat(price)
		l.PricePerSqm = nullFloat(perSqm)
		l.Rooms = nullInt(rooms)
		l.DeadlineYear = nullInt(deadY)
		l.DeadlineQuarter = nullInt(deadQ)
		l.Queue = nullInt(queue)
		l.ElevatorPass = elevPass != 0
		l.ElevatorCargo = elevCargo != 0
		out = append(out, l)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate listings: %w", err)
	}
	return out, nil
}

// ListComplexAvailability reports per-complex, per-block counts of sellable
// apartments. Blocks with nothing on sale are omitted.
func (s *Store) ListComplexAvailability(ctx context.Context) ([]ComplexAvailability, error) {
	q := fmt.Sprintf(`
SELECT rc.id, rc.name, d.name, rc.class_type, b.block_number, COUNT(p.id)
FROM residential_complexes rc
JOIN districts d ON d.id = rc.district_id
LEFT JOIN blocks b ON b.complex_id = rc.id
LEFT JOIN properties p ON p.block_id = b.id
  AND p.category = 'APARTMENT'
  AND p.price IS NOT NULL
  AND NOT EXISTS (
    SELECT 1 FROM property_purchases pp
    WHERE pp.property_id = p.id AND pp.status IN (%s)
  )
GROUP BY rc.id, b.id
ORDER BY rc.name, b.block_number;
`, exclusiveStatusList())
	rows, err := s.db.QueryContext(ctx, q)
	if err != nil {
		return nil, fmt.Errorf("failed to list complex availability: %w", err)
	}
	defer rows.Close()

	byID := map[int64]*ComplexAvailability{}
	order := []int64{}
	for rows.Next() {
		var (
			id        int64
			name      string
			district  string
			classType string
			blockNum  sql.NullInt64
			available int
		)
		if err := rows.Scan(&id, &name, &district, &classType, &blockNum, &available); err != nil {
			return nil, fmt.Errorf("failed to scan availability row: %w", err)
		}
		entry, ok := byID[id]
		if !ok {
			entry = &ComplexAvailability{
				ComplexID:    id,
				Name:         name,
				DistrictName: district,
				ClassType:    classType,
			}
			byID[id] = entry
			order = append(order, id)
		}
		if blockNum.Valid && available > 0 {
			entry.AvailableBlocks = append(entry.AvailableBlocks, BlockAvailability{
				BlockNumber:         int(blockNum.Int64),
				AvailableApartments: available,
			})
			entry.TotalAvailable += available
		}
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate availability: %w", err)
	}

	out := make([]ComplexAvailability, 0, len(order))
	for _, id := range order {
		out = append(out, *byID[id])
	}
	return out, nil
}

func (s *Store) ListDistricts(ctx context.Context) ([]District, error) {
	rows, err := s.db.QueryContext(ctx, "SELECT id, name, description FROM districts ORDER BY name;")
	if err != nil {
		return nil, fmt.Errorf("failed to list districts: %w", err)
	}
	defer rows.Close()

	out := []District{}
	for rows.Next() {
		var d District
		if err := rows.Scan(&d.ID, &d.Name, &d.Description); err != nil {
			return nil, fmt.Errorf("failed to scan district row: %w", err)
		}
		out = append(out, d)
	}
	return out, rows.Err()
}

func (s *Store) GetProperty(ctx context.Context, id int64) (Property, error) {
	const q = `
SELECT id, block_id, category, number, price, price_per_sqm, floor, area, rooms
FROM properties WHERE id = ?;
`
	var (
		p      Property
		number sql.NullInt64
		price  sql.NullFloat64
		perSqm sql.NullFloat64
		rooms  sql.NullInt64
	)
	err := s.db.QueryRowContext(ctx, q, id).Scan(
		&p.ID, &p.BlockID, &p.Category, &number, &price, &perSqm, &p.Floor, &p.Area, &rooms,
	)
	if err == sql.ErrNoRows {
		return Property{}, ErrNotFound
	}
	if err != nil {
		return Property{}, fmt.Errorf("failed to load property: %w", err)
	}
	p.Number = nullInt(number)
	p.Price = nullFloat(price)
	p.PricePerSqm = nullFloat(perSqm)
	p.Rooms = nullInt(rooms)
	return p, nil
}

func (s *Store) GetComplex(ctx context.Context, id int64) (ResidentialComplex, error) {
	const q = `
SELECT id, district_id, name, address, class_type, heating_type,
       has_elevator_pass, has_elevator_cargo, description_short, description_full
FROM residential_complexes WHERE id = ?;
`
	var (
		rc        ResidentialComplex
		elevPass  int
		elevCargo int
	)
	err := s.db.QueryRowContext(ctx, q, id).Scan(
		&rc.ID, &rc.DistrictID, &rc.Name, &rc.Address, &rc.ClassType, &rc.HeatingType,
		&elevPass, &elevCargo, &rc.DescriptionShort, &rc.DescriptionFull,
	)
	if err == sql.ErrNoRows {
		return ResidentialComplex{}, ErrNotFound
	}
	if err != nil {
		return ResidentialComplex{}, fmt.Errorf("failed to load complex: %w", err)
	}
	rc.HasElevatorPass = elevPass != 0
	rc.HasElevatorCargo = elevCargo != 0
	return rc, nil
}

// CreateApplication records a sales application. Not idempotent: every call
// creates a new record, which is why the executor requires an approval
// decision before running the tool that reaches here.
func (s *Store) CreateApplication(ctx context.Context, in ApplicationInput) (Application, error) {
	if strings.TrimSpace(in.Name) == "" || strings.TrimSpace(in.PhoneNumber) == "" {
		return Application{}, fmt.Errorf("applicant name and phone number are required")
	}
	if in.PropertyID == nil && in.ComplexID == nil {
		return Application{}, fmt.Errorf("a property id or a complex id is required")
	}

	phone := strings.TrimSpace(in.PhoneNumber)
	if !strings.HasPrefix(phone, "+") {
		phone = "+" + phone
	}

	if in.PropertyID != nil {
		if _, err := s.GetProperty(ctx, *in.PropertyID); err != nil {
			return Application{}, err
		}
	}
	if in.ComplexID != nil {
		if _, err := s.GetComplex(ctx, *in.ComplexID); err != nil {
			return Application{}, err
		}
	}

	app := Application{
		PublicID:    uuid.NewString(),
		Name:        strings.TrimSpace(in.Name),
		PhoneNumber: phone,
		PropertyID:  in.PropertyID,
		ComplexID:   in.ComplexID,
		Status:      "NEW",
		CreatedAt:   time.Now().UTC(),
	}

	const q = `
INSERT INTO applications (public_id, name, phone_number, property_id, complex_id, status, created_at)
VALUES (?, ?, ?, ?, ?, ?, ?);
`
	res, err := s.db.ExecContext(ctx, q,
		app.PublicID, app.Name, app.PhoneNumber,
		nullableInt64(app.PropertyID), nullableInt64(app.ComplexID),
		app.Status, app.CreatedAt.Format(time.RFC3339Nano),
	)
	if err != nil {
		return Application{}, fmt.Errorf("failed to create application: %w", err)
	}
	app.ID, err = res.LastInsertId()
	if err != nil {
		return Application{}, fmt.Errorf("failed to read application id: %w", err)
	}
	return app, nil
}

func nullFloat(v sql.NullFloat64) *float64 {
	if !v.Valid {
		return nil
	}
	f := v.Float64
	return &f
}

func nullInt(v sql.NullInt64) *int {
	if !v.Valid {
		return nil
	}
	i := int(v.Int64)
	return &i
}

func nullableInt64(v *int64) any {
	if v == nil {
		return nil
	}
	return *v
}
