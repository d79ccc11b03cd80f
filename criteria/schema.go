package criteria

// JSONSchema describes the structured object the extraction completion is
// constrained to emit. The extractor validates provider output against this
// schema before unmarshalling; anything that fails validation is treated as
// a recoverable parse failure, not a system error.
func JSONSchema() map[string]any {
	number := func(desc string) map[string]any {
		return map[string]any{"type": []string{"number", "null"}, "description": desc}
	}
	integer := func(desc string) map[string]any {
		return map[string]any{"type": []string{"integer", "null"}, "description": desc}
	}
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			KeyDistrict: map[string]any{
				"type":        []string{"string", "null"},
				"description": "City district the client wants to live in. Mutually exclusive with residential_complex.",
			},
			KeyResidentialComplex: map[string]any{
				"type":        []string{"string", "null"},
				"description": "Specific residential complex the client named. Mutually exclusive with district.",
			},
			KeyClassType: map[string]any{
				"type":        []string{"string", "null"},
				"enum":        []any{"STANDARD", "COMFORT", "BUSINESS", "PREMIUM", nil},
				"description": "Housing class of the complex.",
			},
			KeyMinFloor: integer("Lowest acceptable floor."),
			KeyMaxFloor: integer("Highest acceptable floor."),
			KeyMinArea:  number("Minimum area in square meters."),
			KeyMaxArea:  number("Maximum area in square meters."),
			KeyMinPrice: number("Minimum price in tenge."),
			KeyMaxPrice: number("Maximum price in tenge."),
			KeyMinRooms: integer("Minimum number of rooms."),
			KeyMaxRooms: integer("Maximum number of rooms."),
		},
		"additionalProperties": false,
	}
}
