package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/archiq/assistant/catalog"
	"github.com/archiq/assistant/lookup"
)

// Reference-stage tool names.
const (
	ToolComplexAvailability = "search_for_all_residential_complexes"
	ToolListDistricts       = "list_districts"
	ToolCreateApplication   = "create_property_application"
	ToolCatalogLookup       = "catalog_lookup"
)

type emptyArgs struct{}

type createApplicationArgs struct {
	Name        string `json:"name" jsonschema:"description=The full name of the applicant"`
	PhoneNumber string `json:"phone_number" jsonschema:"description=Phone number in format +7XXXXXXXXXX"`
	PropertyID  *int64 `json:"property_id,omitempty" jsonschema:"description=ID of a specific property"`
	ComplexID   *int64 `json:"complex_id,omitempty" jsonschema:"description=ID of a residential complex"`
}

type catalogLookupArgs struct {
	Query string `json:"query" jsonschema:"description=Free-text mention of a district or residential complex to resolve"`
	TopK  int    `json:"top_k,omitempty" jsonschema:"description=Number of candidates to return (default 5)"`
}

// NewReferenceRegistry assembles the tool set of the reference stage.
func NewReferenceRegistry(store *catalog.Store, retriever lookup.Retriever) (*Registry, error) {
	return NewRegistry(
		NewComplexAvailabilityTool(store),
		NewListDistrictsTool(store),
		NewCreateApplicationTool(store),
		NewCatalogLookupTool(retriever),
	)
}

// NewComplexAvailabilityTool lists every residential complex with per-block
// counts of apartments still on sale.
func NewComplexAvailabilityTool(store *catalog.Store) *FuncTool {
	return NewFuncTool(
		ToolComplexAvailability,
		"List all residential complexes with the number of apartments available for sale in each block.",
		mustSchema(&emptyArgs{}),
		func(ctx context.Context, _ json.RawMessage) (any, error) {
			availability, err := store.ListComplexAvailability(ctx)
			if err != nil {
				return nil, err
			}
			if len(availability) == 0 {
				return "No residential complexes are available.", nil
			}

			var b strings.Builder
			b.WriteString("Residential complexes:\n")
			for _, c := range availability {
				fmt.Fprintf(&b, "- %s (%s, %s class): %d apartments available",
					c.Name, c.DistrictName, c.ClassType, c.TotalAvailable)
				if len(c.AvailableBlocks) > 0 {
					parts := make([]string, 0, len(c.AvailableBlocks))
					for _, blk := range c.AvailableBlocks {
						parts = append(parts, fmt.Sprintf("block %d: %d", blk.BlockNumber, blk.AvailableApartments))
					}
					fmt.Fprintf(&b, " (%s)", strings.Join(parts, ", "))
				}
				b.WriteString("\n")
			}
			return strings.TrimRight(b.String(), "\n"), nil
		},
	)
}

func NewListDistrictsTool(store *catalog.Store) *FuncTool {
	return NewFuncTool(
		ToolListDistricts,
		"List the districts that have residential complexes, with a short description of each.",
		mustSchema(&emptyArgs{}),
		func(ctx context.Context, _ json.RawMessage) (any, error) {
			districts, err := store.ListDistricts(ctx)
			if err != nil {
				return nil, err
			}
			if len(districts) == 0 {
				return "No districts are available.", nil
			}

			var b strings.Builder
			b.WriteString("Districts:\n")
			for _, d := range districts {
				fmt.Fprintf(&b, "- %s", d.Name)
				if d.Description != "" {
					fmt.Fprintf(&b, ": %s", d.Description)
				}
				b.WriteString("\n")
			}
			return strings.TrimRight(b.String(), "\n"), nil
		},
	)
}

// NewCreateApplicationTool submits a purchase application. It is the one
// side-effecting tool in the set, so it requires the user's approval.
func NewCreateApplicationTool(store *catalog.Store) *FuncTool {
	return NewFuncTool(
		ToolCreateApplication,
		"Create a purchase application for a property or residential complex. Requires the applicant's name and phone number plus a property_id or complex_id.",
		mustSchema(&createApplicationArgs{}),
		func(ctx context.Context, args json.RawMessage) (any, error) {
			var in createApplicationArgs
			if err := json.Unmarshal(args, &in); err != nil {
				return nil, fmt.Errorf("invalid application args: %w", err)
			}

			app, err := store.CreateApplication(ctx, catalog.ApplicationInput{
				Name:        in.Name,
				PhoneNumber: in.PhoneNumber,
				PropertyID:  in.PropertyID,
				ComplexID:   in.ComplexID,
			})
			if err != nil {
				return nil, err
			}
			return fmt.Sprintf("Application %s has been created. Our manager will contact you at %s shortly.",
				app.PublicID, app.PhoneNumber), nil
		},
	).WithApproval()
}

func NewCatalogLookupTool(retriever lookup.Retriever) *FuncTool {
	return NewFuncTool(
		ToolCatalogLookup,
		"Resolve a free-text mention of a district or residential complex to catalog entries with their identifiers.",
		mustSchema(&catalogLookupArgs{}),
		func(ctx context.Context, args json.RawMessage) (any, error) {
			var in catalogLookupArgs
			if err := json.Unmarshal(args, &in); err != nil {
				return nil, fmt.Errorf("invalid lookup args: %w", err)
			}
			candidates, err := retriever.Retrieve(ctx, in.Query, in.TopK)
			if err != nil {
				return nil, err
			}
			if len(candidates) == 0 {
				return "Nothing in the catalog matches that description.", nil
			}

			var b strings.Builder
			fmt.Fprintf(&b, "Found %d candidates:\n", len(candidates))
			for i, c := range candidates {
				fmt.Fprintf(&b, "[%d] %s %q (id %d)", i+1, c.Kind, c.Name, c.ID)
				if c.Summary != "" {
					fmt.Fprintf(&b, ": %s", c.Summary)
				}
				b.WriteString("\n")
			}
			return strings.TrimRight(b.String(), "\n"), nil
		},
	)
}
