// Package catalog is the read side of the property inventory plus the
// criteria-driven query engine. Properties under an exclusive purchase
// lifecycle state (reserved, paid, completed) are invisible to every query.
package catalog

import (
	"errors"
	"strings"
	"time"
)

var ErrNotFound = errors.New("catalog: not found")

// Purchase lifecycle states that take a property off the market.
var exclusiveStatuses = []string{"RESERVED", "PAID", "COMPLETED"}

// exclusiveStatusList renders the states as a SQL IN list.
func exclusiveStatusList() string {
	quoted := make([]string, len(exclusiveStatuses))
	for i, status := range exclusiveStatuses {
		quoted[i] = "'" + status + "'"
	}
	return strings.Join(quoted, ", ")
}

type District struct {
	ID          int64  `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
}

type ResidentialComplex struct {
	ID               int64  `json:"id"`
	DistrictID       int64  `json:"districtId"`
	Name             string `json:"name"`
	Address          string `json:"address"`
	ClassType        string `json:"classType"`
	HeatingType      string `json:"heatingType"`
	HasElevatorPass  bool   `json:"hasElevatorPass"`
	HasElevatorCargo bool   `json:"hasElevatorCargo"`
	DescriptionShort string `json:"descriptionShort,omitempty"`
	DescriptionFull  string `json:"descriptionFull,omitempty"`
}

type Block struct {
	ID              int64  `json:"id"`
	ComplexID       int64  `json:"complexId"`
	BlockNumber     int    `json:"blockNumber"`
	TotalFloors     int    `json:"totalFloors"`
	Queue           *int   `json:"queue,omitempty"`
	DeadlineYear    *int   `json:"deadlineYear,omitempty"`
	DeadlineQuarter *int   `json:"deadlineQuarter,omitempty"`
	BuildingStatus  string `json:"buildingStatus"`
}

type Property struct {
	ID          int64    `json:"id"`
	BlockID     int64    `json:"blockId"`
	Category    string   `json:"category"`
	Number      *int     `json:"number,omitempty"`
	Price       *float64 `json:"price,omitempty"`
	PricePerSqm *float64 `json:"pricePerSqm,omitempty"`
	Floor       int      `json:"floor"`
	Area        float64  `json:"area"`
	Rooms       *int     `json:"rooms,omitempty"`
}

// Listing is one property row joined with its block, complex and district,
// shaped for presentation to the user.
type Listing struct {
	PropertyID      int64
	Address         string
	ComplexName     string
	DistrictName    string
	Price           *float64
	PricePerSqm     *float64
	Rooms           *int
	Area            float64
	Floor           int
	HeatingType     string
	ElevatorPass    bool
	ElevatorCargo   bool
	DeadlineYear    *int
	DeadlineQuarter *int
	BuildingStatus  string
	Queue           *int
}

// BlockAvailability counts sellable apartments per block of a complex.
type BlockAvailability struct {
	BlockNumber         int `json:"blockNumber"`
	AvailableApartments int `json:"availableApartments"`
}

type ComplexAvailability struct {
	ComplexID       int64               `json:"complexId"`
	Name            string              `json:"name"`
	DistrictName    string              `json:"districtName"`
	ClassType       string              `json:"classType"`
	TotalAvailable  int                 `json:"totalAvailableApartments"`
	AvailableBlocks []BlockAvailability `json:"availableBlocks"`
}

type Application struct {
	ID          int64     `json:"id"`
	PublicID    string    `json:"publicId"`
	Name        string    `json:"name"`
	PhoneNumber string    `json:"phoneNumber"`
	PropertyID  *int64    `json:"propertyId,omitempty"`
	ComplexID   *int64    `json:"complexId,omitempty"`
	Status      string    `json:"status"`
	CreatedAt   time.Time `json:"createdAt"`
	LinkedUser  bool      `json:"linkedUser"`
}

type ApplicationInput struct {
	Name        string `json:"name"`
	PhoneNumber string `json:"phone_number"`
	PropertyID  *int64 `json:"property_id,omitempty"`
	ComplexID   *int64 `json:"complex_id,omitempty"`
}
