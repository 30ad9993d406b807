// internal/core/domain/location.go
package domain

import (
	"fmt"
	"strings"
)

// LocationKind distinguishes stock-holding sites.
type LocationKind string

const (
	LocationWarehouse LocationKind = "warehouse"
	LocationOutlet    LocationKind = "outlet"
)

// IsValid reports whether k is a known kind.
func (k LocationKind) IsValid() bool {
	return k == LocationWarehouse || k == LocationOutlet
}

// Location is a tagged reference to a warehouse or an outlet.
type Location struct {
	Kind LocationKind `json:"kind" validate:"required,oneof=warehouse outlet"`
	ID   string       `json:"id" validate:"required"`
}

func Warehouse(id string) Location { return Location{Kind: LocationWarehouse, ID: id} }

func Outlet(id string) Location { return Location{Kind: LocationOutlet, ID: id} }

// ParseLocation reads the "kind:id" form produced by String.
func ParseLocation(s string) (Location, error) {
	kind, id, ok := strings.Cut(s, ":")
	if !ok {
		return Location{}, NewValidationError("location", "expected kind:id, got %q", s)
	}
	loc := Location{Kind: LocationKind(strings.ToLower(strings.TrimSpace(kind))), ID: strings.TrimSpace(id)}
	if err := loc.Validate(); err != nil {
		return Location{}, err
	}
	return loc, nil
}

// Validate rejects unknown kinds and empty identifiers.
func (l Location) Validate() error {
	if !l.Kind.IsValid() {
		return NewValidationError("location.kind", "must be %q or %q", LocationWarehouse, LocationOutlet)
	}
	if strings.TrimSpace(l.ID) == "" {
		return NewValidationError("location.id", "is required")
	}
	return nil
}

func (l Location) IsZero() bool { return l.Kind == "" && l.ID == "" }

func (l Location) String() string {
	return fmt.Sprintf("%s:%s", l.Kind, l.ID)
}
