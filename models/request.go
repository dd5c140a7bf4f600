package models

import (
	"fmt"
	"strings"
	"unicode"
	"unicode/utf8"
)

const (
	minPlateLen = 6
	maxPlateLen = 7
	minNameLen  = 2
	maxNameLen  = 100
)

// SearchPayload is the body for POST /api/v1/search and the query string
// for GET /api/v1/complaints.
type SearchPayload struct {
	// LicensePlate is the vehicle plate, e.g. "PCJ8619" or "PCJ-8619". Required.
	LicensePlate string `json:"license_plate" form:"license_plate" binding:"required,plate"`

	// DriverName is the driver's full name as typed by the caller. Required.
	DriverName string `json:"driver_name" form:"driver_name" binding:"required,min=2,max=100"`
}

// SearchRequest is the immutable input of one search. Build it with
// NewSearchRequest or Normalize a raw value; never mutate it afterwards.
type SearchRequest struct {
	Plate      string
	DriverName string
}

// NewSearchRequest validates and normalizes the raw inputs.
func NewSearchRequest(plate, driverName string) (SearchRequest, error) {
	return SearchRequest{Plate: plate, DriverName: driverName}.Normalize()
}

// Normalize returns a copy with the plate uppercased and stripped of spaces
// and hyphens, and the driver name trimmed, whitespace-collapsed and
// uppercased. It fails with an INVALID_INPUT SearchError when either field
// is out of shape.
func (r SearchRequest) Normalize() (SearchRequest, error) {
	plate := NormalizePlate(r.Plate)
	if err := validatePlate(plate); err != nil {
		return SearchRequest{}, err
	}

	name := strings.ToUpper(CollapseSpaces(r.DriverName))
	n := utf8.RuneCountInString(name)
	if n < minNameLen || n > maxNameLen {
		return SearchRequest{}, NewInvalidInputError(
			fmt.Sprintf("driver name must be %d-%d characters, got %d", minNameLen, maxNameLen, n))
	}

	return SearchRequest{Plate: plate, DriverName: name}, nil
}

// NormalizePlate uppercases a plate and removes spaces and hyphens.
func NormalizePlate(plate string) string {
	plate = strings.Map(func(r rune) rune {
		if r == '-' || unicode.IsSpace(r) {
			return -1
		}
		return r
	}, plate)
	return strings.ToUpper(plate)
}

// ValidPlate reports whether an already-normalized plate has the expected shape.
func ValidPlate(plate string) bool {
	return validatePlate(plate) == nil
}

func validatePlate(plate string) error {
	if len(plate) < minPlateLen || len(plate) > maxPlateLen {
		return NewInvalidInputError(
			fmt.Sprintf("license plate must be %d-%d alphanumeric characters", minPlateLen, maxPlateLen))
	}
	for _, r := range plate {
		if (r < 'A' || r > 'Z') && (r < '0' || r > '9') {
			return NewInvalidInputError("license plate must contain only letters and numbers")
		}
	}
	return nil
}

// CollapseSpaces trims s and folds every whitespace run into one space.
func CollapseSpaces(s string) string {
	return strings.Join(strings.Fields(s), " ")
}
