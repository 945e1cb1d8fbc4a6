package domain

import "strings"

// ValidateVehicleRecord checks a catalog record once, at the ingestion
// boundary. A record without trims is NOT a validation failure; the
// ingester treats it as a skip (see ErrNoTrims there).
func ValidateVehicleRecord(rec VehicleRecord) error {
	if strings.TrimSpace(rec.ID) == "" {
		return NewValidationError("id", rec.ID, ErrEmptyField)
	}
	if strings.TrimSpace(rec.Name) == "" {
		return NewValidationError("name", rec.Name, ErrEmptyField)
	}
	for _, t := range rec.Trims {
		if strings.TrimSpace(t.ID) == "" {
			return NewValidationError("trim.id", t.Name, ErrEmptyField)
		}
		if strings.TrimSpace(t.Name) == "" {
			return NewValidationError("trim.name", t.ID, ErrEmptyField)
		}
		if t.BasePrice < 0 {
			return NewValidationError("trim.base_price", t.Name, ErrInvalidRecord)
		}
	}
	for _, o := range rec.Options {
		if strings.TrimSpace(o.Name) == "" {
			return NewValidationError("option.name", "", ErrEmptyField)
		}
	}
	return nil
}
