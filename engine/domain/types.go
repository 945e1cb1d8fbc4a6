// Package domain defines the typed catalog records the AI chat engine
// consumes, along with validation at the ingestion boundary. Catalog
// storage itself lives elsewhere; records arrive here already joined
// with their trims and options.
package domain

// VehicleRecord is one catalog vehicle joined with its child records.
type VehicleRecord struct {
	ID           string   `json:"id"`
	Name         string   `json:"name"`
	Manufacturer string   `json:"manufacturer,omitempty"`
	ImageURL     string   `json:"image_url,omitempty"`
	ModelYear    int      `json:"model_year,omitempty"`
	Description  string   `json:"description,omitempty"`
	Trims        []Trim   `json:"trims"`
	Options      []Option `json:"options,omitempty"`
}

// Trim is a purchasable variant of a vehicle. BasePrice is in KRW;
// zero means the price is not published.
type Trim struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	BasePrice int64  `json:"base_price"`
}

// Option is a factory option. Price zero means included or unpriced.
type Option struct {
	Name  string `json:"name"`
	Price int64  `json:"price,omitempty"`
}

// Classification is the AI-derived vehicle taxonomy embedded into
// knowledge documents as grounding text. It is never parsed back out.
type Classification struct {
	BodyType  string `json:"body_type"`
	SizeClass string `json:"size_class"`
	FuelType  string `json:"fuel_type"`
}

// Unclassified is the degraded classification used when the model call
// fails or returns something unusable.
var Unclassified = Classification{
	BodyType:  "기타",
	SizeClass: "정보없음",
	FuelType:  "정보없음",
}
