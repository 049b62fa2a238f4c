package credential

// Subject is the credentialSubject of an agricultural quality credential
type Subject struct {
	BatchID    string             `json:"batchId"`
	Product    Product            `json:"product"`
	Farmer     Farmer             `json:"farmer"`
	Location   *Location          `json:"location,omitempty"`
	Inspection *InspectionSummary `json:"inspection,omitempty"`
}

// Product describes the certified batch
type Product struct {
	Name        string   `json:"name"`
	Type        string   `json:"type"`
	Variety     string   `json:"variety,omitempty"`
	Quantity    *float64 `json:"quantity,omitempty"`
	Unit        string   `json:"unit,omitempty"`
	HarvestDate string   `json:"harvestDate,omitempty"`
}

type Farmer struct {
	ID       string `json:"id"`
	Name     string `json:"name"`
	FarmName string `json:"farmName,omitempty"`
}

type Location struct {
	Region    string   `json:"region,omitempty"`
	Country   string   `json:"country,omitempty"`
	Latitude  *float64 `json:"latitude,omitempty"`
	Longitude *float64 `json:"longitude,omitempty"`
}

// InspectionSummary carries the inspection outcome and its raw readings.
// Readings are passed through untouched; thresholds live with the inspection service.
type InspectionSummary struct {
	ID          string         `json:"id"`
	InspectorID string         `json:"inspectorId"`
	Outcome     string         `json:"outcome"`
	Grade       string         `json:"grade,omitempty"`
	Notes       string         `json:"notes,omitempty"`
	Readings    map[string]any `json:"readings,omitempty"`
	InspectedAt string         `json:"inspectedAt"`
}
