package scanning

// Record is one row of an extracted military record sheet.
// JSON names match the contract declared to the model.
type Record struct {
	MilitaryNumber string `json:"militaryNumber"`
	Rank           string `json:"rank"`
	Name           string `json:"name"`
	Date           string `json:"date"` // DD/MM/YYYY
	Location       string `json:"location"`
	NationalID     string `json:"nationalId"`
	Notes          string `json:"notes"` // always empty at extraction, reserved for manual entry
}
