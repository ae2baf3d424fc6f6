package scanning

// tableScanPrompt is the shared instruction sent with every sheet image
const tableScanPrompt = `Analyze this image containing a military data table in Arabic.
The table is oriented Right-to-Left (RTL).

Extract the data into a JSON array based on these columns (from Right to Left):
1. Military Number (رقم العسكري)
2. Rank (رتبة)
3. Name (الاسم)
4. Date (تاريخ الاستشهاد)
5. Location (مكان الاستشهاد)
6. National ID (الرقم الوطني)

Clean the data:
- Remove any non-numeric characters from IDs.
- Fix common OCR errors in Arabic names.
- Ensure dates are DD/MM/YYYY.
- If a cell is empty or illegible, use an empty string.
- Ignore the header row.

Return ONLY the JSON array. Do not include any text before or after it.`

// extractionTemperature keeps the model factual
const extractionTemperature = 0.1

type recordField struct {
	Name        string
	Description string
}

// recordFields lists the extracted columns in right-to-left sheet order
var recordFields = []recordField{
	{"militaryNumber", "رقم العسكري (Military Number) found on the far right"},
	{"rank", "الرتبة (Rank) found in the second column from right"},
	{"name", "الاسم (Name) found in the third column from right"},
	{"date", "تاريخ الاستشهاد (Date) - maintain format DD/MM/YYYY"},
	{"location", "المكان (Location) e.g., Tripoli, Derna"},
	{"nationalId", "الرقم الوطني (National ID) - long number ~12 digits"},
}

func requiredFieldNames() []string {
	names := make([]string, 0, len(recordFields))
	for _, f := range recordFields {
		names = append(names, f.Name)
	}
	return names
}

// recordsJSONSchema is the output contract as JSON Schema. It is sent to
// backends that accept a schema and used to validate every answer.
// Extra properties on an item are allowed and dropped on decode.
func recordsJSONSchema() map[string]any {
	props := make(map[string]any, len(recordFields))
	for _, f := range recordFields {
		props[f.Name] = map[string]any{
			"type":        "string",
			"description": f.Description,
		}
	}
	return map[string]any{
		"type": "array",
		"items": map[string]any{
			"type":       "object",
			"properties": props,
			"required":   requiredFieldNames(),
		},
	}
}
