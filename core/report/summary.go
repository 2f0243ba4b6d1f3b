package report

import "encoding/json"

// Summary aggregates a monetary record list: count of records, sum and
// mean of their "valor" field. Mean is 0 when count is 0, never NaN.
type Summary struct {
	Count int     `json:"count"`
	Sum   float64 `json:"sum"`
	Mean  float64 `json:"mean"`
}

// Summarize computes the Summary for an upstream list payload. The second
// return is false when the payload is not a JSON array, in which case no
// summary is attached to the slot.
func Summarize(raw json.RawMessage) (Summary, bool) {
	var records []map[string]json.RawMessage
	if err := json.Unmarshal(raw, &records); err != nil {
		return Summary{}, false
	}
	summary := Summary{Count: len(records)}
	for _, record := range records {
		valueRaw, ok := record["valor"]
		if !ok {
			continue
		}
		var value float64
		if err := json.Unmarshal(valueRaw, &value); err != nil {
			continue
		}
		summary.Sum += value
	}
	if summary.Count > 0 {
		summary.Mean = summary.Sum / float64(summary.Count)
	}
	return summary, true
}
