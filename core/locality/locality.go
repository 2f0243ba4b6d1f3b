// Package locality models Brazilian localities (regions, states,
// municipalities) and resolves free-form user input to their IBGE codes.
// Parents are referenced by code, never embedded, so serialized refs stay
// acyclic; the resolver's side table answers code lookups.
package locality

type Kind string

const (
	KindRegion       Kind = "regiao"
	KindState        Kind = "estado"
	KindMunicipality Kind = "municipio"
)

// Ref identifies one locality. Codes are the opaque IBGE numeric codes
// carried as strings: 1 digit for regions, 2 for states, 7 for
// municipalities.
type Ref struct {
	Kind    Kind   `json:"kind"`
	Code    string `json:"code"`
	Name    string `json:"name"`
	Acronym string `json:"acronym,omitempty"`

	// Parent references by code. StateCode/StateAcronym are set for
	// municipalities, RegionCode for states and municipalities.
	StateCode    string `json:"state_code,omitempty"`
	StateAcronym string `json:"state_acronym,omitempty"`
	RegionCode   string `json:"region_code,omitempty"`
}

// ParseKind maps tool input to a Kind filter; empty input means any kind.
func ParseKind(value string) (Kind, bool) {
	switch value {
	case "":
		return "", true
	case "regiao", "region":
		return KindRegion, true
	case "estado", "state", "uf":
		return KindState, true
	case "municipio", "municipality", "cidade":
		return KindMunicipality, true
	}
	return "", false
}
