package locality

import (
	"context"
	"encoding/json"
	"sort"
	"strings"
	"sync"

	"github.com/go-logr/logr"

	"github.com/brasildados/localidades-mcp/core/errors"
)

// Fetch reads one geography descriptor through the cache layer. The
// resolver never talks HTTP itself; it names descriptors and parses their
// payloads.
type Fetch func(ctx context.Context, descriptorID string, params map[string]string) (json.RawMessage, error)

const (
	descriptorRegions        = "ibge/regioes"
	descriptorStates         = "ibge/estados"
	descriptorMunicipalities = "ibge/municipios"
)

type Resolver struct {
	fetch  Fetch
	logger logr.Logger

	mu   sync.Mutex
	memo *parsedTables
}

func NewResolver(fetch Fetch, logger logr.Logger) *Resolver {
	return &Resolver{fetch: fetch, logger: logger.WithName("resolver")}
}

// tables is one consistent snapshot of the geography lists. The underlying
// descriptors carry a 24h TTL and persist to the disk mirror, so the raw
// payloads are cheap after the first call; the parsed form is memoized here
// keyed on those payloads, so resolving does not re-decode five and a half
// thousand municipalities per call.
type tables struct {
	regions        []Ref
	states         []Ref
	municipalities []Ref
	byCode         map[string]Ref
}

// parsedTables remembers which raw payloads produced the memoized snapshot.
// When any payload changes, after a TTL expiry or an overlay swap, the next
// call rebuilds.
type parsedTables struct {
	regions        string
	states         string
	municipalities string
	tbl            *tables
}

// Resolve maps free-form input to a locality. Match order: state acronym,
// exact municipality, exact state, exact region, then substring in the same
// order. A "/UF" suffix narrows municipality matching to that state, and
// kind restricts results to one variant.
func (r *Resolver) Resolve(ctx context.Context, input string, kind Kind) (Ref, error) {
	name, uf := SplitUF(input)
	if name == "" {
		return Ref{}, errors.New(errors.KindNotFound, "empty locality name")
	}
	tbl, err := r.tables(ctx)
	if err != nil {
		return Ref{}, err
	}

	wants := func(k Kind) bool { return kind == "" || kind == k }

	if wants(KindState) && len(name) == 2 {
		for _, state := range tbl.states {
			if Normalize(state.Acronym) == name {
				return state, nil
			}
		}
	}
	if wants(KindMunicipality) {
		if ref, ok := exactMatch(tbl.municipalities, name, uf); ok {
			return ref, nil
		}
	}
	if wants(KindState) {
		if ref, ok := exactMatch(tbl.states, name, ""); ok {
			return ref, nil
		}
	}
	if wants(KindRegion) {
		if ref, ok := exactMatch(tbl.regions, name, ""); ok {
			return ref, nil
		}
	}
	if wants(KindMunicipality) {
		if ref, ok := substringMatch(tbl.municipalities, name, uf); ok {
			return ref, nil
		}
	}
	if wants(KindState) {
		if ref, ok := substringMatch(tbl.states, name, ""); ok {
			return ref, nil
		}
	}
	if wants(KindRegion) {
		if ref, ok := substringMatch(tbl.regions, name, ""); ok {
			return ref, nil
		}
	}
	return Ref{}, errors.New(errors.KindNotFound, "no locality matches %q", input)
}

// Lookup resolves a code through the side table.
func (r *Resolver) Lookup(ctx context.Context, code string) (Ref, error) {
	tbl, err := r.tables(ctx)
	if err != nil {
		return Ref{}, err
	}
	if ref, ok := tbl.byCode[code]; ok {
		return ref, nil
	}
	return Ref{}, errors.New(errors.KindNotFound, "no locality with code %q", code)
}

func exactMatch(candidates []Ref, name, uf string) (Ref, bool) {
	for _, candidate := range candidates {
		if uf != "" && Normalize(candidate.StateAcronym) != uf {
			continue
		}
		if Normalize(candidate.Name) == name {
			return candidate, true
		}
	}
	return Ref{}, false
}

// substringMatch prefers shorter target names, then lexicographic order, so
// "são paulo" inside a filtered list lands on the most specific candidate
// deterministically.
func substringMatch(candidates []Ref, name, uf string) (Ref, bool) {
	var matches []Ref
	for _, candidate := range candidates {
		if uf != "" && Normalize(candidate.StateAcronym) != uf {
			continue
		}
		if strings.Contains(Normalize(candidate.Name), name) {
			matches = append(matches, candidate)
		}
	}
	if len(matches) == 0 {
		return Ref{}, false
	}
	sort.Slice(matches, func(i, j int) bool {
		if len(matches[i].Name) != len(matches[j].Name) {
			return len(matches[i].Name) < len(matches[j].Name)
		}
		return matches[i].Name < matches[j].Name
	})
	return matches[0], true
}

// Upstream shapes, trimmed to the fields the resolver needs.

type ibgeRegion struct {
	ID    json.Number `json:"id"`
	Sigla string      `json:"sigla"`
	Nome  string      `json:"nome"`
}

type ibgeState struct {
	ID     json.Number `json:"id"`
	Sigla  string      `json:"sigla"`
	Nome   string      `json:"nome"`
	Regiao ibgeRegion  `json:"regiao"`
}

type ibgeMunicipality struct {
	ID           json.Number `json:"id"`
	Nome         string      `json:"nome"`
	Microrregiao struct {
		Mesorregiao struct {
			UF ibgeState `json:"UF"`
		} `json:"mesorregiao"`
	} `json:"microrregiao"`
}

func (r *Resolver) tables(ctx context.Context) (*tables, error) {
	regionsRaw, err := r.fetch(ctx, descriptorRegions, nil)
	if err != nil {
		return nil, err
	}
	statesRaw, err := r.fetch(ctx, descriptorStates, nil)
	if err != nil {
		return nil, err
	}
	municipalitiesRaw, err := r.fetch(ctx, descriptorMunicipalities, nil)
	if err != nil {
		return nil, err
	}

	r.mu.Lock()
	if m := r.memo; m != nil &&
		m.regions == string(regionsRaw) &&
		m.states == string(statesRaw) &&
		m.municipalities == string(municipalitiesRaw) {
		tbl := m.tbl
		r.mu.Unlock()
		return tbl, nil
	}
	r.mu.Unlock()

	var regions []ibgeRegion
	if err := json.Unmarshal(regionsRaw, &regions); err != nil {
		return nil, errors.Wrap(err, errors.KindDecode, false)
	}
	var states []ibgeState
	if err := json.Unmarshal(statesRaw, &states); err != nil {
		return nil, errors.Wrap(err, errors.KindDecode, false)
	}
	var municipalities []ibgeMunicipality
	if err := json.Unmarshal(municipalitiesRaw, &municipalities); err != nil {
		return nil, errors.Wrap(err, errors.KindDecode, false)
	}

	tbl := &tables{byCode: map[string]Ref{}}
	for _, region := range regions {
		ref := Ref{Kind: KindRegion, Code: region.ID.String(), Name: region.Nome, Acronym: region.Sigla}
		tbl.regions = append(tbl.regions, ref)
		tbl.byCode[ref.Code] = ref
	}
	for _, state := range states {
		ref := Ref{
			Kind: KindState, Code: state.ID.String(), Name: state.Nome,
			Acronym: state.Sigla, RegionCode: state.Regiao.ID.String(),
		}
		tbl.states = append(tbl.states, ref)
		tbl.byCode[ref.Code] = ref
	}
	for _, municipality := range municipalities {
		uf := municipality.Microrregiao.Mesorregiao.UF
		ref := Ref{
			Kind: KindMunicipality, Code: municipality.ID.String(), Name: municipality.Nome,
			StateCode: uf.ID.String(), StateAcronym: uf.Sigla, RegionCode: uf.Regiao.ID.String(),
		}
		tbl.municipalities = append(tbl.municipalities, ref)
		tbl.byCode[ref.Code] = ref
	}
	r.mu.Lock()
	r.memo = &parsedTables{
		regions:        string(regionsRaw),
		states:         string(statesRaw),
		municipalities: string(municipalitiesRaw),
		tbl:            tbl,
	}
	r.mu.Unlock()
	r.logger.V(1).Info("geography tables loaded",
		"regions", len(tbl.regions), "states", len(tbl.states), "municipalities", len(tbl.municipalities))
	return tbl, nil
}
