// Package catalog declares the concrete tool and resource surface served
// over the protocol: locality search, composed reports and vulnerability
// indicators, plus the computed usage_report resource.
package catalog

import (
	"context"
	"encoding/json"

	"github.com/go-logr/logr"

	"github.com/brasildados/localidades-mcp/core/clock"
	"github.com/brasildados/localidades-mcp/core/endpoint"
	"github.com/brasildados/localidades-mcp/core/errors"
	"github.com/brasildados/localidades-mcp/core/locality"
	"github.com/brasildados/localidades-mcp/core/report"
	"github.com/brasildados/localidades-mcp/core/tool"
	"github.com/brasildados/localidades-mcp/core/usage"
)

type Deps struct {
	Resolver  *locality.Resolver
	Composer  *report.Composer
	Endpoints *endpoint.Registry
	Tracker   *usage.Tracker
	Clock     clock.Clock
	Logger    logr.Logger
}

var buscarSchema = json.RawMessage(`{
	"type": "object",
	"properties": {
		"name": {"type": "string", "minLength": 1, "description": "Nome, sigla ou nome/UF da localidade"},
		"kind": {"type": "string", "description": "Restringe a busca: municipio, estado ou regiao"}
	},
	"required": ["name"],
	"additionalProperties": false
}`)

var relatorioSchema = json.RawMessage(`{
	"type": "object",
	"properties": {
		"name": {"type": "string", "minLength": 1},
		"kind": {"type": "string"},
		"format": {"type": "string", "enum": ["text", "json"]},
		"period": {"type": "string", "enum": ["day", "month", "year"]},
		"reference-date": {"type": "string"},
		"period-value": {"type": "string"}
	},
	"required": ["name"],
	"additionalProperties": false
}`)

var vulnerabilidadeSchema = json.RawMessage(`{
	"type": "object",
	"properties": {
		"municipality": {"type": "string", "minLength": 1},
		"year": {"type": "string", "pattern": "^[0-9]{4}$"}
	},
	"required": ["municipality"],
	"additionalProperties": false
}`)

// Register wires the canonical tool set and the resource documents into the
// registry. Called once during bootstrap.
func Register(registry *tool.Registry, deps Deps) error {
	tools := []tool.Definition{
		{
			Name:        "buscar_localidade",
			Description: "Resolve um nome livre (ex.: \"Santos/SP\", \"SP\", \"Nordeste\") para uma localidade brasileira",
			InputSchema: buscarSchema,
			Handler:     deps.buscarLocalidade,
		},
		{
			Name:        "relatorio_localidade",
			Description: "Relatório composto de uma localidade: demografia, economia, programas sociais e dados abertos",
			InputSchema: relatorioSchema,
			Handler:     deps.relatorioLocalidade,
		},
		{
			Name:        "vulnerabilidade_social",
			Description: "Indicadores de vulnerabilidade social de um município (Bolsa Família, BPC, população)",
			InputSchema: vulnerabilidadeSchema,
			Handler:     deps.vulnerabilidadeSocial,
		},
	}
	for _, definition := range tools {
		if err := registry.Register(definition); err != nil {
			return err
		}
	}
	return registerResources(registry, deps)
}

func (d Deps) resolve(ctx context.Context, name, kindValue string) (locality.Ref, error) {
	kind, ok := locality.ParseKind(kindValue)
	if !ok {
		return locality.Ref{}, errors.New(errors.KindInvalidParams, "kind desconhecido %q", kindValue)
	}
	return d.Resolver.Resolve(ctx, name, kind)
}

func (d Deps) buscarLocalidade(ctx context.Context, args json.RawMessage) (tool.Result, error) {
	var params struct {
		Name string `json:"name"`
		Kind string `json:"kind"`
	}
	if err := json.Unmarshal(args, &params); err != nil {
		return tool.Result{}, errors.Wrap(err, errors.KindInvalidParams, false)
	}
	ref, err := d.resolve(ctx, params.Name, params.Kind)
	if err != nil {
		return tool.Result{}, err
	}
	encoded, err := json.Marshal(ref)
	if err != nil {
		return tool.Result{}, errors.Wrap(err, errors.KindInternal, false)
	}
	return tool.TextResult(string(encoded)), nil
}

func (d Deps) relatorioLocalidade(ctx context.Context, args json.RawMessage) (tool.Result, error) {
	var params struct {
		Name          string `json:"name"`
		Kind          string `json:"kind"`
		Format        string `json:"format"`
		Period        string `json:"period"`
		ReferenceDate string `json:"reference-date"`
		PeriodValue   string `json:"period-value"`
	}
	if err := json.Unmarshal(args, &params); err != nil {
		return tool.Result{}, errors.Wrap(err, errors.KindInvalidParams, false)
	}
	ref, err := d.resolve(ctx, params.Name, params.Kind)
	if err != nil {
		return tool.Result{}, err
	}
	period := report.ResolvePeriod(params.Period, params.ReferenceDate, params.PeriodValue, d.Clock.WallNow(), d.Logger)
	composed, err := d.Composer.Compose(ctx, ref, period)
	if err != nil {
		return tool.Result{}, err
	}
	if params.Format == "text" {
		return tool.TextResult(RenderText(composed)), nil
	}
	encoded, err := json.Marshal(composed)
	if err != nil {
		return tool.Result{}, errors.Wrap(err, errors.KindInternal, false)
	}
	return tool.TextResult(string(encoded)), nil
}

// vulnerabilidadeResult is the projection served by vulnerabilidade_social:
// the social-program slots of a yearly report.
type vulnerabilidadeResult struct {
	Locality     locality.Ref  `json:"locality"`
	Year         string        `json:"year"`
	Period       report.Period `json:"period"`
	Demografia   report.Slot   `json:"demografia"`
	BolsaFamilia report.Slot   `json:"bolsa_familia"`
	BPC          report.Slot   `json:"bpc"`
	Failures     []string      `json:"failures,omitempty"`
	Disabled     []string      `json:"disabled,omitempty"`
}

func (d Deps) vulnerabilidadeSocial(ctx context.Context, args json.RawMessage) (tool.Result, error) {
	var params struct {
		Municipality string `json:"municipality"`
		Year         string `json:"year"`
	}
	if err := json.Unmarshal(args, &params); err != nil {
		return tool.Result{}, errors.Wrap(err, errors.KindInvalidParams, false)
	}
	ref, err := d.Resolver.Resolve(ctx, params.Municipality, locality.KindMunicipality)
	if err != nil {
		return tool.Result{}, err
	}
	period := report.ResolvePeriod(string(report.PeriodYear), "", params.Year, d.Clock.WallNow(), d.Logger)
	composed, err := d.Composer.Compose(ctx, ref, period)
	if err != nil {
		return tool.Result{}, err
	}

	result := vulnerabilidadeResult{
		Locality: ref,
		Year:     period.Ano(),
		Period:   period,
		Failures: composed.Failures,
		Disabled: composed.Disabled,
	}
	for _, slot := range composed.Slots {
		switch slot.Name {
		case "demografia":
			result.Demografia = slot
		case "bolsa_familia":
			result.BolsaFamilia = slot
		case "bpc":
			result.BPC = slot
		}
	}
	encoded, err := json.Marshal(result)
	if err != nil {
		return tool.Result{}, errors.Wrap(err, errors.KindInternal, false)
	}
	return tool.TextResult(string(encoded)), nil
}
