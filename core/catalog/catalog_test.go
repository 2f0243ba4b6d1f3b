package catalog

import (
	"context"
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/go-logr/logr"

	"github.com/brasildados/localidades-mcp/core/cache"
	"github.com/brasildados/localidades-mcp/core/clock"
	"github.com/brasildados/localidades-mcp/core/endpoint"
	"github.com/brasildados/localidades-mcp/core/errors"
	"github.com/brasildados/localidades-mcp/core/fetch"
	"github.com/brasildados/localidades-mcp/core/locality"
	"github.com/brasildados/localidades-mcp/core/ratelimit"
	"github.com/brasildados/localidades-mcp/core/report"
	"github.com/brasildados/localidades-mcp/core/tool"
	"github.com/brasildados/localidades-mcp/core/usage"
)

// newHarness assembles the full tool surface over fixture-backed fetches so
// no test touches the network.
func newHarness(t *testing.T) (*tool.Registry, *usage.Tracker) {
	t.Helper()

	endpoints, err := endpoint.NewBuiltinRegistry()
	if err != nil {
		t.Fatalf("builtin registry: %v", err)
	}

	resolverFetch := func(_ context.Context, descriptorID string, _ map[string]string) (json.RawMessage, error) {
		descriptor, ok := endpoints.Get(descriptorID)
		if !ok {
			return nil, errors.New(errors.KindInternal, "unknown descriptor %s", descriptorID)
		}
		fixture, ok := endpoint.Fixture(descriptor.Fixture)
		if !ok {
			return nil, errors.New(errors.KindInternal, "no fixture for %s", descriptorID)
		}
		return fixture, nil
	}
	resolver := locality.NewResolver(resolverFetch, logr.Discard())

	composerFetch := func(_ context.Context, descriptor endpoint.Descriptor, _ map[string]string) (fetch.Result, error) {
		if fixture, ok := endpoint.Fixture(descriptor.Fixture); ok {
			return fetch.Result{Value: fixture}, nil
		}
		return fetch.Result{Value: json.RawMessage(`[]`)}, nil
	}
	composer := report.NewComposer(report.Config{
		Registry: endpoints,
		Fetch:    composerFetch,
		Logger:   logr.Discard(),
	})

	// oversized serving buckets; default capacities would pace the calls
	// below seconds apart
	limiter := ratelimit.NewLimiter(clock.System{}, logr.Discard(),
		ratelimit.BucketConfig{ID: tool.BucketTools, Capacity: 1_000_000},
		ratelimit.BucketConfig{ID: tool.BucketResources, Capacity: 1_000_000},
	)

	store, err := cache.New(clock.System{}, logr.Discard(), "")
	if err != nil {
		t.Fatalf("cache: %v", err)
	}
	tracker := usage.NewTracker(time.Now())
	registry := tool.NewRegistry(limiter, tracker, store, logr.Discard())
	deps := Deps{
		Resolver:  resolver,
		Composer:  composer,
		Endpoints: endpoints,
		Tracker:   tracker,
		Clock:     clock.System{},
		Logger:    logr.Discard(),
	}
	if err := Register(registry, deps); err != nil {
		t.Fatalf("register catalog: %v", err)
	}
	return registry, tracker
}

func TestRegisterSurface(t *testing.T) {
	registry, _ := newHarness(t)
	tools := registry.Tools()
	if len(tools) != 3 {
		t.Fatalf("expected 3 tools, got %d", len(tools))
	}
	wantTools := []string{"buscar_localidade", "relatorio_localidade", "vulnerabilidade_social"}
	for i, name := range wantTools {
		if tools[i].Name != name {
			t.Fatalf("tool %d: expected %s, got %s", i, name, tools[i].Name)
		}
	}
	resources := registry.Resources()
	if len(resources) != 3 || resources[0].URI != "resource://usage_report" {
		t.Fatalf("unexpected resources: %+v", resources)
	}
}

func TestBuscarLocalidade(t *testing.T) {
	registry, _ := newHarness(t)
	result, err := registry.Call(context.Background(), "buscar_localidade", json.RawMessage(`{"name":"São Paulo"}`))
	if err != nil {
		t.Fatalf("call: %v", err)
	}
	var ref locality.Ref
	if err := json.Unmarshal([]byte(result.Content[0].Text), &ref); err != nil {
		t.Fatalf("decode ref: %v", err)
	}
	if ref.Code != "3550308" || ref.StateAcronym != "SP" {
		t.Fatalf("unexpected ref: %+v", ref)
	}
}

func TestBuscarLocalidadeBadKind(t *testing.T) {
	registry, _ := newHarness(t)
	_, err := registry.Call(context.Background(), "buscar_localidade", json.RawMessage(`{"name":"SP","kind":"galáxia"}`))
	if errors.KindOf(err) != errors.KindInvalidParams {
		t.Fatalf("expected invalid_params, got %v", err)
	}
}

func TestBuscarLocalidadeNotFoundIsErrorResult(t *testing.T) {
	registry, _ := newHarness(t)
	result, err := registry.Call(context.Background(), "buscar_localidade", json.RawMessage(`{"name":"Cidade Inexistente XYZ"}`))
	if err != nil {
		t.Fatalf("resolver misses must stay in the result envelope: %v", err)
	}
	if !result.IsError {
		t.Fatalf("expected error result: %+v", result)
	}
}

func TestRelatorioLocalidadeJSON(t *testing.T) {
	registry, _ := newHarness(t)
	args := json.RawMessage(`{"name":"São Paulo","kind":"municipio","period":"month","reference-date":"2022-01-15"}`)
	result, err := registry.Call(context.Background(), "relatorio_localidade", args)
	if err != nil {
		t.Fatalf("call: %v", err)
	}
	var composed report.Report
	if err := json.Unmarshal([]byte(result.Content[0].Text), &composed); err != nil {
		t.Fatalf("decode report: %v", err)
	}
	if composed.Locality.Code != "3550308" {
		t.Fatalf("unexpected locality: %+v", composed.Locality)
	}
	if got := composed.Period.Start.Format("2006-01-02T15:04:05"); got != "2022-01-01T00:00:00" {
		t.Fatalf("unexpected period start: %s", got)
	}
	if got := composed.Period.End.Format("2006-01-02T15:04:05"); got != "2022-01-31T23:59:59" {
		t.Fatalf("unexpected period end: %s", got)
	}
	if len(composed.Slots) == 0 {
		t.Fatalf("expected slots in report")
	}
	for _, slot := range composed.Slots {
		if slot.Status != report.StatusPresent {
			t.Fatalf("slot %s: expected present, got %s", slot.Name, slot.Status)
		}
	}
}

func TestRelatorioLocalidadeText(t *testing.T) {
	registry, _ := newHarness(t)
	args := json.RawMessage(`{"name":"São Paulo","format":"text"}`)
	result, err := registry.Call(context.Background(), "relatorio_localidade", args)
	if err != nil {
		t.Fatalf("call: %v", err)
	}
	text := result.Content[0].Text
	if !strings.Contains(text, "São Paulo") || !strings.Contains(text, "## demografia") {
		t.Fatalf("unexpected text report:\n%s", text)
	}
}

func TestVulnerabilidadeSocial(t *testing.T) {
	registry, _ := newHarness(t)
	args := json.RawMessage(`{"municipality":"São Paulo","year":"2022"}`)
	result, err := registry.Call(context.Background(), "vulnerabilidade_social", args)
	if err != nil {
		t.Fatalf("call: %v", err)
	}
	var decoded struct {
		Locality     locality.Ref `json:"locality"`
		Year         string       `json:"year"`
		BolsaFamilia report.Slot  `json:"bolsa_familia"`
		BPC          report.Slot  `json:"bpc"`
	}
	if err := json.Unmarshal([]byte(result.Content[0].Text), &decoded); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if decoded.Locality.Code != "3550308" || decoded.Year != "2022" {
		t.Fatalf("unexpected result: %+v", decoded)
	}
	if decoded.BolsaFamilia.Status != report.StatusPresent || decoded.BPC.Status != report.StatusPresent {
		t.Fatalf("expected social slots present: %+v", decoded)
	}

	// a region name cannot satisfy the municipality restriction
	result, err = registry.Call(context.Background(), "vulnerabilidade_social", json.RawMessage(`{"municipality":"Nordeste"}`))
	if err != nil {
		t.Fatalf("call: %v", err)
	}
	if !result.IsError {
		t.Fatalf("expected error result for non-municipality: %+v", result)
	}
}

func TestUsageReportResource(t *testing.T) {
	registry, _ := newHarness(t)
	if _, err := registry.Call(context.Background(), "buscar_localidade", json.RawMessage(`{"name":"SP"}`)); err != nil {
		t.Fatalf("call: %v", err)
	}

	_, data, err := registry.ReadResource(context.Background(), "resource://usage_report")
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	var snapshot usage.Snapshot
	if err := json.Unmarshal(data, &snapshot); err != nil {
		t.Fatalf("decode snapshot: %v", err)
	}
	if snapshot.TotalCalls != 1 || snapshot.Tools[0].Name != "buscar_localidade" {
		t.Fatalf("unexpected snapshot: %+v", snapshot)
	}
}

func TestStaticResources(t *testing.T) {
	registry, _ := newHarness(t)

	resource, data, err := registry.ReadResource(context.Background(), "resource://sobre")
	if err != nil {
		t.Fatalf("read sobre: %v", err)
	}
	if resource.MimeType != "text/markdown" || !strings.Contains(string(data), "localidades-mcp") {
		t.Fatalf("unexpected sobre resource: %q", data)
	}

	_, data, err = registry.ReadResource(context.Background(), "resource://fontes")
	if err != nil {
		t.Fatalf("read fontes: %v", err)
	}
	for _, want := range []string{"## ibge", "## transparencia", "## dadosgov", "ibge/municipios"} {
		if !strings.Contains(string(data), want) {
			t.Fatalf("fontes missing %q:\n%s", want, data)
		}
	}
}

func TestRenderTextAbsentSlot(t *testing.T) {
	composed := report.Report{
		Locality: locality.Ref{Kind: locality.KindMunicipality, Code: "3550308", Name: "São Paulo", StateAcronym: "SP"},
		Period:   report.DerivePeriod(report.PeriodMonth, time.Date(2022, time.January, 15, 0, 0, 0, 0, time.UTC)),
		Slots: []report.Slot{
			{Name: "bpc", Descriptor: "transparencia/bpc", Status: report.StatusAbsent, Cause: "http_status:503"},
		},
		Failures: []string{"bpc: http_status:503"},
	}
	text := RenderText(composed)
	for _, want := range []string{"São Paulo", "## bpc [absent]", "http_status:503", "Falhas:"} {
		if !strings.Contains(text, want) {
			t.Fatalf("render missing %q:\n%s", want, text)
		}
	}
}
