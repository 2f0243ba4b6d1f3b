package report

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/go-logr/logr"
	"golang.org/x/sync/errgroup"

	"github.com/brasildados/localidades-mcp/core/endpoint"
	"github.com/brasildados/localidades-mcp/core/errors"
	"github.com/brasildados/localidades-mcp/core/fetch"
	"github.com/brasildados/localidades-mcp/core/locality"
)

const defaultConcurrency = 16

// SlotStatus tells the reader what the slot value represents.
type SlotStatus string

const (
	StatusPresent  SlotStatus = "present"  // live upstream data
	StatusFallback SlotStatus = "fallback" // embedded fixture stood in
	StatusAbsent   SlotStatus = "absent"   // upstream failed, cause attached
	StatusError    SlotStatus = "error"    // failure on our side, cause attached
)

// Slot is one upstream's contribution to a report. Failures never abort
// composition; upstream failures become absent slots and local ones error
// slots, both with an inline cause.
type Slot struct {
	Name       string          `json:"name"`
	Descriptor string          `json:"descriptor"`
	Status     SlotStatus      `json:"status"`
	Cause      string          `json:"cause,omitempty"`
	Data       json.RawMessage `json:"data,omitempty"`
	Summary    *Summary        `json:"summary,omitempty"`
}

// Report is the composed output. Slot order is fixed per locality variant
// so two runs over the same inputs produce the same document.
type Report struct {
	Locality    locality.Ref `json:"locality"`
	Period      Period       `json:"period"`
	GeneratedAt time.Time    `json:"generated_at"`
	Slots       []Slot       `json:"slots"`
	Disabled    []string     `json:"disabled,omitempty"`
	Failures    []string     `json:"failures,omitempty"`
}

// FetchFunc is the cached read path the composer fans out over.
type FetchFunc func(ctx context.Context, descriptor endpoint.Descriptor, params map[string]string) (fetch.Result, error)

type Config struct {
	Registry    *endpoint.Registry
	Fetch       FetchFunc
	Logger      logr.Logger
	Now         func() time.Time
	Disabled    map[string]bool // descriptor IDs without credentials
	Concurrency int
}

type Composer struct {
	registry    *endpoint.Registry
	fetch       FetchFunc
	logger      logr.Logger
	now         func() time.Time
	disabled    map[string]bool
	concurrency int
}

func NewComposer(config Config) *Composer {
	concurrency := config.Concurrency
	if concurrency <= 0 {
		concurrency = defaultConcurrency
	}
	now := config.Now
	if now == nil {
		now = time.Now
	}
	return &Composer{
		registry:    config.Registry,
		fetch:       config.Fetch,
		logger:      config.Logger.WithName("composer"),
		now:         now,
		disabled:    config.Disabled,
		concurrency: concurrency,
	}
}

// slotSpec names one slot and how to parametrize its descriptor.
type slotSpec struct {
	name       string
	descriptor string
	monetary   bool
	params     func(ref locality.Ref, period Period) map[string]string
}

// slotsFor picks the slot set for the locality variant. Municipalities get
// the full fan-out; states and regions only the endpoints that accept their
// codes.
func slotsFor(ref locality.Ref) []slotSpec {
	search := func(ref locality.Ref, _ Period) map[string]string {
		return map[string]string{"busca": ref.Name}
	}
	switch ref.Kind {
	case locality.KindMunicipality:
		return []slotSpec{
			{name: "demografia", descriptor: "ibge/populacao-municipio", params: func(ref locality.Ref, period Period) map[string]string {
				return map[string]string{"ano": period.Ano(), "municipio": ref.Code}
			}},
			{name: "economia", descriptor: "ibge/pib-municipio", params: func(ref locality.Ref, period Period) map[string]string {
				return map[string]string{"ano": period.Ano(), "municipio": ref.Code}
			}},
			{name: "bolsa_familia", descriptor: "transparencia/bolsa-familia", monetary: true, params: func(ref locality.Ref, period Period) map[string]string {
				return map[string]string{"mes_ano": period.MesAno(), "municipio": ref.Code}
			}},
			{name: "bpc", descriptor: "transparencia/bpc", monetary: true, params: func(ref locality.Ref, period Period) map[string]string {
				return map[string]string{"mes_ano": period.MesAno(), "municipio": ref.Code}
			}},
			{name: "convenios", descriptor: "transparencia/convenios", monetary: true, params: func(ref locality.Ref, _ Period) map[string]string {
				return map[string]string{"municipio": ref.Code}
			}},
			{name: "transferencias", descriptor: "transparencia/transferencias", monetary: true, params: func(ref locality.Ref, period Period) map[string]string {
				return map[string]string{"mes_ano": period.MesAno(), "municipio": ref.Code}
			}},
			{name: "dados_abertos", descriptor: "dadosgov/conjuntos", params: search},
			{name: "noticias", descriptor: "ibge/noticias", params: search},
		}
	case locality.KindState:
		return []slotSpec{
			{name: "demografia", descriptor: "ibge/populacao-uf", params: func(ref locality.Ref, period Period) map[string]string {
				return map[string]string{"ano": period.Ano(), "uf_codigo": ref.Code}
			}},
			{name: "economia", descriptor: "ibge/pib-uf", params: func(ref locality.Ref, period Period) map[string]string {
				return map[string]string{"ano": period.Ano(), "uf_codigo": ref.Code}
			}},
			{name: "transferencias", descriptor: "transparencia/transferencias-uf", monetary: true, params: func(ref locality.Ref, period Period) map[string]string {
				return map[string]string{"mes_ano": period.MesAno(), "uf": ref.Acronym}
			}},
			{name: "dados_abertos", descriptor: "dadosgov/conjuntos", params: search},
			{name: "noticias", descriptor: "ibge/noticias", params: search},
		}
	default:
		return []slotSpec{
			{name: "demografia", descriptor: "ibge/populacao-regiao", params: func(ref locality.Ref, period Period) map[string]string {
				return map[string]string{"ano": period.Ano(), "regiao": ref.Code}
			}},
			{name: "dados_abertos", descriptor: "dadosgov/conjuntos", params: search},
			{name: "noticias", descriptor: "ibge/noticias", params: search},
		}
	}
}

// Compose fans out over the locality's slot set with bounded concurrency
// and assembles the report in slot order regardless of completion order.
func (c *Composer) Compose(ctx context.Context, ref locality.Ref, period Period) (Report, error) {
	specs := slotsFor(ref)
	report := Report{
		Locality:    ref,
		Period:      period,
		GeneratedAt: c.now().UTC(),
	}

	scheduled := make([]slotSpec, 0, len(specs))
	for _, spec := range specs {
		if c.disabled[spec.descriptor] {
			report.Disabled = append(report.Disabled, spec.name)
			continue
		}
		if _, ok := c.registry.Get(spec.descriptor); !ok {
			report.Disabled = append(report.Disabled, spec.name)
			c.logger.Info("slot descriptor missing from registry", "slot", spec.name, "descriptor", spec.descriptor)
			continue
		}
		scheduled = append(scheduled, spec)
	}

	slots := make([]Slot, len(scheduled))
	group, groupCtx := errgroup.WithContext(ctx)
	group.SetLimit(c.concurrency)
	for i, spec := range scheduled {
		group.Go(func() error {
			slots[i] = c.fill(groupCtx, spec, ref, period)
			return nil
		})
	}
	if err := group.Wait(); err != nil {
		return Report{}, err
	}
	if err := ctx.Err(); err != nil {
		return Report{}, errors.Wrap(err, errors.KindCancelled, false)
	}

	report.Slots = slots
	for _, slot := range slots {
		if slot.Status == StatusAbsent || slot.Status == StatusError {
			report.Failures = append(report.Failures, slot.Name+": "+slot.Cause)
		}
	}
	return report, nil
}

func (c *Composer) fill(ctx context.Context, spec slotSpec, ref locality.Ref, period Period) Slot {
	slot := Slot{Name: spec.name, Descriptor: spec.descriptor}
	descriptor, _ := c.registry.Get(spec.descriptor)
	result, err := c.fetch(ctx, descriptor, spec.params(ref, period))
	if err != nil {
		slot.Status = statusFor(err)
		slot.Cause = causeOf(err)
		c.logger.V(1).Info("slot failed", "slot", spec.name, "status", slot.Status, "cause", slot.Cause)
		return slot
	}
	slot.Data = result.Value
	slot.Status = StatusPresent
	if result.Fallback {
		slot.Status = StatusFallback
	}
	if spec.monetary {
		if summary, ok := Summarize(result.Value); ok {
			slot.Summary = &summary
		}
	}
	return slot
}

// statusFor separates upstream trouble from our own: transport, HTTP and
// payload problems mean the source had no data to give (absent), anything
// else is a failure in this process (error).
func statusFor(err error) SlotStatus {
	switch errors.KindOf(err) {
	case errors.KindTransport, errors.KindHTTPStatus, errors.KindUpstreamDegraded,
		errors.KindDecode, errors.KindRateLimited:
		return StatusAbsent
	default:
		return StatusError
	}
}

// causeOf renders a failure as a short machine-readable tag. Upstream body
// text never leaks into reports.
func causeOf(err error) string {
	kind := errors.KindOf(err)
	if status := errors.StatusOf(err); status != 0 {
		return fmt.Sprintf("%s:%d", kind, status)
	}
	if kind == "" {
		return "internal"
	}
	return string(kind)
}
