package catalog

import (
	"fmt"
	"strings"

	"github.com/brasildados/localidades-mcp/core/report"
)

// RenderText renders a report as plain text for format=text callers. The
// layout is intentionally minimal; rich presentation belongs to clients.
func RenderText(composed report.Report) string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s (%s %s)\n", composed.Locality.Name, composed.Locality.Kind, composed.Locality.Code)
	if composed.Locality.StateAcronym != "" {
		fmt.Fprintf(&b, "UF: %s\n", composed.Locality.StateAcronym)
	}
	fmt.Fprintf(&b, "Período: %s a %s\n\n",
		composed.Period.Start.Format("2006-01-02"), composed.Period.End.Format("2006-01-02"))

	for _, slot := range composed.Slots {
		fmt.Fprintf(&b, "## %s [%s]\n", slot.Name, slot.Status)
		switch slot.Status {
		case report.StatusAbsent, report.StatusError:
			fmt.Fprintf(&b, "indisponível: %s\n", slot.Cause)
		default:
			if slot.Summary != nil {
				fmt.Fprintf(&b, "registros: %d  total: %.2f  média: %.2f\n",
					slot.Summary.Count, slot.Summary.Sum, slot.Summary.Mean)
			} else {
				fmt.Fprintf(&b, "%d bytes de dados\n", len(slot.Data))
			}
		}
		b.WriteString("\n")
	}

	if len(composed.Disabled) > 0 {
		fmt.Fprintf(&b, "Fontes desabilitadas (sem credencial): %s\n", strings.Join(composed.Disabled, ", "))
	}
	if len(composed.Failures) > 0 {
		fmt.Fprintf(&b, "Falhas: %s\n", strings.Join(composed.Failures, "; "))
	}
	return b.String()
}
