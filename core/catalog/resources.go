package catalog

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/brasildados/localidades-mcp/core/errors"
	"github.com/brasildados/localidades-mcp/core/tool"
)

const sobreMarkdown = `# localidades-mcp

Servidor MCP de dados agregados sobre localidades brasileiras: regiões,
estados e municípios, com demografia, economia, programas sociais e
catálogos de dados abertos.

Ferramentas: buscar_localidade, relatorio_localidade, vulnerabilidade_social.
Os dados passam por cache em duas camadas e limites de requisição por fonte;
quando uma fonte está fora do ar, valores de referência embutidos entram no
lugar, sempre marcados como fallback.
`

func registerResources(registry *tool.Registry, deps Deps) error {
	resources := []tool.Resource{
		{
			URI:         "resource://usage_report",
			Name:        "Relatório de uso",
			Description: "Contadores de chamadas por ferramenta desde o início do processo, calculados na leitura",
			MimeType:    "application/json",
			Read: func(context.Context) ([]byte, error) {
				snapshot := deps.Tracker.Snapshot(deps.Clock.WallNow())
				encoded, err := json.MarshalIndent(snapshot, "", "  ")
				if err != nil {
					return nil, errors.Wrap(err, errors.KindInternal, false)
				}
				return encoded, nil
			},
		},
		{
			URI:         "resource://sobre",
			Name:        "Sobre o servidor",
			Description: "O que este servidor expõe e como ele trata fontes indisponíveis",
			MimeType:    "text/markdown",
			Read: func(context.Context) ([]byte, error) {
				return []byte(sobreMarkdown), nil
			},
		},
		{
			URI:         "resource://fontes",
			Name:        "Fontes de dados",
			Description: "Catálogo de endpoints configurados, agrupados por família de API",
			MimeType:    "text/markdown",
			Read: func(context.Context) ([]byte, error) {
				return renderFontes(deps), nil
			},
		},
	}
	for _, resource := range resources {
		if err := registry.RegisterResource(resource); err != nil {
			return err
		}
	}
	return nil
}

// renderFontes is computed on read so overlay reloads show up immediately.
func renderFontes(deps Deps) []byte {
	byFamily := map[string][]string{}
	for _, descriptor := range deps.Endpoints.All() {
		byFamily[descriptor.Family] = append(byFamily[descriptor.Family], descriptor.ID)
	}
	var b strings.Builder
	b.WriteString("# Fontes de dados\n")
	for _, family := range deps.Endpoints.Families() {
		fmt.Fprintf(&b, "\n## %s\n", family)
		for _, id := range byFamily[family] {
			fmt.Fprintf(&b, "- %s\n", id)
		}
	}
	return []byte(b.String())
}
