package endpoint

import (
	"time"

	"github.com/brasildados/localidades-mcp/core/ratelimit"
)

// API family names. The family picks the rate bucket and the
// UPSTREAM_API_KEY_<FAMILY> variable.
const (
	FamilyIBGE          = "ibge"
	FamilyTransparencia = "transparencia"
	FamilyDadosGov      = "dadosgov"
)

const (
	ibgeLocalidades = "https://servicodados.ibge.gov.br/api/v1/localidades"
	ibgeAgregados   = "https://servicodados.ibge.gov.br/api/v3/agregados"
	ibgeBase        = "https://servicodados.ibge.gov.br/api"
	transparencia   = "https://api.portaldatransparencia.gov.br/api-de-dados"
	dadosGov        = "https://dados.gov.br/api/publico"
)

// BuiltinBuckets is the default rate-limit layout: the Transparência portal
// publishes 90/min between 06:00 and 23:59 and 300/min overnight; every
// other upstream gets a conservative 60/min.
func BuiltinBuckets() []ratelimit.BucketConfig {
	return []ratelimit.BucketConfig{
		{ID: FamilyIBGE, Capacity: 60},
		{
			ID:       FamilyTransparencia,
			Capacity: 90,
			Schedule: ratelimit.Schedule{
				{Start: "06:00", End: "23:59", PerMinute: 90},
				{Start: "00:00", End: "05:59", PerMinute: 300},
			},
		},
		{ID: FamilyDadosGov, Capacity: 60},
	}
}

// BuiltinDescriptors is the shipped catalogue. Geography tables persist to
// the disk mirror with a 24h TTL so a restart resolves localities without
// touching the network.
func BuiltinDescriptors() []Descriptor {
	return []Descriptor{
		{
			ID: "ibge/regioes", Family: FamilyIBGE, Method: "GET",
			URLTemplate: ibgeLocalidades + "/regioes",
			Bucket:      FamilyIBGE, TTL: 24 * time.Hour, Persistent: true,
			Fixture: "ibge_regioes.json", ExpectJSON: true,
		},
		{
			ID: "ibge/estados", Family: FamilyIBGE, Method: "GET",
			URLTemplate: ibgeLocalidades + "/estados",
			Query:       map[string]string{"orderBy": "nome"},
			Bucket:      FamilyIBGE, TTL: 24 * time.Hour, Persistent: true,
			Fixture: "ibge_estados.json", ExpectJSON: true,
		},
		{
			ID: "ibge/municipios", Family: FamilyIBGE, Method: "GET",
			URLTemplate: ibgeLocalidades + "/municipios",
			Query:       map[string]string{"orderBy": "nome"},
			Bucket:      FamilyIBGE, TTL: 24 * time.Hour, Persistent: true,
			Fixture: "ibge_municipios.json", ExpectJSON: true,
		},
		{
			ID: "ibge/municipio", Family: FamilyIBGE, Method: "GET",
			URLTemplate: ibgeLocalidades + "/municipios/{municipio}",
			Bucket:      FamilyIBGE, TTL: 24 * time.Hour,
			ExpectJSON: true,
		},
		{
			ID: "ibge/populacao-municipio", Family: FamilyIBGE, Method: "GET",
			URLTemplate: ibgeAgregados + "/4714/periodos/{ano}/variaveis/93",
			Query:       map[string]string{"localidades": "N6[{municipio}]"},
			Bucket:      FamilyIBGE, TTL: 6 * time.Hour,
			Fixture: "ibge_populacao.json", ExpectJSON: true,
		},
		{
			ID: "ibge/populacao-uf", Family: FamilyIBGE, Method: "GET",
			URLTemplate: ibgeAgregados + "/4714/periodos/{ano}/variaveis/93",
			Query:       map[string]string{"localidades": "N3[{uf_codigo}]"},
			Bucket:      FamilyIBGE, TTL: 6 * time.Hour,
			Fixture: "ibge_populacao.json", ExpectJSON: true,
		},
		{
			ID: "ibge/populacao-regiao", Family: FamilyIBGE, Method: "GET",
			URLTemplate: ibgeAgregados + "/4714/periodos/{ano}/variaveis/93",
			Query:       map[string]string{"localidades": "N2[{regiao}]"},
			Bucket:      FamilyIBGE, TTL: 6 * time.Hour,
			Fixture: "ibge_populacao.json", ExpectJSON: true,
		},
		{
			ID: "ibge/pib-municipio", Family: FamilyIBGE, Method: "GET",
			URLTemplate: ibgeAgregados + "/5938/periodos/{ano}/variaveis/37",
			Query:       map[string]string{"localidades": "N6[{municipio}]"},
			Bucket:      FamilyIBGE, TTL: 6 * time.Hour,
			Fixture: "ibge_pib.json", ExpectJSON: true,
		},
		{
			ID: "ibge/pib-uf", Family: FamilyIBGE, Method: "GET",
			URLTemplate: ibgeAgregados + "/5938/periodos/{ano}/variaveis/37",
			Query:       map[string]string{"localidades": "N3[{uf_codigo}]"},
			Bucket:      FamilyIBGE, TTL: 6 * time.Hour,
			Fixture: "ibge_pib.json", ExpectJSON: true,
		},
		{
			ID: "ibge/nomes", Family: FamilyIBGE, Method: "GET",
			URLTemplate: ibgeBase + "/v2/censos/nomes/{nome}",
			Bucket:      FamilyIBGE, TTL: 24 * time.Hour,
			Fixture: "ibge_nomes.json", ExpectJSON: true,
		},
		{
			ID: "ibge/cnae-classes", Family: FamilyIBGE, Method: "GET",
			URLTemplate: ibgeBase + "/v2/cnae/classes",
			Bucket:      FamilyIBGE, TTL: 7 * 24 * time.Hour, Persistent: true,
			Fixture: "ibge_cnae.json", ExpectJSON: true,
		},
		{
			ID: "ibge/noticias", Family: FamilyIBGE, Method: "GET",
			URLTemplate: "https://servicodados.ibge.gov.br/api/v3/noticias/",
			Query:       map[string]string{"qtd": "10", "busca": "{busca}"},
			Bucket:      FamilyIBGE, TTL: time.Hour,
			Fixture: "ibge_noticias.json", ExpectJSON: true,
			ErrorKeys: []string{"erro"},
		},
		{
			ID: "transparencia/bolsa-familia", Family: FamilyTransparencia, Method: "GET",
			URLTemplate: transparencia + "/bolsa-familia-por-municipio",
			Query:       map[string]string{"mesAno": "{mes_ano}", "codigoIbge": "{municipio}", "pagina": "1"},
			Auth:        AuthAPIKeyHeader, AuthHeader: "chave-api-dados",
			Bucket: FamilyTransparencia, TTL: time.Hour,
			Fixture: "transparencia_bolsa_familia.json", ExpectJSON: true,
			ErrorKeys: []string{"error", "message"},
		},
		{
			ID: "transparencia/bpc", Family: FamilyTransparencia, Method: "GET",
			URLTemplate: transparencia + "/bpc-por-municipio",
			Query:       map[string]string{"mesAno": "{mes_ano}", "codigoIbge": "{municipio}", "pagina": "1"},
			Auth:        AuthAPIKeyHeader, AuthHeader: "chave-api-dados",
			Bucket: FamilyTransparencia, TTL: time.Hour,
			Fixture: "transparencia_bpc.json", ExpectJSON: true,
			ErrorKeys: []string{"error", "message"},
		},
		{
			ID: "transparencia/convenios", Family: FamilyTransparencia, Method: "GET",
			URLTemplate: transparencia + "/convenios",
			Query:       map[string]string{"codigoIbge": "{municipio}", "pagina": "1"},
			Auth:        AuthAPIKeyHeader, AuthHeader: "chave-api-dados",
			Bucket: FamilyTransparencia, TTL: time.Hour,
			Fixture: "transparencia_convenios.json", ExpectJSON: true,
			ErrorKeys: []string{"error", "message"},
		},
		{
			ID: "transparencia/transferencias", Family: FamilyTransparencia, Method: "GET",
			URLTemplate: transparencia + "/transferencias",
			Query:       map[string]string{"mesAno": "{mes_ano}", "codigoIbge": "{municipio}", "pagina": "1"},
			Auth:        AuthAPIKeyHeader, AuthHeader: "chave-api-dados",
			Bucket: FamilyTransparencia, TTL: time.Hour,
			Fixture: "transparencia_transferencias.json", ExpectJSON: true,
			ErrorKeys: []string{"error", "message"},
		},
		{
			ID: "transparencia/transferencias-uf", Family: FamilyTransparencia, Method: "GET",
			URLTemplate: transparencia + "/transferencias",
			Query:       map[string]string{"mesAno": "{mes_ano}", "uf": "{uf}", "pagina": "1"},
			Auth:        AuthAPIKeyHeader, AuthHeader: "chave-api-dados",
			Bucket: FamilyTransparencia, TTL: time.Hour,
			Fixture: "transparencia_transferencias.json", ExpectJSON: true,
			ErrorKeys: []string{"error", "message"},
		},
		{
			ID: "dadosgov/conjuntos", Family: FamilyDadosGov, Method: "GET",
			URLTemplate: dadosGov + "/conjuntos-dados",
			Query:       map[string]string{"nomeConjuntoDados": "{busca}"},
			Bucket:      FamilyDadosGov, TTL: time.Hour,
			Fixture: "dadosgov_conjuntos.json", ExpectJSON: true,
		},
	}
}

// NewBuiltinRegistry builds a registry with the shipped catalogue.
func NewBuiltinRegistry() (*Registry, error) {
	return NewRegistry(BuiltinBuckets(), BuiltinDescriptors())
}
