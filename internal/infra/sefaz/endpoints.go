package sefaz

import (
	_ "embed"
	"fmt"
	"os"
	"strings"

	"github.com/boddenberg/livefy-nfe-go/internal/domain"

	"gopkg.in/yaml.v3"
)

// Service is a SEFAZ web service name as used in the endpoint table.
type Service string

const (
	ServiceAuthorization    Service = "NFeAutorizacao4"
	ServiceRetAuthorization Service = "NFeRetAutorizacao4"
	ServiceEvent            Service = "NFeRecepcaoEvento4"
	ServiceProtocol         Service = "NFeConsultaProtocolo4"
	ServiceVoid             Service = "NFeInutilizacao4"
	ServiceRegistry         Service = "CadConsultaCadastro4"
)

// operations maps each service to its SOAP operation.
var operations = map[Service]string{
	ServiceAuthorization:    "nfeAutorizacaoLote",
	ServiceRetAuthorization: "nfeRetAutorizacaoLote",
	ServiceEvent:            "nfeRecepcaoEvento",
	ServiceProtocol:         "nfeConsultaNF",
	ServiceVoid:             "nfeInutilizacaoNF",
	ServiceRegistry:         "consultaCadastro",
}

// Operation returns the SOAP operation name.
func (s Service) Operation() string { return operations[s] }

// WSDLNamespace is the wsdl namespace of the service, used for nfeDadosMsg
// and the SOAP action.
func (s Service) WSDLNamespace() string {
	return "http://www.portalfiscal.inf.br/nfe/wsdl/" + string(s)
}

//go:embed endpoints.yaml
var embeddedEndpoints []byte

// Endpoints resolves web service URLs per state and environment.
type Endpoints struct {
	Default     string                                    `yaml:"default"`
	States      map[string]string                         `yaml:"states"`
	Authorizers map[string]map[string]map[Service]string `yaml:"authorizers"`

	overrides map[Service]string
}

// LoadEndpoints reads the table from path, or the embedded table when path
// is empty.
func LoadEndpoints(path string) (*Endpoints, error) {
	data := embeddedEndpoints
	if path != "" {
		b, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("sefaz: read endpoints: %w", err)
		}
		data = b
	}
	return ParseEndpoints(data)
}

// ParseEndpoints decodes and checks an endpoint table.
func ParseEndpoints(data []byte) (*Endpoints, error) {
	var e Endpoints
	if err := yaml.Unmarshal(data, &e); err != nil {
		return nil, fmt.Errorf("sefaz: parse endpoints: %w", err)
	}
	if e.Default == "" {
		return nil, fmt.Errorf("sefaz: endpoints without default authorizer")
	}
	if _, ok := e.Authorizers[e.Default]; !ok {
		return nil, fmt.Errorf("sefaz: default authorizer %s not defined", e.Default)
	}
	for uf, auth := range e.States {
		if _, ok := e.Authorizers[auth]; !ok {
			return nil, fmt.Errorf("sefaz: state %s points to unknown authorizer %s", uf, auth)
		}
	}
	return &e, nil
}

// WithOverrides pins services to fixed URLs for every state and
// environment. Unknown service names are ignored.
func (e *Endpoints) WithOverrides(urls map[string]string) *Endpoints {
	if len(urls) == 0 {
		return e
	}
	e.overrides = make(map[Service]string, len(urls))
	for name, url := range urls {
		if _, ok := operations[Service(name)]; ok {
			e.overrides[Service(name)] = url
		}
	}
	return e
}

// Authorizer returns the authorizer serving a state.
func (e *Endpoints) Authorizer(state string) string {
	if a, ok := e.States[strings.ToUpper(strings.TrimSpace(state))]; ok {
		return a
	}
	return e.Default
}

// URL resolves the endpoint of svc for target.
func (e *Endpoints) URL(target domain.AuthorityTarget, svc Service) (string, error) {
	if url, ok := e.overrides[svc]; ok {
		return url, nil
	}
	env := target.Environment
	if env == 0 {
		env = domain.EnvironmentHomologation
	}
	auth := e.Authorizer(target.State)
	url := e.Authorizers[auth][env.Key()][svc]
	if url == "" {
		return "", fmt.Errorf("sefaz: no %s endpoint for %s/%s", svc, auth, env.Key())
	}
	return url, nil
}
