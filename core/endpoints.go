package core

import (
	"strings"
)

const (
	DefaultAPIProductionHost      = "https://api.salla.dev"
	DefaultAPISandboxHost         = "https://api.s-cart.com"
	DefaultAccountsProductionHost = "https://accounts.salla.sa"
	DefaultAccountsSandboxHost    = "https://accounts.s-cart.com"
)

// EndpointsConfig overrides the hosts the connector talks to.
type EndpointsConfig struct {
	APIProduction      string `koanf:"api_production" mapstructure:"api_production"`
	APISandbox         string `koanf:"api_sandbox" mapstructure:"api_sandbox"`
	AccountsProduction string `koanf:"accounts_production" mapstructure:"accounts_production"`
	AccountsSandbox    string `koanf:"accounts_sandbox" mapstructure:"accounts_sandbox"`
}

func DefaultEndpoints() EndpointsConfig {
	return EndpointsConfig{
		APIProduction:      DefaultAPIProductionHost,
		APISandbox:         DefaultAPISandboxHost,
		AccountsProduction: DefaultAccountsProductionHost,
		AccountsSandbox:    DefaultAccountsSandboxHost,
	}
}

// BaseURL returns the admin API root for an environment and version, e.g.
// https://api.salla.dev/admin/v2.
func (e EndpointsConfig) BaseURL(env Environment, version APIVersion) string {
	host := e.APIProduction
	fallback := DefaultAPIProductionHost
	if env == EnvironmentSandbox {
		host = e.APISandbox
		fallback = DefaultAPISandboxHost
	}
	if strings.TrimSpace(string(version)) == "" {
		version = APIVersionV2
	}
	return trimHost(host, fallback) + "/admin/" + strings.TrimSpace(string(version))
}

func (e EndpointsConfig) TokenURL(env Environment) string {
	return e.accountsHost(env) + "/oauth2/token"
}

func (e EndpointsConfig) AuthURL(env Environment) string {
	return e.accountsHost(env) + "/oauth2/auth"
}

func (e EndpointsConfig) accountsHost(env Environment) string {
	if env == EnvironmentSandbox {
		return trimHost(e.AccountsSandbox, DefaultAccountsSandboxHost)
	}
	return trimHost(e.AccountsProduction, DefaultAccountsProductionHost)
}

func BaseURL(env Environment, version APIVersion) string {
	return DefaultEndpoints().BaseURL(env, version)
}

func TokenURL(env Environment) string {
	return DefaultEndpoints().TokenURL(env)
}

func AuthURL(env Environment) string {
	return DefaultEndpoints().AuthURL(env)
}

func trimHost(host string, fallback string) string {
	host = strings.TrimRight(strings.TrimSpace(host), "/")
	if host == "" {
		return fallback
	}
	return host
}

func joinEndpoint(base string, endpoint string) string {
	endpoint = strings.TrimSpace(endpoint)
	if endpoint == "" {
		return base
	}
	if !strings.HasPrefix(endpoint, "/") {
		endpoint = "/" + endpoint
	}
	return base + endpoint
}
