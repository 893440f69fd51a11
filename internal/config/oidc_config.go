package config

type OIDCConfig interface {
	GetOIDCIssuer() string
	GetOIDCClientID() string
}

// OIDC enables id_token verification at login when Issuer is set.
type OIDC struct {
	Issuer   string `yaml:"issuer"    env:"BACKOFFICE_OIDC_ISSUER"`
	ClientID string `yaml:"client_id" env:"BACKOFFICE_OIDC_CLIENT_ID"`
}

var _ OIDCConfig = OIDC{}

func (o OIDC) GetOIDCIssuer() string {
	return o.Issuer
}

func (o OIDC) GetOIDCClientID() string {
	return o.ClientID
}
