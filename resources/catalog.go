package resources

import (
	"encoding/json"
	"fmt"
	"sort"

	apperrors "github.com/jrsteele09/go-backoffice/internal/errors"
)

// Collection paths on the backend.
const (
	TenantsPath   = "/tenants/"
	SitesPath     = "/sites/"
	DevicesPath   = "/devices/"
	SensorsPath   = "/sensors/"
	ActuatorsPath = "/actuators/"
	AssetsPath    = "/asset/"
	UsersPath     = "/users/"
	OnboardPath   = "/users/onboard"
)

// Catalog groups a typed repository per backoffice section.
type Catalog struct {
	Tenants   *Repo[Tenant]
	Sites     *Repo[Site]
	Devices   *Repo[Device]
	Sensors   *Repo[Sensor]
	Actuators *Repo[Actuator]
	Assets    *Repo[Asset]
	Users     *Repo[User]

	raw map[string]*Repo[json.RawMessage]
}

type collectionSpec struct {
	name    string
	path    string
	options []RepoOption
}

var collectionSpecs = map[string]collectionSpec{
	"tenants":   {name: "tenant", path: TenantsPath},
	"sites":     {name: "site", path: SitesPath},
	"devices":   {name: "device", path: DevicesPath},
	"sensors":   {name: "sensor", path: SensorsPath},
	"actuators": {name: "actuator", path: ActuatorsPath},
	"assets":    {name: "asset", path: AssetsPath},
	"users":     {name: "user", path: UsersPath, options: []RepoOption{WithCreatePath(OnboardPath)}},
}

func NewCatalog(client Requester) *Catalog {
	c := &Catalog{
		Tenants:   newRepo[Tenant](client, "tenants"),
		Sites:     newRepo[Site](client, "sites"),
		Devices:   newRepo[Device](client, "devices"),
		Sensors:   newRepo[Sensor](client, "sensors"),
		Actuators: newRepo[Actuator](client, "actuators"),
		Assets:    newRepo[Asset](client, "assets"),
		Users:     newRepo[User](client, "users"),
		raw:       make(map[string]*Repo[json.RawMessage], len(collectionSpecs)),
	}
	for key := range collectionSpecs {
		c.raw[key] = newRepo[json.RawMessage](client, key)
	}
	return c
}

// Names lists the collections Raw accepts, sorted.
func Names() []string {
	names := make([]string, 0, len(collectionSpecs))
	for key := range collectionSpecs {
		names = append(names, key)
	}
	sort.Strings(names)
	return names
}

// Raw returns an untyped repository for callers that pick the collection at
// runtime.
func (c *Catalog) Raw(name string) (*Repo[json.RawMessage], error) {
	repo, ok := c.raw[name]
	if !ok {
		return nil, fmt.Errorf("[Catalog.Raw] %q: %w", name, apperrors.ErrUnknownResource)
	}
	return repo, nil
}

func newRepo[T any](client Requester, key string) *Repo[T] {
	spec := collectionSpecs[key]
	return NewRepo[T](client, spec.name, spec.path, spec.options...)
}
