package resources

import (
	"context"
	"errors"
	"net/url"
	"sync"

	apperrors "github.com/jrsteele09/go-backoffice/internal/errors"
	"github.com/jrsteele09/go-backoffice/internal/utils"
)

// lookupPageSize is how many options a picker loads in one request.
const lookupPageSize = 200

// Option is one entry of a picker.
type Option struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// optionSource accepts the id and name aliases different endpoints use.
type optionSource struct {
	ID       string `json:"id"`
	DeviceID string `json:"device_id"`
	Name     string `json:"name"`
	Serial   string `json:"serial"`
	TenantID string `json:"tenant_id"`
}

func (s optionSource) option() (Option, bool) {
	id := utils.FirstNonEmpty(s.ID, s.DeviceID)
	if id == "" {
		return Option{}, false
	}
	return Option{ID: id, Name: utils.FirstNonEmpty(s.Name, s.Serial, id)}, true
}

// Lookup loads the cascading tenant, site and device pickers and caches
// each result until Invalidate.
type Lookup struct {
	tenants *Repo[optionSource]
	sites   *Repo[optionSource]
	devices *Repo[optionSource]

	lock  sync.Mutex
	cache map[string][]Option
}

const tenantsCacheKey = "tenants"

func NewLookup(client Requester) *Lookup {
	return &Lookup{
		tenants: NewRepo[optionSource](client, "tenant", TenantsPath),
		sites:   NewRepo[optionSource](client, "site", SitesPath),
		devices: NewRepo[optionSource](client, "device", DevicesPath),
		cache:   make(map[string][]Option),
	}
}

// Invalidate drops every cached picker.
func (l *Lookup) Invalidate() {
	l.lock.Lock()
	defer l.lock.Unlock()
	l.cache = make(map[string][]Option)
}

func (l *Lookup) Tenants(ctx context.Context) ([]Option, error) {
	if options, ok := l.cached(tenantsCacheKey); ok {
		return options, nil
	}

	page, err := l.tenants.List(ctx, ListQuery{Page: 1, PageSize: lookupPageSize})
	if err != nil {
		return nil, err
	}
	options := toOptions(page.Items)
	l.store(tenantsCacheKey, options)
	return options, nil
}

// SitesForTenant asks the backend to filter by tenant_id. Backends that
// reject the filter are handled by listing every site and filtering here.
func (l *Lookup) SitesForTenant(ctx context.Context, tenantID string) ([]Option, error) {
	if tenantID == "" {
		return nil, nil
	}
	if options, ok := l.cached("sites:" + tenantID); ok {
		return options, nil
	}

	page, err := l.sites.List(ctx, ListQuery{Page: 1, PageSize: lookupPageSize, Filters: map[string]string{"tenant_id": tenantID}})
	if err != nil {
		if !canFallBack(ctx, err) {
			return nil, err
		}
		all, err := l.sites.List(ctx, ListQuery{Page: 1, PageSize: lookupPageSize})
		if err != nil {
			return nil, err
		}
		page.Items = page.Items[:0]
		for _, site := range all.Items {
			if site.TenantID == tenantID {
				page.Items = append(page.Items, site)
			}
		}
	}

	options := toOptions(page.Items)
	l.store("sites:"+tenantID, options)
	return options, nil
}

// DevicesForSite lists the devices attached to one site.
func (l *Lookup) DevicesForSite(ctx context.Context, siteID string) ([]Option, error) {
	if siteID == "" {
		return nil, nil
	}
	if options, ok := l.cached("devices:" + siteID); ok {
		return options, nil
	}

	page, err := l.devices.listAt(ctx, DevicesPath+url.PathEscape(siteID)+"/devices", ListQuery{Page: 1, PageSize: lookupPageSize})
	if err != nil {
		return nil, err
	}

	options := toOptions(page.Items)
	l.store("devices:"+siteID, options)
	return options, nil
}

func (l *Lookup) cached(key string) ([]Option, bool) {
	l.lock.Lock()
	defer l.lock.Unlock()
	options, ok := l.cache[key]
	return options, ok
}

func (l *Lookup) store(key string, options []Option) {
	l.lock.Lock()
	defer l.lock.Unlock()
	l.cache[key] = options
}

// canFallBack is false when retrying cannot help: the session is gone or the
// caller gave up.
func canFallBack(ctx context.Context, err error) bool {
	return ctx.Err() == nil && !errors.Is(err, apperrors.ErrSessionEnded)
}

func toOptions(sources []optionSource) []Option {
	options := make([]Option, 0, len(sources))
	for _, s := range sources {
		if option, ok := s.option(); ok {
			options = append(options, option)
		}
	}
	return options
}
