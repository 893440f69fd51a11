package resources

import "time"

// Audit is the bookkeeping the backend adds to every record.
type Audit struct {
	CreatedAt *time.Time `json:"created_at,omitempty"`
	UpdatedAt *time.Time `json:"updated_at,omitempty"`
	CreatedBy *string    `json:"created_by,omitempty"`
	UpdatedBy *string    `json:"updated_by,omitempty"`
}

type Tenant struct {
	ID       string         `json:"id,omitempty"`
	Name     string         `json:"name"`
	Rut      *string        `json:"rut,omitempty"`
	Plan     string         `json:"plan"`
	Status   string         `json:"status"`
	Metadata map[string]any `json:"metadata,omitempty"`
	Audit
}

type Site struct {
	ID          string         `json:"id,omitempty"`
	TenantID    string         `json:"tenant_id"`
	Name        string         `json:"name"`
	AddressText *string        `json:"address_text,omitempty"`
	Timezone    string         `json:"timezone"`
	Lat         *float64       `json:"lat,omitempty"`
	Lng         *float64       `json:"lng,omitempty"`
	Metadata    map[string]any `json:"metadata,omitempty"`
	Audit
}

type Device struct {
	ID         string         `json:"id,omitempty"`
	TenantID   string         `json:"tenant_id"`
	SiteID     string         `json:"site_id"`
	Name       string         `json:"name"`
	DeviceType string         `json:"device_type"`
	Serial     string         `json:"serial"`
	FwVersion  *string        `json:"fw_version,omitempty"`
	Status     string         `json:"status"`
	LastSeenAt *time.Time     `json:"last_seen_at,omitempty"`
	Metadata   map[string]any `json:"metadata,omitempty"`
	Audit
}

type Sensor struct {
	ID              string         `json:"id,omitempty"`
	TenantID        string         `json:"tenant_id"`
	SiteID          string         `json:"site_id"`
	DeviceID        string         `json:"device_id"`
	Name            string         `json:"name"`
	SensorType      string         `json:"sensor_type"`
	Unit            *string        `json:"unit,omitempty"`
	CalibrationJSON map[string]any `json:"calibration_json,omitempty"`
	IsEnabled       bool           `json:"is_enabled"`
	Metadata        map[string]any `json:"metadata,omitempty"`
	Audit
}

type Actuator struct {
	ID           string         `json:"id,omitempty"`
	TenantID     string         `json:"tenant_id"`
	SiteID       string         `json:"site_id"`
	DeviceID     string         `json:"device_id"`
	Name         string         `json:"name"`
	ActuatorType string         `json:"actuator_type"`
	Channel      *string        `json:"channel,omitempty"`
	State        map[string]any `json:"state,omitempty"`
	IsEnabled    bool           `json:"is_enabled"`
	Metadata     map[string]any `json:"metadata,omitempty"`
	Audit
}

type Asset struct {
	ID           string         `json:"id,omitempty"`
	Name         string         `json:"name"`
	Description  *string        `json:"description,omitempty"`
	AssetTypeID  string         `json:"asset_type_id"`
	AreaID       string         `json:"area_id"`
	Code         string         `json:"code"`
	ParentID     *string        `json:"parent_id,omitempty"`
	Manufacturer *string        `json:"manufacturer,omitempty"`
	Model        *string        `json:"model,omitempty"`
	SerialNumber *string        `json:"serial_number,omitempty"`
	InstallDate  *time.Time     `json:"install_date,omitempty"`
	Criticality  *int           `json:"criticality,omitempty"`
	Metadata     map[string]any `json:"metadata,omitempty"`
}

type User struct {
	ID       string         `json:"id,omitempty"`
	Email    string         `json:"email"`
	FullName *string        `json:"full_name,omitempty"`
	Status   string         `json:"status"`
	Metadata map[string]any `json:"metadata,omitempty"`
	Audit
}

// UserOnboard creates a user together with its tenant membership.
// Password may be left empty on updates to keep the current one.
type UserOnboard struct {
	TenantID           string         `json:"tenant_id"`
	Email              string         `json:"email"`
	Password           string         `json:"password,omitempty"`
	FullName           *string        `json:"full_name,omitempty"`
	Status             string         `json:"status,omitempty"`
	Role               string         `json:"role,omitempty"`
	UserMetadata       map[string]any `json:"user_metadata,omitempty"`
	MembershipMetadata map[string]any `json:"membership_metadata,omitempty"`
}
