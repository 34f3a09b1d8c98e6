package types

import (
	"time"
)

// The entities below only live in the relational store; the pipeline never
// produces them.

// Asset is an inventoried host, device or cloud resource.
type Asset struct {
	ID          string      `json:"id" validate:"required"`
	Name        string      `json:"name" validate:"required"`
	Type        string      `json:"type" validate:"required"`
	Environment Environment `json:"environment" validate:"required,oneof=IT OT Cloud"`
	IPAddress   string      `json:"ipAddress,omitempty" validate:"omitempty,ip"`
	Criticality Severity    `json:"criticality" validate:"omitempty,oneof=critical high medium low"`
	Owner       string      `json:"owner,omitempty"`
	Location    string      `json:"location,omitempty"`
	Tags        []string    `json:"tags,omitempty"`
	CreatedAt   time.Time   `json:"createdAt"`
	UpdatedAt   time.Time   `json:"updatedAt"`
}

// Vulnerability is a finding on an asset.
type Vulnerability struct {
	ID         string    `json:"id" validate:"required"`
	AssetID    string    `json:"assetId" validate:"required"`
	CVE        string    `json:"cve,omitempty"`
	Title      string    `json:"title" validate:"required"`
	Severity   Severity  `json:"severity" validate:"required,oneof=critical high medium low"`
	CVSS       float64   `json:"cvss" validate:"gte=0,lte=10"`
	Status     string    `json:"status"`
	DetectedAt time.Time `json:"detectedAt"`
	CreatedAt  time.Time `json:"createdAt"`
	UpdatedAt  time.Time `json:"updatedAt"`
}

// Patch is an available or applied fix for an asset.
type Patch struct {
	ID         string     `json:"id" validate:"required"`
	AssetID    string     `json:"assetId" validate:"required"`
	Name       string     `json:"name" validate:"required"`
	Version    string     `json:"version,omitempty"`
	Status     string     `json:"status"`
	ReleasedAt *time.Time `json:"releasedAt,omitempty"`
	AppliedAt  *time.Time `json:"appliedAt,omitempty"`
	CreatedAt  time.Time  `json:"createdAt"`
	UpdatedAt  time.Time  `json:"updatedAt"`
}

// Configuration is a tracked configuration item of an asset.
type Configuration struct {
	ID        string                 `json:"id" validate:"required"`
	AssetID   string                 `json:"assetId" validate:"required"`
	Name      string                 `json:"name" validate:"required"`
	Settings  map[string]interface{} `json:"settings,omitempty"`
	Compliant bool                   `json:"compliant"`
	CreatedAt time.Time              `json:"createdAt"`
	UpdatedAt time.Time              `json:"updatedAt"`
}

// Role is the dashboard persona of a user.
type Role string

const (
	RoleExecutive  Role = "executive"
	RoleAnalyst    Role = "analyst"
	RoleOTEngineer Role = "ot_engineer"
	RoleAdmin      Role = "admin"
)

// User is a dashboard account.
type User struct {
	ID          string    `json:"id" validate:"required"`
	Email       string    `json:"email" validate:"required,email"`
	Name        string    `json:"name" validate:"required"`
	Role        Role      `json:"role" validate:"required,oneof=executive analyst ot_engineer admin"`
	Permissions []string  `json:"permissions,omitempty"`
	CreatedAt   time.Time `json:"createdAt"`
	UpdatedAt   time.Time `json:"updatedAt"`
}

// Dashboard is a saved per-user layout.
type Dashboard struct {
	ID        string    `json:"id" validate:"required"`
	UserID    string    `json:"userId" validate:"required"`
	Name      string    `json:"name" validate:"required"`
	Role      Role      `json:"role,omitempty"`
	IsDefault bool      `json:"isDefault"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// DashboardWidget is one widget placed on a dashboard.
type DashboardWidget struct {
	ID          string                 `json:"id" validate:"required"`
	DashboardID string                 `json:"dashboardId" validate:"required"`
	Type        string                 `json:"type" validate:"required"`
	Title       string                 `json:"title"`
	Position    map[string]interface{} `json:"position,omitempty"`
	Config      map[string]interface{} `json:"config,omitempty"`
	CreatedAt   time.Time              `json:"createdAt"`
	UpdatedAt   time.Time              `json:"updatedAt"`
}
