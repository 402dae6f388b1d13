package models

import (
	"time"
)

// Tenant is the owning organization for all flow data. The engine never
// crosses tenant boundaries; every lookup is scoped by tenant id.
type Tenant struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	Domain    string    `json:"domain"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}
