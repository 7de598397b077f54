package tenant

import "time"

// SchemaRef is an opaque handle to one tenant's isolated schema.
// Pulse logic passes it through to the store and never inspects it.
type SchemaRef string

// Tenant is one active customer as reported by the Directory.
type Tenant struct {
	Schema   SchemaRef
	Location *time.Location // calendar days are computed in this zone
}

// Loc returns the tenant location, UTC when unset.
func (t Tenant) Loc() *time.Location {
	if t.Location == nil {
		return time.UTC
	}
	return t.Location
}

func (t Tenant) String() string {
	return string(t.Schema)
}
