package tenant

import "context"

// Directory enumerates tenant schemas. Schemas may appear between calls.
type Directory interface {
	ListActive(ctx context.Context) ([]Tenant, error)
	Lookup(ctx context.Context, schema SchemaRef) (Tenant, error)
}

// SocietyRegistry lists the societies of a tenant that are marked active.
type SocietyRegistry interface {
	ListActiveSocieties(ctx context.Context, t Tenant) ([]int64, error)
}
