package dbfake

import (
	"context"
	"sort"
	"sync"

	"pulse_tracker/internal/domain/tenant"
	idb "pulse_tracker/internal/infra/database"
)

// Directory is an in-memory tenant.Directory and tenant.SocietyRegistry.
type Directory struct {
	mu         sync.Mutex
	tenants    map[tenant.SchemaRef]tenant.Tenant
	societies  map[tenant.SchemaRef][]int64
	listErr    error
	societyErr map[tenant.SchemaRef]error
}

func NewDirectory(tenants ...tenant.Tenant) *Directory {
	d := &Directory{
		tenants:    make(map[tenant.SchemaRef]tenant.Tenant),
		societies:  make(map[tenant.SchemaRef][]int64),
		societyErr: make(map[tenant.SchemaRef]error),
	}
	for _, t := range tenants {
		d.tenants[t.Schema] = t
	}
	return d
}

// AddTenant registers t, replacing any tenant with the same schema.
func (d *Directory) AddTenant(t tenant.Tenant) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.tenants[t.Schema] = t
}

func (d *Directory) RemoveTenant(schema tenant.SchemaRef) {
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.tenants, schema)
}

// SetSocieties sets the active societies of schema.
func (d *Directory) SetSocieties(schema tenant.SchemaRef, ids ...int64) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.societies[schema] = append([]int64(nil), ids...)
}

// SetListError makes ListActive fail with err until cleared with nil.
func (d *Directory) SetListError(err error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.listErr = err
}

// SetSocietyError makes ListActiveSocieties fail for schema.
func (d *Directory) SetSocietyError(schema tenant.SchemaRef, err error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.societyErr[schema] = err
}

func (d *Directory) ListActive(ctx context.Context) ([]tenant.Tenant, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.listErr != nil {
		return nil, d.listErr
	}
	out := make([]tenant.Tenant, 0, len(d.tenants))
	for _, t := range d.tenants {
		out = append(out, t)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Schema < out[j].Schema })
	return out, nil
}

func (d *Directory) Lookup(ctx context.Context, schema tenant.SchemaRef) (tenant.Tenant, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	t, ok := d.tenants[schema]
	if !ok {
		return tenant.Tenant{}, idb.ErrTenantNotFound
	}
	return t, nil
}

func (d *Directory) ListActiveSocieties(ctx context.Context, t tenant.Tenant) ([]int64, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.societyErr[t.Schema]; err != nil {
		return nil, err
	}
	return append([]int64{}, d.societies[t.Schema]...), nil
}
