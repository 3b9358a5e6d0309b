package resources

import (
	"net/http"
	"sort"
	"strings"

	"github.com/goliatone/go-salla/core"
)

type Resource string

const (
	ResourceOrder          Resource = "order"
	ResourceProduct        Resource = "product"
	ResourceCustomer       Resource = "customer"
	ResourceAddress        Resource = "address"
	ResourceSpecialOffer   Resource = "specialOffer"
	ResourceCoupon         Resource = "coupon"
	ResourceShipment       Resource = "shipment"
	ResourceDigitalProduct Resource = "digitalProduct"
)

type Operation string

const (
	OperationGet    Operation = "get"
	OperationGetAll Operation = "getAll"
	OperationCreate Operation = "create"
	OperationUpdate Operation = "update"
	OperationDelete Operation = "delete"
	OperationCancel Operation = "cancel"
	OperationTrack  Operation = "track"
)

// Endpoint describes how one (resource, operation) pair maps onto the admin
// API. PathTemplate may contain a single {id} placeholder.
type Endpoint struct {
	Method       string
	PathTemplate string
	RequiresID   bool
	AcceptsBody  bool
	Paginated    bool
}

type tableKey struct {
	resource  Resource
	operation Operation
}

type Table struct {
	entries map[tableKey]Endpoint
}

// NewTable builds a table from explicit entries. Most callers want
// DefaultTable.
func NewTable(entries map[Resource]map[Operation]Endpoint) *Table {
	table := &Table{entries: map[tableKey]Endpoint{}}
	for resource, ops := range entries {
		for op, endpoint := range ops {
			endpoint.Method = strings.ToUpper(strings.TrimSpace(endpoint.Method))
			table.entries[tableKey{resource: resource, operation: op}] = endpoint
		}
	}
	return table
}

// DefaultTable returns the admin API operations supported for each resource.
func DefaultTable() *Table {
	return NewTable(map[Resource]map[Operation]Endpoint{
		ResourceOrder: {
			OperationGet:    get("/orders"),
			OperationGetAll: list("/orders"),
			OperationUpdate: update("/orders"),
			OperationCancel: {Method: http.MethodPut, PathTemplate: "/orders/{id}/cancel", RequiresID: true},
		},
		ResourceProduct: crud("/products"),
		ResourceCustomer: {
			OperationGet:    get("/customers"),
			OperationGetAll: list("/customers"),
			OperationUpdate: update("/customers"),
			OperationDelete: remove("/customers"),
		},
		ResourceAddress:      crud("/addresses"),
		ResourceSpecialOffer: crud("/special-offers"),
		ResourceCoupon:       crud("/coupons"),
		ResourceShipment: {
			OperationGet:    get("/shipments"),
			OperationGetAll: list("/shipments"),
			OperationCreate: create("/shipments"),
			OperationUpdate: update("/shipments"),
			OperationTrack:  {Method: http.MethodGet, PathTemplate: "/shipments/{id}/track", RequiresID: true},
		},
		ResourceDigitalProduct: crud("/digital-products"),
	})
}

// Lookup fails with UnsupportedOperation when the pair is not in the table.
func (t *Table) Lookup(resource Resource, operation Operation) (Endpoint, error) {
	if t != nil {
		if endpoint, ok := t.entries[tableKey{resource: resource, operation: operation}]; ok {
			return endpoint, nil
		}
	}
	return Endpoint{}, core.NewUnsupportedOperationError(string(resource), string(operation))
}

// Operations lists the operations registered for resource in sorted order.
func (t *Table) Operations(resource Resource) []Operation {
	if t == nil {
		return nil
	}
	out := []Operation{}
	for key := range t.entries {
		if key.resource == resource {
			out = append(out, key.operation)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// Resources lists every resource with at least one operation.
func (t *Table) Resources() []Resource {
	if t == nil {
		return nil
	}
	seen := map[Resource]bool{}
	out := []Resource{}
	for key := range t.entries {
		if !seen[key.resource] {
			seen[key.resource] = true
			out = append(out, key.resource)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// Path fills the {id} placeholder. The id is path-escaped.
func (e Endpoint) Path(id string) string {
	return strings.ReplaceAll(e.PathTemplate, "{id}", escapeID(id))
}

func get(base string) Endpoint {
	return Endpoint{Method: http.MethodGet, PathTemplate: base + "/{id}", RequiresID: true}
}

func list(base string) Endpoint {
	return Endpoint{Method: http.MethodGet, PathTemplate: base, Paginated: true}
}

func create(base string) Endpoint {
	return Endpoint{Method: http.MethodPost, PathTemplate: base, AcceptsBody: true}
}

func update(base string) Endpoint {
	return Endpoint{Method: http.MethodPut, PathTemplate: base + "/{id}", RequiresID: true, AcceptsBody: true}
}

func remove(base string) Endpoint {
	return Endpoint{Method: http.MethodDelete, PathTemplate: base + "/{id}", RequiresID: true}
}

func crud(base string) map[Operation]Endpoint {
	return map[Operation]Endpoint{
		OperationGet:    get(base),
		OperationGetAll: list(base),
		OperationCreate: create(base),
		OperationUpdate: update(base),
		OperationDelete: remove(base),
	}
}
