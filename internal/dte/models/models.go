// Package models defines the traceability event index shapes.
package models

import "time"

// Role says in what capacity a product appears on an event.
type Role string

const (
	RoleOutput   Role = "output"
	RoleInput    Role = "input"
	RoleEPC      Role = "epc"
	RoleParent   Role = "parent"
	RoleChild    Role = "child"
	RoleQuantity Role = "quantity"
)

// PolicyChecked reports whether an event claiming a product in this role
// must be covered by the product owner's trusted issuer list. Claiming to
// have produced, tagged or aggregated under a product is an assertion about
// that product; consuming it as an input is not.
func (r Role) PolicyChecked() bool {
	switch r {
	case RoleOutput, RoleEPC, RoleParent:
		return true
	}
	return false
}

// ProductRole is one (product, role) reference extracted from an event.
type ProductRole struct {
	ProductID string
	Role      Role
}

// DteIndexRecord links a product to an event credential. One event yields
// one record per (product, role) pair it references.
type DteIndexRecord struct {
	ProductID    string    `json:"productId"`
	DteCID       string    `json:"dteCid"`
	EventID      string    `json:"eventId"`
	CredentialID string    `json:"credentialId"`
	Role         Role      `json:"role"`
	IssuerDID    string    `json:"issuerDid"`
	EventType    string    `json:"eventType"`
	EventTime    time.Time `json:"eventTime"`
	IndexedAt    time.Time `json:"indexedAt"`
}
