// Package dte indexes traceability event credentials by the products they
// reference and enforces the product owners' trusted issuer policies.
package dte

import (
	"passport-gateway/internal/credential"
	"passport-gateway/internal/dte/models"
)

// ExtractProductRoles flattens an event's role lists into (product, role)
// pairs. Duplicate pairs collapse; a product may still appear under several
// roles.
func ExtractProductRoles(event *credential.EventBody) []models.ProductRole {
	if event == nil {
		return nil
	}

	seen := make(map[models.ProductRole]struct{})
	var refs []models.ProductRole
	add := func(productID string, role models.Role) {
		if productID == "" {
			return
		}
		pair := models.ProductRole{ProductID: productID, Role: role}
		if _, dup := seen[pair]; dup {
			return
		}
		seen[pair] = struct{}{}
		refs = append(refs, pair)
	}

	for _, ref := range event.Outputs {
		add(ref.ProductID, models.RoleOutput)
	}
	for _, ref := range event.Inputs {
		add(ref.ProductID, models.RoleInput)
	}
	for _, epc := range event.EPCList {
		add(epc, models.RoleEPC)
	}
	if event.Parent != nil {
		add(event.Parent.ProductID, models.RoleParent)
	}
	for _, ref := range event.Children {
		add(ref.ProductID, models.RoleChild)
	}
	for _, ref := range event.Quantity {
		add(ref.ProductID, models.RoleQuantity)
	}
	return refs
}
