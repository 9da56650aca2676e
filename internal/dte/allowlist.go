package dte

import (
	"context"
	"fmt"
	"strings"

	"passport-gateway/internal/credential"
	dErrors "passport-gateway/pkg/domain-errors"
)

// TrustDirectory resolves the trusted issuer DIDs for a product. Lookups
// run through the product owner's identity, so a product whose owner is
// unknown or unreachable resolves with an error.
type TrustDirectory interface {
	TrustedIssuers(ctx context.Context, productID string) ([]string, error)
}

// Enforcer applies trusted issuer policy to events before they are indexed.
type Enforcer struct {
	trust TrustDirectory
}

func NewEnforcer(trust TrustDirectory) *Enforcer {
	return &Enforcer{trust: trust}
}

// Check decides whether issuerDID may claim the event's policy-checked
// products.
//
// Per product the outcomes are: listed, rejected, or unresolvable. Any
// rejection fails the event. If every policy-checked product is
// unresolvable the verdict is unresolvable rather than a rejection, so
// callers on read paths can downgrade it to a warning; issuance treats it
// as fatal. An event with no policy-checked products passes.
func (e *Enforcer) Check(ctx context.Context, issuerDID string, event *credential.EventBody) error {
	var checked, unresolvable int
	var rejectedBy []string

	for _, ref := range ExtractProductRoles(event) {
		if !ref.Role.PolicyChecked() {
			continue
		}
		checked++

		trusted, err := e.trust.TrustedIssuers(ctx, ref.ProductID)
		if err != nil {
			unresolvable++
			continue
		}
		listed := false
		for _, did := range trusted {
			if did == issuerDID {
				listed = true
				break
			}
		}
		if !listed {
			rejectedBy = append(rejectedBy, ref.ProductID)
		}
	}

	switch {
	case checked == 0:
		return nil
	case len(rejectedBy) > 0:
		return dErrors.New(dErrors.CodeNotAllowlisted,
			fmt.Sprintf("issuer %s is not trusted for products: %s", issuerDID, strings.Join(rejectedBy, ", ")))
	case unresolvable == checked:
		return dErrors.New(dErrors.CodeAllowlistUnresolvable,
			"no trusted issuer list could be resolved for any product on the event")
	}
	return nil
}

var _ TrustDirectory = (TrustDirectoryFunc)(nil)

// TrustDirectoryFunc adapts a function to the TrustDirectory interface.
type TrustDirectoryFunc func(ctx context.Context, productID string) ([]string, error)

func (f TrustDirectoryFunc) TrustedIssuers(ctx context.Context, productID string) ([]string, error) {
	return f(ctx, productID)
}
