package models

import (
	"time"

	"passport-gateway/internal/keyvault"
)

// Status tracks the verification state of an issuer identity.
//
// Transitions: Unknown -> Pending on registration, Pending -> Verified or
// Failed on a verification attempt, and Verified <-> Failed on any later
// re-verification. There is no terminal state; every attempt is a fresh
// transition.
type Status string

const (
	StatusUnknown  Status = "unknown"
	StatusPending  Status = "pending"
	StatusVerified Status = "verified"
	StatusFailed   Status = "failed"
)

// CanTransition reports whether moving to next is a legal status change.
func (s Status) CanTransition(next Status) bool {
	switch s {
	case StatusUnknown:
		return next == StatusPending
	case StatusPending, StatusVerified, StatusFailed:
		return next == StatusVerified || next == StatusFailed
	}
	return false
}

// LedgerAccount identifies an on-ledger account on a named network.
type LedgerAccount struct {
	Account string `json:"account"`
	Network string `json:"network"`
}

// IssuerIdentity is the durable record of an organizational signing identity.
// The private seed is sealed by the key vault at registration time and never
// persisted in plaintext.
type IssuerIdentity struct {
	DID                 DID                   `json:"did"`
	Domain              string                `json:"domain"`
	OrgName             string                `json:"org_name"`
	Status              Status                `json:"status"`
	SigningKeyPublic    []byte                `json:"signing_key_public"`
	EncryptedPrivateKey keyvault.EncryptedKey `json:"encrypted_private_key"`
	AuthorizedAccounts  []LedgerAccount       `json:"authorized_accounts"`
	TrustedSupplierDIDs []DID                 `json:"trusted_supplier_dids"`
	RegisteredAt        time.Time             `json:"registered_at"`
	LastError           string                `json:"last_error,omitempty"`
	LastAttemptAt       time.Time             `json:"last_attempt_at,omitempty"`
}

// IsAccountAuthorized checks the local allowlist.
func (i *IssuerIdentity) IsAccountAuthorized(account, network string) bool {
	for _, a := range i.AuthorizedAccounts {
		if a.Account == account && a.Network == network {
			return true
		}
	}
	return false
}

// TrustsSupplier checks the manufacturer-defined supplier allowlist.
func (i *IssuerIdentity) TrustsSupplier(supplier DID) bool {
	for _, d := range i.TrustedSupplierDIDs {
		if d == supplier {
			return true
		}
	}
	return false
}
