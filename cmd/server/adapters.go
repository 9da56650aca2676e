package main

import (
	"context"
	"crypto/ed25519"

	idModels "passport-gateway/internal/identity/models"
	idservice "passport-gateway/internal/identity/service"
)

// identityAdapter narrows the identity service to the string-typed ports
// the credential engine and verification pipeline expect, and pins account
// checks to the configured ledger network.
type identityAdapter struct {
	svc     *idservice.Service
	network string
}

func (a *identityAdapter) RegisterIssuer(ctx context.Context, domain, orgName string) (idModels.IssuerIdentity, error) {
	return a.svc.RegisterIssuer(ctx, domain, orgName)
}

func (a *identityAdapter) Get(ctx context.Context, did idModels.DID) (idModels.IssuerIdentity, error) {
	return a.svc.Get(ctx, did)
}

func (a *identityAdapter) GenerateDocument(ctx context.Context, did idModels.DID, includeServices bool) (*idModels.Document, error) {
	return a.svc.GenerateDocument(ctx, did, includeServices)
}

func (a *identityAdapter) VerifyRemote(ctx context.Context, did idModels.DID) (idservice.VerifyOutcome, error) {
	return a.svc.VerifyRemote(ctx, did)
}

func (a *identityAdapter) AddAuthorizedAccount(ctx context.Context, did idModels.DID, account, network string) error {
	return a.svc.AddAuthorizedAccount(ctx, did, account, network)
}

func (a *identityAdapter) AddTrustedSupplier(ctx context.Context, did, supplier idModels.DID) error {
	return a.svc.AddTrustedSupplier(ctx, did, supplier)
}

func (a *identityAdapter) RemoveTrustedSupplier(ctx context.Context, did, supplier idModels.DID) error {
	return a.svc.RemoveTrustedSupplier(ctx, did, supplier)
}

func (a *identityAdapter) TrustedSupplierDIDs(ctx context.Context, did idModels.DID) ([]idModels.DID, error) {
	return a.svc.TrustedSupplierDIDs(ctx, did)
}

func (a *identityAdapter) DecryptSigningKey(ctx context.Context, did idModels.DID) ([]byte, error) {
	return a.svc.DecryptSigningKey(ctx, did)
}

// ResolvePublicKey satisfies the credential engine's key resolver.
func (a *identityAdapter) ResolvePublicKey(ctx context.Context, did string) (ed25519.PublicKey, error) {
	key, err := a.svc.ResolvePublicKey(ctx, idModels.DID(did))
	if err != nil {
		return nil, err
	}
	return ed25519.PublicKey(key), nil
}

// IsAccountAuthorized satisfies the verification pipeline's account checker
// on the configured network.
func (a *identityAdapter) IsAccountAuthorized(ctx context.Context, issuerDID, account string) (bool, error) {
	return a.svc.IsAccountAuthorized(ctx, idModels.DID(issuerDID), account, a.network)
}
