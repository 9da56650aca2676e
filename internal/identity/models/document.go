package models

import "fmt"

// Document is the hosted identity document a did:web identifier resolves to.
// Shape follows the W3C DID core vocabulary for Ed25519 keys.
type Document struct {
	Context            []string             `json:"@context"`
	ID                 string               `json:"id"`
	VerificationMethod []VerificationMethod `json:"verificationMethod"`
	Authentication     []string             `json:"authentication"`
	AssertionMethod    []string             `json:"assertionMethod"`
	Service            []ServiceEndpoint    `json:"service,omitempty"`
}

// VerificationMethod carries the issuer's public key in multibase form.
type VerificationMethod struct {
	ID                 string `json:"id"`
	Type               string `json:"type"`
	Controller         string `json:"controller"`
	PublicKeyMultibase string `json:"publicKeyMultibase"`
}

// ServiceEndpoint advertises an auxiliary resource, such as the
// authorized-accounts listing used for remote authorization checks.
type ServiceEndpoint struct {
	ID              string `json:"id"`
	Type            string `json:"type"`
	ServiceEndpoint string `json:"serviceEndpoint"`
}

const (
	verificationMethodType = "Ed25519VerificationKey2020"

	// ServiceTypeAuthorizedAccounts marks the endpoint serving the issuer's
	// ledger-account allowlist as JSON.
	ServiceTypeAuthorizedAccounts = "AuthorizedAccounts"
)

// NewDocument builds the resolvable identity document for an issuer. When
// includeServices is set, the authorized-accounts service endpoint is
// embedded so other parties can perform remote authorization checks.
func NewDocument(identity *IssuerIdentity, includeServices bool) (*Document, error) {
	encoded, err := EncodePublicKeyMultibase(identity.SigningKeyPublic)
	if err != nil {
		return nil, fmt.Errorf("encode public key: %w", err)
	}

	keyID := identity.DID.String() + "#key-1"
	doc := &Document{
		Context: []string{
			"https://www.w3.org/ns/did/v1",
			"https://w3id.org/security/suites/ed25519-2020/v1",
		},
		ID: identity.DID.String(),
		VerificationMethod: []VerificationMethod{{
			ID:                 keyID,
			Type:               verificationMethodType,
			Controller:         identity.DID.String(),
			PublicKeyMultibase: encoded,
		}},
		Authentication:  []string{keyID},
		AssertionMethod: []string{keyID},
	}

	if includeServices {
		docURL, err := identity.DID.DocumentURL()
		if err != nil {
			return nil, err
		}
		base := docURL[:len(docURL)-len("did.json")]
		doc.Service = append(doc.Service, ServiceEndpoint{
			ID:              identity.DID.String() + "#authorized-accounts",
			Type:            ServiceTypeAuthorizedAccounts,
			ServiceEndpoint: base + "authorized-accounts.json",
		})
	}

	return doc, nil
}

// PublicKey extracts the Ed25519 public key embedded in the document's first
// verification method.
func (d *Document) PublicKey() ([]byte, error) {
	if len(d.VerificationMethod) == 0 {
		return nil, fmt.Errorf("document %s has no verification method", d.ID)
	}
	return DecodePublicKeyMultibase(d.VerificationMethod[0].PublicKeyMultibase)
}

// FindService returns the first service endpoint of the given type.
func (d *Document) FindService(serviceType string) (ServiceEndpoint, bool) {
	for _, s := range d.Service {
		if s.Type == serviceType {
			return s, true
		}
	}
	return ServiceEndpoint{}, false
}
