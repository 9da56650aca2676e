package models

import (
	"fmt"
	"net/url"
	"strings"
)

// DID is a decentralized identifier string. Two methods are understood here:
// domain-bound did:web identifiers, resolved over HTTPS, and self-certifying
// did:key identifiers whose key is embedded in the identifier itself.
type DID string

const (
	methodWeb = "did:web:"
	methodKey = "did:key:"
)

func (d DID) String() string { return string(d) }

// IsWeb reports whether the DID is domain-bound.
func (d DID) IsWeb() bool { return strings.HasPrefix(string(d), methodWeb) }

// IsKey reports whether the DID is self-certifying.
func (d DID) IsKey() bool { return strings.HasPrefix(string(d), methodKey) }

// DIDFromDomain derives a did:web identifier deterministically from a domain,
// optionally with path segments. Port colons are percent-encoded per the
// did:web method, path separators become colons.
func DIDFromDomain(domain string, path ...string) (DID, error) {
	domain = strings.TrimSpace(strings.ToLower(domain))
	if domain == "" {
		return "", fmt.Errorf("domain is required")
	}
	if strings.ContainsAny(domain, "/ ") {
		return "", fmt.Errorf("invalid domain %q", domain)
	}
	id := methodWeb + url.QueryEscape(domain)
	for _, segment := range path {
		segment = strings.Trim(segment, "/")
		if segment == "" {
			continue
		}
		id += ":" + strings.ReplaceAll(segment, "/", ":")
	}
	return DID(id), nil
}

// Domain returns the domain a did:web identifier is bound to.
func (d DID) Domain() (string, error) {
	if !d.IsWeb() {
		return "", fmt.Errorf("%s is not a did:web identifier", d)
	}
	rest := strings.TrimPrefix(string(d), methodWeb)
	host := strings.SplitN(rest, ":", 2)[0]
	return url.QueryUnescape(host)
}

// DocumentURL maps a did:web identifier to the HTTPS location its identity
// document is expected to be hosted at: path segments become URL path
// segments and the document lives under .well-known at that path.
func (d DID) DocumentURL() (string, error) {
	if !d.IsWeb() {
		return "", fmt.Errorf("%s is not resolvable over the web", d)
	}
	rest := strings.TrimPrefix(string(d), methodWeb)
	parts := strings.Split(rest, ":")
	host, err := url.QueryUnescape(parts[0])
	if err != nil {
		return "", fmt.Errorf("invalid did:web host: %w", err)
	}
	segments := ""
	if len(parts) > 1 {
		segments = "/" + strings.Join(parts[1:], "/")
	}
	return "https://" + host + segments + "/.well-known/did.json", nil
}

// DIDFromPublicKey builds a self-certifying did:key identifier from a raw
// Ed25519 public key.
func DIDFromPublicKey(publicKey []byte) (DID, error) {
	encoded, err := EncodePublicKeyMultibase(publicKey)
	if err != nil {
		return "", err
	}
	return DID(methodKey + encoded), nil
}

// EmbeddedPublicKey extracts the Ed25519 public key from a did:key identifier.
func (d DID) EmbeddedPublicKey() ([]byte, error) {
	if !d.IsKey() {
		return nil, fmt.Errorf("%s does not embed a key", d)
	}
	return DecodePublicKeyMultibase(strings.TrimPrefix(string(d), methodKey))
}
