// Package resolver fetches hosted identity documents for did:web
// identifiers. Every fetch is bounded by a timeout; timeouts surface as
// sentinel.ErrTimeout so callers can tell slow hosts apart from broken ones.
package resolver

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"passport-gateway/internal/identity/models"
	"passport-gateway/pkg/platform/sentinel"
)

const maxDocumentBytes = 1 << 20 // hosted documents have no business being larger

// Resolver fetches and decodes hosted identity documents.
type Resolver struct {
	client      *http.Client
	timeout     time.Duration
	tracer      Tracer
	documentURL func(models.DID) (string, error)
}

// Option configures the Resolver.
type Option func(*Resolver)

// WithHTTPClient overrides the HTTP client.
func WithHTTPClient(client *http.Client) Option {
	return func(r *Resolver) { r.client = client }
}

// WithTimeout bounds each fetch. Defaults to 10 seconds.
func WithTimeout(timeout time.Duration) Option {
	return func(r *Resolver) { r.timeout = timeout }
}

// WithTracer sets the tracer for external fetches.
func WithTracer(tracer Tracer) Option {
	return func(r *Resolver) { r.tracer = tracer }
}

// WithDocumentURL overrides the DID-to-URL mapping. Tests point this at a
// local server.
func WithDocumentURL(fn func(models.DID) (string, error)) Option {
	return func(r *Resolver) { r.documentURL = fn }
}

// New creates a resolver with defaults suitable for production.
func New(opts ...Option) *Resolver {
	r := &Resolver{
		client:  &http.Client{},
		timeout: 10 * time.Second,
		tracer:  NoopTracer{},
		documentURL: func(did models.DID) (string, error) {
			return did.DocumentURL()
		},
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Resolve fetches the identity document expected at the DID's well-known
// location.
func (r *Resolver) Resolve(ctx context.Context, did models.DID) (*models.Document, error) {
	url, err := r.documentURL(did)
	if err != nil {
		return nil, err
	}

	ctx, span := r.tracer.Start(ctx, "resolver.Resolve",
		Attribute{Key: "did", Value: did.String()},
		Attribute{Key: "url", Value: url})

	doc, err := r.fetchDocument(ctx, url)
	span.End(err)
	if err != nil {
		return nil, err
	}
	if doc.ID != did.String() {
		return nil, fmt.Errorf("document id %q does not match %q", doc.ID, did)
	}
	return doc, nil
}

func (r *Resolver) fetchDocument(ctx context.Context, url string) (*models.Document, error) {
	body, err := r.get(ctx, url)
	if err != nil {
		return nil, err
	}
	var doc models.Document
	if err := json.Unmarshal(body, &doc); err != nil {
		return nil, fmt.Errorf("decode identity document: %w", err)
	}
	return &doc, nil
}

// FetchAuthorizedAccounts retrieves the ledger-account allowlist advertised
// by a document's service endpoint. Used for remote authorization checks
// where the authorizer and the verifier are different processes.
func (r *Resolver) FetchAuthorizedAccounts(ctx context.Context, url string) ([]models.LedgerAccount, error) {
	ctx, span := r.tracer.Start(ctx, "resolver.FetchAuthorizedAccounts",
		Attribute{Key: "url", Value: url})

	body, err := r.get(ctx, url)
	if err != nil {
		span.End(err)
		return nil, err
	}
	var accounts []models.LedgerAccount
	err = json.Unmarshal(body, &accounts)
	span.End(err)
	if err != nil {
		return nil, fmt.Errorf("decode authorized accounts: %w", err)
	}
	return accounts, nil
}

func (r *Resolver) get(ctx context.Context, url string) ([]byte, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := r.client.Do(req)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return nil, fmt.Errorf("%w: fetch %s", sentinel.ErrTimeout, url)
		}
		return nil, fmt.Errorf("fetch %s: %w", url, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("fetch %s: unexpected status %d", url, resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxDocumentBytes))
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", url, err)
	}
	return body, nil
}
