// Package anchor maintains the version chain between anchored passport
// datasets. It prepares new versions against the current anchor and walks
// chains back to their origin, flagging any break it finds. It never
// writes the ledger; anchoring the prepared version is the account
// holder's move.
package anchor

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"passport-gateway/internal/anchor/models"
	"passport-gateway/internal/anchor/ports"
	"passport-gateway/internal/credential"
	dErrors "passport-gateway/pkg/domain-errors"
)

// maxChainDepth bounds chain walks so a crafted cyclic chain cannot spin
// the walker forever.
const maxChainDepth = 1000

// Signer seals updated claims into envelopes. The credential engine
// implements it.
type Signer interface {
	IssueWithIdentity(ctx context.Context, c credential.Claims, seed []byte) (credential.Envelope, error)
}

// Service prepares passport versions and resolves version chains.
type Service struct {
	ledger ports.Ledger
	blobs  ports.BlobStore
	signer Signer
	logger *slog.Logger
	now    func() time.Time
}

type Option func(*Service)

func WithLogger(l *slog.Logger) Option {
	return func(s *Service) { s.logger = l }
}

func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

func NewService(ledger ports.Ledger, blobs ports.BlobStore, signer Signer, opts ...Option) *Service {
	s := &Service{
		ledger: ledger,
		blobs:  blobs,
		signer: signer,
		logger: slog.Default(),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Proposal is a prepared passport version: sealed, stored, fingerprinted,
// and ready to be anchored by the account holder.
type Proposal struct {
	Envelope      credential.Envelope `json:"-"`
	JWTCompact    string              `json:"jwtCompact"`
	DatasetURI    string              `json:"datasetUri"`
	Fingerprint   string              `json:"fingerprint"`
	SubjectIDHash string              `json:"subjectIdHash,omitempty"`
	Version       int64               `json:"version"`
}

// CreateInitial seals the first version of a passport and stores it. The
// token must not be anchored yet.
func (s *Service) CreateInitial(ctx context.Context, tokenID string, claims credential.Claims, seed []byte) (Proposal, error) {
	if claims.Body.Kind != credential.KindPassport {
		return Proposal{}, dErrors.New(dErrors.CodeInvalidInput, "only passports are anchored")
	}
	if _, err := s.ledger.GetAnchor(ctx, tokenID); err == nil {
		return Proposal{}, dErrors.New(dErrors.CodeConflict,
			fmt.Sprintf("token %s is already anchored", tokenID))
	} else if !dErrors.HasCode(err, dErrors.CodeNotFound) {
		return Proposal{}, dErrors.Wrap(err, dErrors.CodeInternal, "read anchor")
	}
	return s.seal(ctx, tokenID, claims, seed, 1)
}

// UpdateRequest describes a passport update against a known base version.
type UpdateRequest struct {
	TokenID         string
	Patch           map[string]any
	Seed            []byte
	ExpectedVersion int64
	IssuerDID       string // empty inherits the current version's issuer
}

// PrepareUpdate builds the next passport version. The patch is merged into
// the current subject, a link back to the superseded dataset is embedded,
// and the sealed result is stored. A base version that is no longer
// current fails with a consistency code; the caller re-reads and retries.
func (s *Service) PrepareUpdate(ctx context.Context, req UpdateRequest) (Proposal, error) {
	anchor, err := s.ledger.GetAnchor(ctx, req.TokenID)
	if err != nil {
		if dErrors.HasCode(err, dErrors.CodeNotFound) {
			return Proposal{}, dErrors.New(dErrors.CodeNotFound,
				fmt.Sprintf("token %s has never been anchored", req.TokenID))
		}
		return Proposal{}, dErrors.Wrap(err, dErrors.CodeInternal, "read anchor")
	}
	if anchor.Version != req.ExpectedVersion {
		return Proposal{}, dErrors.New(dErrors.CodeConsistency,
			fmt.Sprintf("token %s moved to version %d, update was prepared against %d",
				req.TokenID, anchor.Version, req.ExpectedVersion))
	}

	data, err := s.blobs.Get(ctx, anchor.DatasetURI)
	if err != nil {
		return Proposal{}, dErrors.Wrap(err, dErrors.CodeInternal, "fetch current dataset")
	}
	if got := Fingerprint(string(data)); got != anchor.PayloadFingerprint {
		return Proposal{}, dErrors.New(dErrors.CodeConsistency,
			fmt.Sprintf("dataset at %s does not match its anchor fingerprint", anchor.DatasetURI))
	}

	current, err := credential.Decode(string(data))
	if err != nil {
		return Proposal{}, dErrors.Wrap(err, dErrors.CodeInternal, "decode current dataset")
	}
	if current.Body.Kind != credential.KindPassport {
		return Proposal{}, dErrors.New(dErrors.CodeInvalidInput, "anchored dataset is not a passport")
	}

	subject := credential.MergePatch(current.Body.Passport, req.Patch)
	link, err := chainLinkDocument(models.VersionChainLink{
		PreviousURI:         anchor.DatasetURI,
		PreviousFingerprint: anchor.PayloadFingerprint,
		Version:             anchor.Version,
	})
	if err != nil {
		return Proposal{}, dErrors.Wrap(err, dErrors.CodeInternal, "encode chain link")
	}
	subject[models.ChainLinkKey] = link

	issuer := req.IssuerDID
	if issuer == "" {
		issuer = current.Issuer
	}
	next := credential.Claims{
		Issuer:  issuer,
		Subject: current.Subject,
		Body:    credential.SubjectBody{Kind: credential.KindPassport, Passport: subject},
	}
	return s.seal(ctx, req.TokenID, next, req.Seed, anchor.Version+1)
}

func (s *Service) seal(ctx context.Context, tokenID string, claims credential.Claims, seed []byte, version int64) (Proposal, error) {
	envelope, err := s.signer.IssueWithIdentity(ctx, claims, seed)
	if err != nil {
		return Proposal{}, err
	}
	uri, err := s.blobs.Put(ctx, []byte(envelope.JWTCompact))
	if err != nil {
		return Proposal{}, dErrors.Wrap(err, dErrors.CodeInternal, "store dataset")
	}
	fingerprint := Fingerprint(envelope.JWTCompact)
	var subjectHash string
	if envelope.Claims.Subject != "" {
		subjectHash = SubjectIDHash(envelope.Claims.Subject)
	}
	s.logger.Info("prepared passport version",
		"tokenId", tokenID, "version", version, "datasetUri", uri)
	return Proposal{
		Envelope:      envelope,
		JWTCompact:    envelope.JWTCompact,
		DatasetURI:    uri,
		Fingerprint:   fingerprint,
		SubjectIDHash: subjectHash,
		Version:       version,
	}, nil
}

// CurrentPassport fetches the latest anchored dataset of a token and
// decodes it, refusing a blob that no longer matches its anchored
// fingerprint.
func (s *Service) CurrentPassport(ctx context.Context, tokenID string) (credential.Claims, models.AnchorRecord, error) {
	anchor, err := s.ledger.GetAnchor(ctx, tokenID)
	if err != nil {
		if dErrors.HasCode(err, dErrors.CodeNotFound) {
			return credential.Claims{}, models.AnchorRecord{}, dErrors.New(dErrors.CodeNotFound,
				fmt.Sprintf("token %s has never been anchored", tokenID))
		}
		return credential.Claims{}, models.AnchorRecord{}, dErrors.Wrap(err, dErrors.CodeInternal, "read anchor")
	}
	data, err := s.blobs.Get(ctx, anchor.DatasetURI)
	if err != nil {
		return credential.Claims{}, models.AnchorRecord{}, dErrors.Wrap(err, dErrors.CodeInternal, "fetch dataset")
	}
	if got := Fingerprint(string(data)); got != anchor.PayloadFingerprint {
		return credential.Claims{}, models.AnchorRecord{}, dErrors.New(dErrors.CodeConsistency,
			fmt.Sprintf("dataset at %s does not match its anchor fingerprint", anchor.DatasetURI))
	}
	claims, err := credential.Decode(string(data))
	if err != nil {
		return credential.Claims{}, models.AnchorRecord{}, dErrors.Wrap(err, dErrors.CodeInternal, "decode dataset")
	}
	return claims, anchor, nil
}

// WalkChain resolves a token's version history, newest first. Breaks in
// the chain are reported on the entry where they were observed; the walk
// keeps going where it can so history stays visible around a broken link.
func (s *Service) WalkChain(ctx context.Context, tokenID string) ([]models.ChainEntry, error) {
	anchor, err := s.ledger.GetAnchor(ctx, tokenID)
	if err != nil {
		if dErrors.HasCode(err, dErrors.CodeNotFound) {
			return nil, dErrors.New(dErrors.CodeNotFound,
				fmt.Sprintf("token %s has never been anchored", tokenID))
		}
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "read anchor")
	}

	entries := make([]models.ChainEntry, 0, anchor.Version)
	uri := anchor.DatasetURI
	expectedFingerprint := anchor.PayloadFingerprint
	version := anchor.Version

	for depth := 0; depth < maxChainDepth; depth++ {
		entry := models.ChainEntry{Version: version, DatasetURI: uri, Fingerprint: expectedFingerprint}

		data, err := s.blobs.Get(ctx, uri)
		if err != nil {
			entry.ChainBroken = true
			entry.Reason = "dataset unreachable"
			entries = append(entries, entry)
			return entries, nil
		}
		if got := Fingerprint(string(data)); got != expectedFingerprint {
			entry.ChainBroken = true
			entry.Reason = "dataset does not match fingerprint"
		}

		link, decodeErr := extractChainLink(string(data))
		switch {
		case decodeErr != nil:
			entry.ChainBroken = true
			entry.Reason = "dataset is not a decodable passport"
			entries = append(entries, entry)
			return entries, nil
		case link == nil:
			if version != 1 && !entry.ChainBroken {
				entry.ChainBroken = true
				entry.Reason = fmt.Sprintf("chain ends at version %d without a back link", version)
			}
			entries = append(entries, entry)
			return entries, nil
		case link.Version != version-1:
			entry.ChainBroken = true
			entry.Reason = fmt.Sprintf("back link claims version %d, expected %d", link.Version, version-1)
		}

		entries = append(entries, entry)
		uri = link.PreviousURI
		expectedFingerprint = link.PreviousFingerprint
		version = link.Version
	}
	return entries, dErrors.New(dErrors.CodeConsistency,
		fmt.Sprintf("version chain for %s exceeds %d links", tokenID, maxChainDepth))
}

func chainLinkDocument(link models.VersionChainLink) (map[string]any, error) {
	raw, err := json.Marshal(link)
	if err != nil {
		return nil, err
	}
	var doc map[string]any
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, err
	}
	return doc, nil
}

func extractChainLink(jwtCompact string) (*models.VersionChainLink, error) {
	claims, err := credential.Decode(jwtCompact)
	if err != nil {
		return nil, err
	}
	if claims.Body.Kind != credential.KindPassport {
		return nil, fmt.Errorf("dataset is not a passport")
	}
	raw, ok := claims.Body.Passport[models.ChainLinkKey]
	if !ok {
		return nil, nil
	}
	encoded, err := json.Marshal(raw)
	if err != nil {
		return nil, err
	}
	var link models.VersionChainLink
	if err := json.Unmarshal(encoded, &link); err != nil {
		return nil, err
	}
	return &link, nil
}
