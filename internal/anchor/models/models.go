// Package models holds the anchoring data shapes shared by the anchor
// service, its ports and the verification pipeline.
package models

import "time"

// Granularity states what level of the product hierarchy a passport
// describes.
type Granularity string

const (
	GranularityProductClass Granularity = "ProductClass"
	GranularityBatch        Granularity = "Batch"
	GranularityItem         Granularity = "Item"
)

// AnchorStatus is the ledger-side lifecycle of an anchored token.
type AnchorStatus string

const (
	AnchorActive  AnchorStatus = "Active"
	AnchorRevoked AnchorStatus = "Revoked"
)

// AnchorRecord is the on-ledger commitment for one passport version. The
// ledger itself is external; this record is what reading it back yields.
// SubjectIDHash stays stable across versions of the same token.
type AnchorRecord struct {
	TokenID            string       `json:"tokenId"`
	DatasetURI         string       `json:"datasetUri"`
	PayloadFingerprint string       `json:"payloadFingerprint"`
	DatasetType        string       `json:"datasetType,omitempty"`
	Granularity        Granularity  `json:"granularity,omitempty"`
	SubjectIDHash      string       `json:"subjectIdHash,omitempty"`
	Status             AnchorStatus `json:"status,omitempty"`
	Version            int64        `json:"version"`
	AnchoredAt         time.Time    `json:"anchoredAt"`
	Account            string       `json:"account,omitempty"`
}

// VersionChainLink is embedded in each passport version after the first,
// pointing back at the dataset it superseded. The link is what lets a
// walker recompute history without trusting the blob store.
type VersionChainLink struct {
	PreviousURI         string `json:"previousUri"`
	PreviousFingerprint string `json:"previousFingerprint"`
	Version             int64  `json:"version"`
}

// ChainEntry is one step of a resolved version chain, newest first.
type ChainEntry struct {
	Version     int64  `json:"version"`
	DatasetURI  string `json:"datasetUri"`
	Fingerprint string `json:"fingerprint"`
	ChainBroken bool   `json:"chainBroken"`
	Reason      string `json:"reason,omitempty"`
}

// ChainLinkKey is the passport subject field carrying the VersionChainLink.
const ChainLinkKey = "versionChain"
