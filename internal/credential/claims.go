// Package credential builds, signs and verifies the compact three-part
// credential envelopes that carry product passports and traceability events.
package credential

import (
	"encoding/json"
	"fmt"
	"time"

	dErrors "passport-gateway/pkg/domain-errors"
)

// SubjectKind tags the closed set of credential subject shapes.
type SubjectKind string

const (
	// KindPassport is a digital product passport subject.
	KindPassport SubjectKind = "dpp"
	// KindEvent is a digital traceability event subject.
	KindEvent SubjectKind = "dte"
)

const (
	typeVerifiableCredential = "VerifiableCredential"
	typePassport             = "DigitalProductPassport"
	typeEvent                = "DigitalTraceabilityEvent"
)

// ProductRef points at a product by identifier, optionally qualified by
// batch or serial.
type ProductRef struct {
	ProductID string `json:"productId"`
	Batch     string `json:"batch,omitempty"`
	Serial    string `json:"serial,omitempty"`
}

// QuantityRef is a quantified product reference on an event.
type QuantityRef struct {
	ProductID string  `json:"productId"`
	Quantity  float64 `json:"quantity"`
	UOM       string  `json:"uom,omitempty"`
}

// EventBody is the structured subject of a traceability event. Role lists
// follow EPCIS-style grouping.
type EventBody struct {
	EventID   string        `json:"eventId"`
	EventType string        `json:"eventType"`
	EventTime time.Time     `json:"eventTime"`
	Outputs   []ProductRef  `json:"outputs,omitempty"`
	Inputs    []ProductRef  `json:"inputs,omitempty"`
	EPCList   []string      `json:"epcList,omitempty"`
	Parent    *ProductRef   `json:"parent,omitempty"`
	Children  []ProductRef  `json:"children,omitempty"`
	Quantity  []QuantityRef `json:"quantityList,omitempty"`
}

// SubjectBody is the tagged variant over the known subject shapes: exactly
// one of Passport or Event is populated, selected by Kind.
type SubjectBody struct {
	Kind     SubjectKind
	Passport map[string]any
	Event    *EventBody
}

// Validate checks the subject against its declared shape. This is the
// structural schema check the verification pipeline reports as schemaValid.
func (b SubjectBody) Validate() error {
	switch b.Kind {
	case KindPassport:
		if b.Passport == nil {
			return dErrors.New(dErrors.CodeInvalidInput, "passport subject is empty")
		}
		return nil
	case KindEvent:
		if b.Event == nil {
			return dErrors.New(dErrors.CodeInvalidInput, "event subject is empty")
		}
		if b.Event.EventID == "" || b.Event.EventType == "" {
			return dErrors.New(dErrors.CodeInvalidInput, "event requires eventId and eventType")
		}
		if len(b.Event.Outputs) == 0 && len(b.Event.Inputs) == 0 && len(b.Event.EPCList) == 0 &&
			b.Event.Parent == nil && len(b.Event.Children) == 0 && len(b.Event.Quantity) == 0 {
			return dErrors.New(dErrors.CodeInvalidInput, "event references no products")
		}
		return nil
	}
	return dErrors.New(dErrors.CodeInvalidInput, fmt.Sprintf("unknown subject kind %q", b.Kind))
}

// Claims is the logical claim set of a credential before signing.
type Claims struct {
	Issuer    string
	Subject   string
	ID        string
	IssuedAt  time.Time
	ExpiresAt time.Time // zero means no expiry
	Body      SubjectBody
}

func (c Claims) credentialTypes() []string {
	switch c.Body.Kind {
	case KindEvent:
		return []string{typeVerifiableCredential, typeEvent}
	default:
		return []string{typeVerifiableCredential, typePassport}
	}
}

func (c Claims) subjectDocument() (map[string]any, error) {
	switch c.Body.Kind {
	case KindPassport:
		return c.Body.Passport, nil
	case KindEvent:
		raw, err := json.Marshal(c.Body.Event)
		if err != nil {
			return nil, fmt.Errorf("marshal event subject: %w", err)
		}
		var doc map[string]any
		if err := json.Unmarshal(raw, &doc); err != nil {
			return nil, fmt.Errorf("decode event subject: %w", err)
		}
		return doc, nil
	}
	return nil, fmt.Errorf("unknown subject kind %q", c.Body.Kind)
}

// MergePatch applies an update patch to a passport subject document.
//
// The merge is asymmetric on purpose, matching the documented update
// semantics: object fields merge recursively, array fields are replaced
// wholesale. Changing this silently would shift the meaning of every
// existing update, so don't.
func MergePatch(base, patch map[string]any) map[string]any {
	merged := make(map[string]any, len(base)+len(patch))
	for k, v := range base {
		merged[k] = v
	}
	for k, patchVal := range patch {
		baseVal, exists := merged[k]
		patchObj, patchIsObj := patchVal.(map[string]any)
		baseObj, baseIsObj := baseVal.(map[string]any)
		if exists && patchIsObj && baseIsObj {
			merged[k] = MergePatch(baseObj, patchObj)
			continue
		}
		merged[k] = patchVal
	}
	return merged
}
