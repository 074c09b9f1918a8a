// Package identity defines the opaque identifiers the transport layer hands
// to the router: participants, writer GUIDs, sequence numbers and the
// sample identities used to address replies.
package identity

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/google/uuid"
)

// ErrInvalidSampleIdentity is returned when parsing a malformed identity.
var ErrInvalidSampleIdentity = errors.New("identity: invalid sample identity")

// ParticipantID names one side of the bridge (one communication domain).
type ParticipantID string

func (p ParticipantID) String() string { return string(p) }

// SequenceNumber is a per-writer monotonically increasing counter.
type SequenceNumber uint64

// GUID identifies one endpoint (reader or writer) globally.
type GUID uuid.UUID

// NewGUID returns a random GUID.
func NewGUID() GUID {
	return GUID(uuid.New())
}

// ParseGUID parses the canonical textual form.
func ParseGUID(s string) (GUID, error) {
	u, err := uuid.Parse(s)
	if err != nil {
		return GUID{}, err
	}
	return GUID(u), nil
}

// IsZero reports whether g is unset.
func (g GUID) IsZero() bool {
	return g == GUID{}
}

func (g GUID) String() string {
	return uuid.UUID(g).String()
}

// SampleIdentity identifies one sample: the writer that produced it and the
// sequence number the writer assigned. Replies are addressed to the sample
// identity of the request they answer.
type SampleIdentity struct {
	Writer   GUID
	Sequence SequenceNumber
}

// IsZero reports whether the identity is unset.
func (s SampleIdentity) IsZero() bool {
	return s == SampleIdentity{}
}

// String renders "<guid>:<sequence>".
func (s SampleIdentity) String() string {
	return s.Writer.String() + ":" + strconv.FormatUint(uint64(s.Sequence), 10)
}

// ParseSampleIdentity parses the form produced by String.
func ParseSampleIdentity(s string) (SampleIdentity, error) {
	guid, seq, ok := strings.Cut(s, ":")
	if !ok {
		return SampleIdentity{}, fmt.Errorf("%w: %q", ErrInvalidSampleIdentity, s)
	}
	g, err := ParseGUID(guid)
	if err != nil {
		return SampleIdentity{}, fmt.Errorf("%w: %v", ErrInvalidSampleIdentity, err)
	}
	n, err := strconv.ParseUint(seq, 10, 64)
	if err != nil {
		return SampleIdentity{}, fmt.Errorf("%w: %v", ErrInvalidSampleIdentity, err)
	}
	return SampleIdentity{Writer: g, Sequence: SequenceNumber(n)}, nil
}
