// Package forwarder decides which address a call acts for.
//
// A call sent by the trusted forwarder carries the original sender as the
// last 20 bytes of its payload. Any other sender acts for itself, and trailing
// bytes in its payload are never read as an identity.
package forwarder

import (
	"github.com/ethereum/go-ethereum/common"

	"social-connections/backend/internal/constants"
	apperrors "social-connections/backend/pkg/errors"
)

// Request is what the transport hands to the resolver
type Request struct {
	Sender  common.Address // immediate sender of the call
	Payload []byte         // calldata, possibly suffixed with the original sender
}

// Resolved is the outcome of resolving a request
type Resolved struct {
	Acting    common.Address
	Payload   []byte // payload with any forwarder suffix removed
	Forwarded bool
}

// Resolver maps requests to acting addresses
type Resolver struct {
	trusted common.Address
}

// NewResolver creates a resolver that trusts exactly one forwarder
func NewResolver(trusted common.Address) *Resolver {
	return &Resolver{trusted: trusted}
}

// TrustedForwarder returns the configured forwarder address
func (r *Resolver) TrustedForwarder() common.Address {
	return r.trusted
}

// IsTrustedForwarder reports whether addr is the configured forwarder
func (r *Resolver) IsTrustedForwarder(addr common.Address) bool {
	return addr == r.trusted
}

// Resolve returns the acting address and the payload meant for the graph
func (r *Resolver) Resolve(req Request) (Resolved, error) {
	if !r.IsTrustedForwarder(req.Sender) {
		return Resolved{Acting: req.Sender, Payload: req.Payload}, nil
	}

	n := len(req.Payload)
	if n < constants.AddressLength {
		return Resolved{}, apperrors.NewInvalidMetaTransaction(req.Sender, "payload shorter than sender suffix")
	}

	original := common.BytesToAddress(req.Payload[n-constants.AddressLength:])
	if original == (common.Address{}) {
		return Resolved{}, apperrors.NewInvalidMetaTransaction(req.Sender, "zero original sender")
	}

	return Resolved{
		Acting:    original,
		Payload:   req.Payload[:n-constants.AddressLength],
		Forwarded: true,
	}, nil
}

// AppendSender builds the payload a forwarder submits on behalf of from
func AppendSender(payload []byte, from common.Address) []byte {
	out := make([]byte, 0, len(payload)+constants.AddressLength)
	out = append(out, payload...)
	return append(out, from.Bytes()...)
}
