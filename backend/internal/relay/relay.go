// Package relay authenticates calls from users. Every mutating request is
// signed by its sender and carries the sender's next nonce; the relay checks
// the signature and either submits the call directly as the signer or
// forwards it as the trusted forwarder with the signer's address appended.
package relay

import (
	"context"
	"crypto/ecdsa"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/crypto"
	"go.uber.org/zap"

	"social-connections/backend/internal/connections"
	"social-connections/backend/internal/forwarder"
	"social-connections/backend/internal/graph"
	apperrors "social-connections/backend/pkg/errors"
	"social-connections/backend/pkg/logger"
)

// Kind says how a signed request reaches the contract
type Kind byte

const (
	// KindDirect executes with the signer as the immediate sender
	KindDirect Kind = 1
	// KindForwarded executes with the trusted forwarder as the immediate sender
	KindForwarded Kind = 2
)

var domainTag = []byte("SocialConnections.SignedCall")

// ForwardRequest is a call signed by its original sender
type ForwardRequest struct {
	From      common.Address `json:"from"`
	Nonce     uint64         `json:"nonce"`
	Data      hexutil.Bytes  `json:"data"`
	Gas       uint64         `json:"gas,omitempty"`
	Signature hexutil.Bytes  `json:"signature"`
}

// Hash is the digest the sender signs. It binds the request to one
// forwarder deployment and one submission kind.
func (r *ForwardRequest) Hash(fwd common.Address, kind Kind) common.Hash {
	return crypto.Keccak256Hash(
		domainTag,
		fwd.Bytes(),
		[]byte{byte(kind)},
		r.From.Bytes(),
		uint256Bytes(r.Nonce),
		uint256Bytes(r.Gas),
		r.Data,
	)
}

// Sign fills in the signature using key
func (r *ForwardRequest) Sign(key *ecdsa.PrivateKey, fwd common.Address, kind Kind) error {
	sig, err := crypto.Sign(r.Hash(fwd, kind).Bytes(), key)
	if err != nil {
		return err
	}
	r.Signature = sig
	return nil
}

func uint256Bytes(v uint64) []byte {
	return common.LeftPadBytes(new(big.Int).SetUint64(v).Bytes(), 32)
}

// Executor runs calls against the contract
type Executor interface {
	Execute(ctx context.Context, call connections.Call) (*connections.Receipt, error)
}

// NonceReader reports the next nonce expected from an account
type NonceReader interface {
	Nonce(addr common.Address) uint64
}

// Forwarder authenticates signed requests and submits them. Nonces are
// checked and advanced by the store in the same commit as the call.
type Forwarder struct {
	address  common.Address
	executor Executor
	nonces   NonceReader
	logger   *zap.Logger
}

// NewForwarder creates a forwarder that relays as address
func NewForwarder(address common.Address, executor Executor, nonces NonceReader) *Forwarder {
	return &Forwarder{
		address:  address,
		executor: executor,
		nonces:   nonces,
		logger:   logger.Named("relay"),
	}
}

// Address returns the forwarder's own address
func (f *Forwarder) Address() common.Address {
	return f.address
}

// Nonce returns the next nonce expected from addr
func (f *Forwarder) Nonce(addr common.Address) uint64 {
	return f.nonces.Nonce(addr)
}

// Submit relays req as the trusted forwarder
func (f *Forwarder) Submit(ctx context.Context, req ForwardRequest) (*connections.Receipt, error) {
	if err := f.verify(&req, KindForwarded); err != nil {
		return nil, err
	}
	return f.execute(ctx, req, connections.Call{
		From: f.address,
		Data: forwarder.AppendSender(req.Data, req.From),
		Gas:  req.Gas,
	})
}

// Direct executes req with its signer as the immediate sender. The forwarder
// address cannot be claimed this way.
func (f *Forwarder) Direct(ctx context.Context, req ForwardRequest) (*connections.Receipt, error) {
	if req.From == f.address {
		return nil, apperrors.NewInvalidMetaTransaction(req.From, "forwarder submissions must be relayed")
	}
	if err := f.verify(&req, KindDirect); err != nil {
		return nil, err
	}
	return f.execute(ctx, req, connections.Call{
		From: req.From,
		Data: req.Data,
		Gas:  req.Gas,
	})
}

func (f *Forwarder) execute(ctx context.Context, req ForwardRequest, call connections.Call) (*connections.Receipt, error) {
	receipt, err := f.executor.Execute(graph.WithNonce(ctx, req.From, req.Nonce), call)
	if err != nil {
		f.logger.Debug("Signed call failed",
			zap.String("from", req.From.Hex()),
			zap.Uint64("nonce", req.Nonce),
			zap.Error(err),
		)
		return nil, err
	}
	return receipt, nil
}

func (f *Forwarder) verify(req *ForwardRequest, kind Kind) error {
	if req.From == (common.Address{}) {
		return apperrors.NewInvalidMetaTransaction(req.From, "zero sender")
	}
	if len(req.Data) >= 4 {
		if method, err := connections.ParsedABI.MethodById(req.Data[:4]); err == nil && method.IsConstant() {
			return apperrors.NewInvalidMetaTransaction(req.From, "view calls need no signature")
		}
	}
	if len(req.Signature) != crypto.SignatureLength {
		return apperrors.NewInvalidMetaTransaction(req.From, "malformed signature")
	}

	sig := make([]byte, crypto.SignatureLength)
	copy(sig, req.Signature)
	if sig[crypto.RecoveryIDOffset] >= 27 {
		sig[crypto.RecoveryIDOffset] -= 27
	}

	pub, err := crypto.SigToPub(req.Hash(f.address, kind).Bytes(), sig)
	if err != nil {
		return apperrors.NewInvalidMetaTransaction(req.From, "unrecoverable signature")
	}
	if crypto.PubkeyToAddress(*pub) != req.From {
		return apperrors.NewInvalidMetaTransaction(req.From, "signer does not match sender")
	}
	return nil
}
