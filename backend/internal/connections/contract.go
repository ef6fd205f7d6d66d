// Package connections executes ABI-encoded calls against the follow graph.
//
// Every call, direct or relayed, goes through Execute: the forwarder resolver
// picks the acting address, the selector picks the method, a gas meter bounds
// the work, and committed changes become events.
package connections

import (
	"context"
	"fmt"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"go.uber.org/zap"

	"social-connections/backend/internal/constants"
	"social-connections/backend/internal/events"
	"social-connections/backend/internal/forwarder"
	"social-connections/backend/internal/graph"
	apperrors "social-connections/backend/pkg/errors"
	"social-connections/backend/pkg/logger"
)

// Call is one request as delivered by the transport
type Call struct {
	From common.Address // immediate sender
	Data []byte         // ABI calldata, suffixed with the original sender when From is the forwarder
	Gas  uint64         // zero uses the contract default
}

// Receipt describes a completed call
type Receipt struct {
	Method    string         `json:"method"`
	Acting    common.Address `json:"acting"`
	Forwarded bool           `json:"forwarded"`
	GasUsed   uint64         `json:"gas_used"`
	Return    hexutil.Bytes  `json:"return,omitempty"`
	Events    []events.Event `json:"events"`
}

// Contract binds the resolver, the store and the event sink
type Contract struct {
	resolver *forwarder.Resolver
	store    *graph.Store
	sink     events.Sink
	gasLimit uint64
	logger   *zap.Logger
}

// NewContract creates a contract. A nil sink drops events; gasLimit zero
// fits a follow of the store's largest batch.
func NewContract(resolver *forwarder.Resolver, store *graph.Store, sink events.Sink, gasLimit uint64) *Contract {
	if gasLimit == 0 {
		gasLimit = constants.GasLimitFor(store.MaxBatchSize())
	}
	return &Contract{
		resolver: resolver,
		store:    store,
		sink:     sink,
		gasLimit: gasLimit,
		logger:   logger.Named("contract"),
	}
}

// Resolver returns the caller resolver
func (c *Contract) Resolver() *forwarder.Resolver {
	return c.resolver
}

// Pack encodes calldata for a contract method
func (c *Contract) Pack(method string, args ...interface{}) ([]byte, error) {
	data, err := ParsedABI.Pack(method, args...)
	if err != nil {
		return nil, apperrors.NewMalformedCall(fmt.Sprintf("cannot encode %s", method), err)
	}
	return data, nil
}

// Execute runs one call
func (c *Contract) Execute(ctx context.Context, call Call) (*Receipt, error) {
	resolved, err := c.resolver.Resolve(forwarder.Request{Sender: call.From, Payload: call.Data})
	if err != nil {
		return nil, err
	}

	method, args, err := decode(resolved.Payload)
	if err != nil {
		return nil, err
	}

	receipt := &Receipt{
		Method:    method.Name,
		Acting:    resolved.Acting,
		Forwarded: resolved.Forwarded,
	}

	switch method.Name {
	case MethodGetUser:
		user := c.store.GetUser(args[0].(common.Address))
		ret, err := method.Outputs.Pack(user.Following, user.Followers)
		if err != nil {
			return nil, fmt.Errorf("failed to encode getUser result: %w", err)
		}
		receipt.Return = ret
		return receipt, nil

	case MethodIsTrustedForwarder:
		ret, err := method.Outputs.Pack(c.resolver.IsTrustedForwarder(args[0].(common.Address)))
		if err != nil {
			return nil, fmt.Errorf("failed to encode isTrustedForwarder result: %w", err)
		}
		receipt.Return = ret
		return receipt, nil
	}

	gas := call.Gas
	if gas == 0 {
		gas = c.defaultGas(method.Name, resolved.Acting)
	}
	meter := graph.NewGasMeter(gas)
	if err := meter.Charge(method.Name, constants.CallBaseGas); err != nil {
		return nil, err
	}
	metered := graph.WithMeter(ctx, meter)

	var changes []graph.Change
	switch method.Name {
	case MethodFollow:
		changes, err = c.store.Follow(metered, resolved.Acting, args[0].([]common.Address))
	case MethodUnfollow:
		changes, err = c.store.Unfollow(metered, resolved.Acting, args[0].([]common.Address))
	case MethodUnfollowAll:
		changes, err = c.store.UnfollowAll(metered, resolved.Acting)
	default:
		return nil, apperrors.NewMalformedCall(fmt.Sprintf("method %s is not callable", method.Name), nil)
	}
	if err != nil {
		return nil, err
	}

	receipt.GasUsed = meter.Used()
	receipt.Events = events.FromChanges(changes, resolved.Forwarded)
	c.publish(ctx, receipt)

	return receipt, nil
}

// defaultGas is the limit for calls that name none. unfollowAll is sized to
// the actor's current following, plus room for one concurrent batch, so an
// account can always leave however many addresses it follows.
func (c *Contract) defaultGas(method string, acting common.Address) uint64 {
	if method != MethodUnfollowAll {
		return c.gasLimit
	}
	following, _ := c.store.Counts(acting)
	need := constants.CallBaseGas +
		uint64(following+c.store.MaxBatchSize())*constants.UnfollowGasPerTarget
	if need > c.gasLimit {
		return need
	}
	return c.gasLimit
}

// GasLimit returns the default limit for follow and unfollow calls
func (c *Contract) GasLimit() uint64 {
	return c.gasLimit
}

// publish hands events to the sink. The call has already committed, so a
// sink failure is logged and not returned.
func (c *Contract) publish(ctx context.Context, receipt *Receipt) {
	if c.sink == nil || len(receipt.Events) == 0 {
		return
	}
	if err := c.sink.Publish(ctx, receipt.Events); err != nil {
		c.logger.Error("Failed to publish events",
			zap.String("method", receipt.Method),
			zap.String("acting", receipt.Acting.Hex()),
			zap.Int("events", len(receipt.Events)),
			zap.Error(err),
		)
	}
}

func decode(payload []byte) (*abi.Method, []interface{}, error) {
	if len(payload) < 4 {
		return nil, nil, apperrors.NewMalformedCall("missing method selector", nil)
	}
	method, err := ParsedABI.MethodById(payload[:4])
	if err != nil {
		return nil, nil, apperrors.NewMalformedCall("unknown method selector", err)
	}
	args, err := method.Inputs.Unpack(payload[4:])
	if err != nil {
		return nil, nil, apperrors.NewMalformedCall(fmt.Sprintf("cannot decode %s arguments", method.Name), err)
	}
	return method, args, nil
}

// ============================================================================
// Typed helpers
// ============================================================================

// Follow calls follow(targets) as from
func (c *Contract) Follow(ctx context.Context, from common.Address, targets []common.Address) (*Receipt, error) {
	return c.call(ctx, from, MethodFollow, nonNil(targets))
}

// Unfollow calls unfollow(targets) as from
func (c *Contract) Unfollow(ctx context.Context, from common.Address, targets []common.Address) (*Receipt, error) {
	return c.call(ctx, from, MethodUnfollow, nonNil(targets))
}

// UnfollowAll calls unfollowAll() as from
func (c *Contract) UnfollowAll(ctx context.Context, from common.Address) (*Receipt, error) {
	return c.call(ctx, from, MethodUnfollowAll)
}

// GetUser calls getUser(user) and decodes the result
func (c *Contract) GetUser(ctx context.Context, user common.Address) (graph.User, error) {
	// views ignore the sender; the zero address never carries a forwarder suffix
	receipt, err := c.call(ctx, common.Address{}, MethodGetUser, user)
	if err != nil {
		return graph.User{}, err
	}
	return DecodeUser(user, receipt.Return)
}

// DecodeUser unpacks getUser return data
func DecodeUser(user common.Address, ret []byte) (graph.User, error) {
	out, err := ParsedABI.Unpack(MethodGetUser, ret)
	if err != nil {
		return graph.User{}, apperrors.NewMalformedCall("cannot decode getUser result", err)
	}
	return graph.User{
		Address:   user,
		Following: out[0].([]common.Address),
		Followers: out[1].([]common.Address),
	}, nil
}

func (c *Contract) call(ctx context.Context, from common.Address, method string, args ...interface{}) (*Receipt, error) {
	data, err := c.Pack(method, args...)
	if err != nil {
		return nil, err
	}
	return c.Execute(ctx, Call{From: from, Data: data})
}

func nonNil(targets []common.Address) []common.Address {
	if targets == nil {
		return []common.Address{}
	}
	return targets
}
