package action

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"

	"AgneticGOD/internal/audit"
	xerrors "AgneticGOD/internal/errors"
	"AgneticGOD/internal/llm"
	"AgneticGOD/internal/observability/metrics"
	"AgneticGOD/internal/wallet"
	"AgneticGOD/pkg/logger"
)

// Operation names exposed to the decision oracle.
const (
	OpCheckDeposit = "check_deposit"
	OpSwap         = "swap"
	OpConfiscate   = "confiscate"
)

const defaultReceiptTimeout = 2 * time.Minute

// hookABI declares the three hook contract entry points the registry calls.
const hookABI = `[
	{"type":"function","name":"check_deposit","stateMutability":"view",
	 "inputs":[{"name":"user","type":"address"}],
	 "outputs":[{"name":"","type":"bool"}]},
	{"type":"function","name":"swap","stateMutability":"nonpayable",
	 "inputs":[{"name":"user","type":"address"},{"name":"token","type":"address"}],
	 "outputs":[{"name":"","type":"uint128"},{"name":"","type":"uint256"}]},
	{"type":"function","name":"confiscate","stateMutability":"nonpayable",
	 "inputs":[{"name":"user","type":"address"},{"name":"token","type":"address"}],
	 "outputs":[{"name":"","type":"uint128"},{"name":"","type":"uint256"}]}
]`

// Kind classifies a Result.
type Kind string

const (
	KindOK         Kind = "ok"
	KindValidation Kind = "validation_error"
	KindExecution  Kind = "execution_error"
)

// Request is one invocation asked for by the oracle. It is consumed exactly
// once and never retried.
type Request struct {
	ID        string
	Operation string
	Arguments map[string]any
}

// Result is the immutable outcome of an invocation. Payload is the text fed
// back to the oracle.
type Result struct {
	RequestID   string
	Operation   string
	Success     bool
	Kind        Kind
	Payload     string
	TxHash      string
	UserAddress string
}

// Config carries the contract addresses the actions target.
type Config struct {
	HookAddress    string
	TokenAddress   string
	ReceiptTimeout time.Duration
}

// Option customises a Registry.
type Option func(*Registry)

// WithPublisher sends an audit event for every invocation.
func WithPublisher(p audit.Publisher) Option {
	return func(r *Registry) {
		if p != nil {
			r.publisher = p
		}
	}
}

// WithAuditLogger overrides the logger receiving state-changing results.
func WithAuditLogger(l *slog.Logger) Option {
	return func(r *Registry) {
		if l != nil {
			r.auditLog = l
		}
	}
}

// WithSessionID tags audit events with the conversation they belong to.
func WithSessionID(id string) Option {
	return func(r *Registry) {
		r.sessionID = id
	}
}

// Registry validates and executes the privileged wallet actions.
type Registry struct {
	bridge         wallet.Bridge
	hook           common.Address
	token          common.Address
	receiptTimeout time.Duration
	contract       abi.ABI

	publisher audit.Publisher
	auditLog  *slog.Logger
	log       *slog.Logger
	sessionID string
}

// NewRegistry binds the actions to bridge and the configured contracts.
func NewRegistry(bridge wallet.Bridge, cfg Config, opts ...Option) (*Registry, error) {
	if bridge == nil {
		return nil, xerrors.New(xerrors.CodeInitializationFailure, "wallet bridge is required")
	}
	if !common.IsHexAddress(cfg.HookAddress) {
		return nil, xerrors.New(xerrors.CodeConfiguration, fmt.Sprintf("invalid hook address %q", cfg.HookAddress))
	}
	if !common.IsHexAddress(cfg.TokenAddress) {
		return nil, xerrors.New(xerrors.CodeConfiguration, fmt.Sprintf("invalid token address %q", cfg.TokenAddress))
	}
	contract, err := abi.JSON(strings.NewReader(hookABI))
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeInitializationFailure, err, "parse hook abi")
	}

	r := &Registry{
		bridge:         bridge,
		hook:           common.HexToAddress(cfg.HookAddress),
		token:          common.HexToAddress(cfg.TokenAddress),
		receiptTimeout: cfg.ReceiptTimeout,
		contract:       contract,
		publisher:      audit.Discard{},
		auditLog:       logger.Audit(),
		log:            logger.Component("action"),
	}
	if r.receiptTimeout <= 0 {
		r.receiptTimeout = defaultReceiptTimeout
	}
	for _, opt := range opts {
		if opt != nil {
			opt(r)
		}
	}
	return r, nil
}

func userAddressParam() []llm.Parameter {
	return []llm.Parameter{{Name: "userAddress", Type: "string", Description: "The user's address", Required: true}}
}

// Specs declares the operations to the oracle.
func (r *Registry) Specs() []llm.ToolSpec {
	return []llm.ToolSpec{
		{Name: OpCheckDeposit, Description: "Check if the user has made a deposit", Parameters: userAddressParam()},
		{Name: OpSwap, Description: "Swap tokens", Parameters: userAddressParam()},
		{Name: OpConfiscate, Description: "Confiscate tokens", Parameters: userAddressParam()},
	}
}

// Validate checks the request against the operation's declared schema.
func (r *Registry) Validate(req Request) error {
	switch req.Operation {
	case OpCheckDeposit, OpSwap, OpConfiscate:
	default:
		return xerrors.New(xerrors.CodeActionValidation, fmt.Sprintf("unknown operation %q", req.Operation))
	}
	raw, ok := req.Arguments["userAddress"]
	if !ok || raw == nil {
		return xerrors.New(xerrors.CodeActionValidation, "userAddress is required")
	}
	addr, ok := raw.(string)
	if !ok {
		return xerrors.New(xerrors.CodeActionValidation, "userAddress must be a string")
	}
	if !common.IsHexAddress(strings.TrimSpace(addr)) {
		return xerrors.New(xerrors.CodeActionValidation, fmt.Sprintf("userAddress %q is not a valid address", addr))
	}
	return nil
}

// Invoke runs the request and always returns a Result; failures are
// reported in the payload so the oracle can narrate them.
func (r *Registry) Invoke(ctx context.Context, req Request) Result {
	if req.ID == "" {
		req.ID = uuid.NewString()
	}
	start := time.Now()

	var res Result
	if err := r.Validate(req); err != nil {
		res = r.rejected(req, err)
	} else {
		user := strings.TrimSpace(req.Arguments["userAddress"].(string))
		switch req.Operation {
		case OpCheckDeposit:
			res = r.checkDeposit(ctx, req, user)
		default:
			res = r.submitAndConfirm(ctx, req, user)
		}
	}

	metrics.ObserveAction(operationLabel(req.Operation), string(res.Kind), time.Since(start))
	r.record(ctx, req, res)
	return res
}

// operationLabel keeps the metric label set fixed: names the model invents
// are counted as "unknown".
func operationLabel(op string) string {
	switch op {
	case OpCheckDeposit, OpSwap, OpConfiscate:
		return op
	default:
		return "unknown"
	}
}

func (r *Registry) rejected(req Request, err error) Result {
	msg := err.Error()
	if e, ok := xerrors.From(err); ok {
		msg = e.Message()
	}
	return Result{
		RequestID: req.ID,
		Operation: req.Operation,
		Kind:      KindValidation,
		Payload:   fmt.Sprintf("Invalid request for %s: %s", req.Operation, msg),
	}
}

func (r *Registry) checkDeposit(ctx context.Context, req Request, user string) Result {
	res := Result{RequestID: req.ID, Operation: req.Operation, UserAddress: user}

	out, err := r.bridge.ReadContract(ctx, r.hook, r.contract, OpCheckDeposit, common.HexToAddress(user))
	if err == nil && len(out) != 1 {
		err = fmt.Errorf("expected one output, got %d", len(out))
	}
	var paid bool
	if err == nil {
		var ok bool
		if paid, ok = out[0].(bool); !ok {
			err = fmt.Errorf("unexpected output type %T", out[0])
		}
	}
	if err != nil {
		r.logFailure(req, err)
		res.Kind = KindExecution
		res.Payload = fmt.Sprintf("Error checking deposit for %s: %v", user, err)
		return res
	}

	res.Success = true
	res.Kind = KindOK
	if paid {
		res.Payload = fmt.Sprintf("The user %s has paid their deposit.", user)
	} else {
		res.Payload = fmt.Sprintf("The user %s has not paid their deposit.", user)
	}
	return res
}

// submitAndConfirm is shared by swap and confiscate: one submission, then a
// bounded wait for the receipt. A submission error returns immediately.
func (r *Registry) submitAndConfirm(ctx context.Context, req Request, user string) Result {
	res := Result{RequestID: req.ID, Operation: req.Operation, UserAddress: user}

	data, err := r.contract.Pack(req.Operation, common.HexToAddress(user), r.token)
	if err != nil {
		return r.transferFailed(req, res, err)
	}
	hash, err := r.bridge.SendTransaction(ctx, r.hook, data)
	if err != nil {
		return r.transferFailed(req, res, err)
	}
	res.TxHash = hash.Hex()

	waitCtx, cancel := context.WithTimeout(ctx, r.receiptTimeout)
	defer cancel()
	if _, err := r.bridge.WaitForReceipt(waitCtx, hash); err != nil {
		if errors.Is(err, context.DeadlineExceeded) && ctx.Err() == nil {
			err = fmt.Errorf("no receipt for %s within %s", hash.Hex(), r.receiptTimeout)
		}
		return r.transferFailed(req, res, err)
	}

	res.Success = true
	res.Kind = KindOK
	res.Payload = "Transaction hash for the transfer: " + hash.Hex()
	return res
}

func (r *Registry) transferFailed(req Request, res Result, err error) Result {
	r.logFailure(req, err)
	res.Kind = KindExecution
	res.Payload = fmt.Sprintf("Error transferring the asset: %v", err)
	return res
}

func (r *Registry) logFailure(req Request, err error) {
	r.log.Warn("action failed",
		slog.String("request_id", req.ID),
		slog.String("operation", req.Operation),
		slog.String("code", string(xerrors.CodeActionExecution)),
		slog.Any("error", err))
}

func (r *Registry) record(ctx context.Context, req Request, res Result) {
	user := res.UserAddress
	if user == "" {
		user, _ = req.Arguments["userAddress"].(string)
	}

	if req.Operation == OpSwap || req.Operation == OpConfiscate {
		r.auditLog.Info("on-chain action",
			slog.String("request_id", res.RequestID),
			slog.String("operation", res.Operation),
			slog.String("user", user),
			slog.String("kind", string(res.Kind)),
			slog.Bool("success", res.Success),
			slog.String("tx_hash", res.TxHash))
	}

	_ = r.publisher.Publish(ctx, audit.NewEvent(audit.Event{
		SessionID:   r.sessionID,
		RequestID:   res.RequestID,
		Operation:   res.Operation,
		UserAddress: user,
		Kind:        string(res.Kind),
		Success:     res.Success,
		TxHash:      res.TxHash,
		Payload:     res.Payload,
	}))
}
