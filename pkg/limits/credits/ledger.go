package credits

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"leadlove-hq/meter/pkg/limits/storage"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
)

var tracer = otel.Tracer("leadlove-hq/meter/limits/credits")

// DefaultRefundDescription is used when Refund is called without one.
const DefaultRefundDescription = "refund for failed operation"

// Ledger manages pre-paid credit balances.
//
// Every mutation writes a balance change and its transaction entry together.
// Debits are guarded by the store so concurrent callers can never overdraw
// a balance. Refunds and credits are idempotent per reference id.
//
// Unlike the rate limiter, the ledger fails closed: a storage failure is
// returned to the caller as an error matching storage.ErrStoreUnavailable.
type Ledger struct {
	store      storage.LedgerStore
	observer   Observer
	logger     *slog.Logger
	lowBalance int64
	now        func() time.Time
}

// NewLedger creates a ledger backed by store. A nil observer discards
// events.
func NewLedger(store storage.LedgerStore, cfg Config, observer Observer) (*Ledger, error) {
	if store == nil {
		return nil, errors.New("ledger store cannot be nil")
	}
	if cfg.LowBalanceThreshold < 0 {
		return nil, fmt.Errorf("low balance threshold cannot be negative, got %d", cfg.LowBalanceThreshold)
	}
	if observer == nil {
		observer = nopObserver{}
	}

	return &Ledger{
		store:      store,
		observer:   observer,
		logger:     slog.Default().With("component", "limits.credits"),
		lowBalance: cfg.LowBalanceThreshold,
		now:        time.Now,
	}, nil
}

// Debit charges amount credits to principal for the operation identified by
// referenceID.
//
// Returns *InsufficientCreditsError when the balance is below amount; the
// balance is unchanged. A repeated debit for the same reference is a no-op
// reported with Result.Duplicate.
func (l *Ledger) Debit(ctx context.Context, principal string, amount int64, referenceID string, metadata map[string]string) (*Result, error) {
	if err := validate(principal, amount); err != nil {
		return nil, err
	}

	ctx, span := tracer.Start(ctx, "credits.Debit")
	defer span.End()
	span.SetAttributes(attribute.Int64("meter.credits.amount", amount))

	tx := &storage.Transaction{
		PrincipalID: principal,
		Amount:      -amount,
		Type:        storage.TxUsage,
		ReferenceID: referenceOrNew(referenceID),
		Description: "usage",
		Metadata:    metadata,
		CreatedAt:   l.now(),
	}

	bal, err := l.store.Debit(ctx, tx)
	var balErr *storage.BalanceError
	switch {
	case err == nil:
		l.observer.ObserveDebit(amount)
		return l.result(tx, bal), nil

	case errors.As(err, &balErr):
		l.observer.ObserveInsufficient()
		l.logger.Debug("debit rejected",
			"principal", principal,
			"required", balErr.Required,
			"available", balErr.Available,
		)
		return nil, &InsufficientCreditsError{
			PrincipalID: principal,
			Required:    balErr.Required,
			Available:   balErr.Available,
		}

	case errors.Is(err, storage.ErrDuplicateReference):
		l.logger.Debug("duplicate debit ignored", "principal", principal, "reference_id", tx.ReferenceID)
		return &Result{Balance: bal, Duplicate: true}, nil

	default:
		span.RecordError(err)
		l.logger.Error("debit failed",
			"principal", principal,
			"reference_id", tx.ReferenceID,
			"error", err,
		)
		return nil, fmt.Errorf("failed to debit credits: %w", err)
	}
}

// Refund returns credits to principal for a failed operation. Only
// references with a usage entry for the same principal can be refunded,
// and never for more than was debited. At most one refund is recorded per
// reference; repeats are reported with Result.Duplicate.
func (l *Ledger) Refund(ctx context.Context, principal string, amount int64, referenceID, description string) (*Result, error) {
	if err := validate(principal, amount); err != nil {
		return nil, err
	}
	if referenceID == "" {
		return nil, fmt.Errorf("%w: reference id is required", ErrNoUsage)
	}
	if description == "" {
		description = DefaultRefundDescription
	}

	ctx, span := tracer.Start(ctx, "credits.Refund")
	defer span.End()

	usage, err := l.store.FindByReference(ctx, referenceID, storage.TxUsage)
	if err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("failed to look up usage entry: %w", err)
	}
	if usage == nil || usage.PrincipalID != principal {
		l.logger.Warn("refund without matching usage entry", "principal", principal, "reference_id", referenceID)
		return nil, fmt.Errorf("%w: %s", ErrNoUsage, referenceID)
	}
	if debited := -usage.Amount; amount > debited {
		l.logger.Warn("refund exceeds debit, capping",
			"principal", principal,
			"reference_id", referenceID,
			"refund_amount", amount,
			"usage_amount", debited,
		)
		amount = debited
	}

	tx := &storage.Transaction{
		PrincipalID: principal,
		Amount:      amount,
		Type:        storage.TxRefund,
		ReferenceID: referenceID,
		Description: description,
		CreatedAt:   l.now(),
	}

	bal, err := l.store.Deposit(ctx, tx)
	switch {
	case err == nil:
		l.observer.ObserveRefund(amount)
		l.logger.Info("credits refunded", "principal", principal, "amount", amount, "reference_id", referenceID)
		return l.result(tx, bal), nil

	case errors.Is(err, storage.ErrDuplicateReference):
		l.logger.Debug("duplicate refund ignored", "principal", principal, "reference_id", referenceID)
		return &Result{Balance: bal, Duplicate: true}, nil

	default:
		span.RecordError(err)
		l.logger.Error("refund failed", "principal", principal, "reference_id", referenceID, "error", err)
		return nil, fmt.Errorf("failed to refund credits: %w", err)
	}
}

// Credit adds purchased, refilled or bonus credits. Duplicate deliveries of
// the same billing event are no-ops reported with Result.Duplicate.
func (l *Ledger) Credit(ctx context.Context, principal string, amount int64, txType storage.TransactionType, referenceID, description string) (*Result, error) {
	if err := validate(principal, amount); err != nil {
		return nil, err
	}
	switch txType {
	case storage.TxPurchase, storage.TxRefill, storage.TxBonus:
	default:
		return nil, fmt.Errorf("%w: %q (must be purchase, refill or bonus)", ErrInvalidType, txType)
	}

	ctx, span := tracer.Start(ctx, "credits.Credit")
	defer span.End()
	span.SetAttributes(
		attribute.String("meter.credits.type", string(txType)),
		attribute.Int64("meter.credits.amount", amount),
	)

	tx := &storage.Transaction{
		PrincipalID: principal,
		Amount:      amount,
		Type:        txType,
		ReferenceID: referenceOrNew(referenceID),
		Description: description,
		CreatedAt:   l.now(),
	}

	bal, err := l.store.Deposit(ctx, tx)
	switch {
	case err == nil:
		l.observer.ObserveCredit(txType, amount)
		l.logger.Info("credits added",
			"principal", principal,
			"type", txType,
			"amount", amount,
			"reference_id", tx.ReferenceID,
		)
		return l.result(tx, bal), nil

	case errors.Is(err, storage.ErrDuplicateReference):
		l.logger.Info("duplicate credit event ignored", "principal", principal, "reference_id", tx.ReferenceID)
		return &Result{Balance: bal, Duplicate: true}, nil

	default:
		span.RecordError(err)
		l.logger.Error("credit failed", "principal", principal, "reference_id", tx.ReferenceID, "error", err)
		return nil, fmt.Errorf("failed to add credits: %w", err)
	}
}

// Balance returns the available credits for principal.
func (l *Ledger) Balance(ctx context.Context, principal string) (int64, error) {
	bal, err := l.Account(ctx, principal)
	if err != nil {
		return 0, err
	}
	return bal.Available, nil
}

// Account returns the full balance record for principal.
func (l *Ledger) Account(ctx context.Context, principal string) (*storage.Balance, error) {
	if principal == "" {
		return nil, ErrInvalidPrincipal
	}

	bal, err := l.store.GetBalance(ctx, principal)
	if err != nil {
		return nil, fmt.Errorf("failed to get balance: %w", err)
	}
	return bal, nil
}

// History returns the most recent transactions for principal, newest
// first. limit <= 0 returns all of them.
func (l *Ledger) History(ctx context.Context, principal string, limit int) ([]storage.Transaction, error) {
	if principal == "" {
		return nil, ErrInvalidPrincipal
	}

	txs, err := l.store.ListTransactions(ctx, principal, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list transactions: %w", err)
	}
	return txs, nil
}

// Reconcile checks that the available balance equals the sum of the
// principal's ledger entries.
func (l *Ledger) Reconcile(ctx context.Context, principal string) (*Reconciliation, error) {
	if principal == "" {
		return nil, ErrInvalidPrincipal
	}

	bal, err := l.store.GetBalance(ctx, principal)
	if err != nil {
		return nil, fmt.Errorf("failed to get balance: %w", err)
	}
	sum, err := l.store.SumTransactions(ctx, principal)
	if err != nil {
		return nil, fmt.Errorf("failed to sum transactions: %w", err)
	}

	rec := &Reconciliation{
		PrincipalID: principal,
		Available:   bal.Available,
		LedgerSum:   sum,
		Difference:  bal.Available - sum,
		Consistent:  bal.Available == sum,
		CheckedAt:   l.now(),
	}
	if !rec.Consistent {
		l.logger.Error("ledger out of balance",
			"principal", principal,
			"available", bal.Available,
			"ledger_sum", sum,
		)
	}
	return rec, nil
}

func (l *Ledger) result(tx *storage.Transaction, bal *storage.Balance) *Result {
	res := &Result{Transaction: tx, Balance: bal}
	if l.lowBalance > 0 && bal != nil && bal.Available <= l.lowBalance {
		res.LowBalance = true
		l.logger.Info("balance at or below threshold",
			"principal", bal.PrincipalID,
			"available", bal.Available,
			"threshold", l.lowBalance,
		)
	}
	return res
}

func validate(principal string, amount int64) error {
	if principal == "" {
		return ErrInvalidPrincipal
	}
	if amount <= 0 {
		return fmt.Errorf("%w: got %d", ErrInvalidAmount, amount)
	}
	return nil
}

func referenceOrNew(referenceID string) string {
	if referenceID == "" {
		return uuid.NewString()
	}
	return referenceID
}
