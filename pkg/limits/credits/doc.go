// Package credits implements the pre-paid credit ledger.
//
// Balances are a materialized projection of an append-only transaction log:
// the available balance always equals the sum of a principal's entries.
// Use Reconcile to verify it.
//
//	ledger, _ := credits.NewLedger(store, credits.Config{}, nil)
//	_, err := ledger.Credit(ctx, "user-1", 100, storage.TxPurchase, "evt_123", "starter pack")
//	res, err := ledger.Debit(ctx, "user-1", 3, "op-42", nil)
//	var insufficient *credits.InsufficientCreditsError
//	if errors.As(err, &insufficient) {
//	    // show insufficient.Required and insufficient.Available
//	}
//	// operation failed downstream:
//	_, err = ledger.Refund(ctx, "user-1", 3, "op-42", "")
package credits
