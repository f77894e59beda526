// Meter is the quota service in front of the lead generation backend.
//
// It enforces per-principal rate limits by endpoint category and keeps a
// prepaid credit ledger. Backends ask it to authorize an operation before
// running it and settle the outcome afterwards.
//
// Usage:
//
//	# Start the HTTP service
//	meter run --config /etc/meter/config.yaml
//
//	# Grant credits after a purchase
//	meter credits grant user-42 500 --ref order-9911
//
//	# Show a principal's balance and recent transactions
//	meter credits balance user-42
//	meter credits history user-42 --limit 20 -o json
//
//	# Show rate limit usage for an endpoint
//	meter limits status user-42 /api/leadlove/maps
//
//	# Purge expired windows once
//	meter sweep
package main

func main() {
	Execute()
}
