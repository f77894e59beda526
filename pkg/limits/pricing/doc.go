// Package pricing turns an operation name and its parameters into a credit
// cost.
//
// A price is a flat base plus an optional per-results component:
//
//	cost = base + ceil(results / per_results) * unit
//
// where results is read from the operation parameter named by
// results_param. With base 1, per_results 10 and unit 1, a leadlove_maps
// call with maxResults=20 costs 3 credits.
package pricing
