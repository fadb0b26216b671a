// Package consolidation builds enterprise-wide views across stores.
//
// Consolidate fetches every requested store's dataset from the central
// authority with bounded concurrency, computes per-store metrics, pairwise
// comparisons and insights, and persists the result as a single snapshot
// that replaces the previous one. A store whose fetch fails is logged and
// listed under Excluded; it never fails the run.
//
// Money is computed with shopspring/decimal. Performance scores are
// relative: each sub-score is the store's value as a percentage of the best
// store in the same run, so a lone store always scores 100 on the
// revenue, transaction and efficiency axes.
package consolidation
