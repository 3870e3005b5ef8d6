package config

import "github.com/Gouzman/PharmaGo/utils"

// AutoCreateUnmatchedGuards would let the merge step create canonical records from
// roster candidates that matched nothing. Disabled by default: candidates carry no
// trustworthy coordinates, so unmatched entries go to the review queue instead.
//
// Set via env:
// - AUTO_CREATE_UNMATCHED_GUARDS=true
func AutoCreateUnmatchedGuards() bool {
	return utils.EnvBoolDefault("AUTO_CREATE_UNMATCHED_GUARDS", false)
}

// NearDuplicateReviewEnabled toggles the advisory geographic near-duplicate pass
// (canonical records within ~50m flagged for human review).
//
// Set via env:
// - NEAR_DUPLICATE_REVIEW=false to disable
func NearDuplicateReviewEnabled() bool {
	return utils.EnvBoolDefault("NEAR_DUPLICATE_REVIEW", true)
}
