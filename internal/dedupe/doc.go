// Package dedupe suppresses repeated submissions of the same payload while
// an earlier one is still in flight.
package dedupe
