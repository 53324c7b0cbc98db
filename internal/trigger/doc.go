// Package trigger fires named jobs into the striped scheduler on cron or
// interval schedules.
//
// The trigger only submits; execution, supersede and fairness belong to the
// scheduler. A trigger that fires while its previous submission is still
// pending replaces it.
package trigger
