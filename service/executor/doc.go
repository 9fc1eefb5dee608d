// Package executor runs a dispatched process for one quantum: it invokes the
// process entry point once per reduction until the budget is exhausted or
// the entry reports a yield, a blocking operation or completion.  The
// scheduling loop owns what happens next (requeue, park or destroy).
package executor
