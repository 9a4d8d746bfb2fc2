// Package ledger implements the pooled vault accounting state machine.
//
// A vault holds one pool balance and one account per participant. Deposits
// repay outstanding debt before adding to the participant's stake, and
// withdrawals beyond the stake are only allowed for whitelisted participants,
// in which case the shortfall is recorded as debt. Between operations the
// pool balance always equals the sum of deposits minus the sum of debts.
//
// Every operation runs inside one Store unit of work: the new state is
// computed first, the external transfer is attempted, and the state and its
// ledger event are persisted only when both succeed.
package ledger
