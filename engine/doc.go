/*

Package engine implements the threshold authorization state machine shared
by treasury multi-signature transactions and token weighted governance
ballots.

Both subsystems collect independent endorsements from a bounded set of
actors, evaluate a threshold policy and execute the authorized action
exactly once. They differ only in tallying: the binary threshold policy
counts distinct approving owners against an M-of-N requirement, the weighted
quorum policy tallies token weighted for and against votes against a quorum
and a majority fraction once the voting window closed.

Correctness under concurrent endorsement and execution attempts rests on the
proposal store's compare and swap contract, not on in-process locks: every
mutation is a single swap guarded by the proposal version, so an abandoned
call never leaves partial state behind. The residual race where two
executors both reach settlement is detected by the terminal swap and
reported as a reconciliation requirement; see Reconciler.

*/
package engine
