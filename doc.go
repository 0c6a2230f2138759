/*

Package accord defines the shared primitive types used throughout the
threshold authorization engine: actor addresses, second-precision timestamps
and rational fractions.

The state machine itself lives in the engine package. It collects independent
endorsements from a bounded set of authorized actors, evaluates a threshold
policy (binary owner count or token-weighted quorum with a voting window) and
executes the authorized action exactly once through an external settlement
collaborator.

*/

package accord
