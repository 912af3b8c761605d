/*
Package manager implements the top-level memory orchestrator. It routes
add/retrieve/search/transfer/forget operations across the three tiers, owns
the lifecycle of every tier backend and the shared knowledge graph, and runs
the background maintenance task that decays, promotes, demotes, and evicts
items.

Per managed item the state machine is STM → MTM → LTM going forward,
MTM → STM and LTM → MTM on disuse, plus a terminal forgotten state reachable
from any tier. No item exists in two tiers simultaneously: a transfer is a
read, a store into the destination, then a delete from the source, and a
concurrent reader may observe the item in either tier during the move but
never in neither, and never in both once it completes.
*/
package manager
