// Package replication replicates a grow-only record set between peers.
//
// Each peer holds a full copy of the set. Whenever a peer's set changes, it
// uploads a snapshot of the set to a content-addressed store and gossips the
// snapshot address on a publish/subscribe topic with a 'NEW' message. Peers
// receiving a 'NEW' fetch the snapshot and merge any records they don't
// already have. If the merge added records, the peer uploads and announces
// its own snapshot, otherwise the gossip round ends. Peers joining the topic
// send an 'ASK' message, which peers with a non-empty set answer with a 'NEW'.
//
// Since records are never updated or removed and the first record admitted
// for a key wins, peers converge to the same set (and so the same snapshot
// address) once gossip settles.
//
// All engine state is owned by a single goroutine. Local writes, received
// messages and completed I/O are queued to that goroutine, so the engine
// needs no locking. I/O never runs on the engine goroutine.
package replication
