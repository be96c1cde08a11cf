// Package zk implements the client-side session protocol for a
// ZooKeeper-style coordination ensemble: a single long-lived TCP
// connection multiplexing many outstanding requests, a one-shot watch
// registry, and the heartbeat/timeout machinery that keeps the session
// alive across an ensemble of replicated servers.
//
// The package does not implement the replicated server, on-disk state,
// or a general wire-schema compiler. The Codec collaborator (packet.go,
// with the default juteCodec in jute.go) is the narrow seam where request/reply payload encoding is plugged in;
// zk ships a minimal codec sufficient for the core znode operations.
package zk
