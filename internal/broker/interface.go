package broker

// Package broker carries realtime events between nodes over Redis pub/sub.
// The hub consumes the stream through the realtime.EventBroker interface; on
// a single node the Redis round-trip is overhead, but it keeps every hub
// instance seeing the same commit-ordered stream, so the design survives
// horizontal scaling.
