//go:build linux

// Package unio is a Linux io_uring proactor: a single-threaded event loop
// multiplexing timers, cross-goroutine wake-ups and kernel-completed IO
// over one ring pair.
//
// A Context owns one loop. Operations may be started from any goroutine;
// their continuations always run on the goroutine driving Run. Parallelism
// comes from running several contexts, each over disjoint descriptors.
package unio
