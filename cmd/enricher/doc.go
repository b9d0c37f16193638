// Package main is the entry point for the domain-enricher binary.
// Run with "run" to start the worker pool or "feed" to load the queue.
package main
