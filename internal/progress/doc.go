// Package progress tracks how many results the worker pool has committed to
// the store. A single Counter is created at startup and shared by pointer
// with every worker; it is the only mutable state workers share.
package progress
