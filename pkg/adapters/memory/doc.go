// Package memory provides in-process adapters: a conversation store, a flow
// loader and a keyword retrieval index. They are meant for tests, demos and
// single-instance deployments.
package memory
