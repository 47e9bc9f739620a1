// Package dataflow launches and monitors Dataflow flex template jobs for
// the example generation stage. It talks to the regional Dataflow REST
// endpoint directly so tests can point it at a local server.
package dataflow
