// Package httputil provides the JSON response and request helpers shared by
// the aggregator and the agent's loopback API.
//
// Errors use the same envelope as the sync protocol, {"success": false,
// "error": "..."}, so a client can treat every endpoint uniformly.
package httputil
