// Package api implements the HTTP client for the compute server's artifact
// endpoints: manifest resolution, chunk fetches and image submission.
//
// The client is stateless between calls and performs no internal retries;
// retry policy lives in the transfer scheduler, which classifies failures
// via [Transient]. Every method takes an explicit base URL through
// [Options], so tests can point the client at a fake server.
package api
