// Package registry adapts OCI distribution registries for the transfer engine.
//
// A Session bundles everything needed to talk to remote registries for one command
// invocation: the credential store, the HTTP transport with retries and TLS settings,
// the token cache and one repository client per repository. Sessions are created
// explicitly and passed down, there is no process-wide login state.
package registry
