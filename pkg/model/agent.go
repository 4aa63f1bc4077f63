package model

import "time"

// Agent is the transient runtime record for a live, authenticated
// agent connection. Unlike Job/Queue/Resource it is never persisted:
// spec.md §3 calls it out explicitly as not surviving a restart, and
// its state is rebuilt entirely by the recon exchange on reconnect.
type Agent struct {
	Host          string
	Authenticated bool
	Recon         bool // true once RECON_COMPLETE has been sent

	// Nonce is the server-generated challenge issued in
	// AGENT_AUTH_CHALLENGE, retained to verify the agent's HMAC in
	// AGENT_AUTH_RESP.
	Nonce []byte

	ConnectedAt time.Time
}
