// Package broker drives the authentication-session state machine: it
// validates a relying party's request, dispatches to an email or OIDC
// bridge, and on the bridge's callback mints a broker-signed token and
// redirects the user agent back to the relying party.
package broker
