// Package email implements the email proof-of-possession bridge: it mints
// a short one-time code, stores only its slow hash, sends it by mail, and
// on callback verifies the code against the stored hash under an attempt
// limit.
package email
