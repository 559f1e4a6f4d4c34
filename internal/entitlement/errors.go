package entitlement

import "errors"

// ErrTooManyDevices is the terminal business-rule failure returned when the
// remote authority refuses to create another lease for the account. It must
// reach callers unwrapped so they can route the user to device management
// instead of retrying.
var ErrTooManyDevices = errors.New("too many devices for this account")

// ErrNoAccount indicates a lease sync was attempted without a usable account
// ID. This is a local invariant violation, not a remote failure.
var ErrNoAccount = errors.New("no account id available")
