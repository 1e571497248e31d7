package errors

// Code is the coarse error classification that decides logging severity and
// how the error is translated at the API boundary.
type Code string

const (
	// ErrNotFound is used when a requested game, team, user, shot or item does
	// not exist.
	ErrNotFound Code = "not-found"
	// ErrForbidden is used when a precondition on the current user state failed,
	// e.g. dead, teamless, no ammo or an item that was already collected.
	ErrForbidden Code = "forbidden"
	// ErrConflict is used when an operation was already performed, e.g. a shot
	// that is resolved twice or an item token signature mismatch.
	ErrConflict Code = "conflict"
	// ErrValidation is used for malformed input like undecodable item tokens or
	// unknown item types.
	ErrValidation Code = "validation"
	// ErrInternal is used for persistence and other server-side failures.
	ErrInternal Code = "internal"
	// ErrFatal is used for errors the server cannot recover from, e.g. during
	// boot.
	ErrFatal Code = "fatal"
	// ErrUnexpected is used for errors that were not created through this
	// package.
	ErrUnexpected Code = "unexpected"
)

// Kind describes an Error more precisely than Code.
type Kind string

const (
	// KindDB is used for all database related errors.
	KindDB Kind = "db"
	// KindResourceNotFound is used when a requested entity does not exist.
	KindResourceNotFound Kind = "resource-not-found"
	// KindUserDead is used when an operation requires a breathing user.
	KindUserDead Kind = "user-dead"
	// KindUserTeamless is used when an operation requires team membership.
	KindUserTeamless Kind = "user-teamless"
	// KindOutOfAmmo is used when a shot is submitted without ammo.
	KindOutOfAmmo Kind = "out-of-ammo"
	// KindShotAlreadyChecked is used when a shot is resolved a second time.
	KindShotAlreadyChecked Kind = "shot-already-checked"
	// KindItemAlreadyCollected is used when an item was already collected by
	// the same entity or is single-use.
	KindItemAlreadyCollected Kind = "item-already-collected"
	// KindItemSignatureMismatch is used when an item token fails signature
	// verification.
	KindItemSignatureMismatch Kind = "item-signature-mismatch"
	// KindMalformedToken is used when an item token cannot be decoded.
	KindMalformedToken Kind = "malformed-token"
	// KindUnknownItemType is used when an item token carries an unknown type.
	KindUnknownItemType Kind = "unknown-item-type"
	// KindWrongUserState is used when an item effect requires a different user
	// state, e.g. a medpack on a user that is not knocked out.
	KindWrongUserState Kind = "wrong-user-state"
	// KindMalformedID is used when a passed ID is not in uuid.UUID format.
	KindMalformedID Kind = "malformed-id"
	// KindDecodeJSON is used when a request body cannot be parsed.
	KindDecodeJSON Kind = "parse-request-body-as-json"
	// KindEncodeJSON is used when a response cannot be encoded.
	KindEncodeJSON Kind = "encode-json"
	// KindShouldNotHappen is used for states that indicate a programming error.
	KindShouldNotHappen Kind = "should-not-happen"
	// KindUnexpected is used for different unknown values that are too special
	// for creating separate error kinds.
	KindUnexpected Kind = "unexpected"
)
