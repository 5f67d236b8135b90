// Package validation contains input checks shared by the HTTP layer and the
// controller. Everything here rejects bad input before it reaches an actor.
package validation

import (
	"regexp"

	serrors "github.com/steladb/stela/internal/errors"
)

// MaxIndexUIDLength is the longest accepted index uid, in bytes.
const MaxIndexUIDLength = 400

// uids, primary keys, and document ids share the same charset
var identPattern = regexp.MustCompile(`^[a-zA-Z0-9_-]+$`)

// IndexUID validates an index uid: 1 to 400 bytes of [a-zA-Z0-9_-].
func IndexUID(uid string) error {
	if uid == "" {
		return serrors.Newf(serrors.CodeInvalidIndexUID, "index uid cannot be empty")
	}
	if len(uid) > MaxIndexUIDLength {
		return serrors.Newf(serrors.CodeInvalidIndexUID,
			"index uid is %d bytes, maximum is %d", len(uid), MaxIndexUIDLength)
	}
	if !identPattern.MatchString(uid) {
		return serrors.Newf(serrors.CodeInvalidIndexUID,
			"index uid %q contains characters outside a-zA-Z0-9_-", uid)
	}
	return nil
}

// PrimaryKey validates a primary key attribute name.
func PrimaryKey(pk string) error {
	if pk == "" {
		return serrors.Newf(serrors.CodeInvalidPrimaryKey, "primary key cannot be empty")
	}
	if !identPattern.MatchString(pk) {
		return serrors.Newf(serrors.CodeInvalidPrimaryKey,
			"primary key %q contains characters outside a-zA-Z0-9_-", pk)
	}
	return nil
}

// DocumentID validates a document identifier value.
func DocumentID(id string) error {
	if id == "" {
		return serrors.Newf(serrors.CodeInvalidPrimaryKey, "document id cannot be empty")
	}
	if !identPattern.MatchString(id) {
		return serrors.Newf(serrors.CodeInvalidPrimaryKey,
			"document id %q contains characters outside a-zA-Z0-9_-", id)
	}
	return nil
}
