package utils

import "github.com/google/uuid"

// GenConnectionID mints a unique id for an accepted connection.
func GenConnectionID() string { return uuid.NewString() }

// GenSessionID mints a session/conversation id. Sessions double as
// conversation ids, so these are drawn from the same space.
func GenSessionID() string { return uuid.NewString() }

// GenMessageID mints a unique message id.
func GenMessageID() string { return uuid.NewString() }

// GenUserID mints a directory user id.
func GenUserID() string { return uuid.NewString() }
