package storage

import (
	"context"
	"fmt"
)

// Store is the record store behind the command handlers. Implementations must
// be safe for concurrent use: every connection shares one Store.
//
// Operations report failure in the Result rather than through an error, so a
// failed lookup or a constraint violation never unwinds into the caller.
type Store interface {
	Create(ctx context.Context, user NewUser) Result
	GetByID(ctx context.Context, id int64) Result
	GetByUsername(ctx context.Context, username string) Result
	List(ctx context.Context) Result
	Update(ctx context.Context, id int64, changes Changes) Result
	Delete(ctx context.Context, id int64) Result

	Restore(values []byte) error
	Backup() ([]byte, error)

	Close() error
}

// Result is the outcome of a Store operation.
type Result struct {
	Success bool

	// User is set by operations that return a single record
	User *User

	// Users is set by List
	Users []User

	Message string
}

func succeeded(user *User, message string) Result {
	return Result{Success: true, User: user, Message: message}
}

func failed(format string, args ...interface{}) Result {
	return Result{Success: false, Message: fmt.Sprintf(format, args...)}
}
