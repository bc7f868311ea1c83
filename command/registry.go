// Package command maps tokenized request content to operations on the store.
//
// Every command produces a response body. Bad arguments and store failures
// become readable error bodies, so nothing a client sends can end its
// connection from here.
package command

import (
	"context"
	"fmt"
	"math/big"

	"go.uber.org/zap"

	"github.com/luma/relay/protocol"
	"github.com/luma/relay/storage"
)

// Kind enumerates the commands the server understands.
type Kind int

const (
	Unknown Kind = iota
	Add
	Sub
	UserCreate
	UserGet
	UserUpdate
	UserDelete
	Help
)

var names = map[string]Kind{
	"add":         Add,
	"sub":         Sub,
	"user_create": UserCreate,
	"user_get":    UserGet,
	"user_update": UserUpdate,
	"user_delete": UserDelete,
	"help":        Help,
}

func (k Kind) String() string {
	for name, kind := range names {
		if kind == k {
			return name
		}
	}

	return "unknown"
}

// Lookup returns the Kind for a command name, or Unknown.
func Lookup(name string) Kind {
	if kind, ok := names[name]; ok {
		return kind
	}

	return Unknown
}

// Outcome is the tagged result of running one command.
type Outcome struct {
	Kind Kind
	Body string

	// OK is false when the body describes a failure
	OK bool
}

type handlerFunc func(ctx context.Context, args []string, store storage.Store) Outcome

// Registry runs commands against a store.
type Registry struct {
	store    storage.Store
	handlers map[Kind]handlerFunc
	log      *zap.Logger
}

func NewRegistry(store storage.Store, log *zap.Logger) *Registry {
	return &Registry{
		store: store,
		log:   log,
		handlers: map[Kind]handlerFunc{
			Add:        arithmetic("add", (*big.Int).Add),
			Sub:        arithmetic("sub", (*big.Int).Sub),
			UserCreate: userCreate,
			UserGet:    userGet,
			UserUpdate: userUpdate,
			UserDelete: userDelete,
			Help:       help,
		},
	}
}

// Execute runs cmd and returns its outcome. A handler that panics is reported
// as a failed outcome rather than taking the caller down with it.
func (r *Registry) Execute(ctx context.Context, cmd protocol.Command) (out Outcome) {
	if cmd.Empty() {
		return failure(Unknown, "error: empty command")
	}

	kind := Lookup(cmd.Name)
	handler, ok := r.handlers[kind]
	if !ok {
		return failure(Unknown, fmt.Sprintf("unknown command: %s", cmd.Name))
	}

	defer func() {
		if p := recover(); p != nil {
			r.log.Error("Command handler panicked",
				zap.String("command", cmd.Name),
				zap.Any("panic", p))

			out = failure(kind, fmt.Sprintf("error: %s failed unexpectedly", cmd.Name))
		}
	}()

	out = handler(ctx, cmd.Args, r.store)
	out.Kind = kind

	return out
}

func success(body string) Outcome {
	return Outcome{Body: body, OK: true}
}

func failure(kind Kind, body string) Outcome {
	return Outcome{Kind: kind, Body: body, OK: false}
}

func fail(body string) Outcome {
	return Outcome{Body: body, OK: false}
}
