package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"
)

const emptyDocument = `{"next_id":1,"users":[]}`

var ErrInvalidDocument = errors.New("store document is not valid JSON")

// InmemoryStore keeps every user in a single JSON document:
//
//   {"next_id": 3, "users": [{"id": 1, ...}, {"id": 2, ...}]}
//
// Reads and writes go through gjson/sjson paths, the document itself is
// guarded by mu.
type InmemoryStore struct {
	mu     sync.RWMutex
	values []byte

	// stop will be closed when Close() is called
	stop      chan struct{}
	closeOnce sync.Once

	now func() time.Time
}

func NewInmemoryStore() *InmemoryStore {
	return &InmemoryStore{
		values: []byte(emptyDocument),
		stop:   make(chan struct{}),
		now:    time.Now,
	}
}

func (i *InmemoryStore) Close() error {
	i.closeOnce.Do(func() {
		close(i.stop)
	})

	return nil
}

func (i *InmemoryStore) Create(ctx context.Context, user NewUser) Result {
	if res, ok := i.usable(ctx); !ok {
		return res
	}

	if user.Username == "" || user.Email == "" || user.Password == "" {
		return failed("username, email and password are required")
	}

	i.mu.Lock()
	defer i.mu.Unlock()

	if _, _, found := i.findBy(FieldUsername, user.Username); found {
		return failed("username %s is already taken", user.Username)
	}

	if _, _, found := i.findBy(FieldEmail, user.Email); found {
		return failed("email %s is already registered", user.Email)
	}

	now := i.now().UTC()
	record := User{
		ID:          gjson.GetBytes(i.values, "next_id").Int(),
		Username:    user.Username,
		Email:       user.Email,
		Password:    user.Password,
		FullName:    user.FullName,
		Age:         user.Age,
		Description: user.Description,
		CreatedAt:   now,
		UpdatedAt:   now,
	}

	raw, err := json.Marshal(record)
	if err != nil {
		return failed("could not encode user: %v", err)
	}

	values, err := sjson.SetRawBytes(i.values, "users.-1", raw)
	if err != nil {
		return failed("could not store user: %v", err)
	}

	if values, err = sjson.SetBytes(values, "next_id", record.ID+1); err != nil {
		return failed("could not store user: %v", err)
	}

	i.values = values

	return succeeded(&record, "user created")
}

func (i *InmemoryStore) GetByID(ctx context.Context, id int64) Result {
	if res, ok := i.usable(ctx); !ok {
		return res
	}

	i.mu.RLock()
	defer i.mu.RUnlock()

	user, _, found := i.findByID(id)
	if !found {
		return failed("no user with ID %d", id)
	}

	return succeeded(&user, "user found")
}

func (i *InmemoryStore) GetByUsername(ctx context.Context, username string) Result {
	if res, ok := i.usable(ctx); !ok {
		return res
	}

	i.mu.RLock()
	defer i.mu.RUnlock()

	user, _, found := i.findBy(FieldUsername, username)
	if !found {
		return failed("no user named %s", username)
	}

	return succeeded(&user, "user found")
}

func (i *InmemoryStore) List(ctx context.Context) Result {
	if res, ok := i.usable(ctx); !ok {
		return res
	}

	i.mu.RLock()
	defer i.mu.RUnlock()

	users := make([]User, 0)
	i.each(func(_ int, user User) bool {
		users = append(users, user)
		return true
	})

	return Result{
		Success: true,
		Users:   users,
		Message: fmt.Sprintf("found %d users", len(users)),
	}
}

func (i *InmemoryStore) Update(ctx context.Context, id int64, changes Changes) Result {
	if res, ok := i.usable(ctx); !ok {
		return res
	}

	if res, ok := validateChanges(changes); !ok {
		return res
	}

	i.mu.Lock()
	defer i.mu.Unlock()

	_, idx, found := i.findByID(id)
	if !found {
		return failed("no user with ID %d", id)
	}

	for _, field := range []Field{FieldUsername, FieldEmail} {
		value, ok := changes[field]
		if !ok {
			continue
		}

		if other, _, taken := i.findBy(field, value.(string)); taken && other.ID != id {
			return failed("%s %s is already in use", field, value)
		}
	}

	values := i.values
	var err error

	for _, field := range Fields {
		value, ok := changes[field]
		if !ok {
			continue
		}

		if values, err = sjson.SetBytes(values, userPath(idx, string(field)), value); err != nil {
			return failed("could not update %s: %v", field, err)
		}
	}

	updatedAt := i.now().UTC().Format(time.RFC3339Nano)
	if values, err = sjson.SetBytes(values, userPath(idx, "updated_at"), updatedAt); err != nil {
		return failed("could not update user: %v", err)
	}

	i.values = values

	user, err := decodeUser(gjson.GetBytes(i.values, fmt.Sprintf("users.%d", idx)))
	if err != nil {
		return failed("could not read updated user: %v", err)
	}

	return succeeded(&user, "user updated")
}

func (i *InmemoryStore) Delete(ctx context.Context, id int64) Result {
	if res, ok := i.usable(ctx); !ok {
		return res
	}

	i.mu.Lock()
	defer i.mu.Unlock()

	user, idx, found := i.findByID(id)
	if !found {
		return failed("no user with ID %d", id)
	}

	values, err := sjson.DeleteBytes(i.values, fmt.Sprintf("users.%d", idx))
	if err != nil {
		return failed("could not delete user: %v", err)
	}

	i.values = values

	return succeeded(&user, "user deleted")
}

// Restore replaces the store contents with a document produced by Backup.
func (i *InmemoryStore) Restore(values []byte) error {
	if !gjson.ValidBytes(values) || !gjson.ParseBytes(values).IsObject() {
		return ErrInvalidDocument
	}

	doc := append([]byte(nil), values...)
	var err error

	if !gjson.GetBytes(doc, "users").IsArray() {
		if doc, err = sjson.SetRawBytes(doc, "users", []byte("[]")); err != nil {
			return err
		}
	}

	if !gjson.GetBytes(doc, "next_id").Exists() {
		var maxID int64
		gjson.GetBytes(doc, "users.#.id").ForEach(func(_, id gjson.Result) bool {
			if id.Int() > maxID {
				maxID = id.Int()
			}
			return true
		})

		if doc, err = sjson.SetBytes(doc, "next_id", maxID+1); err != nil {
			return err
		}
	}

	i.mu.Lock()
	i.values = doc
	i.mu.Unlock()

	return nil
}

func (i *InmemoryStore) Backup() ([]byte, error) {
	i.mu.RLock()
	defer i.mu.RUnlock()

	if len(i.values) == 0 {
		return []byte(emptyDocument), nil
	}

	return append([]byte(nil), i.values...), nil
}

// usable returns a failed Result if the store is closed or ctx is done.
func (i *InmemoryStore) usable(ctx context.Context) (Result, bool) {
	if !i.isRunning() {
		return failed("store is closed"), false
	}

	if err := ctx.Err(); err != nil {
		return failed("request abandoned: %v", err), false
	}

	return Result{}, true
}

// each calls fn with every stored user until fn returns false. Callers must
// hold mu.
func (i *InmemoryStore) each(fn func(idx int, user User) bool) {
	idx := 0

	gjson.GetBytes(i.values, "users").ForEach(func(_, value gjson.Result) bool {
		user, err := decodeUser(value)
		if err != nil {
			idx++
			return true
		}

		more := fn(idx, user)
		idx++

		return more
	})
}

func (i *InmemoryStore) findByID(id int64) (found User, idx int, ok bool) {
	i.each(func(n int, user User) bool {
		if user.ID == id {
			found, idx, ok = user, n, true
			return false
		}
		return true
	})

	return found, idx, ok
}

func (i *InmemoryStore) findBy(field Field, value string) (found User, idx int, ok bool) {
	i.each(func(n int, user User) bool {
		var current string

		switch field {
		case FieldUsername:
			current = user.Username
		case FieldEmail:
			current = user.Email
		default:
			return false
		}

		if current == value {
			found, idx, ok = user, n, true
			return false
		}
		return true
	})

	return found, idx, ok
}

// isRunning returns true if Close has not been called
func (i *InmemoryStore) isRunning() bool {
	select {
	case <-i.stop:
		return false

	default:
		return true
	}
}

func validateChanges(changes Changes) (Result, bool) {
	if len(changes) == 0 {
		return failed("no fields to update"), false
	}

	unknown := make([]string, 0)
	for field := range changes {
		if !IsField(string(field)) {
			unknown = append(unknown, string(field))
		}
	}

	if len(unknown) > 0 {
		sort.Strings(unknown)
		return failed("unknown field: %s", unknown[0]), false
	}

	for _, field := range Fields {
		value, ok := changes[field]
		if !ok {
			continue
		}

		switch field {
		case FieldUsername, FieldEmail, FieldPassword:
			if s, isString := value.(string); !isString || s == "" {
				return failed("%s cannot be empty", field), false
			}

		case FieldFullName, FieldDescription:
			if _, isString := value.(string); value != nil && !isString {
				return failed("%s must be text", field), false
			}

		case FieldAge:
			if _, isInt := value.(int); value != nil && !isInt {
				return failed("age must be a number"), false
			}
		}
	}

	return Result{}, true
}

func decodeUser(value gjson.Result) (User, error) {
	var user User
	err := json.Unmarshal([]byte(value.Raw), &user)

	return user, err
}

func userPath(idx int, field string) string {
	return fmt.Sprintf("users.%d.%s", idx, field)
}

var _ Store = (*InmemoryStore)(nil)
