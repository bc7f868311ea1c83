package storage

import (
	"fmt"
	"time"
)

// Field names a user attribute that can be changed with Update.
type Field string

const (
	FieldUsername    Field = "username"
	FieldEmail       Field = "email"
	FieldPassword    Field = "password"
	FieldFullName    Field = "full_name"
	FieldAge         Field = "age"
	FieldDescription Field = "description"
)

// Fields lists the updatable fields in the order they are documented.
var Fields = []Field{FieldUsername, FieldEmail, FieldPassword, FieldFullName, FieldAge, FieldDescription}

// Changes maps fields to their new values. Values are strings, except for
// FieldAge which takes an int. A nil value clears an optional field.
type Changes map[Field]interface{}

type User struct {
	ID          int64     `json:"id"`
	Username    string    `json:"username"`
	Email       string    `json:"email"`
	Password    string    `json:"password"`
	FullName    *string   `json:"full_name"`
	Age         *int      `json:"age"`
	Description *string   `json:"description"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// NewUser holds the attributes of a user that has not been stored yet.
type NewUser struct {
	Username    string
	Email       string
	Password    string
	FullName    *string
	Age         *int
	Description *string
}

func (u User) String() string {
	return fmt.Sprintf("<User id=%d username=%q email=%q>", u.ID, u.Username, u.Email)
}

// IsField returns true if name is an updatable field.
func IsField(name string) bool {
	for _, f := range Fields {
		if string(f) == name {
			return true
		}
	}

	return false
}
