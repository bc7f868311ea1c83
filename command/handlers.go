package command

import (
	"context"
	"fmt"
	"math/big"
	"strconv"
	"strings"
	"time"

	"github.com/luma/relay/storage"
)

const helpText = `available commands:
=== basic ===
add num1 num2         - add two integers
sub num1 num2         - subtract num2 from num1

=== users ===
user_create username email password [full_name] [age] [description] - create a user
user_get [id|username] - show a user, or every user when no argument is given
user_update id field1 value1 [field2 value2]... - update a user
user_delete id        - delete a user

=== other ===
bye                   - close the connection
help                  - show this help`

func help(_ context.Context, _ []string, _ storage.Store) Outcome {
	return success(helpText)
}

// arithmetic works on arbitrarily large integers, so results never wrap.
func arithmetic(name string, op func(z, a, b *big.Int) *big.Int) handlerFunc {
	return func(_ context.Context, args []string, _ storage.Store) Outcome {
		if len(args) < 2 {
			return fail(fmt.Sprintf("error: %s needs two integer arguments", name))
		}

		a, okA := new(big.Int).SetString(args[0], 10)
		b, okB := new(big.Int).SetString(args[1], 10)
		if !okA || !okB {
			return fail("error: arguments must be integers")
		}

		return success(fmt.Sprintf("result: %s", op(new(big.Int), a, b)))
	}
}

// user_create username email password [full_name] [age] [description]
func userCreate(ctx context.Context, args []string, store storage.Store) Outcome {
	if len(args) < 3 {
		return fail("error: user_create needs at least 3 arguments (username email password)")
	}

	user := storage.NewUser{
		Username: args[0],
		Email:    args[1],
		Password: args[2],
	}

	if len(args) > 3 {
		user.FullName = &args[3]
	}

	if len(args) > 4 {
		age, err := strconv.Atoi(args[4])
		if err != nil || age < 0 {
			return fail("error: age must be a non-negative integer")
		}
		user.Age = &age
	}

	if len(args) > 5 {
		user.Description = &args[5]
	}

	res := store.Create(ctx, user)
	if !res.Success {
		return fail(fmt.Sprintf("user_create failed: %s", res.Message))
	}

	return success(fmt.Sprintf("user created! ID: %d, username: %s", res.User.ID, res.User.Username))
}

// user_get [id|username]
func userGet(ctx context.Context, args []string, store storage.Store) Outcome {
	if len(args) == 0 {
		res := store.List(ctx)
		if !res.Success {
			return fail(fmt.Sprintf("user_get failed: %s", res.Message))
		}

		if len(res.Users) == 0 {
			return success("no users")
		}

		return success(formatUserList("all users:", res.Users))
	}

	var res storage.Result
	if id, ok := parseID(args[0]); ok {
		res = store.GetByID(ctx, id)
	} else {
		res = store.GetByUsername(ctx, args[0])
	}

	if !res.Success {
		return fail(fmt.Sprintf("user_get failed: %s", res.Message))
	}

	return success(formatUser(res.User))
}

// user_update id field1 value1 [field2 value2]...
func userUpdate(ctx context.Context, args []string, store storage.Store) Outcome {
	if len(args) < 3 {
		return fail("error: user_update needs at least 3 arguments (id field value)")
	}

	id, ok := parseID(args[0])
	if !ok {
		return fail("error: user id must be a number")
	}

	pairs := args[1:]
	if len(pairs)%2 != 0 {
		return fail(fmt.Sprintf("error: missing value for field %s", pairs[len(pairs)-1]))
	}

	changes := storage.Changes{}
	for i := 0; i < len(pairs); i += 2 {
		field, raw := pairs[i], pairs[i+1]

		if !storage.IsField(field) {
			return fail(fmt.Sprintf("error: unknown field: %s", field))
		}

		value, err := fieldValue(storage.Field(field), raw)
		if err != nil {
			return fail(fmt.Sprintf("error: %v", err))
		}

		changes[storage.Field(field)] = value
	}

	res := store.Update(ctx, id, changes)
	if !res.Success {
		return fail(fmt.Sprintf("user_update failed: %s", res.Message))
	}

	body := fmt.Sprintf("user updated! ID: %d, username: %s", res.User.ID, res.User.Username)
	if _, ok := changes[storage.FieldFullName]; ok {
		body += fmt.Sprintf(", full name: %s", optional(res.User.FullName))
	}
	if _, ok := changes[storage.FieldAge]; ok {
		body += fmt.Sprintf(", age: %s", optionalInt(res.User.Age))
	}

	return success(body)
}

// user_delete id
func userDelete(ctx context.Context, args []string, store storage.Store) Outcome {
	if len(args) < 1 {
		return fail("error: user_delete needs 1 argument (id)")
	}

	id, ok := parseID(args[0])
	if !ok {
		return fail("error: user_delete needs a numeric id")
	}

	res := store.Delete(ctx, id)
	if !res.Success {
		return fail(fmt.Sprintf("user_delete failed: %s", res.Message))
	}

	return success(fmt.Sprintf("user deleted! ID: %d, username: %s", res.User.ID, res.User.Username))
}

// fieldValue converts the textual value of a user_update pair. "null" clears
// optional fields.
func fieldValue(field storage.Field, raw string) (interface{}, error) {
	switch field {
	case storage.FieldAge:
		if raw == "null" {
			return nil, nil
		}

		age, err := strconv.Atoi(raw)
		if err != nil || age < 0 {
			return nil, fmt.Errorf("age must be a non-negative integer")
		}
		return age, nil

	case storage.FieldFullName, storage.FieldDescription:
		if raw == "null" {
			return nil, nil
		}
		return raw, nil

	default:
		return raw, nil
	}
}

func parseID(s string) (int64, bool) {
	id, err := strconv.ParseInt(s, 10, 64)
	if err != nil || id < 0 {
		return 0, false
	}

	return id, true
}

func formatUser(u *storage.User) string {
	var b strings.Builder

	fmt.Fprintf(&b, "user info - ID: %d\n", u.ID)
	fmt.Fprintf(&b, "  username: %s\n", u.Username)
	fmt.Fprintf(&b, "  email: %s\n", u.Email)
	fmt.Fprintf(&b, "  full name: %s\n", optional(u.FullName))
	fmt.Fprintf(&b, "  age: %s\n", optionalInt(u.Age))
	fmt.Fprintf(&b, "  created at: %s\n", u.CreatedAt.Format(time.RFC3339))
	fmt.Fprintf(&b, "  updated at: %s", u.UpdatedAt.Format(time.RFC3339))

	if u.Description != nil && *u.Description != "" {
		fmt.Fprintf(&b, "\n  description: %s", *u.Description)
	}

	return b.String()
}

func formatUserList(title string, users []storage.User) string {
	var b strings.Builder

	b.WriteString(title)
	for _, u := range users {
		fmt.Fprintf(&b, "\n  ID: %d, username: %s, email: %s", u.ID, u.Username, u.Email)

		if u.FullName != nil && *u.FullName != "" {
			fmt.Fprintf(&b, ", full name: %s", *u.FullName)
		}
		if u.Age != nil {
			fmt.Fprintf(&b, ", age: %d", *u.Age)
		}
	}

	return b.String()
}

func optional(s *string) string {
	if s == nil {
		return "N/A"
	}

	return *s
}

func optionalInt(i *int) string {
	if i == nil {
		return "N/A"
	}

	return strconv.Itoa(*i)
}
