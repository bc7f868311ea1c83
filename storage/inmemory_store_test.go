package storage_test

import (
	"context"
	"fmt"
	"sync"

	. "github.com/onsi/ginkgo"
	. "github.com/onsi/gomega"
	"github.com/tidwall/gjson"

	"github.com/luma/relay/storage"
)

func strPtr(s string) *string {
	return &s
}

func intPtr(i int) *int {
	return &i
}

var _ = Describe("storage / InmemoryStore", func() {
	var (
		ctx   context.Context
		store *storage.InmemoryStore
	)

	BeforeEach(func() {
		ctx = context.Background()
		store = storage.NewInmemoryStore()
	})

	AfterEach(func() {
		Expect(store.Close()).To(Succeed())
	})

	createAlice := func() *storage.User {
		res := store.Create(ctx, storage.NewUser{
			Username:    "alice",
			Email:       "a@example.com",
			Password:    "pw",
			FullName:    strPtr("Alice A"),
			Age:         intPtr(30),
			Description: strPtr("bio"),
		})
		Expect(res.Success).To(BeTrue(), res.Message)
		return res.User
	}

	Describe("Close()", func() {
		It("does not panic when closed twice", func() {
			Expect(func() { store.Close() }).NotTo(Panic())
			Expect(func() { store.Close() }).NotTo(Panic())
		})

		It("fails operations once closed", func() {
			Expect(store.Close()).To(Succeed())

			res := store.List(ctx)
			Expect(res.Success).To(BeFalse())
			Expect(res.Message).To(Equal("store is closed"))
		})
	})

	It("an empty store has no users", func() {
		value, err := store.Backup()
		Expect(err).To(Succeed())
		Expect(value).To(MatchJSON(`{"next_id":1,"users":[]}`))

		res := store.List(ctx)
		Expect(res.Success).To(BeTrue())
		Expect(res.Users).To(BeEmpty())
	})

	Describe("Create()", func() {
		It("assigns increasing ids", func() {
			alice := createAlice()
			Expect(alice.ID).To(Equal(int64(1)))
			Expect(alice.Username).To(Equal("alice"))
			Expect(*alice.FullName).To(Equal("Alice A"))
			Expect(*alice.Age).To(Equal(30))
			Expect(alice.CreatedAt).NotTo(BeZero())

			res := store.Create(ctx, storage.NewUser{Username: "bob", Email: "b@example.com", Password: "pw"})
			Expect(res.Success).To(BeTrue())
			Expect(res.User.ID).To(Equal(int64(2)))
			Expect(res.User.Age).To(BeNil())
		})

		It("requires username, email and password", func() {
			res := store.Create(ctx, storage.NewUser{Username: "bob", Email: "b@example.com"})
			Expect(res.Success).To(BeFalse())
			Expect(res.Message).To(Equal("username, email and password are required"))
		})

		It("rejects duplicate usernames and emails", func() {
			createAlice()

			res := store.Create(ctx, storage.NewUser{Username: "alice", Email: "other@example.com", Password: "pw"})
			Expect(res.Success).To(BeFalse())
			Expect(res.Message).To(Equal("username alice is already taken"))

			res = store.Create(ctx, storage.NewUser{Username: "other", Email: "a@example.com", Password: "pw"})
			Expect(res.Success).To(BeFalse())
			Expect(res.Message).To(Equal("email a@example.com is already registered"))
		})

		It("is safe under concurrent use", func() {
			var wg sync.WaitGroup

			for n := 0; n < 50; n++ {
				wg.Add(1)
				go func(n int) {
					defer GinkgoRecover()
					defer wg.Done()

					res := store.Create(ctx, storage.NewUser{
						Username: fmt.Sprintf("user%d", n),
						Email:    fmt.Sprintf("user%d@example.com", n),
						Password: "pw",
					})
					Expect(res.Success).To(BeTrue(), res.Message)
				}(n)
			}
			wg.Wait()

			res := store.List(ctx)
			Expect(res.Users).To(HaveLen(50))

			ids := map[int64]bool{}
			for _, u := range res.Users {
				ids[u.ID] = true
			}
			Expect(ids).To(HaveLen(50))
		})
	})

	Describe("GetByID() / GetByUsername()", func() {
		It("finds stored users", func() {
			alice := createAlice()

			res := store.GetByID(ctx, alice.ID)
			Expect(res.Success).To(BeTrue())
			Expect(res.User.Email).To(Equal("a@example.com"))

			res = store.GetByUsername(ctx, "alice")
			Expect(res.Success).To(BeTrue())
			Expect(res.User.ID).To(Equal(alice.ID))
		})

		It("reports missing users", func() {
			res := store.GetByID(ctx, 42)
			Expect(res.Success).To(BeFalse())
			Expect(res.Message).To(Equal("no user with ID 42"))

			res = store.GetByUsername(ctx, "nobody")
			Expect(res.Success).To(BeFalse())
			Expect(res.Message).To(Equal("no user named nobody"))
		})

		It("fails when the context is done", func() {
			cancelled, cancel := context.WithCancel(ctx)
			cancel()

			res := store.GetByID(cancelled, 1)
			Expect(res.Success).To(BeFalse())
		})
	})

	Describe("Update()", func() {
		It("changes the given fields", func() {
			alice := createAlice()

			res := store.Update(ctx, alice.ID, storage.Changes{
				storage.FieldFullName: "Alice Smith",
				storage.FieldAge:      31,
			})
			Expect(res.Success).To(BeTrue(), res.Message)
			Expect(*res.User.FullName).To(Equal("Alice Smith"))
			Expect(*res.User.Age).To(Equal(31))
			Expect(res.User.Username).To(Equal("alice"))
			Expect(res.User.UpdatedAt).NotTo(BeTemporally("<", alice.UpdatedAt))

			Expect(*store.GetByID(ctx, alice.ID).User.FullName).To(Equal("Alice Smith"))
		})

		It("clears optional fields with nil", func() {
			alice := createAlice()

			res := store.Update(ctx, alice.ID, storage.Changes{storage.FieldDescription: nil, storage.FieldAge: nil})
			Expect(res.Success).To(BeTrue(), res.Message)
			Expect(res.User.Description).To(BeNil())
			Expect(res.User.Age).To(BeNil())
		})

		It("rejects unknown fields and bad values", func() {
			alice := createAlice()

			res := store.Update(ctx, alice.ID, storage.Changes{"id": "7"})
			Expect(res.Success).To(BeFalse())
			Expect(res.Message).To(Equal("unknown field: id"))

			res = store.Update(ctx, alice.ID, storage.Changes{storage.FieldAge: "old"})
			Expect(res.Message).To(Equal("age must be a number"))

			res = store.Update(ctx, alice.ID, storage.Changes{storage.FieldEmail: ""})
			Expect(res.Message).To(Equal("email cannot be empty"))

			res = store.Update(ctx, alice.ID, storage.Changes{})
			Expect(res.Message).To(Equal("no fields to update"))
		})

		It("keeps usernames unique", func() {
			createAlice()
			bob := store.Create(ctx, storage.NewUser{Username: "bob", Email: "b@example.com", Password: "pw"}).User

			res := store.Update(ctx, bob.ID, storage.Changes{storage.FieldUsername: "alice"})
			Expect(res.Success).To(BeFalse())
			Expect(res.Message).To(Equal("username alice is already in use"))

			res = store.Update(ctx, bob.ID, storage.Changes{storage.FieldUsername: "bob"})
			Expect(res.Success).To(BeTrue())
		})

		It("reports missing users", func() {
			res := store.Update(ctx, 9, storage.Changes{storage.FieldAge: 3})
			Expect(res.Success).To(BeFalse())
			Expect(res.Message).To(Equal("no user with ID 9"))
		})
	})

	Describe("Delete()", func() {
		It("returns the deleted user", func() {
			alice := createAlice()

			res := store.Delete(ctx, alice.ID)
			Expect(res.Success).To(BeTrue())
			Expect(res.User.Username).To(Equal("alice"))

			Expect(store.GetByID(ctx, alice.ID).Success).To(BeFalse())
			Expect(store.Delete(ctx, alice.ID).Success).To(BeFalse())
		})

		It("does not reuse ids", func() {
			alice := createAlice()
			store.Delete(ctx, alice.ID)

			res := store.Create(ctx, storage.NewUser{Username: "bob", Email: "b@example.com", Password: "pw"})
			Expect(res.User.ID).To(Equal(alice.ID + 1))
		})
	})

	Describe("Backup() / Restore()", func() {
		It("restores a backup into another store", func() {
			createAlice()

			backup, err := store.Backup()
			Expect(err).To(Succeed())
			Expect(gjson.GetBytes(backup, "users.0.username").String()).To(Equal("alice"))

			other := storage.NewInmemoryStore()
			defer other.Close()

			Expect(other.Restore(backup)).To(Succeed())
			res := other.GetByUsername(ctx, "alice")
			Expect(res.Success).To(BeTrue())
			Expect(*res.User.Description).To(Equal("bio"))
		})

		It("derives the next id when the document lacks one", func() {
			Expect(store.Restore([]byte(`{"users":[{"id":5,"username":"eve","email":"e@example.com","password":"pw"}]}`))).To(Succeed())

			res := store.Create(ctx, storage.NewUser{Username: "bob", Email: "b@example.com", Password: "pw"})
			Expect(res.User.ID).To(Equal(int64(6)))
		})

		It("rejects documents that are not JSON objects", func() {
			Expect(store.Restore([]byte(`not json`))).To(MatchError(storage.ErrInvalidDocument))
			Expect(store.Restore([]byte(`[]`))).To(MatchError(storage.ErrInvalidDocument))
		})
	})
})
