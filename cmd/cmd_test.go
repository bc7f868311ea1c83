package cmd

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"

	. "github.com/onsi/ginkgo"
	. "github.com/onsi/gomega"
	"go.uber.org/zap"

	"github.com/luma/relay/client"
	"github.com/luma/relay/storage"
	"github.com/luma/relay/transport"
)

var _ = Describe("cmd", func() {
	var dir string

	BeforeEach(func() {
		var err error
		dir, err = os.MkdirTemp("", "relay-cmd")
		Expect(err).NotTo(HaveOccurred())
	})

	AfterEach(func() {
		os.RemoveAll(dir)
	})

	Describe("snapshots", func() {
		It("round trips the user store through a file", func() {
			path := filepath.Join(dir, "users.json")

			store := storage.NewInmemoryStore()
			res := store.Create(context.Background(), storage.NewUser{
				Username: "alice",
				Email:    "a@example.com",
				Password: "pw",
			})
			Expect(res.Success).To(BeTrue())

			Expect(saveSnapshot(store, path, zap.NewNop())).To(Succeed())
			Expect(filepath.Join(dir, "users.json.tmp")).NotTo(BeAnExistingFile())

			restored := storage.NewInmemoryStore()
			Expect(restoreSnapshot(restored, path, zap.NewNop())).To(Succeed())

			res = restored.GetByUsername(context.Background(), "alice")
			Expect(res.Success).To(BeTrue())
			Expect(res.User.Email).To(Equal("a@example.com"))
		})

		It("starts empty when there is no snapshot yet", func() {
			store := storage.NewInmemoryStore()
			Expect(restoreSnapshot(store, filepath.Join(dir, "missing.json"), zap.NewNop())).To(Succeed())
			Expect(store.List(context.Background()).Users).To(BeEmpty())
		})

		It("refuses a corrupt snapshot", func() {
			path := filepath.Join(dir, "users.json")
			Expect(os.WriteFile(path, []byte("{not json"), 0600)).To(Succeed())

			Expect(restoreSnapshot(storage.NewInmemoryStore(), path, zap.NewNop())).NotTo(Succeed())
		})

		It("does nothing without a path", func() {
			store := storage.NewInmemoryStore()
			Expect(saveSnapshot(store, "", zap.NewNop())).To(Succeed())
			Expect(restoreSnapshot(store, "", zap.NewNop())).To(Succeed())
		})
	})

	Describe("runSession()", func() {
		var tcp *transport.TCP

		BeforeEach(func() {
			tcp = transport.NewTCP(transport.Options{
				Host:         "127.0.0.1",
				NumListeners: 1,
				ServerName:   "relay-test",
				Store:        storage.NewInmemoryStore(),
				Log:          zap.NewNop(),
			})
			Expect(tcp.Start(context.Background())).To(Succeed())
		})

		AfterEach(func() {
			Expect(tcp.Close()).To(Succeed())
		})

		It("prints a reply for every line until bye", func() {
			conn := client.New(zap.NewNop())
			Expect(conn.Connect(context.Background(), tcp.Addr().String(), nil)).To(Succeed())

			in := strings.NewReader("add 2 3\n\n   \nuser_get\nnope\nbye\nadd 1 1\n")
			var out bytes.Buffer

			Expect(runSession(context.Background(), conn, in, &out, zap.NewNop())).To(Succeed())

			Expect(out.String()).To(ContainSubstring("] result: 5\n"))
			Expect(out.String()).To(ContainSubstring("] no users\n"))
			Expect(out.String()).To(ContainSubstring("] unknown command: nope\n"))
			Expect(out.String()).To(HaveSuffix("Goodbye!\n"))
			Expect(out.String()).NotTo(ContainSubstring("result: 2"))

			Eventually(conn.Done()).Should(BeClosed())
		})

		It("says bye at the end of input", func() {
			conn := client.New(zap.NewNop())
			Expect(conn.Connect(context.Background(), tcp.Addr().String(), nil)).To(Succeed())

			var out bytes.Buffer
			Expect(runSession(context.Background(), conn, strings.NewReader("help"), &out, zap.NewNop())).To(Succeed())

			Expect(out.String()).To(ContainSubstring("available commands:"))
			Expect(out.String()).To(HaveSuffix("Goodbye!\n"))
		})
	})

	Describe("gen man", func() {
		It("writes a man page per command", func() {
			manDir := filepath.Join(dir, "man")

			var out bytes.Buffer
			RootCmd.SetArgs([]string{"gen", "man", "--dir", manDir})
			RootCmd.SetOut(&out)

			Expect(RootCmd.Execute()).To(Succeed())

			Expect(out.String()).To(ContainSubstring("does not exist, creating..."))
			Expect(out.String()).To(ContainSubstring("Generating Relay man pages in " + manDir))
			Expect(out.String()).To(HaveSuffix("Done.\n"))

			Expect(filepath.Join(manDir, "relay.1")).To(BeAnExistingFile())
			Expect(filepath.Join(manDir, "relay-start.1")).To(BeAnExistingFile())
			Expect(filepath.Join(manDir, "relay-client.1")).To(BeAnExistingFile())
		})
	})

	Describe("version", func() {
		It("prints the build information", func() {
			var out bytes.Buffer

			RootCmd.SetArgs([]string{"version"})
			RootCmd.SetOut(&out)

			Expect(RootCmd.Execute()).To(Succeed())
			Expect(out.String()).To(HavePrefix("relay unknown"))
		})
	})
})
