package cmd

import (
	"bufio"
	"context"
	"crypto/tls"
	"fmt"
	"io"
	"net"
	"strconv"
	"strings"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/luma/relay/client"
	"github.com/luma/relay/internal/env"
	"github.com/luma/relay/internal/tlsutil"
	"github.com/luma/relay/protocol"
)

var (
	// The server to connect to
	serverAddr string
)

func init() {
	flags := ClientCmd.PersistentFlags()

	flags.StringVarP(&serverAddr, "addr", "s", net.JoinHostPort("127.0.0.1", strconv.Itoa(1443)), "The server address to connect to")
}

var ClientCmd = &cobra.Command{
	Use:   "client",
	Short: "Open an interactive session with a Relay server",
	Long: `Open an interactive session with a Relay server

Each line typed is sent as one command and its reply is printed. Type
"help" for the list of commands and "bye" to leave.

Usage
	relay client --addr 127.0.0.1:1443

`,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		if ctx == nil {
			ctx = context.Background()
		}

		conf, err := env.LoadConfig(ctx)
		if err != nil {
			return err
		}

		log, err := env.MakeLogger(conf.LogLevel)
		if err != nil {
			return err
		}
		defer log.Sync()

		var tlsConfig *tls.Config
		if !conf.TLSDisabled {
			if tlsConfig, err = tlsutil.LoadClientConfig(conf.ClientTLS()); err != nil {
				return err
			}
		}

		conn := client.New(log)
		conn.Timeout = conf.RequestTimeout

		if err := conn.Connect(ctx, serverAddr, tlsConfig); err != nil {
			return err
		}

		fmt.Fprintf(cmd.OutOrStdout(), "Connected to %s, type 'bye' to leave\n", serverAddr)

		return runSession(ctx, conn, cmd.InOrStdin(), cmd.OutOrStdout(), log)
	},
}

// runSession sends every non-empty line from in and prints the reply. It
// returns after bye, at the end of input or when the server goes away.
func runSession(ctx context.Context, conn *client.Conn, in io.Reader, out io.Writer, log *zap.Logger) error {
	scanner := bufio.NewScanner(in)

	for {
		fmt.Fprint(out, "> ")

		if !scanner.Scan() {
			fmt.Fprintln(out)
			return quit(ctx, conn, out, scanner.Err())
		}

		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}

		if strings.EqualFold(line, protocol.ByeCommand) {
			return quit(ctx, conn, out, nil)
		}

		resp, err := conn.Request(ctx, line)
		if err != nil {
			select {
			case <-conn.Done():
				fmt.Fprintln(out, "The server closed the connection")
				log.Debug("Receiver stopped", zap.Error(conn.Err()))
				conn.Close()
				return err

			default:
				fmt.Fprintf(out, "error: %v\n", err)
				continue
			}
		}

		fmt.Fprintf(out, "[%s] %s\n", resp.ID, resp.Content)
	}
}

func quit(ctx context.Context, conn *client.Conn, out io.Writer, readErr error) error {
	if err := conn.Quit(ctx); err != nil {
		return err
	}

	fmt.Fprintln(out, protocol.GoodbyeReply)
	return readErr
}
