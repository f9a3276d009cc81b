// Command agentrailsctl is a thin smoke-test client for agentrailsd's
// wire protocol: it dials a running daemon, authenticates, sends one
// command envelope, and prints whatever comes back until the
// connection closes or a completed/failed reply for that command
// arrives. Modeled on the teacher's cmd/dialog-client, generalized from
// that tool's single dialog RPC to this daemon's full command
// vocabulary.
package main

import (
	"bufio"
	"encoding/json"
	"fmt"
	"net"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/agentrails/agentrailsd/internal/codec"
	"github.com/agentrails/agentrailsd/internal/dispatch"
)

func main() {
	var addr, token string

	root := &cobra.Command{
		Use:   "agentrailsctl",
		Short: "Smoke-test client for the agentrailsd wire protocol",
	}
	root.PersistentFlags().StringVar(&addr, "addr", "127.0.0.1:7171", "daemon listen address")
	root.PersistentFlags().StringVar(&token, "token", "", "auth token")

	root.AddCommand(statusCmd(&addr, &token))
	root.AddCommand(execCmd(&addr, &token))

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func statusCmd(addr, token *string) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Fetch daemon.status and print it",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runOne(*addr, *token, dispatch.CmdDaemonStatus, json.RawMessage(`{}`))
		},
	}
}

func execCmd(addr, token *string) *cobra.Command {
	var cmdType, body string
	c := &cobra.Command{
		Use:   "exec",
		Short: "Send one arbitrary command envelope and print the reply",
		RunE: func(cmd *cobra.Command, args []string) error {
			raw := json.RawMessage(body)
			if len(raw) == 0 {
				raw = json.RawMessage(`{}`)
			}
			return runOne(*addr, *token, cmdType, raw)
		},
	}
	c.Flags().StringVar(&cmdType, "type", "", "command type, e.g. directory.list")
	c.Flags().StringVar(&body, "body", "{}", "command body, merged with the type field")
	_ = c.MarkFlagRequired("type")
	return c
}

func runOne(addr, token, cmdType string, body json.RawMessage) error {
	conn, err := net.DialTimeout("tcp", addr, 5*time.Second)
	if err != nil {
		return fmt.Errorf("agentrailsctl: dial %s: %w", addr, err)
	}
	defer conn.Close()

	w := codec.NewWriter(conn)
	r := codec.NewReader(conn)

	if err := w.WriteEnvelope(codec.AuthEnvelope{Kind: codec.KindAuth, Token: token}); err != nil {
		return fmt.Errorf("agentrailsctl: send auth: %w", err)
	}
	kind, raw, err := r.ReadEnvelope()
	if err != nil {
		return fmt.Errorf("agentrailsctl: read auth reply: %w", err)
	}
	if kind != codec.KindAuthOK {
		return fmt.Errorf("agentrailsctl: auth rejected: %s", string(raw))
	}

	command, err := mergeType(cmdType, body)
	if err != nil {
		return err
	}
	commandID := "agentrailsctl-1"
	if err := w.WriteEnvelope(codec.CommandEnvelope{Kind: codec.KindCommand, CommandID: commandID, Command: command}); err != nil {
		return fmt.Errorf("agentrailsctl: send command: %w", err)
	}

	for {
		kind, raw, err := r.ReadEnvelope()
		if err != nil {
			return fmt.Errorf("agentrailsctl: read reply: %w", err)
		}
		printEnvelope(kind, raw)
		if kind == codec.KindCommandCompleted || kind == codec.KindCommandFailed {
			return nil
		}
	}
}

func mergeType(cmdType string, body json.RawMessage) (json.RawMessage, error) {
	var m map[string]interface{}
	if err := json.Unmarshal(body, &m); err != nil {
		return nil, fmt.Errorf("agentrailsctl: malformed --body: %w", err)
	}
	m["type"] = cmdType
	return json.Marshal(m)
}

func printEnvelope(kind string, raw json.RawMessage) {
	w := bufio.NewWriter(os.Stdout)
	defer w.Flush()
	fmt.Fprintf(w, "%s %s\n", kind, string(raw))
}
