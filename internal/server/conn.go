package server

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"log/slog"
	"net"
	"sync"

	"github.com/agentrails/agentrailsd/internal/codec"
	"github.com/agentrails/agentrailsd/internal/dispatch"
	"github.com/agentrails/agentrailsd/internal/types"
)

// attachment is one live pty.attach the connection must tear down on
// close (spec.md section 5's connection-close cleanup).
type attachment struct {
	sessionID    string
	attachmentID string
}

// conn owns one accepted TCP connection: its codec reader/writer pair,
// the serialized write path every emitted envelope goes through, and
// the bookkeeping needed to unwind PTY attachments and subscriptions
// when the connection drops.
type conn struct {
	id  string
	nc  net.Conn
	d   *dispatch.Dispatcher
	log *slog.Logger

	reader *codec.Reader

	writeMu sync.Mutex
	writer  *codec.Writer

	attachMu    sync.Mutex
	attachments []attachment
}

func newConn(id string, nc net.Conn, d *dispatch.Dispatcher, log *slog.Logger) *conn {
	return &conn{
		id:     id,
		nc:     nc,
		d:      d,
		log:    log,
		reader: codec.NewReader(nc),
		writer: codec.NewWriter(nc),
	}
}

// authenticate reads the connection's first line, which must be an
// "auth" envelope. An empty expectedToken disables auth entirely
// (loopback deployments); otherwise the presented token must match
// exactly. On success it writes auth.ok and returns true; on failure
// it writes a single command.failed-shaped reply and returns false,
// the caller then closing the connection (spec.md section 7's Auth
// taxonomy).
func (c *conn) authenticate(expectedToken string) bool {
	kind, raw, err := c.reader.ReadEnvelope()
	if err != nil {
		return false
	}
	if kind != codec.KindAuth {
		c.writeAuthFailure("expected auth envelope")
		return false
	}
	var env codec.AuthEnvelope
	if err := decodeInto(raw, &env); err != nil {
		c.writeAuthFailure("malformed auth envelope")
		return false
	}
	if expectedToken != "" {
		if subtle.ConstantTimeCompare([]byte(env.Token), []byte(expectedToken)) != 1 {
			c.writeAuthFailure("invalid auth token")
			return false
		}
	}
	c.write(codec.AuthOKEnvelope{Kind: codec.KindAuthOK})
	return true
}

func (c *conn) writeAuthFailure(reason string) {
	c.write(codec.CommandFailedEnvelope{Kind: codec.KindCommandFailed, CommandID: "auth", Error: reason})
}

// serve reads envelopes until the connection closes or ctx is
// canceled, dispatching each one. Commands are handled synchronously
// on this goroutine, so command.accepted/completed/failed for a given
// connection are always emitted in submission order (spec.md section
// 5).
func (c *conn) serve(ctx context.Context) {
	for {
		if ctx.Err() != nil {
			return
		}
		kind, raw, err := c.reader.ReadEnvelope()
		if err != nil {
			var syntaxErr *json.SyntaxError
			var typeErr *json.UnmarshalTypeError
			if isClosedConnErr(err) || !(errors.As(err, &syntaxErr) || errors.As(err, &typeErr)) {
				// A read error other than a bad JSON line leaves the
				// scanner failed for good; stop serving.
				return
			}
			// Malformed JSON line: dropped with a logged
			// parse-failure, connection stays open (spec.md
			// section 4.A).
			c.log.Warn("dropped malformed frame", "conn", c.id, "error", err)
			continue
		}

		switch kind {
		case codec.KindCommand:
			c.handleCommand(ctx, raw)
		case codec.KindPTYInput:
			c.handlePTYInput(raw)
		case codec.KindPTYResize:
			c.handlePTYResize(raw)
		case codec.KindPTYSignal:
			c.handlePTYSignal(raw)
		default:
			// Unknown envelope kinds are ignored (spec.md section 6).
		}
	}
}

func (c *conn) handleCommand(ctx context.Context, raw []byte) {
	var env codec.CommandEnvelope
	if err := decodeInto(raw, &env); err != nil {
		return
	}
	c.write(codec.CommandAcceptedEnvelope{Kind: codec.KindCommandAccepted, CommandID: env.CommandID})

	var mc minimalCommand
	if err := json.Unmarshal(env.Command, &mc); err != nil {
		c.write(codec.CommandFailedEnvelope{Kind: codec.KindCommandFailed, CommandID: env.CommandID, Error: "malformed command body"})
		return
	}

	result, err := c.d.Dispatch(ctx, c.id, c, mc.Type, env.Command)
	if err != nil {
		c.write(codec.CommandFailedEnvelope{Kind: codec.KindCommandFailed, CommandID: env.CommandID, Error: err.Error()})
		return
	}
	c.trackResult(mc.Type, env.Command, result)
	c.write(codec.CommandCompletedEnvelope{Kind: codec.KindCommandCompleted, CommandID: env.CommandID, Result: result})
}

// trackResult records pty.attach attachment ids (paired with the
// sessionId the request named) so cleanup can detach them on
// connection close; stream.subscribe/pty.subscribe-events
// subscriptions are torn down in bulk via Router.UnsubscribeConn
// instead, since the Router already indexes subscriptions by
// connection id.
func (c *conn) trackResult(cmdType string, command, result json.RawMessage) {
	if cmdType != dispatch.CmdPTYAttach {
		return
	}
	var parsedResult struct {
		AttachmentID string `json:"attachmentId"`
	}
	if err := json.Unmarshal(result, &parsedResult); err != nil || parsedResult.AttachmentID == "" {
		return
	}
	var parsedCommand struct {
		SessionID string `json:"sessionId"`
	}
	if err := json.Unmarshal(command, &parsedCommand); err != nil || parsedCommand.SessionID == "" {
		return
	}
	c.trackAttachment(parsedCommand.SessionID, parsedResult.AttachmentID)
}

func (c *conn) trackAttachment(sessionID, attachmentID string) {
	c.attachMu.Lock()
	c.attachments = append(c.attachments, attachment{sessionID: sessionID, attachmentID: attachmentID})
	c.attachMu.Unlock()
}

func (c *conn) handlePTYInput(raw []byte) {
	var env codec.PTYInputEnvelope
	if err := decodeInto(raw, &env); err != nil {
		return
	}
	data, err := decodeBase64(env.DataBase64)
	if err != nil {
		c.log.Warn("malformed pty.input base64", "conn", c.id, "session", env.SessionID)
		return
	}
	if err := c.d.Supervisor.Write(env.SessionID, data); err != nil {
		c.log.Debug("pty.input write failed", "conn", c.id, "session", env.SessionID, "error", err)
	}
}

func (c *conn) handlePTYResize(raw []byte) {
	var env codec.PTYResizeEnvelope
	if err := decodeInto(raw, &env); err != nil {
		return
	}
	if err := c.d.Supervisor.Resize(env.SessionID, env.Cols, env.Rows); err != nil {
		c.log.Debug("pty.resize failed", "conn", c.id, "session", env.SessionID, "error", err)
	}
}

func (c *conn) handlePTYSignal(raw []byte) {
	var env codec.PTYSignalEnvelope
	if err := decodeInto(raw, &env); err != nil {
		return
	}
	if err := c.d.Supervisor.Signal(env.SessionID, string(env.Signal)); err != nil {
		c.log.Debug("pty.signal failed", "conn", c.id, "session", env.SessionID, "error", err)
	}
}

// cleanup tears down every subscription and PTY attachment this
// connection owns (spec.md section 5: "Connection close: drops all
// subscriptions and pending commands for that connection").
func (c *conn) cleanup() {
	_ = c.nc.Close()
	c.d.Router.UnsubscribeConn(c.id)

	c.attachMu.Lock()
	attached := c.attachments
	c.attachments = nil
	c.attachMu.Unlock()
	for _, a := range attached {
		c.d.Supervisor.Detach(a.sessionID, a.attachmentID)
	}
}

func (c *conn) write(v interface{}) {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	if err := c.writer.WriteEnvelope(v); err != nil {
		c.log.Debug("write failed", "conn", c.id, "error", err)
	}
}

// dispatch.OutputSink implementation. All four push envelopes directly
// onto the connection's writer; EmitPTYOutput/EmitPTYEvent/EmitPTYExit
// may be called concurrently from the PTY's reader goroutine while
// EmitStreamEvent is called from a subscription's pump goroutine, so
// every write goes through conn.write's shared mutex (spec.md section
// 5: "Writes never interleave partial frames").

func (c *conn) EmitPTYOutput(sessionID string, cursor int64, data []byte) {
	c.write(codec.PTYOutputEnvelope{
		Kind:        codec.KindPTYOutput,
		SessionID:   sessionID,
		Cursor:      cursor,
		ChunkBase64: encodeBase64(data),
	})
}

func (c *conn) EmitPTYEvent(sessionID string, event json.RawMessage) {
	c.write(codec.PTYEventEnvelope{Kind: codec.KindPTYEvent, SessionID: sessionID, Event: event})
}

func (c *conn) EmitPTYExit(sessionID string, exit types.RuntimeExit) {
	c.write(codec.PTYExitEnvelope{
		Kind:      codec.KindPTYExit,
		SessionID: sessionID,
		Exit:      codec.PTYExit{Code: exit.Code, Signal: exit.Signal},
	})
}

func (c *conn) EmitStreamEvent(subscriptionID string, cursor int64, event types.Event) {
	raw, err := json.Marshal(event)
	if err != nil {
		return
	}
	c.write(codec.StreamEventEnvelope{
		Kind:           codec.KindStreamEvent,
		SubscriptionID: subscriptionID,
		Cursor:         cursor,
		Event:          raw,
	})
}
