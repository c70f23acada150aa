// Package sdk provides the client-side library for the action registry.
// It supports both remote connections via TCP/TLS and local embedded mode.
package sdk

import (
	"bufio"
	"crypto/tls"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/llmos-dev/llmos-actions/pkg/schema"
)

// DisableTLSEnv turns the client (and daemon) transport into plain TCP when set to "true".
const DisableTLSEnv = "LLMOS_DISABLE_TLS"

// Error codes sent by the daemon after "ERR".
const (
	CodeNotFound   = "NOT_FOUND"
	CodeTerminal   = "TERMINAL"
	CodeTransition = "TRANSITION"
	CodeInvalid    = "INVALID"
	CodeBadRequest = "BAD_REQUEST"
)

// Client is a remote client for the action daemon.
// It implements the ActionService interface.
type Client struct {
	addr   string
	conn   net.Conn
	reader *bufio.Reader
	mu     sync.Mutex // Protects concurrent access to the connection
}

// Connect establishes a TLS-encrypted connection to a remote action daemon.
// If LLMOS_DISABLE_TLS is set to "true", it falls back to plain TCP.
func Connect(addr string) (*Client, error) {
	c := &Client{addr: addr}
	if err := c.reconnect(); err != nil {
		return nil, err
	}
	return c, nil
}

func (c *Client) reconnect() error {
	if c.conn != nil {
		c.conn.Close()
		c.conn = nil
	}

	var conn net.Conn
	var err error

	dialer := &net.Dialer{
		Timeout:   10 * time.Second,
		KeepAlive: 60 * time.Second,
	}

	if os.Getenv(DisableTLSEnv) == "true" {
		conn, err = dialer.Dial("tcp", c.addr)
	} else {
		config := &tls.Config{
			InsecureSkipVerify: true, // the daemon uses a self-signed certificate
		}
		conn, err = tls.DialWithDialer(dialer, "tcp", c.addr, config)
	}
	if err != nil {
		return err
	}

	c.conn = conn
	c.reader = bufio.NewReader(conn)
	return nil
}

// ErrReplyLost is returned when a command that changes state was sent but its
// reply never arrived. The daemon may or may not have applied it.
var ErrReplyLost = errors.New("reply lost after command was sent")

// readOnlyVerbs can be resent after a lost reply without side effects.
var readOnlyVerbs = map[string]bool{"LIST": true, "GET": true, "PING": true}

// sendAndReceive writes one command line and returns the reply with "OK " stripped.
// A failed write is always retried. A lost reply is retried only for read-only
// verbs; other commands reconnect and report ErrReplyLost.
func (c *Client) sendAndReceive(cmd string) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	verb, _, _ := strings.Cut(cmd, " ")
	var err error
	var resp string

	// Try up to 3 times with backoff
	for i := 0; i < 3; i++ {
		if c.conn == nil {
			if reconnectErr := c.reconnect(); reconnectErr != nil {
				err = fmt.Errorf("reconnect failed: %w", reconnectErr)
				time.Sleep(time.Duration(i*100) * time.Millisecond)
				continue
			}
		}

		c.conn.SetDeadline(time.Now().Add(30 * time.Second))

		_, err = fmt.Fprint(c.conn, cmd+"\n")
		if err == nil {
			resp, err = c.reader.ReadString('\n')
			if err == nil {
				resp = strings.TrimSpace(resp)
				if strings.HasPrefix(resp, "ERR") {
					return "", decodeError(strings.TrimSpace(strings.TrimPrefix(resp, "ERR")))
				}
				return strings.TrimSpace(strings.TrimPrefix(resp, "OK")), nil
			}
			if !readOnlyVerbs[verb] {
				if closeErr := c.reconnect(); closeErr != nil {
					fmt.Fprintf(os.Stderr, "[llmos sdk] Reconnect attempt failed: %v\n", closeErr)
				}
				return "", fmt.Errorf("%s: %w: %v", verb, ErrReplyLost, err)
			}
		}

		fmt.Fprintf(os.Stderr, "[llmos sdk] Attempt %d failed: %v. Reconnecting...\n", i+1, err)

		if closeErr := c.reconnect(); closeErr != nil {
			fmt.Fprintf(os.Stderr, "[llmos sdk] Reconnect attempt failed: %v\n", closeErr)
		}

		time.Sleep(time.Duration((i+1)*200) * time.Millisecond)
	}

	return "", fmt.Errorf("failed after 3 attempts. last error: %v", err)
}

// decodeError maps "<CODE> <message>" back to the sentinel errors.
func decodeError(body string) error {
	code, msg, _ := strings.Cut(body, " ")
	switch code {
	case CodeNotFound:
		return ErrActionNotFound
	case CodeTerminal:
		return ErrTerminalState
	case CodeTransition:
		return fmt.Errorf("%w: %s", ErrInvalidTransition, strings.TrimPrefix(msg, ErrInvalidTransition.Error()+": "))
	case CodeInvalid:
		return fmt.Errorf("%w: %s", ErrInvalidRequest, strings.TrimPrefix(msg, ErrInvalidRequest.Error()+": "))
	case CodeBadRequest:
		return errors.New(msg)
	}
	return errors.New(body)
}

func (c *Client) record(cmd string) (schema.ActionRecord, error) {
	resp, err := c.sendAndReceive(cmd)
	if err != nil {
		return schema.ActionRecord{}, err
	}
	var rec schema.ActionRecord
	err = json.Unmarshal([]byte(resp), &rec)
	return rec, err
}

func (c *Client) records(cmd string) ([]schema.ActionRecord, error) {
	resp, err := c.sendAndReceive(cmd)
	if err != nil {
		return nil, err
	}
	var list []schema.ActionRecord
	err = json.Unmarshal([]byte(resp), &list)
	return list, err
}

func (c *Client) List() ([]schema.ActionRecord, error) {
	return c.records("LIST")
}

func (c *Client) ListByStatus(status schema.Status) ([]schema.ActionRecord, error) {
	return c.records(fmt.Sprintf("LIST %s", status))
}

func (c *Client) Get(id string) (schema.ActionRecord, error) {
	return c.record(fmt.Sprintf("GET %s", id))
}

// Emit sends the request as a single JSON line.
func (c *Client) Emit(req Request) (schema.ActionRecord, error) {
	jsonData, err := json.Marshal(req)
	if err != nil {
		return schema.ActionRecord{}, err
	}
	return c.record(fmt.Sprintf("EMIT %s", string(jsonData)))
}

func (c *Client) Approve(id string) (schema.ActionRecord, error) {
	return c.record(fmt.Sprintf("APPROVE %s", id))
}

func (c *Client) Reject(id, reason string) (schema.ActionRecord, error) {
	return c.record(fmt.Sprintf("REJECT %s %s", id, oneLine(reason)))
}

func (c *Client) Complete(id string, result any) (schema.ActionRecord, error) {
	if result == nil {
		return c.record(fmt.Sprintf("COMPLETE %s", id))
	}
	jsonData, err := json.Marshal(result)
	if err != nil {
		return schema.ActionRecord{}, err
	}
	return c.record(fmt.Sprintf("COMPLETE %s %s", id, string(jsonData)))
}

func (c *Client) Fail(id, errMsg string) (schema.ActionRecord, error) {
	return c.record(fmt.Sprintf("FAIL %s %s", id, oneLine(errMsg)))
}

func (c *Client) Cleanup(keepLast int) (int, error) {
	resp, err := c.sendAndReceive(fmt.Sprintf("CLEANUP %d", keepLast))
	if err != nil {
		return 0, err
	}
	var out struct {
		Dropped int `json:"dropped"`
	}
	err = json.Unmarshal([]byte(resp), &out)
	return out.Dropped, err
}

// Ping checks that the daemon answers.
func (c *Client) Ping() error {
	resp, err := c.sendAndReceive("PING")
	if err != nil {
		return err
	}
	if resp != "PONG" {
		return fmt.Errorf("unexpected ping reply %q", resp)
	}
	return nil
}

func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.conn == nil {
		return nil
	}
	fmt.Fprintln(c.conn, "QUIT")
	err := c.conn.Close()
	c.conn = nil
	return err
}

func oneLine(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

// ParseKeepLast is shared by CLI front-ends.
func ParseKeepLast(s string) (int, error) {
	n, err := strconv.Atoi(s)
	if err != nil {
		return 0, fmt.Errorf("keep-last must be an integer: %w", err)
	}
	if n < 0 {
		return 0, fmt.Errorf("keep-last must not be negative")
	}
	return n, nil
}
