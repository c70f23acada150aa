// Package server implements the line-oriented TCP decision protocol.
//
// Each request is one line: a verb followed by space separated arguments.
// Replies are "OK [json]" or "ERR <CODE> <message>".
package server

import (
	"bufio"
	"crypto/tls"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"strconv"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/llmos-dev/llmos-actions/pkg/schema"
	"github.com/llmos-dev/llmos-actions/pkg/sdk"
)

const maxConnections = 100

type Router struct {
	store  sdk.ActionService
	cert   *tls.Certificate
	logger *zap.Logger

	mu       sync.Mutex
	listener net.Listener
	stopped  bool
}

func NewRouter(s sdk.ActionService, logger *zap.Logger) *Router {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Router{store: s, logger: logger}
}

// SetCertificate sets the TLS certificate for the router
func (r *Router) SetCertificate(cert tls.Certificate) {
	r.cert = &cert
}

// Addr returns the bound address once Listen has started, or nil.
func (r *Router) Addr() net.Addr {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.listener == nil {
		return nil
	}
	return r.listener.Addr()
}

// Listen starts the TCP server and blocks until Stop is called.
func (r *Router) Listen(port string) error {
	var listener net.Listener
	var err error

	if r.cert != nil {
		config := &tls.Config{Certificates: []tls.Certificate{*r.cert}}
		listener, err = tls.Listen("tcp", ":"+port, config)
	} else {
		listener, err = net.Listen("tcp", ":"+port)
	}
	if err != nil {
		return err
	}
	r.mu.Lock()
	if r.stopped {
		r.mu.Unlock()
		listener.Close()
		return nil
	}
	r.listener = listener
	r.mu.Unlock()
	defer listener.Close()

	semaphore := make(chan struct{}, maxConnections)

	for {
		conn, err := listener.Accept()
		if err != nil {
			if errors.Is(err, net.ErrClosed) {
				return nil
			}
			continue
		}

		// Set aggressive timeouts for light traffic to prevent resource exhaustion
		conn.SetDeadline(time.Now().Add(5 * time.Minute))

		go func(c net.Conn) {
			semaphore <- struct{}{}
			defer func() {
				<-semaphore
				c.Close()
			}()
			r.HandleConnection(c)
		}(conn)
	}
}

// Stop closes the listener; Listen returns afterwards. A router stopped
// before Listen binds never serves.
func (r *Router) Stop() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.stopped = true
	if r.listener == nil {
		return nil
	}
	return r.listener.Close()
}

// HandleConnection serves one client until it quits or goes idle.
func (r *Router) HandleConnection(conn net.Conn) {
	reader := bufio.NewReader(conn)

	for {
		conn.SetReadDeadline(time.Now().Add(30 * time.Second))

		line, err := reader.ReadString('\n')
		if err != nil {
			return // Connection closed or timeout
		}

		parts := strings.Fields(strings.TrimSpace(line))
		if len(parts) < 1 {
			continue
		}

		command := strings.ToUpper(parts[0])

		switch command {
		case "LIST":
			var list []schema.ActionRecord
			if len(parts) > 1 {
				status := schema.Status(strings.ToLower(parts[1]))
				if !status.Valid() {
					replyErr(conn, sdk.CodeBadRequest, fmt.Sprintf("unknown status %s", parts[1]))
					continue
				}
				list, err = r.store.ListByStatus(status)
			} else {
				list, err = r.store.List()
			}
			r.reply(conn, list, err)

		case "GET":
			if len(parts) < 2 {
				replyErr(conn, sdk.CodeBadRequest, "usage: GET <id>")
				continue
			}
			rec, err := r.store.Get(parts[1])
			r.reply(conn, rec, err)

		case "EMIT":
			if len(parts) < 2 {
				replyErr(conn, sdk.CodeBadRequest, "usage: EMIT <json>")
				continue
			}
			var req sdk.Request
			if err := json.Unmarshal([]byte(tail(line, 1)), &req); err != nil {
				replyErr(conn, sdk.CodeBadRequest, "invalid json request")
				continue
			}
			rec, err := r.store.Emit(req)
			r.reply(conn, rec, err)

		case "APPROVE":
			if len(parts) < 2 {
				replyErr(conn, sdk.CodeBadRequest, "usage: APPROVE <id>")
				continue
			}
			rec, err := r.store.Approve(parts[1])
			r.reply(conn, rec, err)

		case "REJECT":
			if len(parts) < 2 {
				replyErr(conn, sdk.CodeBadRequest, "usage: REJECT <id> <reason>")
				continue
			}
			// The reason is everything after the id
			rec, err := r.store.Reject(parts[1], strings.Join(parts[2:], " "))
			r.reply(conn, rec, err)

		case "COMPLETE":
			if len(parts) < 2 {
				replyErr(conn, sdk.CodeBadRequest, "usage: COMPLETE <id> [json]")
				continue
			}
			var result any
			if len(parts) > 2 {
				if err := json.Unmarshal([]byte(tail(line, 2)), &result); err != nil {
					replyErr(conn, sdk.CodeBadRequest, "invalid json result")
					continue
				}
			}
			rec, err := r.store.Complete(parts[1], result)
			r.reply(conn, rec, err)

		case "FAIL":
			if len(parts) < 3 {
				replyErr(conn, sdk.CodeBadRequest, "usage: FAIL <id> <message>")
				continue
			}
			rec, err := r.store.Fail(parts[1], strings.Join(parts[2:], " "))
			r.reply(conn, rec, err)

		case "CLEANUP":
			if len(parts) < 2 {
				replyErr(conn, sdk.CodeBadRequest, "usage: CLEANUP <keep_last>")
				continue
			}
			n, err := strconv.Atoi(parts[1])
			if err != nil || n < 0 {
				replyErr(conn, sdk.CodeBadRequest, "keep_last must be a non-negative integer")
				continue
			}
			dropped, err := r.store.Cleanup(n)
			r.reply(conn, map[string]int{"dropped": dropped}, err)

		case "PING":
			fmt.Fprintln(conn, "PONG")

		case "QUIT":
			return

		default:
			replyErr(conn, sdk.CodeBadRequest, fmt.Sprintf("unknown command %s", command))
		}
	}
}

func (r *Router) reply(conn net.Conn, v any, err error) {
	if err != nil {
		switch {
		case errors.Is(err, sdk.ErrActionNotFound):
			replyErr(conn, sdk.CodeNotFound, err.Error())
		case errors.Is(err, sdk.ErrTerminalState):
			replyErr(conn, sdk.CodeTerminal, err.Error())
		case errors.Is(err, sdk.ErrInvalidTransition):
			replyErr(conn, sdk.CodeTransition, err.Error())
		case errors.Is(err, sdk.ErrInvalidRequest):
			replyErr(conn, sdk.CodeInvalid, err.Error())
		default:
			r.logger.Error("tcp command failed", zap.Error(err))
			replyErr(conn, sdk.CodeBadRequest, err.Error())
		}
		return
	}
	res, err := json.Marshal(v)
	if err != nil {
		fmt.Fprintln(conn, "ERR internal error")
		return
	}
	fmt.Fprintln(conn, "OK", string(res))
}

func replyErr(conn net.Conn, code, msg string) {
	fmt.Fprintln(conn, "ERR", code, msg)
}

// tail returns line without its first k fields, keeping inner spacing of the
// remainder intact for JSON arguments.
func tail(line string, k int) string {
	s := strings.TrimSpace(line)
	for i := 0; i < k; i++ {
		j := strings.IndexAny(s, " \t")
		if j < 0 {
			return ""
		}
		s = strings.TrimLeft(s[j:], " \t")
	}
	return s
}
