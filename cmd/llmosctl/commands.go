package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/llmos-dev/llmos-actions/internal/bus"
	"github.com/llmos-dev/llmos-actions/pkg/schema"
	"github.com/llmos-dev/llmos-actions/pkg/sdk"
)

const defaultAddr = "localhost:7101"

// GlobalFlags holds the persistent flags shared by every subcommand.
type GlobalFlags struct {
	Addr string
}

// EmitFlags holds the per-kind fields of the emit command.
type EmitFlags struct {
	Source    string
	Level     string
	Operation string
	Method    string
	AppName   string
	Model     string
	Reason    string
}

// WatchFlags holds the NATS connection for the watch command.
type WatchFlags struct {
	NATSURL string
	Prefix  string
}

type connectFunc func(addr string) (sdk.ActionService, error)

// session opens one connection per command invocation.
type session struct {
	flags   *GlobalFlags
	connect connectFunc
	out     io.Writer
}

func (s *session) with(fn func(svc sdk.ActionService) error) error {
	svc, err := s.connect(s.flags.Addr)
	if err != nil {
		return fmt.Errorf("failed to connect to %s: %w", s.flags.Addr, err)
	}
	defer svc.Close()
	return fn(svc)
}

func (s *session) printJSON(v any) error {
	enc := json.NewEncoder(s.out)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func (s *session) printRecord(rec schema.ActionRecord, err error) error {
	if err != nil {
		return err
	}
	return s.printJSON(rec)
}

func buildRoot(connect connectFunc, out io.Writer) *cobra.Command {
	flags := &GlobalFlags{}
	s := &session{flags: flags, connect: connect, out: out}

	root := &cobra.Command{
		Use:   "llmosctl",
		Short: "Inspect and decide on LLM-OS actions",
		Long: `llmosctl talks to a running llmos-actiond over its TCP protocol.

Examples:
  llmosctl list --status awaiting_approval
  llmosctl approve 0191c0de-...
  llmosctl reject 0191c0de-... "touches system files"
  llmosctl emit file /etc/hosts --operation write --level 2`,
		SilenceUsage: true,
	}

	addr := os.Getenv(sdk.AddrEnv)
	if addr == "" {
		addr = defaultAddr
	}
	root.PersistentFlags().StringVar(&flags.Addr, "addr", addr, "daemon address (env "+sdk.AddrEnv+")")

	root.AddCommand(
		createListCommand(s),
		createGetCommand(s),
		createApproveCommand(s),
		createRejectCommand(s),
		createCompleteCommand(s),
		createFailCommand(s),
		createCleanupCommand(s),
		createEmitCommand(s, &EmitFlags{}),
		createPingCommand(s),
		createWatchCommand(s, &WatchFlags{}),
	)
	return root
}

func createListCommand(s *session) *cobra.Command {
	var status string
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List actions in emission order",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return s.with(func(svc sdk.ActionService) error {
				var list []schema.ActionRecord
				var err error
				if status != "" {
					st := schema.Status(status)
					if !st.Valid() {
						return fmt.Errorf("unknown status %q", status)
					}
					list, err = svc.ListByStatus(st)
				} else {
					list, err = svc.List()
				}
				if err != nil {
					return err
				}
				return s.printJSON(list)
			})
		},
	}
	cmd.Flags().StringVar(&status, "status", "", "only show actions in this status")
	return cmd
}

func createGetCommand(s *session) *cobra.Command {
	return &cobra.Command{
		Use:   "get <id>",
		Short: "Show one action",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return s.with(func(svc sdk.ActionService) error {
				return s.printRecord(svc.Get(args[0]))
			})
		},
	}
}

func createApproveCommand(s *session) *cobra.Command {
	return &cobra.Command{
		Use:   "approve <id>",
		Short: "Approve an action awaiting approval",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return s.with(func(svc sdk.ActionService) error {
				return s.printRecord(svc.Approve(args[0]))
			})
		},
	}
}

func createRejectCommand(s *session) *cobra.Command {
	return &cobra.Command{
		Use:   "reject <id> [reason...]",
		Short: "Reject an action awaiting approval",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return s.with(func(svc sdk.ActionService) error {
				return s.printRecord(svc.Reject(args[0], strings.Join(args[1:], " ")))
			})
		},
	}
}

func createCompleteCommand(s *session) *cobra.Command {
	return &cobra.Command{
		Use:   "complete <id> [result]",
		Short: "Mark an executing action completed",
		Long:  "The optional result is parsed as JSON; anything else is stored as a string.",
		Args:  cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			var result any
			if len(args) == 2 {
				if err := json.Unmarshal([]byte(args[1]), &result); err != nil {
					// If not valid JSON, treat as string
					result = args[1]
				}
			}
			return s.with(func(svc sdk.ActionService) error {
				return s.printRecord(svc.Complete(args[0], result))
			})
		},
	}
}

func createFailCommand(s *session) *cobra.Command {
	return &cobra.Command{
		Use:   "fail <id> <message...>",
		Short: "Mark an executing action failed",
		Args:  cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return s.with(func(svc sdk.ActionService) error {
				return s.printRecord(svc.Fail(args[0], strings.Join(args[1:], " ")))
			})
		},
	}
}

func createCleanupCommand(s *session) *cobra.Command {
	return &cobra.Command{
		Use:   "cleanup <keep-last>",
		Short: "Drop all but the newest actions from the live log",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			n, err := sdk.ParseKeepLast(args[0])
			if err != nil {
				return err
			}
			return s.with(func(svc sdk.ActionService) error {
				dropped, err := svc.Cleanup(n)
				if err != nil {
					return err
				}
				_, err = fmt.Fprintf(s.out, "dropped %d\n", dropped)
				return err
			})
		},
	}
}

func createEmitCommand(s *session, f *EmitFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "emit <kind> <target...>",
		Short: "Propose a new action",
		Long: `Propose a new action through the daemon's producer helpers.

The target depends on the kind:
  command            the command line
  file               the path (with --operation)
  network            the url (with --method)
  app                the app id (with --app-name)
  ai                 the prompt (with --model)
  approval_required  the subject (with --reason)`,
		Args: cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			req, err := buildRequest(schema.Kind(args[0]), strings.Join(args[1:], " "), f)
			if err != nil {
				return err
			}
			return s.with(func(svc sdk.ActionService) error {
				return s.printRecord(svc.Emit(req))
			})
		},
	}
	cmd.Flags().StringVar(&f.Source, "source", "", "terminal, app or system (default depends on kind)")
	cmd.Flags().StringVar(&f.Level, "level", "", "autonomy level 1-4 or name (default: daemon setting)")
	cmd.Flags().StringVar(&f.Operation, "operation", "read", "file operation")
	cmd.Flags().StringVar(&f.Method, "method", "GET", "HTTP method for network actions")
	cmd.Flags().StringVar(&f.AppName, "app-name", "", "display name for app actions")
	cmd.Flags().StringVar(&f.Model, "model", "", "model for ai actions")
	cmd.Flags().StringVar(&f.Reason, "reason", "", "reason for approval_required actions")
	return cmd
}

func buildRequest(kind schema.Kind, target string, f *EmitFlags) (sdk.Request, error) {
	if !kind.Valid() {
		return sdk.Request{}, fmt.Errorf("unknown kind %q", kind)
	}
	req := sdk.Request{Kind: kind, Source: schema.Source(f.Source)}
	if f.Level != "" {
		level, err := schema.ParseAutonomyLevel(f.Level)
		if err != nil {
			return sdk.Request{}, err
		}
		req.AutonomyLevel = level
	}
	switch kind {
	case schema.KindCommand:
		req.Command = target
	case schema.KindFile:
		req.Path, req.Operation = target, f.Operation
	case schema.KindNetwork:
		req.URL, req.Method = target, f.Method
	case schema.KindApp:
		req.AppID, req.AppName = target, f.AppName
	case schema.KindAI:
		req.Prompt, req.Model = target, f.Model
	case schema.KindApprovalRequired:
		req.Subject, req.Reason = target, f.Reason
	}
	return req, nil
}

type pinger interface {
	Ping() error
}

func createPingCommand(s *session) *cobra.Command {
	return &cobra.Command{
		Use:   "ping",
		Short: "Check that the daemon answers",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return s.with(func(svc sdk.ActionService) error {
				p, ok := svc.(pinger)
				if !ok {
					return errors.New("connection does not support ping")
				}
				if err := p.Ping(); err != nil {
					return err
				}
				_, err := fmt.Fprintln(s.out, "PONG")
				return err
			})
		},
	}
}

func createWatchCommand(s *session, f *WatchFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Follow action notifications published on NATS",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			b, err := bus.New(f.NATSURL)
			if err != nil {
				return fmt.Errorf("failed to connect to %s: %w", f.NATSURL, err)
			}
			defer b.Close()

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			sub, err := b.SubscribeActions(ctx, f.Prefix, func(rec schema.ActionRecord) {
				fmt.Fprintf(s.out, "%s  %-17s %-8s %s\n", rec.UpdatedAt.Format("15:04:05"), rec.Status, rec.Kind, rec.Title)
			})
			if err != nil {
				return err
			}
			defer sub.Close()

			<-ctx.Done()
			return nil
		},
	}
	cmd.Flags().StringVar(&f.NATSURL, "nats-url", "nats://127.0.0.1:4222", "NATS server URL")
	cmd.Flags().StringVar(&f.Prefix, "prefix", bus.DefaultPrefix, "subject prefix")
	return cmd
}
