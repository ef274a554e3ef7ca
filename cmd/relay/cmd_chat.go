package main

import (
	"bufio"
	"fmt"
	"io"
	"strings"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
	"github.com/tidwall/gjson"

	"github.com/fwojciec/relay"
	"github.com/fwojciec/relay/agent"
)

func newChatCmd(load loadFunc) *cobra.Command {
	var model, conversationID string
	cmd := &cobra.Command{
		Use:   "chat [message]",
		Short: "Run conversation turns from the terminal",
		Long: "Sends message as one turn and exits. Without a message, reads one " +
			"message per line from stdin until EOF.",
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := load()
			if err != nil {
				return err
			}
			a, err := newApp(cmd.Context(), cfg)
			if err != nil {
				return err
			}
			defer a.close()

			ws := cfg.Workspace.Relay()
			switch {
			case ws.ModelOverride != "":
				model = ws.ModelOverride
			case model == "":
				model = cfg.Agent.DefaultModel
			}
			adapter, err := a.registry.Create(model)
			if err != nil {
				return err
			}

			s := &session{
				app:     a,
				adapter: adapter,
				request: relay.Request{
					Model:            model,
					SystemPrompt:     ws.SystemPrompt,
					Tools:            ws.FilterTools(a.executor.Tools()),
					ReasoningEffort:  ws.ReasoningEffort,
					ReasoningSummary: ws.ReasoningSummary,
				},
				out: newPrinter(cmd.OutOrStdout()),
			}
			ctx := a.logger.WithContext(cmd.Context())
			if conversationID != "" {
				s.id = conversationID
				if s.history, s.tail, err = a.log.Load(ctx, conversationID); err != nil {
					return err
				}
			} else {
				s.id = relay.NewID()
			}
			fmt.Fprintf(cmd.ErrOrStderr(), "conversation %s (%s)\n", s.id, model)

			if len(args) == 1 {
				return s.turn(cmd, args[0])
			}
			sc := bufio.NewScanner(cmd.InOrStdin())
			for {
				s.out.prompt()
				if !sc.Scan() {
					return sc.Err()
				}
				msg := strings.TrimSpace(sc.Text())
				if msg == "" {
					continue
				}
				if err := s.turn(cmd, msg); err != nil {
					fmt.Fprintln(cmd.ErrOrStderr(), color.RedString("error: %v", err))
				}
				if cmd.Context().Err() != nil {
					return nil
				}
			}
		},
	}
	cmd.Flags().StringVarP(&model, "model", "m", "", "model to converse with (default from config)")
	cmd.Flags().StringVarP(&conversationID, "conversation", "c", "", "continue a stored conversation")
	return cmd
}

// session carries a conversation across terminal turns.
type session struct {
	app     *app
	adapter relay.Adapter
	request relay.Request
	out     *printer

	id      string
	history []relay.Event
	tail    string
}

func (s *session) turn(cmd *cobra.Command, msg string) error {
	ctx := s.app.logger.WithContext(cmd.Context())
	res, err := s.app.loop.Run(ctx, agent.Turn{
		ConversationID: s.id,
		Adapter:        s.adapter,
		History:        s.history,
		TailKey:        s.tail,
		Input:          relay.UserText(msg),
		Request:        s.request,
	}, agent.WithEventHandler(s.out.handle))
	if res != nil {
		s.history = append(s.history, res.Events...)
		s.tail = res.TailKey
	}
	if err != nil {
		return err
	}
	if res.Exhausted {
		s.out.notice("stopped after %d iterations", res.Iterations)
	}
	return nil
}

// printer renders stream events as terminal text.
type printer struct {
	w         io.Writer
	user      func(a ...any) string
	assistant func(a ...any) string
	tool      func(a ...any) string
	faint     func(a ...any) string
	midLine   bool
}

func newPrinter(w io.Writer) *printer {
	return &printer{
		w:         w,
		user:      color.New(color.FgCyan).SprintFunc(),
		assistant: color.New(color.FgMagenta).SprintFunc(),
		tool:      color.New(color.FgYellow).SprintFunc(),
		faint:     color.New(color.Faint).SprintFunc(),
	}
}

func (p *printer) prompt() {
	fmt.Fprintf(p.w, "%s: ", p.user("User"))
}

func (p *printer) notice(format string, args ...any) {
	p.endLine()
	fmt.Fprintln(p.w, p.faint(fmt.Sprintf(format, args...)))
}

func (p *printer) endLine() {
	if p.midLine {
		fmt.Fprintln(p.w)
		p.midLine = false
	}
}

func (p *printer) handle(evt relay.StreamEvent) {
	switch e := evt.(type) {
	case relay.StreamEventStart:
		p.endLine()
		fmt.Fprintf(p.w, "%s: ", p.assistant("Assistant"))
		p.midLine = true
	case relay.StreamEventSegment:
		switch e.Change {
		case relay.ChangeTextDelta:
			fmt.Fprint(p.w, e.Delta)
			p.midLine = true
		case relay.ChangeReasoningDelta:
			fmt.Fprint(p.w, p.faint(e.Delta))
			p.midLine = true
		case relay.ChangeToolCallArgs:
			if call, ok := e.Segment.(relay.ToolCallSegment); ok {
				p.endLine()
				fmt.Fprintf(p.w, "%s%s\n", p.tool(call.Name), string(call.Args))
			}
		case relay.ChangeToolResult:
			if res, ok := e.Segment.(relay.ToolResultSegment); ok {
				p.endLine()
				fmt.Fprintf(p.w, "%s: %s\n", p.tool("Tool"), summarize(res))
			}
		}
	case relay.StreamEventDone:
		p.endLine()
	case relay.StreamEventError:
		p.endLine()
	}
}

// summarize shortens a tool result to the first line of its content.
func summarize(res relay.ToolResultSegment) string {
	if res.Error != "" {
		return "error: " + res.Error
	}
	text := string(res.Output)
	if c := gjson.GetBytes(res.Output, "content"); c.Type == gjson.String {
		text = c.Str
	}
	line, rest, _ := strings.Cut(text, "\n")
	if rest != "" {
		line += " ..."
	}
	return line
}
