package app

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/Khin-96/KhinsLLM/internal/khins/agent"
)

// exitWords end a console session.
var exitWords = map[string]struct{}{"exit": {}, "quit": {}, "bye": {}}

// RunConsole chats over a line-oriented stream (typically stdin/stdout). It
// prints the greeting, then answers each line until EOF, an exit word or ctx
// is done.
func (a *App) RunConsole(ctx context.Context, in io.Reader, out io.Writer) error {
	fmt.Fprintf(out, "Khin: %s\n", a.agent.Greeting())

	lines := make(chan string)
	scanErr := make(chan error, 1)
	go func() {
		defer close(lines)
		sc := bufio.NewScanner(in)
		for sc.Scan() {
			select {
			case lines <- sc.Text():
			case <-ctx.Done():
				return
			}
		}
		scanErr <- sc.Err()
	}()

	for {
		fmt.Fprint(out, "> ")
		var line string
		select {
		case <-ctx.Done():
			fmt.Fprintln(out)
			return nil
		case l, ok := <-lines:
			if !ok {
				fmt.Fprintln(out)
				select {
				case err := <-scanErr:
					return err
				default:
					return nil
				}
			}
			line = strings.TrimSpace(l)
		}

		if line == "" {
			continue
		}
		if _, ok := exitWords[strings.ToLower(line)]; ok {
			fmt.Fprintln(out, "Khin: later!")
			return nil
		}

		reply, err := a.agent.HandleTurn(ctx, agent.Turn{Text: line, Source: agent.SourceChat})
		switch {
		case err != nil && reply.Text == "":
			fmt.Fprintf(out, "Khin: (%s)\n", consoleError(err))
		case reply.Silent:
		default:
			fmt.Fprintf(out, "Khin: %s\n", reply.Text)
		}
	}
}

func consoleError(err error) string {
	switch {
	case errors.Is(err, agent.ErrRateLimited):
		return "slow down a little"
	default:
		return err.Error()
	}
}
