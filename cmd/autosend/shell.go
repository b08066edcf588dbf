package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"autosend/internal/app"
	"autosend/internal/schedule"
)

const shellHelp = `commands (fields separated by "|", \n in a message starts a new line):
  once <to> | <time> | <message>
  recurring <to> | weekly|monthly | <days> | <HH:MM[:SS]> | <message>
  now <to> | <message>
  stop
  status
  test <to>
  history [n]
  quit`

var errQuit = errors.New("quit")

// command is one parsed shell line.
type command struct {
	name string
	args []string
}

// parseCommand splits "verb rest" and then rest on "|". Fields are trimmed;
// empty fields are kept so validation can report them.
func parseCommand(line string) (command, bool) {
	line = strings.TrimSpace(line)
	if line == "" || strings.HasPrefix(line, "#") {
		return command{}, false
	}
	name, rest, _ := strings.Cut(line, " ")
	c := command{name: strings.ToLower(name)}
	if rest = strings.TrimSpace(rest); rest != "" {
		for _, f := range strings.Split(rest, "|") {
			c.args = append(c.args, strings.TrimSpace(f))
		}
	}
	return c, true
}

type shell struct {
	app *app.App
	out io.Writer
	now func() time.Time
}

func (sh *shell) run(ctx context.Context, in io.Reader) error {
	if sh.now == nil {
		sh.now = time.Now
	}
	lines := make(chan string)
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
	}()

	fmt.Fprintln(sh.out, gray(`type "help" for commands`))
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-sh.app.Done():
			return sh.app.Err()
		case line, ok := <-lines:
			if !ok {
				return nil
			}
			c, ok := parseCommand(line)
			if !ok {
				continue
			}
			err := sh.exec(ctx, c)
			if errors.Is(err, errQuit) {
				return nil
			}
			if err != nil {
				fmt.Fprintln(sh.out, red(err.Error()))
			}
		}
	}
}

func (sh *shell) exec(ctx context.Context, c command) error {
	sched := sh.app.Scheduler()
	switch c.name {
	case "help", "?":
		fmt.Fprintln(sh.out, shellHelp)
	case "quit", "exit":
		return errQuit
	case "stop":
		sched.Stop()
	case "status":
		info := sched.Info()
		line := "status: " + info.Phase.String()
		if info.Active != nil {
			line += fmt.Sprintf(", %s to %q", info.Active.Kind, info.Active.Target)
			if info.Active.Kind == schedule.Recurring {
				line += " (" + info.Active.Recurrence.String() + ")"
			}
		}
		if !info.Next.IsZero() {
			line += ", next " + info.Next.Format("2006-01-02 15:04:05")
		}
		fmt.Fprintln(sh.out, bold(line))
	case "once":
		if len(c.args) != 3 {
			return errors.New("usage: once <to> | <time> | <message>")
		}
		at, err := parseAt(c.args[1], sh.now(), sh.app.Location())
		if err != nil {
			return err
		}
		return sched.StartOnce(c.args[0], unescapeMessage(c.args[2]), at)
	case "recurring":
		if len(c.args) != 5 {
			return errors.New("usage: recurring <to> | weekly|monthly | <days> | <HH:MM[:SS]> | <message>")
		}
		unit, err := schedule.ParseUnit(c.args[1])
		if err != nil {
			return err
		}
		sel, err := schedule.ParseSelectors(unit, c.args[2])
		if err != nil {
			return err
		}
		tod, err := schedule.ParseTimeOfDay(c.args[3])
		if err != nil {
			return err
		}
		return sched.StartRecurring(c.args[0], unescapeMessage(c.args[4]), sel, tod, unit)
	case "now":
		if len(c.args) != 2 {
			return errors.New("usage: now <to> | <message>")
		}
		// The outcome arrives on the status channel.
		_, err := sched.SendNow(c.args[0], unescapeMessage(c.args[1]))
		return err
	case "test":
		if len(c.args) != 1 {
			return errors.New("usage: test <to>")
		}
		return sched.SelfTest(ctx, c.args[0])
	case "history":
		n := 10
		if len(c.args) == 1 {
			v, err := strconv.Atoi(c.args[0])
			if err != nil || v <= 0 {
				return fmt.Errorf("history: bad count %q", c.args[0])
			}
			n = v
		}
		recs, err := sh.app.History(ctx, n)
		if err != nil {
			return err
		}
		printHistory(sh.out, recs)
	default:
		return fmt.Errorf("unknown command %q (try \"help\")", c.name)
	}
	return nil
}
