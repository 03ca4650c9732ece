package cli

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"strings"
)

// command is one parsed input line. A line without a leading slash is
// chat and comes back as name "say".
type command struct {
	name string
	arg  string
}

var argRequired = map[string]bool{
	"admit":   true,
	"reject":  true,
	"handoff": true,
	"name":    true,
	"relay":   true,
}

func parseCommand(line string) (command, error) {
	line = strings.TrimSpace(line)
	if line == "" {
		return command{}, nil
	}
	if !strings.HasPrefix(line, "/") {
		return command{name: "say", arg: line}, nil
	}
	name, arg, _ := strings.Cut(strings.TrimPrefix(line, "/"), " ")
	cmd := command{name: strings.ToLower(name), arg: strings.TrimSpace(arg)}
	if argRequired[cmd.name] && cmd.arg == "" {
		return command{}, fmt.Errorf("/%s needs an argument", cmd.name)
	}
	return cmd, nil
}

// readCommands sends parsed lines until r ends or ctx is done. Parse errors
// go to onErr and reading continues.
func readCommands(ctx context.Context, r io.Reader, onErr func(error)) <-chan command {
	out := make(chan command)
	go func() {
		defer close(out)
		sc := bufio.NewScanner(r)
		for sc.Scan() {
			cmd, err := parseCommand(sc.Text())
			if err != nil {
				onErr(err)
				continue
			}
			if cmd.name == "" {
				continue
			}
			select {
			case out <- cmd:
			case <-ctx.Done():
				return
			}
		}
	}()
	return out
}
