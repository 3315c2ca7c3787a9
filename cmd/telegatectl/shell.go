package main

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"strings"

	prompt "github.com/c-bata/go-prompt"
	"golang.org/x/term"

	"github.com/xtxerr/telegate/internal/errors"
)

// shell runs the interactive prompt until exit or EOF.
func (c *cli) shell(ctx context.Context, devices []string) {
	exited := false

	executor := func(line string) {
		err := c.exec(ctx, line)
		if errors.Is(err, errExit) {
			exited = true
			return
		}
		if err != nil {
			fmt.Fprintf(c.out, "error: %v\n", err)
		}
	}

	p := prompt.New(executor, completer(devices),
		prompt.OptionTitle("telegatectl"),
		prompt.OptionPrefix("telegate> "),
		prompt.OptionSetExitCheckerOnInput(func(in string, breakline bool) bool {
			return breakline && exited
		}),
	)
	p.Run()
}

// completer suggests command names for the first word and device IDs for
// the commands that take one.
func completer(devices []string) prompt.Completer {
	cmds := make([]prompt.Suggest, 0, len(commands))
	for _, c := range commands {
		cmds = append(cmds, prompt.Suggest{Text: c.name, Description: c.help})
	}
	devs := make([]prompt.Suggest, 0, len(devices))
	for _, d := range devices {
		devs = append(devs, prompt.Suggest{Text: d})
	}

	return func(d prompt.Document) []prompt.Suggest {
		before := d.TextBeforeCursor()
		word := d.GetWordBeforeCursor()
		fields := strings.Fields(before)

		// Still typing the command name.
		if len(fields) == 0 || (len(fields) == 1 && !strings.HasSuffix(before, " ")) {
			return prompt.FilterHasPrefix(cmds, word, true)
		}

		arg := len(fields)
		if !strings.HasSuffix(before, " ") {
			arg--
		}
		switch {
		case fields[0] == "readings" && arg == 1,
			fields[0] == "export" && arg == 2:
			return prompt.FilterHasPrefix(devs, word, true)
		}
		return nil
	}
}

// batch executes one command per input line, stopping at the first error.
func (c *cli) batch(ctx context.Context, in io.Reader) error {
	scanner := bufio.NewScanner(in)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		err := c.exec(ctx, line)
		if errors.Is(err, errExit) {
			return nil
		}
		if err != nil {
			return errors.Wrapf(err, "%q", line)
		}
	}
	return scanner.Err()
}

func isTerminal(f *os.File) bool {
	return term.IsTerminal(int(f.Fd()))
}
