// Package cli provides line-oriented prompts for setup wizards.
package cli

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"time"

	"golang.org/x/term"
)

// Prompter asks questions on Out and reads answers from In, one per line.
type Prompter struct {
	In  io.Reader
	Out io.Writer

	lines *bufio.Scanner
}

// DefaultPrompter returns a Prompter connected to stdin/stdout.
func DefaultPrompter() *Prompter {
	return &Prompter{In: os.Stdin, Out: os.Stdout}
}

func (p *Prompter) printf(format string, args ...any) {
	_, _ = fmt.Fprintf(p.Out, format, args...)
}

// Println writes a line to Out. Wizards use it for headings.
func (p *Prompter) Println(args ...any) {
	_, _ = fmt.Fprintln(p.Out, args...)
}

// next returns the next trimmed input line, or "" at end of input.
func (p *Prompter) next() string {
	if p.lines == nil {
		p.lines = bufio.NewScanner(p.In)
	}
	if !p.lines.Scan() {
		return ""
	}
	return strings.TrimSpace(p.lines.Text())
}

func (p *Prompter) label(question, defaultVal string) {
	if defaultVal == "" {
		p.printf("%s: ", question)
		return
	}
	p.printf("%s [%s]: ", question, defaultVal)
}

// Ask reads one answer, falling back to defaultVal on an empty line.
func (p *Prompter) Ask(question, defaultVal string) string {
	p.label(question, defaultVal)
	if ans := p.next(); ans != "" {
		return ans
	}
	return defaultVal
}

// AskSecret reads an answer without echo when In is a terminal. Piped
// input is read as a plain line.
func (p *Prompter) AskSecret(question string) string {
	p.label(question, "")

	if f, ok := p.In.(*os.File); ok && term.IsTerminal(int(f.Fd())) {
		b, err := term.ReadPassword(int(f.Fd()))
		p.printf("\n")
		if err == nil {
			return strings.TrimSpace(string(b))
		}
	}
	return p.next()
}

// AskList reads a comma-separated answer. Blank items are dropped.
func (p *Prompter) AskList(question string, defaults []string) []string {
	ans := p.Ask(question, strings.Join(defaults, ","))
	var out []string
	for _, item := range strings.Split(ans, ",") {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	return out
}

// AskInt asks until it gets a positive integer.
func (p *Prompter) AskInt(question string, defaultVal int) int {
	for {
		n, err := strconv.Atoi(p.Ask(question, strconv.Itoa(defaultVal)))
		if err == nil && n > 0 {
			return n
		}
		p.printf("  Please enter a positive number.\n")
	}
}

// AskDuration asks until it gets a positive duration such as "30s".
func (p *Prompter) AskDuration(question string, defaultVal time.Duration) time.Duration {
	for {
		d, err := time.ParseDuration(p.Ask(question, defaultVal.String()))
		if err == nil && d > 0 {
			return d
		}
		p.printf("  Please enter a duration like 30s or 2m.\n")
	}
}

// Choose lists options with 1-based numbers and returns the picked one.
func (p *Prompter) Choose(question string, options []string, defaultIdx int) string {
	p.printf("%s\n", question)
	for i, opt := range options {
		marker := "  "
		if i == defaultIdx {
			marker = "> "
		}
		p.printf("%s%d) %s\n", marker, i+1, opt)
	}

	for {
		n, err := strconv.Atoi(p.Ask("Choice", strconv.Itoa(defaultIdx+1)))
		if err == nil && n >= 1 && n <= len(options) {
			return options[n-1]
		}
		p.printf("  Please enter a number between 1 and %d.\n", len(options))
	}
}

// Confirm asks a yes/no question.
func (p *Prompter) Confirm(question string, defaultYes bool) bool {
	hint := "y/N"
	if defaultYes {
		hint = "Y/n"
	}
	ans := strings.ToLower(p.Ask(question+" ["+hint+"]", ""))
	if ans == "" {
		return defaultYes
	}
	return ans[0] == 'y'
}
