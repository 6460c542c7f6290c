package main

import (
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/charmbracelet/lipgloss"

	"github.com/cryguy/jscore"
)

var (
	titleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("#FAFAFA")).
			Background(lipgloss.Color("#7D56F4")).
			Padding(0, 1)

	labelStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#00CED1"))

	valueStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#FFFFFF"))

	promptStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#7D56F4")).
			Bold(true)

	resultStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#90EE90"))

	errorStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#FF6B6B"))

	helpStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#666666"))
)

// field is one labelled line of command output.
type field struct {
	label string
	value string
}

// printFields renders fields as "label: value" lines. Multi-line values
// start on their own line.
func printFields(w io.Writer, fields []field) {
	for _, f := range fields {
		sep := " "
		if strings.Contains(f.value, "\n") {
			sep = "\n"
		}
		fmt.Fprintln(w, labelStyle.Render(f.label+":")+sep+valueStyle.Render(f.value))
	}
}

// describeError turns engine errors into one line for the terminal.
func describeError(err error) string {
	var evalErr *jscore.EvaluationError
	var bootErr *jscore.BootstrapError
	switch {
	case errors.As(err, &evalErr) && evalErr.Timeout:
		return "timeout: " + evalErr.Message
	case errors.As(err, &evalErr):
		return "uncaught: " + evalErr.Message
	case errors.As(err, &bootErr):
		return bootErr.Error()
	case errors.Is(err, jscore.ErrChannelClosed):
		return "engine stopped: " + err.Error()
	default:
		return err.Error()
	}
}
