package printer

import (
	"errors"
	"fmt"
	"io"
	"os"
	"sort"
	"strings"

	"github.com/fatih/color"

	"github.com/baduk1/threadsync/pkg/thread"
)

func init() {
	// Force color output even when not connected to TTY
	// Users can disable with NO_COLOR environment variable
	if os.Getenv("NO_COLOR") == "" {
		color.NoColor = false
	}
}

var (
	// Out and ErrOut receive all printer output. Tests swap them for buffers.
	Out    io.Writer = os.Stdout
	ErrOut io.Writer = os.Stderr

	green  = color.New(color.FgGreen)
	yellow = color.New(color.FgYellow)
	red    = color.New(color.FgRed, color.Bold)
	cyan   = color.New(color.FgCyan)
	faint  = color.New(color.Faint)
)

// Success prints a success message in green with a checkmark prefix
func Success(format string, a ...any) {
	msg := fmt.Sprintf(format, a...)
	if !strings.HasPrefix(msg, "✓") {
		msg = "✓ " + msg
	}
	green.Fprint(Out, msg)
}

// Info prints an informational message in the default color
func Info(format string, a ...any) {
	fmt.Fprintf(Out, format, a...)
}

// Warning prints a warning message in yellow with a warning emoji prefix
func Warning(format string, a ...any) {
	msg := fmt.Sprintf(format, a...)
	if !strings.HasPrefix(msg, "⚠️") {
		msg = "⚠️  " + msg
	}
	yellow.Fprint(Out, msg)
}

// Pending prints a dimmed line for work that has not been confirmed yet.
func Pending(format string, a ...any) {
	faint.Fprintf(Out, "… %s", fmt.Sprintf(format, a...))
}

// Step prints a step message with emphasis (used in multi-step operations)
func Step(format string, a ...any) {
	cyan.Fprintf(Out, "→ %s", fmt.Sprintf(format, a...))
}

// Error creates a formatted error message with title, explanation, and suggestions
// Prints the formatted error to stderr with colors and returns a simple error for Cobra
func Error(title string, explanation string, suggestions []string) error {
	return ErrorWithContext(title, explanation, nil, suggestions)
}

// ErrorWithContext creates a formatted error with context details, printed in
// key order. The returned error only carries the title.
func ErrorWithContext(title string, explanation string, context map[string]string, suggestions []string) error {
	red.Fprintf(ErrOut, "%s\n\n", title)

	if explanation != "" {
		fmt.Fprintf(ErrOut, "%s\n", explanation)
	}

	if len(context) > 0 {
		keys := make([]string, 0, len(context))
		for key := range context {
			keys = append(keys, key)
		}
		sort.Strings(keys)

		fmt.Fprintf(ErrOut, "\n")
		for _, key := range keys {
			fmt.Fprintf(ErrOut, "  %s: %s\n", key, context[key])
		}
	}

	if len(suggestions) > 0 {
		fmt.Fprintf(ErrOut, "\n")
		if len(suggestions) == 1 {
			fmt.Fprintf(ErrOut, "%s\n", suggestions[0])
		} else {
			fmt.Fprintf(ErrOut, "Either:\n")
			for i, suggestion := range suggestions {
				fmt.Fprintf(ErrOut, "  %d. %s\n", i+1, suggestion)
			}
		}
	}

	// Return simple error for Cobra (won't be printed due to SilenceErrors)
	return fmt.Errorf("%s", title)
}

// ThreadError renders a failed thread operation. Server rejections show the
// server's detail message; other failures get connection hints.
func ThreadError(action string, key thread.Key, err error) error {
	context := map[string]string{"Thread": key.String()}

	var validation *thread.ValidationError
	var apiErr *thread.APIError
	var netErr *thread.NetworkError

	switch {
	case errors.As(err, &validation):
		return ErrorWithContext(fmt.Sprintf("Cannot %s", action), validation.Error(), context, nil)

	case errors.As(err, &apiErr):
		context["Status"] = fmt.Sprintf("%d", apiErr.Status)
		var suggestions []string
		switch apiErr.Status {
		case 401:
			suggestions = []string{"Issue a new token with: threads token <user-id>"}
		case 403:
			suggestions = []string{"Ask a project owner to add you as a member"}
		}
		return ErrorWithContext(fmt.Sprintf("Failed to %s", action), thread.Detail(err), context, suggestions)

	case errors.As(err, &netErr):
		return ErrorWithContext(fmt.Sprintf("Failed to %s", action), netErr.Error(), context, []string{
			"Check that the server is running: threads serve",
			"Check client.api_url in threads.yml",
		})

	default:
		return ErrorWithContext(fmt.Sprintf("Failed to %s", action), err.Error(), context, nil)
	}
}

// Println prints a plain message (for output that doesn't need coloring)
func Println(a ...any) {
	fmt.Fprintln(Out, a...)
}

// Printf prints a plain formatted message (for output that doesn't need coloring)
func Printf(format string, a ...any) {
	fmt.Fprintf(Out, format, a...)
}
