// Package console runs an interactive question loop over a chat session.
package console

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"iter"
	"strings"
)

// Asker is a chat session: a local one or one held by a remote server.
type Asker interface {
	Ask(ctx context.Context, prompt string) iter.Seq[string]
	Reset()
}

// Failer is implemented by askers that can fail without the sequence
// carrying the error, like a remote session.
type Failer interface {
	Err() error
}

type Options struct {
	In     io.Reader
	Out    io.Writer
	Err    io.Writer
	Prompt string
	// Banner is printed once before the first prompt.
	Banner string
}

// Run reads questions line by line until exit, quit, EOF or ctx is done.
func Run(ctx context.Context, asker Asker, opts Options) error {
	if asker == nil {
		return fmt.Errorf("asker is required")
	}
	out := writerOr(opts.Out)
	errOut := writerOr(opts.Err)
	prompt := opts.Prompt
	if prompt == "" {
		prompt = "> "
	}
	if opts.Banner != "" {
		_, _ = fmt.Fprintln(out, opts.Banner)
	}

	in := opts.In
	if in == nil {
		in = strings.NewReader("")
	}
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	lines := make(chan string)
	readErr := make(chan error, 1)
	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(in)
		for scanner.Scan() {
			select {
			case lines <- scanner.Text():
			case <-ctx.Done():
				return
			}
		}
		readErr <- scanner.Err()
	}()

	for {
		_, _ = fmt.Fprint(out, prompt)
		var line string
		select {
		case <-ctx.Done():
			_, _ = fmt.Fprintln(out)
			return nil
		case next, ok := <-lines:
			if !ok {
				_, _ = fmt.Fprintln(out)
				select {
				case err := <-readErr:
					if err != nil {
						return fmt.Errorf("read input: %w", err)
					}
				default:
				}
				return nil
			}
			line = strings.TrimSpace(next)
		}

		switch strings.ToLower(line) {
		case "":
			continue
		case "exit", "quit":
			return nil
		case "/reset":
			asker.Reset()
			_, _ = fmt.Fprintln(out, "Conversation cleared.")
			continue
		case "/help":
			writeHelp(out)
			continue
		}

		if err := Ask(ctx, asker, line, out); err != nil {
			_, _ = fmt.Fprintf(errOut, "error: %v\n", err)
		}
	}
}

// Ask streams one answer to out and ends it with a newline.
func Ask(ctx context.Context, asker Asker, question string, out io.Writer) error {
	out = writerOr(out)
	wrote := false
	for fragment := range asker.Ask(ctx, question) {
		if _, err := io.WriteString(out, fragment); err != nil {
			return fmt.Errorf("write answer: %w", err)
		}
		wrote = true
	}
	if wrote {
		_, _ = fmt.Fprintln(out)
	}
	if failer, ok := asker.(Failer); ok && failer.Err() != nil {
		return failer.Err()
	}
	return ctx.Err()
}

func writeHelp(w io.Writer) {
	_, _ = fmt.Fprintln(w, "Ask a question about the database in plain language.")
	_, _ = fmt.Fprintln(w, "  /reset   forget the conversation so far")
	_, _ = fmt.Fprintln(w, "  /help    show this help")
	_, _ = fmt.Fprintln(w, "  exit     leave (also: quit)")
}

func writerOr(w io.Writer) io.Writer {
	if w == nil {
		return io.Discard
	}
	return w
}
