package output

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/itchyny/gojq"
)

// Format specifies the output format.
type Format int

const (
	FormatAuto   Format = iota // Auto-detect: TTY → Styled, non-TTY → JSON
	FormatJSON                 // The raw envelope
	FormatStyled               // ANSI styled output (forced, even when piped)
	FormatQuiet                // Payload only
)

// Options controls output behavior.
type Options struct {
	Format Format
	Writer io.Writer
	// JQ is an optional gojq filter applied to the envelope before printing.
	JQ string
}

// DefaultOptions returns options for standard output.
func DefaultOptions() Options {
	return Options{
		Format: FormatAuto,
		Writer: os.Stdout,
	}
}

// Writer handles all CLI output formatting.
type Writer struct {
	opts Options
}

// New creates a new output writer.
func New(opts Options) *Writer {
	if opts.Writer == nil {
		opts.Writer = os.Stdout
	}
	return &Writer{opts: opts}
}

// Write prints an envelope. The summary is shown above styled output only.
func (w *Writer) Write(env *Envelope, summary string) error {
	if w.opts.JQ != "" {
		return w.writeJQ(env)
	}

	format := w.opts.Format
	if format == FormatAuto {
		if isTTY(w.opts.Writer) {
			format = FormatStyled
		} else {
			format = FormatJSON
		}
	}

	switch format {
	case FormatQuiet:
		return w.writeQuiet(env)
	case FormatStyled:
		return NewRenderer(w.opts.Writer, true).RenderEnvelope(w.opts.Writer, env, summary)
	default:
		return w.writeJSON(env)
	}
}

// Err prints a failure envelope for err.
func (w *Writer) Err(err error) error {
	return w.Write(Failure(err), "")
}

func isTTY(w io.Writer) bool {
	_, tty := terminalInfo(w)
	return tty
}

func (w *Writer) writeJSON(v any) error {
	enc := json.NewEncoder(w.opts.Writer)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func (w *Writer) writeQuiet(env *Envelope) error {
	if !env.Success {
		_, err := fmt.Fprintln(w.opts.Writer, env.Error)
		return err
	}
	switch {
	case len(env.Data) > 0:
		return w.writeJSON(env.Data)
	case env.Token != "":
		_, err := fmt.Fprintln(w.opts.Writer, env.Token)
		return err
	case len(env.User) > 0:
		return w.writeJSON(env.User)
	}
	return nil
}

func (w *Writer) writeJQ(env *Envelope) error {
	query, err := gojq.Parse(w.opts.JQ)
	if err != nil {
		return ErrUsageHint(fmt.Sprintf("invalid --jq filter: %v", err), "See https://github.com/itchyny/gojq")
	}

	// gojq only understands plain JSON values.
	raw, err := json.Marshal(env)
	if err != nil {
		return err
	}
	var input any
	if err := json.Unmarshal(raw, &input); err != nil {
		return err
	}

	iter := query.Run(input)
	for {
		v, ok := iter.Next()
		if !ok {
			return nil
		}
		if err, isErr := v.(error); isErr {
			var haltErr *gojq.HaltError
			if errors.As(err, &haltErr) && haltErr.Value() == nil {
				return nil
			}
			return ErrUsage(fmt.Sprintf("--jq: %v", err))
		}
		if s, ok := v.(string); ok {
			if _, err := fmt.Fprintln(w.opts.Writer, s); err != nil {
				return err
			}
			continue
		}
		if err := w.writeJSON(v); err != nil {
			return err
		}
	}
}
