package store

import (
	"context"
	"os"
	"os/exec"

	"github.com/pkg/errors"

	"github.com/ctkeeper/ctkeeper/internal/sct"
)

// Fetcher obtains one raw SCT for a certificate from a log and writes it to
// outFile. On any failure outFile must not be left behind.
type Fetcher interface {
	Fetch(ctx context.Context, logURL, certFile, outFile string) error
}

// CommandFetcher shells out to an external submission tool. The contract:
// given {log URL, certificate file, output file}, the tool either creates the
// output file containing exactly one raw SCT and exits 0, or fails. The
// command is not killed on context cancellation; the refresh worker waits
// for it and evaluates the result, so a fetch is never interrupted halfway
// through a log submission.
type CommandFetcher struct {
	Command string
}

func (f *CommandFetcher) Fetch(_ context.Context, logURL, certFile, outFile string) error {
	cmd := exec.Command(f.Command, "-log-url", logURL, "-cert", certFile, "-out", outFile)
	out, err := cmd.CombinedOutput()
	if err != nil {
		os.Remove(outFile)
		return errors.Wrapf(err, "%s: %s", f.Command, string(out))
	}

	data, err := os.ReadFile(outFile)
	if err != nil {
		return errors.Wrap(err, "command exited 0 but produced no output file")
	}
	if _, err := sct.Parse(data); err != nil {
		os.Remove(outFile)
		return errors.Wrap(err, "command output is not one well-formed SCT")
	}
	return nil
}
