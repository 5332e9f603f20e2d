// sct-fetch submits a server certificate chain to a CT log and writes the
// returned SCT to a file. It is the external fetch command the refresher
// shells out to: exit 0 with the output file present means success, anything
// else means the previous SCT stays in place.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/ctkeeper/ctkeeper/internal/certs"
	"github.com/ctkeeper/ctkeeper/internal/ctclient"
)

func main() {
	var (
		logURL   string
		certFile string
		outFile  string
		timeout  int
		retries  int
	)

	flag.StringVar(&logURL, "log-url", "", "CT log base URL")
	flag.StringVar(&certFile, "cert", "", "PEM certificate chain file, leaf first")
	flag.StringVar(&outFile, "out", "", "output file for the raw SCT")
	flag.IntVar(&timeout, "timeout", 30, "HTTP request timeout in seconds")
	flag.IntVar(&retries, "retries", 3, "number of retries per failed request")
	flag.Parse()

	if logURL == "" || certFile == "" || outFile == "" {
		fmt.Fprintln(os.Stderr, "usage: sct-fetch -log-url <url> -cert <chain.pem> -out <file.sct>")
		os.Exit(2)
	}

	if err := run(logURL, certFile, outFile, timeout, retries); err != nil {
		fmt.Fprintf(os.Stderr, "[ERR] sct-fetch: %v\n", err)
		os.Exit(1)
	}
}

func run(logURL, certFile, outFile string, timeout, retries int) error {
	chain, err := certs.LoadChainFile(certFile)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
	defer cancel()

	client := ctclient.New(logURL, time.Duration(timeout)*time.Second, retries)
	raw, err := client.AddChain(ctx, chain)
	if err != nil {
		return err
	}

	// Write-then-rename so the refresher never observes a half-written SCT.
	tmp := filepath.Join(filepath.Dir(outFile), filepath.Base(outFile)+".tmp")
	if err := os.WriteFile(tmp, raw, 0o644); err != nil {
		return err
	}
	if err := os.Rename(tmp, outFile); err != nil {
		os.Remove(tmp)
		return err
	}
	return nil
}
