// Command ekacare-cli submits a medical document for processing and prints the
// result. Credentials come from flags or from EKACARE_CLIENT_ID /
// EKACARE_CLIENT_SECRET (a .env file is honored).
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/eka-care/reports-parsing-sdk/ekacare"
	"github.com/joho/godotenv"
)

func main() {
	os.Exit(run())
}

func run() int {
	var (
		file         = flag.String("file", "", "path to the document to process (required)")
		task         = flag.String("task", "smart", "processing task: smart, pii or both")
		docType      = flag.String("doc-type", ekacare.DefaultDocType, "document type")
		clientID     = flag.String("client-id", "", "API client id (defaults to EKACARE_CLIENT_ID)")
		clientSecret = flag.String("client-secret", "", "API client secret (defaults to EKACARE_CLIENT_SECRET)")
		baseURL      = flag.String("base-url", "", "API base URL (defaults to EKACARE_BASE_URL or production)")
		noWait       = flag.Bool("no-wait", false, "submit only, do not wait for the result")
		pollInterval = flag.Duration("poll-interval", ekacare.DefaultPollInterval, "wait between result polls")
		timeout      = flag.Duration("timeout", ekacare.DefaultTimeout, "overall budget for waiting")
		jsonOut      = flag.Bool("json", false, "print the result as JSON")
		quiet        = flag.Bool("quiet", false, "suppress progress messages")
	)
	flag.Parse()

	if *file == "" {
		fmt.Fprintln(os.Stderr, "error: -file is required")
		flag.Usage()
		return 1
	}

	_ = godotenv.Load()
	if *clientID == "" {
		*clientID = os.Getenv("EKACARE_CLIENT_ID")
	}
	if *clientSecret == "" {
		*clientSecret = os.Getenv("EKACARE_CLIENT_SECRET")
	}
	if *baseURL == "" {
		*baseURL = os.Getenv("EKACARE_BASE_URL")
	}
	if *clientID == "" || *clientSecret == "" {
		fmt.Fprintln(os.Stderr, "error: client credentials are required (flags or EKACARE_CLIENT_ID / EKACARE_CLIENT_SECRET)")
		return 1
	}

	parsedTask, err := ekacare.ParseTask(*task)
	if err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		return 1
	}

	// Ctrl-C cancels the in-flight request or the poll loop
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	progress := func(format string, args ...any) {
		if !*quiet {
			fmt.Fprintf(os.Stderr, format+"\n", args...)
		}
	}

	progress("authenticating...")
	client, err := ekacare.NewClient(ctx, *clientID, *clientSecret, ekacare.WithBaseURL(*baseURL))
	if err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		return 1
	}
	defer client.Close()

	progress("submitting %s (task=%s, doc_type=%s)", *file, parsedTask, *docType)
	submission, err := client.ProcessDocument(ctx, *file, *docType, parsedTask)
	if err != nil {
		return reportError(err)
	}
	progress("submitted, document_id=%s", submission.DocumentID)

	if *noWait {
		return printOutput(*jsonOut, submission)
	}
	if submission.DocumentID == "" {
		fmt.Fprintln(os.Stderr, "error: submit response carried no document_id")
		return 1
	}

	progress("waiting for result (interval=%s, timeout=%s)", *pollInterval, *timeout)
	start := time.Now()
	result, err := client.WaitForResult(ctx, submission.DocumentID, *pollInterval, *timeout)
	if err != nil {
		return reportError(err)
	}
	progress("completed in %s", time.Since(start).Round(time.Second))

	return printOutput(*jsonOut, result)
}

func printOutput(asJSON bool, v any) int {
	if asJSON {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		if err := enc.Encode(v); err != nil {
			fmt.Fprintln(os.Stderr, "error:", err)
			return 1
		}
		return 0
	}

	switch out := v.(type) {
	case *ekacare.SubmissionResult:
		fmt.Printf("document_id: %s\nstatus: %s\n", out.DocumentID, out.Status)
	case *ekacare.PollResult:
		fmt.Printf("status: %s\n", out.Status)
		if out.Data != nil {
			fmt.Printf("fhir: %s\noutput: %s\n", out.Data.FHIR, out.Data.Output)
		}
	}
	return 0
}

// reportError maps client errors to exit codes: 130 for interrupts, 1 for
// everything else.
func reportError(err error) int {
	var canceled *ekacare.CanceledError
	if errors.As(err, &canceled) {
		fmt.Fprintln(os.Stderr, "interrupted")
		return 130
	}

	var timedOut *ekacare.TimeoutError
	if errors.As(err, &timedOut) {
		fmt.Fprintf(os.Stderr, "error: no terminal result within %s\n", timedOut.Timeout)
		return 1
	}

	fmt.Fprintln(os.Stderr, "error:", err)
	return 1
}
