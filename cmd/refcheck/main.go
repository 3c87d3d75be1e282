// Command refcheck scans one collection of the configured backend and reports
// stored references whose target document is missing.
//
// The backend is chosen from ODMCORE_STORAGE_DRIVER and friends, exactly as
// applications using the datastore do.
package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"os"
	"strings"

	json "github.com/goccy/go-json"
	"github.com/sirupsen/logrus"

	"odmcore/internal/audit"
	"odmcore/internal/core"
)

var (
	exitFunc    = os.Exit
	openBackend = core.OpenBackend
)

type fieldFlags []audit.Field

func (f *fieldFlags) String() string {
	parts := make([]string, len(*f))
	for i, field := range *f {
		parts[i] = field.String()
	}
	return strings.Join(parts, ",")
}

func (f *fieldFlags) Set(v string) error {
	field, err := audit.ParseField(v)
	if err != nil {
		return err
	}
	*f = append(*f, field)
	return nil
}

func main() {
	exitFunc(cli(context.Background(), os.Args[1:], os.Stdout, os.Stderr))
}

// cli returns 0 when every reference resolves, 1 when dangling references
// were found or the audit failed and 2 on usage errors.
func cli(ctx context.Context, args []string, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("refcheck", flag.ContinueOnError)
	fs.SetOutput(stderr)
	var (
		collection string
		fields     fieldFlags
		asJSON     bool
	)
	fs.StringVar(&collection, "collection", "", "collection to scan")
	fs.Var(&fields, "field", "reference field as path=collection (repeatable)")
	fs.BoolVar(&asJSON, "json", false, "print the report as JSON")
	if err := fs.Parse(args); err != nil {
		return 2
	}
	if collection == "" || len(fields) == 0 {
		_, _ = fmt.Fprintln(stderr, "refcheck: -collection and at least one -field are required")
		return 2
	}

	log, err := core.NewLogger(stderr)
	if err != nil {
		log.WithError(err).Warn("ignoring log level")
	}
	backend, err := openBackend(ctx)
	if err != nil {
		log.WithError(err).Error("open backend")
		return 1
	}
	defer func() { _ = backend.Close() }()

	report, err := audit.Run(ctx, backend, collection, fields)
	if err != nil {
		log.WithError(err).Error("audit failed")
		return 1
	}
	log.WithFields(logrus.Fields{
		"collection": report.Collection,
		"documents":  report.Documents,
		"references": report.References,
		"dangling":   len(report.Dangling),
	}).Info("audit complete")

	if err := write(stdout, report, asJSON); err != nil {
		log.WithError(err).Error("write report")
		return 1
	}
	if len(report.Dangling) > 0 {
		return 1
	}
	return 0
}

func write(w io.Writer, report audit.Report, asJSON bool) error {
	if asJSON {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(report)
	}
	for _, d := range report.Dangling {
		id, err := json.Marshal(d.ID)
		if err != nil {
			return err
		}
		if _, err := fmt.Fprintf(w, "%s %s -> %s/%s\n", d.Document, d.Field, d.Collection, id); err != nil {
			return err
		}
	}
	_, err := fmt.Fprintf(w, "%d documents, %d references, %d dangling\n", report.Documents, report.References, len(report.Dangling))
	return err
}
