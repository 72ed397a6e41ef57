// Command formstate-lint checks that OpenAPI documents produce valid form
// definitions: parseable request schemas, consistent x-formstate extensions,
// and overlays that only reference declared fields. It exits non-zero when
// any document fails.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"path/filepath"

	"github.com/goliatone/go-formstate/internal/openapi"
	"github.com/goliatone/go-formstate/pkg/schema"
)

func main() {
	operationID := flag.String("operation", "", "operationId to build the definition from (required when a document has several)")
	overlayPath := flag.String("overlay", "", "overlay file applied to each parsed definition")
	flag.Usage = func() {
		out := flag.CommandLine.Output()
		fmt.Fprintf(out, "Usage: %s [flags] [documents...]\n", filepath.Base(os.Args[0]))
		fmt.Fprintf(out, "\nLint OpenAPI documents for form definition problems.\n\n")
		flag.PrintDefaults()
	}
	flag.Parse()

	paths := flag.Args()
	if len(paths) == 0 {
		flag.Usage()
		os.Exit(2)
	}

	ctx := context.Background()
	loader := schema.NewLoader()

	var overlay openapi.Overlay
	if *overlayPath != "" {
		doc, err := loader.Load(ctx, schema.SourceFromFile(*overlayPath))
		if err != nil {
			fmt.Fprintf(os.Stderr, "%s: %v\n", *overlayPath, err)
			os.Exit(1)
		}
		overlay, err = openapi.ParseOverlay(doc)
		if err != nil {
			fmt.Fprintf(os.Stderr, "%s: %v\n", *overlayPath, err)
			os.Exit(1)
		}
	}

	failed := false
	for _, path := range paths {
		if err := lintFile(ctx, loader, path, *operationID, overlay); err != nil {
			fmt.Fprintf(os.Stderr, "%s: %v\n", path, err)
			failed = true
		}
	}
	if failed {
		os.Exit(1)
	}
}

func lintFile(ctx context.Context, loader *schema.Loader, path, operationID string, overlay openapi.Overlay) error {
	doc, err := loader.Load(ctx, schema.SourceFromFile(path))
	if err != nil {
		return fmt.Errorf("load: %w", err)
	}

	var opts []openapi.Option
	if operationID != "" {
		opts = append(opts, openapi.WithOperationID(operationID))
	}
	def, err := openapi.Definition(ctx, doc, opts...)
	if err != nil {
		return err
	}

	if err := overlay.Apply(&def); err != nil {
		return err
	}
	return def.Validate()
}
