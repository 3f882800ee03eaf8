// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Playerid Contributors

// Command gen-schema writes the config JSON Schema, for editors that
// validate playerid config.yaml files.
//
//	go run ./cmd/gen-schema -o schemas/config.schema.json
package main

import (
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/spf13/pflag"

	"github.com/pickiss/playerid/internal/config"
)

func main() {
	out := pflag.StringP("output", "o", filepath.Join("schemas", "config.schema.json"), `output file, "-" for stdout`)
	pflag.Parse()

	if err := run(*out, os.Stdout); err != nil {
		fmt.Fprintf(os.Stderr, "gen-schema: %v\n", err)
		os.Exit(1)
	}
}

func run(outPath string, stdout io.Writer) error {
	schema, err := config.GenerateSchema()
	if err != nil {
		return err
	}
	schema = append(schema, '\n')

	if outPath == "-" {
		_, err := stdout.Write(schema)
		return err
	}
	if err := os.MkdirAll(filepath.Dir(outPath), 0o750); err != nil {
		return fmt.Errorf("create schema directory: %w", err)
	}
	if err := os.WriteFile(outPath, schema, 0o600); err != nil {
		return fmt.Errorf("write schema: %w", err)
	}
	fmt.Fprintf(stdout, "wrote %s\n", outPath)
	return nil
}
