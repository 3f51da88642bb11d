package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sort"
	"strings"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"github.com/riskledger/riskledger/internal/core"
	"github.com/riskledger/riskledger/internal/core/store"
	"github.com/riskledger/riskledger/internal/observability"
)

var recordsImportSkipExisting bool

var recordsCmd = &cobra.Command{
	Use:   "records",
	Short: "Manage GRC records",
}

var recordsImportCmd = &cobra.Command{
	Use:   "import <file>",
	Short: "Import records from a YAML or JSON file",
	Long: `Import records from a YAML or JSON file keyed by collection:

  risks:
    - id: risk-01
      title: Vendor lock-in
      currentControls: "contract review, exit plan"
  users:
    - id: alice
      role: admin

A string "id" becomes the record id; records without one get a generated id.
Records are stored as given, so legacy shapes can be migrated afterwards.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		data, err := os.ReadFile(args[0])
		if err != nil {
			return fmt.Errorf("read records file: %w", err)
		}
		docs, err := parseRecords(data)
		if err != nil {
			return err
		}

		db, err := openStore(cmd.Context())
		if err != nil {
			return err
		}
		defer db.Close() // nolint:errcheck // best-effort cleanup

		imported, existing, err := importRecords(cmd.Context(), db, docs, recordsImportSkipExisting)
		if err != nil {
			return err
		}

		observability.CLILogger.Info("Records imported",
			zap.String("file", args[0]),
			zap.Int("imported", imported),
			zap.Int("existing", existing))
		_, err = fmt.Fprintf(cmd.OutOrStdout(), "Imported %d record(s), %d already present\n", imported, existing)
		return err
	},
}

type recordInserter interface {
	InsertDocument(ctx context.Context, doc *core.Document) error
}

// parseRecords decodes a collection-keyed file. YAML is a superset of JSON,
// so one decoder serves both.
func parseRecords(data []byte) ([]core.Document, error) {
	var raw map[string][]map[string]any
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("parse records file: %w", err)
	}

	names := make([]string, 0, len(raw))
	for name := range raw {
		names = append(names, name)
	}
	sort.Strings(names)

	var docs []core.Document
	for _, name := range names {
		collection, ok := core.ParseCollection(name)
		if !ok {
			return nil, fmt.Errorf("unknown collection %q", name)
		}
		for i, body := range raw[name] {
			if body == nil {
				return nil, fmt.Errorf("%s[%d]: record must be an object", name, i)
			}
			doc := core.Document{Collection: collection, Body: body}
			if id, isString := body["id"].(string); isString {
				doc.ID = strings.TrimSpace(id)
				delete(body, "id")
			}
			docs = append(docs, doc)
		}
	}
	return docs, nil
}

func importRecords(ctx context.Context, db recordInserter, docs []core.Document, skipExisting bool) (imported, existing int, err error) {
	for i := range docs {
		doc := docs[i]
		if err := db.InsertDocument(ctx, &doc); err != nil {
			if skipExisting && errors.Is(err, store.ErrConflict) {
				existing++
				continue
			}
			return imported, existing, err
		}
		imported++
	}
	return imported, existing, nil
}

func init() {
	recordsCmd.AddCommand(recordsImportCmd)
	rootCmd.AddCommand(recordsCmd)

	recordsImportCmd.Flags().BoolVar(&recordsImportSkipExisting, "skip-existing", false, "Skip records whose id already exists instead of failing")
}
