package cli

import (
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"github.com/soulsense/soulsense-outliers/internal/analytics/report"
	"github.com/soulsense/soulsense-outliers/internal/models"
)

func newIngestCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "ingest <file|->",
		Short: "Load score records from a JSON or YAML file into the database",
		Long: `Load score records into the configured database. The input is either a
list of records or an object with a "records" list, in JSON or YAML.
Use "-" to read from stdin.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var r io.Reader = cmd.InOrStdin()
			if args[0] != "-" {
				f, err := os.Open(args[0])
				if err != nil {
					return err
				}
				defer f.Close()
				r = f
			}
			records, err := decodeRecords(r)
			if err != nil {
				return err
			}
			format, err := a.outputFormat()
			if err != nil {
				return err
			}

			rt, err := a.openRuntime(cmd.Context())
			if err != nil {
				return err
			}
			defer rt.close()

			if err := rt.store.SaveScores(cmd.Context(), records); err != nil {
				return err
			}
			ids := make([]int64, len(records))
			for i, rec := range records {
				ids[i] = rec.ID
			}
			rt.logger.Info("Scores ingested", zap.Int("count", len(ids)), zap.String("source", args[0]))
			return report.Encode(cmd.OutOrStdout(), map[string]interface{}{"saved": len(ids), "ids": ids}, format)
		},
	}
}

// decodeRecords parses a record list or a {"records": [...]} document.
// JSON input is accepted as YAML.
func decodeRecords(r io.Reader) ([]models.ScoreRecord, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, err
	}
	var doc yaml.Node
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("parse records: %w", err)
	}
	if len(doc.Content) == 0 {
		return nil, fmt.Errorf("parse records: empty input")
	}

	var records []models.ScoreRecord
	root := doc.Content[0]
	switch root.Kind {
	case yaml.SequenceNode:
		err = root.Decode(&records)
	case yaml.MappingNode:
		var wrapper struct {
			Records []models.ScoreRecord `yaml:"records"`
		}
		err = root.Decode(&wrapper)
		records = wrapper.Records
	default:
		return nil, fmt.Errorf("parse records: expected a list or an object with records")
	}
	if err != nil {
		return nil, fmt.Errorf("parse records: %w", err)
	}
	for i, rec := range records {
		if rec.SubjectID == "" {
			return nil, fmt.Errorf("records[%d].subject_id is required", i)
		}
	}
	return records, nil
}
