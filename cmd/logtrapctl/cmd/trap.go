package cmd

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/good-yellow-bee/logtrap/internal/alerting"
	"github.com/good-yellow-bee/logtrap/internal/models"
	"github.com/good-yellow-bee/logtrap/internal/traps"
)

// maxRecordLine bounds one JSONL record; stack traces can be long.
const maxRecordLine = 4 * 1024 * 1024

var (
	trapLogsFile     string
	trapRegexTimeout time.Duration
)

var trapCmd = &cobra.Command{
	Use:   "trap",
	Short: "Work with trap definition files",
	Long: `Validate trap definition files and replay them against exported
records without touching a server.`,
}

var trapValidateCmd = &cobra.Command{
	Use:   "validate [file]",
	Short: "Validate a trap definition file",
	Args:  cobra.ExactArgs(1),
	RunE:  runTrapValidate,
}

var trapTestCmd = &cobra.Command{
	Use:   "test [file]",
	Short: "Replay traps against a JSONL record file",
	Long: `Replay each trap's per-record conditions against records read from a
JSON lines file, one LogRecord per line. Frequency and absence traps
fire from window counts and are listed as "windowed" without a replay.

Examples:
  logtrapctl trap test traps.yaml --logs records.jsonl
  logtrapctl trap test traps.yaml --logs records.jsonl -o json`,
	Args: cobra.ExactArgs(1),
	RunE: runTrapTest,
}

func init() {
	rootCmd.AddCommand(trapCmd)
	trapCmd.AddCommand(trapValidateCmd, trapTestCmd)

	trapTestCmd.Flags().StringVarP(&trapLogsFile, "logs", "l", "", "JSONL file of log records (required)")
	trapTestCmd.Flags().DurationVar(&trapRegexTimeout, "regex-timeout", alerting.DefaultMatchTimeout, "per-match regex timeout")
	trapTestCmd.MarkFlagRequired("logs")
}

func loadTraps(path string) ([]*models.Trap, error) {
	defs, err := traps.LoadDefinitionsFromFile(path)
	if err != nil {
		return nil, err
	}
	if len(defs) == 0 {
		return nil, fmt.Errorf("%s defines no traps", path)
	}
	return traps.BuildAll("local", defs)
}

func runTrapValidate(cmd *cobra.Command, args []string) error {
	loaded, err := loadTraps(args[0])
	if err != nil {
		return err
	}

	if GetOutput() == "json" {
		data, _ := json.MarshalIndent(loaded, "", "  ")
		fmt.Fprintln(cmd.OutOrStdout(), string(data))
		return nil
	}

	w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "NAME\tTYPE\tACTIVE\tCONDITIONS")
	for _, t := range loaded {
		fmt.Fprintf(w, "%s\t%s\t%t\t%s\n", t.Name, t.Type, t.Active, conditionSummary(t.Conditions))
	}
	w.Flush()
	fmt.Fprintf(cmd.OutOrStdout(), "\n%d trap(s) valid\n", len(loaded))
	return nil
}

func conditionSummary(conds []*models.Condition) string {
	if len(conds) == 0 {
		return "-"
	}
	parts := make([]string, len(conds))
	for i, c := range conds {
		parts[i] = string(c.Type)
	}
	return strings.Join(parts, ",")
}

// TrapTestOutput is the replay result of one trap.
type TrapTestOutput struct {
	Name   string            `json:"name"`
	Type   models.TrapType   `json:"type"`
	Result *traps.TestResult `json:"result"`
}

func runTrapTest(cmd *cobra.Command, args []string) error {
	loaded, err := loadTraps(args[0])
	if err != nil {
		return err
	}

	f, err := os.Open(trapLogsFile)
	if err != nil {
		return fmt.Errorf("open records: %w", err)
	}
	defer f.Close()

	records, err := readRecords(f)
	if err != nil {
		return err
	}
	PrintVerbose(stderr(cmd), "read %d record(s) from %s", len(records), trapLogsFile)

	evaluator := alerting.NewEvaluator(alerting.NewPatternCache(0, trapRegexTimeout, nil), nil, nil)
	results := make([]TrapTestOutput, 0, len(loaded))
	for _, t := range loaded {
		results = append(results, TrapTestOutput{
			Name:   t.Name,
			Type:   t.Type,
			Result: traps.Replay(evaluator, t, records),
		})
	}

	if GetOutput() == "json" {
		data, _ := json.MarshalIndent(results, "", "  ")
		fmt.Fprintln(cmd.OutOrStdout(), string(data))
		return nil
	}

	w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "NAME\tTYPE\tMATCHES\tSCANNED\tSAMPLES")
	for _, r := range results {
		if r.Result.WindowedOnly {
			fmt.Fprintf(w, "%s\t%s\twindowed\t-\t-\n", r.Name, r.Type)
			continue
		}
		samples := "-"
		if len(r.Result.SampleIDs) > 0 {
			samples = strings.Join(firstN(r.Result.SampleIDs, 5), ",")
		}
		fmt.Fprintf(w, "%s\t%s\t%d\t%d\t%s\n", r.Name, r.Type, r.Result.MatchCount, r.Result.TotalScanned, samples)
	}
	return w.Flush()
}

// readRecords decodes one LogRecord per non-blank line. Records without an
// id are named after their line number.
func readRecords(r io.Reader) ([]*models.LogRecord, error) {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 64*1024), maxRecordLine)

	var records []*models.LogRecord
	lineNum := 0
	for scanner.Scan() {
		lineNum++
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		var rec models.LogRecord
		if err := json.Unmarshal([]byte(line), &rec); err != nil {
			return nil, fmt.Errorf("line %d: %w", lineNum, err)
		}
		if rec.ID == "" {
			rec.ID = fmt.Sprintf("line-%d", lineNum)
		}
		records = append(records, &rec)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("read records: %w", err)
	}
	return records, nil
}

func firstN(s []string, n int) []string {
	if len(s) > n {
		return s[:n]
	}
	return s
}
