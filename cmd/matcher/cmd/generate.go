package cmd

import (
	"fmt"
	"path/filepath"
	"sort"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"golang-payment-matcher/internal/generator"
	"golang-payment-matcher/internal/models"
	"golang-payment-matcher/pkg/errors"
	"golang-payment-matcher/pkg/logger"
)

// Flags for the generate command
var (
	generateDir string
	genConfig   *generator.Config
)

// generateKeys maps the generate flags to viper keys
var generateKeys = map[string]string{
	"output-dir":     "generate.output_dir",
	"seed":           "generate.seed",
	"owners":         "generate.owners",
	"counterparties": "generate.counterparties_per_owner",
	"matches":        "generate.matches_per_counterparty",
	"noise":          "generate.noise_ratio",
	"start-date":     "generate.start_date",
	"days":           "generate.days",
	"max-group-len":  "generate.max_group_len",
	"patterns":       "generate.patterns",
}

var generateCmd = &cobra.Command{
	Use:   "generate",
	Short: "Generate a synthetic dataset with known matches",
	Long: `Generate writes invoices.csv, movements.csv and reference.csv into the output
directory. The reference file lists every planted match in the match file
layout, so a run can be scored with the evaluate command.

Patterns:
  exact           one invoice and one movement of equal amount
  similar         one invoice and one movement 1 to 3 percent apart
  invoice_group   several invoices paid by one movement
  movement_group  one invoice paid in several movements

Examples:
  matcher generate --output-dir data --seed 7
  matcher match -i data/invoices.csv -m data/movements.csv -f csv -o data/matches.csv
  matcher evaluate -r data/matches.csv -R data/reference.csv`,

	PreRunE: validateGenerateFlags,
	RunE:    runGenerate,
}

func init() {
	rootCmd.AddCommand(generateCmd)

	defaults := generator.DefaultConfig()
	flags := generateCmd.Flags()
	flags.StringP("output-dir", "o", "generated", "directory the CSV files are written to")
	flags.Int64("seed", defaults.Seed, "random seed; the same seed yields the same dataset")
	flags.Int("owners", defaults.Owners, "number of owners")
	flags.Int("counterparties", defaults.CounterpartiesPerOwner, "counterparties per owner")
	flags.Int("matches", defaults.MatchesPerCounterparty, "planted matches per counterparty")
	flags.Float64("noise", defaults.NoiseRatio, "unmatched records added per planted match")
	flags.String("start-date", defaults.StartDate.Format(models.DateLayout), "first invoice date (YYYY-MM-DD)")
	flags.Int("days", defaults.Days, "number of days invoices are spread over")
	flags.Int("max-group-len", defaults.MaxGroupLen, "largest planted group")
	flags.String("patterns", "all", "comma separated patterns to plant, or all")
}

func validateGenerateFlags(cmd *cobra.Command, args []string) error {
	if err := bindFlags(cmd, generateKeys); err != nil {
		return err
	}

	generateDir = viper.GetString("generate.output_dir")
	if generateDir == "" {
		generateDir = "generated"
	}

	c := generator.DefaultConfig()
	if viper.IsSet("generate.seed") {
		c.Seed = viper.GetInt64("generate.seed")
	}
	for key, target := range map[string]*int{
		"generate.owners":                   &c.Owners,
		"generate.counterparties_per_owner": &c.CounterpartiesPerOwner,
		"generate.matches_per_counterparty": &c.MatchesPerCounterparty,
		"generate.days":                     &c.Days,
		"generate.max_group_len":            &c.MaxGroupLen,
	} {
		if viper.IsSet(key) {
			*target = viper.GetInt(key)
		}
	}
	if viper.IsSet("generate.noise_ratio") {
		c.NoiseRatio = viper.GetFloat64("generate.noise_ratio")
	}
	if value := viper.GetString("generate.start_date"); viper.IsSet("generate.start_date") && value != "" {
		start, err := time.Parse(models.DateLayout, value)
		if err != nil {
			return errors.ConfigurationError(errors.CodeInvalidConfig, "start-date", value, err).
				WithSuggestion("use the YYYY-MM-DD format")
		}
		c.StartDate = start
	}
	if viper.IsSet("generate.patterns") {
		patterns, err := generator.ParsePatterns(viper.GetString("generate.patterns"))
		if err != nil {
			return err
		}
		c.Patterns = patterns
	}

	if err := c.Validate(); err != nil {
		return err
	}
	genConfig = c
	return nil
}

func runGenerate(cmd *cobra.Command, args []string) error {
	gen, err := generator.New(genConfig)
	if err != nil {
		return err
	}
	log := logger.GetGlobalLogger().WithComponent("cli").WithFields(logger.Fields{
		"dir":  filepath.Clean(generateDir),
		"seed": genConfig.Seed,
	})

	var ds *generator.Dataset
	err = logger.TimedOperation("generate dataset", log, func() error {
		ds = gen.Generate()
		return ds.WriteCSV(generateDir)
	})
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "Generated dataset in %s (seed %d)\n", generateDir, genConfig.Seed)
	fmt.Fprintf(out, "  %-15s %d invoices\n", generator.InvoicesFile, len(ds.Invoices))
	fmt.Fprintf(out, "  %-15s %d movements\n", generator.MovementsFile, len(ds.Movements))
	fmt.Fprintf(out, "  %-15s %d reference pairs\n", generator.ReferenceFile, len(ds.Reference))

	patterns := make([]string, 0, len(ds.Planted))
	for p := range ds.Planted {
		patterns = append(patterns, string(p))
	}
	sort.Strings(patterns)
	fmt.Fprintf(out, "Planted matches:\n")
	for _, p := range patterns {
		fmt.Fprintf(out, "  %-15s %d\n", p, ds.Planted[generator.Pattern(p)])
	}

	return nil
}
