package main

import (
	"github.com/spf13/afero"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/Sternrassler/listing-harvester/pkg/sink"
)

func newStatsCmd(fs afero.Fs, v *viper.Viper, cfgFile *string) *cobra.Command {
	stats := &cobra.Command{
		Use:   "stats",
		Short: "Work with the monthly statistics ledger",
	}

	convert := &cobra.Command{
		Use:   "convert",
		Short: "Convert the CSV ledger into a per-year JSON summary",
		Long: `convert reads the CSV ledger (--stats-file) and writes a JSON summary
(--stats-json) with the total per year and all twelve months. The CSV file is
removed afterwards unless --keep-csv is set.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd, v, *cfgFile)
			if err != nil {
				return err
			}
			return sink.ConvertLedger(fs, cfg.Output.StatsFile, cfg.Output.StatsJSON, !cfg.Output.KeepCSV)
		},
	}

	stats.AddCommand(convert)
	return stats
}
