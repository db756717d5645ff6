package main

import (
	"fmt"
	"log"

	"github.com/spf13/cobra"

	"github.com/danielpatrickdp/compliance-review/internal/config"
	"github.com/danielpatrickdp/compliance-review/internal/ingest"
	"github.com/danielpatrickdp/compliance-review/internal/knowledge"
	"github.com/danielpatrickdp/compliance-review/internal/store"
)

var ingestFile string

var ingestCmd = &cobra.Command{
	Use:   "ingest",
	Short: "Load knowledge documents from a YAML seed file",
	Long: `Loads regulation, guideline, and case documents into the knowledge index.
Documents without a precomputed embedding are embedded on insert.`,
	RunE: runIngest,
}

func init() {
	ingestCmd.Flags().StringVarP(&ingestFile, "file", "f", "", "seed file to load (required)")
	_ = ingestCmd.MarkFlagRequired("file")
}

func runIngest(cmd *cobra.Command, _ []string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}

	st, err := store.NewStore(cfg.DBPath)
	if err != nil {
		return err
	}
	defer st.Close()

	index, err := knowledge.NewIndex(st.DB(), knowledge.NewHashingEmbedder())
	if err != nil {
		return err
	}

	n, err := ingest.NewLoader(index).LoadFile(cmd.Context(), ingestFile)
	if err != nil {
		return fmt.Errorf("ingest %s: %w", ingestFile, err)
	}
	log.Printf("[INGEST] loaded %d documents into %s", n, cfg.DBPath)
	return nil
}
