package cmd

import (
	"errors"
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/alanyoungcy/tradeguard/internal/app"
	s3blob "github.com/alanyoungcy/tradeguard/internal/blob/s3"
	"github.com/alanyoungcy/tradeguard/internal/config"
	"github.com/alanyoungcy/tradeguard/internal/domain"
)

var archiveCmd = &cobra.Command{
	Use:   "archive",
	Short: "Export finished sessions to object storage and read them back",
	Long: `Archive operates on the per-day JSONL session exports under
archive.prefix in the configured S3 bucket.

Examples:
  tradeguard archive run --date 2026-10-13
  tradeguard archive list
  tradeguard archive show --date 2026-10-13`,
}

var archiveRunCmd = &cobra.Command{
	Use:   "run",
	Short: "Archive one trading day now",
	RunE:  runArchiveRun,
}

var archiveListCmd = &cobra.Command{
	Use:   "list",
	Short: "List archived days",
	RunE:  runArchiveList,
}

var archiveShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Print one archived day as JSONL",
	RunE:  runArchiveShow,
}

var archiveDate string

func init() {
	rootCmd.AddCommand(archiveCmd)
	archiveCmd.AddCommand(archiveRunCmd, archiveListCmd, archiveShowCmd)
	archiveRunCmd.Flags().StringVar(&archiveDate, "date", "", "trading date YYYY-MM-DD (default today's)")
	archiveShowCmd.Flags().StringVar(&archiveDate, "date", "", "trading date YYYY-MM-DD (required)")
	_ = archiveShowCmd.MarkFlagRequired("date")
}

func runArchiveRun(cmd *cobra.Command, _ []string) error {
	// Archiving now must work even when the nightly schedule is off.
	cfg, err := loadConfig(cmd, func(c *config.Config) { c.Archive.Enabled = true })
	if err != nil {
		return err
	}
	logger := newLogger(cfg.LogLevel)

	deps, cleanup, err := app.Wire(cmd.Context(), cfg, logger)
	if err != nil {
		return err
	}
	defer cleanup()

	date := archiveDate
	if date == "" {
		date = deps.Clock.TradingDate(time.Now())
	}
	key := s3blob.ArchivePath(cfg.Archive.Prefix, date)
	_, statErr := deps.BlobReader.Stat(cmd.Context(), key)
	replacing := statErr == nil

	n, err := deps.Scheduler.ArchiveDay(cmd.Context(), date)
	if err != nil {
		return err
	}
	if n == 0 {
		printf(cmd, "no sessions on %s\n", date)
		return nil
	}
	if replacing {
		printf(cmd, "replaced existing archive %s\n", key)
	}
	printf(cmd, "archived %d session(s) to %s\n", n, key)
	return nil
}

func archiveReader(cmd *cobra.Command) (*s3blob.Reader, *config.Config, error) {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return nil, nil, err
	}
	client, err := s3blob.New(cmd.Context(), cfg.S3)
	if err != nil {
		return nil, nil, err
	}
	return s3blob.NewReader(client), cfg, nil
}

func runArchiveList(cmd *cobra.Command, _ []string) error {
	r, cfg, err := archiveReader(cmd)
	if err != nil {
		return err
	}
	days, err := r.Days(cmd.Context(), cfg.Archive.Prefix)
	if err != nil {
		return err
	}
	if len(days) == 0 {
		printf(cmd, "no archives under %s\n", cfg.Archive.Prefix)
		return nil
	}

	tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "DATE\tPATH\tSIZE\tMODIFIED")
	for _, d := range days {
		fmt.Fprintf(tw, "%s\t%s\t%d\t%s\n", d.TradingDate, d.Path, d.Size, d.LastModified.Format(time.RFC3339))
	}
	return tw.Flush()
}

func runArchiveShow(cmd *cobra.Command, _ []string) error {
	if _, err := time.Parse("2006-01-02", archiveDate); err != nil {
		return errors.New("--date must be YYYY-MM-DD")
	}
	r, cfg, err := archiveReader(cmd)
	if err != nil {
		return err
	}
	key := s3blob.ArchivePath(cfg.Archive.Prefix, archiveDate)
	info, err := r.Stat(cmd.Context(), key)
	if errors.Is(err, domain.ErrNotFound) {
		return fmt.Errorf("no archive for %s", archiveDate)
	}
	if err != nil {
		return err
	}
	if n, ok := s3blob.SessionCount(info); ok {
		fmt.Fprintf(cmd.ErrOrStderr(), "%s: %d session(s), %d bytes, archived %s\n",
			key, n, info.Size, info.LastModified.Format(time.RFC3339))
	}

	body, err := r.Get(cmd.Context(), key)
	if err != nil {
		return err
	}
	defer body.Close()
	_, err = io.Copy(cmd.OutOrStdout(), body)
	return err
}
