package cmd

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/JakeFAU/realtime-news-crawler/internal/crawler"
	"github.com/JakeFAU/realtime-news-crawler/internal/scheduler"
)

// newCrawlCmd creates the 'crawl' subcommand. It runs one scrape and ingest
// pass in the foreground without touching the queue and prints the result.
func newCrawlCmd() *cobra.Command {
	var payload crawler.JobPayload
	cmd := &cobra.Command{
		Use:   "crawl",
		Short: "Runs a single crawl synchronously",
		RunE: func(cmd *cobra.Command, _ []string) (err error) {
			appInstance, err := resolveApp(cmd.Context())
			if err != nil {
				return err
			}
			defer func() {
				if closeErr := appInstance.Close(cmd.Context()); closeErr != nil && err == nil {
					err = closeErr
				}
			}()

			result, err := appInstance.Crawl(cmd.Context(), payload)
			if err != nil {
				return fmt.Errorf("crawl %s: %w", payload.Source, err)
			}
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(result)
		},
	}
	cmd.Flags().StringVar(&payload.Source, "source", "fxstreet", "source key to crawl")
	cmd.Flags().IntVar(&payload.MaxArticles, "max-articles", scheduler.DefaultMaxArticles, "maximum articles to scrape")
	return cmd
}
