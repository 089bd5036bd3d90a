package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/bizradar-io/support-crawler/internal/model"
)

func newSeedCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "seed",
		Short: "Upserts crawl sources from the sources section of the config",
		Long: `Reads the sources list from the configuration and upserts each
entry into crawl_sources. Existing sources are matched by listing URL,
so re-running seed after a config change is safe.`,

		RunE: runSeedCommand,
	}
}

var validFamilies = map[model.SiteFamily]bool{
	model.FamilyBizinfo:    true,
	model.FamilyKStartup:   true,
	model.FamilyTechnopark: true,
}

func runSeedCommand(cmd *cobra.Command, _ []string) error {
	a, err := resolveApp(cmd.Context())
	if err != nil {
		return err
	}

	sources := a.Config().Sources
	if len(sources) == 0 {
		return fmt.Errorf("no sources configured; add a sources section to the config file")
	}

	for _, sc := range sources {
		family := model.SiteFamily(sc.Family)
		if !validFamilies[family] {
			return fmt.Errorf("source %q: unknown site family %q", sc.ListingURL, sc.Family)
		}
		if sc.Agency == "" || sc.ListingURL == "" {
			return fmt.Errorf("source entries need both agency and listing_url")
		}
		src := &model.CrawlSource{
			Agency:     sc.Agency,
			ListingURL: sc.ListingURL,
			Family:     family,
			Region:     sc.Region,
			Active:     true,
		}
		if err := a.Store().UpsertSource(cmd.Context(), src); err != nil {
			return fmt.Errorf("upsert source %q: %w", sc.ListingURL, err)
		}
		a.Logger().Info("source seeded",
			zap.String("agency", sc.Agency),
			zap.String("family", sc.Family),
			zap.Int64("id", src.ID))
	}
	a.Logger().Info("seed finished", zap.Int("sources", len(sources)))
	return nil
}
