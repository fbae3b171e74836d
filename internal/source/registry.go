package source

import (
	"time"

	"github.com/kiranshivaraju/jobhunter/internal/config"
)

// FromConfig returns the adapters enabled in the criteria file, in a fixed
// order.
func FromConfig(cfg *config.Config) []Adapter {
	crit := cfg.Criteria
	timeout := cfg.Pipeline.AdapterTimeout

	var adapters []Adapter
	if s := crit.Sources.LaBonneAlternance; s.Enabled {
		adapters = append(adapters, NewLaBonneAlternance(s, cfg.Sources, timeout))
	}
	if s := crit.Sources.FranceTravail; s.Enabled {
		adapters = append(adapters, NewFranceTravail(s, cfg.Sources, timeout))
	}
	if s := crit.Sources.Lever; s.Enabled && len(s.Companies) > 0 {
		adapters = append(adapters, NewLever(s, timeout))
	}
	if s := crit.Sources.SmartRecruiters; s.Enabled && len(s.Companies) > 0 {
		adapters = append(adapters, NewSmartRecruiters(s, timeout))
	}
	if s := crit.Sources.WelcomeToTheJungle; s.Enabled {
		adapters = append(adapters, NewWelcomeToTheJungle(s, timeout))
	}
	if s := crit.Sources.PlaceEmploiPublic; s.Enabled {
		adapters = append(adapters, NewPlaceEmploiPublic(s, timeout))
	}
	if pages := crit.Sources.CareerPages; len(pages) > 0 {
		adapters = append(adapters, NewCareerPage(pages, &ChromeRenderer{
			ExecPath: cfg.Sources.ChromeBin,
			Settle:   2 * time.Second,
		}))
	}
	return adapters
}
