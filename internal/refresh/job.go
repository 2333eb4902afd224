package refresh

import "fmt"

// Reloader re-reads facts from their source.
type Reloader interface {
	Reload() error
}

// Refresher rebuilds cached venue state from the provider.
type Refresher interface {
	RefreshAll() error
}

// FactsJob reloads fact files and then refreshes every venue. A failed
// reload keeps the previous facts and skips the refresh.
type FactsJob struct {
	reloader  Reloader
	refresher Refresher
}

// NewFactsJob returns a job over reloader and refresher. reloader may be nil
// when facts have no reloadable source.
func NewFactsJob(reloader Reloader, refresher Refresher) *FactsJob {
	return &FactsJob{reloader: reloader, refresher: refresher}
}

func (j *FactsJob) Name() string { return "reload-facts" }

func (j *FactsJob) Run() error {
	if j.reloader != nil {
		if err := j.reloader.Reload(); err != nil {
			return fmt.Errorf("reloading facts: %w", err)
		}
	}
	if err := j.refresher.RefreshAll(); err != nil {
		return fmt.Errorf("refreshing venues: %w", err)
	}
	return nil
}
