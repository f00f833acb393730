package archive

import (
	"context"
	"log"
	"time"

	"github.com/robfig/cron/v3"
)

// StartSchedule runs ArchiveAll whenever the cron schedule fires, until ctx
// is done. The schedule is validated before the loop starts.
func (m *Manager) StartSchedule(ctx context.Context, schedule string) error {
	next, err := computeNextRun(schedule, m.now())
	if err != nil {
		return err
	}

	log.Printf("[ArchiveSchedule] Next archive run at %s", next.Format(time.RFC3339))

	go func() {
		timer := time.NewTimer(time.Until(next))
		defer timer.Stop()
		for {
			select {
			case <-ctx.Done():
				log.Printf("[ArchiveSchedule] Stopping schedule runner")
				return
			case <-timer.C:
				if err := m.ArchiveAll(ctx); err != nil {
					log.Printf("[ArchiveSchedule] Archive run finished with errors: %v", err)
				}
				next, err = computeNextRun(schedule, m.now())
				if err != nil {
					return
				}
				timer.Reset(time.Until(next))
			}
		}
	}()

	return nil
}

func computeNextRun(schedule string, from time.Time) (time.Time, error) {
	parser := cron.NewParser(cron.SecondOptional | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)
	parsed, err := parser.Parse(schedule)
	if err != nil {
		return time.Time{}, err
	}

	return parsed.Next(from), nil
}
