// services/scheduler.go
package services

import (
	"log"
	"time"

	"github.com/go-co-op/gocron/v2"
)

// StartSweeps runs the periodic maintenance jobs: expiring unanswered slot
// offers (and re-running the waterfall so the line keeps moving) and timing
// out injury claims that never produced a return.
func StartSweeps(offers *OfferService, injuries *InjuryService, offerEvery, injuryEvery time.Duration) {
	sched, _ := gocron.NewScheduler()
	sched.Start()

	_, _ = sched.NewJob(
		gocron.DurationJob(offerEvery),
		gocron.NewTask(func() {
			if _, err := offers.SweepOffers(); err != nil {
				log.Printf("[Scheduler] Offer sweep failed: %v", err)
			}
		}),
	)

	_, _ = sched.NewJob(
		gocron.DurationJob(injuryEvery),
		gocron.NewTask(func() {
			if _, err := injuries.ExpireStaleClaims(); err != nil {
				log.Printf("[Scheduler] Injury claim sweep failed: %v", err)
			}
		}),
	)
}
