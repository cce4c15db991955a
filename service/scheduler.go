package service

import (
	"log"

	"forum-mailer/database"

	"github.com/robfig/cron/v3"
)

var c *cron.Cron

// startScheduler starts the cron jobs: the mailing pass, the digest check
// and the nightly cleanup.
func startScheduler(s *Service) error {
	log.Println("Initializing scheduler...")
	c = cron.New()

	if _, err := c.AddFunc(s.Config.MailCron, func() {
		if _, err := s.Dispatcher.Run(); err != nil {
			log.Printf("Mailing pass failed: %v", err)
		}
	}); err != nil {
		return err
	}

	if _, err := c.AddFunc(s.Config.DigestCron, func() {
		if _, err := s.Digester.Run(); err != nil {
			log.Printf("Digest run failed: %v", err)
		}
	}); err != nil {
		return err
	}

	if _, err := c.AddFunc(s.Config.CleanupCron, func() {
		runCleanup(s)
	}); err != nil {
		return err
	}

	c.Start()
	log.Printf("Cron jobs scheduled: mail %q, digest %q, cleanup %q",
		s.Config.MailCron, s.Config.DigestCron, s.Config.CleanupCron)

	// Perform an initial pass on startup based on config.
	if s.Config.RunAtStartup {
		go func() {
			log.Println("Performing initial mailing pass on startup...")
			if _, err := s.Dispatcher.Run(); err != nil {
				log.Printf("Initial mailing pass failed: %v", err)
			}
		}()
	} else {
		log.Println("Skipping initial mailing pass on startup as per configuration.")
	}
	return nil
}

// runCleanup drops read records for posts past the retention window and
// digest entries stuck in the queue.
func runCleanup(s *Service) {
	database.CleanupOldReadRecords(s.Stores.Reads, s.Config.OldPostDays)
	database.CleanupStaleDigestEntries(s.Stores.Digests, s.Config.StaleDigestDays)
}

// stopScheduler stops the cron jobs.
func stopScheduler() {
	if c != nil {
		c.Stop()
		log.Println("Scheduler stopped.")
	}
}
