package database

import (
	"fmt"
	"log"
	"time"

	"forum-mailer/utils"
)

// CleanupOldReadRecords deletes read records whose post aged past the
// retention window. Old posts count as read without a record, so the rows
// only cost space. Runs on its own schedule, independent of mailing.
func CleanupOldReadRecords(reads *ReadDB, oldPostDays int) {
	log.Println("Starting cleanup of old read records...")

	cutoff := time.Now().Unix() - int64(oldPostDays)*86400
	deleted, err := reads.DeleteOlderThan(cutoff)
	if err != nil {
		log.Printf("Error deleting old read records: %v", err)
		utils.Error("Cleanup", "ReadRecords", err.Error())
		return
	}

	log.Printf("Successfully cleaned up %d old read records", deleted)
	utils.Info("Cleanup", "ReadRecords", fmt.Sprintf("Successfully cleaned up %d old read records", deleted))
}

// CleanupStaleDigestEntries unconditionally purges digest-queue entries
// older than the stale window. Entries normally leave the queue when a
// digest drains them; this sweep catches rows stranded by abandoned runs.
func CleanupStaleDigestEntries(digests *DigestDB, staleDays int) {
	log.Println("Starting cleanup of stale digest queue entries...")

	cutoff := time.Now().Unix() - int64(staleDays)*86400
	deleted, err := digests.DeleteOlderThan(cutoff)
	if err != nil {
		log.Printf("Error deleting stale digest entries: %v", err)
		utils.Error("Cleanup", "DigestQueue", err.Error())
		return
	}

	log.Printf("Successfully cleaned up %d stale digest queue entries", deleted)
	utils.Info("Cleanup", "DigestQueue", fmt.Sprintf("Successfully cleaned up %d stale digest queue entries", deleted))
}
