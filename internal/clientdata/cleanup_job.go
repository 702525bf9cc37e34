package clientdata

import (
	"github.com/rs/zerolog"
)

// CleanupJob removes expired response_cache rows; scheduled hourly by the
// cron dispatcher. Mirrors the teacher's CleanupJob/Run/Name shape.
type CleanupJob struct {
	repo *Repository
	log  zerolog.Logger
}

// NewCleanupJob constructs a CleanupJob over repo.
func NewCleanupJob(repo *Repository, log zerolog.Logger) *CleanupJob {
	return &CleanupJob{
		repo: repo,
		log:  log.With().Str("job", "response_cache_cleanup").Logger(),
	}
}

// Run deletes every expired row and logs the count.
func (j *CleanupJob) Run() error {
	deleted, err := j.repo.DeleteExpired()
	if err != nil {
		j.log.Error().Err(err).Msg("failed to delete expired response_cache rows")
		return err
	}
	if deleted > 0 {
		j.log.Info().Int64("deleted", deleted).Msg("cleaned up expired response_cache rows")
	}
	return nil
}

// Name identifies this job for scheduling and logging.
func (j *CleanupJob) Name() string { return "response_cache_cleanup" }
