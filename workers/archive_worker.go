package workers

import (
	"context"
	"guardian/models"
	"guardian/repositories"
	"guardian/utils"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

// ArchiveMetrics is told about every write attempt that finished.
type ArchiveMetrics interface {
	IncidentArchived(err error)
}

// ArchiveWorker persists finished emergency sessions off the request path.
type ArchiveWorker struct {
	store   repositories.IncidentStore
	metrics ArchiveMetrics

	// Worker configuration
	config ArchiveWorkerConfig

	// Processing channels
	archiveQueue chan ArchiveJob

	// Worker state
	isRunning bool
	mutex     sync.RWMutex

	// Context for shutdown
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	// Metrics
	stats      ArchiveWorkerStats
	statsMutex sync.RWMutex
}

type ArchiveWorkerConfig struct {
	WorkerCount       int           `json:"workerCount"`
	QueueSize         int           `json:"queueSize"`
	ProcessingTimeout time.Duration `json:"processingTimeout"`
	RetryAttempts     int           `json:"retryAttempts"`
	RetryDelay        time.Duration `json:"retryDelay"`
}

type ArchiveJob struct {
	ID         string                 `json:"id"`
	Record     *models.IncidentRecord `json:"record"`
	RetryCount int                    `json:"retryCount"`
	CreatedAt  time.Time              `json:"createdAt"`
}

type ArchiveWorkerStats struct {
	JobsProcessed      int64     `json:"jobsProcessed"`
	JobsFailed         int64     `json:"jobsFailed"`
	JobsRetried        int64     `json:"jobsRetried"`
	JobsDropped        int64     `json:"jobsDropped"`
	AverageProcessTime float64   `json:"averageProcessTime"` // ms
	LastProcessedAt    time.Time `json:"lastProcessedAt"`
	StartTime          time.Time `json:"startTime"`
}

func DefaultArchiveWorkerConfig() ArchiveWorkerConfig {
	return ArchiveWorkerConfig{
		WorkerCount:       2,
		QueueSize:         100,
		ProcessingTimeout: 10 * time.Second,
		RetryAttempts:     3,
		RetryDelay:        time.Second,
	}
}

func NewArchiveWorker(store repositories.IncidentStore, metrics ArchiveMetrics, config ArchiveWorkerConfig) *ArchiveWorker {
	defaults := DefaultArchiveWorkerConfig()
	if config.WorkerCount <= 0 {
		config.WorkerCount = defaults.WorkerCount
	}
	if config.QueueSize <= 0 {
		config.QueueSize = defaults.QueueSize
	}
	if config.ProcessingTimeout <= 0 {
		config.ProcessingTimeout = defaults.ProcessingTimeout
	}
	if config.RetryAttempts < 0 {
		config.RetryAttempts = 0
	}
	if config.RetryDelay < 0 {
		config.RetryDelay = 0
	}

	ctx, cancel := context.WithCancel(context.Background())

	return &ArchiveWorker{
		store:        store,
		metrics:      metrics,
		config:       config,
		archiveQueue: make(chan ArchiveJob, config.QueueSize),
		ctx:          ctx,
		cancel:       cancel,
		stats: ArchiveWorkerStats{
			StartTime: time.Now(),
		},
	}
}

func (aw *ArchiveWorker) Start() error {
	aw.mutex.Lock()
	defer aw.mutex.Unlock()

	if aw.isRunning {
		return nil
	}
	if aw.ctx.Err() != nil {
		return utils.NewServiceError(utils.ErrCodeNotRunning, "Archive worker was already stopped")
	}

	aw.isRunning = true

	logrus.Infof("Starting Archive Worker with %d workers", aw.config.WorkerCount)

	for i := 0; i < aw.config.WorkerCount; i++ {
		aw.wg.Add(1)
		go aw.worker(i)
	}

	return nil
}

// Stop drains the queue, then shuts the workers down.
func (aw *ArchiveWorker) Stop() error {
	aw.mutex.Lock()
	if !aw.isRunning {
		aw.mutex.Unlock()
		return nil
	}

	logrus.Info("Stopping Archive Worker...")

	aw.isRunning = false
	close(aw.archiveQueue)
	aw.mutex.Unlock()

	aw.wg.Wait()
	aw.cancel()

	logrus.Info("Archive Worker stopped successfully")
	return nil
}

// Archive queues a record without blocking.
func (aw *ArchiveWorker) Archive(record *models.IncidentRecord) error {
	aw.mutex.RLock()
	defer aw.mutex.RUnlock()

	if !aw.isRunning {
		return utils.NewServiceError(utils.ErrCodeNotRunning, "Archive worker is not running")
	}

	job := ArchiveJob{
		ID:        utils.GenerateUUID(),
		Record:    record,
		CreatedAt: time.Now(),
	}

	select {
	case aw.archiveQueue <- job:
		return nil
	default:
		aw.statsMutex.Lock()
		aw.stats.JobsDropped++
		aw.statsMutex.Unlock()
		return utils.NewServiceError(utils.ErrCodeQueueFull, "Archive queue is full")
	}
}

func (aw *ArchiveWorker) worker(workerID int) {
	defer aw.wg.Done()

	logrus.Debugf("Archive worker %d started", workerID)

	for job := range aw.archiveQueue {
		aw.processJob(job, workerID)
	}

	logrus.Debugf("Archive worker %d stopping", workerID)
}

func (aw *ArchiveWorker) processJob(job ArchiveJob, workerID int) {
	startTime := time.Now()

	for {
		ctx, cancel := context.WithTimeout(aw.ctx, aw.config.ProcessingTimeout)
		err := aw.store.Create(ctx, job.Record)
		cancel()

		if aw.metrics != nil {
			aw.metrics.IncidentArchived(err)
		}
		if err == nil {
			aw.updateStats(time.Since(startTime))
			logrus.WithFields(logrus.Fields{
				"worker":    workerID,
				"sessionId": job.Record.SessionID,
				"reason":    job.Record.EndReason,
				"recorded":  utils.FormatFileSize(job.Record.RecordedBytes),
			}).Debug("Incident archived")
			return
		}

		if job.RetryCount >= aw.config.RetryAttempts {
			logrus.WithError(err).Errorf("Archive job %s failed after %d attempts", job.ID, job.RetryCount+1)
			aw.incrementFailedJobs()
			return
		}

		job.RetryCount++
		aw.incrementRetriedJobs()

		// Linear backoff
		delay := time.Duration(job.RetryCount) * aw.config.RetryDelay
		select {
		case <-time.After(delay):
		case <-aw.ctx.Done():
			aw.incrementFailedJobs()
			return
		}
	}
}

func (aw *ArchiveWorker) updateStats(duration time.Duration) {
	aw.statsMutex.Lock()
	defer aw.statsMutex.Unlock()

	aw.stats.JobsProcessed++

	// Update average processing time
	if aw.stats.JobsProcessed == 1 {
		aw.stats.AverageProcessTime = float64(duration.Milliseconds())
	} else {
		aw.stats.AverageProcessTime = (aw.stats.AverageProcessTime + float64(duration.Milliseconds())) / 2
	}

	aw.stats.LastProcessedAt = time.Now()
}

func (aw *ArchiveWorker) incrementRetriedJobs() {
	aw.statsMutex.Lock()
	aw.stats.JobsRetried++
	aw.statsMutex.Unlock()
}

func (aw *ArchiveWorker) incrementFailedJobs() {
	aw.statsMutex.Lock()
	aw.stats.JobsFailed++
	aw.statsMutex.Unlock()
}

func (aw *ArchiveWorker) GetStats() ArchiveWorkerStats {
	aw.statsMutex.RLock()
	defer aw.statsMutex.RUnlock()
	return aw.stats
}
