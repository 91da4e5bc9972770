package workers

import (
	"context"
	"guardian/utils"
	"sync"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/sirupsen/logrus"
)

// IncidentPruner removes archived incidents that ended before cutoff.
type IncidentPruner interface {
	DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error)
}

// CleanupWorker enforces incident retention and sweeps rate limit keys that
// lost their expiry.
type CleanupWorker struct {
	// Dependencies
	incidents IncidentPruner
	redis     *redis.Client

	// Worker configuration
	config CleanupWorkerConfig

	// Worker state
	isRunning bool
	mutex     sync.RWMutex

	// Context for shutdown
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	// Cleanup tasks
	tasks     []CleanupTask
	taskMutex sync.Mutex

	// Metrics
	stats      CleanupWorkerStats
	statsMutex sync.RWMutex
}

type CleanupWorkerConfig struct {
	// Zero keeps incidents forever
	IncidentRetention time.Duration `json:"incidentRetention"`

	// Cleanup intervals
	IncidentCleanupInterval time.Duration `json:"incidentCleanupInterval"`
	RedisCleanupInterval    time.Duration `json:"redisCleanupInterval"`

	// How often the scheduler looks for due tasks
	CheckInterval time.Duration `json:"checkInterval"`

	RateLimitKeyPattern string `json:"rateLimitKeyPattern"`
	ScanBatchSize       int64  `json:"scanBatchSize"`
}

type CleanupTask struct {
	Name        string        `json:"name"`
	Description string        `json:"description"`
	Interval    time.Duration `json:"interval"`
	LastRun     time.Time     `json:"lastRun"`
	NextRun     time.Time     `json:"nextRun"`
	Enabled     bool          `json:"enabled"`
	Function    func(ctx context.Context) error
}

type CleanupWorkerStats struct {
	TasksExecuted      int64            `json:"tasksExecuted"`
	TasksFailed        int64            `json:"tasksFailed"`
	IncidentsPruned    int64            `json:"incidentsPruned"`
	RedisKeysCleaned   int64            `json:"redisKeysCleaned"`
	LastCleanupAt      time.Time        `json:"lastCleanupAt"`
	TaskExecutionTimes map[string]int64 `json:"taskExecutionTimes"` // ms
	StartTime          time.Time        `json:"startTime"`
}

func DefaultCleanupWorkerConfig() CleanupWorkerConfig {
	return CleanupWorkerConfig{
		IncidentRetention:       90 * 24 * time.Hour,
		IncidentCleanupInterval: 24 * time.Hour,
		RedisCleanupInterval:    time.Hour,
		CheckInterval:           time.Minute,
		RateLimitKeyPattern:     "rate_limit:*",
		ScanBatchSize:           500,
	}
}

// NewCleanupWorker builds the worker. A nil pruner or redis client disables
// the matching task.
func NewCleanupWorker(incidents IncidentPruner, redisClient *redis.Client, config CleanupWorkerConfig) *CleanupWorker {
	defaults := DefaultCleanupWorkerConfig()
	if config.IncidentCleanupInterval <= 0 {
		config.IncidentCleanupInterval = defaults.IncidentCleanupInterval
	}
	if config.RedisCleanupInterval <= 0 {
		config.RedisCleanupInterval = defaults.RedisCleanupInterval
	}
	if config.CheckInterval <= 0 {
		config.CheckInterval = defaults.CheckInterval
	}
	if config.RateLimitKeyPattern == "" {
		config.RateLimitKeyPattern = defaults.RateLimitKeyPattern
	}
	if config.ScanBatchSize <= 0 {
		config.ScanBatchSize = defaults.ScanBatchSize
	}

	ctx, cancel := context.WithCancel(context.Background())

	worker := &CleanupWorker{
		incidents: incidents,
		redis:     redisClient,
		config:    config,
		ctx:       ctx,
		cancel:    cancel,
		stats: CleanupWorkerStats{
			StartTime:          time.Now(),
			TaskExecutionTimes: make(map[string]int64),
		},
	}

	worker.initializeTasks()

	return worker
}

func (cw *CleanupWorker) Start() error {
	cw.mutex.Lock()
	defer cw.mutex.Unlock()

	if cw.isRunning {
		return nil
	}
	if cw.ctx.Err() != nil {
		return utils.NewServiceError(utils.ErrCodeNotRunning, "Cleanup worker was already stopped")
	}

	cw.isRunning = true

	logrus.Info("Starting Cleanup Worker...")

	cw.wg.Add(1)
	go cw.taskScheduler()

	logrus.Infof("Cleanup Worker started with %d tasks", len(cw.tasks))
	return nil
}

func (cw *CleanupWorker) Stop() error {
	cw.mutex.Lock()
	defer cw.mutex.Unlock()

	if !cw.isRunning {
		cw.cancel()
		return nil
	}

	logrus.Info("Stopping Cleanup Worker...")

	cw.cancel()
	cw.isRunning = false
	cw.wg.Wait()

	logrus.Info("Cleanup Worker stopped successfully")
	return nil
}

func (cw *CleanupWorker) initializeTasks() {
	cw.tasks = []CleanupTask{
		{
			Name:        "incident_retention",
			Description: "Delete archived incidents past the retention period",
			Interval:    cw.config.IncidentCleanupInterval,
			Enabled:     cw.incidents != nil && cw.config.IncidentRetention > 0,
			Function:    cw.cleanupIncidents,
		},
		{
			Name:        "redis_cleanup",
			Description: "Delete rate limit keys without an expiry",
			Interval:    cw.config.RedisCleanupInterval,
			Enabled:     cw.redis != nil,
			Function:    cw.cleanupRedisKeys,
		},
	}

	// First run happens on the first scheduler tick.
	now := time.Now()
	for i := range cw.tasks {
		cw.tasks[i].NextRun = now
	}
}

func (cw *CleanupWorker) taskScheduler() {
	defer cw.wg.Done()

	ticker := time.NewTicker(cw.config.CheckInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			cw.executeScheduledTasks()

		case <-cw.ctx.Done():
			return
		}
	}
}

func (cw *CleanupWorker) executeScheduledTasks() {
	cw.taskMutex.Lock()
	defer cw.taskMutex.Unlock()

	now := time.Now()

	for i := range cw.tasks {
		task := &cw.tasks[i]

		if !task.Enabled || now.Before(task.NextRun) {
			continue
		}

		cw.runTask(task)

		task.LastRun = now
		task.NextRun = now.Add(task.Interval)
	}
}

func (cw *CleanupWorker) runTask(task *CleanupTask) {
	logrus.Debugf("Executing cleanup task: %s", task.Name)

	startTime := time.Now()
	err := task.Function(cw.ctx)
	executionTime := time.Since(startTime)

	cw.statsMutex.Lock()
	cw.stats.TaskExecutionTimes[task.Name] = executionTime.Milliseconds()
	if err != nil {
		cw.stats.TasksFailed++
	} else {
		cw.stats.TasksExecuted++
		cw.stats.LastCleanupAt = time.Now()
	}
	cw.statsMutex.Unlock()

	if err != nil {
		logrus.Errorf("Cleanup task %s failed: %v", task.Name, err)
		return
	}
	logrus.Debugf("Cleanup task %s completed in %v", task.Name, executionTime)
}

func (cw *CleanupWorker) cleanupIncidents(ctx context.Context) error {
	cutoff := time.Now().Add(-cw.config.IncidentRetention)

	deletedCount, err := cw.incidents.DeleteOlderThan(ctx, cutoff)
	if err != nil {
		return err
	}

	cw.statsMutex.Lock()
	cw.stats.IncidentsPruned += deletedCount
	cw.statsMutex.Unlock()

	if deletedCount > 0 {
		logrus.Infof("Pruned %d incidents that ended before %s", deletedCount, cutoff.Format(time.RFC3339))
	}
	return nil
}

// cleanupRedisKeys removes rate limit windows whose EXPIRE never landed,
// which happens when a pipeline is cut short.
func (cw *CleanupWorker) cleanupRedisKeys(ctx context.Context) error {
	var cursor uint64
	var totalCleaned int64

	for {
		keys, next, err := cw.redis.Scan(ctx, cursor, cw.config.RateLimitKeyPattern, cw.config.ScanBatchSize).Result()
		if err != nil {
			return err
		}

		for _, key := range keys {
			ttl, err := cw.redis.TTL(ctx, key).Result()
			if err != nil {
				continue
			}
			// -1 means the key exists without an expiry
			if ttl == -1 {
				if err := cw.redis.Del(ctx, key).Err(); err == nil {
					totalCleaned++
				}
			}
		}

		cursor = next
		if cursor == 0 {
			break
		}
	}

	cw.statsMutex.Lock()
	cw.stats.RedisKeysCleaned += totalCleaned
	cw.statsMutex.Unlock()

	if totalCleaned > 0 {
		logrus.Infof("Cleaned up %d Redis keys", totalCleaned)
	}
	return nil
}

func (cw *CleanupWorker) GetStats() CleanupWorkerStats {
	cw.statsMutex.RLock()
	defer cw.statsMutex.RUnlock()

	stats := cw.stats
	stats.TaskExecutionTimes = make(map[string]int64, len(cw.stats.TaskExecutionTimes))
	for name, ms := range cw.stats.TaskExecutionTimes {
		stats.TaskExecutionTimes[name] = ms
	}
	return stats
}

func (cw *CleanupWorker) GetTasks() []CleanupTask {
	cw.taskMutex.Lock()
	defer cw.taskMutex.Unlock()

	tasks := make([]CleanupTask, len(cw.tasks))
	copy(tasks, cw.tasks)
	return tasks
}
