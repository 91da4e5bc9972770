package services

import (
	"fmt"
	"guardian/models"
	"sync"
	"time"
)

// DispatchSchedule holds the delay of each simulated dispatch step, measured
// from the start of the dispatch sequence. The delays are independent.
type DispatchSchedule struct {
	Call911        time.Duration
	NotifyContacts time.Duration
	PageResponders time.Duration
}

func DefaultDispatchSchedule() DispatchSchedule {
	return DispatchSchedule{
		Call911:        1500 * time.Millisecond,
		NotifyContacts: 3000 * time.Millisecond,
		PageResponders: 5500 * time.Millisecond,
	}
}

type dispatchStage struct {
	step     models.StepName
	delay    func(DispatchSchedule) time.Duration
	messages func(*emergencySession) []string
}

// Nothing here actually dials or messages anyone.
var dispatchStages = []dispatchStage{
	{
		step:  models.StepCall911,
		delay: func(d DispatchSchedule) time.Duration { return d.Call911 },
		messages: func(*emergencySession) []string {
			return []string{"TEST MODE: 911 dialing skipped. Script prepared for operator."}
		},
	},
	{
		step:  models.StepNotifyContacts,
		delay: func(d DispatchSchedule) time.Duration { return d.NotifyContacts },
		messages: func(sess *emergencySession) []string {
			return []string{fmt.Sprintf("Dispatched SMS/Email to %d emergency contacts.", sess.contactCount)}
		},
	},
	{
		step:  models.StepPageResponders,
		delay: func(d DispatchSchedule) time.Duration { return d.PageResponders },
		messages: func(*emergencySession) []string {
			return []string{
				"Broadcasted alert to Guardian Community Network (2 mile radius).",
				"3 registered responders acknowledged receipt.",
			}
		},
	},
}

// startDispatchLocked moves every dispatch step to IN_PROGRESS and schedules
// its completion. Caller holds s.mu.
func (s *EmergencySequencer) startDispatchLocked(sess *emergencySession) {
	for _, stage := range dispatchStages {
		stage := stage
		sess.status.Advance(stage.step, models.StepStatusInProgress)

		sess.timers.after(stage.delay(s.schedule), func() {
			completed := s.update(sess, func() {
				for _, msg := range stage.messages(sess) {
					s.logLocked(sess, msg, models.LogSourceSystem)
				}
				sess.status.Advance(stage.step, models.StepStatusCompleted)
			})
			if completed {
				s.metrics.StepCompleted(stage.step)
			}
		})
	}
}

// timerGroup cancels a set of delayed actions together.
type timerGroup struct {
	mu      sync.Mutex
	timers  []*time.Timer
	stopped bool
}

func newTimerGroup() *timerGroup {
	return &timerGroup{}
}

func (g *timerGroup) after(d time.Duration, fn func()) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.stopped {
		return
	}
	g.timers = append(g.timers, time.AfterFunc(d, fn))
}

// stop cancels every pending timer. Later calls to after are ignored.
func (g *timerGroup) stop() int {
	g.mu.Lock()
	defer g.mu.Unlock()

	pending := 0
	for _, t := range g.timers {
		if t.Stop() {
			pending++
		}
	}
	g.timers = nil
	g.stopped = true
	return pending
}

func (g *timerGroup) len() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.timers)
}
