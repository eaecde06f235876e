package simulate

import (
	"time"

	"github.com/okian/reelrank/internal/domain/model"
)

// Config holds configuration for a simulation run.
type Config struct {
	UserID      string            // Owner of the simulated partition
	ContentType model.ContentType // Partition driven by the gestures
	Items       int               // Titles ranked before the gestures start
	Gestures    int               // Reorder and delete gestures to perform
	DeleteRatio float64           // Share of gestures that delete a title
	BurstEvery  int               // Every n-th step fires two gestures back to back; 0 disables
	Seed        uint64            // Seed of the gesture generator
	StepTimeout time.Duration     // Bound on waiting for one step to settle
	CacheTTL    time.Duration     // Read-through cache in front of the repository; 0 disables

	ReloadAfterDelete bool
}

// Defaults for a simulation run.
const (
	DefaultItems       = 25
	DefaultGestures    = 200
	DefaultDeleteRatio = 0.1
	DefaultBurstEvery  = 10
	DefaultStepTimeout = 10 * time.Second
)

func (c *Config) withDefaults() {
	if c.UserID == "" {
		c.UserID = "sim-user"
	}
	if c.ContentType == "" {
		c.ContentType = model.Movie
	}
	if c.Items <= 0 {
		c.Items = DefaultItems
	}
	if c.Gestures < 0 {
		c.Gestures = 0
	}
	if c.DeleteRatio < 0 || c.DeleteRatio > 1 {
		c.DeleteRatio = DefaultDeleteRatio
	}
	if c.StepTimeout <= 0 {
		c.StepTimeout = DefaultStepTimeout
	}
}

// Report summarizes a simulation run.
type Report struct {
	Appended   int
	Reorders   int
	Deletes    int
	Dropped    int
	RolledBack int
	Violations []string
	Duration   time.Duration
}
