package beat

import (
	"time"

	"github.com/taskbeat/taskbeat/internal/schedule"
	"github.com/taskbeat/taskbeat/internal/store"
)

func compileSpec(task *store.Task, loc *time.Location) (schedule.Spec, error) {
	return schedule.Compile(task, loc)
}
