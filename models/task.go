package models

// TaskSpec is a shell task ready to be executed.
type TaskSpec struct {
	Label   string `json:"label"`
	Command string `json:"command"`
	Cwd     string `json:"cwd,omitempty"`
}

// TaskRun tracks one submitted task.
type TaskRun struct {
	ID         string `json:"id"`
	Label      string `json:"label"`
	Command    string `json:"command"`
	Cwd        string `json:"cwd,omitempty"`
	Status     string `json:"status"` // pending, running, done, failed, terminated
	PID        int    `json:"pid,omitempty"`
	StartedAt  int64  `json:"started_at,omitempty"`
	FinishedAt int64  `json:"finished_at,omitempty"`
	Result     string `json:"result,omitempty"`
}

// Task statuses.
const (
	TaskPending    = "pending"
	TaskRunning    = "running"
	TaskDone       = "done"
	TaskFailed     = "failed"
	TaskTerminated = "terminated"
)

// Finished reports whether the run reached a terminal status.
func (r TaskRun) Finished() bool {
	return r.Status == TaskDone || r.Status == TaskFailed || r.Status == TaskTerminated
}

// RunTaskRequest is the body of POST /api/projects/tasks.
type RunTaskRequest struct {
	Workspace string `json:"workspace"`
	Label     string `json:"label" binding:"required"`
}

// MonitorRequest is the optional body of POST /api/monitor/start.
type MonitorRequest struct {
	Port string `json:"port"`
	Baud int    `json:"baud"`
}
