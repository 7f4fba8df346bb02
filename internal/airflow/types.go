package airflow

import "time"

// Health reports the status of the Airflow components.
type Health struct {
	Metadatabase ComponentHealth `json:"metadatabase"`
	Scheduler    SchedulerHealth `json:"scheduler"`
}

// ComponentHealth is the status of a single Airflow component.
type ComponentHealth struct {
	Status string `json:"status"`
}

// SchedulerHealth is the scheduler status plus its last heartbeat.
type SchedulerHealth struct {
	Status                   string     `json:"status"`
	LatestSchedulerHeartbeat *time.Time `json:"latest_scheduler_heartbeat"`
}

// Version identifies the Airflow deployment.
type Version struct {
	Version    string `json:"version"`
	GitVersion string `json:"git_version,omitempty"`
}

// DAG is a single DAG as reported by the Airflow API.
type DAG struct {
	DAGID            string     `json:"dag_id"`
	DAGDisplayName   string     `json:"dag_display_name,omitempty"`
	IsPaused         bool       `json:"is_paused"`
	Fileloc          string     `json:"fileloc,omitempty"`
	Description      string     `json:"description,omitempty"`
	TimetableSummary string     `json:"timetable_summary,omitempty"`
	NextDagrun       *time.Time `json:"next_dagrun,omitempty"`
	Owners           []string   `json:"owners,omitempty"`
	Tags             []DAGTag   `json:"tags,omitempty"`
}

// DAGTag labels a DAG.
type DAGTag struct {
	Name string `json:"name"`
}

// DAGCollection is a paginated list of DAGs.
type DAGCollection struct {
	DAGs         []DAG `json:"dags"`
	TotalEntries int   `json:"total_entries"`
}

// DAGRun is a single run of a DAG.
type DAGRun struct {
	DAGRunID    string         `json:"dag_run_id"`
	DAGID       string         `json:"dag_id"`
	LogicalDate *time.Time     `json:"logical_date"`
	StartDate   *time.Time     `json:"start_date,omitempty"`
	EndDate     *time.Time     `json:"end_date,omitempty"`
	State       string         `json:"state"`
	RunType     string         `json:"run_type,omitempty"`
	Conf        map[string]any `json:"conf,omitempty"`
}

// DAGRunCollection is a paginated list of DAG runs.
type DAGRunCollection struct {
	DAGRuns      []DAGRun `json:"dag_runs"`
	TotalEntries int      `json:"total_entries"`
}

// TriggerDAGRunRequest is the payload for creating a new DAG run.
type TriggerDAGRunRequest struct {
	Conf        map[string]any `json:"conf,omitempty"`
	LogicalDate *time.Time     `json:"logical_date,omitempty"`
}

// TaskInstance is a single task execution within a DAG run.
type TaskInstance struct {
	TaskID    string     `json:"task_id"`
	DAGID     string     `json:"dag_id"`
	DAGRunID  string     `json:"dag_run_id"`
	State     string     `json:"state"`
	TryNumber int        `json:"try_number"`
	Operator  string     `json:"operator,omitempty"`
	StartDate *time.Time `json:"start_date,omitempty"`
	EndDate   *time.Time `json:"end_date,omitempty"`
}

// TaskLogs carries the log content for one task try.
type TaskLogs struct {
	Content           string `json:"content"`
	ContinuationToken string `json:"continuation_token,omitempty"`
}

// Variable is an Airflow variable.
type Variable struct {
	Key         string `json:"key"`
	Value       string `json:"value"`
	Description string `json:"description,omitempty"`
}

// VariableCollection is a paginated list of variables.
type VariableCollection struct {
	Variables    []Variable `json:"variables"`
	TotalEntries int        `json:"total_entries"`
}

// Connection is an Airflow connection (secrets redacted by the API).
type Connection struct {
	ConnectionID string `json:"connection_id"`
	ConnType     string `json:"conn_type"`
	Host         string `json:"host,omitempty"`
	Port         int    `json:"port,omitempty"`
	Login        string `json:"login,omitempty"`
	Schema       string `json:"schema,omitempty"`
	Description  string `json:"description,omitempty"`
}

// ConnectionCollection is a paginated list of connections.
type ConnectionCollection struct {
	Connections  []Connection `json:"connections"`
	TotalEntries int          `json:"total_entries"`
}

// Pool is an Airflow worker pool.
type Pool struct {
	Name          string `json:"name"`
	Slots         int    `json:"slots"`
	OccupiedSlots int    `json:"occupied_slots"`
	RunningSlots  int    `json:"running_slots"`
	QueuedSlots   int    `json:"queued_slots"`
	OpenSlots     int    `json:"open_slots"`
	Description   string `json:"description,omitempty"`
}

// PoolCollection is a paginated list of pools.
type PoolCollection struct {
	Pools        []Pool `json:"pools"`
	TotalEntries int    `json:"total_entries"`
}

// ImportError is a DAG file that failed to parse.
type ImportError struct {
	ImportErrorID int        `json:"import_error_id"`
	Timestamp     *time.Time `json:"timestamp,omitempty"`
	Filename      string     `json:"filename"`
	StackTrace    string     `json:"stack_trace"`
}

// ImportErrorCollection is a paginated list of import errors.
type ImportErrorCollection struct {
	ImportErrors []ImportError `json:"import_errors"`
	TotalEntries int           `json:"total_entries"`
}
