package ekacare

// Task is the processing mode requested for an uploaded document.
type Task string

const (
	// TaskSmart requests structured data extraction.
	TaskSmart Task = "smart"
	// TaskPII requests sensitive-data detection.
	TaskPII Task = "pii"
	// TaskBoth requests smart and pii processing in one submission.
	TaskBoth Task = "both"
)

// ParseTask converts a raw string into a Task, rejecting unknown values.
func ParseTask(s string) (Task, error) {
	t := Task(s)
	if err := t.Validate(); err != nil {
		return "", err
	}
	return t, nil
}

// Validate reports whether the task is one of the accepted values.
func (t Task) Validate() error {
	switch t {
	case TaskSmart, TaskPII, TaskBoth:
		return nil
	}
	return &InvalidTaskError{Task: string(t)}
}

func (t Task) String() string {
	return string(t)
}

// queryValues returns the wire form of the task. "both" is sent as two
// separate task parameters, smart before pii.
func (t Task) queryValues() []string {
	if t == TaskBoth {
		return []string{string(TaskSmart), string(TaskPII)}
	}
	return []string{string(t)}
}
