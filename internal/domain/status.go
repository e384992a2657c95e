package domain

// WorkerSpeed is the fixed relative weight a worker reports to the controller.
const WorkerSpeed = 1

// WorkerStatus is the load snapshot reported to the controller. It is
// recomputed on demand and never stored.
type WorkerStatus struct {
	ModelName   string `json:"model_name"`
	Speed       int    `json:"speed"`
	QueueLength int    `json:"queue_length"`
}
