package contextstore

import "time"

// DeploymentRecord is the persisted outcome of one phase run against one
// guest container. Records are keyed by node and vmid; re-deploying the
// same container replaces its record.
type DeploymentRecord struct {
	RunID       string            `json:"run_id"`
	Application string            `json:"application"`
	Node        string            `json:"node"`
	VMID        int               `json:"vm_id"`
	Hostname    string            `json:"hostname,omitempty"`
	Phase       string            `json:"phase"`
	Status      string            `json:"status"`
	Values      map[string]string `json:"values,omitempty"`
	StartedAt   time.Time         `json:"started_at"`
	FinishedAt  time.Time         `json:"finished_at"`
}
