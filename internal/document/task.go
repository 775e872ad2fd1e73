package document

import "maps"

// Task is the unit of work delivered by the host. It owns the task custom
// data and the response the worker fills in for routing.
type Task struct {
	customData map[string]string
	Response   Response
}

// Response carries what the worker hands back to the host.
type Response struct {
	CustomData   map[string]string `json:"customData,omitempty"`
	SuccessQueue string            `json:"successQueue,omitempty"`
	FailureQueue string            `json:"failureQueue,omitempty"`
}

// NewTask creates a task with a copy of customData.
func NewTask(customData map[string]string) *Task {
	cd := make(map[string]string, len(customData))
	maps.Copy(cd, customData)
	return &Task{customData: cd}
}

// CustomDataValue returns a custom-data entry. Present-but-empty counts as present.
func (t *Task) CustomDataValue(key string) (string, bool) {
	v, ok := t.customData[key]
	return v, ok
}

// CustomData returns a copy of the task custom data.
func (t *Task) CustomData() map[string]string {
	return maps.Clone(t.customData)
}

// SetCustomData records a custom-data entry on the response.
func (r *Response) SetCustomData(key, value string) {
	if r.CustomData == nil {
		r.CustomData = make(map[string]string)
	}
	r.CustomData[key] = value
}
