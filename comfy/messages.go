package comfy

import "encoding/json"

// Event is a single message from the /ws feed. Data holds the
// type-specific payload, nil for event types we don't track.
type Event struct {
	Type string      `json:"type"`
	Data interface{} `json:"data"`
}

// UnmarshalJSON decodes the payload into the concrete type for the
// event, using an anonymous shadow struct to avoid recursion.
func (e *Event) UnmarshalJSON(b []byte) error {
	var temp struct {
		Type string          `json:"type"`
		Data json.RawMessage `json:"data"`
	}
	if err := json.Unmarshal(b, &temp); err != nil {
		return err
	}

	e.Type = temp.Type
	switch e.Type {
	case "status":
		e.Data = &StatusData{}
	case "execution_start":
		e.Data = &ExecutionStartData{}
	case "executing":
		e.Data = &ExecutingData{}
	case "progress":
		e.Data = &ProgressData{}
	case "executed":
		e.Data = &ExecutedData{}
	case "execution_error":
		e.Data = &ExecutionErrorData{}
	case "execution_interrupted":
		e.Data = &ExecutionInterruptedData{}
	default:
		// execution_cached, crystools.monitor and friends carry
		// nothing the bot acts on
		e.Data = nil
	}

	if e.Data != nil && len(temp.Data) > 0 {
		if err := json.Unmarshal(temp.Data, e.Data); err != nil {
			return err
		}
	}
	return nil
}

// StatusData reports the server-side queue depth.
// {"type": "status", "data": {"status": {"exec_info": {"queue_remaining": 1}}}}
type StatusData struct {
	Status struct {
		ExecInfo struct {
			QueueRemaining int `json:"queue_remaining"`
		} `json:"exec_info"`
	} `json:"status"`
}

// ExecutionStartData marks the start of a prompt's execution.
// {"type": "execution_start", "data": {"prompt_id": "ed98..."}}
type ExecutionStartData struct {
	PromptID string `json:"prompt_id"`
}

// ExecutingData reports the node currently running. A nil Node means
// the final node of the prompt finished.
// {"type": "executing", "data": {"node": "12", "prompt_id": "ed98..."}}
type ExecutingData struct {
	Node     *string `json:"node"`
	PromptID string  `json:"prompt_id"`
}

// ProgressData is a sampling step counter for the running node.
// {"type": "progress", "data": {"value": 1, "max": 20}}
type ProgressData struct {
	Value    int    `json:"value"`
	Max      int    `json:"max"`
	PromptID string `json:"prompt_id"`
}

// ExecutedData carries a node's outputs once it completes. One event
// arrives per output-producing node.
// {"type": "executed", "data": {"node": "19", "output": {"images": [...]}, "prompt_id": "ed98..."}}
type ExecutedData struct {
	Node     string                     `json:"node"`
	Output   map[string]json.RawMessage `json:"output"`
	PromptID string                     `json:"prompt_id"`
}

// Images collects image references from the node output, regardless
// of which output key they arrived under.
func (d *ExecutedData) Images() []ImageRef {
	var images []ImageRef
	for _, raw := range d.Output {
		var refs []ImageRef
		if err := json.Unmarshal(raw, &refs); err != nil {
			continue
		}
		for _, ref := range refs {
			if ref.Filename != "" {
				images = append(images, ref)
			}
		}
	}
	return images
}

// ExecutionErrorData relays a failure raised by a workflow node, e.g.
// a missing model file.
type ExecutionErrorData struct {
	PromptID         string   `json:"prompt_id"`
	Node             string   `json:"node_id"`
	NodeType         string   `json:"node_type"`
	ExceptionMessage string   `json:"exception_message"`
	ExceptionType    string   `json:"exception_type"`
	Traceback        []string `json:"traceback"`
}

// ExecutionInterruptedData reports a prompt cancelled via /interrupt.
type ExecutionInterruptedData struct {
	PromptID string   `json:"prompt_id"`
	Node     string   `json:"node_id"`
	NodeType string   `json:"node_type"`
	Executed []string `json:"executed"`
}
