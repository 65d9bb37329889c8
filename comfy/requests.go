package comfy

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
)

/*
server routes used here:

@routes.get("/object_info/{node_class}")
@routes.get("/history/{prompt_id}")
@routes.get("/view")
@routes.get("/system_stats")

@routes.post("/prompt")
@routes.post("/interrupt")
*/

// NodeInfo is the /object_info entry for a single node class. Input
// specs are kept raw: enum inputs are arrays, typed inputs are
// [type, options] pairs.
type NodeInfo struct {
	Input struct {
		Required map[string]json.RawMessage `json:"required"`
	} `json:"input"`
}

// requiredEnum extracts the value list of an enum-typed required
// input, e.g. KSampler's sampler_name which arrives as
// [["euler", ...], {...}].
func (n NodeInfo) requiredEnum(name string) []string {
	raw, ok := n.Input.Required[name]
	if !ok {
		return nil
	}
	var spec []json.RawMessage
	if err := json.Unmarshal(raw, &spec); err != nil || len(spec) == 0 {
		return nil
	}
	var names []string
	if err := json.Unmarshal(spec[0], &names); err != nil {
		return nil
	}
	return names
}

// QueuedPrompt is the response to a successful POST /prompt.
type QueuedPrompt struct {
	PromptID   string                 `json:"prompt_id"`
	Number     int                    `json:"number"`
	NodeErrors map[string]interface{} `json:"node_errors"`
}

type promptError struct {
	Error struct {
		Type    string `json:"type"`
		Message string `json:"message"`
		Details string `json:"details"`
	} `json:"error"`
	NodeErrors map[string]interface{} `json:"node_errors"`
}

// ImageRef locates a generated image on the server.
type ImageRef struct {
	Filename  string `json:"filename"`
	Subfolder string `json:"subfolder"`
	Type      string `json:"type"`
}

// NodeOutput is the recorded output of a single workflow node.
type NodeOutput struct {
	Images []ImageRef `json:"images,omitempty"`
}

// HistoryEntry is the execution record of one prompt.
type HistoryEntry struct {
	Outputs map[string]NodeOutput `json:"outputs"`
}

// FirstImage returns the first image found in any node output.
func (h HistoryEntry) FirstImage() (ImageRef, bool) {
	for _, out := range h.Outputs {
		if len(out.Images) > 0 {
			return out.Images[0], true
		}
	}
	return ImageRef{}, false
}

// SystemStats describes the server host and its devices.
type SystemStats struct {
	System struct {
		OS            string `json:"os"`
		PythonVersion string `json:"python_version"`
	} `json:"system"`
	Devices []struct {
		Name      string `json:"name"`
		Type      string `json:"type"`
		VRAMTotal int64  `json:"vram_total"`
		VRAMFree  int64  `json:"vram_free"`
	} `json:"devices"`
}

// ObjectInfo fetches the full node catalog from /object_info. The
// response is large, prefer NodeObjectInfo when a single class is
// enough.
func (c *Client) ObjectInfo(ctx context.Context) (map[string]NodeInfo, error) {
	res := map[string]NodeInfo{}
	if err := c.getJSON(ctx, "/object_info", &res); err != nil {
		return nil, err
	}
	return res, nil
}

// NodeObjectInfo fetches the /object_info entry for one node class.
func (c *Client) NodeObjectInfo(ctx context.Context, class string) (NodeInfo, error) {
	res := map[string]NodeInfo{}
	if err := c.getJSON(ctx, "/object_info/"+url.PathEscape(class), &res); err != nil {
		return NodeInfo{}, err
	}
	info, ok := res[class]
	if !ok {
		return NodeInfo{}, fmt.Errorf("node class %q not reported by server", class)
	}
	return info, nil
}

// QueuePrompt submits a resolved workflow for execution and returns
// the assigned prompt id. Server-side validation failures (missing
// model, bad node) come back in the response body and are surfaced as
// errors.
func (c *Client) QueuePrompt(ctx context.Context, prompt map[string]interface{}) (*QueuedPrompt, error) {
	payload, err := json.Marshal(map[string]interface{}{
		"prompt":    prompt,
		"client_id": c.clientID,
	})
	if err != nil {
		return nil, fmt.Errorf("marshal prompt: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/prompt", bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("make prompt request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("post prompt: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read prompt response: %w", err)
	}

	queued := &QueuedPrompt{}
	if err = json.Unmarshal(body, queued); err == nil && queued.PromptID != "" {
		return queued, nil
	}

	perr := &promptError{}
	if jerr := json.Unmarshal(body, perr); jerr == nil && perr.Error.Message != "" {
		return nil, fmt.Errorf("comfyui rejected prompt: %s", perr.Error.Message)
	}
	return nil, fmt.Errorf("unexpected prompt response (status %d): %s", resp.StatusCode, body)
}

// History returns the execution record for a prompt id, reporting
// whether the server knows the prompt yet.
func (c *Client) History(ctx context.Context, promptID string) (HistoryEntry, bool, error) {
	res := map[string]HistoryEntry{}
	if err := c.getJSON(ctx, "/history/"+url.PathEscape(promptID), &res); err != nil {
		return HistoryEntry{}, false, err
	}
	entry, ok := res[promptID]
	return entry, ok, nil
}

// GetImage downloads a generated image via /view.
func (c *Client) GetImage(ctx context.Context, ref ImageRef) ([]byte, error) {
	params := url.Values{}
	params.Add("filename", ref.Filename)
	params.Add("subfolder", ref.Subfolder)
	params.Add("type", ref.Type)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/view?"+params.Encode(), nil)
	if err != nil {
		return nil, fmt.Errorf("make view request: %w", err)
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("get image %s: %w", ref.Filename, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("get image %s: status %d", ref.Filename, resp.StatusCode)
	}
	return io.ReadAll(resp.Body)
}

// Interrupt asks the server to stop the currently executing prompt.
func (c *Client) Interrupt(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/interrupt", bytes.NewReader([]byte("{}")))
	if err != nil {
		return fmt.Errorf("make interrupt request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("post interrupt: %w", err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)
	return nil
}

// SystemStats fetches host and GPU stats from the server.
func (c *Client) SystemStats(ctx context.Context) (*SystemStats, error) {
	res := &SystemStats{}
	if err := c.getJSON(ctx, "/system_stats", res); err != nil {
		return nil, err
	}
	return res, nil
}

func (c *Client) getJSON(ctx context.Context, path string, v interface{}) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return fmt.Errorf("make request %s: %w", path, err)
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("get %s: %w", path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("get %s: status %d: %s", path, resp.StatusCode, body)
	}
	if err = json.NewDecoder(resp.Body).Decode(v); err != nil {
		return fmt.Errorf("decode %s response: %w", path, err)
	}
	return nil
}
