package comfy

import (
	"context"
	"fmt"
	"time"

	log "github.com/go-pkgz/lgr"
)

var historyPollInterval = 2 * time.Second

// ProgressFunc receives sampling progress, value out of max steps.
type ProgressFunc func(value, max int)

// Result is a completed generation: the first output image plus the
// full per-node output record.
type Result struct {
	PromptID string
	Image    []byte
	Filename string
	Outputs  map[string]NodeOutput
}

// Generate runs a resolved workflow to completion: submits it, tracks
// the websocket feed until the prompt finishes, then downloads the
// first output image. If the feed can't be opened or drops, it falls
// back to polling /history. The caller's context bounds the whole
// operation.
func (c *Client) Generate(ctx context.Context, prompt map[string]interface{}, onProgress ProgressFunc) (*Result, error) {
	// open the feed before queueing so no event about our prompt can
	// slip past between submission and subscription
	f, ferr := c.openFeed(ctx)
	if ferr != nil {
		log.Printf("[WARN] no websocket feed, will poll history: %v", ferr)
	} else {
		defer f.Close()
	}

	queued, err := c.QueuePrompt(ctx, prompt)
	if err != nil {
		return nil, err
	}
	log.Printf("[INFO] queued prompt %s (number %d)", queued.PromptID, queued.Number)

	if f == nil {
		return c.pollResult(ctx, queued.PromptID)
	}
	return c.awaitFeed(ctx, f, queued.PromptID, onProgress)
}

func (c *Client) awaitFeed(ctx context.Context, f *feed, promptID string, onProgress ProgressFunc) (*Result, error) {
	for {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case ev, ok := <-f.Events():
			if !ok {
				log.Printf("[WARN] websocket feed dropped for prompt %s, polling history", promptID)
				return c.pollResult(ctx, promptID)
			}

			switch data := ev.Data.(type) {
			case *ExecutionStartData:
				if data.PromptID == promptID {
					log.Printf("[DEBUG] prompt %s started", promptID)
				}
			case *ProgressData:
				if onProgress != nil && (data.PromptID == "" || data.PromptID == promptID) {
					onProgress(data.Value, data.Max)
				}
			case *ExecutedData:
				if data.PromptID == promptID {
					if images := data.Images(); len(images) > 0 {
						log.Printf("[DEBUG] node %s produced %d image(s)", data.Node, len(images))
					}
				}
			case *ExecutingData:
				// a nil node for our prompt means the final node completed
				if data.PromptID == promptID && data.Node == nil {
					return c.fetchResult(ctx, promptID)
				}
			case *ExecutionErrorData:
				if data.PromptID == promptID {
					return nil, fmt.Errorf("node %s (%s) failed: %s: %s",
						data.Node, data.NodeType, data.ExceptionType, data.ExceptionMessage)
				}
			case *ExecutionInterruptedData:
				if data.PromptID == promptID {
					return nil, fmt.Errorf("prompt %s interrupted at node %s", promptID, data.Node)
				}
			}
		}
	}
}

// pollResult waits for the prompt to appear in /history with outputs,
// checking every two seconds until the context expires.
func (c *Client) pollResult(ctx context.Context, promptID string) (*Result, error) {
	ticker := time.NewTicker(historyPollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-ticker.C:
			entry, ok, err := c.History(ctx, promptID)
			if err != nil {
				log.Printf("[DEBUG] history poll for %s: %v", promptID, err)
				continue
			}
			if ok && len(entry.Outputs) > 0 {
				return c.resultFromHistory(ctx, promptID, entry)
			}
		}
	}
}

func (c *Client) fetchResult(ctx context.Context, promptID string) (*Result, error) {
	entry, ok, err := c.History(ctx, promptID)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, fmt.Errorf("prompt %s finished but has no history entry", promptID)
	}
	return c.resultFromHistory(ctx, promptID, entry)
}

func (c *Client) resultFromHistory(ctx context.Context, promptID string, entry HistoryEntry) (*Result, error) {
	ref, ok := entry.FirstImage()
	if !ok {
		return nil, fmt.Errorf("prompt %s produced no images", promptID)
	}
	img, err := c.GetImage(ctx, ref)
	if err != nil {
		return nil, err
	}
	log.Printf("[INFO] prompt %s done, image %s (%.2f KB)", promptID, ref.Filename, float64(len(img))/1024)
	return &Result{PromptID: promptID, Image: img, Filename: ref.Filename, Outputs: entry.Outputs}, nil
}
