package comfy

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewClient(t *testing.T) {
	c, err := NewClient("http://localhost:8188/")
	require.NoError(t, err)
	assert.Equal(t, "http://localhost:8188", c.baseURL)
	assert.Equal(t, "ws://localhost:8188/ws", c.wsURL)
	assert.NotEmpty(t, c.ClientID())

	c, err = NewClient("https://comfy.example.com")
	require.NoError(t, err)
	assert.Equal(t, "wss://comfy.example.com/ws", c.wsURL)

	_, err = NewClient("ftp://nope")
	assert.Error(t, err)
}

func TestSamplersDiscovery(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/object_info/KSampler", r.URL.Path)
		_, _ = w.Write([]byte(`{"KSampler": {"input": {"required": {
			"sampler_name": [["euler", "heun", "ddim"]],
			"scheduler": [["normal", "karras"], {}],
			"steps": ["INT", {"default": 20}]
		}}}}`))
	}))
	defer srv.Close()

	c, err := NewClient(srv.URL)
	require.NoError(t, err)

	assert.Equal(t, []string{"euler", "heun", "ddim"}, c.Samplers(context.Background()))
	assert.Equal(t, []string{"normal", "karras"}, c.Schedulers(context.Background()))
}

func TestObjectInfo(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/object_info", r.URL.Path)
		_, _ = w.Write([]byte(`{
			"KSampler": {"input": {"required": {"sampler_name": [["euler"]]}}},
			"SaveImage": {"input": {"required": {}}}
		}`))
	}))
	defer srv.Close()

	c, err := NewClient(srv.URL)
	require.NoError(t, err)

	info, err := c.ObjectInfo(context.Background())
	require.NoError(t, err)
	assert.Len(t, info, 2)
	assert.Equal(t, []string{"euler"}, info["KSampler"].requiredEnum("sampler_name"))
	assert.Nil(t, info["SaveImage"].requiredEnum("sampler_name"))
}

func TestSamplersFallbackOnUnreachableServer(t *testing.T) {
	c, err := NewClient("http://127.0.0.1:1") // nothing listens here
	require.NoError(t, err)
	c.SetHTTPClient(&http.Client{Timeout: 100 * time.Millisecond})

	assert.Equal(t, DefaultSamplers, c.Samplers(context.Background()))
	assert.Equal(t, DefaultSchedulers, c.Schedulers(context.Background()))
}

func TestQueuePrompt(t *testing.T) {
	var gotPayload map[string]interface{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/prompt", r.URL.Path)
		require.Equal(t, http.MethodPost, r.Method)
		require.NoError(t, json.NewDecoder(r.Body).Decode(&gotPayload))
		_, _ = w.Write([]byte(`{"prompt_id": "abc-123", "number": 7, "node_errors": {}}`))
	}))
	defer srv.Close()

	c, err := NewClient(srv.URL)
	require.NoError(t, err)

	queued, err := c.QueuePrompt(context.Background(), map[string]interface{}{"1": map[string]interface{}{"class_type": "KSampler"}})
	require.NoError(t, err)
	assert.Equal(t, "abc-123", queued.PromptID)
	assert.Equal(t, 7, queued.Number)
	assert.Equal(t, c.ClientID(), gotPayload["client_id"])
	assert.Contains(t, gotPayload, "prompt")
}

func TestQueuePromptRejected(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"error": {"type": "prompt_no_outputs", "message": "Prompt has no outputs", "details": ""}, "node_errors": {}}`))
	}))
	defer srv.Close()

	c, err := NewClient(srv.URL)
	require.NoError(t, err)

	_, err = c.QueuePrompt(context.Background(), map[string]interface{}{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "Prompt has no outputs")
}

func TestInterrupt(t *testing.T) {
	var hits int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/interrupt", r.URL.Path)
		hits++
	}))
	defer srv.Close()

	c, err := NewClient(srv.URL)
	require.NoError(t, err)

	require.NoError(t, c.Interrupt(context.Background()))
	assert.Equal(t, 1, hits)
}

func TestSystemStats(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/system_stats", r.URL.Path)
		_, _ = w.Write([]byte(`{"system": {"os": "posix", "python_version": "3.11.4"},
			"devices": [{"name": "cuda:0 NVIDIA", "type": "cuda", "vram_total": 8589934592, "vram_free": 7000000000}]}`))
	}))
	defer srv.Close()

	c, err := NewClient(srv.URL)
	require.NoError(t, err)

	stats, err := c.SystemStats(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "posix", stats.System.OS)
	assert.Equal(t, "3.11.4", stats.System.PythonVersion)
	require.Len(t, stats.Devices, 1)
	assert.Equal(t, "cuda", stats.Devices[0].Type)
	assert.Equal(t, int64(8589934592), stats.Devices[0].VRAMTotal)
}

func TestHistory(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/history/p1":
			_, _ = w.Write([]byte(`{"p1": {"outputs": {"9": {"images": [{"filename": "out.png", "subfolder": "", "type": "output"}]}}}}`))
		case "/history/unknown":
			_, _ = w.Write([]byte(`{}`))
		default:
			http.NotFound(w, r)
		}
	}))
	defer srv.Close()

	c, err := NewClient(srv.URL)
	require.NoError(t, err)

	entry, ok, err := c.History(context.Background(), "p1")
	require.NoError(t, err)
	require.True(t, ok)
	ref, found := entry.FirstImage()
	require.True(t, found)
	assert.Equal(t, "out.png", ref.Filename)

	_, ok, err = c.History(context.Background(), "unknown")
	require.NoError(t, err)
	assert.False(t, ok)
}

// generationServer fakes enough of ComfyUI to run Generate end to end.
func generationServer(t *testing.T, wsScript func(conn *websocket.Conn)) *httptest.Server {
	t.Helper()
	upgrader := websocket.Upgrader{}
	mux := http.NewServeMux()
	mux.HandleFunc("/prompt", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"prompt_id": "p1", "number": 1}`))
	})
	mux.HandleFunc("/ws", func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		require.NoError(t, err)
		defer conn.Close()
		wsScript(conn)
	})
	mux.HandleFunc("/history/p1", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"p1": {"outputs": {"9": {"images": [{"filename": "out.png", "subfolder": "", "type": "output"}]}}}}`))
	})
	mux.HandleFunc("/view", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "out.png", r.URL.Query().Get("filename"))
		_, _ = w.Write([]byte("png-bytes"))
	})
	return httptest.NewServer(mux)
}

func TestGenerate(t *testing.T) {
	srv := generationServer(t, func(conn *websocket.Conn) {
		msgs := []string{
			`{"type": "status", "data": {"status": {"exec_info": {"queue_remaining": 1}}}}`,
			`{"type": "execution_start", "data": {"prompt_id": "p1"}}`,
			`{"type": "executing", "data": {"node": "3", "prompt_id": "p1"}}`,
			`{"type": "progress", "data": {"value": 10, "max": 20}}`,
			`{"type": "progress", "data": {"value": 20, "max": 20}}`,
			`{"type": "executed", "data": {"node": "9", "output": {"images": [{"filename": "out.png", "subfolder": "", "type": "output"}]}, "prompt_id": "p1"}}`,
			`{"type": "executing", "data": {"node": null, "prompt_id": "p1"}}`,
		}
		for _, m := range msgs {
			require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte(m)))
		}
		// keep the connection up until the client closes it
		_, _, _ = conn.ReadMessage()
	})
	defer srv.Close()

	c, err := NewClient(srv.URL)
	require.NoError(t, err)

	var lastValue, lastMax int
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	res, err := c.Generate(ctx, map[string]interface{}{"1": "x"}, func(value, max int) {
		lastValue, lastMax = value, max
	})
	require.NoError(t, err)
	assert.Equal(t, "p1", res.PromptID)
	assert.Equal(t, []byte("png-bytes"), res.Image)
	assert.Equal(t, "out.png", res.Filename)
	assert.Equal(t, 20, lastValue)
	assert.Equal(t, 20, lastMax)
}

func TestGenerateExecutionError(t *testing.T) {
	srv := generationServer(t, func(conn *websocket.Conn) {
		msgs := []string{
			`{"type": "execution_start", "data": {"prompt_id": "p1"}}`,
			`{"type": "execution_error", "data": {"prompt_id": "p1", "node_id": "4", "node_type": "CheckpointLoaderSimple", "exception_type": "FileNotFoundError", "exception_message": "model not found: sd15.safetensors"}}`,
		}
		for _, m := range msgs {
			require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte(m)))
		}
		_, _, _ = conn.ReadMessage()
	})
	defer srv.Close()

	c, err := NewClient(srv.URL)
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	_, err = c.Generate(ctx, map[string]interface{}{"1": "x"}, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "model not found")
}

func TestGeneratePollFallbackOnFeedDrop(t *testing.T) {
	old := historyPollInterval
	historyPollInterval = 20 * time.Millisecond
	defer func() { historyPollInterval = old }()

	srv := generationServer(t, func(conn *websocket.Conn) {
		// drop the connection right away, before any event
	})
	defer srv.Close()

	c, err := NewClient(srv.URL)
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	res, err := c.Generate(ctx, map[string]interface{}{"1": "x"}, nil)
	require.NoError(t, err)
	assert.Equal(t, []byte("png-bytes"), res.Image)
}

func TestEventUnmarshalUnknownType(t *testing.T) {
	var ev Event
	require.NoError(t, json.Unmarshal([]byte(`{"type": "crystools.monitor", "data": {"cpu": 12}}`), &ev))
	assert.Equal(t, "crystools.monitor", ev.Type)
	assert.Nil(t, ev.Data)
}
