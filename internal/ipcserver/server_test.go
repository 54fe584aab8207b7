package ipcserver

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"net"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeHandler answers every command from canned state and records which
// platform restarts were requested.
type fakeHandler struct {
	restarted []string
}

func (h *fakeHandler) Status(ctx context.Context) (interface{}, error) {
	return map[string]string{"status": "running"}, nil
}

func (h *fakeHandler) Health(ctx context.Context) (interface{}, error) {
	return map[string]string{"overall": "healthy"}, nil
}

func (h *fakeHandler) StartDaemon(ctx context.Context) error   { return nil }
func (h *fakeHandler) StopDaemon(ctx context.Context) error    { return nil }
func (h *fakeHandler) RestartDaemon(ctx context.Context) error { return nil }

func (h *fakeHandler) RestartPlatform(ctx context.Context, platform string) error {
	if platform == "unknown" {
		return fmt.Errorf("unknown platform %q", platform)
	}
	h.restarted = append(h.restarted, platform)
	return nil
}

func startTestServer(t *testing.T) (*Server, *fakeHandler, string) {
	t.Helper()

	sock := filepath.Join(t.TempDir(), "test.sock")
	h := &fakeHandler{}
	srv := New(sock, h, nil, 0)

	go func() { _ = srv.Serve() }()
	t.Cleanup(func() { _ = srv.Stop() })

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if IsRunning(sock) {
			return srv, h, sock
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("server never started listening on %s", sock)
	return nil, nil, ""
}

func TestStatusRoundTrip(t *testing.T) {
	_, _, sock := startTestServer(t)

	client, err := Dial(sock)
	require.NoError(t, err)
	defer client.Close()

	resp, err := client.Execute(Request{Type: CmdStatus})
	require.NoError(t, err)
	assert.True(t, resp.Success)
	assert.NotNil(t, resp.Data)
}

func TestTwoRequestsOnOneConnection(t *testing.T) {
	_, h, sock := startTestServer(t)

	conn, err := net.Dial("unix", sock)
	require.NoError(t, err)
	defer conn.Close()

	reader := bufio.NewReader(conn)
	send := func(req Request) Response {
		data, err := json.Marshal(req)
		require.NoError(t, err)
		_, err = conn.Write(append(data, '\n'))
		require.NoError(t, err)

		line, err := reader.ReadBytes('\n')
		require.NoError(t, err)
		var resp Response
		require.NoError(t, json.Unmarshal(line, &resp))
		return resp
	}

	first := send(Request{Type: CmdStatus})
	assert.True(t, first.Success)

	second := send(Request{Type: CmdRestartPlatform, Platform: "signal"})
	assert.True(t, second.Success)
	assert.Equal(t, []string{"signal"}, h.restarted)
}

func TestMalformedJSONKeepsConnectionOpen(t *testing.T) {
	_, _, sock := startTestServer(t)

	conn, err := net.Dial("unix", sock)
	require.NoError(t, err)
	defer conn.Close()

	reader := bufio.NewReader(conn)

	_, err = conn.Write([]byte("this is not json\n"))
	require.NoError(t, err)

	line, err := reader.ReadBytes('\n')
	require.NoError(t, err)
	var resp Response
	require.NoError(t, json.Unmarshal(line, &resp))
	assert.False(t, resp.Success)
	assert.NotEmpty(t, resp.Error)

	// The connection survives the bad line and still answers real requests.
	data, _ := json.Marshal(Request{Type: CmdStatus})
	_, err = conn.Write(append(data, '\n'))
	require.NoError(t, err)

	line, err = reader.ReadBytes('\n')
	require.NoError(t, err)
	require.NoError(t, json.Unmarshal(line, &resp))
	assert.True(t, resp.Success)
}

func TestUnknownCommandErrors(t *testing.T) {
	_, _, sock := startTestServer(t)

	client, err := Dial(sock)
	require.NoError(t, err)
	defer client.Close()

	resp, err := client.Execute(Request{Type: "frobnicate"})
	assert.Error(t, err)
	assert.False(t, resp.Success)
}

func TestRestartPlatformRequiresPlatform(t *testing.T) {
	_, h, sock := startTestServer(t)

	client, err := Dial(sock)
	require.NoError(t, err)
	defer client.Close()

	resp, err := client.Execute(Request{Type: CmdRestartPlatform})
	assert.Error(t, err)
	assert.False(t, resp.Success)
	assert.Empty(t, h.restarted)
}

func TestRestartUnknownPlatformErrors(t *testing.T) {
	_, _, sock := startTestServer(t)

	client, err := Dial(sock)
	require.NoError(t, err)
	defer client.Close()

	resp, err := client.Execute(Request{Type: CmdRestartPlatform, Platform: "unknown"})
	assert.Error(t, err)
	assert.False(t, resp.Success)
}

func TestServeCleansStaleSocketFile(t *testing.T) {
	sock := filepath.Join(t.TempDir(), "stale.sock")

	// Leave a dead socket file behind, as a crashed daemon would. Go's
	// listener unlinks the file on Close by default, which is exactly the
	// cleanup a crash skips, so disable it.
	l, err := net.Listen("unix", sock)
	require.NoError(t, err)
	l.(*net.UnixListener).SetUnlinkOnClose(false)
	require.NoError(t, l.Close())

	srv := New(sock, &fakeHandler{}, nil, 0)
	go func() { _ = srv.Serve() }()
	t.Cleanup(func() { _ = srv.Stop() })

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if IsRunning(sock) {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("server failed to reclaim stale socket %s", sock)
}

func TestServeRefusesLiveSocket(t *testing.T) {
	_, _, sock := startTestServer(t)

	second := New(sock, &fakeHandler{}, nil, 0)
	err := second.Serve()
	assert.Error(t, err)
}
