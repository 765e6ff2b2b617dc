package e2e

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"net/http/httptest"
	"os"
	"os/exec"
	"testing"
	"time"

	"postkeeper/internal/app"
	"postkeeper/internal/config"
)

const upstreamPosts = 20

type systemUnderTest struct {
	BaseURL string
	// upstream is nil when the server talks to a remote we do not control.
	upstream *fakeUpstream
	shutdown func()
	restart  func(t *testing.T)
}

func (s *systemUnderTest) Close() {
	if s.shutdown != nil {
		s.shutdown()
	}
}

func startSystemUnderTest(t *testing.T) *systemUnderTest {
	t.Helper()

	if cmd := os.Getenv("POSTKEEPER_SERVER_CMD"); cmd != "" {
		sut, err := startExternalServer(t, cmd)
		if err != nil {
			t.Fatalf("start external server: %v", err)
		}
		return sut
	}

	if url := os.Getenv("POSTKEEPER_SERVER_URL"); url != "" {
		t.Logf("POSTKEEPER_SERVER_URL set; using existing server at %s", url)
		return &systemUnderTest{
			BaseURL: url,
			shutdown: func() {
				// External server; nothing to stop.
			},
		}
	}

	sut, err := startInProcessServer(t)
	if err != nil {
		t.Fatalf("start in-process server: %v", err)
	}
	return sut
}

// startInProcessServer runs the real handler stack over a commit-log store,
// so restart exercises replay from disk.
func startInProcessServer(t *testing.T) (*systemUnderTest, error) {
	t.Helper()

	upstream := newFakeUpstream(upstreamPosts)
	cfg := config.Default()
	cfg.Store = config.StoreLog
	cfg.DataDir = t.TempDir()
	cfg.RemoteURL = upstream.URL()
	cfg.RemoteTimeout = config.Duration(2 * time.Second)

	l, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		upstream.Close()
		return nil, fmt.Errorf("listen: %w", err)
	}
	addr := l.Addr().String()

	launch := func(l net.Listener) (*app.App, *httptest.Server, error) {
		a, err := app.New(context.Background(), cfg)
		if err != nil {
			return nil, nil, err
		}
		srv := httptest.NewUnstartedServer(a.Handler())
		srv.Listener = l
		srv.Start()
		return a, srv, nil
	}

	a, srv, err := launch(l)
	if err != nil {
		_ = l.Close()
		upstream.Close()
		return nil, err
	}

	stop := func() {
		a.Feed.Close()
		srv.Close()
		_ = a.Close()
	}
	restart := func(t *testing.T) {
		t.Helper()
		stop()
		l, err := net.Listen("tcp", addr)
		if err != nil {
			t.Fatalf("relisten on %s: %v", addr, err)
		}
		a, srv, err = launch(l)
		if err != nil {
			t.Fatalf("restart server: %v", err)
		}
	}

	return &systemUnderTest{
		BaseURL:  "http://" + addr,
		upstream: upstream,
		shutdown: func() {
			stop()
			upstream.Close()
		},
		restart: restart,
	}, nil
}

func startExternalServer(t *testing.T, cmdStr string) (*systemUnderTest, error) {
	t.Helper()

	dataDir, err := os.MkdirTemp("", "postkeeper-e2e-data-*")
	if err != nil {
		return nil, fmt.Errorf("create data dir: %w", err)
	}

	addr, err := freeAddr()
	if err != nil {
		return nil, fmt.Errorf("pick free addr: %w", err)
	}
	upstream := newFakeUpstream(upstreamPosts)

	launcher := func() (*exec.Cmd, string, error) {
		cmd := exec.Command("/bin/sh", "-c", cmdStr)
		cmd.Env = append(os.Environ(),
			fmt.Sprintf("POSTKEEPER_HTTP_ADDR=%s", addr),
			fmt.Sprintf("POSTKEEPER_DATA_DIR=%s", dataDir),
			fmt.Sprintf("POSTKEEPER_REMOTE_URL=%s", upstream.URL()),
			"POSTKEEPER_STORE=log",
		)
		cmd.Stdout = os.Stdout
		cmd.Stderr = os.Stderr
		if err := cmd.Start(); err != nil {
			return nil, "", fmt.Errorf("cmd start: %w", err)
		}
		baseURL := "http://" + addr
		if err := waitForReady(baseURL, 10*time.Second); err != nil {
			_ = cmd.Process.Kill()
			return nil, "", fmt.Errorf("wait for ready: %w", err)
		}
		return cmd, baseURL, nil
	}

	cmd, baseURL, err := launcher()
	if err != nil {
		upstream.Close()
		return nil, err
	}

	kill := func() {
		if cmd != nil && cmd.Process != nil {
			_ = cmd.Process.Kill()
			_, _ = cmd.Process.Wait()
		}
	}
	restart := func(t *testing.T) {
		t.Helper()
		kill()
		newCmd, _, err := launcher()
		if err != nil {
			t.Fatalf("restart server: %v", err)
		}
		cmd = newCmd
	}

	return &systemUnderTest{
		BaseURL:  baseURL,
		upstream: upstream,
		shutdown: func() {
			kill()
			upstream.Close()
			_ = os.RemoveAll(dataDir)
		},
		restart: restart,
	}, nil
}

func waitForReady(baseURL string, timeout time.Duration) error {
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		resp, err := http.Get(baseURL + "/health")
		if err == nil {
			resp.Body.Close()
			return nil
		}
		time.Sleep(100 * time.Millisecond)
	}
	return fmt.Errorf("server at %s not ready after %s", baseURL, timeout)
}

func freeAddr() (string, error) {
	l, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		return "", err
	}
	defer l.Close()
	return l.Addr().String(), nil
}
