package e2e

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"
)

const (
	startupTimeout = 10 * time.Second
	settleTimeout  = 15 * time.Second
	pollInterval   = 100 * time.Millisecond
)

// lockedBuffer is a thread-safe wrapper around bytes.Buffer.
type lockedBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (lb *lockedBuffer) Write(p []byte) (int, error) {
	lb.mu.Lock()
	defer lb.mu.Unlock()
	return lb.buf.Write(p)
}

func (lb *lockedBuffer) String() string {
	lb.mu.Lock()
	defer lb.mu.Unlock()
	return lb.buf.String()
}

// serverProc holds the running server subprocess and its output.
type serverProc struct {
	cmd    *exec.Cmd
	stdout *lockedBuffer
	url    string
}

type buildResult struct {
	once   sync.Once
	binary string
	err    error
}

var builds sync.Map // package path -> *buildResult

// getBinary builds pkg once per test run and returns the binary path.
func getBinary(t *testing.T, pkg string) string {
	t.Helper()
	v, _ := builds.LoadOrStore(pkg, &buildResult{})
	b := v.(*buildResult)
	b.once.Do(func() {
		dir, err := os.MkdirTemp("", "storefleet-e2e-*")
		if err != nil {
			b.err = err
			return
		}
		binary := filepath.Join(dir, filepath.Base(pkg))
		cmd := exec.Command("go", "build", "-o", binary, pkg)
		cmd.Dir = findRepoRoot(t)
		out, err := cmd.CombinedOutput()
		if err != nil {
			b.err = fmt.Errorf("go build %s failed: %w\n%s", pkg, err, out)
			return
		}
		b.binary = binary
	})
	if b.err != nil {
		t.Fatal(b.err)
	}
	return b.binary
}

func findRepoRoot(t *testing.T) string {
	t.Helper()
	dir, err := os.Getwd()
	if err != nil {
		t.Fatalf("getwd: %v", err)
	}
	for {
		if _, err := os.Stat(filepath.Join(dir, "go.mod")); err == nil {
			return dir
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			t.Fatal("could not find repo root")
		}
		dir = parent
	}
}

// startServer runs the fake-cluster test server on a free port and waits
// for /healthz.
func startServer(t *testing.T) *serverProc {
	t.Helper()
	binary := getBinary(t, "./cmd/testserver")

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("find free port: %v", err)
	}
	addr := ln.Addr().String()
	ln.Close()

	stdout := &lockedBuffer{}
	cmd := exec.Command(binary)
	cmd.Env = append(os.Environ(), "STOREFLEET_LISTEN_ADDR="+addr)
	cmd.Stdout = stdout
	cmd.Stderr = stdout

	if err := cmd.Start(); err != nil {
		t.Fatalf("start server: %v", err)
	}

	sp := &serverProc{
		cmd:    cmd,
		stdout: stdout,
		url:    "http://" + addr,
	}

	t.Cleanup(func() {
		cmd.Process.Kill()
		cmd.Wait()
	})

	deadline := time.Now().Add(startupTimeout)
	for time.Now().Before(deadline) {
		resp, err := http.Get(sp.url + "/healthz")
		if err == nil {
			resp.Body.Close()
			if resp.StatusCode == 200 {
				return sp
			}
		}
		time.Sleep(pollInterval)
	}
	t.Fatalf("server did not become ready within %v\nstdout:\n%s", startupTimeout, stdout.String())
	return nil
}

// store mirrors the JSON store record.
type store struct {
	Name          string `json:"name"`
	Namespace     string `json:"namespace"`
	Engine        string `json:"engine"`
	Status        string `json:"status"`
	URL           string `json:"url"`
	AdminUser     string `json:"adminUser"`
	AdminPassword string `json:"adminPassword"`
}

func (sp *serverProc) createStore(t *testing.T, engine string) (*http.Response, []byte) {
	t.Helper()
	body := fmt.Sprintf(`{"engine":%q}`, engine)
	resp, err := http.Post(sp.url+"/create-store", "application/json", strings.NewReader(body))
	if err != nil {
		t.Fatalf("POST /create-store: %v", err)
	}
	defer resp.Body.Close()
	var buf bytes.Buffer
	if _, err := buf.ReadFrom(resp.Body); err != nil {
		t.Fatalf("read body: %v", err)
	}
	return resp, buf.Bytes()
}

func (sp *serverProc) mustCreate(t *testing.T, engine string) store {
	t.Helper()
	resp, body := sp.createStore(t, engine)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("create %s: status = %d, body = %s", engine, resp.StatusCode, body)
	}
	var st store
	if err := json.Unmarshal(body, &st); err != nil {
		t.Fatalf("decode store: %v", err)
	}
	return st
}

func (sp *serverProc) getStore(t *testing.T, name string) (store, int) {
	t.Helper()
	resp, err := http.Get(sp.url + "/store/" + name)
	if err != nil {
		t.Fatalf("GET /store/%s: %v", name, err)
	}
	defer resp.Body.Close()
	var st store
	if resp.StatusCode == http.StatusOK {
		if err := json.NewDecoder(resp.Body).Decode(&st); err != nil {
			t.Fatalf("decode store: %v", err)
		}
	}
	return st, resp.StatusCode
}

// waitTerminal polls until the store leaves Provisioning.
func (sp *serverProc) waitTerminal(t *testing.T, name string) store {
	t.Helper()
	deadline := time.Now().Add(settleTimeout)
	for time.Now().Before(deadline) {
		st, code := sp.getStore(t, name)
		if code == http.StatusOK && st.Status != "Provisioning" {
			return st
		}
		time.Sleep(pollInterval)
	}
	t.Fatalf("store %s still provisioning after %v\nstdout:\n%s", name, settleTimeout, sp.stdout.String())
	return store{}
}

func (sp *serverProc) deleteStore(t *testing.T, name string) (int, map[string]any) {
	t.Helper()
	req, err := http.NewRequest(http.MethodDelete, sp.url+"/store/"+name, nil)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("DELETE /store/%s: %v", name, err)
	}
	defer resp.Body.Close()
	var body map[string]any
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatalf("decode delete response: %v", err)
	}
	return resp.StatusCode, body
}
