package rpc_test

import (
	"bufio"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net"
	"testing"
	"time"

	"github.com/thusser/pybs/internal/capacity"
	"github.com/thusser/pybs/internal/daemon"
	"github.com/thusser/pybs/internal/domain"
	"github.com/thusser/pybs/internal/notify"
	"github.com/thusser/pybs/internal/registry"
	"github.com/thusser/pybs/internal/rpc"
)

type fakeStore struct {
	waiting []*domain.Job
}

func (f *fakeStore) Insert(context.Context, *domain.Job) (int64, error) { return 1, nil }
func (f *fakeStore) GetByID(context.Context, int64) (*domain.Job, error) {
	return nil, domain.ErrJobNotFound
}
func (f *fakeStore) ClaimNext(context.Context, string, int) (*domain.Job, error) { return nil, nil }
func (f *fakeStore) ForceStart(context.Context, int64, string) (*domain.Job, error) {
	return nil, domain.ErrJobNotFound
}
func (f *fakeStore) Finish(context.Context, int64, time.Time) (*domain.Job, error) {
	return nil, domain.ErrJobNotFound
}
func (f *fakeStore) Delete(context.Context, int64) (int, string, bool, error) {
	return 0, "", false, domain.ErrJobNotFound
}
func (f *fakeStore) ListWaiting(context.Context) ([]*domain.Job, error) { return f.waiting, nil }
func (f *fakeStore) ListRunning(context.Context) ([]*domain.Job, error) { return nil, nil }
func (f *fakeStore) ListFinished(context.Context, int) ([]*domain.Job, error) {
	return nil, nil
}
func (f *fakeStore) RunningOnNode(context.Context, string) (int, error) { return 0, nil }
func (f *fakeStore) RunningIDsOnNode(context.Context, string) ([]int64, error) {
	return nil, nil
}
func (f *fakeStore) ReconcileDangling(context.Context, int64, time.Time) error { return nil }

func startServer(t *testing.T) net.Conn {
	t.Helper()

	store := &fakeStore{waiting: []*domain.Job{{ID: 1, Name: "a", Submitted: time.Now()}}}
	accountant := capacity.New(capacity.ModeCounter, 4, "n1", nil)
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	d := daemon.New(daemon.Config{
		Node:         "n1",
		RootDir:      t.TempDir(),
		Store:        store,
		Accountant:   accountant,
		Registry:     registry.NewRegistry(),
		Notifiers:    notify.NewRegistry(logger),
		WarmupDelay:  0,
		PollInterval: time.Second,
		Logger:       logger,
	})

	srv := rpc.NewServer(d, logger)
	if err := srv.Listen("127.0.0.1:0"); err != nil {
		t.Fatalf("listen: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	go srv.Serve(ctx)

	conn, err := net.Dial("tcp", srv.Addr())
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

func sendRequest(t *testing.T, conn net.Conn, method string, params interface{}, id int) rpc.Response {
	t.Helper()

	raw, err := json.Marshal(params)
	if err != nil {
		t.Fatalf("marshal params: %v", err)
	}
	req := rpc.Request{JSONRPC: "2.0", Method: method, Params: raw, ID: id}
	line, err := json.Marshal(req)
	if err != nil {
		t.Fatalf("marshal request: %v", err)
	}
	if _, err := conn.Write(append(line, '\n')); err != nil {
		t.Fatalf("write request: %v", err)
	}

	reply, err := bufio.NewReader(conn).ReadBytes('\n')
	if err != nil {
		t.Fatalf("read response: %v", err)
	}
	var resp rpc.Response
	if err := json.Unmarshal(reply, &resp); err != nil {
		t.Fatalf("unmarshal response: %v", err)
	}
	return resp
}

// P7: every supported method returns a result envelope carrying the
// request's id; an unknown method yields -32601.
func TestServer_GetCPUs_ReturnsResultEnvelope(t *testing.T) {
	conn := startServer(t)
	resp := sendRequest(t, conn, "get_cpus", struct{}{}, 7)

	if resp.ID != 7 {
		t.Fatalf("expected id 7 echoed back, got %d", resp.ID)
	}
	if resp.Error != nil {
		t.Fatalf("expected no error, got %+v", resp.Error)
	}
}

func TestServer_UnknownMethod_ReturnsMethodNotFound(t *testing.T) {
	conn := startServer(t)
	resp := sendRequest(t, conn, "not_a_real_method", struct{}{}, 1)

	if resp.Error == nil || resp.Error.Code != rpc.CodeMethodNotFound {
		t.Fatalf("expected method-not-found error, got %+v", resp.Error)
	}
}

func TestServer_ListWaiting_ReturnsRows(t *testing.T) {
	conn := startServer(t)
	resp := sendRequest(t, conn, "list_waiting", struct{}{}, 2)

	if resp.Error != nil {
		t.Fatalf("unexpected error: %+v", resp.Error)
	}
	rows, ok := resp.Result.([]interface{})
	if !ok || len(rows) != 1 {
		t.Fatalf("expected one waiting job, got %#v", resp.Result)
	}
}
