package rpc

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/thusser/pybs/internal/daemon"
	"github.com/thusser/pybs/internal/domain"
)

// handler is a single registered RPC method. It unmarshals params itself —
// spec.md §9 explicitly asks for a registration map over reflection.
type handler func(ctx context.Context, d *daemon.Daemon, params json.RawMessage) (interface{}, error)

// methods is built once at startup; Server looks up by name on every call.
var methods = map[string]handler{
	"submit":        submitHandler,
	"list_waiting":  listWaitingHandler,
	"list_running":  listRunningHandler,
	"list_finished": listFinishedHandler,
	"remove":        removeHandler,
	"run":           runHandler,
	"get_cpus":      getCPUsHandler,
	"config":        configHandler,
	"setconfig":     setConfigHandler,
}

func decodeParams(raw json.RawMessage, v interface{}) error {
	if len(raw) == 0 {
		return fmt.Errorf("%w: missing params", domain.ErrValidation)
	}
	if err := json.Unmarshal(raw, v); err != nil {
		return fmt.Errorf("%w: %v", domain.ErrValidation, err)
	}
	return nil
}

type submitParams struct {
	Filename string `json:"filename"`
	User     string `json:"user"`
}

func submitHandler(ctx context.Context, d *daemon.Daemon, raw json.RawMessage) (interface{}, error) {
	var p submitParams
	if err := decodeParams(raw, &p); err != nil {
		return nil, err
	}
	id, err := d.Submit(ctx, p.Filename, p.User)
	if err != nil {
		return nil, err
	}
	return map[string]int64{"id": id}, nil
}

func listWaitingHandler(ctx context.Context, d *daemon.Daemon, _ json.RawMessage) (interface{}, error) {
	return d.ListWaiting(ctx)
}

func listRunningHandler(ctx context.Context, d *daemon.Daemon, _ json.RawMessage) (interface{}, error) {
	return d.ListRunning(ctx)
}

type listFinishedParams struct {
	Limit int `json:"limit"`
}

func listFinishedHandler(ctx context.Context, d *daemon.Daemon, raw json.RawMessage) (interface{}, error) {
	p := listFinishedParams{Limit: 5}
	if len(raw) > 0 {
		if err := decodeParams(raw, &p); err != nil {
			return nil, err
		}
	}
	return d.ListFinished(ctx, p.Limit)
}

type jobIDParams struct {
	JobID int64 `json:"job_id"`
}

func removeHandler(ctx context.Context, d *daemon.Daemon, raw json.RawMessage) (interface{}, error) {
	var p jobIDParams
	if err := decodeParams(raw, &p); err != nil {
		return nil, err
	}
	if err := d.Remove(ctx, p.JobID); err != nil {
		return nil, err
	}
	return true, nil
}

func runHandler(ctx context.Context, d *daemon.Daemon, raw json.RawMessage) (interface{}, error) {
	var p jobIDParams
	if err := decodeParams(raw, &p); err != nil {
		return nil, err
	}
	if err := d.Run(ctx, p.JobID); err != nil {
		return nil, err
	}
	return true, nil
}

func getCPUsHandler(ctx context.Context, d *daemon.Daemon, _ json.RawMessage) (interface{}, error) {
	used, total, err := d.GetCPUs(ctx)
	if err != nil {
		return nil, err
	}
	return map[string]int{"used": used, "total": total}, nil
}

func configHandler(ctx context.Context, d *daemon.Daemon, _ json.RawMessage) (interface{}, error) {
	return d.GetConfig(ctx), nil
}

type setConfigParams struct {
	Key   string `json:"key"`
	Value string `json:"value"`
}

func setConfigHandler(ctx context.Context, d *daemon.Daemon, raw json.RawMessage) (interface{}, error) {
	var p setConfigParams
	if err := decodeParams(raw, &p); err != nil {
		return nil, err
	}
	if err := d.SetConfig(ctx, p.Key, p.Value); err != nil {
		return nil, err
	}
	return true, nil
}
