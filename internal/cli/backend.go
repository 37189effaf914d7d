package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"strconv"

	"github.com/me/firebridge/internal/computer"
	"github.com/me/firebridge/internal/store"
	"github.com/me/firebridge/pkg/model"
)

// backend is what submit, list and kill act on: the local database or a
// remote server.
type backend interface {
	Submit(ctx context.Context, host, workDir, script string) (string, error)
	List(ctx context.Context, host string, ids []string) ([]model.JobInfo, error)
	Kill(ctx context.Context, id string) (bool, error)
	Close() error
}

func openBackend(ctx context.Context) (backend, error) {
	if flagServer != "" {
		return &remoteBackend{client: NewClient(flagServer, logger)}, nil
	}
	reg, err := loadRegistry()
	if err != nil {
		return nil, err
	}
	st, err := openStore(ctx)
	if err != nil {
		return nil, err
	}
	return &localBackend{store: st, registry: reg}, nil
}

type localBackend struct {
	store    store.JobStore
	registry *computer.Registry
}

func (b *localBackend) Submit(ctx context.Context, host, workDir, script string) (string, error) {
	sched, err := schedulerResolver(b.store, b.registry)(host)
	if err != nil {
		return "", err
	}
	return sched.Submit(ctx, workDir, script)
}

func (b *localBackend) List(ctx context.Context, host string, ids []string) ([]model.JobInfo, error) {
	sched, err := schedulerResolver(b.store, b.registry)(host)
	if err != nil {
		return nil, err
	}
	return sched.List(ctx, host, ids)
}

func (b *localBackend) Kill(ctx context.Context, id string) (bool, error) {
	fwID, err := strconv.ParseInt(id, 10, 64)
	if err != nil {
		return false, fmt.Errorf("invalid job id %q", id)
	}
	rec, err := b.store.Get(ctx, fwID)
	if err != nil {
		return false, fmt.Errorf("job %s: %w", id, err)
	}
	sched, err := schedulerResolver(b.store, b.registry)(rec.HostID)
	if err != nil {
		return false, err
	}
	return sched.Kill(ctx, id), nil
}

func (b *localBackend) Close() error { return b.store.Close() }

type remoteBackend struct {
	client *Client
}

func (b *remoteBackend) Submit(ctx context.Context, host, workDir, script string) (string, error) {
	resp, err := b.client.Post(ctx, "/api/v1/jobs", model.SubmitRequest{Host: host, WorkDir: workDir, Script: script})
	if err != nil {
		return "", err
	}
	var data model.SubmitResponse
	if err := json.Unmarshal(resp.Data, &data); err != nil {
		return "", fmt.Errorf("parse response: %w", err)
	}
	return data.JobID, nil
}

func (b *remoteBackend) List(ctx context.Context, host string, ids []string) ([]model.JobInfo, error) {
	q := url.Values{"host": {host}}
	for _, id := range ids {
		q.Add("id", id)
	}
	resp, err := b.client.Get(ctx, "/api/v1/jobs?"+q.Encode())
	if err != nil {
		return nil, err
	}
	var infos []model.JobInfo
	if err := json.Unmarshal(resp.Data, &infos); err != nil {
		return nil, fmt.Errorf("parse response: %w", err)
	}
	return infos, nil
}

func (b *remoteBackend) Kill(ctx context.Context, id string) (bool, error) {
	resp, err := b.client.Post(ctx, "/api/v1/jobs/"+url.PathEscape(id)+"/kill", nil)
	if err != nil {
		return false, err
	}
	var data model.KillResponse
	if err := json.Unmarshal(resp.Data, &data); err != nil {
		return false, fmt.Errorf("parse response: %w", err)
	}
	return data.Killed, nil
}

func (b *remoteBackend) Close() error { return nil }

// resolveHost picks the host id from --host, or from the registry entry
// named by --computer.
func resolveHost(host, label string) (string, error) {
	if host != "" {
		return host, nil
	}
	if label == "" {
		return "", fmt.Errorf("one of --host or --computer is required")
	}
	reg, err := loadRegistry()
	if err != nil {
		return "", err
	}
	c, err := reg.Get(label)
	if err != nil {
		return "", err
	}
	return c.HostID, nil
}
