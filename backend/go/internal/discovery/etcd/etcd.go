package etcd

import (
	"context"
	"encoding/json"
	"fmt"
	"path"
	"time"

	"Chimp/backend/go/internal/config"

	clientv3 "go.etcd.io/etcd/client/v3"
)

// WorkersPrefix is the key prefix under which live training workers register.
const WorkersPrefix = "/chimp/workers/"

// WorkerInfo is the value stored for each live worker.
type WorkerInfo struct {
	ID          string    `json:"id"`
	Concurrency int       `json:"concurrency"`
	WorkUnits   []string  `json:"work_units"`
	StartedAt   time.Time `json:"started_at"`
}

// ServiceDiscovery wraps an etcd client for worker liveness registration.
type ServiceDiscovery struct {
	cli *clientv3.Client
}

// NewServiceDiscovery creates a new ServiceDiscovery.
func NewServiceDiscovery(cfg *config.EtcdConfig) (*ServiceDiscovery, error) {
	if len(cfg.Endpoints) == 0 {
		return nil, fmt.Errorf("no etcd endpoints configured")
	}
	cli, err := clientv3.New(clientv3.Config{
		Endpoints:   cfg.Endpoints,
		Username:    cfg.Username,
		Password:    cfg.Password,
		DialTimeout: 5 * time.Second,
	})
	if err != nil {
		return nil, err
	}
	return &ServiceDiscovery{cli: cli}, nil
}

// Register publishes info under a lease kept alive until the returned stop
// function is called or ctx is cancelled. Stopping revokes the lease so the
// worker disappears immediately instead of after the TTL.
func (s *ServiceDiscovery) Register(ctx context.Context, info WorkerInfo, ttl int64) (func(), error) {
	value, err := json.Marshal(info)
	if err != nil {
		return nil, fmt.Errorf("encode worker info: %w", err)
	}

	leaseResp, err := s.cli.Grant(ctx, ttl)
	if err != nil {
		return nil, fmt.Errorf("grant lease: %w", err)
	}

	key := path.Join(WorkersPrefix, info.ID)
	if _, err = s.cli.Put(ctx, key, string(value), clientv3.WithLease(leaseResp.ID)); err != nil {
		return nil, fmt.Errorf("register worker %s: %w", info.ID, err)
	}

	keepCtx, cancel := context.WithCancel(ctx)
	keepAliveCh, err := s.cli.KeepAlive(keepCtx, leaseResp.ID)
	if err != nil {
		cancel()
		return nil, fmt.Errorf("keep alive: %w", err)
	}

	go func() {
		// Drain responses until the lease is lost or we are stopped.
		for range keepAliveCh {
		}
	}()

	stop := func() {
		cancel()
		revokeCtx, done := context.WithTimeout(context.Background(), 3*time.Second)
		defer done()
		_, _ = s.cli.Revoke(revokeCtx, leaseResp.ID)
	}
	return stop, nil
}

// Workers lists the currently registered workers.
func (s *ServiceDiscovery) Workers(ctx context.Context) ([]WorkerInfo, error) {
	resp, err := s.cli.Get(ctx, WorkersPrefix, clientv3.WithPrefix())
	if err != nil {
		return nil, err
	}

	workers := make([]WorkerInfo, 0, len(resp.Kvs))
	for _, kv := range resp.Kvs {
		var info WorkerInfo
		if err := json.Unmarshal(kv.Value, &info); err != nil {
			continue
		}
		workers = append(workers, info)
	}
	return workers, nil
}

// Close closes the etcd client.
func (s *ServiceDiscovery) Close() error {
	return s.cli.Close()
}
