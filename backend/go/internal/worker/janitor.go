package worker

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"time"

	"Chimp/backend/go/internal/models"
	"Chimp/backend/go/pkg/logger"

	"github.com/djherbis/times"
)

// heartbeatFile 位于每个 worker 的作用域目录中，janitor 每次清理时刷新它的修改时间。
const heartbeatFile = ".alive"

var runDirPattern = regexp.MustCompile(`^\d{8}T\d{6}\.\d{6}_.+_[0-9a-f]{8}$`)

// ScopeDir 返回 worker 在 root 下独占的运行目录根路径。
func ScopeDir(root, workerID string) string {
	return filepath.Join(root, sanitize(workerID))
}

// TouchHeartbeat 创建或刷新 dir 下的心跳文件。
func TouchHeartbeat(dir string, now time.Time) error {
	p := filepath.Join(dir, heartbeatFile)
	f, err := os.OpenFile(p, os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return err
	}
	if err := f.Close(); err != nil {
		return err
	}
	return os.Chtimes(p, now, now)
}

// SweepStaleRuns 删除 root 下早于 now-olderThan 的运行目录，running 报告为仍在执行的目录除外。
// 目录年龄优先使用创建时间，文件系统不支持时使用修改时间。
func SweepStaleRuns(root string, olderThan time.Duration, now time.Time, running func(runName string) bool, log *logger.Logger) (int, error) {
	if olderThan <= 0 {
		return 0, fmt.Errorf("stale threshold must be positive, got %v", olderThan)
	}
	entries, err := os.ReadDir(root)
	if err != nil {
		return 0, err
	}
	removed := 0
	for _, entry := range entries {
		if !entry.IsDir() || !runDirPattern.MatchString(entry.Name()) {
			continue
		}
		if running != nil && running(entry.Name()) {
			continue
		}
		p := filepath.Join(root, entry.Name())
		ts, err := times.Stat(p)
		if err != nil {
			continue
		}
		created := ts.ModTime()
		if ts.HasBirthTime() {
			created = ts.BirthTime()
		}
		if now.Sub(created) < olderThan {
			continue
		}
		if err := os.RemoveAll(p); err != nil {
			log.WithError(models.ErrorInfo{Message: err.Error(), Type: "cleanup_error"}).Warn("Failed to remove stale run directory")
			continue
		}
		removed++
	}
	if removed > 0 {
		log.Info(fmt.Sprintf("Removed %d stale run directories from %s", removed, root))
	}
	return removed, nil
}

// SweepAbandonedWorkers 清理 root 下其他 worker 的作用域目录，前提是其心跳超过 olderThan 未刷新。
// 没有心跳文件的目录不属于任何 worker，不会被触碰。
func SweepAbandonedWorkers(root, self string, olderThan time.Duration, now time.Time, log *logger.Logger) (int, error) {
	if olderThan <= 0 {
		return 0, fmt.Errorf("stale threshold must be positive, got %v", olderThan)
	}
	entries, err := os.ReadDir(root)
	if err != nil {
		return 0, err
	}
	removed := 0
	for _, entry := range entries {
		if !entry.IsDir() || entry.Name() == self {
			continue
		}
		dir := filepath.Join(root, entry.Name())
		ts, err := times.Stat(filepath.Join(dir, heartbeatFile))
		if err != nil {
			continue
		}
		if now.Sub(ts.ModTime()) < olderThan {
			continue
		}
		runs, err := os.ReadDir(dir)
		if err != nil {
			continue
		}
		for _, run := range runs {
			if !run.IsDir() || !runDirPattern.MatchString(run.Name()) {
				continue
			}
			if err := os.RemoveAll(filepath.Join(dir, run.Name())); err != nil {
				log.WithError(models.ErrorInfo{Message: err.Error(), Type: "cleanup_error"}).Warn("Failed to remove abandoned run directory")
				continue
			}
			removed++
		}
		if err := os.Remove(filepath.Join(dir, heartbeatFile)); err == nil {
			_ = os.Remove(dir)
		}
		log.Info(fmt.Sprintf("Cleaned up abandoned worker directory %s", dir))
	}
	return removed, nil
}

// Sweep 刷新本 worker 的心跳，清理自己的过期运行目录和已失联 worker 的目录。
// 正在执行的运行目录永远不会被删除。
func (e *Executor) Sweep(olderThan time.Duration, now time.Time, log *logger.Logger) (int, error) {
	if err := TouchHeartbeat(e.tempRoot, now); err != nil {
		return 0, fmt.Errorf("touch heartbeat: %w", err)
	}
	own, err := SweepStaleRuns(e.tempRoot, olderThan, now, e.Running, log)
	if err != nil {
		return own, err
	}
	others, err := SweepAbandonedWorkers(filepath.Dir(e.tempRoot), filepath.Base(e.tempRoot), olderThan, now, log)
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return own + others, err
	}
	return own + others, nil
}

// RunJanitor 立即清理一次，之后每隔 interval 清理一次，直到 ctx 结束。
func (e *Executor) RunJanitor(ctx context.Context, olderThan, interval time.Duration, log *logger.Logger) {
	sweep := func() {
		if _, err := e.Sweep(olderThan, time.Now(), log); err != nil {
			log.WithError(models.ErrorInfo{Message: err.Error()}).Warn("Stale run sweep failed")
		}
	}
	sweep()
	if interval <= 0 {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			sweep()
		}
	}
}
