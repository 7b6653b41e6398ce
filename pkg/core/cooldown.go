package core

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"path/filepath"
	"time"

	"github.com/logwayss/logwayss/pkg/fsstore"
)

// LockStateFileName holds failed unlock attempts for a data directory.
const LockStateFileName = "unlock.state"

// Failed unlock thresholds: 5 attempts -> 30s, 10 -> 5min, 20 -> 30min.
const (
	CooldownThreshold1 = 5
	CooldownThreshold2 = 10
	CooldownThreshold3 = 20
	CooldownDuration1  = 30 * time.Second
	CooldownDuration2  = 5 * time.Minute
	CooldownDuration3  = 30 * time.Minute
)

// LockState is the persisted failed-unlock record.
type LockState struct {
	FailedAttempts int       `json:"failed_attempts"`
	LastAttempt    time.Time `json:"last_attempt"`
	CooldownUntil  time.Time `json:"cooldown_until"`
	LockoutCount   int       `json:"lockout_count"`
}

// GetLockState returns the failed-unlock record for dataDir.
func (c *Core) GetLockState(dataDir string) (*LockState, error) {
	return c.loadLockState(dataDir)
}

// RemainingCooldown returns how long unlocks of dataDir stay refused.
func (c *Core) RemainingCooldown(dataDir string) time.Duration {
	remaining, _ := c.checkCooldown(dataDir)
	return remaining
}

func (c *Core) loadLockState(dataDir string) (*LockState, error) {
	data, err := c.files.ReadFile(filepath.Join(dataDir, LockStateFileName))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return &LockState{}, nil
		}
		return nil, fmt.Errorf("core: failed to read lock state: %w", err)
	}

	var state LockState
	if err := json.Unmarshal(data, &state); err != nil {
		// Corrupted lock file: start over.
		return &LockState{}, nil
	}
	return &state, nil
}

func (c *Core) saveLockState(dataDir string, state *LockState) error {
	data, err := json.Marshal(state)
	if err != nil {
		return fmt.Errorf("core: failed to marshal lock state: %w", err)
	}
	if err := c.files.WriteFile(filepath.Join(dataDir, LockStateFileName), data, fsstore.FileMode); err != nil {
		return fmt.Errorf("core: failed to write lock state: %w", err)
	}
	return nil
}

func (c *Core) clearLockState(dataDir string) error {
	if err := c.files.Remove(filepath.Join(dataDir, LockStateFileName)); err != nil {
		return fmt.Errorf("core: failed to clear lock state: %w", err)
	}
	return nil
}

// checkCooldown returns ErrCooldownActive and the time left while a
// cooldown is running.
func (c *Core) checkCooldown(dataDir string) (time.Duration, error) {
	state, err := c.loadLockState(dataDir)
	if err != nil {
		return 0, err
	}
	now := c.now()
	if !state.CooldownUntil.IsZero() && now.Before(state.CooldownUntil) {
		return state.CooldownUntil.Sub(now), ErrCooldownActive
	}
	return 0, nil
}

// recordFailedAttempt counts a failed unlock and returns the cooldown it
// triggered, if any.
func (c *Core) recordFailedAttempt(dataDir string) (time.Duration, error) {
	state, err := c.loadLockState(dataDir)
	if err != nil {
		return 0, err
	}

	now := c.now()
	state.FailedAttempts++
	state.LastAttempt = now

	var cooldown time.Duration
	switch {
	case state.FailedAttempts >= CooldownThreshold3:
		cooldown = CooldownDuration3
	case state.FailedAttempts >= CooldownThreshold2:
		cooldown = CooldownDuration2
	case state.FailedAttempts >= CooldownThreshold1:
		cooldown = CooldownDuration1
	}
	if cooldown > 0 {
		state.CooldownUntil = now.Add(cooldown)
		state.LockoutCount++
	}

	return cooldown, c.saveLockState(dataDir, state)
}
