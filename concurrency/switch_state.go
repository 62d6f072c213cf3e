/*
Copyright © 2025 Acronis International GmbH.

Released under MIT license.
*/

package concurrency

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/spf13/cast"
)

// Mode is a lease counting representation.
type Mode string

// Supported modes.
const (
	ModeZset  Mode = "zset"
	ModeSlots Mode = "slots"
)

// DefaultSwitchKey is a default name of the Redis hash that stores the switch state.
// It must stay outside the tracking key prefix, otherwise cleanup and overview would observe it.
const DefaultSwitchKey = "concurrency_switch"

// ErrUnknownMode is returned when a mode is not one of the supported ones.
var ErrUnknownMode = errors.New("unknown concurrency mode")

// ParseMode converts a string into Mode.
func ParseMode(s string) (Mode, error) {
	switch m := Mode(s); m {
	case ModeZset, ModeSlots:
		return m, nil
	}
	return "", fmt.Errorf("%w %q", ErrUnknownMode, s)
}

// SwitchState is a process-wide state that decides how leases are counted.
// It's owned by the store and must be read fresh on every operation.
type SwitchState struct {
	Mode         Mode      `json:"mode"`
	FreezeActive bool      `json:"freezeActive"`
	ServerTime   time.Time `json:"serverTime"`
	FreezeUntil  time.Time `json:"freezeUntil"`
	PendingMode  Mode      `json:"pendingMode,omitempty"`
}

// SwitchStateProvider supplies the current switch state.
type SwitchStateProvider interface {
	GetSwitchState(ctx context.Context) (SwitchState, error)
}

// SwitchStateProviderFunc is an adapter to allow the use of ordinary functions as SwitchStateProvider.
type SwitchStateProviderFunc func(ctx context.Context) (SwitchState, error)

// GetSwitchState implements SwitchStateProvider.
func (f SwitchStateProviderFunc) GetSwitchState(ctx context.Context) (SwitchState, error) {
	return f(ctx)
}

// Redis server time in milliseconds is computed inside the scripts, so all limiter instances share one clock.
const luaServerTimeMs = `
local t = redis.call('TIME')
local now = tonumber(t[1]) * 1000 + math.floor(tonumber(t[2]) / 1000)
`

var getSwitchStateScript = redis.NewScript(luaServerTimeMs + `
local v = redis.call('HMGET', KEYS[1], 'mode', 'target', 'freezeUntil')
local mode = v[1] or ARGV[1]
local target = v[2] or ''
local freezeUntil = tonumber(v[3]) or 0
if target ~= '' and now >= freezeUntil then
	redis.call('HSET', KEYS[1], 'mode', target)
	redis.call('HDEL', KEYS[1], 'target')
	mode = target
	target = ''
end
local frozen = 0
if now < freezeUntil then
	frozen = 1
end
return {mode, frozen, now, freezeUntil, target}
`)

var beginSwitchScript = redis.NewScript(luaServerTimeMs + `
local freezeMs = tonumber(ARGV[2])
if freezeMs <= 0 then
	redis.call('HSET', KEYS[1], 'mode', ARGV[1])
	redis.call('HDEL', KEYS[1], 'target', 'freezeUntil')
	return now
end
local freezeUntil = now + freezeMs
redis.call('HSET', KEYS[1], 'target', ARGV[1], 'freezeUntil', string.format('%d', freezeUntil))
return freezeUntil
`)

var freezeScript = redis.NewScript(luaServerTimeMs + `
local freezeMs = tonumber(ARGV[1])
if freezeMs <= 0 then
	redis.call('HDEL', KEYS[1], 'freezeUntil')
	return now
end
local freezeUntil = now + freezeMs
redis.call('HSET', KEYS[1], 'freezeUntil', string.format('%d', freezeUntil))
return freezeUntil
`)

// RedisSwitchBoard is a SwitchStateProvider backed by a single Redis hash.
//
// Switching between modes is a two-step protocol. BeginSwitch stores the target mode together with a freeze deadline.
// While the freeze is active, Admit is denied everywhere so leases of the old representation drain.
// The first state read after the deadline promotes the target mode.
type RedisSwitchBoard struct {
	client      redis.Scripter
	key         string
	defaultMode Mode
}

// NewRedisSwitchBoard creates a new RedisSwitchBoard.
// The defaultMode is reported while the hash holds no mode yet.
func NewRedisSwitchBoard(client redis.Scripter, key string, defaultMode Mode) *RedisSwitchBoard {
	if key == "" {
		key = DefaultSwitchKey
	}
	if defaultMode == "" {
		defaultMode = ModeZset
	}
	return &RedisSwitchBoard{client: client, key: key, defaultMode: defaultMode}
}

// GetSwitchState implements SwitchStateProvider.
func (sb *RedisSwitchBoard) GetSwitchState(ctx context.Context) (SwitchState, error) {
	res, err := getSwitchStateScript.Run(ctx, sb.client, []string{sb.key}, string(sb.defaultMode)).Slice()
	if err != nil {
		return SwitchState{}, fmt.Errorf("get switch state: %w", err)
	}
	return parseSwitchState(res)
}

// BeginSwitch starts switching to the target mode.
// Admissions are frozen for the given duration, then the target mode becomes active.
// A zero duration switches immediately.
func (sb *RedisSwitchBoard) BeginSwitch(ctx context.Context, target Mode, freeze time.Duration) (SwitchState, error) {
	if _, err := ParseMode(string(target)); err != nil {
		return SwitchState{}, err
	}
	if err := beginSwitchScript.Run(ctx, sb.client, []string{sb.key}, string(target), freeze.Milliseconds()).Err(); err != nil {
		return SwitchState{}, fmt.Errorf("begin switch to %s: %w", target, err)
	}
	return sb.GetSwitchState(ctx)
}

// Freeze denies admissions for the given duration without changing the mode.
// A zero duration lifts an active freeze.
func (sb *RedisSwitchBoard) Freeze(ctx context.Context, freeze time.Duration) (SwitchState, error) {
	if err := freezeScript.Run(ctx, sb.client, []string{sb.key}, freeze.Milliseconds()).Err(); err != nil {
		return SwitchState{}, fmt.Errorf("freeze: %w", err)
	}
	return sb.GetSwitchState(ctx)
}

func parseSwitchState(res []interface{}) (SwitchState, error) {
	const fieldsNum = 5
	if len(res) != fieldsNum {
		return SwitchState{}, fmt.Errorf("unexpected switch state reply length %d", len(res))
	}
	mode, err := ParseMode(cast.ToString(res[0]))
	if err != nil {
		return SwitchState{}, err
	}
	frozen, err := cast.ToInt64E(res[1])
	if err != nil {
		return SwitchState{}, fmt.Errorf("parse freeze flag: %w", err)
	}
	nowMs, err := cast.ToInt64E(res[2])
	if err != nil {
		return SwitchState{}, fmt.Errorf("parse server time: %w", err)
	}
	freezeUntilMs, err := cast.ToInt64E(res[3])
	if err != nil {
		return SwitchState{}, fmt.Errorf("parse freeze deadline: %w", err)
	}
	state := SwitchState{
		Mode:         mode,
		FreezeActive: frozen == 1,
		ServerTime:   time.UnixMilli(nowMs),
		PendingMode:  Mode(cast.ToString(res[4])),
	}
	if freezeUntilMs > 0 {
		state.FreezeUntil = time.UnixMilli(freezeUntilMs)
	}
	return state, nil
}
