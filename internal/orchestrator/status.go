package orchestrator

import (
	"context"
	"fmt"

	"github.com/steveyegge/messaged/internal/model"
)

// shutdowner is satisfied by *daemonrunner.Daemon; kept narrow so this
// package does not import daemonrunner (cmd/messaged constructs both and
// connects them through SetDaemon).
type shutdowner interface {
	Shutdown()
}

// SetDaemon wires the daemonrunner.Daemon that owns this orchestrator's
// process lifecycle, so the IPC "stop" command can request a graceful exit.
// Called once by the daemon entrypoint after both are constructed.
func (o *Orchestrator) SetDaemon(d shutdowner) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.daemon = d
}

// DaemonInfo is the daemon block of a StatusResponse.
type DaemonInfo struct {
	Status        string `json:"status"`
	PID           int    `json:"pid"`
	UptimeSeconds int64  `json:"uptime_seconds"`
	StartedAtISO  string `json:"started_at_iso"`
}

// PlatformInfo is one entry of a StatusResponse's platforms list.
type PlatformInfo struct {
	ID             string  `json:"id"`
	Status         string  `json:"status"`
	MessageCount   int     `json:"message_count"`
	LastMessageISO *string `json:"last_message_iso"`
	LastError      *string `json:"last_error"`
}

// Summary is the healthy/total roll-up of a StatusResponse.
type Summary struct {
	Healthy int `json:"healthy"`
	Total   int `json:"total"`
}

// StatusResponse is the "status" IPC command's response data.
type StatusResponse struct {
	Daemon    DaemonInfo     `json:"daemon"`
	Platforms []PlatformInfo `json:"platforms"`
	Summary   Summary        `json:"summary"`
}

// Status implements ipcserver.Handler.
func (o *Orchestrator) Status(ctx context.Context) (interface{}, error) {
	state, err := o.State()
	if err != nil {
		return nil, err
	}

	platforms := make([]PlatformInfo, 0, len(state.Platforms))
	for name, st := range state.Platforms {
		info := PlatformInfo{
			ID:           name,
			Status:       string(st.Status),
			MessageCount: st.MessageCount,
		}
		if st.LastMessage != nil {
			s := st.LastMessage.UTC().Format("2006-01-02T15:04:05Z07:00")
			info.LastMessageISO = &s
		}
		if st.LastError != "" {
			e := st.LastError
			info.LastError = &e
		}
		platforms = append(platforms, info)
	}

	resp := StatusResponse{
		Daemon: DaemonInfo{
			Status:        string(state.Status),
			PID:           state.PID,
			UptimeSeconds: int64(state.Uptime().Seconds()),
			StartedAtISO:  state.StartedAt.UTC().Format("2006-01-02T15:04:05Z07:00"),
		},
		Platforms: platforms,
		Summary:   Summary{Healthy: state.Healthy, Total: state.Total},
	}
	return resp, nil
}

// Health implements ipcserver.Handler, delegating to the health monitor.
func (o *Orchestrator) Health(ctx context.Context) (interface{}, error) {
	report, err := o.health.Check()
	if err != nil {
		return nil, err
	}
	return report, nil
}

// StartDaemon implements ipcserver.Handler: a no-op if the daemon is
// already running, since receiving this request at all means the process
// (and thus its orchestrator) is already up.
func (o *Orchestrator) StartDaemon(ctx context.Context) error {
	o.mu.RLock()
	status := o.status
	o.mu.RUnlock()
	if status == model.DaemonRunning || status == model.DaemonDegraded {
		return nil
	}
	return o.Start(ctx)
}

// StopDaemon implements ipcserver.Handler: requests a graceful process
// shutdown via the owning daemonrunner.Daemon.
func (o *Orchestrator) StopDaemon(ctx context.Context) error {
	o.mu.RLock()
	d := o.daemon
	o.mu.RUnlock()
	if d == nil {
		return fmt.Errorf("orchestrator: no daemon wired, cannot stop")
	}
	d.Shutdown()
	return nil
}

// RestartDaemon implements ipcserver.Handler: stop then start the
// orchestrator's own subsystems in place, without exiting the process.
func (o *Orchestrator) RestartDaemon(ctx context.Context) error {
	if err := o.Stop(ctx); err != nil {
		return fmt.Errorf("orchestrator: restart stop phase: %w", err)
	}
	return o.Start(ctx)
}

// RestartPlatform implements ipcserver.Handler.
func (o *Orchestrator) RestartPlatform(ctx context.Context, platform string) error {
	return o.platforms.RestartPlatform(ctx, platform)
}
