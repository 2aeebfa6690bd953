package runner

import (
	"context"
	"fmt"

	"github.com/tgifai/taskpilot/internal/store"
)

// ResolveTarget loads the SSH server a script is bound to.
func ResolveTarget(ctx context.Context, st store.Store, serverID int64) (*Target, error) {
	srv, err := st.GetSSHServer(ctx, serverID)
	if err != nil {
		return nil, fmt.Errorf("load ssh server %d: %w", serverID, err)
	}
	if !srv.Active {
		return nil, fmt.Errorf("ssh server %d is inactive", serverID)
	}

	target := &Target{
		Host:     srv.Host,
		Port:     srv.Port,
		Username: srv.Username,
	}
	switch srv.AuthType {
	case store.AuthKey:
		target.PrivateKey = srv.PrivateKey
	default:
		target.Password = srv.Password
	}
	return target, nil
}

// RunAndRecord runs script and appends exactly one execution record.
// The returned error only reports a failure to persist the record.
func RunAndRecord(ctx context.Context, r *Runner, st store.Store, script *store.Script, inv Invocation) (*store.ExecutionRecord, error) {
	var rec *store.ExecutionRecord
	if inv.Target == nil && script != nil && script.SSHServerID != nil {
		target, err := ResolveTarget(ctx, st, *script.SSHServerID)
		if err != nil {
			rec = r.Reject(ctx, script, inv, err.Error())
		} else {
			inv.Target = target
		}
	}
	if rec == nil {
		rec = r.Run(ctx, script, inv)
	}

	if err := st.AppendExecutionRecord(ctx, rec); err != nil {
		return rec, fmt.Errorf("append execution record: %w", err)
	}
	return rec, nil
}
