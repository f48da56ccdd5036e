package adapter

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/npcforge/npcforge/internal/domain"
)

// MoveBot implements domain.GameServerAdapter / microcore.Adapter.
func (a *Adapter) MoveBot(ctx context.Context, botID string, delta domain.Vector3) error {
	cmd := fmt.Sprintf("%s move %s %.4f %.4f %.4f", a.cfg.CommandPrefix, botID, delta.X, delta.Y, delta.Z)
	resp, err := a.SendCommand(ctx, cmd)
	if err != nil {
		return err
	}
	a.ingestLine(resp)
	return nil
}

// ScanArea implements domain.GameServerAdapter / microcore.Adapter. The
// response is one entity name per line; anything else is ignored.
func (a *Adapter) ScanArea(ctx context.Context, botID string, radius float64) (domain.ScanResult, error) {
	cmd := fmt.Sprintf("%s scan %s %.2f", a.cfg.CommandPrefix, botID, radius)
	resp, err := a.SendCommand(ctx, cmd)
	if err != nil {
		return domain.ScanResult{}, err
	}
	result := domain.ScanResult{At: time.Now()}
	for _, line := range strings.Split(resp, "\n") {
		line = strings.TrimSpace(line)
		if line != "" {
			result.Nearby = append(result.Nearby, line)
		}
	}
	return result, nil
}

// SpawnEntity formats a summon command (via formatter, or the default that
// embeds a custom-name tag), sends it, optionally applies a delayed
// appearance command, and emits a spawn signal.
func (a *Adapter) SpawnEntity(ctx context.Context, req domain.SpawnRequest) error {
	cmd := a.formatSpawn(req)
	resp, err := a.SendCommand(ctx, cmd)
	if err != nil {
		return err
	}
	a.ingestLine(resp)

	if req.Appearance != "" {
		go func() {
			time.Sleep(500 * time.Millisecond)
			appearanceCmd := fmt.Sprintf("%s appearance %s %s", a.cfg.CommandPrefix, req.ID, req.Appearance)
			ctx, cancel := context.WithTimeout(context.Background(), a.cfg.CommandTimeout)
			defer cancel()
			_, _ = a.SendCommand(ctx, appearanceCmd)
		}()
	}

	if a.onSignal != nil {
		a.onSignal("spawn", map[string]string{"id": req.ID, "type": req.EntityType})
	}
	return nil
}

func (a *Adapter) formatSpawn(req domain.SpawnRequest) string {
	if f, ok := a.templates["spawn"]; ok {
		return f(map[string]string{
			"id": req.ID, "type": req.EntityType,
			"x": fmt.Sprintf("%.2f", req.Position.X), "y": fmt.Sprintf("%.2f", req.Position.Y), "z": fmt.Sprintf("%.2f", req.Position.Z),
		})
	}
	return fmt.Sprintf("%s summon %s %s %.2f %.2f %.2f CustomName:%s",
		a.cfg.CommandPrefix, req.EntityType, req.ID, req.Position.X, req.Position.Y, req.Position.Z, req.ID)
}

// DespawnEntity implements domain.GameServerAdapter.
func (a *Adapter) DespawnEntity(ctx context.Context, botID string) error {
	cmd := fmt.Sprintf("%s despawn %s", a.cfg.CommandPrefix, botID)
	resp, err := a.SendCommand(ctx, cmd)
	if err != nil {
		return err
	}
	a.ingestLine(resp)
	return nil
}

// structuredFeedback is the shape dispatchTask looks for in a task
// response, per spec §4.E's "feedback|message|log|output" field list.
type structuredFeedback struct {
	Feedback string `json:"feedback"`
	Message  string `json:"message"`
	Log      string `json:"log"`
	Output   string `json:"output"`
}

// DispatchTask serializes payload as "<commandPrefix> <json>", awaits the
// response, and runs any structured feedback|message|log|output fields
// through the feedback parser.
func (a *Adapter) DispatchTask(ctx context.Context, payload any) (string, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("marshal task payload: %w", err)
	}
	cmd := fmt.Sprintf("%s %s", a.cfg.CommandPrefix, body)
	resp, err := a.SendCommand(ctx, cmd)
	if err != nil {
		return "", err
	}

	var sf structuredFeedback
	if json.Unmarshal([]byte(resp), &sf) == nil {
		for _, field := range []string{sf.Feedback, sf.Message, sf.Log, sf.Output} {
			for _, line := range strings.Split(field, "\n") {
				a.ingestLine(line)
			}
		}
	} else {
		a.ingestLine(resp)
	}
	return resp, nil
}

// RegisterCommandTemplate stores a named command builder for later use by
// ExecuteCommandTemplate, and by SpawnEntity when name is "spawn".
func (a *Adapter) RegisterCommandTemplate(name string, builder func(params map[string]string) string) {
	a.mu.Lock()
	a.templates[name] = builder
	a.mu.Unlock()
}

// ExecuteCommandTemplate builds and sends the command registered under
// name. If name is unknown, returns an error wrapping domain.ErrUnknownRole.
func (a *Adapter) ExecuteCommandTemplate(ctx context.Context, name string, params map[string]string) (string, error) {
	a.mu.Lock()
	builder, ok := a.templates[name]
	a.mu.Unlock()
	if !ok {
		return "", fmt.Errorf("command template %q: %w", name, domain.ErrUnknownRole)
	}
	resp, err := a.SendCommand(ctx, builder(params))
	if err != nil {
		return "", err
	}
	a.ingestLine(resp)
	return resp, nil
}

// BatchOptions tunes SendBatch.
type BatchOptions struct {
	Parallel bool
	Delay    time.Duration // spacing between sequential sends; ignored when Parallel
}

// SendBatch sends cmds either sequentially (with optional spacing) or
// concurrently; both variants are still funnelled through the single
// rate-limited queue since SendCommand is the only entry point used.
func (a *Adapter) SendBatch(ctx context.Context, cmds []string, opts BatchOptions) ([]string, error) {
	results := make([]string, len(cmds))
	if opts.Parallel {
		errs := make([]error, len(cmds))
		done := make(chan int, len(cmds))
		for i, cmd := range cmds {
			go func(i int, cmd string) {
				r, err := a.SendCommand(ctx, cmd)
				results[i] = r
				errs[i] = err
				done <- i
			}(i, cmd)
		}
		var firstErr error
		for range cmds {
			i := <-done
			if errs[i] != nil && firstErr == nil {
				firstErr = errs[i]
			}
		}
		return results, firstErr
	}

	for i, cmd := range cmds {
		r, err := a.SendCommand(ctx, cmd)
		if err != nil {
			return results, err
		}
		results[i] = r
		if opts.Delay > 0 && i < len(cmds)-1 {
			time.Sleep(opts.Delay)
		}
	}
	return results, nil
}
