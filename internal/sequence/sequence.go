// Package sequence runs the scripted login and shutdown screens as timed
// stages.
package sequence

import (
	"context"
	"time"
)

type Stage struct {
	Name     string        `json:"name"`
	Message  string        `json:"message"`
	Duration time.Duration `json:"-"`
}

type Sequence struct {
	Name   string
	Stages []Stage
}

// Progress is reported once per stage as it begins.
type Progress struct {
	Sequence string `json:"sequence"`
	Stage    string `json:"stage"`
	Message  string `json:"message"`
	Index    int    `json:"index"`
	Total    int    `json:"total"`
	Done     bool   `json:"done"`
}

// Login is the session start sequence. Each stage lasts step.
func Login(step time.Duration) Sequence {
	return Sequence{
		Name: "login",
		Stages: []Stage{
			{Name: "boot", Message: "Starting session", Duration: step},
			{Name: "desktop", Message: "Loading desktop", Duration: step},
			{Name: "workspaces", Message: "Restoring workspaces", Duration: step},
			{Name: "ready", Message: "Welcome", Duration: 0},
		},
	}
}

// Shutdown is played to every session before the server stops.
func Shutdown(step time.Duration) Sequence {
	return Sequence{
		Name: "shutdown",
		Stages: []Stage{
			{Name: "save", Message: "Saving session", Duration: step},
			{Name: "close", Message: "Closing applications", Duration: step},
			{Name: "off", Message: "Shutting down", Duration: 0},
		},
	}
}

// Run calls onStage as each stage begins and then waits out its duration.
// It returns ctx.Err() if cancelled before the last stage completes.
func Run(ctx context.Context, seq Sequence, onStage func(Progress)) error {
	total := len(seq.Stages)
	for i, stage := range seq.Stages {
		if err := ctx.Err(); err != nil {
			return err
		}

		onStage(Progress{
			Sequence: seq.Name,
			Stage:    stage.Name,
			Message:  stage.Message,
			Index:    i,
			Total:    total,
			Done:     i == total-1,
		})

		if stage.Duration <= 0 {
			continue
		}

		timer := time.NewTimer(stage.Duration)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}
	return nil
}
