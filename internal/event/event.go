// Package event defines the in-process bus connecting the engines to their
// subscribers (webhook emitter, metrics, logging).
package event

import (
	"errors"
	"fmt"
	"time"

	"github.com/crawld/crawld/internal/job"
)

// Type denotes the kind of lifecycle milestone an Event represents.
type Type string

// The closed set of event kinds published by the engines.
const (
	TypeJobStart       Type = "jobStart"
	TypeJobComplete    Type = "jobComplete"
	TypeJobError       Type = "jobError"
	TypePageStart      Type = "pageStart"
	TypePageComplete   Type = "pageComplete"
	TypePageError      Type = "pageError"
	TypePluginStart    Type = "pluginStart"
	TypePluginComplete Type = "pluginComplete"
	TypePluginError    Type = "pluginError"
	TypeProgress       Type = "progress"
)

// Types lists every event kind, useful for subscribers that fan out per kind.
func Types() []Type {
	return []Type{
		TypeJobStart, TypeJobComplete, TypeJobError,
		TypePageStart, TypePageComplete, TypePageError,
		TypePluginStart, TypePluginComplete, TypePluginError,
		TypeProgress,
	}
}

// Event captures a single milestone of a job run. Payload fields beyond
// JobID and Job vary by kind.
type Event struct {
	// Type denotes which lifecycle milestone occurred.
	Type Type
	// JobID identifies the job this event belongs to.
	JobID string
	// Job is a snapshot of the job at emission time.
	Job *job.Job
	// TS is the UTC timestamp recorded by the emitter.
	TS time.Time
	// URL scopes page events to the page being visited.
	URL string
	// PluginName scopes plugin events.
	PluginName string
	// Metrics carries the opaque value a plugin produced.
	Metrics any
	// Page carries the finished analysis for pageComplete events.
	Page *job.PageAnalysis
	// Err holds the error text for jobError, pageError and pluginError.
	Err string
}

// Validate performs coarse validation on Event payloads.
func (e Event) Validate() error {
	if e.JobID == "" {
		return errors.New("job id is required")
	}
	if e.TS.IsZero() {
		return errors.New("timestamp is required")
	}
	switch e.Type {
	case TypeJobStart, TypeJobComplete, TypeProgress:
	case TypeJobError:
		if e.Err == "" {
			return errors.New("job error requires error text")
		}
	case TypePageStart, TypePageComplete:
		if e.URL == "" && e.Page == nil {
			return errors.New("page event requires url or page")
		}
	case TypePageError:
		if e.URL == "" {
			return errors.New("page error requires url")
		}
	case TypePluginStart, TypePluginComplete, TypePluginError:
		if e.PluginName == "" {
			return errors.New("plugin event requires plugin name")
		}
	default:
		return fmt.Errorf("unknown event type %q", e.Type)
	}
	return nil
}
