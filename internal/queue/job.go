// -----------------------------------------------------------------------
// Job Record
// -----------------------------------------------------------------------

package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/marrowlane/qcore/internal/common"
	"github.com/marrowlane/qcore/internal/store"
)

// Job is the durable entity holding identity, status, payload
// reference, dependency edges, origin queue, and timing metadata
// (spec.md §3). The core treats Payload as an opaque blob — it never
// interprets the callable, arguments, or keyword arguments a producer
// encodes into it.
type Job struct {
	ID           string
	Status       Status
	Origin       string
	Payload      json.RawMessage
	Description  string
	Timeout      time.Duration
	ResultTTL    time.Duration
	HasResultTTL bool
	EnqueuedAt   time.Time
	EndedAt      time.Time
	HasEndedAt   bool
	ExcInfo      string
	Dependencies []string
}

// NewJob materializes a Job value (not yet persisted). First save
// happens at enqueue time or dependency registration, per spec.md §3's
// lifecycle note.
func NewJob(payload json.RawMessage, opts EnqueueOptions) *Job {
	dependsOn := opts.resolvedDependsOn()
	status := StatusQueued
	if opts.Deferred || len(dependsOn) > 0 {
		status = StatusDeferred
	}
	return &Job{
		ID:           common.NewJobID(),
		Status:       status,
		Payload:      payload,
		Description:  opts.Description,
		Timeout:      opts.Timeout,
		ResultTTL:    opts.ResultTTL,
		HasResultTTL: opts.HasResultTTL,
		Dependencies: dependsOn,
	}
}

// Save persists the job's current field values to the Store.
func (j *Job) Save(ctx context.Context, s store.Store) error {
	return s.HSet(ctx, jobKey(j.ID), j.toFields())
}

// Delete removes the job's record and its reverse-dependency set.
func (j *Job) Delete(ctx context.Context, s store.Store) error {
	if err := s.HDelete(ctx, jobKey(j.ID)); err != nil {
		return err
	}
	return s.Delete(ctx, dependentsKey(j.ID))
}

// LoadJob reads a Job Record by ID. Returns ErrNoSuchJob if the record
// does not exist.
func LoadJob(ctx context.Context, s store.Store, id string) (*Job, error) {
	fields, err := s.HGetAll(ctx, jobKey(id))
	if err != nil {
		return nil, fmt.Errorf("queue: failed to load job %q: %w", id, err)
	}
	if len(fields) == 0 {
		return nil, &NoSuchJobError{JobID: id}
	}
	return jobFromFields(id, fields)
}

func (j *Job) toFields() map[string]string {
	fields := map[string]string{
		"id":           j.ID,
		"status":       string(j.Status),
		"origin":       j.Origin,
		"payload":      string(j.Payload),
		"description":  j.Description,
		"timeout":      strconv.FormatInt(int64(j.Timeout/time.Second), 10),
		"enqueued_at":  formatTime(j.EnqueuedAt),
		"exc_info":     j.ExcInfo,
		"dependencies": strings.Join(j.Dependencies, ","),
	}
	if j.HasResultTTL {
		fields["result_ttl"] = strconv.FormatInt(int64(j.ResultTTL/time.Second), 10)
	}
	if j.HasEndedAt {
		fields["ended_at"] = formatTime(j.EndedAt)
	}
	return fields
}

func jobFromFields(id string, fields map[string]string) (*Job, error) {
	timeoutSeconds, err := strconv.ParseInt(fields["timeout"], 10, 64)
	if err != nil && fields["timeout"] != "" {
		return nil, &DecodeJobError{JobID: id, QueueName: fields["origin"], Cause: err}
	}

	j := &Job{
		ID:          id,
		Status:      Status(fields["status"]),
		Origin:      fields["origin"],
		Payload:     json.RawMessage(fields["payload"]),
		Description: fields["description"],
		Timeout:     time.Duration(timeoutSeconds) * time.Second,
		ExcInfo:     fields["exc_info"],
	}

	if raw, ok := fields["enqueued_at"]; ok && raw != "" {
		t, err := parseTime(raw)
		if err != nil {
			return nil, &DecodeJobError{JobID: id, QueueName: fields["origin"], Cause: err}
		}
		j.EnqueuedAt = t
	}

	if raw, ok := fields["ended_at"]; ok && raw != "" {
		t, err := parseTime(raw)
		if err != nil {
			return nil, &DecodeJobError{JobID: id, QueueName: fields["origin"], Cause: err}
		}
		j.EndedAt = t
		j.HasEndedAt = true
	}

	if raw, ok := fields["result_ttl"]; ok && raw != "" {
		seconds, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			return nil, &DecodeJobError{JobID: id, QueueName: fields["origin"], Cause: err}
		}
		j.ResultTTL = time.Duration(seconds) * time.Second
		j.HasResultTTL = true
	}

	if raw := fields["dependencies"]; raw != "" {
		j.Dependencies = strings.Split(raw, ",")
	}

	return j, nil
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339Nano)
}

func parseTime(raw string) (time.Time, error) {
	return time.Parse(time.RFC3339Nano, raw)
}
