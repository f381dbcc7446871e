// Package provider defines the contract with the hosted job service that runs
// scraping and DM-sending jobs on our behalf.
package provider

import (
	"context"
	"fmt"
)

type Kind string

const (
	KindScrape Kind = "scrape"
	KindSend   Kind = "send"
)

type State string

const (
	StateRunning   State = "RUNNING"
	StateSucceeded State = "SUCCEEDED"
	StateFailed    State = "FAILED"
)

// RunState is one observation of an external job. Message is set on failure
// when the provider explains it.
type RunState struct {
	State   State
	Message string
}

// Item is one result record, shaped however the provider chose.
type Item = map[string]any

// LaunchOptions tunes one job. Zero values use provider defaults.
type LaunchOptions struct {
	MemoryMB       int
	TimeoutSeconds int
}

// Launcher starts external jobs and observes them. Implementations must be safe
// for concurrent use.
type Launcher interface {
	Launch(ctx context.Context, kind Kind, input any, opts LaunchOptions) (handle string, err error)
	Poll(ctx context.Context, handle string) (RunState, error)
	Results(ctx context.Context, handle string) ([]Item, error)
}

// LaunchError is returned by Launch when the provider rejected or could not
// accept the job. Message is the provider's explanation.
type LaunchError struct {
	Kind    Kind
	Message string
	Err     error
}

func (e *LaunchError) Error() string {
	return fmt.Sprintf("launch %s job: %s", e.Kind, e.Message)
}

func (e *LaunchError) Unwrap() error { return e.Err }

// ScrapeInput is the job input of a follower/following enumeration.
type ScrapeInput struct {
	Usernames    []string `json:"usernames"`
	ResultsType  string   `json:"resultsType"`
	ResultsLimit int      `json:"resultsLimit,omitempty"`
	Proxy        *Proxy   `json:"proxy,omitempty"`
}

// SendInput is the job input of one direct message.
type SendInput struct {
	SessionCookie string   `json:"sessionCookie"`
	Recipients    []string `json:"recipients"`
	Message       string   `json:"message"`
	Proxy         *Proxy   `json:"proxy,omitempty"`
}

type Proxy struct {
	UseApifyProxy bool `json:"useApifyProxy"`
}
