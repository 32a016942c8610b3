// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Leaf Contributors

package plugin

import "errors"

// Failure records one plugin that could not be loaded or started.
type Failure struct {
	Plugin  string `json:"plugin"`
	Ref     string `json:"ref"`
	Code    string `json:"code"`
	Message string `json:"message"`
	Err     error  `json:"-"`
}

// Report aggregates the outcome of a Scan.
type Report struct {
	Running  []string  `json:"running"`
	Loaded   []string  `json:"loaded"`
	Skipped  []string  `json:"skipped"`
	Failures []Failure `json:"failures"`
}

// Failure returns the failure recorded for name, if any.
func (r Report) Failure(name string) (Failure, bool) {
	for _, f := range r.Failures {
		if f.Plugin == name {
			return f, true
		}
	}
	return Failure{}, false
}

// Err joins every failure, nil when the scan was clean.
func (r Report) Err() error {
	errList := make([]error, 0, len(r.Failures))
	for _, f := range r.Failures {
		errList = append(errList, f.Err)
	}
	return errors.Join(errList...)
}

func (r Report) clone() Report {
	return Report{
		Running:  append([]string(nil), r.Running...),
		Loaded:   append([]string(nil), r.Loaded...),
		Skipped:  append([]string(nil), r.Skipped...),
		Failures: append([]Failure(nil), r.Failures...),
	}
}

// Info describes a known plugin.
type Info struct {
	Name          string   `json:"name"`
	Version       string   `json:"version"`
	Type          Type     `json:"type"`
	Description   string   `json:"description,omitempty"`
	Autorun       bool     `json:"autorun"`
	State         State    `json:"state"`
	Source        string   `json:"source"`
	Events        []string `json:"events,omitempty"`
	RuntimeErrors int      `json:"runtime_errors"`
	LastError     string   `json:"last_error,omitempty"`
	LastErrorCode string   `json:"last_error_code,omitempty"`
}

// info must be called with the manager lock held.
func (e *entry) info() Info {
	i := Info{
		Name:          e.manifest.Name,
		Version:       e.manifest.Version,
		Type:          e.manifest.Type,
		Description:   e.manifest.Description,
		Autorun:       e.manifest.Autorun,
		State:         e.state,
		Source:        e.ref,
		Events:        append([]string(nil), e.manifest.Events...),
		RuntimeErrors: e.runtimeErrors,
	}
	if e.lastErr != nil {
		i.LastError = e.lastErr.Error()
		i.LastErrorCode = e.lastCode
	}
	return i
}
