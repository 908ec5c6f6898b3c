// Package preflight checks that a store permits what a run needs before any
// report is written.
//
// A read-safe preflight only lists the index root. A write probe also puts,
// reads back and deletes a small object under the probe prefix, which proves
// the credentials can write reports and remove stale ones during a rerun.
package preflight

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/3leaps/cadence/pkg/output"
	"github.com/3leaps/cadence/pkg/provider"
	"github.com/3leaps/cadence/pkg/storekey"
)

// Mode defines how aggressive preflight checks are.
type Mode string

const (
	ModeReadSafe   Mode = "read-safe"
	ModeWriteProbe Mode = "write-probe"
)

// Capability names are stable strings used in check output.
const (
	CapList   = "store.list"
	CapWrite  = "store.write"
	CapRead   = "store.read"
	CapDelete = "store.delete"
)

// ProbeDir holds probe objects, relative to the storage prefix.
const ProbeDir = "_cadence"

// Result is the outcome of one capability check.
type Result struct {
	Capability string `json:"capability"`
	Allowed    bool   `json:"allowed"`
	Method     string `json:"method"`
	ErrorCode  string `json:"errorCode,omitempty"`
	Detail     string `json:"detail,omitempty"`
}

// Report collects the checks of one preflight, in execution order.
type Report struct {
	Mode     Mode     `json:"mode"`
	ProbeKey string   `json:"probeKey,omitempty"`
	Results  []Result `json:"results"`
}

// OK reports whether every check passed.
func (r *Report) OK() bool {
	for _, res := range r.Results {
		if !res.Allowed {
			return false
		}
	}
	return true
}

func (r *Report) allow(capability, method string) {
	r.Results = append(r.Results, Result{Capability: capability, Allowed: true, Method: method})
}

func (r *Report) deny(capability, method string, err error) error {
	r.Results = append(r.Results, Result{
		Capability: capability,
		Method:     method,
		ErrorCode:  ErrorCode(err),
		Detail:     err.Error(),
	})
	return err
}

// Store runs the checks for mode against store under prefix. It stops at
// the first denied capability and returns its error with the report.
func Store(ctx context.Context, store provider.Store, prefix string, mode Mode) (*Report, error) {
	rep := &Report{Mode: mode, Results: []Result{}}

	root := storekey.IndexRoot(prefix) + "/"
	method := fmt.Sprintf("List(%q)", root)
	if _, err := store.List(ctx, root); err != nil && !provider.IsNotFound(err) {
		return rep, rep.deny(CapList, method, err)
	}
	rep.allow(CapList, method)

	if mode != ModeWriteProbe {
		return rep, nil
	}

	key := probeKey(prefix)
	rep.ProbeKey = key
	body := []byte("cadence preflight " + key)

	method = fmt.Sprintf("Put(%q)", key)
	if _, err := store.Put(ctx, key, body, "text/plain; charset=utf-8"); err != nil {
		return rep, rep.deny(CapWrite, method, err)
	}
	rep.allow(CapWrite, method)

	method = fmt.Sprintf("Get(%q)", key)
	got, err := store.Get(ctx, key)
	switch {
	case err != nil:
		_ = rep.deny(CapRead, method, err)
	case !bytes.Equal(got, body):
		err = fmt.Errorf("read back %d bytes, wrote %d", len(got), len(body))
		_ = rep.deny(CapRead, method, err)
	default:
		rep.allow(CapRead, method)
	}

	// Always try to remove the probe, even when the read failed.
	method = fmt.Sprintf("Delete(%q)", key)
	if derr := store.Delete(ctx, key); derr != nil {
		return rep, errors.Join(err, rep.deny(CapDelete, method, derr))
	}
	rep.allow(CapDelete, method)
	return rep, err
}

func probeKey(prefix string) string {
	key := ProbeDir + "/preflight-" + uuid.NewString()
	prefix = strings.Trim(prefix, "/")
	if prefix == "" {
		return key
	}
	return prefix + "/" + key
}

// ErrorCode maps a provider error to a JSONL error code.
func ErrorCode(err error) string {
	switch {
	case errors.Is(err, provider.ErrAccessDenied), errors.Is(err, provider.ErrInvalidCredentials):
		return output.ErrCodeAccessDenied
	case provider.IsNotFound(err), errors.Is(err, provider.ErrBucketNotFound):
		return output.ErrCodeNotFound
	case errors.Is(err, provider.ErrThrottled):
		return output.ErrCodeThrottled
	case errors.Is(err, provider.ErrInvalidKey):
		return output.ErrCodeInvalid
	default:
		return output.ErrCodeInternal
	}
}
