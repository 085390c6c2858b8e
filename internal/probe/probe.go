/*
 * Copyright 2025 SREDiag Authors
 *
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 *
 *     http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */

// Package probe exercises each host capability and reports which ones work.
package probe

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/panjf2000/ants/v2"

	"github.com/srediag/hostsys/internal/logging"
	"github.com/srediag/hostsys/pkg/hostsys"
)

var logger = logging.New("probe", nil)

// Probe is one capability check.
type Probe struct {
	Name string
	// Required probes decide readiness. Optional ones are only reported.
	Required bool
	Check    func() error
}

// Result is the outcome of one Probe.
type Result struct {
	Name     string
	Required bool
	Err      error
	Duration time.Duration
}

// OK reports whether the probe passed.
func (r Result) OK() bool { return r.Err == nil }

// Unsupported reports whether the host lacks the capability, as opposed to
// the capability failing.
func (r Result) Unsupported() bool { return errors.Is(r.Err, hostsys.ErrUnsupported) }

func (r Result) String() string {
	switch {
	case r.OK():
		return fmt.Sprintf("%s: ok (%s)", r.Name, r.Duration)
	case r.Unsupported():
		return fmt.Sprintf("%s: unsupported", r.Name)
	}
	return fmt.Sprintf("%s: FAILED: %v", r.Name, r.Err)
}

// Run executes probes on a pool of workers and returns their results in
// input order. A probe still running when ctx ends reports ctx.Err().
func Run(ctx context.Context, probes []Probe, workers int) ([]Result, error) {
	if workers <= 0 {
		workers = 1
	}
	pool, err := ants.NewPool(workers,
		ants.WithLogger(logger),
		ants.WithPanicHandler(func(p interface{}) {
			logger.Errorf("probe panicked: %v", p)
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("probe pool: %w", err)
	}
	defer pool.Release()

	results := make([]Result, len(probes))
	var wg sync.WaitGroup
	for i, p := range probes {
		i, p := i, p
		results[i] = Result{Name: p.Name, Required: p.Required, Err: errors.New("probe did not complete")}
		wg.Add(1)
		err := pool.Submit(func() {
			defer wg.Done()
			results[i] = runOne(ctx, p)
		})
		if err != nil {
			wg.Done()
			results[i].Err = err
		}
	}
	wg.Wait()
	return results, nil
}

func runOne(ctx context.Context, p Probe) Result {
	start := time.Now()
	done := make(chan error, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- fmt.Errorf("panic: %v", r)
			}
		}()
		done <- p.Check()
	}()
	var err error
	select {
	case err = <-done:
	case <-ctx.Done():
		err = ctx.Err()
	}
	res := Result{Name: p.Name, Required: p.Required, Err: err, Duration: time.Since(start)}
	logger.Debugf("%s", res)
	return res
}

// Ready reports whether every required probe passed.
func Ready(results []Result) bool {
	for _, r := range results {
		if r.Required && !r.OK() {
			return false
		}
	}
	return true
}
