// Package engine assembles every component and runs them as supervised
// tasks over one shared context.
package engine

import (
	"context"
	"errors"
	"log"
	"sync"
)

// Task is one long-running component loop.
type Task struct {
	Name string
	Run  func(ctx context.Context) error
}

type termination struct {
	name string
	err  error
}

// Supervisor runs named tasks and cancels all of them when the first one
// fails. Context cancellation is a normal exit, anything else is fatal.
type Supervisor struct {
	tasks []Task
}

func (s *Supervisor) Add(name string, run func(ctx context.Context) error) {
	s.tasks = append(s.tasks, Task{Name: name, Run: run})
}

// Run blocks until every task exits. Returns the first fatal error.
func (s *Supervisor) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	done := make(chan termination, len(s.tasks))
	var wg sync.WaitGroup
	for _, t := range s.tasks {
		wg.Add(1)
		go func(t Task) {
			defer wg.Done()
			done <- termination{name: t.Name, err: t.Run(ctx)}
		}(t)
		log.Printf("✓ task started: %s", t.Name)
	}

	var fatal error
	for range s.tasks {
		term := <-done
		switch {
		case term.err == nil || errors.Is(term.err, context.Canceled):
			log.Printf("🔄 task stopped: %s", term.name)
		default:
			log.Printf("❌ task failed: %s: %v", term.name, term.err)
			if fatal == nil {
				fatal = term.err
			}
			cancel()
		}
	}
	wg.Wait()
	return fatal
}
