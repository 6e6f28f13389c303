// Command replay feeds recorded upstream events through the classifier
// against a fresh in-memory store. It exists for tuning the content
// patterns: seed the tasks a session had outstanding, replay the
// captured event stream, inspect what matched.
//
//	replay -tasks tasks.json -events events.jsonl
//
// tasks.json holds an array of tasks; events.jsonl holds one JSON
// event per line (stdin when -events is omitted).
package main

import (
	"bufio"
	"context"
	"encoding/json"
	"flag"
	"os"

	"mjgateway/internal/domain"
	"mjgateway/internal/engine"
	"mjgateway/internal/infra"
	"mjgateway/internal/pool"
	"mjgateway/internal/store"
)

func main() {
	tasksPath := flag.String("tasks", "", "JSON file with tasks to seed before replaying")
	eventsPath := flag.String("events", "", "JSON-lines event file (default stdin)")
	flag.Parse()

	logger := infra.NewLogger("development")
	ctx := context.Background()

	taskStore := store.NewMemoryStore()
	eng := engine.New(engine.Options{
		Store:  taskStore,
		Pool:   pool.NewAccountPool(nil),
		Sender: discardSender{},
		Logger: logger,
	})

	if *tasksPath != "" {
		raw, err := os.ReadFile(*tasksPath)
		if err != nil {
			logger.Fatal().Err(err).Msg("read tasks file")
		}
		var tasks []*domain.Task
		if err := json.Unmarshal(raw, &tasks); err != nil {
			logger.Fatal().Err(err).Msg("parse tasks file")
		}
		for _, task := range tasks {
			if err := taskStore.Create(ctx, task); err != nil {
				logger.Fatal().Err(err).Str("task", task.ID).Msg("seed task")
			}
		}
		logger.Info().Int("tasks", len(tasks)).Msg("seeded")
	}

	in := os.Stdin
	if *eventsPath != "" {
		f, err := os.Open(*eventsPath)
		if err != nil {
			logger.Fatal().Err(err).Msg("open events file")
		}
		defer f.Close()
		in = f
	}

	events := 0
	scanner := bufio.NewScanner(in)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		var ev domain.EventRecord
		if err := json.Unmarshal(line, &ev); err != nil {
			logger.Warn().Err(err).Msg("skipping malformed event line")
			continue
		}
		eng.OnEvent(ctx, ev)
		events++
	}
	if err := scanner.Err(); err != nil {
		logger.Fatal().Err(err).Msg("read events")
	}

	tasks, err := taskStore.List(ctx)
	if err != nil {
		logger.Fatal().Err(err).Msg("list tasks")
	}
	logger.Info().Int("events", events).Int("tasks", len(tasks)).Msg("replay finished")

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	_ = enc.Encode(tasks)
}

type discardSender struct{}

func (discardSender) Send(context.Context, domain.Account, *domain.Task) error { return nil }
