package main

import (
	"fmt"
	"sort"
	"strconv"
	"strings"

	"athanor/internal/config"
	"athanor/pkg/athanor"
)

// overrideSpecFromFlags copies explicitly set run flags over the loaded spec.
// Flags absent from the value map (config, profile, run control) are handled
// by the caller.
func overrideSpecFromFlags(spec *config.RunSpec, set map[string]bool, flagValue map[string]any) error {
	for name := range set {
		v, ok := flagValue[name]
		if !ok {
			continue
		}
		switch name {
		case "run-id":
			spec.RunID = v.(string)
		case "library":
			spec.Library = v.(string)
		case "evaluator":
			spec.Evaluator = v.(string)
		case "pop":
			spec.PopulationSize = v.(int)
		case "gens":
			spec.Generations = v.(int)
		case "seed":
			spec.Seed = v.(int64)
		case "workers":
			spec.Workers = v.(int)
		case "elite":
			spec.EliteCount = v.(int)
		case "selection":
			spec.Selection.Strategy = v.(string)
		case "tournament-size":
			spec.Selection.TournamentSize = v.(int)
		case "selection-pressure":
			spec.Selection.Pressure = v.(float64)
		case "normalizers":
			spec.Normalization.Chain = parseNameList(v.(string))
		case "objective-weights":
			weights, err := parseWeightList(v.(string))
			if err != nil {
				return fmt.Errorf("--objective-weights: %w", err)
			}
			spec.Normalization.ObjectiveWeights = weights
		case "power-exponent":
			spec.Normalization.PowerExponent = v.(float64)
		case "global-window":
			spec.Normalization.GlobalWindow = v.(bool)
		case "mutators":
			weights, err := parseWeightList(v.(string))
			if err != nil {
				return fmt.Errorf("--mutators: %w", err)
			}
			spec.Operators.Mutators = weights
		case "crossers":
			weights, err := parseWeightList(v.(string))
			if err != nil {
				return fmt.Errorf("--crossers: %w", err)
			}
			spec.Operators.Crossers = weights
		case "crossover-rate":
			spec.Operators.CrossoverRate = v.(float64)
		case "topologies":
			spec.Seeding.Topologies = parseNameList(v.(string))
		case "min-blocks":
			spec.Seeding.MinBlocks = v.(int)
		case "max-blocks":
			spec.Seeding.MaxBlocks = v.(int)
		case "failure-policy":
			spec.FailurePolicy = v.(string)
		case "attempt-multiplier":
			spec.AttemptMultiplier = v.(int)
		case "fitness-goal":
			spec.Termination.FitnessGoal = v.(float64)
		case "plateau-window":
			spec.Termination.PlateauWindow = v.(int)
		case "plateau-min-delta":
			spec.Termination.PlateauMinDelta = v.(float64)
		case "max-wall-clock":
			spec.Termination.MaxWallClock = v.(string)
		case "evaluation-budget":
			spec.Termination.EvaluationBudget = v.(int)
		case "cache":
			spec.Cache.URI = v.(string)
		case "store":
			spec.Storage.Kind = v.(string)
		case "db-path":
			spec.Storage.Path = v.(string)
		case "jsonl":
			spec.Sinks.JSONLPath = v.(string)
		case "kafka-brokers":
			spec.Sinks.Kafka.Brokers = parseNameList(v.(string))
		case "kafka-topic":
			spec.Sinks.Kafka.Topic = v.(string)
		case "metrics-addr":
			spec.Metrics.ListenAddr = v.(string)
		}
	}
	return nil
}

// requestFromSpec maps the run spec onto the client request.
func requestFromSpec(spec config.RunSpec) athanor.RunRequest {
	return athanor.RunRequest{
		RunID:     spec.RunID,
		Library:   spec.Library,
		Evaluator: spec.Evaluator,

		Population:  spec.PopulationSize,
		Generations: spec.Generations,
		Seed:        spec.Seed,
		Workers:     spec.Workers,
		EliteCount:  spec.EliteCount,

		Selection:         spec.Selection.Strategy,
		TournamentSize:    spec.Selection.TournamentSize,
		SelectionPressure: spec.Selection.Pressure,

		Normalizers:         spec.Normalization.Chain,
		ObjectiveWeights:    spec.Normalization.ObjectiveWeights,
		PowerExponent:       spec.Normalization.PowerExponent,
		GlobalFitnessWindow: spec.Normalization.GlobalWindow,

		MutatorWeights: spec.Operators.Mutators,
		CrosserWeights: spec.Operators.Crossers,
		CrossoverRate:  spec.Operators.CrossoverRate,

		Topologies: spec.Seeding.Topologies,
		MinBlocks:  spec.Seeding.MinBlocks,
		MaxBlocks:  spec.Seeding.MaxBlocks,

		FailurePolicy:     spec.FailurePolicy,
		AttemptMultiplier: spec.AttemptMultiplier,

		FitnessGoal:      spec.Termination.FitnessGoal,
		PlateauWindow:    spec.Termination.PlateauWindow,
		PlateauMinDelta:  spec.Termination.PlateauMinDelta,
		MaxWallClock:     spec.Termination.WallClockBudget(),
		EvaluationBudget: spec.Termination.EvaluationBudget,
	}
}

// optionsFromSpec maps the run spec's backend settings onto client options.
func optionsFromSpec(spec config.RunSpec) athanor.Options {
	return athanor.Options{
		StoreKind:    spec.Storage.Kind,
		StorePath:    spec.Storage.Path,
		CacheURI:     spec.Cache.URI,
		ArtifactsDir: spec.Artifacts.Dir,
		ExportsDir:   exportsDir,
		MetricsAddr:  spec.Metrics.ListenAddr,
		Sinks:        spec.Sinks,
		Genealogy:    spec.Genealogy,
		Archive:      spec.Archive,
	}
}

// parseNameList splits a comma-separated list, dropping empty items.
func parseNameList(s string) []string {
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, part := range parts {
		name := strings.TrimSpace(part)
		if name != "" {
			out = append(out, name)
		}
	}
	if len(out) == 0 {
		return nil
	}
	return out
}

// parseWeightList parses comma-separated name=value pairs into a weight map.
func parseWeightList(s string) (map[string]float64, error) {
	if strings.TrimSpace(s) == "" {
		return nil, nil
	}
	out := make(map[string]float64)
	for _, part := range strings.Split(s, ",") {
		pair := strings.TrimSpace(part)
		if pair == "" {
			continue
		}
		name, value, ok := strings.Cut(pair, "=")
		if !ok {
			return nil, fmt.Errorf("expected name=value, got %q", pair)
		}
		weight, err := strconv.ParseFloat(strings.TrimSpace(value), 64)
		if err != nil {
			return nil, fmt.Errorf("weight for %s: %w", strings.TrimSpace(name), err)
		}
		out[strings.TrimSpace(name)] = weight
	}
	if len(out) == 0 {
		return nil, nil
	}
	return out, nil
}

func sortedWeightNames(weights map[string]float64) []string {
	names := make([]string, 0, len(weights))
	for name := range weights {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
