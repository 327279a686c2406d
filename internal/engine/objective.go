package engine

import (
	"context"

	"athanor/internal/assembly"
	"athanor/internal/cache"
	"athanor/internal/evaluator"
	"athanor/internal/evo"
	"athanor/internal/model"
)

// cachedObjective routes every evaluation through the content-addressed
// cache: assemble the recipe, score the graph, memoize by fingerprint and
// evaluator version. Identical structures are computed once no matter how
// many individuals carry them.
type cachedObjective struct {
	library   *assembly.Library
	evaluator evaluator.Evaluator
	cache     *cache.Cache
}

func (o *cachedObjective) Name() string {
	return o.evaluator.Name()
}

func (o *cachedObjective) Evaluate(ctx context.Context, individual model.Individual) (evo.Evaluation, error) {
	computed := false
	artifact, err := o.cache.GetOrCompute(ctx, individual.Fingerprint, o.evaluator.Name(), o.evaluator.Version(), func(ctx context.Context) (model.Artifact, error) {
		computed = true
		graph, err := assembly.Build(o.library, individual.Recipe)
		if err != nil {
			return model.Artifact{}, &evaluator.EvaluationFailure{
				Evaluator:   o.evaluator.Name(),
				Fingerprint: individual.Fingerprint,
				Err:         err,
			}
		}
		result, err := o.evaluator.Evaluate(ctx, graph)
		if err != nil {
			return model.Artifact{}, &evaluator.EvaluationFailure{
				Evaluator:   o.evaluator.Name(),
				Fingerprint: individual.Fingerprint,
				Err:         err,
			}
		}
		return model.Artifact{
			Fitness:     result.Fitness,
			Objectives:  result.Objectives,
			Descriptors: result.Descriptors,
		}, nil
	})
	if err != nil {
		return evo.Evaluation{}, err
	}
	return evo.Evaluation{Artifact: artifact, FromCache: !computed}, nil
}
