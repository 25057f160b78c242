package engine

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/docintel/pipeline/constants"
	"github.com/docintel/pipeline/internal/llm"
	"github.com/docintel/pipeline/internal/pipeline"
	"github.com/docintel/pipeline/internal/record"
)

// fakeInvoker scripts LLM responses for operator tests.
type fakeInvoker struct {
	mu    sync.Mutex
	calls []llm.InvokeRequest
	fn    func(req llm.InvokeRequest) (map[string]any, error)
}

func (f *fakeInvoker) Invoke(_ context.Context, req llm.InvokeRequest) (map[string]any, error) {
	f.mu.Lock()
	f.calls = append(f.calls, req)
	f.mu.Unlock()
	if f.fn != nil {
		return f.fn(req)
	}
	return map[string]any{}, nil
}

func (f *fakeInvoker) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

func opConfig(t constants.OperatorType, cfg map[string]any) pipeline.OperatorConfig {
	if cfg == nil {
		cfg = map[string]any{}
	}
	return pipeline.OperatorConfig{Name: "op-" + string(t), Type: t, Config: cfg}
}

func TestOperatorsEmptySequence(t *testing.T) {
	inv := &fakeInvoker{}
	cases := []struct {
		op  Operator
		cfg pipeline.OperatorConfig
	}{
		{&MapOperator{Invoker: inv}, opConfig(constants.OpMap, map[string]any{"prompt": "p"})},
		{&FilterOperator{}, opConfig(constants.OpFilter, map[string]any{"filter_condition": "item.x > 1"})},
		{&ReduceOperator{Invoker: inv}, opConfig(constants.OpReduce, map[string]any{"reduce_key": "k"})},
		{&ResolveOperator{Invoker: inv}, opConfig(constants.OpResolve, map[string]any{"resolution_keys": []any{"k"}})},
		{&GatherOperator{}, opConfig(constants.OpGather, map[string]any{"gather_key": "k"})},
		{&UnnestOperator{}, opConfig(constants.OpUnnest, map[string]any{"unnest_key": "k"})},
		{&SplitOperator{}, opConfig(constants.OpSplit, nil)},
		{&JoinOperator{}, opConfig(constants.OpJoin, map[string]any{"join_key": "k", "right": []any{}})},
	}
	for _, tc := range cases {
		t.Run(string(tc.op.Type()), func(t *testing.T) {
			out, err := tc.op.Apply(context.Background(), tc.cfg, record.Sequence{})
			require.NoError(t, err)
			assert.Empty(t, out)
		})
	}
	assert.Zero(t, inv.callCount(), "no operator may call the LLM on empty input")
}

func TestMapMergesAndPreservesCardinality(t *testing.T) {
	inv := &fakeInvoker{fn: func(req llm.InvokeRequest) (map[string]any, error) {
		data := req.Data.(record.Record)
		return map[string]any{"label": "doc", "score": data["score"]}, nil
	}}
	op := &MapOperator{Invoker: inv, DefaultModel: "gpt-4o-mini"}
	in := record.Sequence{
		{"score": 0.9, "label": "old"},
		{"score": 0.1},
	}

	out, err := op.Apply(context.Background(), opConfig(constants.OpMap, map[string]any{"prompt": "classify"}), in)
	require.NoError(t, err)
	require.Len(t, out, 2)
	assert.Equal(t, "doc", out[0]["label"], "returned keys overwrite existing ones")
	assert.Equal(t, 0.9, out[0]["score"])
	assert.Equal(t, "old", in[0]["label"], "input records are not mutated")
}

func TestMapItemFailureIsIsolated(t *testing.T) {
	inv := &fakeInvoker{fn: func(llm.InvokeRequest) (map[string]any, error) {
		return nil, errors.New("boom")
	}}
	op := &MapOperator{Invoker: inv}
	in := record.Sequence{{"id": 1}, {"id": 2}, {"id": 3}}

	out, err := op.Apply(context.Background(), opConfig(constants.OpMap, map[string]any{"prompt": "p"}), in)
	require.NoError(t, err)
	require.Len(t, out, 3, "output cardinality equals input cardinality")
	for i, rec := range out {
		assert.Equal(t, in[i]["id"], rec["id"])
		assert.Equal(t, "boom", rec["_error"])
	}
}

func TestMapConcurrentKeepsOrder(t *testing.T) {
	inv := &fakeInvoker{fn: func(req llm.InvokeRequest) (map[string]any, error) {
		data := req.Data.(record.Record)
		return map[string]any{"echo": data["id"]}, nil
	}}
	op := &MapOperator{Invoker: inv, MaxConcurrency: 4}
	in := make(record.Sequence, 20)
	for i := range in {
		in[i] = record.Record{"id": i}
	}

	out, err := op.Apply(context.Background(),
		opConfig(constants.OpMap, map[string]any{"prompt": "p", "max_concurrency": 4}), in)
	require.NoError(t, err)
	require.Len(t, out, 20)
	for i, rec := range out {
		assert.Equal(t, i, rec["echo"], "results stay at their input index")
	}
}

func TestFilterKeepsMatchingRecords(t *testing.T) {
	op := &FilterOperator{}
	in := record.Sequence{
		{"score": 0.9},
		{"score": 0.1},
		{"other": true}, // missing field -> evaluation error -> excluded
	}
	out, err := op.Apply(context.Background(),
		opConfig(constants.OpFilter, map[string]any{"filter_condition": "item.score > 0.5"}), in)
	require.NoError(t, err)
	require.Len(t, out, 1)
	assert.Equal(t, 0.9, out[0]["score"])
}

func TestFilterNonBooleanExcludes(t *testing.T) {
	op := &FilterOperator{}
	in := record.Sequence{{"score": 1}}
	out, err := op.Apply(context.Background(),
		opConfig(constants.OpFilter, map[string]any{"filter_condition": `item.score`}), in)
	require.NoError(t, err)
	assert.Empty(t, out, "non-boolean results are treated as false")
}

func TestFilterValidateRejectsBadSyntax(t *testing.T) {
	op := &FilterOperator{}
	err := op.Validate(opConfig(constants.OpFilter, map[string]any{"filter_condition": "item.score >"}))
	assert.Error(t, err)
}

func TestReduceWithoutFoldNeverCallsInvoker(t *testing.T) {
	inv := &fakeInvoker{}
	op := &ReduceOperator{Invoker: inv}
	in := record.Sequence{
		{"category": "a", "v": 1},
		{"category": "b", "v": 2},
		{"category": "a", "v": 3},
		{"v": 4}, // missing key groups under null
	}

	out, err := op.Apply(context.Background(),
		opConfig(constants.OpReduce, map[string]any{"reduce_key": "category"}), in)
	require.NoError(t, err)
	assert.Zero(t, inv.callCount())
	require.Len(t, out, 3, "one record per distinct key")

	assert.Equal(t, "a", out[0]["reduce_key"], "first-occurrence order")
	assert.Equal(t, 2, out[0]["count"])
	assert.Equal(t, "b", out[1]["reduce_key"])
	assert.Equal(t, 1, out[1]["count"])
	assert.Nil(t, out[2]["reduce_key"])
	assert.Equal(t, 1, out[2]["count"])
}

func TestReduceDistinguishesKeyTypes(t *testing.T) {
	inv := &fakeInvoker{}
	op := &ReduceOperator{Invoker: inv}
	in := record.Sequence{
		{"k": "5"},      // string
		{"k": 5},        // number with the same spelling
		{"k": "null"},   // string spelled like null
		{"other": true}, // key absent
	}

	out, err := op.Apply(context.Background(),
		opConfig(constants.OpReduce, map[string]any{"reduce_key": "k"}), in)
	require.NoError(t, err)
	require.Len(t, out, 4, "same spelling across types must not share a group")

	assert.Equal(t, "5", out[0]["reduce_key"])
	assert.Equal(t, 5, out[1]["reduce_key"])
	assert.Equal(t, "null", out[2]["reduce_key"])
	assert.Nil(t, out[3]["reduce_key"])
	for _, rec := range out {
		assert.Equal(t, 1, rec["count"])
	}
}

func TestReduceFold(t *testing.T) {
	inv := &fakeInvoker{fn: func(req llm.InvokeRequest) (map[string]any, error) {
		return map[string]any{"summary": "merged"}, nil
	}}
	op := &ReduceOperator{Invoker: inv}
	in := record.Sequence{
		{"category": "a", "v": 1},
		{"category": "a", "v": 2},
	}

	out, err := op.Apply(context.Background(), opConfig(constants.OpReduce,
		map[string]any{"reduce_key": "category", "fold_prompt": "summarize"}), in)
	require.NoError(t, err)
	require.Len(t, out, 1)
	assert.Equal(t, 1, inv.callCount(), "one call per group")
	assert.Equal(t, "a", out[0]["reduce_key"])
	assert.Equal(t, "merged", out[0]["summary"])
	assert.Equal(t, 2, out[0]["_original_count"])
}

func TestReduceFoldFailureKeepsGroup(t *testing.T) {
	inv := &fakeInvoker{fn: func(llm.InvokeRequest) (map[string]any, error) {
		return nil, errors.New("fold down")
	}}
	op := &ReduceOperator{Invoker: inv}
	in := record.Sequence{{"category": "a"}, {"category": "a"}}

	out, err := op.Apply(context.Background(), opConfig(constants.OpReduce,
		map[string]any{"reduce_key": "category", "fold_prompt": "summarize"}), in)
	require.NoError(t, err)
	require.Len(t, out, 1)
	assert.Equal(t, 2, out[0]["count"])
	assert.Equal(t, "fold down", out[0]["_error"])
}

func TestResolveMergesExactMatches(t *testing.T) {
	inv := &fakeInvoker{fn: func(req llm.InvokeRequest) (map[string]any, error) {
		return map[string]any{"name": "ACME Corp"}, nil
	}}
	op := &ResolveOperator{Invoker: inv}
	in := record.Sequence{
		{"name": "acme", "city": "nyc", "id": 1},
		{"name": "globex", "city": "la", "id": 2},
		{"name": "acme", "city": "nyc", "id": 3},
	}

	out, err := op.Apply(context.Background(), opConfig(constants.OpResolve, map[string]any{
		"resolution_keys":   []any{"name", "city"},
		"comparison_prompt": "same entity?",
	}), in)
	require.NoError(t, err)
	require.Len(t, out, 2)
	assert.Equal(t, "ACME Corp", out[0]["name"])
	assert.Equal(t, 2, out[0]["_resolved_from"])
	assert.Equal(t, 2, out[1]["id"], "singleton passes through unchanged")
	assert.Equal(t, 1, inv.callCount())
}

// every input record must appear in exactly one output group
func TestResolveProvenanceConservation(t *testing.T) {
	inv := &fakeInvoker{fn: func(req llm.InvokeRequest) (map[string]any, error) {
		return map[string]any{"merged": true}, nil
	}}
	op := &ResolveOperator{Invoker: inv}
	in := record.Sequence{
		{"k": "a"}, {"k": "b"}, {"k": "a"}, {"k": "c"}, {"k": "b"}, {"k": "a"},
	}

	out, err := op.Apply(context.Background(), opConfig(constants.OpResolve, map[string]any{
		"resolution_keys":   []any{"k"},
		"comparison_prompt": "same?",
	}), in)
	require.NoError(t, err)

	accounted := 0
	for _, rec := range out {
		if n, ok := rec["_resolved_from"].(int); ok {
			accounted += n
		} else {
			accounted++
		}
	}
	assert.Equal(t, len(in), accounted, "no record dropped or double-counted")
}

func TestResolveWithoutPromptPassesThrough(t *testing.T) {
	inv := &fakeInvoker{}
	op := &ResolveOperator{Invoker: inv}
	in := record.Sequence{{"k": "a", "id": 1}, {"k": "a", "id": 2}}

	out, err := op.Apply(context.Background(), opConfig(constants.OpResolve,
		map[string]any{"resolution_keys": []any{"k"}}), in)
	require.NoError(t, err)
	require.Len(t, out, 2)
	assert.Zero(t, inv.callCount())
}

func TestResolveComparisonFailurePassesUnmerged(t *testing.T) {
	inv := &fakeInvoker{fn: func(llm.InvokeRequest) (map[string]any, error) {
		return nil, errors.New("no quorum")
	}}
	op := &ResolveOperator{Invoker: inv}
	in := record.Sequence{{"k": "a", "id": 1}, {"k": "a", "id": 2}}

	out, err := op.Apply(context.Background(), opConfig(constants.OpResolve, map[string]any{
		"resolution_keys":   []any{"k"},
		"comparison_prompt": "same?",
	}), in)
	require.NoError(t, err)
	require.Len(t, out, 2, "candidates pass through unmerged")
	assert.Equal(t, 1, out[0]["id"])
	assert.Equal(t, 2, out[1]["id"])
}

func TestGatherFullRecordsAndContentKey(t *testing.T) {
	op := &GatherOperator{}
	in := record.Sequence{
		{"doc": "x", "content": "p1"},
		{"doc": "y", "content": "p2"},
		{"doc": "x", "content": "p3"},
	}

	out, err := op.Apply(context.Background(),
		opConfig(constants.OpGather, map[string]any{"gather_key": "doc"}), in)
	require.NoError(t, err)
	require.Len(t, out, 2)
	assert.Equal(t, "x", out[0]["doc"])
	items := out[0]["items"].([]any)
	require.Len(t, items, 2)
	assert.Equal(t, in[0], items[0])

	out, err = op.Apply(context.Background(), opConfig(constants.OpGather,
		map[string]any{"gather_key": "doc", "content_key": "content"}), in)
	require.NoError(t, err)
	items = out[0]["items"].([]any)
	assert.Equal(t, []any{"p1", "p3"}, items)
}

func TestUnnestExpandsArrays(t *testing.T) {
	op := &UnnestOperator{}
	in := record.Sequence{{"id": 1, "tags": []any{"x", "y"}}}

	out, err := op.Apply(context.Background(),
		opConfig(constants.OpUnnest, map[string]any{"unnest_key": "tags"}), in)
	require.NoError(t, err)
	require.Len(t, out, 2)
	assert.Equal(t, record.Record{"id": 1, "tags": "x"}, out[0])
	assert.Equal(t, record.Record{"id": 1, "tags": "y"}, out[1])
}

func TestUnnestNonArrayPassesThrough(t *testing.T) {
	op := &UnnestOperator{}
	in := record.Sequence{{"id": 1, "tags": "solo"}, {"id": 2}}

	out, err := op.Apply(context.Background(),
		opConfig(constants.OpUnnest, map[string]any{"unnest_key": "tags"}), in)
	require.NoError(t, err)
	assert.Equal(t, in, out)
}

// gathering an unnested field reconstructs the original array's
// multiset of elements
func TestUnnestGatherRoundTrip(t *testing.T) {
	tags := []any{"x", "y", "z"}
	in := record.Sequence{{"id": "d1", "tags": tags}}

	unnested, err := (&UnnestOperator{}).Apply(context.Background(),
		opConfig(constants.OpUnnest, map[string]any{"unnest_key": "tags"}), in)
	require.NoError(t, err)

	gathered, err := (&GatherOperator{}).Apply(context.Background(), opConfig(constants.OpGather,
		map[string]any{"gather_key": "id", "content_key": "tags"}), unnested)
	require.NoError(t, err)

	require.Len(t, gathered, 1)
	assert.Equal(t, "d1", gathered[0]["id"])
	assert.ElementsMatch(t, tags, gathered[0]["items"].([]any))
}

func TestSplitParagraphs(t *testing.T) {
	op := &SplitOperator{}
	in := record.Sequence{{"id": 1, "content": "first para\nstill first\n\nsecond para\n\n\nthird"}}

	out, err := op.Apply(context.Background(), opConfig(constants.OpSplit, nil), in)
	require.NoError(t, err)
	require.Len(t, out, 3)
	assert.Equal(t, "first para\nstill first", out[0]["content"])
	assert.Equal(t, 0, out[0]["_chunk_index"])
	assert.Equal(t, 3, out[0]["_total_chunks"])
	assert.Equal(t, "third", out[2]["content"])
	assert.Equal(t, 2, out[2]["_chunk_index"])
	assert.Equal(t, 1, out[0]["id"], "original fields are preserved")
}

func TestSplitSingleParagraphIsIdempotent(t *testing.T) {
	op := &SplitOperator{}
	in := record.Sequence{{"content": "just one paragraph"}}

	out, err := op.Apply(context.Background(), opConfig(constants.OpSplit, nil), in)
	require.NoError(t, err)
	require.Len(t, out, 1)
	assert.Equal(t, "just one paragraph", out[0]["content"])
	assert.Equal(t, 0, out[0]["_chunk_index"])
	assert.Equal(t, 1, out[0]["_total_chunks"])
}

func TestSplitNonStringPassesThrough(t *testing.T) {
	op := &SplitOperator{}
	in := record.Sequence{{"content": 42}}

	out, err := op.Apply(context.Background(), opConfig(constants.OpSplit, nil), in)
	require.NoError(t, err)
	require.Len(t, out, 1)
	assert.Equal(t, in[0], out[0])
	assert.NotContains(t, out[0], "_chunk_index")
}

func TestSplitCustomContentKey(t *testing.T) {
	op := &SplitOperator{}
	in := record.Sequence{{"body": "a\n\nb"}}

	out, err := op.Apply(context.Background(),
		opConfig(constants.OpSplit, map[string]any{"content_key": "body"}), in)
	require.NoError(t, err)
	require.Len(t, out, 2)
	assert.Equal(t, "a", out[0]["body"])
	assert.Equal(t, "b", out[1]["body"])
}

func TestJoinInnerAndLeft(t *testing.T) {
	op := &JoinOperator{}
	right := []any{
		map[string]any{"dept": "eng", "floor": 3},
		map[string]any{"dept": "ops", "floor": 1},
	}
	in := record.Sequence{
		{"name": "ada", "dept": "eng"},
		{"name": "bob", "dept": "hr"},
	}

	inner, err := op.Apply(context.Background(), opConfig(constants.OpJoin,
		map[string]any{"join_key": "dept", "right": right}), in)
	require.NoError(t, err)
	require.Len(t, inner, 1)
	assert.Equal(t, "ada", inner[0]["name"])
	assert.Equal(t, 3, inner[0]["floor"])

	left, err := op.Apply(context.Background(), opConfig(constants.OpJoin,
		map[string]any{"join_key": "dept", "right": right, "join_type": "left"}), in)
	require.NoError(t, err)
	require.Len(t, left, 2)
	assert.NotContains(t, left[1], "floor", "unmatched left record passes through")
}

func TestJoinLeftFieldsWin(t *testing.T) {
	op := &JoinOperator{}
	right := []any{map[string]any{"dept": "eng", "name": "override"}}
	in := record.Sequence{{"name": "ada", "dept": "eng"}}

	out, err := op.Apply(context.Background(), opConfig(constants.OpJoin,
		map[string]any{"join_key": "dept", "right": right}), in)
	require.NoError(t, err)
	require.Len(t, out, 1)
	assert.Equal(t, "ada", out[0]["name"])
}

func TestOperatorValidation(t *testing.T) {
	cases := []struct {
		name string
		op   Operator
		cfg  pipeline.OperatorConfig
	}{
		{"map missing prompt", &MapOperator{}, opConfig(constants.OpMap, nil)},
		{"filter missing condition", &FilterOperator{}, opConfig(constants.OpFilter, nil)},
		{"reduce missing key", &ReduceOperator{}, opConfig(constants.OpReduce, nil)},
		{"resolve missing keys", &ResolveOperator{}, opConfig(constants.OpResolve, nil)},
		{"gather missing key", &GatherOperator{}, opConfig(constants.OpGather, nil)},
		{"unnest missing key", &UnnestOperator{}, opConfig(constants.OpUnnest, nil)},
		{"join missing right", &JoinOperator{}, opConfig(constants.OpJoin, map[string]any{"join_key": "k"})},
		{"join bad type", &JoinOperator{}, opConfig(constants.OpJoin,
			map[string]any{"join_key": "k", "right": []any{}, "join_type": "outer"})},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Error(t, tc.op.Validate(tc.cfg))
		})
	}
	assert.NoError(t, (&SplitOperator{}).Validate(opConfig(constants.OpSplit, nil)),
		"split has no required fields")
}

func TestRegistryLookupUnknownType(t *testing.T) {
	reg := Registry{}
	reg.Register(&SplitOperator{})

	_, err := reg.Lookup(constants.OperatorType("shuffle"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), `"shuffle"`)
	for _, t2 := range constants.AllOperatorTypes() {
		assert.Contains(t, err.Error(), string(t2), "error names every supported type")
	}
}
