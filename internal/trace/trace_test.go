package trace

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCanonicalJSON_IndependentOfInsertionOrder(t *testing.T) {
	tr1 := ExecutionTrace{
		SessionID: "s",
		Events: []TraceEvent{
			{Kind: EventRuleCompleted, Rule: "cat", Request: "b"},
			{Kind: EventProcessExecuted, Rule: "run", Request: "a", Digests: []string{"y", "x"}},
			{Kind: EventRuleFailed, Rule: "cat", Request: "c", Reason: "*sandbox.ExecutionFailure"},
		},
	}
	tr2 := ExecutionTrace{
		SessionID: "s",
		Events: []TraceEvent{
			{Kind: EventRuleFailed, Rule: "cat", Request: "c", Reason: "*sandbox.ExecutionFailure"},
			{Kind: EventProcessExecuted, Rule: "run", Request: "a", Digests: []string{"x", "y"}},
			{Kind: EventRuleCompleted, Rule: "cat", Request: "b"},
		},
	}

	b1, err := tr1.CanonicalJSON()
	require.NoError(t, err)
	b2, err := tr2.CanonicalJSON()
	require.NoError(t, err)
	assert.Equal(t, string(b1), string(b2))

	h1, err := tr1.Hash()
	require.NoError(t, err)
	h2, err := tr2.Hash()
	require.NoError(t, err)
	assert.Equal(t, h1, h2)
}

func TestCanonicalJSON_Bytes(t *testing.T) {
	tr := ExecutionTrace{
		SessionID: "s",
		Events: []TraceEvent{
			{Kind: EventRuleCompleted, Rule: "cat", Request: "a"},
			{Kind: EventRuleMemoHit, Rule: "cat", Request: "a"},
			{Kind: EventProcessCached, Rule: "run", Request: "a", Digests: []string{}},
		},
	}
	b, err := tr.CanonicalJSON()
	require.NoError(t, err)

	expected := `{"sessionId":"s","events":[` +
		`{"kind":"RuleMemoHit","rule":"cat","request":"a"},` +
		`{"kind":"ProcessCached","rule":"run","request":"a"},` +
		`{"kind":"RuleCompleted","rule":"cat","request":"a"}]}`
	assert.Equal(t, expected, string(b))
}

func TestValidate(t *testing.T) {
	assert.Error(t, (&ExecutionTrace{}).Validate())
	assert.Error(t, (&ExecutionTrace{SessionID: "s", Events: []TraceEvent{{Request: "a"}}}).Validate())
	assert.Error(t, (&ExecutionTrace{SessionID: "s", Events: []TraceEvent{{Kind: EventRuleCompleted}}}).Validate())
	assert.NoError(t, (&ExecutionTrace{SessionID: "s"}).Validate())
}

func TestRecorder_ConcurrentRecord(t *testing.T) {
	r := NewRecorder()
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			r.Record(TraceEvent{Kind: EventRuleCompleted, Request: "x", Session: "s"})
		}()
	}
	wg.Wait()

	tr := r.Trace("s")
	assert.Len(t, tr.Events, 50)
	assert.Equal(t, 50, tr.Count(EventRuleCompleted))
}

func TestRecorder_TraceSelectsSession(t *testing.T) {
	r := NewRecorder()
	r.Record(TraceEvent{Kind: EventRuleCompleted, Request: "a", Session: "s1"})
	r.Record(TraceEvent{Kind: EventRuleCompleted, Request: "b", Session: "s2"})
	r.Record(TraceEvent{Kind: EventRuleMemoHit, Request: "a", Session: "s1"})

	tr := r.Trace("s1")
	require.Len(t, tr.Events, 2)
	for _, e := range tr.Events {
		assert.Equal(t, "a", e.Request)
	}
	assert.Empty(t, r.Trace("s3").Events)

	b, err := tr.CanonicalJSON()
	require.NoError(t, err)
	assert.NotContains(t, string(b), "s2")
}

func TestHash_IgnoresSessionID(t *testing.T) {
	events := []TraceEvent{{Kind: EventRuleCompleted, Rule: "cat", Request: "a"}}
	h1, err := ExecutionTrace{SessionID: "s1", Events: events}.Hash()
	require.NoError(t, err)
	h2, err := ExecutionTrace{SessionID: "s2", Events: events}.Hash()
	require.NoError(t, err)
	assert.Equal(t, h1, h2)

	other, err := ExecutionTrace{SessionID: "s1", Events: []TraceEvent{{Kind: EventRuleFailed, Rule: "cat", Request: "a"}}}.Hash()
	require.NoError(t, err)
	assert.NotEqual(t, h1, other)
}

type panickingSink struct{}

func (panickingSink) Record(TraceEvent) { panic("boom") }

func TestSafeRecord_SwallowsPanics(t *testing.T) {
	assert.NotPanics(t, func() {
		SafeRecord(panickingSink{}, TraceEvent{Kind: EventRuleCompleted, Request: "a"})
		SafeRecord(nil, TraceEvent{Kind: EventRuleCompleted, Request: "a"})
	})
}
