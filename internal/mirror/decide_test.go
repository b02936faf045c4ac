package mirror

import (
	"encoding/json"
	"testing"

	"github.com/alexjbarnes/page-mirror/internal/syncstate"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDecide(t *testing.T) {
	base := "base"
	stored := &syncstate.PageState{ID: "1", BaseHash: base}
	h := syncstate.Ptr

	tests := []struct {
		name    string
		stored  *syncstate.PageState
		local   *string
		remote  *string
		markers bool
		want    Decision
	}{
		{"unknown and absent remotely", nil, h("x"), nil, false, DecisionSkip},
		{"gone remotely, clean local", stored, h(base), nil, false, DecisionDeleteLocal},
		{"gone remotely, no local file", stored, nil, nil, false, DecisionDeleteLocal},
		{"gone remotely, edited local", stored, h("edited"), nil, false, DecisionKeepLocal},
		{"new page", nil, nil, h("r"), false, DecisionPull},
		{"new page over existing file", nil, h("l"), h("r"), false, DecisionPull},
		{"local file deleted", stored, nil, h(base), false, DecisionPull},
		{"unchanged", stored, h(base), h(base), false, DecisionSkip},
		{"local edit", stored, h("l"), h(base), false, DecisionPush},
		{"remote edit", stored, h(base), h("r"), false, DecisionPull},
		{"both edited", stored, h("l"), h("r"), false, DecisionMerge},
		{"both converged", stored, h("same"), h("same"), false, DecisionSkip},
		{"markers block", stored, h("l"), h("r"), true, DecisionBlocked},
		{"markers block without remote edit", stored, h("l"), h(base), true, DecisionBlocked},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Decide(tt.stored, tt.local, tt.remote, tt.markers))
		})
	}
}

func TestDecision_String(t *testing.T) {
	assert.Equal(t, "skip", DecisionSkip.String())
	assert.Equal(t, "delete-local", DecisionDeleteLocal.String())
	assert.Equal(t, "keep-local", DecisionKeepLocal.String())
	assert.Equal(t, "decision(42)", Decision(42).String())
	assert.Equal(t, "decision(-1)", Decision(-1).String())
}

func TestDecision_MarshalsByName(t *testing.T) {
	data, err := json.Marshal(PageResult{PageID: "7", Decision: DecisionMerge, State: syncstate.Conflict})
	require.NoError(t, err)
	assert.JSONEq(t, `{"pageId":"7","path":"","decision":"merge","syncState":"conflict"}`, string(data))
}
