package settings

import (
	"reflect"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func global() Global {
	return Global{
		EndpointType: "openai",
		EndpointURL:  "https://api.openai.com/v1",
		ModelID:      "gpt-4o-mini",
		SystemPrompt: "You are helpful.",
		LMParameters: LMParameters{Temperature: Float(0.7), MaxTokens: Int(1024)},
	}
}

func TestResolveScalarPrecedence(t *testing.T) {
	group := &Overrides{ModelID: "llama3", EndpointType: "ollama"}
	chat := &Overrides{ModelID: "mistral"}

	r := Resolve(chat, group, global())
	assert.Equal(t, "ollama", r.EndpointType)
	assert.Equal(t, "mistral", r.ModelID)
	assert.Equal(t, "https://api.openai.com/v1", r.EndpointURL)
	assert.Equal(t, LevelGroup, r.Sources[FieldEndpointType])
	assert.Equal(t, LevelChat, r.Sources[FieldModelID])
	assert.Equal(t, LevelGlobal, r.Sources[FieldEndpointURL])
}

func TestResolveNilLevels(t *testing.T) {
	r := Resolve(nil, nil, global())
	assert.Equal(t, "gpt-4o-mini", r.ModelID)
	assert.Equal(t, []string{"You are helpful."}, r.SystemPromptMessages)
	assert.Equal(t, LevelGlobal, r.Sources[FieldSystemPrompt])

	r = Resolve(nil, nil, Global{})
	assert.Empty(t, r.SystemPromptMessages)
	assert.NotNil(t, r.SystemPromptMessages)
	assert.Equal(t, LevelNone, r.Sources[FieldModelID])
}

func TestResolveSystemPrompt(t *testing.T) {
	tests := []struct {
		name       string
		group      *SystemPrompt
		chat       *SystemPrompt
		want       []string
		wantSource Level
	}{
		{"inherit global", nil, nil, []string{"You are helpful."}, LevelGlobal},
		{"group override", &SystemPrompt{BehaviorOverride, "Be terse."}, nil, []string{"Be terse."}, LevelGroup},
		{"group override empty clears", &SystemPrompt{BehaviorOverride, ""}, nil, []string{}, LevelGroup},
		{"chat append", nil, &SystemPrompt{BehaviorAppend, "Use metric."}, []string{"You are helpful.", "Use metric."}, LevelChat},
		{"empty append is no-op", nil, &SystemPrompt{BehaviorAppend, ""}, []string{"You are helpful."}, LevelGlobal},
		{"group override then chat append", &SystemPrompt{BehaviorOverride, "Be terse."}, &SystemPrompt{BehaviorAppend, "Use metric."}, []string{"Be terse.", "Use metric."}, LevelChat},
		{"chat override wins over group append", &SystemPrompt{BehaviorAppend, "A"}, &SystemPrompt{BehaviorOverride, "B"}, []string{"B"}, LevelChat},
		{"cleared then appended", &SystemPrompt{BehaviorOverride, ""}, &SystemPrompt{BehaviorAppend, "Only me."}, []string{"Only me."}, LevelChat},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var group, chat *Overrides
			if tt.group != nil {
				group = &Overrides{SystemPrompt: tt.group}
			}
			if tt.chat != nil {
				chat = &Overrides{SystemPrompt: tt.chat}
			}
			r := Resolve(chat, group, global())
			assert.Equal(t, tt.want, r.SystemPromptMessages)
			assert.Equal(t, tt.wantSource, r.Sources[FieldSystemPrompt])
		})
	}
}

func TestResolveLMParametersPerField(t *testing.T) {
	group := &Overrides{LMParameters: &LMParameters{Temperature: Float(0.2), TopP: Float(0.9)}}
	chat := &Overrides{LMParameters: &LMParameters{Temperature: Float(1.1)}}

	r := Resolve(chat, group, global())
	require.NotNil(t, r.LMParameters.Temperature)
	assert.InDelta(t, 1.1, *r.LMParameters.Temperature, 1e-9)
	assert.InDelta(t, 0.9, *r.LMParameters.TopP, 1e-9)
	assert.Equal(t, 1024, *r.LMParameters.MaxTokens)
	assert.Equal(t, LevelChat, r.Sources[FieldTemperature])
	assert.Equal(t, LevelGroup, r.Sources[FieldTopP])
	assert.Equal(t, LevelGlobal, r.Sources[FieldMaxTokens])
}

func TestResolveCollapsedLevelsAgree(t *testing.T) {
	prompts := []*SystemPrompt{
		nil,
		{BehaviorOverride, "O"},
		{BehaviorOverride, ""},
		{BehaviorAppend, "A"},
		{BehaviorAppend, ""},
	}
	models := []string{"", "g-model", "c-model"}
	for _, gp := range prompts {
		for _, cp := range prompts {
			for _, gm := range models {
				for _, cm := range models {
					group := &Overrides{ModelID: gm, SystemPrompt: gp, LMParameters: &LMParameters{TopP: Float(0.5)}}
					chat := &Overrides{ModelID: cm, SystemPrompt: cp}
					merged, ok := Merge(group, chat)
					if !ok {
						continue
					}
					stepwise := Resolve(chat, group, global())
					collapsed := Resolve(merged, nil, global())
					if !reflect.DeepEqual(stepwise.SystemPromptMessages, collapsed.SystemPromptMessages) ||
						stepwise.ModelID != collapsed.ModelID ||
						*stepwise.LMParameters.TopP != *collapsed.LMParameters.TopP {
						t.Errorf("group=%+v chat=%+v: stepwise %+v != collapsed %+v", gp, cp, stepwise, collapsed)
					}
				}
			}
		}
	}
}

func TestMergeRejectsStackedAppend(t *testing.T) {
	_, ok := Merge(
		&Overrides{SystemPrompt: &SystemPrompt{BehaviorOverride, "base"}},
		&Overrides{SystemPrompt: &SystemPrompt{BehaviorAppend, "extra"}},
	)
	assert.False(t, ok)
}

func TestOverridesIsZero(t *testing.T) {
	var nilOverrides *Overrides
	assert.True(t, nilOverrides.IsZero())
	assert.True(t, (&Overrides{}).IsZero())
	assert.False(t, (&Overrides{ModelID: "x"}).IsZero())
}

func TestResolvedDoesNotAliasOverrides(t *testing.T) {
	chat := &Overrides{LMParameters: &LMParameters{Temperature: Float(0.2), MaxTokens: Int(64), Stop: []string{"END"}}}
	g := global()

	r := Resolve(chat, nil, g)
	*r.LMParameters.Temperature = 1.5
	*r.LMParameters.MaxTokens = 1
	r.LMParameters.Stop[0] = "changed"

	assert.Equal(t, 0.2, *chat.LMParameters.Temperature)
	assert.Equal(t, 64, *chat.LMParameters.MaxTokens)
	assert.Equal(t, []string{"END"}, chat.LMParameters.Stop)

	r = Resolve(nil, nil, g)
	*r.LMParameters.Temperature = 0
	assert.Equal(t, 0.7, *g.LMParameters.Temperature)
}

func TestMergeDoesNotAliasInputs(t *testing.T) {
	lower := &Overrides{LMParameters: &LMParameters{TopP: Float(0.9)}}
	higher := &Overrides{SystemPrompt: &SystemPrompt{Behavior: BehaviorOverride, Content: "x"}}

	merged, ok := Merge(lower, higher)
	require.True(t, ok)
	*merged.LMParameters.TopP = 0.1
	merged.SystemPrompt.Content = "y"

	assert.Equal(t, 0.9, *lower.LMParameters.TopP)
	assert.Equal(t, "x", higher.SystemPrompt.Content)
}

func TestLMParametersClone(t *testing.T) {
	p := LMParameters{Temperature: Float(0.5), Stop: []string{"a"}}
	c := p.Clone()
	require.True(t, reflect.DeepEqual(p, c))
	*c.Temperature = 1
	c.Stop[0] = "b"
	assert.Equal(t, 0.5, *p.Temperature)
	assert.Equal(t, "a", p.Stop[0])
}
