// Package settings resolves endpoint, model, system prompt and sampling
// parameters through the global, group and chat levels.
package settings

// Behavior controls how a level's system prompt combines with the levels
// below it.
type Behavior string

const (
	BehaviorOverride Behavior = "override"
	BehaviorAppend   Behavior = "append"
)

// Level names where an effective value came from.
type Level string

const (
	LevelNone   Level = ""
	LevelGlobal Level = "global"
	LevelGroup  Level = "group"
	LevelChat   Level = "chat"
)

// Field names used as keys in Resolved.Sources.
const (
	FieldEndpointType     = "endpoint_type"
	FieldEndpointURL      = "endpoint_url"
	FieldModelID          = "model_id"
	FieldSystemPrompt     = "system_prompt"
	FieldTemperature      = "lm.temperature"
	FieldTopP             = "lm.top_p"
	FieldMaxTokens        = "lm.max_tokens"
	FieldFrequencyPenalty = "lm.frequency_penalty"
	FieldPresencePenalty  = "lm.presence_penalty"
	FieldStop             = "lm.stop"
)

// SystemPrompt is a group or chat level prompt instruction.
type SystemPrompt struct {
	Behavior Behavior `json:"behavior" yaml:"behavior"`
	Content  string   `json:"content" yaml:"content"`
}

// LMParameters are optional sampling parameters. A nil field is unset.
type LMParameters struct {
	Temperature      *float64 `json:"temperature,omitempty" yaml:"temperature,omitempty"`
	TopP             *float64 `json:"topP,omitempty" yaml:"top_p,omitempty"`
	MaxTokens        *int     `json:"maxTokens,omitempty" yaml:"max_tokens,omitempty"`
	FrequencyPenalty *float64 `json:"frequencyPenalty,omitempty" yaml:"frequency_penalty,omitempty"`
	PresencePenalty  *float64 `json:"presencePenalty,omitempty" yaml:"presence_penalty,omitempty"`
	Stop             []string `json:"stop,omitempty" yaml:"stop,omitempty"`
}

// Overrides is what a group or a chat may set on top of the global settings.
type Overrides struct {
	EndpointType string        `json:"endpointType,omitempty" yaml:"endpoint_type,omitempty"`
	EndpointURL  string        `json:"endpointUrl,omitempty" yaml:"endpoint_url,omitempty"`
	ModelID      string        `json:"modelId,omitempty" yaml:"model_id,omitempty"`
	SystemPrompt *SystemPrompt `json:"systemPrompt,omitempty" yaml:"system_prompt,omitempty"`
	LMParameters *LMParameters `json:"lmParameters,omitempty" yaml:"lm_parameters,omitempty"`
}

// IsZero reports whether o overrides nothing.
func (o *Overrides) IsZero() bool {
	return o == nil || (o.EndpointType == "" && o.EndpointURL == "" && o.ModelID == "" &&
		o.SystemPrompt == nil && o.LMParameters == nil)
}

// Global holds the application-wide defaults.
type Global struct {
	EndpointType string       `json:"endpointType" yaml:"endpoint_type"`
	EndpointURL  string       `json:"endpointUrl,omitempty" yaml:"endpoint_url,omitempty"`
	ModelID      string       `json:"modelId" yaml:"model_id"`
	SystemPrompt string       `json:"systemPrompt,omitempty" yaml:"system_prompt,omitempty"`
	LMParameters LMParameters `json:"lmParameters" yaml:"lm_parameters"`
	AutoTitle    bool         `json:"autoTitle" yaml:"auto_title"`
}

// Default returns the settings used when nothing has been saved yet.
func Default() Global {
	return Global{
		EndpointType: "echo",
		ModelID:      "echo",
		AutoTitle:    true,
	}
}

// Resolved is the effective configuration for one chat.
type Resolved struct {
	EndpointType         string           `json:"endpointType"`
	EndpointURL          string           `json:"endpointUrl"`
	ModelID              string           `json:"modelId"`
	SystemPromptMessages []string         `json:"systemPromptMessages"`
	LMParameters         LMParameters     `json:"lmParameters"`
	Sources              map[string]Level `json:"sources"`
}

// Resolve applies global, then group, then chat. Scalars take the most
// specific non-empty value. Either override may be nil.
func Resolve(chat, group *Overrides, global Global) Resolved {
	r := Resolved{
		SystemPromptMessages: []string{},
		Sources:              make(map[string]Level),
	}
	setString(&r, FieldEndpointType, &r.EndpointType, global.EndpointType, LevelGlobal)
	setString(&r, FieldEndpointURL, &r.EndpointURL, global.EndpointURL, LevelGlobal)
	setString(&r, FieldModelID, &r.ModelID, global.ModelID, LevelGlobal)
	if global.SystemPrompt != "" {
		r.SystemPromptMessages = []string{global.SystemPrompt}
		r.Sources[FieldSystemPrompt] = LevelGlobal
	}
	params := global.LMParameters
	r.mergeParams(&params, LevelGlobal)

	r.apply(group, LevelGroup)
	r.apply(chat, LevelChat)
	return r
}

func (r *Resolved) apply(o *Overrides, level Level) {
	if o == nil {
		return
	}
	setString(r, FieldEndpointType, &r.EndpointType, o.EndpointType, level)
	setString(r, FieldEndpointURL, &r.EndpointURL, o.EndpointURL, level)
	setString(r, FieldModelID, &r.ModelID, o.ModelID, level)
	if p := o.SystemPrompt; p != nil {
		switch p.Behavior {
		case BehaviorOverride:
			if p.Content == "" {
				r.SystemPromptMessages = []string{}
			} else {
				r.SystemPromptMessages = []string{p.Content}
			}
			r.Sources[FieldSystemPrompt] = level
		case BehaviorAppend:
			if p.Content != "" {
				r.SystemPromptMessages = append(r.SystemPromptMessages, p.Content)
				r.Sources[FieldSystemPrompt] = level
			}
		}
	}
	r.mergeParams(o.LMParameters, level)
}

func setString(r *Resolved, field string, dst *string, v string, level Level) {
	if v == "" {
		return
	}
	*dst = v
	r.Sources[field] = level
}

func (r *Resolved) mergeParams(p *LMParameters, level Level) {
	if p == nil {
		return
	}
	own := p.Clone()
	p = &own
	dst := &r.LMParameters
	if p.Temperature != nil {
		dst.Temperature = p.Temperature
		r.Sources[FieldTemperature] = level
	}
	if p.TopP != nil {
		dst.TopP = p.TopP
		r.Sources[FieldTopP] = level
	}
	if p.MaxTokens != nil {
		dst.MaxTokens = p.MaxTokens
		r.Sources[FieldMaxTokens] = level
	}
	if p.FrequencyPenalty != nil {
		dst.FrequencyPenalty = p.FrequencyPenalty
		r.Sources[FieldFrequencyPenalty] = level
	}
	if p.PresencePenalty != nil {
		dst.PresencePenalty = p.PresencePenalty
		r.Sources[FieldPresencePenalty] = level
	}
	if len(p.Stop) > 0 {
		dst.Stop = p.Stop
		r.Sources[FieldStop] = level
	}
}

// Merge collapses two override levels into one, with higher taking
// precedence. ok is false when both levels carry effective prompts and the
// higher one appends, which cannot be expressed as a single step.
func Merge(lower, higher *Overrides) (merged *Overrides, ok bool) {
	if lower == nil && higher == nil {
		return nil, true
	}
	out := &Overrides{}
	for _, o := range []*Overrides{lower, higher} {
		if o == nil {
			continue
		}
		if o.EndpointType != "" {
			out.EndpointType = o.EndpointType
		}
		if o.EndpointURL != "" {
			out.EndpointURL = o.EndpointURL
		}
		if o.ModelID != "" {
			out.ModelID = o.ModelID
		}
		if o.LMParameters != nil {
			if out.LMParameters == nil {
				out.LMParameters = &LMParameters{}
			}
			mergeInto(out.LMParameters, o.LMParameters)
		}
	}
	out.SystemPrompt, ok = mergePrompt(lower, higher)
	if out.SystemPrompt != nil {
		sp := *out.SystemPrompt
		out.SystemPrompt = &sp
	}
	return out, ok
}

func promptOf(o *Overrides) *SystemPrompt {
	if o == nil {
		return nil
	}
	p := o.SystemPrompt
	if p != nil && (p.Behavior == BehaviorOverride || (p.Behavior == BehaviorAppend && p.Content != "")) {
		return p
	}
	return nil
}

func mergePrompt(lower, higher *Overrides) (*SystemPrompt, bool) {
	lp, hp := promptOf(lower), promptOf(higher)
	switch {
	case hp == nil:
		return lp, true
	case lp == nil || hp.Behavior == BehaviorOverride:
		return hp, true
	default:
		return nil, false
	}
}

func mergeInto(dst, src *LMParameters) {
	own := src.Clone()
	src = &own
	if src.Temperature != nil {
		dst.Temperature = src.Temperature
	}
	if src.TopP != nil {
		dst.TopP = src.TopP
	}
	if src.MaxTokens != nil {
		dst.MaxTokens = src.MaxTokens
	}
	if src.FrequencyPenalty != nil {
		dst.FrequencyPenalty = src.FrequencyPenalty
	}
	if src.PresencePenalty != nil {
		dst.PresencePenalty = src.PresencePenalty
	}
	if len(src.Stop) > 0 {
		dst.Stop = src.Stop
	}
}

// Float returns a pointer to v, for building LMParameters literals.
// Clone returns a copy that shares no pointers or slices with p.
func (p LMParameters) Clone() LMParameters {
	c := p
	if p.Temperature != nil {
		c.Temperature = Float(*p.Temperature)
	}
	if p.TopP != nil {
		c.TopP = Float(*p.TopP)
	}
	if p.MaxTokens != nil {
		c.MaxTokens = Int(*p.MaxTokens)
	}
	if p.FrequencyPenalty != nil {
		c.FrequencyPenalty = Float(*p.FrequencyPenalty)
	}
	if p.PresencePenalty != nil {
		c.PresencePenalty = Float(*p.PresencePenalty)
	}
	if p.Stop != nil {
		c.Stop = append([]string(nil), p.Stop...)
	}
	return c
}

func Float(v float64) *float64 { return &v }

// Int returns a pointer to v.
func Int(v int) *int { return &v }
