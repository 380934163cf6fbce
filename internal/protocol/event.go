// Package protocol implements the typed event frames exchanged with the
// streaming speech-to-speech model and their JSON wire encoding.
package protocol

// Event names used on the wire.
const (
	NameSessionStart    = "sessionStart"
	NamePromptStart     = "promptStart"
	NameContentStart    = "contentStart"
	NameTextInput       = "textInput"
	NameAudioInput      = "audioInput"
	NameContentEnd      = "contentEnd"
	NamePromptEnd       = "promptEnd"
	NameSessionEnd      = "sessionEnd"
	NameTextOutput      = "textOutput"
	NameAudioOutput     = "audioOutput"
	NameCompletionStart = "completionStart"
	NameCompletionEnd   = "completionEnd"
)

// Role is the speaker announced by a content block.
type Role string

// Speaker roles.
const (
	RoleSystem    Role = "SYSTEM"
	RoleUser      Role = "USER"
	RoleAssistant Role = "ASSISTANT"
)

// ContentType is the media type of a content block.
type ContentType string

// Content block media types.
const (
	ContentText  ContentType = "TEXT"
	ContentAudio ContentType = "AUDIO"
)

// StageSpeculative is the generation stage that marks displayable assistant text.
const StageSpeculative = "SPECULATIVE"

// Event is one frame. Exactly one payload pointer is set; inbound frames with
// an unrecognized name carry only Unknown.
type Event struct {
	SessionStart    *SessionStart `json:"sessionStart,omitempty"`
	PromptStart     *PromptStart  `json:"promptStart,omitempty"`
	ContentStart    *ContentStart `json:"contentStart,omitempty"`
	TextInput       *TextInput    `json:"textInput,omitempty"`
	AudioInput      *AudioInput   `json:"audioInput,omitempty"`
	ContentEnd      *ContentEnd   `json:"contentEnd,omitempty"`
	PromptEnd       *PromptEnd    `json:"promptEnd,omitempty"`
	SessionEnd      *SessionEnd   `json:"sessionEnd,omitempty"`
	TextOutput      *TextOutput   `json:"textOutput,omitempty"`
	AudioOutput     *AudioOutput  `json:"audioOutput,omitempty"`
	CompletionStart *Completion   `json:"completionStart,omitempty"`
	CompletionEnd   *Completion   `json:"completionEnd,omitempty"`
	Unknown         string        `json:"-"`
}

// Name returns the wire name of the event, or "" for an empty event.
func (e Event) Name() string {
	switch {
	case e.SessionStart != nil:
		return NameSessionStart
	case e.PromptStart != nil:
		return NamePromptStart
	case e.ContentStart != nil:
		return NameContentStart
	case e.TextInput != nil:
		return NameTextInput
	case e.AudioInput != nil:
		return NameAudioInput
	case e.ContentEnd != nil:
		return NameContentEnd
	case e.PromptEnd != nil:
		return NamePromptEnd
	case e.SessionEnd != nil:
		return NameSessionEnd
	case e.TextOutput != nil:
		return NameTextOutput
	case e.AudioOutput != nil:
		return NameAudioOutput
	case e.CompletionStart != nil:
		return NameCompletionStart
	case e.CompletionEnd != nil:
		return NameCompletionEnd
	}
	return e.Unknown
}

func (e Event) payloadCount() int {
	n := 0
	for _, set := range []bool{
		e.SessionStart != nil, e.PromptStart != nil, e.ContentStart != nil,
		e.TextInput != nil, e.AudioInput != nil, e.ContentEnd != nil,
		e.PromptEnd != nil, e.SessionEnd != nil, e.TextOutput != nil,
		e.AudioOutput != nil, e.CompletionStart != nil, e.CompletionEnd != nil,
	} {
		if set {
			n++
		}
	}
	return n
}

// InferenceConfiguration holds sampling parameters for the session.
type InferenceConfiguration struct {
	MaxTokens   int     `json:"maxTokens"`
	TopP        float64 `json:"topP"`
	Temperature float64 `json:"temperature"`
}

// SessionStart opens a model session.
type SessionStart struct {
	InferenceConfiguration InferenceConfiguration `json:"inferenceConfiguration"`
}

// TextConfiguration describes a text channel.
type TextConfiguration struct {
	MediaType string `json:"mediaType"`
}

// AudioConfiguration describes an audio channel.
type AudioConfiguration struct {
	MediaType       string `json:"mediaType"`
	SampleRateHertz int    `json:"sampleRateHertz"`
	SampleSizeBits  int    `json:"sampleSizeBits"`
	ChannelCount    int    `json:"channelCount"`
	VoiceID         string `json:"voiceId,omitempty"`
	Encoding        string `json:"encoding"`
	AudioType       string `json:"audioType"`
}

// PromptStart opens a prompt and fixes the output media configuration.
type PromptStart struct {
	PromptName               string              `json:"promptName"`
	TextOutputConfiguration  *TextConfiguration  `json:"textOutputConfiguration,omitempty"`
	AudioOutputConfiguration *AudioConfiguration `json:"audioOutputConfiguration,omitempty"`
}

// ContentStart opens a content block. Inbound frames carry Role, Type and
// optionally AdditionalModelFields.
type ContentStart struct {
	PromptName              string              `json:"promptName,omitempty"`
	ContentName             string              `json:"contentName,omitempty"`
	ContentID               string              `json:"contentId,omitempty"`
	Type                    ContentType         `json:"type"`
	Interactive             bool                `json:"interactive,omitempty"`
	Role                    Role                `json:"role"`
	TextInputConfiguration  *TextConfiguration  `json:"textInputConfiguration,omitempty"`
	AudioInputConfiguration *AudioConfiguration `json:"audioInputConfiguration,omitempty"`
	AdditionalModelFields   string              `json:"additionalModelFields,omitempty"`
}

// TextInput carries text for an open text content block.
type TextInput struct {
	PromptName  string `json:"promptName"`
	ContentName string `json:"contentName"`
	Content     string `json:"content"`
}

// AudioInput carries one base64 audio chunk for an open audio content block.
type AudioInput struct {
	PromptName  string `json:"promptName"`
	ContentName string `json:"contentName"`
	Content     string `json:"content"`
}

// ContentEnd closes a content block.
type ContentEnd struct {
	PromptName  string `json:"promptName,omitempty"`
	ContentName string `json:"contentName,omitempty"`
	ContentID   string `json:"contentId,omitempty"`
	StopReason  string `json:"stopReason,omitempty"`
}

// PromptEnd closes a prompt.
type PromptEnd struct {
	PromptName string `json:"promptName"`
}

// SessionEnd closes the model session.
type SessionEnd struct{}

// TextOutput is model text: assistant speech text or the recognized user speech.
type TextOutput struct {
	ContentID string `json:"contentId,omitempty"`
	Role      Role   `json:"role,omitempty"`
	Content   string `json:"content"`
}

// AudioOutput is one base64 chunk of synthesized assistant audio.
type AudioOutput struct {
	ContentID string `json:"contentId,omitempty"`
	Content   string `json:"content"`
}

// Completion marks the start or end of one model completion.
type Completion struct {
	PromptName   string `json:"promptName,omitempty"`
	CompletionID string `json:"completionId,omitempty"`
	StopReason   string `json:"stopReason,omitempty"`
}
