package protocol

// Audio formats fixed by the protocol.
const (
	OutputSampleRate = 24000
	InputSampleRate  = 16000
	SampleSizeBits   = 16
	Channels         = 1

	mediaTypeText  = "text/plain"
	mediaTypeAudio = "audio/lpcm"
	encodingBase64 = "base64"
	audioTypeVoice = "SPEECH"
)

// SessionStartEvent builds the session-start frame.
func SessionStartEvent(cfg InferenceConfiguration) Event {
	return Event{SessionStart: &SessionStart{InferenceConfiguration: cfg}}
}

// PromptStartEvent builds the prompt-start frame with text and 24 kHz audio output.
func PromptStartEvent(promptName, voiceID string) Event {
	return Event{PromptStart: &PromptStart{
		PromptName:              promptName,
		TextOutputConfiguration: &TextConfiguration{MediaType: mediaTypeText},
		AudioOutputConfiguration: &AudioConfiguration{
			MediaType:       mediaTypeAudio,
			SampleRateHertz: OutputSampleRate,
			SampleSizeBits:  SampleSizeBits,
			ChannelCount:    Channels,
			VoiceID:         voiceID,
			Encoding:        encodingBase64,
			AudioType:       audioTypeVoice,
		},
	}}
}

// TextContentStartEvent opens a text content block for role.
func TextContentStartEvent(promptName, contentName string, role Role) Event {
	return Event{ContentStart: &ContentStart{
		PromptName:             promptName,
		ContentName:            contentName,
		Type:                   ContentText,
		Interactive:            true,
		Role:                   role,
		TextInputConfiguration: &TextConfiguration{MediaType: mediaTypeText},
	}}
}

// AudioContentStartEvent opens the USER audio input block at 16 kHz.
func AudioContentStartEvent(promptName, contentName string) Event {
	return Event{ContentStart: &ContentStart{
		PromptName:  promptName,
		ContentName: contentName,
		Type:        ContentAudio,
		Interactive: true,
		Role:        RoleUser,
		AudioInputConfiguration: &AudioConfiguration{
			MediaType:       mediaTypeAudio,
			SampleRateHertz: InputSampleRate,
			SampleSizeBits:  SampleSizeBits,
			ChannelCount:    Channels,
			Encoding:        encodingBase64,
			AudioType:       audioTypeVoice,
		},
	}}
}

// TextInputEvent carries text for an open text block.
func TextInputEvent(promptName, contentName, text string) Event {
	return Event{TextInput: &TextInput{PromptName: promptName, ContentName: contentName, Content: text}}
}

// AudioInputEvent carries one base64 chunk for the open audio block.
func AudioInputEvent(promptName, contentName, audioBase64 string) Event {
	return Event{AudioInput: &AudioInput{PromptName: promptName, ContentName: contentName, Content: audioBase64}}
}

// ContentEndEvent closes a content block.
func ContentEndEvent(promptName, contentName string) Event {
	return Event{ContentEnd: &ContentEnd{PromptName: promptName, ContentName: contentName}}
}

// PromptEndEvent closes the prompt.
func PromptEndEvent(promptName string) Event {
	return Event{PromptEnd: &PromptEnd{PromptName: promptName}}
}

// SessionEndEvent closes the session.
func SessionEndEvent() Event {
	return Event{SessionEnd: &SessionEnd{}}
}
