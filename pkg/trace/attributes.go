package trace

import (
	"go.opentelemetry.io/otel/attribute"
)

// Common attribute keys used throughout the application
const (
	// Call attributes
	AttrTriggerID = "call.trigger_id"
	AttrCallID    = "call.carrier_id"
	AttrStage     = "call.stage"
	AttrLanguage  = "call.language"

	// Audio attributes
	AttrAudioSampleRate = "audio.sample_rate"
	AttrAudioDataSize   = "audio.data_size"

	// Speech service attributes
	AttrSTTProvider = "stt.provider"
	AttrTTSProvider = "tts.provider"
	AttrTTSVoice    = "tts.voice"

	// Error attributes
	AttrErrorType = "error.type"
)

// CallAttrs creates attributes identifying one call session
func CallAttrs(triggerID, callID string) []attribute.KeyValue {
	return []attribute.KeyValue{
		attribute.String(AttrTriggerID, triggerID),
		attribute.String(AttrCallID, callID),
	}
}

// StageAttrs creates attributes for a conversation stage transition
func StageAttrs(stage string) []attribute.KeyValue {
	return []attribute.KeyValue{
		attribute.String(AttrStage, stage),
	}
}

// AudioAttrs creates attributes for audio data
func AudioAttrs(sampleRate, dataSize int) []attribute.KeyValue {
	return []attribute.KeyValue{
		attribute.Int(AttrAudioSampleRate, sampleRate),
		attribute.Int(AttrAudioDataSize, dataSize),
	}
}
