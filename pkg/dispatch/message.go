package dispatch

import "maps"

// Capability flags that every dispatched data block carries as true.
const (
	FlagAuthRequired                  = "authRequired"
	FlagCanForward                    = "canForward"
	FlagCanChangeResponsibleByManager = "canChangeResponsibleByManager"
	FlagCanReject                     = "canReject"

	FieldStatus     = "status"
	FieldStepNumber = "stepNumber"
)

// SoundOptions are optional platform sound/channel hints.
type SoundOptions struct {
	IOSSound         string `json:"iosSound,omitempty"`
	AndroidSound     string `json:"androidSound,omitempty"`
	AndroidChannelID string `json:"androidChannelId,omitempty"`
}

// Message is one notification addressed to one provider-issued address.
type Message struct {
	Address string
	Title   string
	Body    string
	Data    map[string]any
	Sound   *SoundOptions
}

// Validate reports missing required fields as an invalid_input *Error.
func (m Message) Validate() error {
	if m.Address == "" || m.Title == "" || m.Body == "" {
		return NewError(KindInvalidInput, "missing required notification parameters", map[string]bool{
			"address": m.Address == "",
			"title":   m.Title == "",
			"message": m.Body == "",
		})
	}
	return nil
}

// MergeData returns a copy of data with the four capability flags forced to
// true and status/stepNumber defaulted to 0/1 when absent. The input map is
// not modified.
func MergeData(data map[string]any) map[string]any {
	merged := make(map[string]any, len(data)+6)
	maps.Copy(merged, data)

	merged[FlagAuthRequired] = true
	merged[FlagCanForward] = true
	merged[FlagCanChangeResponsibleByManager] = true
	merged[FlagCanReject] = true

	if v, ok := merged[FieldStatus]; !ok || v == nil {
		merged[FieldStatus] = 0
	}
	if v, ok := merged[FieldStepNumber]; !ok || v == nil {
		merged[FieldStepNumber] = 1
	}
	return merged
}
