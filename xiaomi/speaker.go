package xiaomi

import (
	"context"
	"fmt"
	"strings"
)

//go:generate go run go.uber.org/mock/mockgen -source=speaker.go -destination=mock_invoker_test.go -package=xiaomi

// ActionInvoker executes remote device actions. *APIClient satisfies it;
// tests substitute a mock.
type ActionInvoker interface {
	ExecuteAction(ctx context.Context, action Action) (ActionResult, error)
}

// Speaker service/action/parameter ids for the intelligent-speaker
// service. These are the common values across current XiaoAI models;
// SpeakerOptions overrides them for models that deviate.
const (
	speakerSIID          = 5
	playTextAIID         = 1
	executeDirectiveAIID = 5
	textPIID             = 1
	silentExecutionPIID  = 3
)

// legacySpeakerModels are model-code fragments of older speakers whose
// type/model strings don't mention "speaker".
var legacySpeakerModels = []string{"s12", "lx06", "x08c"}

// IsSpeaker reports whether a device looks speaker-capable: its type or
// model mentions a speaker, or its model carries a known legacy code.
// The heuristic is fuzzy by nature; keep all matching policy here.
func IsSpeaker(device DeviceInfo) bool {
	typ := strings.ToLower(device.Type)
	model := strings.ToLower(device.Model)

	if strings.Contains(typ, "speaker") || strings.Contains(model, "speaker") || strings.Contains(model, "wifispeaker") {
		return true
	}
	for _, code := range legacySpeakerModels {
		if strings.Contains(model, code) {
			return true
		}
	}
	return false
}

// SpeakerOptions overrides the action schema ids for nonstandard models.
// Zero fields keep the defaults.
type SpeakerOptions struct {
	SIID                 int
	PlayTextAIID         int
	ExecuteDirectiveAIID int
	TextPIID             int
	SilentExecutionPIID  int
}

// Speaker drives one XiaoAI speaker through the action API. Construction
// fails immediately when the device is not speaker-capable; callers never
// hold a Speaker for a device that can't speak.
type Speaker struct {
	invoker ActionInvoker
	device  DeviceInfo
	opts    SpeakerOptions
}

// NewSpeaker validates the device against the speaker heuristic and
// returns a controller bound to it.
func NewSpeaker(invoker ActionInvoker, device DeviceInfo, opts *SpeakerOptions) (*Speaker, error) {
	if !IsSpeaker(device) {
		return nil, &SpeakerError{
			Did:     device.Did,
			Message: fmt.Sprintf("device %s (%s) is not a speaker, type: %s", device.Did, device.Model, device.Type),
		}
	}

	resolved := SpeakerOptions{
		SIID:                 speakerSIID,
		PlayTextAIID:         playTextAIID,
		ExecuteDirectiveAIID: executeDirectiveAIID,
		TextPIID:             textPIID,
		SilentExecutionPIID:  silentExecutionPIID,
	}
	if opts != nil {
		if opts.SIID != 0 {
			resolved.SIID = opts.SIID
		}
		if opts.PlayTextAIID != 0 {
			resolved.PlayTextAIID = opts.PlayTextAIID
		}
		if opts.ExecuteDirectiveAIID != 0 {
			resolved.ExecuteDirectiveAIID = opts.ExecuteDirectiveAIID
		}
		if opts.TextPIID != 0 {
			resolved.TextPIID = opts.TextPIID
		}
		if opts.SilentExecutionPIID != 0 {
			resolved.SilentExecutionPIID = opts.SilentExecutionPIID
		}
	}

	return &Speaker{invoker: invoker, device: device, opts: resolved}, nil
}

// Speak plays text aloud via the play-text action. Empty or
// whitespace-only text fails validation before any network call.
func (s *Speaker) Speak(ctx context.Context, text string) error {
	if strings.TrimSpace(text) == "" {
		return &SpeakerError{Did: s.device.Did, Message: "text cannot be empty"}
	}

	return s.invoke(ctx, s.opts.PlayTextAIID, []any{text})
}

// SendCommand simulates the text being spoken to the assistant via the
// execute-text-directive action. silent suppresses audible feedback.
func (s *Speaker) SendCommand(ctx context.Context, text string, silent bool) error {
	if strings.TrimSpace(text) == "" {
		return &SpeakerError{Did: s.device.Did, Message: "text cannot be empty"}
	}

	return s.invoke(ctx, s.opts.ExecuteDirectiveAIID, []any{text, silent})
}

// SendCommandSilently is SendCommand with audible feedback suppressed.
func (s *Speaker) SendCommandSilently(ctx context.Context, text string) error {
	return s.SendCommand(ctx, text, true)
}

func (s *Speaker) invoke(ctx context.Context, aiid int, in []any) error {
	result, err := s.invoker.ExecuteAction(ctx, Action{
		Did:  s.device.Did,
		SIID: s.opts.SIID,
		AIID: aiid,
		In:   in,
	})
	if err != nil {
		return err
	}

	if result.Code != 0 {
		return &SpeakerError{
			Did:     s.device.Did,
			Message: fmt.Sprintf("action failed with code %d", result.Code),
		}
	}

	return nil
}

// Device returns a copy of the bound device info.
func (s *Speaker) Device() DeviceInfo {
	return s.device
}

// Did returns the bound device id.
func (s *Speaker) Did() string {
	return s.device.Did
}

// Name returns the bound device name.
func (s *Speaker) Name() string {
	return s.device.Name
}

// Model returns the bound device model.
func (s *Speaker) Model() string {
	return s.device.Model
}

// Online reports the cached online state from discovery time.
func (s *Speaker) Online() bool {
	return s.device.Online
}
