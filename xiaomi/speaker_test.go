package xiaomi

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"
)

var speakerDevice = DeviceInfo{
	Did:      "spk-1",
	Model:    "xiaomi.wifispeaker.lx06",
	Name:     "Bedroom Speaker",
	Type:     "wifi-speaker",
	Online:   true,
	SpecType: "wifi-speaker",
}

// --- IsSpeaker ---

func TestIsSpeaker_TypeAndModelMatches(t *testing.T) {
	cases := []struct {
		name   string
		device DeviceInfo
		want   bool
	}{
		{"wifi-speaker type", DeviceInfo{Type: "wifi-speaker"}, true},
		{"speaker in type", DeviceInfo{Type: "Smart Speaker"}, true},
		{"wifispeaker in model", DeviceInfo{Model: "xiaomi.wifispeaker.x08e"}, true},
		{"legacy s12", DeviceInfo{Model: "xiaomi.tv.s12pro"}, true},
		{"legacy lx06", DeviceInfo{Model: "some.lx06"}, true},
		{"legacy x08c", DeviceInfo{Model: "some.x08c"}, true},
		{"light", DeviceInfo{Type: "light", Model: "yeelink.light.lamp1"}, false},
		{"router-ish", DeviceInfo{Type: "router", Model: "xiaomi.router.r4a"}, false},
		{"empty", DeviceInfo{}, false},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, IsSpeaker(tc.device))
		})
	}
}

// --- NewSpeaker ---

func TestNewSpeaker_RejectsNonSpeakerImmediately(t *testing.T) {
	ctrl := gomock.NewController(t)
	invoker := NewMockActionInvoker(ctrl)

	_, err := NewSpeaker(invoker, DeviceInfo{Did: "lamp-1", Type: "light", Model: "yeelink.light.lamp1"}, nil)
	require.Error(t, err)

	var speakerErr *SpeakerError
	require.ErrorAs(t, err, &speakerErr)
	assert.Equal(t, "lamp-1", speakerErr.Did)
}

func TestNewSpeaker_AcceptsSpeaker(t *testing.T) {
	ctrl := gomock.NewController(t)
	invoker := NewMockActionInvoker(ctrl)

	s, err := NewSpeaker(invoker, speakerDevice, nil)
	require.NoError(t, err)
	assert.Equal(t, "spk-1", s.Did())
	assert.Equal(t, "Bedroom Speaker", s.Name())
	assert.Equal(t, "xiaomi.wifispeaker.lx06", s.Model())
	assert.True(t, s.Online())
}

// --- Speak ---

func TestSpeak_InvokesPlayTextAction(t *testing.T) {
	ctrl := gomock.NewController(t)
	invoker := NewMockActionInvoker(ctrl)
	s, err := NewSpeaker(invoker, speakerDevice, nil)
	require.NoError(t, err)

	invoker.EXPECT().
		ExecuteAction(gomock.Any(), Action{Did: "spk-1", SIID: 5, AIID: 1, In: []any{"hello"}}).
		Return(ActionResult{Code: 0}, nil)

	require.NoError(t, s.Speak(context.Background(), "hello"))
}

func TestSpeak_EmptyTextFailsWithoutNetworkCall(t *testing.T) {
	ctrl := gomock.NewController(t)
	invoker := NewMockActionInvoker(ctrl)
	s, err := NewSpeaker(invoker, speakerDevice, nil)
	require.NoError(t, err)

	// No EXPECT calls registered: any invocation fails the test.
	err = s.Speak(context.Background(), "")
	require.Error(t, err)
	var speakerErr *SpeakerError
	assert.ErrorAs(t, err, &speakerErr)
}

func TestSpeak_WhitespaceTextFailsWithoutNetworkCall(t *testing.T) {
	ctrl := gomock.NewController(t)
	invoker := NewMockActionInvoker(ctrl)
	s, err := NewSpeaker(invoker, speakerDevice, nil)
	require.NoError(t, err)

	err = s.Speak(context.Background(), "   ")
	require.Error(t, err)
}

func TestSpeak_NonZeroResultCodeNamesDevice(t *testing.T) {
	ctrl := gomock.NewController(t)
	invoker := NewMockActionInvoker(ctrl)
	s, err := NewSpeaker(invoker, speakerDevice, nil)
	require.NoError(t, err)

	invoker.EXPECT().
		ExecuteAction(gomock.Any(), gomock.Any()).
		Return(ActionResult{Code: -4004}, nil)

	err = s.Speak(context.Background(), "hello")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "spk-1")
	assert.Contains(t, err.Error(), "-4004")
}

// --- SendCommand ---

func TestSendCommand_InvokesExecuteDirectiveAction(t *testing.T) {
	ctrl := gomock.NewController(t)
	invoker := NewMockActionInvoker(ctrl)
	s, err := NewSpeaker(invoker, speakerDevice, nil)
	require.NoError(t, err)

	invoker.EXPECT().
		ExecuteAction(gomock.Any(), Action{Did: "spk-1", SIID: 5, AIID: 5, In: []any{"turn on the lights", false}}).
		Return(ActionResult{Code: 0}, nil)

	require.NoError(t, s.SendCommand(context.Background(), "turn on the lights", false))
}

func TestSendCommandSilently_SetsSilentFlag(t *testing.T) {
	ctrl := gomock.NewController(t)
	invoker := NewMockActionInvoker(ctrl)
	s, err := NewSpeaker(invoker, speakerDevice, nil)
	require.NoError(t, err)

	invoker.EXPECT().
		ExecuteAction(gomock.Any(), Action{Did: "spk-1", SIID: 5, AIID: 5, In: []any{"pause", true}}).
		Return(ActionResult{Code: 0}, nil)

	require.NoError(t, s.SendCommandSilently(context.Background(), "pause"))
}

func TestSendCommand_EmptyTextFailsWithoutNetworkCall(t *testing.T) {
	ctrl := gomock.NewController(t)
	invoker := NewMockActionInvoker(ctrl)
	s, err := NewSpeaker(invoker, speakerDevice, nil)
	require.NoError(t, err)

	err = s.SendCommand(context.Background(), " ", true)
	require.Error(t, err)
}

// --- schema overrides ---

func TestNewSpeaker_SchemaOverrides(t *testing.T) {
	ctrl := gomock.NewController(t)
	invoker := NewMockActionInvoker(ctrl)

	s, err := NewSpeaker(invoker, speakerDevice, &SpeakerOptions{SIID: 7, PlayTextAIID: 3})
	require.NoError(t, err)

	invoker.EXPECT().
		ExecuteAction(gomock.Any(), Action{Did: "spk-1", SIID: 7, AIID: 3, In: []any{"hi"}}).
		Return(ActionResult{Code: 0}, nil)

	require.NoError(t, s.Speak(context.Background(), "hi"))
}

func TestSpeaker_PropagatesInvokerError(t *testing.T) {
	ctrl := gomock.NewController(t)
	invoker := NewMockActionInvoker(ctrl)
	s, err := NewSpeaker(invoker, speakerDevice, nil)
	require.NoError(t, err)

	invoker.EXPECT().
		ExecuteAction(gomock.Any(), gomock.Any()).
		Return(ActionResult{}, &APIError{Code: 503, Message: "upstream down"})

	err = s.Speak(context.Background(), "hello")
	require.Error(t, err)
	var apiErr *APIError
	assert.ErrorAs(t, err, &apiErr, "transport errors pass through untouched")
}
