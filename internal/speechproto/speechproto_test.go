package speechproto_test

import (
	"testing"

	"github.com/rokid/voiceclient/internal/options"
	"github.com/rokid/voiceclient/internal/speechproto"
)

func TestToWireMessageResolvesDefaultsWhenUnset(t *testing.T) {
	wm, err := speechproto.ToWireMessage(speechproto.SessionRequest{ID: 1, Kind: speechproto.RequestVoiceStart})
	if err != nil {
		t.Fatalf("ToWireMessage: %v", err)
	}
	if wm.Lang != speechproto.DefaultLang || wm.Codec != speechproto.DefaultCodec {
		t.Fatalf("defaults not applied: lang=%q codec=%q", wm.Lang, wm.Codec)
	}
	if wm.Type != "START" {
		t.Fatalf("Type = %q, want START", wm.Type)
	}
}

func TestToWireMessageKeepsExplicitLangAndCodec(t *testing.T) {
	wm, err := speechproto.ToWireMessage(speechproto.SessionRequest{
		ID: 1, Kind: speechproto.RequestText, Lang: "en", Codec: "opus",
	})
	if err != nil {
		t.Fatalf("ToWireMessage: %v", err)
	}
	if wm.Lang != "en" || wm.Codec != "opus" {
		t.Fatalf("explicit values overridden: lang=%q codec=%q", wm.Lang, wm.Codec)
	}
}

func TestToWireMessageTextCarriesPayloadAsASRAndOptions(t *testing.T) {
	opts := options.New()
	opts.Set("k", "v")
	wm, err := speechproto.ToWireMessage(speechproto.SessionRequest{
		ID: 7, Kind: speechproto.RequestText, Payload: []byte("hello"), Options: opts,
	})
	if err != nil {
		t.Fatalf("ToWireMessage: %v", err)
	}
	if wm.ASR != "hello" {
		t.Fatalf("ASR = %q, want hello", wm.ASR)
	}
	if wm.FrameworkOptions != `{"k":"v"}` {
		t.Fatalf("FrameworkOptions = %q", wm.FrameworkOptions)
	}
}

func TestToWireMessageVoiceStartCarriesOptionsNotPayload(t *testing.T) {
	opts := options.New()
	opts.Set("stack", "app1")
	wm, err := speechproto.ToWireMessage(speechproto.SessionRequest{
		ID: 2, Kind: speechproto.RequestVoiceStart, Payload: []byte("ignored"), Options: opts,
	})
	if err != nil {
		t.Fatalf("ToWireMessage: %v", err)
	}
	if len(wm.Voice) != 0 {
		t.Fatalf("Voice = %v, want empty for START", wm.Voice)
	}
	if wm.FrameworkOptions != `{"stack":"app1"}` {
		t.Fatalf("FrameworkOptions = %q", wm.FrameworkOptions)
	}
}

func TestToWireMessageVoiceDataCarriesPayloadAsVoiceBytes(t *testing.T) {
	wm, err := speechproto.ToWireMessage(speechproto.SessionRequest{
		ID: 3, Kind: speechproto.RequestVoiceData, Payload: []byte{1, 2, 3},
	})
	if err != nil {
		t.Fatalf("ToWireMessage: %v", err)
	}
	if string(wm.Voice) != string([]byte{1, 2, 3}) {
		t.Fatalf("Voice = %v", wm.Voice)
	}
	if wm.ASR != "" || wm.FrameworkOptions != "" {
		t.Fatalf("unexpected non-voice fields set: %+v", wm)
	}
}

func TestToWireMessageVoiceEndHasNoPayload(t *testing.T) {
	wm, err := speechproto.ToWireMessage(speechproto.SessionRequest{ID: 4, Kind: speechproto.RequestVoiceEnd})
	if err != nil {
		t.Fatalf("ToWireMessage: %v", err)
	}
	if wm.Type != "END" || len(wm.Voice) != 0 || wm.ASR != "" {
		t.Fatalf("unexpected fields on END: %+v", wm)
	}
}

func TestToWireMessageNilOptionsLeavesFrameworkOptionsEmpty(t *testing.T) {
	wm, err := speechproto.ToWireMessage(speechproto.SessionRequest{ID: 5, Kind: speechproto.RequestVoiceStart})
	if err != nil {
		t.Fatalf("ToWireMessage: %v", err)
	}
	if wm.FrameworkOptions != "" {
		t.Fatalf("FrameworkOptions = %q, want empty", wm.FrameworkOptions)
	}
}

func TestRequestKindWireTypeCoversAllKinds(t *testing.T) {
	cases := map[speechproto.RequestKind]string{
		speechproto.RequestText:       "TEXT",
		speechproto.RequestVoiceStart: "START",
		speechproto.RequestVoiceData:  "VOICE",
		speechproto.RequestVoiceEnd:   "END",
		speechproto.RequestCancelled:  "CANCEL",
	}
	for kind, want := range cases {
		wm, err := speechproto.ToWireMessage(speechproto.SessionRequest{ID: 1, Kind: kind})
		if err != nil {
			t.Fatalf("ToWireMessage(%v): %v", kind, err)
		}
		if wm.Type != want {
			t.Errorf("kind %v: Type = %q, want %q", kind, wm.Type, want)
		}
	}
}
