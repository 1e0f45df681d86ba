package wire

import (
	"errors"
	"testing"
)

func TestParseEnvelope(t *testing.T) {
	tests := []struct {
		name         string
		frame        string
		wantErr      bool
		wantEntries  int
		wantPayloads int
	}{
		{"single message", `{"messages":[{"data":"SGVsbG8="}]}`, false, 1, 1},
		{"multiple messages", `{"action":15,"messages":[{"data":"AQ=="},{"name":"x"},{"data":"Ag=="}]}`, false, 3, 2},
		{"heartbeat without messages", `{"action":0}`, false, 0, 0},
		{"messages not a list", `{"messages":{"data":"AQ=="}}`, false, 0, 0},
		{"numeric data ignored", `{"messages":[{"data":123}]}`, false, 1, 0},
		{"null data ignored", `{"messages":[{"data":null}]}`, false, 1, 0},
		{"object data ignored", `{"messages":[{"data":{"a":1}}]}`, false, 1, 0},
		{"non-object entry ignored", `{"messages":["AQ==", 5]}`, false, 2, 0},
		{"empty string data kept", `{"messages":[{"data":""}]}`, false, 1, 1},
		{"not json", `hello`, true, 0, 0},
		{"json array", `[1,2,3]`, true, 0, 0},
		{"truncated", `{"messages":[{"data":"AQ=="`, true, 0, 0},
		{"empty frame", ``, true, 0, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env, err := ParseEnvelope([]byte(tt.frame))
			if (err != nil) != tt.wantErr {
				t.Fatalf("ParseEnvelope() error = %v, wantErr %v", err, tt.wantErr)
			}
			if err != nil {
				if !errors.Is(err, ErrMalformedEnvelope) {
					t.Errorf("error %v should wrap ErrMalformedEnvelope", err)
				}
				return
			}
			if len(env.Messages) != tt.wantEntries {
				t.Errorf("entries = %d, want %d", len(env.Messages), tt.wantEntries)
			}
			if got := len(env.Payloads()); got != tt.wantPayloads {
				t.Errorf("payloads = %d, want %d", got, tt.wantPayloads)
			}
		})
	}
}

func TestParseEnvelopeKeepsOrder(t *testing.T) {
	env, err := ParseEnvelope([]byte(`{"messages":[{"data":"first"},{"data":"second"},{"data":"third"}]}`))
	if err != nil {
		t.Fatal(err)
	}
	want := []string{"first", "second", "third"}
	for i, e := range env.Payloads() {
		if e.Data != want[i] {
			t.Errorf("payload %d = %q, want %q", i, e.Data, want[i])
		}
	}
}

func TestDecodeEntry(t *testing.T) {
	tests := []struct {
		name    string
		entry   Entry
		want    string
		wantErr bool
	}{
		{"hello", Entry{Data: "SGVsbG8=", HasData: true}, "Hello", false},
		{"with newlines", Entry{Data: "SGVs\nbG8=", HasData: true}, "Hello", false},
		{"empty payload", Entry{Data: "", HasData: true}, "", false},
		{"invalid characters", Entry{Data: "!!not base64!!", HasData: true}, "", true},
		{"bad padding", Entry{Data: "SGVsbG8", HasData: true}, "", true},
		{"missing data", Entry{}, "", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := DecodeEntry(tt.entry)
			if (err != nil) != tt.wantErr {
				t.Fatalf("DecodeEntry() error = %v, wantErr %v", err, tt.wantErr)
			}
			if err != nil {
				if !errors.Is(err, ErrInvalidPayload) {
					t.Errorf("error %v should wrap ErrInvalidPayload", err)
				}
				return
			}
			if string(got) != tt.want {
				t.Errorf("DecodeEntry() = %q, want %q", got, tt.want)
			}
		})
	}
}
