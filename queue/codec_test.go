package queue_test

import (
	"testing"

	"github.com/xraph/conveyor/queue"
)

func TestCodecs(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name  string
		codec queue.Codec[invoice]
	}{
		{"json", queue.JSONCodec[invoice]{}},
		{"msgpack", queue.MsgpackCodec[invoice]{}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			in := invoice{Number: "INV-9", Cents: 99}

			data, err := tt.codec.Encode(in)
			if err != nil {
				t.Fatalf("Encode: %v", err)
			}
			out, err := tt.codec.Decode(data)
			if err != nil {
				t.Fatalf("Decode: %v", err)
			}
			if out != in {
				t.Fatalf("decoded %+v, want %+v", out, in)
			}

			if _, err := tt.codec.Decode([]byte{0xc1}); err == nil {
				t.Fatal("expected an error for garbage input")
			}
		})
	}
}
