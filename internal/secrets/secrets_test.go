package secrets

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/ssm"
	"github.com/aws/aws-sdk-go-v2/service/ssm/types"
)

type fakeSSM struct {
	value *string
	err   error
	input *ssm.GetParameterInput
}

func (f *fakeSSM) GetParameter(_ context.Context, in *ssm.GetParameterInput, _ ...func(*ssm.Options)) (*ssm.GetParameterOutput, error) {
	f.input = in
	if f.err != nil {
		return nil, f.err
	}
	return &ssm.GetParameterOutput{Parameter: &types.Parameter{Value: f.value}}, nil
}

var key32 = bytes.Repeat([]byte{0xab}, 32)

func TestDecodeKey(t *testing.T) {
	tests := []struct {
		name    string
		in      string
		want    []byte
		wantErr bool
	}{
		{"hex", hex.EncodeToString(key32), key32, false},
		{"hex with whitespace", "  " + hex.EncodeToString(key32) + "\n", key32, false},
		{"base64", base64.StdEncoding.EncodeToString(key32), key32, false},
		{"base64 url raw", base64.RawURLEncoding.EncodeToString(key32), key32, false},
		{"empty", "", nil, true},
		{"garbage", "not a key!", nil, true},
		{"too short", hex.EncodeToString(key32[:16]), nil, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := DecodeKey(tt.in)
			if tt.wantErr {
				if err == nil {
					t.Fatalf("DecodeKey(%q) should fail", tt.in)
				}
				return
			}
			if err != nil {
				t.Fatalf("DecodeKey: %v", err)
			}
			if !bytes.Equal(got, tt.want) {
				t.Fatalf("got %x", got)
			}
		})
	}

	if _, err := DecodeKey(hex.EncodeToString(key32[:8])); !errors.Is(err, ErrKeyTooShort) {
		t.Fatalf("short key err = %v, want ErrKeyTooShort", err)
	}
}

func TestSSMSource_Key(t *testing.T) {
	f := &fakeSSM{value: aws.String(hex.EncodeToString(key32))}
	got, err := NewSSMSourceWithClient(f, "/penthu/session-key").Key(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(got, key32) {
		t.Fatalf("got %x", got)
	}
	if aws.ToString(f.input.Name) != "/penthu/session-key" || !aws.ToBool(f.input.WithDecryption) {
		t.Fatalf("input = %+v", f.input)
	}
}

func TestSSMSource_Errors(t *testing.T) {
	boom := errors.New("throttled")
	tests := []struct {
		name string
		f    *fakeSSM
	}{
		{"api error", &fakeSSM{err: boom}},
		{"nil value", &fakeSSM{}},
		{"bad value", &fakeSSM{value: aws.String("short")}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := NewSSMSourceWithClient(tt.f, "/p").Key(context.Background()); err == nil {
				t.Fatal("expected error")
			}
		})
	}

	_, err := NewSSMSourceWithClient(&fakeSSM{err: boom}, "/p").Key(context.Background())
	if !errors.Is(err, boom) {
		t.Fatalf("api error should be wrapped, got %v", err)
	}
}

func TestRandomKey(t *testing.T) {
	a, err := RandomKey(32)
	if err != nil || len(a) != 32 {
		t.Fatalf("len=%d err=%v", len(a), err)
	}
	b, _ := RandomKey(32)
	if bytes.Equal(a, b) {
		t.Fatal("two random keys should differ")
	}
}
