// Package secrets resolves key material for the session cookie.
package secrets

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/ssm"

	"github.com/penthu-app/penthu-web/internal/xerrors"
)

// MinKeyLen is the shortest accepted signing key.
const MinKeyLen = 32

var ErrKeyTooShort = errors.New("secrets: key too short")

// GetParameterAPI is the slice of the SSM client needed here.
type GetParameterAPI interface {
	GetParameter(ctx context.Context, params *ssm.GetParameterInput, optFns ...func(*ssm.Options)) (*ssm.GetParameterOutput, error)
}

// SSMSource reads a key from an SSM parameter, normally a SecureString.
type SSMSource struct {
	api  GetParameterAPI
	name string
}

// NewSSMSource builds a source on the default AWS credential chain unless
// awsCfg is given.
func NewSSMSource(ctx context.Context, name string, awsCfg *aws.Config) (*SSMSource, error) {
	if name == "" {
		return nil, xerrors.New("secrets: SSM parameter name is required")
	}
	var cfg aws.Config
	if awsCfg != nil {
		cfg = *awsCfg
	} else {
		var err error
		cfg, err = config.LoadDefaultConfig(ctx)
		if err != nil {
			return nil, xerrors.Wrap(err, "load AWS config")
		}
	}
	return NewSSMSourceWithClient(ssm.NewFromConfig(cfg), name), nil
}

func NewSSMSourceWithClient(api GetParameterAPI, name string) *SSMSource {
	return &SSMSource{api: api, name: name}
}

// Key fetches and decodes the parameter value.
func (s *SSMSource) Key(ctx context.Context) ([]byte, error) {
	out, err := s.api.GetParameter(ctx, &ssm.GetParameterInput{
		Name:           aws.String(s.name),
		WithDecryption: aws.Bool(true),
	})
	if err != nil {
		return nil, xerrors.Wrapf(err, "get SSM parameter %s", s.name)
	}
	if out.Parameter == nil || out.Parameter.Value == nil {
		return nil, xerrors.Newf("SSM parameter %s has no value", s.name)
	}
	key, err := DecodeKey(*out.Parameter.Value)
	if err != nil {
		return nil, xerrors.Wrapf(err, "SSM parameter %s", s.name)
	}
	return key, nil
}

// DecodeKey accepts hex or standard/URL base64 and requires at least
// MinKeyLen decoded bytes.
func DecodeKey(s string) ([]byte, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil, xerrors.New("secrets: empty key")
	}

	var key []byte
	if b, err := hex.DecodeString(s); err == nil {
		key = b
	} else if b, err := base64.StdEncoding.DecodeString(s); err == nil {
		key = b
	} else if b, err := base64.RawURLEncoding.DecodeString(strings.TrimRight(s, "=")); err == nil {
		key = b
	} else {
		return nil, xerrors.New("secrets: key is neither hex nor base64")
	}

	if len(key) < MinKeyLen {
		return nil, fmt.Errorf("%w: %d bytes, need %d", ErrKeyTooShort, len(key), MinKeyLen)
	}
	return key, nil
}

// RandomKey returns n random bytes. Sessions signed with a random key do not
// survive a restart.
func RandomKey(n int) ([]byte, error) {
	b := make([]byte, n)
	if _, err := rand.Read(b); err != nil {
		return nil, xerrors.Wrap(err, "read random key")
	}
	return b, nil
}
