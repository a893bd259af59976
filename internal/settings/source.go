package settings

import (
	"context"
	"io"
	"os"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/ssm"

	"github.com/keithlinneman/linnemanlabs-cdninv/internal/xerrors"
)

// MaxDocumentBytes caps the size of a settings document.
const MaxDocumentBytes = 1 << 20

// Source fetches the raw settings document.
type Source interface {
	Fetch(ctx context.Context) ([]byte, error)
	String() string
}

// ssmAPI is the subset of the SSM API used to read a parameter.
type ssmAPI interface {
	GetParameter(ctx context.Context, params *ssm.GetParameterInput, optFns ...func(*ssm.Options)) (*ssm.GetParameterOutput, error)
}

// s3API is the subset of the S3 API used to read an object.
type s3API interface {
	GetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
}

// FileSource reads settings from a local file.
type FileSource struct {
	Path string
}

func (f FileSource) Fetch(ctx context.Context) ([]byte, error) {
	fh, err := os.Open(f.Path)
	if err != nil {
		return nil, xerrors.Wrapf(err, "open settings file %s", f.Path)
	}
	defer fh.Close()
	return readLimited(fh, f.String())
}

func (f FileSource) String() string { return "file://" + f.Path }

// SSMSource reads settings from an SSM parameter (String or SecureString).
type SSMSource struct {
	client ssmAPI
	name   string
}

func NewSSMSource(client ssmAPI, name string) *SSMSource {
	return &SSMSource{client: client, name: name}
}

func (s *SSMSource) Fetch(ctx context.Context) ([]byte, error) {
	if s.client == nil {
		return nil, xerrors.New("ssm client is not configured")
	}
	out, err := s.client.GetParameter(ctx, &ssm.GetParameterInput{
		Name:           aws.String(s.name),
		WithDecryption: aws.Bool(true),
	})
	if err != nil {
		return nil, xerrors.Wrapf(err, "get SSM parameter %s", s.name)
	}
	if out.Parameter == nil || out.Parameter.Value == nil {
		return nil, xerrors.Newf("SSM parameter %s has no value", s.name)
	}
	v := *out.Parameter.Value
	if len(v) > MaxDocumentBytes {
		return nil, xerrors.Newf("SSM parameter %s exceeds %d bytes", s.name, MaxDocumentBytes)
	}
	return []byte(v), nil
}

func (s *SSMSource) String() string { return "ssm:" + s.name }

// S3Source reads settings from an S3 object.
type S3Source struct {
	client s3API
	bucket string
	key    string
}

func NewS3Source(client s3API, bucket, key string) *S3Source {
	return &S3Source{client: client, bucket: bucket, key: key}
}

func (s *S3Source) Fetch(ctx context.Context) ([]byte, error) {
	if s.client == nil {
		return nil, xerrors.New("s3 client is not configured")
	}
	out, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(s.key),
	})
	if err != nil {
		return nil, xerrors.Wrapf(err, "get S3 object %s", s.String())
	}
	defer out.Body.Close()
	return readLimited(out.Body, s.String())
}

func (s *S3Source) String() string { return "s3://" + s.bucket + "/" + s.key }

func readLimited(r io.Reader, name string) ([]byte, error) {
	data, err := io.ReadAll(io.LimitReader(r, MaxDocumentBytes+1))
	if err != nil {
		return nil, xerrors.Wrapf(err, "read %s", name)
	}
	if len(data) > MaxDocumentBytes {
		return nil, xerrors.Newf("%s exceeds %d bytes", name, MaxDocumentBytes)
	}
	return data, nil
}

// Clients carries the AWS clients remote sources may need. Either may be
// nil when the corresponding scheme is not used.
type Clients struct {
	SSM ssmAPI
	S3  s3API
}

// NewSource builds a Source from a location string:
//
//	/etc/cdninv/settings.yaml       local file
//	file:///etc/cdninv/settings.yaml
//	ssm:/app/cdninv/settings        SSM parameter name
//	s3://bucket/path/settings.yaml  S3 object
func NewSource(loc string, c Clients) (Source, error) {
	loc = strings.TrimSpace(loc)
	switch {
	case loc == "":
		return nil, xerrors.New("settings source is empty")
	case strings.HasPrefix(loc, "ssm:"):
		name := strings.TrimPrefix(loc, "ssm:")
		if name == "" {
			return nil, xerrors.Newf("settings source %q has no parameter name", loc)
		}
		if c.SSM == nil {
			return nil, xerrors.Newf("settings source %q requires an SSM client", loc)
		}
		return NewSSMSource(c.SSM, name), nil
	case strings.HasPrefix(loc, "s3://"):
		rest := strings.TrimPrefix(loc, "s3://")
		bucket, key, ok := strings.Cut(rest, "/")
		if !ok || bucket == "" || key == "" {
			return nil, xerrors.Newf("settings source %q must be s3://bucket/key", loc)
		}
		if c.S3 == nil {
			return nil, xerrors.Newf("settings source %q requires an S3 client", loc)
		}
		return NewS3Source(c.S3, bucket, key), nil
	case strings.HasPrefix(loc, "file://"):
		p := strings.TrimPrefix(loc, "file://")
		if p == "" {
			return nil, xerrors.Newf("settings source %q has no path", loc)
		}
		return FileSource{Path: p}, nil
	case strings.Contains(loc, "://"):
		return nil, xerrors.Newf("unsupported settings source scheme in %q", loc)
	default:
		return FileSource{Path: loc}, nil
	}
}

// IsRemote reports whether loc refers to an AWS-backed source.
func IsRemote(loc string) bool {
	loc = strings.TrimSpace(loc)
	return strings.HasPrefix(loc, "ssm:") || strings.HasPrefix(loc, "s3://")
}
