package archive

import (
	"context"
	"errors"
	"io"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeS3 struct {
	puts []*s3.PutObjectInput
	body []byte
	err  error
}

func (f *fakeS3) PutObject(_ context.Context, in *s3.PutObjectInput, _ ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
	if f.err != nil {
		return nil, f.err
	}
	data, err := io.ReadAll(in.Body)
	if err != nil {
		return nil, err
	}
	f.puts = append(f.puts, in)
	f.body = data
	return &s3.PutObjectOutput{}, nil
}

func TestArchive_PutsUnderPrefix(t *testing.T) {
	fake := &fakeS3{}
	a := newS3Archiver(fake, "snapshots", "/store-1/")

	err := a.Archive(context.Background(), "consolidated/20240301T090000Z.json", []byte(`{"ok":true}`))
	require.NoError(t, err)

	require.Len(t, fake.puts, 1)
	assert.Equal(t, "snapshots", aws.ToString(fake.puts[0].Bucket))
	assert.Equal(t, "store-1/consolidated/20240301T090000Z.json", aws.ToString(fake.puts[0].Key))
	assert.Equal(t, "application/json", aws.ToString(fake.puts[0].ContentType))
	assert.Equal(t, int64(11), aws.ToInt64(fake.puts[0].ContentLength))
	assert.Equal(t, `{"ok":true}`, string(fake.body))
}

func TestArchive_NoPrefix(t *testing.T) {
	fake := &fakeS3{}
	a := newS3Archiver(fake, "snapshots", "")

	require.NoError(t, a.Archive(context.Background(), "a.json", []byte("{}")))
	assert.Equal(t, "a.json", aws.ToString(fake.puts[0].Key))
}

func TestArchive_WrapsError(t *testing.T) {
	cause := errors.New("access denied")
	a := newS3Archiver(&fakeS3{err: cause}, "snapshots", "p")

	err := a.Archive(context.Background(), "a.json", []byte("{}"))
	require.Error(t, err)
	assert.ErrorIs(t, err, cause)
	assert.Contains(t, err.Error(), "p/a.json")
}

func TestNewS3Archiver_RequiresBucket(t *testing.T) {
	_, err := NewS3Archiver(context.Background(), Config{})
	assert.Error(t, err)
}

func TestNewS3Archiver_StaticCredentials(t *testing.T) {
	a, err := NewS3Archiver(context.Background(), Config{
		Bucket:          "snapshots",
		Endpoint:        "http://127.0.0.1:9000",
		AccessKeyID:     "key",
		SecretAccessKey: "secret",
		UsePathStyle:    true,
		Prefix:          "edge",
	})
	require.NoError(t, err)
	assert.Equal(t, "edge/", a.prefix)
	assert.Equal(t, "snapshots", a.bucket)
}
