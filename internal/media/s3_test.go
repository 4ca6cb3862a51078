package media

import (
	"context"
	"errors"
	"io"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	v4 "github.com/aws/aws-sdk-go-v2/aws/signer/v4"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mapchat/syncd/internal/models"
)

type fakeS3 struct {
	puts    []*s3.PutObjectInput
	body    []byte
	putErr  error
	expires time.Duration
}

func (f *fakeS3) PutObject(_ context.Context, in *s3.PutObjectInput, _ ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
	if f.putErr != nil {
		return nil, f.putErr
	}
	f.puts = append(f.puts, in)
	f.body, _ = io.ReadAll(in.Body)
	return &s3.PutObjectOutput{}, nil
}

func (f *fakeS3) PresignGetObject(_ context.Context, in *s3.GetObjectInput, optFns ...func(*s3.PresignOptions)) (*v4.PresignedHTTPRequest, error) {
	var opts s3.PresignOptions
	for _, fn := range optFns {
		fn(&opts)
	}
	f.expires = opts.Expires
	return &v4.PresignedHTTPRequest{
		URL:    "https://" + aws.ToString(in.Bucket) + ".s3.amazonaws.com/" + aws.ToString(in.Key) + "?X-Amz-Signature=x",
		Method: http.MethodGet,
	}, nil
}

func TestS3Upload(t *testing.T) {
	ctx := context.Background()
	fixed := time.Date(2026, 3, 9, 12, 0, 0, 0, time.UTC)

	t.Run("presigned read url", func(t *testing.T) {
		fake := &fakeS3{}
		u := newS3Uploader(fake, fake, S3Config{Bucket: "chat-media", Prefix: "/media/"})
		u.now = func() time.Time { return fixed }

		url, err := u.Upload(ctx, []byte("jpeg-bytes"), models.MediaImage)
		require.NoError(t, err)
		require.Len(t, fake.puts, 1)

		key := aws.ToString(fake.puts[0].Key)
		assert.True(t, strings.HasPrefix(key, "media/image/2026/03/09/"), key)
		assert.Equal(t, "image/jpeg", aws.ToString(fake.puts[0].ContentType))
		assert.Equal(t, []byte("jpeg-bytes"), fake.body)
		assert.Contains(t, url, key)
		assert.Equal(t, DefaultURLExpiry, fake.expires)
	})

	t.Run("public base url", func(t *testing.T) {
		fake := &fakeS3{}
		u := newS3Uploader(fake, fake, S3Config{Bucket: "chat-media", PublicBaseURL: "https://cdn.example.com/m"})
		u.now = func() time.Time { return fixed }

		url, err := u.Upload(ctx, []byte("ogg"), models.MediaAudio)
		require.NoError(t, err)
		assert.True(t, strings.HasPrefix(url, "https://cdn.example.com/m/audio/2026/03/09/"), url)
		assert.Zero(t, fake.expires)
	})

	t.Run("empty payload", func(t *testing.T) {
		fake := &fakeS3{}
		u := newS3Uploader(fake, fake, S3Config{Bucket: "chat-media"})
		_, err := u.Upload(ctx, nil, models.MediaImage)
		assert.ErrorIs(t, err, ErrEmptyPayload)
		assert.Empty(t, fake.puts)
	})

	t.Run("put failure", func(t *testing.T) {
		boom := errors.New("access denied")
		fake := &fakeS3{putErr: boom}
		u := newS3Uploader(fake, fake, S3Config{Bucket: "chat-media"})
		_, err := u.Upload(ctx, []byte("x"), models.MediaVideo)
		assert.ErrorIs(t, err, boom)
	})
}

func TestDisabled(t *testing.T) {
	_, err := Disabled{}.Upload(context.Background(), []byte("x"), models.MediaImage)
	assert.ErrorIs(t, err, ErrNotConfigured)
}
