package s3

import (
	"bytes"
	"context"
	"io"
	"net/url"
	"path"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/aws/smithy-go"

	"github.com/AllenNeuralDynamics/dynamicrouting-encoding-io/errors"
	"github.com/AllenNeuralDynamics/dynamicrouting-encoding-io/lockfile"
)

// Scheme is the URI scheme for S3 locations.
const Scheme = "s3"

// ContentType is set on every stored lock.
const ContentType = "application/vnd.envbuild.lock.v1+yaml"

// Metadata keys stored with each object.
const (
	MetaBuildID        = "envbuild-build-id"
	MetaManifestDigest = "envbuild-manifest-digest"
)

// Location is a bucket and key.
type Location struct {
	Bucket string
	Key    string
}

func (l Location) String() string {
	return Scheme + "://" + l.Bucket + "/" + l.Key
}

// IsURI reports whether s is an s3:// URI.
func IsURI(s string) bool {
	return strings.HasPrefix(s, Scheme+"://")
}

// ParseURI parses s3://bucket/key. A key ending in "/" names a prefix;
// PutLock appends the lockfile name to it.
func ParseURI(s string) (Location, error) {
	u, err := url.Parse(s)
	if err != nil {
		return Location{}, errors.Wrapf(err, errors.CodeInvalidInput, "invalid S3 URI %q", s)
	}
	if u.Scheme != Scheme || u.Host == "" {
		return Location{}, errors.Newf(errors.CodeInvalidInput, "invalid S3 URI %q: want s3://bucket/key", s)
	}
	return Location{Bucket: u.Host, Key: strings.TrimPrefix(u.Path, "/")}, nil
}

// PutLock stores l at loc and returns the key written. An empty key or one
// ending in "/" stores the lock as <prefix><build id>/envbuild.lock.
func (c *Client) PutLock(ctx context.Context, loc Location, l *lockfile.Lock) (Location, error) {
	data, err := l.Marshal()
	if err != nil {
		return Location{}, err
	}
	if loc.Key == "" || strings.HasSuffix(loc.Key, "/") {
		loc.Key = path.Join(loc.Key, l.BuildID, lockfile.DefaultName)
	}

	_, err = c.api.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(loc.Bucket),
		Key:         aws.String(loc.Key),
		Body:        bytes.NewReader(data),
		ContentType: aws.String(ContentType),
		Metadata: map[string]string{
			MetaBuildID:        l.BuildID,
			MetaManifestDigest: l.ManifestDigest.String(),
		},
	})
	if err != nil {
		return Location{}, mapError(err, "put", loc)
	}
	c.logger.Info("stored lockfile", "location", loc.String(), "build_id", l.BuildID)
	return loc, nil
}

// GetLock reads and validates the lock at loc.
func (c *Client) GetLock(ctx context.Context, loc Location) (*lockfile.Lock, error) {
	out, err := c.api.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(loc.Bucket),
		Key:    aws.String(loc.Key),
	})
	if err != nil {
		return nil, mapError(err, "get", loc)
	}
	defer out.Body.Close()

	data, err := io.ReadAll(out.Body)
	if err != nil {
		return nil, errors.Wrapf(err, errors.CodeNetwork, "reading %s", loc)
	}
	return lockfile.Parse(data)
}

// ListLocks returns the keys under prefix that hold lockfiles.
func (c *Client) ListLocks(ctx context.Context, loc Location) ([]Location, error) {
	var found []Location
	p := s3.NewListObjectsV2Paginator(c.api, &s3.ListObjectsV2Input{
		Bucket: aws.String(loc.Bucket),
		Prefix: aws.String(loc.Key),
	})
	for p.HasMorePages() {
		page, err := p.NextPage(ctx)
		if err != nil {
			return nil, mapError(err, "list", loc)
		}
		for _, obj := range page.Contents {
			key := aws.ToString(obj.Key)
			if path.Base(key) == lockfile.DefaultName || strings.HasSuffix(key, ".lock") {
				found = append(found, Location{Bucket: loc.Bucket, Key: key})
			}
		}
	}
	return found, nil
}

func mapError(err error, op string, loc Location) error {
	ctx := map[string]interface{}{"bucket": loc.Bucket, "key": loc.Key}

	var noKey *types.NoSuchKey
	var noBucket *types.NoSuchBucket
	switch {
	case errors.As(err, &noKey):
		return errors.WrapWithContext(err, errors.CodeNotFound, op+" "+loc.String()+": no such key", ctx)
	case errors.As(err, &noBucket):
		return errors.WrapWithContext(err, errors.CodeNotFound, op+" "+loc.String()+": no such bucket", ctx)
	}

	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		switch apiErr.ErrorCode() {
		case "AccessDenied", "InvalidAccessKeyId", "SignatureDoesNotMatch", "ExpiredToken":
			return errors.WrapWithContext(err, errors.CodeUnauthorized, op+" "+loc.String()+": access denied", ctx)
		case "NotFound", "NoSuchKey", "NoSuchBucket":
			return errors.WrapWithContext(err, errors.CodeNotFound, op+" "+loc.String()+": not found", ctx)
		}
	}
	if errors.Is(err, context.Canceled) {
		return errors.WrapWithContext(err, errors.CodeCanceled, op+" "+loc.String()+" canceled", ctx)
	}
	return errors.WrapWithContext(err, errors.CodeNetwork, op+" "+loc.String()+" failed", ctx)
}
