package cli

import (
	"context"

	"github.com/AllenNeuralDynamics/dynamicrouting-encoding-io/aws/s3"
	"github.com/AllenNeuralDynamics/dynamicrouting-encoding-io/lockfile"
)

// pushLock stores l at ref, which is either an s3:// URI or an OCI
// reference. It returns where the lock ended up.
func (a *App) pushLock(ctx context.Context, ref string, l *lockfile.Lock) (string, error) {
	if s3.IsURI(ref) {
		loc, err := s3.ParseURI(ref)
		if err != nil {
			return "", err
		}
		c, err := a.s3Client(ctx)
		if err != nil {
			return "", err
		}
		stored, err := c.PutLock(ctx, loc, l)
		if err != nil {
			return "", err
		}
		return stored.String(), nil
	}

	c, err := a.registryClient(ctx)
	if err != nil {
		return "", err
	}
	desc, err := c.PushLock(ctx, ref, l)
	if err != nil {
		return "", err
	}
	return ref + "@" + desc.Digest.String(), nil
}

// pullLock fetches the lock at ref.
func (a *App) pullLock(ctx context.Context, ref string) (*lockfile.Lock, error) {
	if s3.IsURI(ref) {
		loc, err := s3.ParseURI(ref)
		if err != nil {
			return nil, err
		}
		c, err := a.s3Client(ctx)
		if err != nil {
			return nil, err
		}
		return c.GetLock(ctx, loc)
	}

	c, err := a.registryClient(ctx)
	if err != nil {
		return nil, err
	}
	return c.PullLock(ctx, ref)
}

func (a *App) s3Client(ctx context.Context) (*s3.Client, error) {
	cfg := a.cfg.S3
	opts := []s3.Option{
		s3.WithRegion(cfg.Region),
		s3.WithEndpoint(cfg.Endpoint),
		s3.WithForcePathStyle(cfg.ForcePathStyle),
		s3.WithLogger(a.logger),
	}
	opts = append(opts, a.S3Options...)
	return s3.New(ctx, opts...)
}
