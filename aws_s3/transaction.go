package aws_s3

import (
	"bytes"
	"context"
	"fmt"
	"io"
	log "log/slog"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"github.com/sharedcode/rowbatch"
	"github.com/sharedcode/rowbatch/encoding"
)

// lock is the content of the lock object.
type lock struct {
	Owner   rowbatch.UUID `json:"owner"`
	Expires time.Time     `json:"expires"`
}

// Begin creates the bucket's lock object with a conditional write. A lock held by another
// transaction is reported as a conflict so that RunInTransaction retries; an expired one is
// removed first. Relaxed transactions do not lock.
//
// Rollback releases the lock and does not undo the objects already written.
func (s *Store) Begin(ctx context.Context, options rowbatch.TransactionOptions) (rowbatch.Transaction, error) {
	if options.Relaxed {
		return &transaction{store: s}, nil
	}
	l := lock{Owner: rowbatch.NewUUID(), Expires: time.Now().Add(s.lockTTL)}
	ba, err := encoding.DefaultMarshaler.Marshal(l)
	if err != nil {
		return nil, err
	}
	_, err = s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(s.bucket),
		Key:         aws.String(lockKey),
		Body:        bytes.NewReader(ba),
		IfNoneMatch: aws.String("*"),
	})
	if err == nil {
		return &transaction{store: s, owner: l.Owner, locked: true}, nil
	}
	if !isPreconditionFailed(err) {
		return nil, err
	}
	held, etag, err := s.readLock(ctx)
	if err != nil && !isNotFound(err) {
		return nil, err
	}
	if err == nil && time.Now().After(held.Expires) {
		log.Warn(fmt.Sprintf("removing expired transaction lock of %v", held.Owner))
		if err := s.removeLock(ctx, etag); err != nil && !isPreconditionFailed(err) {
			return nil, err
		}
	}
	return nil, rowbatch.NewError(rowbatch.TransactionConflict, fmt.Errorf("bucket %s is locked by transaction %v", s.bucket, held.Owner), nil)
}

func (s *Store) readLock(ctx context.Context) (lock, string, error) {
	result, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(lockKey),
	})
	if err != nil {
		return lock{}, "", err
	}
	defer result.Body.Close()
	body, err := io.ReadAll(result.Body)
	if err != nil {
		return lock{}, "", err
	}
	var l lock
	if err := encoding.DefaultMarshaler.Unmarshal(body, &l); err != nil {
		return lock{}, "", err
	}
	return l, aws.ToString(result.ETag), nil
}

// removeLock deletes the lock object when it still has the given etag.
func (s *Store) removeLock(ctx context.Context, etag string) error {
	_, err := s.client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket:  aws.String(s.bucket),
		Key:     aws.String(lockKey),
		IfMatch: aws.String(etag),
	})
	return err
}

type transaction struct {
	store  *Store
	owner  rowbatch.UUID
	locked bool
}

// release removes the lock when this transaction still owns it and reports whether it did.
func (t *transaction) release(ctx context.Context) (bool, error) {
	t.locked = false
	held, etag, err := t.store.readLock(ctx)
	if isNotFound(err) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	if held.Owner != t.owner {
		return false, nil
	}
	if err := t.store.removeLock(ctx, etag); err != nil {
		if isPreconditionFailed(err) || isNotFound(err) {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

// Commit releases the lock. A lock that expired and was taken over fails the commit with a conflict.
func (t *transaction) Commit(ctx context.Context) error {
	if !t.locked {
		return nil
	}
	released, err := t.release(ctx)
	if err != nil {
		return err
	}
	if !released {
		return rowbatch.NewError(rowbatch.TransactionConflict, fmt.Errorf("transaction %v lost its lock before commit", t.owner), nil)
	}
	return nil
}

func (t *transaction) Rollback(ctx context.Context) error {
	if !t.locked {
		return nil
	}
	if _, err := t.release(ctx); err != nil {
		log.Warn(fmt.Sprintf("unlock on rollback failed, details: %v", err))
		return err
	}
	return nil
}
