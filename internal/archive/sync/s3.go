package sync

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"mime"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	smithy "github.com/aws/smithy-go"
)

// S3Client is the subset of *s3.Client this provider calls, so tests can
// supply a fake.
type S3Client interface {
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
	GetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
	DeleteObject(ctx context.Context, params *s3.DeleteObjectInput, optFns ...func(*s3.Options)) (*s3.DeleteObjectOutput, error)
	ListObjectsV2(ctx context.Context, params *s3.ListObjectsV2Input, optFns ...func(*s3.Options)) (*s3.ListObjectsV2Output, error)
	HeadBucket(ctx context.Context, params *s3.HeadBucketInput, optFns ...func(*s3.Options)) (*s3.HeadBucketOutput, error)
}

// S3Config configures an S3Provider.
type S3Config struct {
	Bucket           string
	KeyPrefix        string // remote prefix every object is stored under
	PreserveStructure bool
	ConflictStrategy ConflictStrategy
}

// S3Provider syncs a local subtree to an S3-compatible bucket. Grounded on
// original_source/archive/sync/google_drive.py's GoogleDriveSync.sync
// (walk local files, upload each, accumulate a Result), with Drive's
// folder-object model replaced by S3's flat key-prefix namespace.
type S3Provider struct {
	client S3Client
	cfg    S3Config
}

// NewS3Provider returns a Provider backed by client.
func NewS3Provider(client S3Client, cfg S3Config) *S3Provider {
	return &S3Provider{client: client, cfg: cfg}
}

func (p *S3Provider) remoteKey(relPath string) string {
	relPath = filepath.ToSlash(relPath)
	if p.cfg.KeyPrefix == "" {
		return relPath
	}
	return strings.TrimSuffix(p.cfg.KeyPrefix, "/") + "/" + relPath
}

// Sync uploads every regular file under localSubtree to the bucket,
// preserving relative paths under KeyPrefix.
func (p *S3Provider) Sync(ctx context.Context, localSubtree string) (Result, error) {
	result := Result{Status: StatusInProgress, StartedAt: time.Now().UTC()}

	err := filepath.WalkDir(localSubtree, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return nil
			}
			return err
		}
		if d.IsDir() {
			return nil
		}

		rel, relErr := filepath.Rel(localSubtree, path)
		if relErr != nil {
			return relErr
		}

		data, readErr := os.ReadFile(path)
		if readErr != nil {
			result.FilesFailed++
			result.Errors = append(result.Errors, fmt.Sprintf("%s: %v", rel, readErr))
			return nil
		}

		key := p.remoteKey(rel)
		contentType := mime.TypeByExtension(filepath.Ext(path))
		if contentType == "" {
			contentType = "application/octet-stream"
		}

		_, putErr := p.client.PutObject(ctx, &s3.PutObjectInput{
			Bucket:      aws.String(p.cfg.Bucket),
			Key:         aws.String(key),
			Body:        newReaderAt(data),
			ContentType: aws.String(contentType),
		})
		if putErr != nil {
			result.FilesFailed++
			result.Errors = append(result.Errors, fmt.Sprintf("%s: %v", rel, putErr))
			return nil
		}

		result.FilesSynced++
		result.BytesUploaded += int64(len(data))
		return nil
	})

	result.CompletedAt = time.Now().UTC()
	if err != nil {
		result.Status = StatusFailed
		result.Errors = append(result.Errors, err.Error())
		return result, err
	}
	if result.FilesFailed == 0 {
		result.Status = StatusSuccess
	} else {
		result.Status = StatusPartial
	}
	return result, nil
}

// Download fetches one remote object to localPath.
func (p *S3Provider) Download(ctx context.Context, remotePath, localPath string) error {
	out, err := p.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(p.cfg.Bucket),
		Key:    aws.String(p.remoteKey(remotePath)),
	})
	if err != nil {
		return fmt.Errorf("s3 get object %s: %w", remotePath, err)
	}
	defer out.Body.Close()

	if err := os.MkdirAll(filepath.Dir(localPath), 0o755); err != nil {
		return fmt.Errorf("create local directory: %w", err)
	}
	f, err := os.Create(localPath)
	if err != nil {
		return fmt.Errorf("create local file: %w", err)
	}
	defer f.Close()

	if _, err := io.Copy(f, out.Body); err != nil {
		return fmt.Errorf("write local file: %w", err)
	}
	return nil
}

// Delete removes one remote object.
func (p *S3Provider) Delete(ctx context.Context, remotePath string) error {
	_, err := p.client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(p.cfg.Bucket),
		Key:    aws.String(p.remoteKey(remotePath)),
	})
	if err != nil {
		return fmt.Errorf("s3 delete object %s: %w", remotePath, err)
	}
	return nil
}

// List enumerates every object under remotePrefix.
func (p *S3Provider) List(ctx context.Context, remotePrefix string) ([]FileInfo, error) {
	var files []FileInfo
	var token *string
	prefix := p.remoteKey(remotePrefix)

	for {
		out, err := p.client.ListObjectsV2(ctx, &s3.ListObjectsV2Input{
			Bucket:            aws.String(p.cfg.Bucket),
			Prefix:            aws.String(prefix),
			ContinuationToken: token,
		})
		if err != nil {
			return nil, fmt.Errorf("s3 list objects %s: %w", remotePrefix, err)
		}
		for _, obj := range out.Contents {
			fi := FileInfo{Key: aws.ToString(obj.Key)}
			if obj.Size != nil {
				fi.Size = *obj.Size
			}
			if obj.LastModified != nil {
				fi.ModifiedAt = *obj.LastModified
			}
			files = append(files, fi)
		}
		if out.NextContinuationToken == nil {
			break
		}
		token = out.NextContinuationToken
	}
	return files, nil
}

// Status checks bucket reachability.
func (p *S3Provider) Status(ctx context.Context) (StatusInfo, error) {
	_, err := p.client.HeadBucket(ctx, &s3.HeadBucketInput{Bucket: aws.String(p.cfg.Bucket)})
	if err != nil {
		var apiErr smithy.APIError
		msg := err.Error()
		if errors.As(err, &apiErr) {
			msg = apiErr.ErrorMessage()
		}
		return StatusInfo{Provider: "s3", Enabled: true, Error: msg}, nil
	}
	return StatusInfo{Provider: "s3", Enabled: true}, nil
}

// newReaderAt wraps data in the in-memory ReadSeeker the SDK's PutObject
// body requires.
func newReaderAt(data []byte) *s3ReadSeeker {
	return &s3ReadSeeker{data: data}
}

type s3ReadSeeker struct {
	data []byte
	pos  int64
}

func (r *s3ReadSeeker) Read(p []byte) (int, error) {
	if r.pos >= int64(len(r.data)) {
		return 0, io.EOF
	}
	n := copy(p, r.data[r.pos:])
	r.pos += int64(n)
	return n, nil
}

func (r *s3ReadSeeker) Seek(offset int64, whence int) (int64, error) {
	var abs int64
	switch whence {
	case io.SeekStart:
		abs = offset
	case io.SeekCurrent:
		abs = r.pos + offset
	case io.SeekEnd:
		abs = int64(len(r.data)) + offset
	default:
		return 0, fmt.Errorf("invalid whence")
	}
	if abs < 0 {
		return 0, fmt.Errorf("negative position")
	}
	r.pos = abs
	return abs, nil
}
