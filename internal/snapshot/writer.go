// Package snapshot persists recovery state for post-mortem analysis.
// Snapshots are written locally on every shutdown and optionally
// mirrored to an S3-compatible bucket (R2, MinIO).
package snapshot

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/rs/zerolog"
	"github.com/vmihailenco/msgpack/v5"

	"github.com/quantpulse/quantpulse/internal/orchestrator"
)

const (
	snapshotDir  = "snapshots"
	keepLocal    = 10
	uploadWindow = 30 * time.Second
)

// envelope wraps a recovery snapshot with write-time metadata.
type envelope struct {
	WrittenAt time.Time                     `msgpack:"written_at"`
	Hostname  string                        `msgpack:"hostname"`
	Checksum  string                        `msgpack:"checksum"`
	Snapshot  orchestrator.RecoverySnapshot `msgpack:"snapshot"`
}

// Uploader mirrors a serialized snapshot to remote storage.
type Uploader interface {
	Upload(ctx context.Context, key string, body []byte) error
}

// Writer persists recovery snapshots under dataDir/snapshots, pruning
// old files and mirroring to an optional uploader.
type Writer struct {
	dir      string
	uploader Uploader
	log      zerolog.Logger
}

// NewWriter creates a writer. uploader may be nil for local-only
// operation.
func NewWriter(dataDir string, uploader Uploader, log zerolog.Logger) (*Writer, error) {
	dir := filepath.Join(dataDir, snapshotDir)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create snapshot directory: %w", err)
	}
	return &Writer{
		dir:      dir,
		uploader: uploader,
		log:      log.With().Str("component", "snapshot").Logger(),
	}, nil
}

// Write serializes the snapshot, persists it locally, and mirrors it
// remotely when an uploader is configured. The upload is best-effort;
// a local write that succeeded is reported as success even if the
// mirror fails. Returns the local file path.
func (w *Writer) Write(ctx context.Context, snap orchestrator.RecoverySnapshot) (string, error) {
	hostname, _ := os.Hostname()

	body, err := msgpack.Marshal(snap)
	if err != nil {
		return "", fmt.Errorf("encode snapshot: %w", err)
	}
	sum := sha256.Sum256(body)

	env := envelope{
		WrittenAt: time.Now().UTC(),
		Hostname:  hostname,
		Checksum:  hex.EncodeToString(sum[:]),
		Snapshot:  snap,
	}
	payload, err := msgpack.Marshal(env)
	if err != nil {
		return "", fmt.Errorf("encode snapshot envelope: %w", err)
	}

	name := fmt.Sprintf("recovery-%s.msgpack", env.WrittenAt.Format("20060102-150405.000"))
	path := filepath.Join(w.dir, name)
	if err := os.WriteFile(path, payload, 0o644); err != nil {
		return "", fmt.Errorf("write snapshot file: %w", err)
	}

	w.log.Info().
		Str("path", path).
		Str("state", string(snap.State)).
		Int("error_count", snap.ErrorCount).
		Msg("recovery snapshot written")

	w.prune()

	if w.uploader != nil {
		uploadCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), uploadWindow)
		defer cancel()
		if err := w.uploader.Upload(uploadCtx, name, payload); err != nil {
			w.log.Warn().Err(err).Str("key", name).Msg("snapshot mirror upload failed")
		}
	}
	return path, nil
}

// Latest loads the most recent snapshot, or an error when none exist.
func (w *Writer) Latest() (orchestrator.RecoverySnapshot, error) {
	names, err := w.list()
	if err != nil {
		return orchestrator.RecoverySnapshot{}, err
	}
	if len(names) == 0 {
		return orchestrator.RecoverySnapshot{}, fmt.Errorf("no snapshots in %s", w.dir)
	}

	payload, err := os.ReadFile(filepath.Join(w.dir, names[len(names)-1]))
	if err != nil {
		return orchestrator.RecoverySnapshot{}, fmt.Errorf("read snapshot: %w", err)
	}

	var env envelope
	if err := msgpack.Unmarshal(payload, &env); err != nil {
		return orchestrator.RecoverySnapshot{}, fmt.Errorf("decode snapshot: %w", err)
	}

	body, err := msgpack.Marshal(env.Snapshot)
	if err == nil {
		sum := sha256.Sum256(body)
		if hex.EncodeToString(sum[:]) != env.Checksum {
			return orchestrator.RecoverySnapshot{}, fmt.Errorf("snapshot checksum mismatch")
		}
	}
	return env.Snapshot, nil
}

// list returns snapshot filenames sorted oldest first. The timestamped
// naming makes lexical order chronological.
func (w *Writer) list() ([]string, error) {
	entries, err := os.ReadDir(w.dir)
	if err != nil {
		return nil, fmt.Errorf("list snapshots: %w", err)
	}
	var names []string
	for _, e := range entries {
		if !e.IsDir() && strings.HasPrefix(e.Name(), "recovery-") {
			names = append(names, e.Name())
		}
	}
	sort.Strings(names)
	return names, nil
}

func (w *Writer) prune() {
	names, err := w.list()
	if err != nil {
		w.log.Warn().Err(err).Msg("snapshot prune skipped")
		return
	}
	for len(names) > keepLocal {
		if err := os.Remove(filepath.Join(w.dir, names[0])); err != nil {
			w.log.Warn().Err(err).Str("file", names[0]).Msg("snapshot prune failed")
			return
		}
		names = names[1:]
	}
}

// S3Uploader mirrors snapshots to an S3-compatible bucket.
type S3Uploader struct {
	uploader *manager.Uploader
	bucket   string
}

// NewS3Uploader builds an uploader against bucket. A non-empty endpoint
// overrides the AWS default, which is how R2 and MinIO are addressed.
func NewS3Uploader(ctx context.Context, bucket, endpoint string) (*S3Uploader, error) {
	cfg, err := awsconfig.LoadDefaultConfig(ctx)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}

	client := s3.NewFromConfig(cfg, func(o *s3.Options) {
		if endpoint != "" {
			o.BaseEndpoint = aws.String(endpoint)
			o.UsePathStyle = true
		}
	})
	return &S3Uploader{uploader: manager.NewUploader(client), bucket: bucket}, nil
}

// Upload writes one object under the snapshots/ prefix.
func (u *S3Uploader) Upload(ctx context.Context, key string, body []byte) error {
	_, err := u.uploader.Upload(ctx, &s3.PutObjectInput{
		Bucket: aws.String(u.bucket),
		Key:    aws.String("snapshots/" + key),
		Body:   bytes.NewReader(body),
	})
	if err != nil {
		return fmt.Errorf("upload %s: %w", key, err)
	}
	return nil
}
