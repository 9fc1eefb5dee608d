// Package fs provides a filesystem-backed mailbox vendor built on the afs
// abstraction, so mailboxes can live on local disk or any supported object
// store.  Messages are JSON files moved between pending, processing and
// dead-letter directories; the vendor is meant for embedders that need
// mailbox contents to survive a runtime restart, not for the hot path.
package fs

import (
	"bytes"
	"context"
	"fmt"
	"path"
	"strings"
	"sync"

	"github.com/sugawarayuuta/sonnet"
	"github.com/viant/afs"
	"github.com/viant/afs/file"
	"github.com/viant/afs/storage"

	"github.com/lwproc/lwproc/internal/clock"
	"github.com/lwproc/lwproc/internal/idgen"
	"github.com/lwproc/lwproc/model/process"
	"github.com/lwproc/lwproc/service/mailbox"
)

// Config holds configuration for the filesystem mailbox vendor.
type Config struct {
	// BaseURL is the root location; every pid gets a subdirectory under it.
	BaseURL string
	// MaxRetries bounds how often a nacked message is re-offered before it
	// moves to the dead-letter directory.
	MaxRetries int
}

// DefaultConfig returns a default filesystem mailbox configuration.
func DefaultConfig() Config {
	return Config{
		BaseURL:    "/tmp/lwproc/mailbox",
		MaxRetries: 3,
	}
}

// Message implements mailbox.Message for the filesystem queue.
type Message struct {
	Data    mailbox.Envelope `json:"data"`
	Retries int              `json:"retries"`

	name      string
	queue     *Queue
	processed bool
	mu        sync.Mutex
}

// Envelope returns the message payload.
func (m *Message) Envelope() *mailbox.Envelope { return &m.Data }

// Ack deletes the message from the processing directory.
func (m *Message) Ack() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.processed {
		return fmt.Errorf("message already processed")
	}
	m.processed = true
	return m.queue.remove(context.Background(), m.queue.processingDir, m.name)
}

// Nack re-offers the message, or dead-letters it past the retry limit.
func (m *Message) Nack(err error) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.processed {
		return fmt.Errorf("message already processed")
	}
	m.processed = true
	m.Retries++
	dir := m.queue.pendingDir
	if m.Retries > m.queue.config.MaxRetries {
		dir = m.queue.dlqDir
	}
	if err := m.queue.write(context.Background(), dir, m.name, m); err != nil {
		return err
	}
	return m.queue.remove(context.Background(), m.queue.processingDir, m.name)
}

// Queue implements a filesystem-based mailbox.Queue for one pid.
type Queue struct {
	owner         process.PID
	fs            afs.Service
	config        Config
	pendingDir    string
	processingDir string
	dlqDir        string
	mu            sync.Mutex
}

// NewQueue creates the mailbox directory layout for one pid.
func NewQueue(owner process.PID, service afs.Service, config Config) (*Queue, error) {
	if config.BaseURL == "" {
		return nil, fmt.Errorf("fs mailbox: base URL cannot be empty")
	}
	base := path.Join(config.BaseURL, fmt.Sprintf("%d", owner))
	q := &Queue{
		owner:         owner,
		fs:            service,
		config:        config,
		pendingDir:    path.Join(base, "pending"),
		processingDir: path.Join(base, "processing"),
		dlqDir:        path.Join(base, "dlq"),
	}
	ctx := context.Background()
	for _, dir := range []string{q.pendingDir, q.processingDir, q.dlqDir} {
		if exists, _ := service.Exists(ctx, dir); !exists {
			if err := service.Create(ctx, dir, file.DefaultDirOsMode, true); err != nil {
				return nil, fmt.Errorf("fs mailbox: failed to create %s: %w", dir, err)
			}
		}
	}
	return q, nil
}

// Owner returns the pid this mailbox belongs to.
func (q *Queue) Owner() process.PID { return q.owner }

// Publish writes a message file into the pending directory.
func (q *Queue) Publish(ctx context.Context, envelope *mailbox.Envelope) error {
	if envelope == nil {
		return fmt.Errorf("fs mailbox: nil envelope")
	}
	msg := &Message{Data: *envelope}
	if msg.Data.ID == "" {
		msg.Data.ID = idgen.New()
	}
	if msg.Data.SentAt.IsZero() {
		msg.Data.SentAt = clock.Now()
	}
	msg.Data.To = q.owner
	return q.write(ctx, q.pendingDir, msg.Data.ID+".json", msg)
}

// Consume moves the oldest pending message into processing and returns it.
// An empty mailbox yields (nil, nil).
func (q *Queue) Consume(ctx context.Context) (mailbox.Message, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	objects, err := q.fs.List(ctx, q.pendingDir)
	if err != nil {
		return nil, fmt.Errorf("fs mailbox: failed to list pending: %w", err)
	}
	var oldest storage.Object
	for _, obj := range objects {
		if obj.IsDir() || !strings.HasSuffix(obj.Name(), ".json") {
			continue
		}
		if oldest == nil || obj.Name() < oldest.Name() {
			oldest = obj
		}
	}
	if oldest == nil {
		return nil, nil
	}

	data, err := q.fs.DownloadWithURL(ctx, oldest.URL())
	if err != nil {
		return nil, fmt.Errorf("fs mailbox: failed to read %s: %w", oldest.URL(), err)
	}
	var msg Message
	if err := sonnet.Unmarshal(data, &msg); err != nil {
		// Corrupt file: dead-letter it rather than poisoning the queue.
		_ = q.fs.Move(ctx, oldest.URL(), path.Join(q.dlqDir, "invalid-"+oldest.Name()))
		return nil, fmt.Errorf("fs mailbox: failed to decode %s: %w", oldest.URL(), err)
	}
	msg.name = oldest.Name()
	msg.queue = q

	if err := q.write(ctx, q.processingDir, msg.name, &msg); err != nil {
		return nil, err
	}
	if err := q.fs.Delete(ctx, oldest.URL()); err != nil {
		return nil, fmt.Errorf("fs mailbox: failed to delete pending %s: %w", oldest.URL(), err)
	}
	return &msg, nil
}

// Size returns the number of pending message files.
func (q *Queue) Size() int {
	objects, err := q.fs.List(context.Background(), q.pendingDir)
	if err != nil {
		return 0
	}
	count := 0
	for _, obj := range objects {
		if !obj.IsDir() && strings.HasSuffix(obj.Name(), ".json") {
			count++
		}
	}
	return count
}

func (q *Queue) write(ctx context.Context, dir, name string, msg *Message) error {
	data, err := sonnet.Marshal(msg)
	if err != nil {
		return fmt.Errorf("fs mailbox: failed to encode message: %w", err)
	}
	return q.fs.Upload(ctx, path.Join(dir, name), file.DefaultFileOsMode, bytes.NewBuffer(data))
}

func (q *Queue) remove(ctx context.Context, dir, name string) error {
	url := path.Join(dir, name)
	if exists, _ := q.fs.Exists(ctx, url); exists {
		return q.fs.Delete(ctx, url)
	}
	return nil
}

var _ mailbox.Queue = (*Queue)(nil)
