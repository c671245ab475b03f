package convert

import (
	"bytes"
	"context"
	"errors"
	"io"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pagewise/reader/internal/models"
	"github.com/pagewise/reader/internal/store"
	"github.com/pagewise/reader/pkg/logger"
	"github.com/pagewise/reader/pkg/queue"
)

type fakeDocStore struct {
	mu   sync.Mutex
	docs map[string]*models.Document
}

func newFakeDocStore() *fakeDocStore {
	return &fakeDocStore{docs: make(map[string]*models.Document)}
}

func (f *fakeDocStore) Create(_ context.Context, doc *models.Document) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	cp := *doc
	f.docs[doc.ID] = &cp
	return nil
}

func (f *fakeDocStore) Get(_ context.Context, id string) (*models.Document, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	doc, ok := f.docs[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	cp := *doc
	return &cp, nil
}

func (f *fakeDocStore) ListByUser(_ context.Context, _ string) ([]models.Document, error) {
	return nil, nil
}

func (f *fakeDocStore) SetReady(_ context.Context, _ string, _ store.ReadyUpdate) error {
	return nil
}

func (f *fakeDocStore) SetFailed(_ context.Context, _ string) error {
	return nil
}

func (f *fakeDocStore) SetConversion(_ context.Context, id string, status models.ConversionStatus, convertedKey, errMsg string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	doc, ok := f.docs[id]
	if !ok {
		return store.ErrNotFound
	}
	doc.ConversionStatus = status
	if convertedKey != "" {
		doc.ConvertedKey = convertedKey
	}
	doc.ConversionError = errMsg
	return nil
}

func (f *fakeDocStore) Delete(_ context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.docs, id)
	return nil
}

type fakeStorage struct {
	mu      sync.Mutex
	objects map[string][]byte
}

func newFakeStorage() *fakeStorage {
	return &fakeStorage{objects: make(map[string][]byte)}
}

func (f *fakeStorage) Store(_ context.Context, reader io.Reader, key string, _ string) (string, error) {
	data, err := io.ReadAll(reader)
	if err != nil {
		return "", err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.objects[key] = data
	return key, nil
}

func (f *fakeStorage) Get(_ context.Context, key string) (io.ReadCloser, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	data, ok := f.objects[key]
	if !ok {
		return nil, errors.New("object not found")
	}
	return io.NopCloser(bytes.NewReader(data)), nil
}

func (f *fakeStorage) Delete(_ context.Context, key string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.objects, key)
	return nil
}

func (f *fakeStorage) DeletePrefix(_ context.Context, prefix string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for key := range f.objects {
		if strings.HasPrefix(key, prefix) {
			delete(f.objects, key)
		}
	}
	return nil
}

type fakeQueue struct {
	mu         sync.Mutex
	tasks      []*queue.Task
	enqueueErr error
}

func (f *fakeQueue) Enqueue(_ context.Context, task *queue.Task) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.enqueueErr != nil {
		return f.enqueueErr
	}
	f.tasks = append(f.tasks, task)
	return nil
}

func (f *fakeQueue) GetTaskStatus(_ context.Context, _ string) (*queue.TaskStatus, error) {
	return nil, errors.New("not implemented")
}

func (f *fakeQueue) SaveStatus(_ context.Context, _ *queue.TaskStatus) error {
	return nil
}

type fakeEngine struct {
	output []byte
	err    error
}

func (f *fakeEngine) Convert(_ context.Context, _ *models.Document, _ []byte) ([]byte, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.output, nil
}

type convFixture struct {
	docs    *fakeDocStore
	files   *fakeStorage
	tasks   *fakeQueue
	engine  *fakeEngine
	service *Service
}

func newConvFixture() *convFixture {
	docs := newFakeDocStore()
	files := newFakeStorage()
	tasks := &fakeQueue{}
	engine := &fakeEngine{output: []byte("epub bytes")}
	return &convFixture{
		docs:    docs,
		files:   files,
		tasks:   tasks,
		engine:  engine,
		service: NewService(docs, files, tasks, engine, logger.NewTestLogger()),
	}
}

func (fx *convFixture) addPDF(id string, convStatus models.ConversionStatus) {
	fx.files.objects["documents/"+id] = []byte("%PDF source bytes")
	fx.docs.docs[id] = &models.Document{
		ID:               id,
		Format:           models.FormatPDF,
		StorageKey:       "documents/" + id,
		Status:           models.StatusReady,
		ConversionStatus: convStatus,
	}
}

func TestRequestEnqueuesAndMarksPending(t *testing.T) {
	fx := newConvFixture()
	fx.addPDF("doc-1", models.ConversionNone)

	require.NoError(t, fx.service.Request(context.Background(), "doc-1"))

	doc, _ := fx.docs.Get(context.Background(), "doc-1")
	assert.Equal(t, models.ConversionPending, doc.ConversionStatus)
	require.Len(t, fx.tasks.tasks, 1)
	assert.Equal(t, queue.TaskTypeConvert, fx.tasks.tasks[0].Type)
}

func TestRequestRejectsNonPDF(t *testing.T) {
	fx := newConvFixture()
	fx.docs.docs["doc-1"] = &models.Document{ID: "doc-1", Format: models.FormatEPUB}

	err := fx.service.Request(context.Background(), "doc-1")
	assert.ErrorIs(t, err, ErrNotEligible)
	assert.Empty(t, fx.tasks.tasks)
}

func TestRequestConflictsWhileRunning(t *testing.T) {
	fx := newConvFixture()
	fx.addPDF("doc-1", models.ConversionProcessing)

	err := fx.service.Request(context.Background(), "doc-1")
	assert.ErrorIs(t, err, ErrInProgress)
	assert.Empty(t, fx.tasks.tasks)
}

func TestRetryFromFailed(t *testing.T) {
	fx := newConvFixture()
	fx.addPDF("doc-1", models.ConversionFailed)

	require.NoError(t, fx.service.Retry(context.Background(), "doc-1"))

	doc, _ := fx.docs.Get(context.Background(), "doc-1")
	assert.Equal(t, models.ConversionPending, doc.ConversionStatus)
	assert.Len(t, fx.tasks.tasks, 1)
}

func TestRetryRejectedStates(t *testing.T) {
	tests := []struct {
		name    string
		status  models.ConversionStatus
		wantErr error
	}{
		{"pending", models.ConversionPending, ErrInProgress},
		{"processing", models.ConversionProcessing, ErrInProgress},
		{"ready", models.ConversionReady, ErrNotRetryable},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fx := newConvFixture()
			fx.addPDF("doc-1", tt.status)

			err := fx.service.Retry(context.Background(), "doc-1")
			assert.ErrorIs(t, err, tt.wantErr)
			assert.Empty(t, fx.tasks.tasks)
		})
	}
}

func TestRequestEnqueueFailureStaysRetryable(t *testing.T) {
	fx := newConvFixture()
	fx.addPDF("doc-1", models.ConversionNone)
	fx.tasks.enqueueErr = errors.New("redis unavailable")

	err := fx.service.Request(context.Background(), "doc-1")
	require.Error(t, err)

	// The document must not sit in PENDING with no task to consume it.
	doc, _ := fx.docs.Get(context.Background(), "doc-1")
	assert.Equal(t, models.ConversionFailed, doc.ConversionStatus)
	assert.Contains(t, doc.ConversionError, "redis unavailable")

	// Once the queue recovers both Retry and a fresh Request go through.
	fx.tasks.enqueueErr = nil
	require.NoError(t, fx.service.Retry(context.Background(), "doc-1"))

	doc, _ = fx.docs.Get(context.Background(), "doc-1")
	assert.Equal(t, models.ConversionPending, doc.ConversionStatus)
	assert.Len(t, fx.tasks.tasks, 1)
}

func TestGetStatusDefaultsToNone(t *testing.T) {
	fx := newConvFixture()
	fx.docs.docs["doc-1"] = &models.Document{ID: "doc-1", Format: models.FormatPDF}

	status, err := fx.service.GetStatus(context.Background(), "doc-1")
	require.NoError(t, err)
	assert.Equal(t, models.ConversionNone, status.Status)
	assert.Empty(t, status.Error)
}

func TestProcessSuccessWritesConvertedKey(t *testing.T) {
	fx := newConvFixture()
	fx.addPDF("doc-1", models.ConversionPending)

	require.NoError(t, fx.service.Process(context.Background(), "doc-1"))

	doc, _ := fx.docs.Get(context.Background(), "doc-1")
	assert.Equal(t, models.ConversionReady, doc.ConversionStatus)
	assert.Equal(t, "converted/doc-1.epub", doc.ConvertedKey)
	assert.Empty(t, doc.ConversionError)
	// The primary status is untouched by conversion.
	assert.Equal(t, models.StatusReady, doc.Status)
	assert.Equal(t, []byte("epub bytes"), fx.files.objects["converted/doc-1.epub"])
}

func TestProcessEngineFailureRecordsError(t *testing.T) {
	fx := newConvFixture()
	fx.addPDF("doc-1", models.ConversionPending)
	fx.engine.err = errors.New("malformed xref table")

	// Failure is surfaced through the status fields, not the return value.
	require.NoError(t, fx.service.Process(context.Background(), "doc-1"))

	doc, _ := fx.docs.Get(context.Background(), "doc-1")
	assert.Equal(t, models.ConversionFailed, doc.ConversionStatus)
	assert.Contains(t, doc.ConversionError, "malformed xref table")
	assert.Equal(t, models.StatusReady, doc.Status)
}

func TestProcessMissingDocumentReturnsError(t *testing.T) {
	fx := newConvFixture()
	err := fx.service.Process(context.Background(), "missing")
	assert.ErrorIs(t, err, store.ErrNotFound)
}
