package store

import (
	"context"
	"math"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/ridgelineparts/triage/internal/model"
)

// Memory is an in-process Store used by tests and local development.
type Memory struct {
	mu sync.RWMutex

	threads       map[string]*model.Thread
	messages      map[string]*model.Message
	events        []model.Event
	intents       []model.IntentDefinition
	assignments   map[string]*model.ClassificationAssignment // threadID+intent
	verifications []model.VerificationRecord
	drafts        map[string]*model.DraftGeneration
	documents     map[string]*model.Document
	chunks        []model.Chunk

	seq uint64
}

// NewMemory creates an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{
		threads:     make(map[string]*model.Thread),
		messages:    make(map[string]*model.Message),
		assignments: make(map[string]*model.ClassificationAssignment),
		drafts:      make(map[string]*model.DraftGeneration),
		documents:   make(map[string]*model.Document),
	}
}

// SeedIntents replaces the intent catalog.
func (m *Memory) SeedIntents(defs []model.IntentDefinition) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.intents = defs
}

// SeedDocument adds a knowledge-base document and its chunks.
func (m *Memory) SeedDocument(doc model.Document, chunks ...model.Chunk) {
	m.mu.Lock()
	defer m.mu.Unlock()
	d := doc
	m.documents[doc.ID] = &d
	m.chunks = append(m.chunks, chunks...)
}

func (m *Memory) CreateThread(ctx context.Context, t *model.Thread) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *t
	m.threads[t.ID] = &cp
	return nil
}

func (m *Memory) GetThread(ctx context.Context, id string) (*model.Thread, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	t, ok := m.threads[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *t
	return &cp, nil
}

func (m *Memory) GetThreadByExternalID(ctx context.Context, channel, externalID string) (*model.Thread, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, t := range m.threads {
		if t.Channel == channel && t.ExternalID != nil && *t.ExternalID == externalID {
			cp := *t
			return &cp, nil
		}
	}
	return nil, ErrNotFound
}

func (m *Memory) UpdateThread(ctx context.Context, t *model.Thread) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cur, ok := m.threads[t.ID]
	if !ok {
		return ErrNotFound
	}
	if !cur.UpdatedAt.Equal(t.UpdatedAt) {
		return ErrConflict
	}
	t.UpdatedAt = time.Now().UTC()
	cp := *t
	m.threads[t.ID] = &cp
	return nil
}

func (m *Memory) ListThreads(ctx context.Context, limit, offset int) ([]model.Thread, int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var all []model.Thread
	for _, t := range m.threads {
		all = append(all, *t)
	}
	sort.Slice(all, func(i, j int) bool { return all[i].UpdatedAt.After(all[j].UpdatedAt) })
	total := len(all)
	start := offset
	if start > total {
		start = total
	}
	end := start + limit
	if end > total {
		end = total
	}
	return all[start:end], total, nil
}

func (m *Memory) CreateMessage(ctx context.Context, msg *model.Message) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *msg
	m.messages[msg.ID] = &cp
	return nil
}

func (m *Memory) GetMessageByExternalID(ctx context.Context, channel, externalID string) (*model.Message, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, msg := range m.messages {
		if msg.Channel == channel && msg.ExternalID != nil && *msg.ExternalID == externalID {
			cp := *msg
			return &cp, nil
		}
	}
	return nil, ErrNotFound
}

func (m *Memory) ListMessages(ctx context.Context, threadID string, limit int) ([]model.Message, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []model.Message
	for _, msg := range m.messages {
		if msg.ThreadID == threadID {
			out = append(out, *msg)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].SentAt.Before(out[j].SentAt) })
	if len(out) > limit {
		out = out[len(out)-limit:]
	}
	return out, nil
}

func (m *Memory) AppendEvent(ctx context.Context, e *model.Event) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.seq++
	e.Sequence = m.seq
	m.events = append(m.events, *e)
	return nil
}

func (m *Memory) ListEvents(ctx context.Context, threadID string) ([]model.Event, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []model.Event
	for _, e := range m.events {
		if e.ThreadID == threadID {
			out = append(out, e)
		}
	}
	return out, nil
}

func (m *Memory) ListIntentDefinitions(ctx context.Context) ([]model.IntentDefinition, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []model.IntentDefinition
	for _, d := range m.intents {
		if d.Active {
			out = append(out, d)
		}
	}
	return out, nil
}

func (m *Memory) UpsertAssignment(ctx context.Context, a *model.ClassificationAssignment) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := a.ThreadID + "/" + a.Intent
	if cur, ok := m.assignments[key]; ok {
		if a.Confidence > cur.Confidence {
			cur.Confidence = a.Confidence
		}
		return nil
	}
	cp := *a
	m.assignments[key] = &cp
	return nil
}

func (m *Memory) ListAssignments(ctx context.Context, threadID string) ([]model.ClassificationAssignment, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []model.ClassificationAssignment
	for _, a := range m.assignments {
		if a.ThreadID == threadID {
			out = append(out, *a)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Confidence > out[j].Confidence })
	return out, nil
}

func (m *Memory) CreateVerification(ctx context.Context, v *model.VerificationRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.verifications = append(m.verifications, *v)
	return nil
}

func (m *Memory) LatestVerification(ctx context.Context, threadID string) (*model.VerificationRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var latest *model.VerificationRecord
	for i := range m.verifications {
		v := &m.verifications[i]
		if v.ThreadID != threadID {
			continue
		}
		if latest == nil || v.CreatedAt.After(latest.CreatedAt) {
			latest = v
		}
	}
	if latest == nil {
		return nil, ErrNotFound
	}
	cp := *latest
	return &cp, nil
}

func (m *Memory) CreateDraft(ctx context.Context, d *model.DraftGeneration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *d
	m.drafts[d.ID] = &cp
	return nil
}

func (m *Memory) GetDraft(ctx context.Context, id string) (*model.DraftGeneration, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	d, ok := m.drafts[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *d
	return &cp, nil
}

func (m *Memory) MarkDraftSent(ctx context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	d, ok := m.drafts[id]
	if !ok {
		return ErrNotFound
	}
	d.WasSent = true
	return nil
}

// Drafts returns all recorded draft generations for a thread, for tests.
func (m *Memory) Drafts(threadID string) []model.DraftGeneration {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []model.DraftGeneration
	for _, d := range m.drafts {
		if d.ThreadID == threadID {
			out = append(out, *d)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out
}

func (m *Memory) ListDocumentsByIntent(ctx context.Context, intent string) ([]model.Document, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []model.Document
	for _, d := range m.documents {
		for _, tag := range d.IntentTags {
			if tag == intent {
				out = append(out, *d)
				break
			}
		}
	}
	return out, nil
}

func (m *Memory) SearchChunks(ctx context.Context, embedding []float32, filter ChunkFilter, limit int) ([]model.Chunk, []model.Document, []float64, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	type hit struct {
		chunk model.Chunk
		doc   model.Document
		score float64
	}
	var hits []hit
	for _, c := range m.chunks {
		doc, ok := m.documents[c.DocumentID]
		if !ok {
			continue
		}
		if filter.VehicleTag != "" && !contains(doc.VehicleTags, filter.VehicleTag) {
			continue
		}
		if filter.ProductTag != "" && !contains(doc.ProductTags, filter.ProductTag) {
			continue
		}
		hits = append(hits, hit{chunk: c, doc: *doc, score: clamp01(cosine(embedding, c.Embedding))})
	}
	sort.Slice(hits, func(i, j int) bool { return hits[i].score > hits[j].score })
	if len(hits) > limit {
		hits = hits[:limit]
	}

	chunks := make([]model.Chunk, len(hits))
	docs := make([]model.Document, len(hits))
	scores := make([]float64, len(hits))
	for i, h := range hits {
		chunks[i] = h.chunk
		docs[i] = h.doc
		scores[i] = h.score
	}
	return chunks, docs, scores, nil
}

func (m *Memory) SearchDocumentsByText(ctx context.Context, query string, limit int) ([]model.Document, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	q := strings.ToLower(query)
	var out []model.Document
	for _, d := range m.documents {
		if strings.Contains(strings.ToLower(d.Content), q) || strings.Contains(strings.ToLower(d.Title), q) {
			out = append(out, *d)
			if len(out) == limit {
				break
			}
		}
	}
	return out, nil
}

func (m *Memory) Ping(ctx context.Context) error { return nil }

func (m *Memory) Close() error { return nil }

func contains(tags []string, tag string) bool {
	for _, t := range tags {
		if t == tag {
			return true
		}
	}
	return false
}

func cosine(a, b []float32) float64 {
	if len(a) == 0 || len(a) != len(b) {
		return 0
	}
	var dot, na, nb float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		na += float64(a[i]) * float64(a[i])
		nb += float64(b[i]) * float64(b[i])
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}
