package translate

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/bibswap/swapchat/internal/bus"
	"github.com/bibswap/swapchat/internal/convo"
	"github.com/stretchr/testify/require"
)

type memCache struct {
	mu   sync.Mutex
	rows map[string]string
}

func newMemCache() *memCache { return &memCache{rows: map[string]string{}} }

func (c *memCache) GetTranslation(_ context.Context, id, lang string) (string, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	v, ok := c.rows[id+"|"+lang]
	return v, ok, nil
}

func (c *memCache) SaveTranslation(_ context.Context, id, lang, content string) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.rows[id+"|"+lang]; ok {
		return false, nil
	}
	c.rows[id+"|"+lang] = content
	return true, nil
}

type fakeTranslator struct {
	calls atomic.Int32
	gate  chan struct{}
	err   error
}

func (f *fakeTranslator) Translate(ctx context.Context, text, target string) (string, error) {
	f.calls.Add(1)
	if f.gate != nil {
		<-f.gate
	}
	if err := ctx.Err(); err != nil {
		return "", err
	}
	if f.err != nil {
		return "", f.err
	}
	return "[" + target + "] " + text, nil
}

func spanish() *convo.Message {
	return &convo.Message{ID: "m1", SenderID: "owner", Content: "Hola", DetectedLanguage: "es"}
}

func TestTranslate_ConcurrentRequestsCallUpstreamOnce(t *testing.T) {
	tr := &fakeTranslator{gate: make(chan struct{})}
	svc := NewService(newMemCache(), tr, nil)

	const n = 8
	var wg sync.WaitGroup
	results := make([]string, n)
	errs := make([]error, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i], errs[i] = svc.Translate(context.Background(), spanish(), "en-US")
		}(i)
	}
	// Let the callers pile up on the in-flight request.
	require.Eventually(t, func() bool { return tr.calls.Load() == 1 }, time.Second, time.Millisecond)
	time.Sleep(20 * time.Millisecond)
	close(tr.gate)
	wg.Wait()

	for i := 0; i < n; i++ {
		require.NoError(t, errs[i])
		require.Equal(t, "[en] Hola", results[i])
	}

	got, err := svc.Translate(context.Background(), spanish(), "en")
	require.NoError(t, err)
	require.Equal(t, "[en] Hola", got)
	require.EqualValues(t, 1, tr.calls.Load(), "one upstream call per message and target")
}

func TestTranslate_CancelledCallerDoesNotFailOthers(t *testing.T) {
	tr := &fakeTranslator{gate: make(chan struct{})}
	svc := NewService(newMemCache(), tr, nil)

	firstCtx, cancel := context.WithCancel(context.Background())
	first := make(chan error, 1)
	go func() {
		_, err := svc.Translate(firstCtx, spanish(), "en")
		first <- err
	}()
	require.Eventually(t, func() bool { return tr.calls.Load() == 1 }, time.Second, time.Millisecond)

	type result struct {
		text string
		err  error
	}
	second := make(chan result, 1)
	go func() {
		text, err := svc.Translate(context.Background(), spanish(), "en")
		second <- result{text, err}
	}()

	cancel()
	select {
	case err := <-first:
		require.ErrorIs(t, err, context.Canceled)
	case <-time.After(time.Second):
		t.Fatal("cancelled caller kept waiting on the shared call")
	}

	// Give the second caller time to join the in-flight call.
	time.Sleep(20 * time.Millisecond)
	close(tr.gate)
	select {
	case r := <-second:
		require.NoError(t, r.err)
		require.Equal(t, "[en] Hola", r.text)
	case <-time.After(time.Second):
		t.Fatal("second caller never got the translation")
	}
	require.Equal(t, int32(1), tr.calls.Load())
}

func TestTranslate_DifferentTargetsAreSeparate(t *testing.T) {
	tr := &fakeTranslator{}
	svc := NewService(newMemCache(), tr, nil)
	_, err := svc.Translate(context.Background(), spanish(), "en")
	require.NoError(t, err)
	_, err = svc.Translate(context.Background(), spanish(), "fr")
	require.NoError(t, err)
	require.EqualValues(t, 2, tr.calls.Load())
}

func TestTranslate_SameLanguageReturnsOriginal(t *testing.T) {
	tr := &fakeTranslator{}
	svc := NewService(newMemCache(), tr, nil)
	got, err := svc.Translate(context.Background(), spanish(), "es-MX")
	require.NoError(t, err)
	require.Equal(t, "Hola", got)
	require.Zero(t, tr.calls.Load())
}

func TestTranslate_UpstreamFailure(t *testing.T) {
	cache := newMemCache()
	svc := NewService(cache, &fakeTranslator{err: errors.New("503 service unavailable")}, nil)
	_, err := svc.Translate(context.Background(), spanish(), "en")
	require.ErrorIs(t, err, convo.ErrTranslationUnavailable)
	require.Empty(t, cache.rows, "failures are not cached")
}

func TestTranslate_Disabled(t *testing.T) {
	svc := NewService(newMemCache(), nil, nil)
	require.False(t, svc.Enabled())
	_, err := svc.Translate(context.Background(), spanish(), "en")
	require.ErrorIs(t, err, convo.ErrTranslationUnavailable)
}

func TestTranslate_Validation(t *testing.T) {
	svc := NewService(newMemCache(), &fakeTranslator{}, nil)
	_, err := svc.Translate(context.Background(), spanish(), "")
	require.ErrorIs(t, err, convo.ErrValidation)
	_, err = svc.Translate(context.Background(), nil, "en")
	require.ErrorIs(t, err, convo.ErrValidation)
}

type fakeDetector struct {
	lang string
	err  error
}

func (f fakeDetector) Detect(context.Context, string) (string, error) { return f.lang, f.err }

type langStore struct {
	mu   sync.Mutex
	seen map[string]string
}

func (s *langStore) SetDetectedLanguage(_ context.Context, id, lang string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.seen[id] = lang
	return nil
}

func TestDetector_StoresAndPublishes(t *testing.T) {
	b := bus.New()
	db := &langStore{seen: map[string]string{}}
	d := NewDetector(db, fakeDetector{lang: "es"}, b, nil)

	updates, unsub := b.SubscribeKey("message.updated", "c1", 4)
	defer unsub()

	d.Start(context.Background())
	defer d.Stop()

	b.Publish(bus.Event{Kind: bus.KindMessageInserted, Key: "c1", Payload: convo.Message{
		ID: "m1", ConversationID: "c1", SenderID: "owner", Content: "Hola", Type: convo.TypeText,
	}})
	b.Publish(bus.Event{Kind: bus.KindMessageInserted, Key: "c1", Payload: convo.Message{
		ID: "m2", ConversationID: "c1", SenderID: "owner", Content: "interested", Type: convo.TypeInterest,
	}})

	select {
	case evt := <-updates:
		m, ok := evt.Payload.(convo.Message)
		require.True(t, ok)
		require.Equal(t, "m1", m.ID)
		require.Equal(t, "es", m.DetectedLanguage)
	case <-time.After(2 * time.Second):
		t.Fatal("no message.updated event")
	}

	db.mu.Lock()
	defer db.mu.Unlock()
	require.Equal(t, map[string]string{"m1": "es"}, db.seen)
}

func TestDetector_ProcessError(t *testing.T) {
	d := NewDetector(&langStore{seen: map[string]string{}}, fakeDetector{err: errors.New("boom")}, bus.New(), nil)
	err := d.Process(context.Background(), convo.Message{ID: "m1", Content: "x"})
	require.ErrorContains(t, err, "boom")
}
