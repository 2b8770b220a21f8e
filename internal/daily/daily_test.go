// © 2025 Ilya Mateyko. All rights reserved.
// Use of this source code is governed by the ISC
// license that can be found in the LICENSE.md file.

package daily

import (
	"context"
	"errors"
	"io"
	"sync"
	"testing"
	"time"

	"go.astrophena.name/visnyk/internal/blob"
	"go.astrophena.name/visnyk/internal/logger"
	"go.astrophena.name/visnyk/internal/sender"
	"go.astrophena.name/visnyk/internal/store"
	"go.astrophena.name/visnyk/internal/testutil"
)

const articlesTxtar = `
-- stoic/11-05 (5 листопада).txt --
<b>Про спокій</b>
-- parent/11-05 (5 листопада).txt --
<i>Про терпіння</i>
-- message_start.txt --
Вітаємо у Стоїчному віснику!
`

var testNow = time.Date(2024, time.November, 5, 9, 0, 0, 0, time.UTC)

type fakeSender struct {
	mu   sync.Mutex
	sent []sender.Message
	fail map[string]error
}

func (f *fakeSender) Send(_ context.Context, msg sender.Message) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.fail[msg.ChatID]; err != nil {
		return err
	}
	f.sent = append(f.sent, msg)
	return nil
}

func (f *fakeSender) chats() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	var chats []string
	for _, m := range f.sent {
		chats = append(chats, m.ChatID)
	}
	return chats
}

// flakyBlobs fails the n-th Get call.
type flakyBlobs struct {
	blob.Store
	n     int
	calls int
}

func (f *flakyBlobs) Get(ctx context.Context, key string) ([]byte, error) {
	f.calls++
	if f.calls == f.n {
		return nil, errors.New("connection reset by peer")
	}
	return f.Store.Get(ctx, key)
}

type failingStore struct{ store.Store }

func (failingStore) Scan(context.Context) ([]*store.Subscriber, error) {
	return nil, errors.New("table not found")
}

func testContext(t *testing.T) context.Context {
	return logger.Put(t.Context(), logger.New(io.Discard))
}

func newTestService(t *testing.T, opts Opts) *Service {
	t.Helper()
	if opts.Prefs == nil {
		opts.Prefs = store.NewMemStore()
	}
	if opts.Articles == nil {
		opts.Articles = blob.NewFS(testutil.TxtarFS(t, []byte(articlesTxtar)))
	}
	if opts.Sender == nil {
		opts.Sender = &fakeSender{}
	}
	opts.Location = time.UTC
	opts.Now = func() time.Time { return testNow }
	s, err := New(opts)
	if err != nil {
		t.Fatal(err)
	}
	return s
}

func subscribe(t *testing.T, prefs store.Store, chatID string, topics map[string]bool) {
	t.Helper()
	if err := prefs.Update(t.Context(), chatID, store.Update{Topics: topics}); err != nil {
		t.Fatal(err)
	}
}

func topic(t *testing.T, s *Service, name string) Topic {
	t.Helper()
	tp, ok := s.TopicByName(name)
	if !ok {
		t.Fatalf("no topic %q", name)
	}
	return tp
}

func TestNew(t *testing.T) {
	cases := map[string]struct {
		opts Opts
	}{
		"no prefs":    {opts: Opts{Articles: blob.NewFS(nil), Sender: &fakeSender{}}},
		"no articles": {opts: Opts{Prefs: store.NewMemStore(), Sender: &fakeSender{}}},
		"no sender":   {opts: Opts{Prefs: store.NewMemStore(), Articles: blob.NewFS(nil)}},
		"bad topics": {opts: Opts{
			Prefs:    store.NewMemStore(),
			Articles: blob.NewFS(nil),
			Sender:   &fakeSender{},
			Topics:   []Topic{{Name: "stoic", Command: "start", Prefix: "stoic/"}},
		}},
	}

	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			if _, err := New(tc.opts); err == nil {
				t.Fatal("New() error = nil, want non-nil")
			}
		})
	}
}

func TestTopicLookup(t *testing.T) {
	s := newTestService(t, Opts{})

	tp, ok := s.TopicByCommand("parent")
	testutil.AssertEqual(t, ok, true)
	testutil.AssertEqual(t, tp.Decoration, "👶🏻")

	_, ok = s.TopicByCommand("start")
	testutil.AssertEqual(t, ok, false)
	_, ok = s.TopicByName("poetry")
	testutil.AssertEqual(t, ok, false)
}

func TestToggleTwice(t *testing.T) {
	ctx := testContext(t)
	prefs := store.NewMemStore()
	s := newTestService(t, Opts{Prefs: prefs})
	stoic := topic(t, s, "stoic")

	for _, initial := range []bool{false, true} {
		chatID := "off"
		if initial {
			chatID = "on"
			subscribe(t, prefs, chatID, map[string]bool{"stoic": true})
		}

		first, err := s.Toggle(ctx, chatID, stoic, "Епіктет")
		if err != nil {
			t.Fatal(err)
		}
		testutil.AssertEqual(t, first, !initial)

		second, err := s.Toggle(ctx, chatID, stoic, "Епіктет")
		if err != nil {
			t.Fatal(err)
		}
		testutil.AssertEqual(t, second, initial)

		sub, err := prefs.Get(ctx, chatID)
		if err != nil {
			t.Fatal(err)
		}
		testutil.AssertEqual(t, sub.Subscribed("stoic"), initial)
	}
}

func TestToggleStoresName(t *testing.T) {
	ctx := testContext(t)
	prefs := store.NewMemStore()
	s := newTestService(t, Opts{Prefs: prefs})

	if _, err := s.Toggle(ctx, "-100", topic(t, s, "parent"), "Батьки"); err != nil {
		t.Fatal(err)
	}
	// An empty name overwrites the stored one.
	if _, err := s.Toggle(ctx, "-100", topic(t, s, "stoic"), ""); err != nil {
		t.Fatal(err)
	}

	sub, err := prefs.Get(ctx, "-100")
	if err != nil {
		t.Fatal(err)
	}
	testutil.AssertEqual(t, sub, &store.Subscriber{
		ChatID: "-100",
		Name:   "",
		Topics: map[string]bool{"parent": true, "stoic": true},
	})
}

func TestToggleConcurrent(t *testing.T) {
	ctx := testContext(t)
	prefs := store.NewMemStore()
	s := newTestService(t, Opts{Prefs: prefs})
	stoic := topic(t, s, "stoic")

	var wg sync.WaitGroup
	for range 2 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := s.Toggle(ctx, "1", stoic, "Сенека"); err != nil {
				t.Error(err)
			}
		}()
	}
	wg.Wait()

	sub, err := prefs.Get(ctx, "1")
	if err != nil {
		t.Fatal(err)
	}
	if sub == nil {
		t.Fatal("subscriber was not created")
	}
	// Either toggle may win; the flag must hold one of the two states.
	if _, ok := sub.Topics["stoic"]; !ok {
		t.Fatalf("stoic flag is missing: %+v", sub)
	}
}

func TestUnsubscribeAll(t *testing.T) {
	cases := map[string]map[string]bool{
		"both on":   {"stoic": true, "parent": true},
		"one on":    {"parent": true},
		"both off":  {"stoic": false, "parent": false},
		"no record": nil,
	}

	for name, initial := range cases {
		t.Run(name, func(t *testing.T) {
			ctx := testContext(t)
			prefs := store.NewMemStore()
			s := newTestService(t, Opts{Prefs: prefs})
			const chatID = "42"

			subscribe(t, prefs, "7", map[string]bool{"stoic": true})

			name := "Марк"
			if initial != nil {
				if err := prefs.Update(ctx, chatID, store.Update{Name: &name, Topics: initial}); err != nil {
					t.Fatal(err)
				}
			}

			if err := s.UnsubscribeAll(ctx, chatID); err != nil {
				t.Fatal(err)
			}

			sub, err := prefs.Get(ctx, chatID)
			if err != nil {
				t.Fatal(err)
			}
			testutil.AssertEqual(t, sub.Topics, map[string]bool{"stoic": false, "parent": false})
			testutil.AssertEqual(t, sub.Active(), false)
			if initial != nil {
				testutil.AssertEqual(t, sub.Name, name)
			}

			rcpts, err := s.Subscribers(ctx)
			if err != nil {
				t.Fatal(err)
			}
			var ids []string
			for _, r := range rcpts {
				ids = append(ids, r.ChatID)
			}
			testutil.AssertNotContains(t, ids, chatID)
			testutil.AssertContains(t, ids, "7")
		})
	}
}

func TestSubscribers(t *testing.T) {
	ctx := testContext(t)
	prefs := store.NewMemStore()
	subscribe(t, prefs, "1", map[string]bool{"stoic": true, "parent": true})
	subscribe(t, prefs, "2", map[string]bool{"stoic": false, "parent": false})
	subscribe(t, prefs, "3", map[string]bool{"parent": true})
	subscribe(t, prefs, "4", map[string]bool{"poetry": true})
	name := "Без підписок"
	if err := prefs.Update(ctx, "5", store.Update{Name: &name}); err != nil {
		t.Fatal(err)
	}

	s := newTestService(t, Opts{Prefs: prefs})
	rcpts, err := s.Subscribers(ctx)
	if err != nil {
		t.Fatal(err)
	}

	got := make(map[string][]string)
	for _, r := range rcpts {
		for _, tp := range r.Topics {
			got[r.ChatID] = append(got[r.ChatID], tp.Name)
		}
	}
	testutil.AssertEqual(t, got, map[string][]string{
		"1": {"stoic", "parent"},
		"3": {"parent"},
	})
}

func TestDeliver(t *testing.T) {
	ctx := testContext(t)
	snd := &fakeSender{}
	s := newTestService(t, Opts{Sender: snd})

	if err := s.Deliver(ctx, "7", topic(t, s, "stoic")); err != nil {
		t.Fatal(err)
	}
	testutil.AssertEqual(t, snd.sent, []sender.Message{{
		ChatID:    "7",
		Text:      "📖 <b>Про спокій</b>\n",
		ParseMode: "HTML",
	}})
}

func TestDeliverMissingArticle(t *testing.T) {
	ctx := testContext(t)
	snd := &fakeSender{}
	s := newTestService(t, Opts{Sender: snd})
	s.now = func() time.Time { return testNow.AddDate(0, 0, 1) }

	err := s.Deliver(ctx, "7", topic(t, s, "stoic"))
	if !errors.Is(err, blob.ErrNotFound) {
		t.Fatalf("Deliver() error = %v, want blob.ErrNotFound", err)
	}
	testutil.AssertEqual(t, len(snd.sent), 0)
}

func TestDeliverUsesLocation(t *testing.T) {
	kyiv := time.FixedZone("EET", 2*60*60)
	snd := &fakeSender{}
	s := newTestService(t, Opts{Sender: snd})
	s.loc = kyiv
	// It's still November 4 in UTC, but already November 5 in Kyiv.
	s.now = func() time.Time { return time.Date(2024, time.November, 4, 23, 0, 0, 0, time.UTC) }

	if err := s.Deliver(testContext(t), "7", topic(t, s, "parent")); err != nil {
		t.Fatal(err)
	}
	testutil.AssertEqual(t, snd.chats(), []string{"7"})
}

func TestSendAll(t *testing.T) {
	ctx := testContext(t)
	prefs := store.NewMemStore()
	subscribe(t, prefs, "1", map[string]bool{"stoic": true})
	subscribe(t, prefs, "2", map[string]bool{"stoic": true, "parent": true})
	subscribe(t, prefs, "3", map[string]bool{"stoic": false})
	snd := &fakeSender{}
	s := newTestService(t, Opts{Prefs: prefs, Sender: snd})

	r, err := s.SendAll(ctx)
	if err != nil {
		t.Fatal(err)
	}
	testutil.AssertEqual(t, r.Key, "11-05 (5 листопада).txt")
	testutil.AssertEqual(t, r.Recipients, 2)
	testutil.AssertEqual(t, r.Sent, 3)
	testutil.AssertEqual(t, r.Failed, 0)
	if r.RunID == "" {
		t.Fatal("report has no run ID")
	}
	testutil.AssertEqual(t, snd.sent, []sender.Message{
		{ChatID: "1", Text: "📖 <b>Про спокій</b>\n", ParseMode: "HTML"},
		{ChatID: "2", Text: "📖 <b>Про спокій</b>\n", ParseMode: "HTML"},
		{ChatID: "2", Text: "👶🏻 <i>Про терпіння</i>\n", ParseMode: "HTML"},
	})
}

func TestSendAllIsolatesFailures(t *testing.T) {
	cases := map[string]struct {
		blobs     func(t *testing.T) blob.Store
		fail      map[string]error
		wantChats []string
	}{
		"blob fetch fails for one subscriber": {
			blobs: func(t *testing.T) blob.Store {
				return &flakyBlobs{Store: blob.NewFS(testutil.TxtarFS(t, []byte(articlesTxtar))), n: 2}
			},
			wantChats: []string{"a", "c", "d"},
		},
		"transport fails for one subscriber": {
			fail:      map[string]error{"c": errors.New("Forbidden: bot was blocked by the user")},
			wantChats: []string{"a", "b", "d"},
		},
	}

	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			prefs := store.NewMemStore()
			for _, id := range []string{"a", "b", "c", "d"} {
				subscribe(t, prefs, id, map[string]bool{"stoic": true})
			}
			snd := &fakeSender{fail: tc.fail}
			opts := Opts{Prefs: prefs, Sender: snd}
			if tc.blobs != nil {
				opts.Articles = tc.blobs(t)
			}
			s := newTestService(t, opts)

			r, err := s.SendAll(testContext(t))
			if err != nil {
				t.Fatal(err)
			}
			testutil.AssertEqual(t, snd.chats(), tc.wantChats)
			testutil.AssertEqual(t, r.Sent, 3)
			testutil.AssertEqual(t, r.Failed, 1)
		})
	}
}

func TestSendAllStoreFailure(t *testing.T) {
	snd := &fakeSender{}
	s := newTestService(t, Opts{Prefs: failingStore{store.NewMemStore()}, Sender: snd})

	r, err := s.SendAll(testContext(t))
	if err == nil {
		t.Fatal("SendAll() error = nil, want non-nil")
	}
	if r != nil {
		t.Fatalf("SendAll() report = %+v, want nil", r)
	}
	testutil.AssertEqual(t, len(snd.sent), 0)
}

func TestSendAllCanceled(t *testing.T) {
	prefs := store.NewMemStore()
	subscribe(t, prefs, "1", map[string]bool{"stoic": true})
	snd := &fakeSender{}
	s := newTestService(t, Opts{Prefs: prefs, Sender: snd})

	ctx, cancel := context.WithCancel(testContext(t))
	cancel()
	r, err := s.SendAll(ctx)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("SendAll() error = %v, want context.Canceled", err)
	}
	testutil.AssertEqual(t, r.Sent, 0)
	testutil.AssertEqual(t, len(snd.sent), 0)
}

func TestWelcome(t *testing.T) {
	ctx := testContext(t)

	s := newTestService(t, Opts{})
	testutil.AssertEqual(t, s.Welcome(ctx), "Вітаємо у Стоїчному віснику!")

	s = newTestService(t, Opts{Articles: blob.NewFS(testutil.TxtarFS(t, nil))})
	testutil.AssertEqual(t, s.Welcome(ctx), DefaultWelcome)
}
