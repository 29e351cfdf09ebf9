package service

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"collab-sync-server/internal/domain"
	"collab-sync-server/internal/relay"
	"collab-sync-server/internal/repository"
	"collab-sync-server/internal/websocket"
	"collab-sync-server/pkg/jwt"

	"github.com/go-playground/assert/v2"
)

const (
	testSecret = "test-secret"
	testPageID = "0b4f6c52-8f1e-4d8a-9a43-3c1f0e6d2a11"
	otherPage  = "7d2e9a10-52b4-4c61-8e0f-9b1a2c3d4e5f"

	insertX = `{"stepType":"replace","from":1,"to":1,"slice":{"content":[{"type":"text","text":"X"}]}}`
	insertY = `{"stepType":"replace","from":1,"to":1,"slice":{"content":[{"type":"text","text":"Y"}]}}`
	badStep = `{"stepType":"replace","from":100,"to":100}`
)

type fixture struct {
	ctx     context.Context
	store   *repository.MemoryStore
	manager *websocket.Manager
	svc     *CollabService
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	ctx := context.Background()
	store := repository.NewMemoryStore()

	for _, id := range []string{testPageID, otherPage} {
		err := store.Create(ctx, &domain.Page{
			ID:        id,
			Title:     "Doc",
			Content:   json.RawMessage(`{"type":"doc","content":[{"type":"paragraph","content":[{"type":"text","text":"hello"}]}]}`),
			Version:   5,
			CreatedBy: "owner",
		})
		if err != nil {
			t.Fatalf("Create() error = %v", err)
		}
		for user, role := range map[string]string{"alice": "editor", "bob": "editor", "carol": "admin", "victor": "viewer"} {
			store.Grant(ctx, &domain.PermissionGrant{PageID: id, UserID: user, Role: role})
		}
	}

	manager := websocket.NewManager(websocket.Options{SendBufferSize: 128, ResendBufferSize: 10})
	perms := NewPermissionService(store, store)

	return &fixture{
		ctx:     ctx,
		store:   store,
		manager: manager,
		svc:     NewCollabService(store, perms, manager, testSecret, 1000),
	}
}

func (f *fixture) token(t *testing.T, user string) string {
	t.Helper()
	token, err := jwt.GenerateToken(user, user, time.Hour, testSecret)
	if err != nil {
		t.Fatalf("GenerateToken() error = %v", err)
	}
	return token
}

func (f *fixture) subscribe(t *testing.T, c *websocket.Client, user, roomID string, connection *int, v *int64) {
	t.Helper()
	err := f.svc.Subscribe(f.ctx, c, &websocket.Message{
		Type:       websocket.TypeSubscribe,
		RoomID:     roomID,
		AuthToken:  f.token(t, user),
		Connection: connection,
		V:          v,
	})
	if err != nil {
		t.Fatalf("Subscribe() error = %v", err)
	}
}

// joined subscribes a fresh client and drains what it was sent.
func (f *fixture) joined(t *testing.T, id, user string) *websocket.Client {
	t.Helper()
	c := f.manager.NewClient(id, nil)
	f.subscribe(t, c, user, testPageID, nil, nil)
	drain(c)
	return c
}

func (f *fixture) storedVersion(t *testing.T) int64 {
	t.Helper()
	page, err := f.store.FindByID(f.ctx, testPageID)
	if err != nil {
		t.Fatalf("FindByID() error = %v", err)
	}
	return page.Version
}

func diff(rid string, v int64, steps ...string) *websocket.Message {
	msg := &websocket.Message{Type: websocket.TypeDiff, RID: json.RawMessage(`"` + rid + `"`), V: websocket.Int64(v)}
	for _, s := range steps {
		msg.Steps = append(msg.Steps, json.RawMessage(s))
	}
	return msg
}

func recv(t *testing.T, c *websocket.Client) *websocket.Message {
	t.Helper()
	select {
	case data := <-c.Send:
		var msg websocket.Message
		if err := json.Unmarshal(data, &msg); err != nil {
			t.Fatalf("client %s: invalid frame %s: %v", c.ID, data, err)
		}
		return &msg
	default:
		t.Fatalf("client %s: no queued message", c.ID)
		return nil
	}
}

func expectNothing(t *testing.T, c *websocket.Client) {
	t.Helper()
	select {
	case data := <-c.Send:
		t.Fatalf("client %s: unexpected message %s", c.ID, data)
	default:
	}
}

func drain(c *websocket.Client) {
	for {
		select {
		case <-c.Send:
		default:
			return
		}
	}
}

func docVersion(t *testing.T, msg *websocket.Message) int64 {
	t.Helper()
	var doc websocket.DocContent
	if err := json.Unmarshal(msg.Doc, &doc); err != nil {
		t.Fatalf("invalid doc payload: %v", err)
	}
	return doc.V
}

func intPtr(v int) *int {
	return &v
}

func TestCollaborationScenario(t *testing.T) {
	f := newFixture(t)
	a := f.manager.NewClient("a", nil)
	b := f.manager.NewClient("b", nil)

	f.subscribe(t, a, "alice", testPageID, nil, nil)
	assert.Equal(t, recv(t, a).Type, websocket.TypeSubscribed)
	snapshot := recv(t, a)
	assert.Equal(t, snapshot.Type, websocket.TypeDocData)
	assert.Equal(t, docVersion(t, snapshot), int64(5))
	assert.Equal(t, snapshot.DocInfo.Version, int64(5))
	assert.Equal(t, snapshot.DocInfo.SessionID, "a")
	expectNothing(t, a)

	f.subscribe(t, b, "bob", testPageID, intPtr(1), nil)
	assert.Equal(t, recv(t, b).Type, websocket.TypeSubscribed)
	expectNothing(t, b)

	roster := recv(t, a)
	assert.Equal(t, roster.Type, websocket.TypeConnections)
	assert.Equal(t, len(roster.ParticipantList), 2)
	assert.Equal(t, roster.ParticipantList[1].ID, "bob")
	assert.Equal(t, roster.ParticipantList[1].SessionID, "b")

	if err := f.svc.HandleDiff(f.ctx, a, diff("r1", 5, insertX)); err != nil {
		t.Fatalf("HandleDiff() error = %v", err)
	}
	confirm := recv(t, a)
	assert.Equal(t, confirm.Type, websocket.TypeConfirmDiff)
	assert.Equal(t, string(confirm.RID), `"r1"`)
	expectNothing(t, a)

	relayed := recv(t, b)
	assert.Equal(t, relayed.Type, websocket.TypeDiff)
	assert.Equal(t, *relayed.V, int64(5))
	assert.Equal(t, len(relayed.Steps), 1)
	assert.Equal(t, f.storedVersion(t), int64(6))

	if err := f.svc.HandleDiff(f.ctx, b, diff("r2", 5, insertY)); err != nil {
		t.Fatalf("HandleDiff() error = %v", err)
	}
	reject := recv(t, b)
	assert.Equal(t, reject.Type, websocket.TypeRejectDiff)
	assert.Equal(t, string(reject.RID), `"r2"`)
	expectNothing(t, a)
	assert.Equal(t, f.storedVersion(t), int64(6))

	page, _ := f.store.FindByID(f.ctx, testPageID)
	assert.Equal(t, page.ContentText, "Xhello")
	assert.Equal(t, page.UpdatedBy, "alice")
}

func TestSubscribeDenied(t *testing.T) {
	f := newFixture(t)

	tests := []struct {
		name   string
		roomID string
		token  string
	}{
		{"viewer cannot edit", testPageID, f.token(t, "victor")},
		{"no grant", testPageID, f.token(t, "mallory")},
		{"forged token", testPageID, "not-a-token"},
		{"missing token", testPageID, ""},
		{"room id is not a uuid", "doc-1", f.token(t, "alice")},
		{"unknown page", "11111111-2222-3333-4444-555555555555", f.token(t, "alice")},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := f.manager.NewClient("c-"+tt.name, nil)
			err := f.svc.Subscribe(f.ctx, c, &websocket.Message{
				Type:      websocket.TypeSubscribe,
				RoomID:    tt.roomID,
				AuthToken: tt.token,
			})
			if err != nil {
				t.Fatalf("Subscribe() error = %v", err)
			}

			msg := recv(t, c)
			assert.Equal(t, msg.Type, websocket.TypeError)
			assert.Equal(t, msg.Text, "You do not have permission to view this page")
			expectNothing(t, c)
			assert.Equal(t, c.State(), websocket.StateUnsubscribed)
			assert.Equal(t, c.RoomID(), "")
		})
	}

	assert.Equal(t, f.manager.RoomSize(testPageID), 0)
}

type allowAll struct{}

func (allowAll) CanEdit(ctx context.Context, userID, pageID string) (bool, error) {
	return true, nil
}

type failingPermissions struct{}

func (failingPermissions) CanEdit(ctx context.Context, userID, pageID string) (bool, error) {
	return false, errors.New("permission backend down")
}

func TestSubscribeLoadFailureDoesNotJoin(t *testing.T) {
	f := newFixture(t)
	svc := NewCollabService(f.store, allowAll{}, f.manager, testSecret, 1000)
	missing := "11111111-2222-3333-4444-555555555555"

	c := f.manager.NewClient("c", nil)
	err := svc.Subscribe(f.ctx, c, &websocket.Message{
		Type:      websocket.TypeSubscribe,
		RoomID:    missing,
		AuthToken: f.token(t, "alice"),
	})
	if !errors.Is(err, repository.ErrPageNotFound) {
		t.Fatalf("expected ErrPageNotFound, got %v", err)
	}

	msg := recv(t, c)
	assert.Equal(t, msg.Type, websocket.TypeError)
	assert.Equal(t, msg.Text, "There was an error loading the page! Please try again later.")
	assert.Equal(t, c.RoomID(), "")
	assert.Equal(t, f.manager.RoomSize(missing), 0)

	_, cached := svc.RoomVersion(missing)
	assert.Equal(t, cached, false)
}

func TestSubscribePermissionErrorFailsClosed(t *testing.T) {
	f := newFixture(t)
	svc := NewCollabService(f.store, failingPermissions{}, f.manager, testSecret, 1000)

	c := f.manager.NewClient("c", nil)
	err := svc.Subscribe(f.ctx, c, &websocket.Message{
		Type:      websocket.TypeSubscribe,
		RoomID:    testPageID,
		AuthToken: f.token(t, "alice"),
	})
	if err == nil {
		t.Fatal("expected permission backend error to be returned")
	}

	assert.Equal(t, recv(t, c).Text, "You do not have permission to view this page")
	assert.Equal(t, f.manager.RoomSize(testPageID), 0)
}

func TestSubscribeSnapshotDecision(t *testing.T) {
	tests := []struct {
		name       string
		connection *int
		v          *int64
		wantDoc    bool
	}{
		{"first connection", nil, nil, true},
		{"explicit zero", intPtr(0), nil, true},
		{"resume without version", intPtr(1), nil, false},
		{"resume at current version", intPtr(2), websocket.Int64(5), false},
		{"resume at old version", intPtr(2), websocket.Int64(3), true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			c := f.manager.NewClient("c", nil)
			f.subscribe(t, c, "alice", testPageID, tt.connection, tt.v)

			assert.Equal(t, recv(t, c).Type, websocket.TypeSubscribed)
			if tt.wantDoc {
				assert.Equal(t, recv(t, c).Type, websocket.TypeDocData)
			}
			expectNothing(t, c)
		})
	}
}

func TestConcurrentDiffsFirstCommitterWins(t *testing.T) {
	f := newFixture(t)
	const writers = 8

	clients := make([]*websocket.Client, writers)
	for i := range clients {
		user := "alice"
		if i%2 == 1 {
			user = "bob"
		}
		clients[i] = f.joined(t, string(rune('a'+i)), user)
	}
	for _, c := range clients {
		drain(c)
	}

	var wg sync.WaitGroup
	for i, c := range clients {
		wg.Add(1)
		go func(i int, c *websocket.Client) {
			defer wg.Done()
			f.svc.HandleDiff(f.ctx, c, diff(string(rune('a'+i)), 5, insertX))
		}(i, c)
	}
	wg.Wait()

	confirmed := 0
	rejected := 0
	for _, c := range clients {
		for {
			select {
			case data := <-c.Send:
				var msg websocket.Message
				json.Unmarshal(data, &msg)
				switch msg.Type {
				case websocket.TypeConfirmDiff:
					confirmed++
				case websocket.TypeRejectDiff:
					rejected++
				}
				continue
			default:
			}
			break
		}
	}

	assert.Equal(t, confirmed, 1)
	assert.Equal(t, rejected, writers-1)
	assert.Equal(t, f.storedVersion(t), int64(6))
}

func TestSequentialDiffsAdvanceOneVersionEach(t *testing.T) {
	f := newFixture(t)
	a := f.joined(t, "a", "alice")
	b := f.joined(t, "b", "bob")
	drain(a)

	for v := int64(5); v < 10; v++ {
		sender := a
		if v%2 == 0 {
			sender = b
		}
		if err := f.svc.HandleDiff(f.ctx, sender, diff("r", v, insertX)); err != nil {
			t.Fatalf("HandleDiff() error = %v", err)
		}
		assert.Equal(t, recv(t, sender).Type, websocket.TypeConfirmDiff)
		assert.Equal(t, f.storedVersion(t), v+1)
		drain(a)
		drain(b)
	}

	version, ok := f.svc.RoomVersion(testPageID)
	assert.Equal(t, ok, true)
	assert.Equal(t, version, int64(10))
}

func TestDiffAheadOfServerIsRejected(t *testing.T) {
	f := newFixture(t)
	a := f.joined(t, "a", "alice")

	f.svc.HandleDiff(f.ctx, a, diff("r1", 9, insertX))
	assert.Equal(t, recv(t, a).Type, websocket.TypeRejectDiff)

	f.svc.HandleDiff(f.ctx, a, &websocket.Message{Type: websocket.TypeDiff, RID: json.RawMessage(`1`)})
	assert.Equal(t, recv(t, a).Type, websocket.TypeRejectDiff)
	assert.Equal(t, f.storedVersion(t), int64(5))
}

func TestDiffWithTitleAndFullDocument(t *testing.T) {
	f := newFixture(t)
	a := f.joined(t, "a", "alice")

	title := "Renamed"
	msg := diff("r1", 5)
	msg.Title = &title
	msg.Doc = json.RawMessage(`{"type":"doc","content":[{"type":"paragraph","content":[{"type":"text","text":"fresh"}]}]}`)

	if err := f.svc.HandleDiff(f.ctx, a, msg); err != nil {
		t.Fatalf("HandleDiff() error = %v", err)
	}
	assert.Equal(t, recv(t, a).Type, websocket.TypeConfirmDiff)

	page, _ := f.store.FindByID(f.ctx, testPageID)
	assert.Equal(t, page.Title, "Renamed")
	assert.Equal(t, page.ContentText, "fresh")
	assert.Equal(t, page.Version, int64(6))
}

func TestStepFailureResetsCollaboration(t *testing.T) {
	f := newFixture(t)
	a := f.joined(t, "a", "alice")
	b := f.joined(t, "b", "bob")
	drain(a)

	if err := f.svc.HandleDiff(f.ctx, a, diff("r1", 5, badStep)); err != nil {
		t.Fatalf("HandleDiff() error = %v", err)
	}

	for _, c := range []*websocket.Client{a, b} {
		doc := recv(t, c)
		assert.Equal(t, doc.Type, websocket.TypeDocData)
		assert.Equal(t, docVersion(t, doc), int64(5))
		assert.Equal(t, recv(t, c).Type, websocket.TypePatchError)
		expectNothing(t, c)
	}
	assert.Equal(t, f.storedVersion(t), int64(5))
}

func TestStoreConflictRejectsAndReloads(t *testing.T) {
	f := newFixture(t)
	a := f.joined(t, "a", "alice")

	// another instance writes version 6 behind this one's back
	_, err := f.store.UpdateContent(f.ctx, &domain.ContentUpdate{
		PageID:          testPageID,
		Content:         json.RawMessage(`{"type":"doc","content":[{"type":"paragraph","content":[{"type":"text","text":"remote"}]}]}`),
		ExpectedVersion: 5,
		UpdatedBy:       "remote",
	})
	if err != nil {
		t.Fatalf("UpdateContent() error = %v", err)
	}

	f.svc.HandleDiff(f.ctx, a, diff("r1", 5, insertX))
	assert.Equal(t, recv(t, a).Type, websocket.TypeRejectDiff)
	assert.Equal(t, f.storedVersion(t), int64(6))

	version, _ := f.svc.RoomVersion(testPageID)
	assert.Equal(t, version, int64(6))

	f.svc.HandleDiff(f.ctx, a, diff("r2", 6, insertX))
	assert.Equal(t, recv(t, a).Type, websocket.TypeConfirmDiff)

	page, _ := f.store.FindByID(f.ctx, testPageID)
	assert.Equal(t, page.ContentText, "Xremote")
}

func TestSelectionChange(t *testing.T) {
	f := newFixture(t)
	a := f.joined(t, "a", "alice")
	b := f.joined(t, "b", "bob")
	drain(a)

	sel := &websocket.Message{
		Type:      websocket.TypeSelectionChange,
		ID:        "alice",
		SessionID: "a",
		Anchor:    intPtr(2),
		Head:      intPtr(4),
		V:         websocket.Int64(5),
	}
	f.svc.HandleSelection(f.ctx, a, sel)

	got := recv(t, b)
	assert.Equal(t, got.Type, websocket.TypeSelectionChange)
	assert.Equal(t, *got.Anchor, 2)
	assert.Equal(t, *got.Head, 4)
	expectNothing(t, a)

	sel.V = websocket.Int64(4)
	f.svc.HandleSelection(f.ctx, a, sel)
	expectNothing(t, b)
}

func TestCheckVersion(t *testing.T) {
	f := newFixture(t)
	a := f.joined(t, "a", "alice")

	for v := int64(5); v < 7; v++ {
		f.svc.HandleDiff(f.ctx, a, diff("r", v, insertX))
		recv(t, a)
	}

	f.svc.CheckVersion(f.ctx, a, &websocket.Message{Type: websocket.TypeCheckVersion, V: websocket.Int64(7)})
	confirm := recv(t, a)
	assert.Equal(t, confirm.Type, websocket.TypeConfirmVersion)
	assert.Equal(t, *confirm.V, int64(7))

	f.svc.CheckVersion(f.ctx, a, &websocket.Message{Type: websocket.TypeCheckVersion, V: websocket.Int64(6)})
	behind := recv(t, a)
	assert.Equal(t, behind.Type, websocket.TypeDocData)
	assert.Equal(t, len(behind.Messages), 1)
	assert.Equal(t, *behind.Messages[0].V, int64(6))

	f.svc.CheckVersion(f.ctx, a, &websocket.Message{Type: websocket.TypeCheckVersion, V: websocket.Int64(1)})
	old := recv(t, a)
	assert.Equal(t, old.Type, websocket.TypeDocData)
	assert.Equal(t, len(old.Messages), 0)
	assert.Equal(t, docVersion(t, old), int64(7))
}

func TestGetDocumentReadsStore(t *testing.T) {
	f := newFixture(t)
	a := f.joined(t, "a", "alice")

	f.store.UpdateContent(f.ctx, &domain.ContentUpdate{
		PageID:          testPageID,
		Content:         json.RawMessage(`{"type":"doc"}`),
		ExpectedVersion: 5,
	})

	if err := f.svc.GetDocument(f.ctx, a, &websocket.Message{Type: websocket.TypeGetDocument}); err != nil {
		t.Fatalf("GetDocument() error = %v", err)
	}
	doc := recv(t, a)
	assert.Equal(t, doc.Type, websocket.TypeDocData)
	assert.Equal(t, docVersion(t, doc), int64(6))
	assert.Equal(t, doc.DocInfo.ID, testPageID)
}

func TestMessagesOutsideRoomAreIgnored(t *testing.T) {
	f := newFixture(t)
	c := f.manager.NewClient("c", nil)

	f.svc.HandleDiff(f.ctx, c, diff("r1", 5, insertX))
	f.svc.HandleSelection(f.ctx, c, &websocket.Message{Type: websocket.TypeSelectionChange, V: websocket.Int64(5)})
	f.svc.GetDocument(f.ctx, c, &websocket.Message{Type: websocket.TypeGetDocument})
	f.svc.CheckVersion(f.ctx, c, &websocket.Message{Type: websocket.TypeCheckVersion, V: websocket.Int64(5)})

	expectNothing(t, c)
	assert.Equal(t, f.storedVersion(t), int64(5))
}

func TestUnsubscribe(t *testing.T) {
	f := newFixture(t)
	a := f.joined(t, "a", "alice")
	b := f.joined(t, "b", "bob")
	drain(a)

	// wrong room is a no-op
	f.svc.Unsubscribe(f.ctx, b, &websocket.Message{Type: websocket.TypeUnsubscribe, RoomID: otherPage})
	assert.Equal(t, b.RoomID(), testPageID)
	expectNothing(t, a)

	f.svc.Unsubscribe(f.ctx, b, &websocket.Message{Type: websocket.TypeUnsubscribe, RoomID: testPageID})
	assert.Equal(t, b.RoomID(), "")
	assert.Equal(t, b.State(), websocket.StateUnsubscribed)

	roster := recv(t, a)
	assert.Equal(t, roster.Type, websocket.TypeConnections)
	assert.Equal(t, len(roster.ParticipantList), 1)
	assert.Equal(t, roster.ParticipantList[0].ID, "alice")

	// b no longer receives room traffic
	f.svc.HandleDiff(f.ctx, a, diff("r1", 5, insertX))
	expectNothing(t, b)

	f.svc.Disconnect(f.ctx, a)
	assert.Equal(t, f.manager.RoomSize(testPageID), 0)
	_, cached := f.svc.RoomVersion(testPageID)
	assert.Equal(t, cached, false)

	// a second disconnect is harmless
	f.svc.Disconnect(f.ctx, a)
}

func TestSubscribeToAnotherRoomLeavesTheFirst(t *testing.T) {
	f := newFixture(t)
	a := f.joined(t, "a", "alice")
	b := f.joined(t, "b", "bob")
	drain(a)

	f.subscribe(t, b, "bob", otherPage, nil, nil)
	assert.Equal(t, b.RoomID(), otherPage)
	assert.Equal(t, f.manager.RoomSize(testPageID), 1)
	assert.Equal(t, f.manager.RoomSize(otherPage), 1)

	roster := recv(t, a)
	assert.Equal(t, roster.Type, websocket.TypeConnections)
	assert.Equal(t, len(roster.ParticipantList), 1)
}

type fakeRelay struct {
	mu        sync.Mutex
	published []relay.Envelope
	handle    func(relay.Envelope)
}

func (r *fakeRelay) Publish(ctx context.Context, roomID string, message any) error {
	data, err := json.Marshal(message)
	if err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.published = append(r.published, relay.Envelope{Origin: "local", RoomID: roomID, Message: data})
	return nil
}

func (r *fakeRelay) Subscribe(ctx context.Context, handle func(relay.Envelope)) error {
	r.handle = handle
	return nil
}

func TestRelayPublishesAcceptedDiffs(t *testing.T) {
	f := newFixture(t)
	rl := &fakeRelay{}
	f.svc.SetRelay(rl)
	if err := f.svc.Start(f.ctx); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	a := f.joined(t, "a", "alice")

	f.svc.HandleDiff(f.ctx, a, diff("r1", 5, insertX))
	f.svc.HandleDiff(f.ctx, a, diff("r2", 5, insertY))

	assert.Equal(t, len(rl.published), 1)
	assert.Equal(t, rl.published[0].RoomID, testPageID)
}

func TestHandleRelayAppliesRemoteDiff(t *testing.T) {
	f := newFixture(t)
	rl := &fakeRelay{}
	f.svc.SetRelay(rl)
	f.svc.Start(f.ctx)
	b := f.joined(t, "b", "bob")

	remote, _ := json.Marshal(diff("r9", 5, insertX))
	rl.handle(relay.Envelope{Origin: "other", RoomID: testPageID, Message: remote})

	got := recv(t, b)
	assert.Equal(t, got.Type, websocket.TypeDiff)
	assert.Equal(t, string(got.RID), `"r9"`)

	version, _ := f.svc.RoomVersion(testPageID)
	assert.Equal(t, version, int64(6))

	// a diff that does not line up marks the room for reload
	misaligned, _ := json.Marshal(diff("r10", 42, insertX))
	rl.handle(relay.Envelope{Origin: "other", RoomID: testPageID, Message: misaligned})
	recv(t, b)

	f.svc.GetDocument(f.ctx, b, &websocket.Message{Type: websocket.TypeGetDocument})
	doc := recv(t, b)
	assert.Equal(t, docVersion(t, doc), int64(5))
}

func TestDiffStaysInItsRoom(t *testing.T) {
	f := newFixture(t)
	a := f.joined(t, "a", "alice")
	other := f.manager.NewClient("z", nil)
	f.subscribe(t, other, "bob", otherPage, nil, nil)
	drain(other)

	f.svc.HandleDiff(f.ctx, a, diff("r1", 5, insertX))
	assert.Equal(t, recv(t, a).Type, websocket.TypeConfirmDiff)

	expectNothing(t, other)
	version, _ := f.svc.RoomVersion(otherPage)
	assert.Equal(t, version, int64(5))
}

func TestUnsubscribeWithoutRoomIsNoop(t *testing.T) {
	f := newFixture(t)
	c := f.manager.NewClient("c", nil)

	err := f.svc.Unsubscribe(f.ctx, c, &websocket.Message{Type: websocket.TypeUnsubscribe, RoomID: testPageID})
	if err != nil {
		t.Fatalf("Unsubscribe() error = %v", err)
	}
	err = f.svc.Unsubscribe(f.ctx, c, &websocket.Message{Type: websocket.TypeUnsubscribe})
	if err != nil {
		t.Fatalf("Unsubscribe() error = %v", err)
	}

	expectNothing(t, c)
	assert.Equal(t, c.State(), websocket.StateUnsubscribed)
}
