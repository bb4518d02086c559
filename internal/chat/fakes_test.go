package chat

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"
)

type fakeVerifier struct {
	identities map[string]Identity
}

func (v *fakeVerifier) Verify(_ context.Context, token string) (Identity, error) {
	id, ok := v.identities[token]
	if !ok {
		return Identity{}, ErrInvalidToken
	}
	return id, nil
}

type fakeDirectory struct {
	mu      sync.Mutex
	rooms   map[RoomID]Room
	users   map[UserID]User
	online  map[UserID]bool
	members map[RoomID]map[UserID]bool
	flips   []bool
	fail    error
}

func newFakeDirectory() *fakeDirectory {
	return &fakeDirectory{
		rooms: map[RoomID]Room{
			5: {ID: 5, Name: "general"},
			6: {ID: 6, Name: "random"},
		},
		users: map[UserID]User{
			7: {ID: 7, Username: "alice"},
			9: {ID: 9, Username: "bob"},
		},
		online:  make(map[UserID]bool),
		members: make(map[RoomID]map[UserID]bool),
	}
}

func (d *fakeDirectory) FindRoom(_ context.Context, id RoomID) (Room, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.fail != nil {
		return Room{}, d.fail
	}
	r, ok := d.rooms[id]
	if !ok {
		return Room{}, ErrNotFound
	}
	return r, nil
}

func (d *fakeDirectory) FindUser(_ context.Context, id UserID) (User, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.fail != nil {
		return User{}, d.fail
	}
	u, ok := d.users[id]
	if !ok {
		return User{}, ErrNotFound
	}
	return u, nil
}

func (d *fakeDirectory) AddMember(_ context.Context, roomID RoomID, userID UserID) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.members[roomID] == nil {
		d.members[roomID] = make(map[UserID]bool)
	}
	d.members[roomID][userID] = true
	return nil
}

func (d *fakeDirectory) RemoveMember(_ context.Context, roomID RoomID, userID UserID) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.members[roomID], userID)
	return nil
}

func (d *fakeDirectory) SetOnline(_ context.Context, userID UserID, online bool) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.online[userID] = online
	d.flips = append(d.flips, online)
	return nil
}

func (d *fakeDirectory) isOnline(id UserID) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.online[id]
}

type fakeStore struct {
	mu       sync.Mutex
	dir      *fakeDirectory
	messages []PersistedMessage
	fail     error
}

func (s *fakeStore) Append(_ context.Context, roomID RoomID, userID UserID, content string) (PersistedMessage, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.fail != nil {
		return PersistedMessage{}, s.fail
	}
	msg := PersistedMessage{
		ID:        int64(len(s.messages) + 1),
		RoomID:    roomID,
		UserID:    userID,
		Username:  s.dir.users[userID].Username,
		Content:   content,
		CreatedAt: time.Date(2025, 1, 2, 3, 4, 5, 0, time.UTC).Format(time.RFC3339),
	}
	s.messages = append(s.messages, msg)
	return msg, nil
}

func (s *fakeStore) List(_ context.Context, roomID RoomID, _, _ int) ([]PersistedMessage, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []PersistedMessage
	for _, m := range s.messages {
		if m.RoomID == roomID {
			out = append(out, m)
		}
	}
	return out, nil
}

type fakePresence struct {
	mu     sync.Mutex
	online map[UserID]bool
	rooms  map[RoomID]map[UserID]bool
}

func newFakePresence() *fakePresence {
	return &fakePresence{online: map[UserID]bool{}, rooms: map[RoomID]map[UserID]bool{}}
}

func (p *fakePresence) Online(_ context.Context, id UserID) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.online[id] = true
	return nil
}

func (p *fakePresence) Offline(_ context.Context, id UserID) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.online, id)
	return nil
}

func (p *fakePresence) Entered(_ context.Context, roomID RoomID, id UserID) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.rooms[roomID] == nil {
		p.rooms[roomID] = map[UserID]bool{}
	}
	p.rooms[roomID][id] = true
	return nil
}

func (p *fakePresence) Exited(_ context.Context, roomID RoomID, id UserID) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.rooms[roomID], id)
	return nil
}

func (p *fakePresence) inRoom(roomID RoomID, id UserID) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.rooms[roomID][id]
}

var errSendFailed = errors.New("send buffer full")

// recordingConn captures every frame it is sent.
type recordingConn struct {
	mu     sync.Mutex
	frames []Envelope
	broken bool
}

func (c *recordingConn) Send(frame []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.broken {
		return errSendFailed
	}
	var env Envelope
	if err := json.Unmarshal(frame, &env); err != nil {
		return err
	}
	c.frames = append(c.frames, env)
	return nil
}

func (c *recordingConn) events() []Envelope {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]Envelope(nil), c.frames...)
}

func (c *recordingConn) named(event string) []Envelope {
	var out []Envelope
	for _, env := range c.events() {
		if env.Event == event {
			out = append(out, env)
		}
	}
	return out
}

func (c *recordingConn) reset() {
	c.mu.Lock()
	c.frames = nil
	c.mu.Unlock()
}

type testEnv struct {
	hub      *Hub
	dir      *fakeDirectory
	store    *fakeStore
	presence *fakePresence
}

func newTestEnv(t *testing.T, opts Options) *testEnv {
	t.Helper()

	dir := newFakeDirectory()
	store := &fakeStore{dir: dir}
	presence := newFakePresence()
	verifier := &fakeVerifier{identities: map[string]Identity{
		"alice-token": {UserID: 7, Username: "alice"},
		"bob-token":   {UserID: 9, Username: "bob"},
	}}

	hub := NewHub(Deps{
		Verifier:  verifier,
		Directory: dir,
		Messages:  store,
		Presence:  presence,
	}, opts)

	return &testEnv{hub: hub, dir: dir, store: store, presence: presence}
}

func (e *testEnv) connect(t *testing.T, token string) (Handle, *recordingConn) {
	t.Helper()
	conn := &recordingConn{}
	h, _ := e.hub.Connect(context.Background(), conn, token)
	return h, conn
}

func (e *testEnv) send(t *testing.T, h Handle, event string, data any) {
	t.Helper()
	raw, err := json.Marshal(data)
	if err != nil {
		t.Fatalf("marshal %s payload: %v", event, err)
	}
	e.hub.Router.Handle(context.Background(), h, event, raw)
}

func decodeData[T any](t *testing.T, env Envelope) T {
	t.Helper()
	var v T
	if err := json.Unmarshal(env.Data, &v); err != nil {
		t.Fatalf("decode %s data %s: %v", env.Event, env.Data, err)
	}
	return v
}

func lastError(t *testing.T, conn *recordingConn) string {
	t.Helper()
	errs := conn.named(EventError)
	if len(errs) == 0 {
		t.Fatalf("expected an error event, got %+v", conn.events())
	}
	return decodeData[ErrorPayload](t, errs[len(errs)-1]).Message
}
