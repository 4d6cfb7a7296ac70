package notify

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/bwmarrin/discordgo"
	"github.com/slack-go/slack"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type recordingSink struct {
	mu     sync.Mutex
	events []*Event
	block  chan struct{}
	fail   bool
	closed bool
}

func (r *recordingSink) Name() string { return "recording" }

func (r *recordingSink) Deliver(_ context.Context, e *Event) error {
	if r.block != nil {
		<-r.block
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, e)
	if r.fail {
		return errors.New("sink down")
	}
	return nil
}

func (r *recordingSink) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.closed = true
	return nil
}

func (r *recordingSink) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.events)
}

func TestDispatcherFansOutAndDrainsOnClose(t *testing.T) {
	a, b := &recordingSink{}, &recordingSink{fail: true}
	d := NewDispatcher(16, zap.NewNop(), a, b)
	for i := 0; i < 5; i++ {
		d.Emit(NewEvent(EventAssigned, "as", "w", "ag", time.Now()))
	}
	require.NoError(t, d.Close())

	assert.Equal(t, 5, a.count())
	assert.Equal(t, 5, b.count())
	assert.True(t, a.closed)

	// emitting after close is a no-op
	d.Emit(NewEvent(EventCompleted, "as", "w", "ag", time.Now()))
	assert.Equal(t, 5, a.count())
	require.NoError(t, d.Close())
}

func TestDispatcherEmitNeverBlocks(t *testing.T) {
	s := &recordingSink{block: make(chan struct{})}
	d := NewDispatcher(1, zap.NewNop(), s)

	done := make(chan struct{})
	go func() {
		for i := 0; i < 50; i++ {
			d.Emit(NewEvent(EventAssigned, "as", "w", "ag", time.Now()))
		}
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Emit blocked on a slow sink")
	}
	close(s.block)
	require.NoError(t, d.Close())
	assert.Less(t, s.count(), 50)
}

func TestFormatEvent(t *testing.T) {
	e := &Event{Type: EventReassigned, WorkItemID: "w1", AgentID: "bob", PreviousAgentID: "alice", Reason: "on leave"}
	assert.Equal(t, "Work item w1 reassigned from alice to bob (on leave)", FormatEvent(e))

	e = &Event{Type: EventCompleted, WorkItemID: "w1", AgentID: "bob"}
	assert.Equal(t, "Work item w1 completed by bob", FormatEvent(e))
}

func TestSlackSinkPostsMessage(t *testing.T) {
	var gotChannel, gotText string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = r.ParseForm()
		gotChannel = r.FormValue("channel")
		gotText = r.FormValue("text")
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"ok":true,"channel":"C123","ts":"1700000000.000100"}`))
	}))
	defer srv.Close()

	s := NewSlackSink("xoxb-test", "C123", zap.NewNop(), slack.OptionAPIURL(srv.URL+"/"))
	err := s.Deliver(context.Background(), &Event{Type: EventAssigned, WorkItemID: "w9", AgentID: "carol"})
	require.NoError(t, err)
	assert.Equal(t, "C123", gotChannel)
	assert.Equal(t, "Work item w9 assigned to carol", gotText)
}

type fakeDiscord struct {
	channel, content string
	err              error
}

func (f *fakeDiscord) ChannelMessageSend(channelID, content string, _ ...discordgo.RequestOption) (*discordgo.Message, error) {
	f.channel, f.content = channelID, content
	return &discordgo.Message{}, f.err
}

func TestDiscordSink(t *testing.T) {
	fake := &fakeDiscord{}
	s := &DiscordSink{session: fake, channelID: "chan-1", logger: zap.NewNop()}
	require.NoError(t, s.Deliver(context.Background(), &Event{Type: EventCancelled, WorkItemID: "w2", AgentID: "dan"}))
	assert.Equal(t, "chan-1", fake.channel)
	assert.Equal(t, "Assignment of work item w2 to dan cancelled", fake.content)

	fake.err = errors.New("rate limited")
	assert.Error(t, s.Deliver(context.Background(), &Event{Type: EventAssigned}))
}
