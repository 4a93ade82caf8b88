package chat

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/conduit-ai/conduit/internal/llm"
	"github.com/conduit-ai/conduit/internal/routing"
	"github.com/conduit-ai/conduit/pkg/types"
)

// maxTitleLength bounds the auto-derived chat title.
const maxTitleLength = 48

// ErrChatBusy is returned when a chat already has a response in flight.
// Callers serialize submissions per chat; independent chats stream freely.
var ErrChatBusy = errors.New("a response is already streaming for this chat")

// ChatStore is the persistence collaborator. Writes may be slow or fail
// transiently; a failed write never fails an in-memory response.
type ChatStore interface {
	UpsertChat(ctx context.Context, chat *types.Chat) error
	SaveMessages(ctx context.Context, chatID string, messages []types.Message) error
}

// EventType tags the normalized events a caller-facing stream consumes.
type EventType string

const (
	// EventRouting is always first: the routing decision for this exchange.
	EventRouting EventType = "routing"
	EventDelta   EventType = "delta"
	EventDone    EventType = "done"
	EventError   EventType = "error"
)

// Event is one frame of a caller-facing response stream.
type Event struct {
	Type EventType `json:"type"`

	// Routing frame
	Model       string             `json:"model,omitempty"`
	Task        types.TaskCategory `json:"task,omitempty"`
	Segmented   bool               `json:"segmented,omitempty"`
	Substituted bool               `json:"substituted,omitempty"`
	Reason      string             `json:"reason,omitempty"`

	// Delta frame
	Delta string `json:"delta,omitempty"`

	// Done and error frames carry the finalized message; done also carries
	// the usage totals.
	Usage   *types.Usage   `json:"usage,omitempty"`
	Message *types.Message `json:"message,omitempty"`
}

// SendOptions carries the per-exchange caller inputs.
type SendOptions struct {
	Tier        types.Tier
	ModelID     string
	Provider    string
	Temperature float64
	Images      []string
}

// Manager routes and dispatches exchanges, one in flight per chat.
type Manager struct {
	selector *routing.Selector
	registry *llm.Registry
	store    ChatStore
	debounce time.Duration
	log      zerolog.Logger

	mu       sync.Mutex
	inflight map[string]bool
}

// NewManager wires the session manager.
func NewManager(selector *routing.Selector, registry *llm.Registry, store ChatStore, debounce time.Duration, log zerolog.Logger) *Manager {
	if debounce <= 0 {
		debounce = 750 * time.Millisecond
	}
	return &Manager{
		selector: selector,
		registry: registry,
		store:    store,
		debounce: debounce,
		log:      log,
		inflight: make(map[string]bool),
	}
}

// NewChat builds an empty chat for an owner.
func NewChat(ownerID string) *types.Chat {
	now := time.Now()
	return &types.Chat{
		ID:        uuid.NewString(),
		OwnerID:   ownerID,
		Title:     types.DefaultChatTitle,
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// Send submits a prompt on a chat and returns the event stream for the
// response. Routing failures surface as an error return before any event is
// emitted; upstream failures arrive as an error frame on the stream. The
// chat's message slice is mutated in place (user message plus assistant
// placeholder appended before Send returns).
func (m *Manager) Send(ctx context.Context, chat *types.Chat, prompt string, opts SendOptions) (<-chan Event, error) {
	m.mu.Lock()
	if m.inflight[chat.ID] {
		m.mu.Unlock()
		return nil, ErrChatBusy
	}
	m.inflight[chat.ID] = true
	m.mu.Unlock()

	modelID := opts.ModelID
	if modelID == "" {
		modelID = chat.DefaultModel
	}

	decision, err := m.selector.Select(ctx, routing.Input{
		Prompt:   prompt,
		Tier:     opts.Tier,
		ModelID:  modelID,
		Provider: opts.Provider,
		Images:   opts.Images,
	})
	if err != nil {
		m.release(chat.ID)
		return nil, err
	}

	now := time.Now()
	userMsg := types.Message{
		ID:        uuid.NewString(),
		Role:      types.RoleUser,
		Content:   prompt,
		Images:    opts.Images,
		CreatedAt: now,
	}
	placeholder := types.Message{
		ID:        uuid.NewString(),
		Role:      types.RoleAssistant,
		Model:     decision.Model.ID,
		CreatedAt: now,
		Loading:   true,
	}
	chat.Messages = append(chat.Messages, userMsg, placeholder)
	chat.UpdatedAt = now

	req := m.buildRequest(chat, decision, opts)

	events := make(chan Event, 16)
	go m.run(ctx, chat, decision, req, events)
	return events, nil
}

// buildRequest assembles the provider request from chat history. A segmented
// prompt replaces the final user turn with one message per segment so each
// piece stays inside the model's context budget.
func (m *Manager) buildRequest(chat *types.Chat, decision *routing.Output, opts SendOptions) *llm.ChatRequest {
	req := &llm.ChatRequest{
		Model:       decision.Model.ID,
		Temperature: opts.Temperature,
	}

	// History excludes the trailing placeholder and the user turn we may
	// expand below; error messages never go upstream.
	history := chat.Messages[:len(chat.Messages)-2]
	for _, msg := range history {
		if msg.Role == types.RoleError || msg.Loading {
			continue
		}
		req.Messages = append(req.Messages, msg)
	}

	userMsg := chat.Messages[len(chat.Messages)-2]
	if decision.Segmented() {
		for i, seg := range decision.Segments {
			segMsg := types.Message{Role: types.RoleUser, Content: seg}
			if i == 0 {
				segMsg.Images = userMsg.Images
			}
			req.Messages = append(req.Messages, segMsg)
		}
	} else {
		req.Messages = append(req.Messages, userMsg)
	}
	return req
}

// run drives one exchange to a terminal state.
func (m *Manager) run(ctx context.Context, chat *types.Chat, decision *routing.Output, req *llm.ChatRequest, out chan<- Event) {
	defer close(out)
	defer m.release(chat.ID)

	emit := func(ev Event) {
		select {
		case <-ctx.Done():
		case out <- ev:
		}
	}

	emit(Event{
		Type:        EventRouting,
		Model:       decision.Model.ID,
		Task:        decision.Task,
		Segmented:   decision.Segmented(),
		Substituted: decision.Substituted,
		Reason:      decision.Reason,
	})

	placeholder := &chat.Messages[len(chat.Messages)-1]

	// The timer goroutine must never see the live chat: every flush works on
	// a deep snapshot taken here, on the goroutine doing the mutating. The
	// flusher is stopped before finalize so the terminal flush lands last.
	flusher := newDebouncedFlush(m.debounce, m.persist)

	// The notify hook sees accumulated snapshots; the previous length
	// recovers the fragment for the delta frame.
	prevLen := 0
	agg := NewAggregator(placeholder, func(snapshot types.Message) {
		chat.UpdatedAt = time.Now()
		if snapshot.Loading && len(snapshot.Content) > prevLen {
			emit(Event{Type: EventDelta, Delta: snapshot.Content[prevLen:]})
		}
		prevLen = len(snapshot.Content)
		flusher.touch(snapshotChat(chat))
	})

	stream, err := m.registry.Stream(ctx, decision.Model, req)
	if err != nil {
		agg.Fail(err)
		flusher.stop()
		m.finalize(chat, agg, emit)
		return
	}

	agg.Consume(ctx, stream)
	flusher.stop()
	m.finalize(chat, agg, emit)
}

// finalize settles the title, flushes persistence, and emits the terminal
// frame.
func (m *Manager) finalize(chat *types.Chat, agg *Aggregator, emit func(Event)) {
	final := agg.Message()

	if agg.State() == StateCompleted && chat.Title == types.DefaultChatTitle {
		if title := deriveTitle(firstUserPrompt(chat)); title != "" {
			chat.Title = title
		}
	}

	m.persist(snapshotChat(chat))

	if agg.State() == StateCompleted {
		emit(Event{Type: EventDone, Usage: final.Usage, Message: &final})
	} else {
		emit(Event{Type: EventError, Message: &final})
	}
}

// persist writes a chat snapshot. Failures are logged, never propagated:
// the in-memory response already succeeded.
func (m *Manager) persist(snap types.Chat) {
	if m.store == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := m.store.UpsertChat(ctx, &snap); err != nil {
		m.log.Warn().Err(err).Str("chat", snap.ID).Msg("chat persist failed")
		return
	}
	if err := m.store.SaveMessages(ctx, snap.ID, snap.Messages); err != nil {
		m.log.Warn().Err(err).Str("chat", snap.ID).Msg("message persist failed")
	}
}

// snapshotChat deep-copies the chat so a flush on another goroutine never
// reads memory the stream goroutine is still writing.
func snapshotChat(chat *types.Chat) types.Chat {
	snap := *chat
	snap.Messages = make([]types.Message, len(chat.Messages))
	copy(snap.Messages, chat.Messages)
	return snap
}

func (m *Manager) release(chatID string) {
	m.mu.Lock()
	delete(m.inflight, chatID)
	m.mu.Unlock()
}

func firstUserPrompt(chat *types.Chat) string {
	for _, msg := range chat.Messages {
		if msg.Role == types.RoleUser {
			return msg.Content
		}
	}
	return ""
}

// deriveTitle trims the prompt to a title-sized string at a word boundary.
func deriveTitle(prompt string) string {
	title := strings.TrimSpace(strings.ReplaceAll(prompt, "\n", " "))
	if title == "" {
		return ""
	}
	if len(title) <= maxTitleLength {
		return title
	}
	cut := title[:maxTitleLength]
	if idx := strings.LastIndex(cut, " "); idx > maxTitleLength/2 {
		cut = cut[:idx]
	}
	return cut + "…"
}

// ═══════════════════════════════════════════════════════════════════════════════
// DEBOUNCED PERSISTENCE
// ═══════════════════════════════════════════════════════════════════════════════

// debouncedFlush coalesces rapid mutations into one write after an idle
// period. Each touch carries a self-contained snapshot; the timer goroutine
// only ever reads the snapshot it was handed, never live state. Terminal
// states flush directly via the manager, not through here.
type debouncedFlush struct {
	mu      sync.Mutex
	timer   *time.Timer
	delay   time.Duration
	fn      func(types.Chat)
	pending types.Chat
	done    bool
}

func newDebouncedFlush(delay time.Duration, fn func(types.Chat)) *debouncedFlush {
	return &debouncedFlush{delay: delay, fn: fn}
}

// touch stores the latest snapshot and (re)arms the idle timer.
func (d *debouncedFlush) touch(snap types.Chat) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.done {
		return
	}
	d.pending = snap
	if d.timer == nil {
		d.timer = time.AfterFunc(d.delay, d.fire)
		return
	}
	d.timer.Reset(d.delay)
}

// fire runs the flush under the lock, so stop acts as a barrier: once stop
// returns, no flush is in flight and none will start.
func (d *debouncedFlush) fire() {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.done {
		return
	}
	d.fn(d.pending)
}

// stop disarms the timer; pending writes are abandoned in favor of the
// caller's final flush.
func (d *debouncedFlush) stop() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.done = true
	if d.timer != nil {
		d.timer.Stop()
	}
}
