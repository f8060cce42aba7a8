// ABOUTME: Hand-written fakes for the platform client, agent process, launcher, and workspaces
// ABOUTME: Shared by the registry, controller, and cleaner tests

package session

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/2389/coven-bridge/internal/agentproc"
	"github.com/2389/coven-bridge/internal/platform"
	"github.com/2389/coven-bridge/internal/store"
)

type mockClient struct {
	mu        sync.Mutex
	nextID    int
	posts     map[string]string
	order     []string
	reactions map[string][]string
	deleted   []string
	typing    int
	threads   map[string]bool
}

func newMockClient() *mockClient {
	return &mockClient{
		posts:     make(map[string]string),
		reactions: make(map[string][]string),
		threads:   make(map[string]bool),
	}
}

func (m *mockClient) PlatformID() string { return "test" }

func (m *mockClient) CreatePost(_ context.Context, _, content string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.nextID++
	id := fmt.Sprintf("post-%d", m.nextID)
	m.posts[id] = content
	m.order = append(m.order, id)
	return id, nil
}

func (m *mockClient) UpdatePost(_ context.Context, postID, content string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.posts[postID] = content
	return nil
}

func (m *mockClient) DeletePost(_ context.Context, postID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.posts, postID)
	m.deleted = append(m.deleted, postID)
	return nil
}

func (m *mockClient) AddReaction(_ context.Context, postID, emoji string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.reactions[postID] = append(m.reactions[postID], emoji)
	return nil
}

func (m *mockClient) RemoveReaction(_ context.Context, postID, emoji string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	kept := m.reactions[postID][:0]
	for _, e := range m.reactions[postID] {
		if e != emoji {
			kept = append(kept, e)
		}
	}
	m.reactions[postID] = kept
	return nil
}

func (m *mockClient) CreateInteractivePost(ctx context.Context, threadID, content string, options []platform.ReactionOption) (string, error) {
	id, err := m.CreatePost(ctx, threadID, content)
	if err != nil {
		return "", err
	}
	for _, opt := range options {
		_ = m.AddReaction(ctx, id, opt.Emoji)
	}
	return id, nil
}

func (m *mockClient) SendTyping(context.Context, string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.typing++
	return nil
}

func (m *mockClient) GetThreadHistory(context.Context, string, int) ([]platform.ThreadMessage, error) {
	return nil, nil
}

func (m *mockClient) ThreadExists(_ context.Context, threadID string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if gone, ok := m.threads[threadID]; ok {
		return !gone, nil
	}
	return true, nil
}

func (m *mockClient) DownloadFile(context.Context, string) ([]byte, error) { return nil, nil }
func (m *mockClient) IsUserAllowed(string) bool                           { return true }
func (m *mockClient) McpConfigPath() string                               { return "" }
func (m *mockClient) Formatter() platform.Formatter                       { return platform.PlainFormatter{} }

// lastPost returns the content of the most recently created post.
func (m *mockClient) lastPost() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.order) == 0 {
		return ""
	}
	return m.posts[m.order[len(m.order)-1]]
}

func (m *mockClient) postCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.order)
}

// findPost returns the id of the first post whose content contains substr.
func (m *mockClient) findPost(substr string) string {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, id := range m.order {
		if content, ok := m.posts[id]; ok && strings.Contains(content, substr) {
			return id
		}
	}
	return ""
}

// postsContaining counts posts whose content contains substr.
func (m *mockClient) postsContaining(substr string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, id := range m.order {
		if strings.Contains(m.posts[id], substr) {
			n++
		}
	}
	return n
}

type toolResult struct {
	ToolID string
	Text   string
}

type mockProcess struct {
	mu          sync.Mutex
	events      chan agentproc.Event
	exit        chan agentproc.ExitStatus
	running     bool
	exited      bool
	killed      bool
	interrupted bool
	sent        []string
	toolResults []toolResult
	permanent   bool
	permReason  string
}

func newMockProcess() *mockProcess {
	return &mockProcess{
		events:  make(chan agentproc.Event, 32),
		exit:    make(chan agentproc.ExitStatus, 1),
		running: true,
	}
}

func (m *mockProcess) Start(context.Context) error { return nil }

func (m *mockProcess) Kill(context.Context) error {
	m.mu.Lock()
	m.killed = true
	m.mu.Unlock()
	m.exitWith(-1)
	return nil
}

func (m *mockProcess) Interrupt() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.running {
		return false
	}
	m.interrupted = true
	return true
}

func (m *mockProcess) SendMessage(_ context.Context, content string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sent = append(m.sent, content)
	return nil
}

func (m *mockProcess) SendToolResult(_ context.Context, toolID, text string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.toolResults = append(m.toolResults, toolResult{ToolID: toolID, Text: text})
	return nil
}

func (m *mockProcess) IsRunning() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.running
}

func (m *mockProcess) IsPermanentFailure() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.permanent
}

func (m *mockProcess) PermanentFailureReason() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.permReason
}

func (m *mockProcess) Events() <-chan agentproc.Event     { return m.events }
func (m *mockProcess) Wait() <-chan agentproc.ExitStatus  { return m.exit }
func (m *mockProcess) emit(ev agentproc.Event)            { m.events <- ev }

// exitWith closes the event stream and delivers the exit status, as a real
// process binding would on termination. A test may mark the process not
// running first (a wedged process) and still deliver the exit later.
func (m *mockProcess) exitWith(code int) {
	m.mu.Lock()
	if m.exited {
		m.mu.Unlock()
		return
	}
	m.exited = true
	m.running = false
	m.mu.Unlock()
	close(m.events)
	m.exit <- agentproc.ExitStatus{Code: code}
}

// stall marks the process not running without delivering an exit.
func (m *mockProcess) stall() {
	m.mu.Lock()
	m.running = false
	m.mu.Unlock()
}

func (m *mockProcess) sentMessages() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.sent...)
}

func (m *mockProcess) results() []toolResult {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]toolResult(nil), m.toolResults...)
}

type mockLauncher struct {
	mu        sync.Mutex
	procs     []*mockProcess
	specs     []agentproc.LaunchSpec
	launchErr error
}

func (l *mockLauncher) Launch(_ context.Context, spec agentproc.LaunchSpec) (agentproc.Process, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.launchErr != nil {
		return nil, l.launchErr
	}
	p := newMockProcess()
	l.procs = append(l.procs, p)
	l.specs = append(l.specs, spec)
	return p, nil
}

func (l *mockLauncher) last() *mockProcess {
	l.mu.Lock()
	defer l.mu.Unlock()
	if len(l.procs) == 0 {
		return nil
	}
	return l.procs[len(l.procs)-1]
}

func (l *mockLauncher) lastSpec() agentproc.LaunchSpec {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.specs[len(l.specs)-1]
}

func (l *mockLauncher) launchCount() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.procs)
}

type mockWorkspace struct {
	mu      sync.Mutex
	missing map[string]bool
	created []string
}

func newMockWorkspace() *mockWorkspace {
	return &mockWorkspace{missing: make(map[string]bool)}
}

func (m *mockWorkspace) DirExists(path string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return !m.missing[path]
}

func (m *mockWorkspace) CreateIsolated(_ context.Context, base, name string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	dir := filepath.Join(base, name)
	m.created = append(m.created, dir)
	return dir, nil
}

func (m *mockWorkspace) RemoveIsolated(context.Context, string) error { return nil }

func newTestStore(t *testing.T) store.Store {
	t.Helper()
	s, err := store.NewSQLiteStore(filepath.Join(t.TempDir(), "sessions.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}
