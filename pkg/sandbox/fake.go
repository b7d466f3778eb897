package sandbox

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"
)

// FakeProvider is an in-memory Provider used by tests and local
// development mode. Failure injection fields let tests exercise the
// orchestrator's retry and fallback paths.
type FakeProvider struct {
	mu        sync.Mutex
	sandboxes map[string]*FakeSandbox

	// CreateErrs is consumed one error per Create call; a nil entry
	// means that call succeeds.
	CreateErrs []error
	// ScaleErr fails every Scale call when set.
	ScaleErr error
	// CreatedTemplates records the template of every Create call.
	CreatedTemplates []string
	// NextExitCode seeds the ExitCode of every sandbox created after
	// it is set.
	NextExitCode int
}

// NewFakeProvider creates an empty fake provider.
func NewFakeProvider() *FakeProvider {
	return &FakeProvider{
		sandboxes: make(map[string]*FakeSandbox),
	}
}

// Create provisions an in-memory sandbox.
func (p *FakeProvider) Create(ctx context.Context, template string) (Sandbox, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.CreatedTemplates = append(p.CreatedTemplates, template)
	if len(p.CreateErrs) > 0 {
		err := p.CreateErrs[0]
		p.CreateErrs = p.CreateErrs[1:]
		if err != nil {
			return nil, err
		}
	}

	sb := &FakeSandbox{
		id:       "sb-" + uuid.New().String()[:8],
		template: template,
		files:    make(map[string][]byte),
		ExitCode: p.NextExitCode,
	}
	p.sandboxes[sb.id] = sb
	return sb, nil
}

// Scale records the instance count for a sandbox.
func (p *FakeProvider) Scale(ctx context.Context, sandboxID string, instances int) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.ScaleErr != nil {
		return p.ScaleErr
	}
	sb, ok := p.sandboxes[sandboxID]
	if !ok {
		return fmt.Errorf("sandbox not found: %s", sandboxID)
	}
	sb.mu.Lock()
	sb.Instances = instances
	sb.mu.Unlock()
	return nil
}

// Get returns a fake sandbox by id, for test assertions.
func (p *FakeProvider) Get(id string) *FakeSandbox {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.sandboxes[id]
}

// Live returns the number of non-destroyed sandboxes.
func (p *FakeProvider) Live() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	n := 0
	for _, sb := range p.sandboxes {
		sb.mu.Lock()
		if !sb.Destroyed {
			n++
		}
		sb.mu.Unlock()
	}
	return n
}

// FakeSandbox is the in-memory sandbox behind FakeProvider.
type FakeSandbox struct {
	mu       sync.Mutex
	id       string
	template string
	files    map[string][]byte

	Commands  []string
	Env       map[string]string
	Instances int
	Destroyed bool

	// RunErr fails the next foreground Run when set.
	RunErr error
	// ExitCode is returned by foreground runs (default 0).
	ExitCode int
}

// ID returns the sandbox identifier.
func (s *FakeSandbox) ID() string {
	return s.id
}

// Template returns the template this sandbox was created from.
func (s *FakeSandbox) Template() string {
	return s.template
}

// WriteFile stores the file in memory.
func (s *FakeSandbox) WriteFile(ctx context.Context, path string, data []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Destroyed {
		return fmt.Errorf("sandbox destroyed: %s", s.id)
	}
	s.files[path] = append([]byte(nil), data...)
	return nil
}

// File returns a stored file's contents, for test assertions.
func (s *FakeSandbox) File(path string) ([]byte, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	data, ok := s.files[path]
	return data, ok
}

// Run records the command and returns the configured result.
func (s *FakeSandbox) Run(ctx context.Context, cmd string, opts RunOptions) (*CommandResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Destroyed {
		return nil, fmt.Errorf("sandbox destroyed: %s", s.id)
	}
	s.Commands = append(s.Commands, cmd)
	if opts.Env != nil {
		s.Env = opts.Env
	}
	if opts.Background {
		return &CommandResult{PID: 4242}, nil
	}
	if s.RunErr != nil {
		err := s.RunErr
		s.RunErr = nil
		return nil, err
	}
	return &CommandResult{ExitCode: s.ExitCode}, nil
}

// Host returns a deterministic URL for the sandbox and port.
func (s *FakeSandbox) Host(ctx context.Context, port int) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Destroyed {
		return "", fmt.Errorf("sandbox destroyed: %s", s.id)
	}
	return fmt.Sprintf("https://%s.sandbox.local:%d", s.id, port), nil
}

// Destroy marks the sandbox destroyed.
func (s *FakeSandbox) Destroy(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Destroyed = true
	return nil
}
