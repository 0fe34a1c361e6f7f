package coin

import (
	"context"
	"fmt"
	"math/big"
	"sync"

	"github.com/coinjam/service_layer/internal/avatar"
	"github.com/coinjam/service_layer/internal/chain"
	"github.com/coinjam/service_layer/internal/genai"
	"github.com/coinjam/service_layer/internal/session"
)

// MockTextGenerator returns a fixed CoinMeta and records the briefs it saw.
type MockTextGenerator struct {
	Meta   genai.CoinMeta
	Err    error
	Briefs []string
}

func (m *MockTextGenerator) GenerateCoinMeta(_ context.Context, brief string) (genai.CoinMeta, error) {
	m.Briefs = append(m.Briefs, brief)
	if m.Err != nil {
		return genai.CoinMeta{}, m.Err
	}
	return m.Meta, nil
}

// MockImageGenerator records prompts and reference counts. Errs is consumed
// one entry per call, letting tests script a moderation rejection followed by
// a success.
type MockImageGenerator struct {
	Image    []byte
	Errs     []error
	Prompts  []string
	RefCount []int
}

func (m *MockImageGenerator) next() error {
	if len(m.Errs) == 0 {
		return nil
	}
	err := m.Errs[0]
	m.Errs = m.Errs[1:]
	return err
}

func (m *MockImageGenerator) Generate(_ context.Context, prompt string, _ genai.ImageOptions) ([]byte, error) {
	m.Prompts = append(m.Prompts, prompt)
	m.RefCount = append(m.RefCount, 0)
	if err := m.next(); err != nil {
		return nil, err
	}
	return m.Image, nil
}

func (m *MockImageGenerator) Edit(_ context.Context, prompt string, refs []genai.ReferenceImage, _ genai.ImageOptions) ([]byte, error) {
	m.Prompts = append(m.Prompts, prompt)
	m.RefCount = append(m.RefCount, len(refs))
	if err := m.next(); err != nil {
		return nil, err
	}
	return m.Image, nil
}

// MockAvatarFetcher serves avatars by URI. URIs absent from Images fail.
type MockAvatarFetcher struct {
	Images  map[string]avatar.Image
	Fetched []string
}

func (m *MockAvatarFetcher) Fetch(_ context.Context, uri string) (avatar.Image, error) {
	m.Fetched = append(m.Fetched, uri)
	img, ok := m.Images[uri]
	if !ok {
		return avatar.Image{}, fmt.Errorf("no avatar at %s", uri)
	}
	return img, nil
}

// MockPinner assigns deterministic hashes and remembers pinned content.
type MockPinner struct {
	ByteHash string
	JSONHash string
	PinErr   error

	PinnedBytes [][]byte
	PinnedJSON  []interface{}
	Probes      int
	Visible     bool
}

func (m *MockPinner) PinBytes(_ context.Context, data []byte, _ string, _ string) (string, error) {
	if m.PinErr != nil {
		return "", m.PinErr
	}
	m.PinnedBytes = append(m.PinnedBytes, data)
	return m.ByteHash, nil
}

func (m *MockPinner) PinJSON(_ context.Context, doc interface{}) (string, error) {
	if m.PinErr != nil {
		return "", m.PinErr
	}
	m.PinnedJSON = append(m.PinnedJSON, doc)
	return m.JSONHash, nil
}

func (m *MockPinner) IsPinned(_ context.Context, _ string) (bool, error) {
	m.Probes++
	return m.Visible, nil
}

// MockPlatform scripts the chain operations call by call. SubmitErrs and
// ConfirmErrs are consumed one entry per call; nil entries succeed.
type MockPlatform struct {
	mu sync.Mutex

	SubmitErrs  []error
	ConfirmErrs []error
	ReceiptRaw  string

	Balance      *big.Int
	TransferErrs map[string]error

	Builds    int
	Submits   int
	Confirms  int
	Transfers []MockTransfer
}

// MockTransfer records one Transfer invocation.
type MockTransfer struct {
	Asset  string
	To     string
	Amount *big.Int
}

func takeErr(errs *[]error) error {
	if len(*errs) == 0 {
		return nil
	}
	err := (*errs)[0]
	*errs = (*errs)[1:]
	return err
}

func (m *MockPlatform) BuildDeploymentCall(_ context.Context, params chain.DeploymentParams) (chain.CallData, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Builds++
	return chain.CallData{Payload: "payload:" + params.Symbol}, nil
}

func (m *MockPlatform) Submit(_ context.Context, _ chain.CallData) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Submits++
	if err := takeErr(&m.SubmitErrs); err != nil {
		return "", err
	}
	return fmt.Sprintf("0xtx%d", m.Submits), nil
}

func (m *MockPlatform) AwaitConfirmation(_ context.Context, txHash string) (*chain.Receipt, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Confirms++
	if err := takeErr(&m.ConfirmErrs); err != nil {
		return nil, err
	}
	raw := m.ReceiptRaw
	if raw == "" {
		raw = `{"status":"confirmed"}`
	}
	return &chain.Receipt{TxHash: txHash, Confirmed: true, Raw: []byte(raw)}, nil
}

func (m *MockPlatform) ExtractDeployedAddress(receipt *chain.Receipt) (string, bool) {
	return chain.ExtractDeployedAddress(receipt)
}

func (m *MockPlatform) ReadBalance(_ context.Context, _, _ string) (*big.Int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Balance == nil {
		return big.NewInt(0), nil
	}
	return new(big.Int).Set(m.Balance), nil
}

func (m *MockPlatform) Transfer(_ context.Context, asset, to string, amount *big.Int) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.TransferErrs[to]; err != nil {
		return "", err
	}
	m.Transfers = append(m.Transfers, MockTransfer{Asset: asset, To: to, Amount: new(big.Int).Set(amount)})
	return fmt.Sprintf("0xtransfer%d", len(m.Transfers)), nil
}

// MockNotifier collects lifecycle events.
type MockNotifier struct {
	mu     sync.Mutex
	Events []string
}

func (m *MockNotifier) SessionEvent(_ *session.Session, event string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Events = append(m.Events, event)
}

// Seen returns a snapshot of recorded events.
func (m *MockNotifier) Seen() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]string, len(m.Events))
	copy(out, m.Events)
	return out
}
