// Package memory holds map-backed repository implementations. They mirror
// the gorm repositories' semantics (optimistic versioning, write-once
// platform ids, monotonic history seq) and back the service tests.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/dialogforge/dialogforge/internal/domain/entity"
	apperrors "github.com/dialogforge/dialogforge/pkg/errors"
)

// StateRepository is the in-memory dialog state store.
type StateRepository struct {
	mu      sync.Mutex
	states  map[string]*entity.DialogState // by conversation key
	byID    map[string]string              // state id -> conversation key
	history map[string][]*entity.DialogHistoryEntry
}

// NewStateRepository creates an empty store.
func NewStateRepository() *StateRepository {
	return &StateRepository{
		states:  make(map[string]*entity.DialogState),
		byID:    make(map[string]string),
		history: make(map[string][]*entity.DialogHistoryEntry),
	}
}

func convKey(botID, platform, chatID string) string {
	return botID + "|" + platform + "|" + chatID
}

func copyState(s *entity.DialogState) *entity.DialogState {
	dup := *s
	dup.CollectedData = make(map[string]any, len(s.CollectedData))
	for k, v := range s.CollectedData {
		dup.CollectedData[k] = v
	}
	return &dup
}

func (r *StateRepository) Get(_ context.Context, botID, platform, chatID string) (*entity.DialogState, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.states[convKey(botID, platform, chatID)]
	if !ok {
		return nil, apperrors.NewNotFound("dialog state not found")
	}
	return copyState(s), nil
}

func (r *StateRepository) Create(_ context.Context, state *entity.DialogState) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	key := convKey(state.BotID, state.Platform, state.ChatID)
	if _, exists := r.states[key]; exists {
		return apperrors.NewAlreadyExists("dialog state already exists for this conversation")
	}
	r.states[key] = copyState(state)
	r.byID[state.ID] = key
	return nil
}

func (r *StateRepository) Update(_ context.Context, state *entity.DialogState) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	key, ok := r.byID[state.ID]
	if !ok {
		return apperrors.NewNotFound("dialog state not found")
	}
	stored := r.states[key]
	if stored.Version != state.Version {
		return apperrors.NewConflict("dialog state version mismatch")
	}
	state.Version++
	r.states[key] = copyState(state)
	return nil
}

func (r *StateRepository) Delete(_ context.Context, stateID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	key, ok := r.byID[stateID]
	if !ok {
		return apperrors.NewNotFound("dialog state not found")
	}
	delete(r.states, key)
	delete(r.byID, stateID)
	delete(r.history, stateID)
	return nil
}

func (r *StateRepository) AppendHistory(_ context.Context, entry *entity.DialogHistoryEntry) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	entries := r.history[entry.DialogID]
	entry.Seq = int64(len(entries)) + 1
	r.history[entry.DialogID] = append(entries, entry)
	return nil
}

func (r *StateRepository) History(_ context.Context, dialogID string, limit int) ([]*entity.DialogHistoryEntry, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	entries := r.history[dialogID]
	if limit > 0 && len(entries) > limit {
		entries = entries[len(entries)-limit:]
	}
	out := make([]*entity.DialogHistoryEntry, len(entries))
	copy(out, entries)
	return out, nil
}

// ScenarioRepository is the in-memory scenario store.
type ScenarioRepository struct {
	mu        sync.Mutex
	scenarios map[string]*entity.Scenario
}

// NewScenarioRepository creates an empty store.
func NewScenarioRepository() *ScenarioRepository {
	return &ScenarioRepository{scenarios: make(map[string]*entity.Scenario)}
}

func (r *ScenarioRepository) GetByID(_ context.Context, scenarioID string) (*entity.Scenario, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	sc, ok := r.scenarios[scenarioID]
	if !ok {
		return nil, apperrors.NewNotFound("scenario not found")
	}
	return sc, nil
}

func (r *ScenarioRepository) GetActive(_ context.Context, botID string) (*entity.Scenario, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, sc := range r.scenarios {
		if sc.BotID == botID && sc.Active {
			return sc, nil
		}
	}
	return nil, apperrors.NewNotFound("bot has no active scenario")
}

func (r *ScenarioRepository) Save(_ context.Context, sc *entity.Scenario) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.scenarios[sc.ID]; exists {
		return apperrors.NewAlreadyExists("scenario already exists")
	}
	r.scenarios[sc.ID] = sc
	return nil
}

func (r *ScenarioRepository) Activate(_ context.Context, botID, scenarioID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	target, ok := r.scenarios[scenarioID]
	if !ok || target.BotID != botID {
		return apperrors.NewNotFound("scenario not found for this bot")
	}
	for _, sc := range r.scenarios {
		if sc.BotID == botID {
			sc.Active = false
		}
	}
	target.Active = true
	return nil
}

func (r *ScenarioRepository) Deactivate(_ context.Context, scenarioID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if sc, ok := r.scenarios[scenarioID]; ok {
		sc.Active = false
	}
	return nil
}

func (r *ScenarioRepository) Delete(_ context.Context, scenarioID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	sc, ok := r.scenarios[scenarioID]
	if !ok {
		return apperrors.NewNotFound("scenario not found")
	}
	if sc.Active {
		return apperrors.NewInvalidInput("cannot delete an active scenario")
	}
	delete(r.scenarios, scenarioID)
	return nil
}

// MediaRepository is the in-memory media store; bytes are kept in a map
// keyed by BytesRef.
type MediaRepository struct {
	mu     sync.Mutex
	assets map[string]*entity.MediaAsset // by botID|logicalFileID
	byID   map[string]*entity.MediaAsset
	bytes  map[string][]byte
}

// NewMediaRepository creates an empty store.
func NewMediaRepository() *MediaRepository {
	return &MediaRepository{
		assets: make(map[string]*entity.MediaAsset),
		byID:   make(map[string]*entity.MediaAsset),
		bytes:  make(map[string][]byte),
	}
}

// PutBytes stores raw bytes under a ref; tests seed assets with it.
func (r *MediaRepository) PutBytes(ref string, data []byte) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.bytes[ref] = data
}

func (r *MediaRepository) GetByLogicalID(_ context.Context, botID, logicalFileID string) (*entity.MediaAsset, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	asset, ok := r.assets[botID+"|"+logicalFileID]
	if !ok {
		return nil, apperrors.NewNotFound("media asset not found")
	}
	dup := *asset
	dup.PlatformIDs = make(map[string]string, len(asset.PlatformIDs))
	for k, v := range asset.PlatformIDs {
		dup.PlatformIDs[k] = v
	}
	return &dup, nil
}

func (r *MediaRepository) Save(_ context.Context, asset *entity.MediaAsset) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	key := asset.BotID + "|" + asset.LogicalFileID
	if _, exists := r.assets[key]; exists {
		return apperrors.NewAlreadyExists("logical file id already taken for this bot")
	}
	r.assets[key] = asset
	r.byID[asset.ID] = asset
	return nil
}

func (r *MediaRepository) SetPlatformID(_ context.Context, assetID, platform, platformFileID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	asset, ok := r.byID[assetID]
	if !ok {
		return apperrors.NewNotFound("media asset not found")
	}
	if _, exists := asset.PlatformIDs[platform]; exists {
		return apperrors.NewAlreadyExists("platform file id already set")
	}
	asset.PlatformIDs[platform] = platformFileID
	return nil
}

func (r *MediaRepository) GetBytes(_ context.Context, asset *entity.MediaAsset) ([]byte, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	data, ok := r.bytes[asset.BytesRef]
	if !ok {
		return nil, apperrors.NewNotFound("media bytes not found")
	}
	return data, nil
}

// BotRepository is the in-memory bot and credential store.
type BotRepository struct {
	mu    sync.Mutex
	bots  map[string]*entity.BotInstance
	creds map[string]*entity.PlatformCredential // by botID|platform
}

// NewBotRepository creates an empty store.
func NewBotRepository() *BotRepository {
	return &BotRepository{
		bots:  make(map[string]*entity.BotInstance),
		creds: make(map[string]*entity.PlatformCredential),
	}
}

func (r *BotRepository) Get(_ context.Context, botID string) (*entity.BotInstance, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	bot, ok := r.bots[botID]
	if !ok {
		return nil, apperrors.NewNotFound("bot not found")
	}
	return bot, nil
}

func (r *BotRepository) Save(_ context.Context, bot *entity.BotInstance) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.bots[bot.ID] = bot
	return nil
}

func (r *BotRepository) Credential(_ context.Context, botID, platform string) (*entity.PlatformCredential, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	cred, ok := r.creds[botID+"|"+platform]
	if !ok {
		return nil, apperrors.NewNotFound("platform credential not found")
	}
	return cred, nil
}

func (r *BotRepository) SaveCredential(_ context.Context, cred *entity.PlatformCredential) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.creds[cred.BotID+"|"+cred.Platform] = cred
	return nil
}

func (r *BotRepository) MarkCredentialUnhealthy(_ context.Context, botID, platform string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if cred, ok := r.creds[botID+"|"+platform]; ok {
		cred.Healthy = false
	}
	return nil
}

func (r *BotRepository) TouchWebhookChecked(_ context.Context, botID, platform string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if cred, ok := r.creds[botID+"|"+platform]; ok {
		cred.WebhookLastChecked = time.Now().UTC()
	}
	return nil
}

func (r *BotRepository) ListAutoRefresh(_ context.Context) ([]*entity.PlatformCredential, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*entity.PlatformCredential
	for _, cred := range r.creds {
		if cred.AutoRefresh {
			out = append(out, cred)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].BotID < out[j].BotID })
	return out, nil
}
