package features

import (
	"encoding/json"
	"fmt"
	"hash/fnv"
	"sort"
	"strconv"
	"sync"
	"time"
)

// Flag represents a feature flag with metadata
type Flag struct {
	Name        string    `json:"name"`
	Enabled     bool      `json:"enabled"`
	Description string    `json:"description"`
	UpdatedAt   time.Time `json:"updated_at"`
	Tags        []string  `json:"tags,omitempty"`
	// Percentage of chats that see the feature while enabled (0-100).
	Percentage int `json:"percentage"`
}

// FlagManager manages feature flags with thread-safe operations
type FlagManager struct {
	flags map[string]*Flag
	mu    sync.RWMutex
}

// NewFlagManager returns a manager holding the default flags.
func NewFlagManager() *FlagManager {
	fm := &FlagManager{flags: make(map[string]*Flag)}
	fm.InitializeDefaults()
	return fm
}

// Capability flags checked by the conversation engine and the scheduler wiring.
const (
	FlagAIAssistant        = "ai_assistant"
	FlagImageGeneration    = "image_generation"
	FlagVoiceTranscription = "voice_transcription"
	FlagWebSearch          = "web_search"
	FlagTranslation        = "translation"
	FlagRecurringTasks     = "recurring_tasks"
	FlagNudges             = "nudges"
	FlagAuditLogging       = "audit_logging"
)

// FlagDefinition contains metadata about a flag
type FlagDefinition struct {
	Name         string
	Description  string
	DefaultValue bool
	Tags         []string
}

// DefaultFlags defines all available feature flags with their defaults
var DefaultFlags = []FlagDefinition{
	{FlagAIAssistant, "Answer AI:/mention questions with the text model", true, []string{"ai"}},
	{FlagImageGeneration, "Generate images for 画像生成 requests", true, []string{"ai"}},
	{FlagVoiceTranscription, "Transcribe voice messages and treat them as text", true, []string{"ai"}},
	{FlagWebSearch, "Augment real-time questions with web search results", true, []string{"ai", "external"}},
	{FlagTranslation, "Relay messages through translation sessions", true, []string{"ai"}},
	{FlagRecurringTasks, "Run the recurring task scheduler", true, []string{"scheduler"}},
	{FlagNudges, "Send overdue task nudges", true, []string{"scheduler"}},
	{FlagAuditLogging, "Record state changes in the audit log", true, []string{"compliance"}},
}

// InitializeDefaults adds any default flag that is not present yet.
func (fm *FlagManager) InitializeDefaults() {
	fm.mu.Lock()
	defer fm.mu.Unlock()

	now := time.Now()
	for _, def := range DefaultFlags {
		if _, exists := fm.flags[def.Name]; !exists {
			fm.flags[def.Name] = &Flag{
				Name:        def.Name,
				Enabled:     def.DefaultValue,
				Description: def.Description,
				UpdatedAt:   now,
				Tags:        def.Tags,
				Percentage:  100,
			}
		}
	}
}

// IsEnabled reports whether the flag is on. Unknown flags are off.
func (fm *FlagManager) IsEnabled(flagName string) bool {
	fm.mu.RLock()
	defer fm.mu.RUnlock()

	flag, exists := fm.flags[flagName]
	return exists && flag.Enabled
}

// IsEnabledFor applies the rollout percentage to a chat. A chat keeps the
// same answer for a given percentage.
func (fm *FlagManager) IsEnabledFor(flagName string, chatID int64) bool {
	fm.mu.RLock()
	defer fm.mu.RUnlock()

	flag, exists := fm.flags[flagName]
	if !exists || !flag.Enabled {
		return false
	}
	if flag.Percentage >= 100 {
		return true
	}
	return bucket(flagName, chatID) < flag.Percentage
}

func bucket(flagName string, chatID int64) int {
	h := fnv.New32a()
	_, _ = h.Write([]byte(flagName))
	_, _ = h.Write([]byte(strconv.FormatInt(chatID, 10)))
	return int(h.Sum32() % 100)
}

// Enable enables a feature flag
func (fm *FlagManager) Enable(flagName string) error {
	return fm.set(flagName, func(f *Flag) { f.Enabled = true })
}

// Disable disables a feature flag
func (fm *FlagManager) Disable(flagName string) error {
	return fm.set(flagName, func(f *Flag) { f.Enabled = false })
}

// SetPercentage sets the rollout percentage for a flag (0-100)
func (fm *FlagManager) SetPercentage(flagName string, percentage int) error {
	if percentage < 0 || percentage > 100 {
		return ErrInvalidPercentage{Percentage: percentage}
	}
	return fm.set(flagName, func(f *Flag) { f.Percentage = percentage })
}

func (fm *FlagManager) set(flagName string, apply func(*Flag)) error {
	fm.mu.Lock()
	defer fm.mu.Unlock()

	flag, exists := fm.flags[flagName]
	if !exists {
		return ErrFlagNotFound{Name: flagName}
	}
	apply(flag)
	flag.UpdatedAt = time.Now()
	return nil
}

// GetFlag returns a copy of the flag information
func (fm *FlagManager) GetFlag(flagName string) (*Flag, error) {
	fm.mu.RLock()
	defer fm.mu.RUnlock()

	flag, exists := fm.flags[flagName]
	if !exists {
		return nil, ErrFlagNotFound{Name: flagName}
	}
	return copyFlag(flag), nil
}

// ListFlags returns all flags sorted by name.
func (fm *FlagManager) ListFlags() []*Flag {
	fm.mu.RLock()
	defer fm.mu.RUnlock()

	result := make([]*Flag, 0, len(fm.flags))
	for _, flag := range fm.flags {
		result = append(result, copyFlag(flag))
	}
	sort.Slice(result, func(i, j int) bool { return result[i].Name < result[j].Name })
	return result
}

func copyFlag(flag *Flag) *Flag {
	c := *flag
	if flag.Tags != nil {
		c.Tags = append([]string(nil), flag.Tags...)
	}
	return &c
}

// ExportJSON exports all flags as JSON
func (fm *FlagManager) ExportJSON() ([]byte, error) {
	return json.MarshalIndent(fm.ListFlags(), "", "  ")
}

// Custom errors
type ErrFlagNotFound struct {
	Name string
}

func (e ErrFlagNotFound) Error() string {
	return "feature flag not found: " + e.Name
}

type ErrInvalidPercentage struct {
	Percentage int
}

func (e ErrInvalidPercentage) Error() string {
	return fmt.Sprintf("invalid percentage: %d (must be 0-100)", e.Percentage)
}
