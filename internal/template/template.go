package template

import (
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"chathub/internal/models"
)

// ErrUnknownTemplate is returned by Resolve for an id that was never loaded.
var ErrUnknownTemplate = errors.New("unknown template")

// Preset is one named seed message log used to initialize a session.
type Preset struct {
	ID   string
	Name string
	Seed []models.Message
}

// Registry holds every preset loaded from the preset directory, keyed by
// the string form of its 1-based load index.
type Registry struct {
	presets map[string]Preset
	order   []string
}

// Default presets written to the preset directory on first run. File stem
// becomes the preset name.
func defaultPresets() map[string][]models.Message {
	today := time.Now().Format("2006-01-02")
	return map[string][]models.Message{
		"ChatGPT": {
			{Role: models.RoleUser, Content: "You are ChatGPT, a large language model trained by OpenAI. Respond conversationally. Do not answer as the user. Current date: " + today},
			{Role: models.RoleAssistant, Content: "Hello! How can I help you today?"},
		},
		"Assistant": {
			{Role: models.RoleSystem, Content: "You are a helpful assistant embedded in a group chat. Keep answers short and friendly. Current date: " + today},
			{Role: models.RoleAssistant, Content: "Hi! Ask me anything."},
		},
	}
}

// Load reads every *.json preset file under dir, creating the directory and
// the built-in presets when the directory holds no presets at all. A
// populated directory is the operator's: deliberately removed defaults stay
// removed. Ids are assigned in sorted file order starting at 1.
func Load(dir string) (*Registry, error) {
	if dir == "" {
		return nil, fmt.Errorf("preset dir must be configured")
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create preset dir: %w", err)
	}

	files, err := presetFiles(dir)
	if err != nil {
		return nil, err
	}
	if len(files) == 0 {
		if err := writeDefaults(dir); err != nil {
			return nil, err
		}
		if files, err = presetFiles(dir); err != nil {
			return nil, err
		}
	}

	r := &Registry{presets: make(map[string]Preset)}
	for _, name := range files {
		seed, err := loadPreset(filepath.Join(dir, name))
		if err != nil {
			log.Printf("preset %s skipped: %v", name, err)
			continue
		}
		id := fmt.Sprintf("%d", len(r.order)+1)
		r.presets[id] = Preset{
			ID:   id,
			Name: strings.TrimSuffix(name, ".json"),
			Seed: seed,
		}
		r.order = append(r.order, id)
	}
	if len(r.order) == 0 {
		return nil, fmt.Errorf("no presets loaded from %s", dir)
	}
	log.Printf("loaded %d presets from %s", len(r.order), dir)
	return r, nil
}

func presetFiles(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("read preset dir: %w", err)
	}
	var files []string
	for _, entry := range entries {
		if !entry.IsDir() && strings.HasSuffix(entry.Name(), ".json") {
			files = append(files, entry.Name())
		}
	}
	sort.Strings(files)
	return files, nil
}

func writeDefaults(dir string) error {
	for name, seed := range defaultPresets() {
		path := filepath.Join(dir, name+".json")
		data, err := json.MarshalIndent(seed, "", "  ")
		if err != nil {
			return fmt.Errorf("marshal preset %s: %w", name, err)
		}
		if err := os.WriteFile(path, data, 0o644); err != nil {
			return fmt.Errorf("write preset %s: %w", name, err)
		}
	}
	return nil
}

func loadPreset(path string) ([]models.Message, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var seed []models.Message
	if err := json.Unmarshal(data, &seed); err != nil {
		return nil, fmt.Errorf("decode preset: %w", err)
	}
	if len(seed) == 0 {
		return nil, errors.New("preset is empty")
	}
	for _, msg := range seed {
		if msg.Role == "" || msg.Content == "" {
			return nil, errors.New("preset has a blank message")
		}
	}
	return seed, nil
}

// Resolve returns the preset registered under id. The seed is deep-copied
// so sessions never share template state.
func (r *Registry) Resolve(id string) (Preset, error) {
	p, ok := r.presets[id]
	if !ok {
		return Preset{}, fmt.Errorf("%w: %q", ErrUnknownTemplate, id)
	}
	p.Seed = models.CloneMessages(p.Seed)
	return p, nil
}

// List renders the template menu shown to users picking a preset.
func (r *Registry) List() string {
	var b strings.Builder
	b.WriteString("Pick a template:")
	for _, id := range r.order {
		fmt.Fprintf(&b, "\n%s:%s", id, r.presets[id].Name)
	}
	return b.String()
}
