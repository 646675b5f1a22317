package settings

import (
	"encoding/json"
	"strconv"
	"strings"

	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"

	"github.com/scriptwiki/wikichat/pkg/chat/store"
)

// Storage keys. API keys are namespaced per provider so switching providers
// keeps each key around.
const (
	keyProvider     = "ai_provider"
	keyModel        = "ai_selected_model"
	keyTokenLimit   = "ai_token_limit"
	keyCustomModels = "ai_custom_models_v2"
	apiKeyPrefix    = "ai_api_key_"
)

const DefaultTokenLimit = 1000

// CustomModel is a user-defined model entry targeting a self-hosted
// OpenAI-compatible endpoint.
type CustomModel struct {
	Name     string `json:"name"`
	Endpoint string `json:"endpoint"`
	Provider string `json:"provider"`
}

// Service reads and writes runtime settings through the shared blob store.
// Reads degrade to defaults on missing or corrupt data; only writes report
// errors.
type Service struct {
	store store.Store
}

func NewService(s store.Store) *Service {
	return &Service{store: s}
}

func (s *Service) getString(key string) string {
	raw, ok, err := s.store.Get(key)
	if err != nil {
		log.Warn().Err(err).Str("key", key).Msg("could not read setting")
		return ""
	}
	if !ok {
		return ""
	}
	return string(raw)
}

func (s *Service) APIKey(provider string) string {
	return s.getString(apiKeyPrefix + provider)
}

func (s *Service) SetAPIKey(provider string, key string) error {
	return s.store.Set(apiKeyPrefix+provider, []byte(strings.TrimSpace(key)))
}

func (s *Service) Provider() string {
	return s.getString(keyProvider)
}

func (s *Service) SetProvider(provider string) error {
	return s.store.Set(keyProvider, []byte(provider))
}

func (s *Service) Model() string {
	return s.getString(keyModel)
}

func (s *Service) SetModel(model string) error {
	return s.store.Set(keyModel, []byte(model))
}

func (s *Service) TokenLimit() int {
	raw := s.getString(keyTokenLimit)
	n, err := strconv.Atoi(raw)
	if err != nil || n <= 0 {
		return DefaultTokenLimit
	}
	return n
}

func (s *Service) SetTokenLimit(n int) error {
	if n <= 0 {
		return errors.Errorf("token limit must be positive, got %d", n)
	}
	return s.store.Set(keyTokenLimit, []byte(strconv.Itoa(n)))
}

func (s *Service) CustomModels() []CustomModel {
	raw, ok, err := s.store.Get(keyCustomModels)
	if err != nil || !ok {
		return nil
	}
	var models []CustomModel
	if err := json.Unmarshal(raw, &models); err != nil {
		log.Warn().Err(err).Msg("corrupt custom model list")
		return nil
	}
	return models
}

// CustomModel looks up a custom model entry by name.
func (s *Service) CustomModel(name string) (CustomModel, bool) {
	for _, m := range s.CustomModels() {
		if m.Name == name {
			return m, true
		}
	}
	return CustomModel{}, false
}

func (s *Service) AddCustomModel(model CustomModel) error {
	model.Name = strings.TrimSpace(model.Name)
	model.Endpoint = strings.TrimSpace(model.Endpoint)
	if model.Name == "" {
		return errors.New("custom model name must not be empty")
	}

	models := s.CustomModels()
	for _, m := range models {
		if m.Name == model.Name {
			return errors.Errorf("custom model %q already exists", model.Name)
		}
	}
	models = append(models, model)
	return s.saveCustomModels(models)
}

func (s *Service) RemoveCustomModel(name string) error {
	models := s.CustomModels()
	out := models[:0]
	for _, m := range models {
		if m.Name != name {
			out = append(out, m)
		}
	}
	return s.saveCustomModels(out)
}

func (s *Service) saveCustomModels(models []CustomModel) error {
	raw, err := json.Marshal(models)
	if err != nil {
		return err
	}
	return s.store.Set(keyCustomModels, raw)
}
