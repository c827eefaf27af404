package usagemeter

import (
	"fmt"
	"strings"
)

// Known plan ids.
const (
	PlanFree           = "free"
	PlanStartupMonthly = "startup_monthly"
)

// PlanDefinition is an immutable tier of entitlements. Plans are referenced
// by id from user records, never embedded, so a definition change takes
// effect immediately for every user on that plan.
//
// Allowlist convention: an empty Providers, VectorStores, EmbeddingModels, or
// per-provider Models list means UNRESTRICTED, not deny-all.
type PlanDefinition struct {
	ID             string `json:"id" yaml:"id"`
	DisplayName    string `json:"display_name" yaml:"display_name"`
	QuestionLimit  int64  `json:"question_limit" yaml:"question_limit"`
	ChatbotLimit   int64  `json:"chatbot_limit" yaml:"chatbot_limit"`
	StorageLimitMb int64  `json:"storage_limit_mb" yaml:"storage_limit_mb"`

	Providers       []string `json:"providers" yaml:"providers"`
	VectorStores    []string `json:"vector_stores" yaml:"vector_stores"`
	EmbeddingModels []string `json:"embedding_models" yaml:"embedding_models"`

	// Models restricts chat models per provider id. A provider with no entry
	// is unrestricted.
	Models map[string][]string `json:"models,omitempty" yaml:"models,omitempty"`

	IsFree     bool `json:"is_free" yaml:"is_free"`
	ComingSoon bool `json:"coming_soon" yaml:"coming_soon"`
}

// Model is a provider model as presented in a catalog listing.
type Model struct {
	ID    string `json:"id"`
	Label string `json:"label"`
}

func freePlan() PlanDefinition {
	return PlanDefinition{
		ID:              PlanFree,
		DisplayName:     "Free",
		QuestionLimit:   100,
		ChatbotLimit:    1,
		StorageLimitMb:  50,
		Providers:       []string{"openai", "google", "deepseek"},
		VectorStores:    []string{"chroma"},
		EmbeddingModels: []string{"openai-small", "huggingface"},
		IsFree:          true,
	}
}

func startupMonthlyPlan() PlanDefinition {
	return PlanDefinition{
		ID:              PlanStartupMonthly,
		DisplayName:     "Starter",
		QuestionLimit:   5000,
		ChatbotLimit:    3,
		StorageLimitMb:  500,
		Providers:       []string{"openai", "anthropic", "google", "perplexity"},
		VectorStores:    []string{"chroma", "pinecone"},
		EmbeddingModels: []string{"openai-large", "huggingface"},
		ComingSoon:      true,
	}
}

// LookupPlan resolves a known plan id. The second result reports whether the
// id named a known plan.
func LookupPlan(planID string) (PlanDefinition, bool) {
	switch strings.ToLower(strings.TrimSpace(planID)) {
	case PlanFree:
		return freePlan(), true
	case PlanStartupMonthly:
		return startupMonthlyPlan(), true
	default:
		return PlanDefinition{}, false
	}
}

// GetPlanDefinition resolves a plan id against the built-in catalog. It never
// fails: an unknown or empty id falls back to the free definition, so every
// user always resolves to exactly one plan.
func GetPlanDefinition(planID string) PlanDefinition {
	if def, ok := LookupPlan(planID); ok {
		return def
	}
	return freePlan()
}

// Plans returns the built-in catalog, free tier first.
func Plans() []PlanDefinition {
	return []PlanDefinition{freePlan(), startupMonthlyPlan()}
}

// Catalog is a set of plan definitions with an explicit fallback, for
// deployments that override the built-in tiers via configuration.
type Catalog struct {
	plans      map[string]PlanDefinition
	fallbackID string
}

// NewCatalog builds a catalog from definitions. fallbackID names the plan
// returned for unknown ids and must be present in defs.
func NewCatalog(defs []PlanDefinition, fallbackID string) (*Catalog, error) {
	if len(defs) == 0 {
		return nil, fmt.Errorf("usagemeter: catalog: at least one plan is required")
	}
	plans := make(map[string]PlanDefinition, len(defs))
	for i, def := range defs {
		id := strings.ToLower(strings.TrimSpace(def.ID))
		if id == "" {
			return nil, fmt.Errorf("usagemeter: catalog: plan[%d]: id is required", i)
		}
		if _, dup := plans[id]; dup {
			return nil, fmt.Errorf("usagemeter: catalog: duplicate plan id %q", id)
		}
		def.ID = id
		plans[id] = def
	}
	fallbackID = strings.ToLower(strings.TrimSpace(fallbackID))
	if _, ok := plans[fallbackID]; !ok {
		return nil, fmt.Errorf("usagemeter: catalog: fallback plan %q is not defined", fallbackID)
	}
	return &Catalog{plans: plans, fallbackID: fallbackID}, nil
}

// Get resolves a plan id, falling back to the catalog's fallback plan for
// unknown or empty ids.
func (c *Catalog) Get(planID string) PlanDefinition {
	if def, ok := c.plans[strings.ToLower(strings.TrimSpace(planID))]; ok {
		return def
	}
	return c.plans[c.fallbackID]
}

// Plans returns all definitions in the catalog, fallback plan first.
func (c *Catalog) Plans() []PlanDefinition {
	out := make([]PlanDefinition, 0, len(c.plans))
	out = append(out, c.plans[c.fallbackID])
	for id, def := range c.plans {
		if id != c.fallbackID {
			out = append(out, def)
		}
	}
	return out
}

// allowed reports whether value is permitted by the allowlist. An empty
// allowlist permits everything.
func allowed(allowlist []string, value string) bool {
	if len(allowlist) == 0 {
		return true
	}
	for _, entry := range allowlist {
		if strings.EqualFold(entry, value) {
			return true
		}
	}
	return false
}

// FilterModelsForPlan removes models the plan's per-provider allowlist does
// not include. Identity when the plan carries no restriction for provider.
func FilterModelsForPlan(planID, providerID string, models []Model) []Model {
	return GetPlanDefinition(planID).FilterModels(providerID, models)
}

// FilterModels removes models the plan's per-provider allowlist does not
// include.
func (p PlanDefinition) FilterModels(providerID string, models []Model) []Model {
	allowlist := p.Models[strings.ToLower(providerID)]
	if len(allowlist) == 0 {
		return models
	}
	filtered := make([]Model, 0, len(models))
	for _, m := range models {
		if allowed(allowlist, m.ID) {
			filtered = append(filtered, m)
		}
	}
	return filtered
}

// AssertProviderAccess fails with AccessDenied (403) when the plan does not
// include the provider.
func AssertProviderAccess(planID, providerID string) error {
	return GetPlanDefinition(planID).AssertProvider(providerID)
}

// AssertModelAccess fails with AccessDenied (403) when the plan does not
// include the model for the provider.
func AssertModelAccess(planID, providerID, modelID string) error {
	return GetPlanDefinition(planID).AssertModel(providerID, modelID)
}

// AssertEmbeddingAccess fails with AccessDenied (403) when the plan does not
// include the embedding model. Aliases are normalized before the check.
func AssertEmbeddingAccess(planID, embeddingModel string) error {
	return GetPlanDefinition(planID).AssertEmbedding(embeddingModel)
}

// AssertVectorStoreAccess fails with AccessDenied (403) when the plan does
// not include the vector store.
func AssertVectorStoreAccess(planID, vectorStore string) error {
	return GetPlanDefinition(planID).AssertVectorStore(vectorStore)
}

// AssertProvider checks the provider against the plan allowlist.
func (p PlanDefinition) AssertProvider(providerID string) error {
	if allowed(p.Providers, providerID) {
		return nil
	}
	return accessDeniedError("Provider %q is not included in the %s plan. Upgrade to access it.", providerID, p.DisplayName)
}

// AssertModel checks the model against the plan's per-provider allowlist.
func (p PlanDefinition) AssertModel(providerID, modelID string) error {
	if err := p.AssertProvider(providerID); err != nil {
		return err
	}
	if allowed(p.Models[strings.ToLower(providerID)], modelID) {
		return nil
	}
	return accessDeniedError("Model %q is not included in the %s plan. Upgrade to access it.", modelID, p.DisplayName)
}

// AssertEmbedding checks the embedding model against the plan allowlist.
func (p PlanDefinition) AssertEmbedding(embeddingModel string) error {
	if allowed(p.EmbeddingModels, NormalizeEmbeddingModel(embeddingModel)) {
		return nil
	}
	return accessDeniedError("Embedding model %q is not included in the %s plan. Upgrade to access it.", embeddingModel, p.DisplayName)
}

// AssertVectorStore checks the vector store against the plan allowlist.
func (p PlanDefinition) AssertVectorStore(vectorStore string) error {
	if allowed(p.VectorStores, vectorStore) {
		return nil
	}
	return accessDeniedError("Vector store %q is not included in the %s plan. Upgrade to access it.", vectorStore, p.DisplayName)
}
