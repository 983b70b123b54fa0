package usage

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/sashabaranov/go-openai"

	"github.com/dgpt/llm-gateway/internal/shared/models"
)

// fakeStore keeps usage records in memory and serves models from a fixed set.
type fakeStore struct {
	models      []models.Model
	completions []models.CompletionUsage
	images      []models.ImageUsage
}

func (s *fakeStore) ModelsByIDs(ctx context.Context, modelIDs []string) ([]models.Model, error) {
	var out []models.Model
	for _, id := range modelIDs {
		for _, m := range s.models {
			if m.ID == id {
				out = append(out, m)
			}
		}
	}
	return out, nil
}

func (s *fakeStore) InsertCompletionUsage(ctx context.Context, usage *models.CompletionUsage) error {
	usage.CreatedAt = time.Now().UTC()
	s.completions = append(s.completions, *usage)
	return nil
}

func (s *fakeStore) InsertImageUsage(ctx context.Context, usage *models.ImageUsage) error {
	usage.CreatedAt = time.Now().UTC()
	s.images = append(s.images, *usage)
	return nil
}

func (s *fakeStore) CompletionUsageByAPIKey(ctx context.Context, apiKeyID string, start, end time.Time) ([]models.CompletionUsage, error) {
	var out []models.CompletionUsage
	for _, u := range s.completions {
		if u.APIKeyID == apiKeyID && !u.CreatedAt.Before(start) && u.CreatedAt.Before(end) {
			out = append(out, u)
		}
	}
	return out, nil
}

func (s *fakeStore) ImageUsageByAPIKey(ctx context.Context, apiKeyID string, start, end time.Time) ([]models.ImageUsage, error) {
	var out []models.ImageUsage
	for _, u := range s.images {
		if u.APIKeyID == apiKeyID && !u.CreatedAt.Before(start) && u.CreatedAt.Before(end) {
			out = append(out, u)
		}
	}
	return out, nil
}

// centPerToken makes 1 token cost exactly 1 cent, so budget boundaries in
// tests read as token counts.
const centPerToken = models.PriceCentMultiplier

func textModel(id string) models.Model {
	return models.Model{
		ID:       id,
		Provider: models.ProviderIonos,
		Name:     "llama-3",
		PriceMetadata: models.PriceMetadata{
			Type:                 models.PriceTypeText,
			PromptTokenPrice:     centPerToken,
			CompletionTokenPrice: centPerToken,
		},
	}
}

func embeddingModel(id string) models.Model {
	return models.Model{
		ID:       id,
		Provider: models.ProviderIonos,
		Name:     "bge-large",
		PriceMetadata: models.PriceMetadata{
			Type:             models.PriceTypeEmbedding,
			PromptTokenPrice: centPerToken,
		},
	}
}

func imageModel(id string) models.Model {
	return models.Model{
		ID:       id,
		Provider: models.ProviderGoogle,
		Name:     "imagen-3",
		PriceMetadata: models.PriceMetadata{
			Type:          models.PriceTypeImage,
			PricePerImage: 5 * centPerToken,
		},
	}
}

func testAPIKey(limitInCent int64) *models.APIKey {
	return &models.APIKey{
		ID:          "key-1",
		ProjectID:   "project-1",
		State:       models.APIKeyStateActive,
		LimitInCent: limitInCent,
	}
}

func TestRecordCompletion(t *testing.T) {
	store := &fakeStore{models: []models.Model{textModel("m-text")}}
	recorder := NewRecorder(store)

	u := openai.Usage{PromptTokens: 10, CompletionTokens: 5, TotalTokens: 15}
	record, err := recorder.RecordCompletion(context.Background(), testAPIKey(1000), store.models[0], u, true)
	if err != nil {
		t.Fatal(err)
	}

	if record.ID == "" {
		t.Error("record must carry a generated id")
	}
	if record.CostInCent != 15 {
		t.Errorf("cost = %v cents, want 15", record.CostInCent)
	}
	if !record.Estimated {
		t.Error("estimated flag must be persisted")
	}
	if record.APIKeyID != "key-1" || record.ProjectID != "project-1" || record.ModelID != "m-text" {
		t.Errorf("record attribution wrong: %+v", record)
	}
	if len(store.completions) != 1 {
		t.Fatalf("expected 1 stored record, got %d", len(store.completions))
	}
}

func TestRecordCompletionRejectsWrongPriceType(t *testing.T) {
	store := &fakeStore{}
	recorder := NewRecorder(store)

	_, err := recorder.RecordCompletion(context.Background(), testAPIKey(1000), imageModel("m-img"), openai.Usage{}, false)
	if !errors.Is(err, ErrPriceMetadataMismatch) {
		t.Fatalf("expected ErrPriceMetadataMismatch, got %v", err)
	}
	if len(store.completions) != 0 {
		t.Error("mismatched record must not be stored")
	}
}

func TestRecordEmbedding(t *testing.T) {
	store := &fakeStore{models: []models.Model{embeddingModel("m-embed")}}
	recorder := NewRecorder(store)

	u := openai.Usage{PromptTokens: 8, TotalTokens: 8}
	record, err := recorder.RecordEmbedding(context.Background(), testAPIKey(1000), store.models[0], u)
	if err != nil {
		t.Fatal(err)
	}
	if record.CompletionTokens != 0 {
		t.Errorf("embedding usage must carry zero completion tokens, got %d", record.CompletionTokens)
	}
	if record.CostInCent != 8 {
		t.Errorf("cost = %v cents, want 8", record.CostInCent)
	}

	if _, err := recorder.RecordEmbedding(context.Background(), testAPIKey(1000), textModel("m-text"), u); !errors.Is(err, ErrPriceMetadataMismatch) {
		t.Errorf("expected ErrPriceMetadataMismatch for text-priced model, got %v", err)
	}
}

func TestRecordImages(t *testing.T) {
	store := &fakeStore{models: []models.Model{imageModel("m-img")}}
	recorder := NewRecorder(store)

	record, err := recorder.RecordImages(context.Background(), testAPIKey(1000), store.models[0], 3)
	if err != nil {
		t.Fatal(err)
	}
	if record.NumberOfImages != 3 {
		t.Errorf("numberOfImages = %d, want 3", record.NumberOfImages)
	}
	if record.CostInCent != 15 {
		t.Errorf("cost = %v cents, want 15", record.CostInCent)
	}

	if _, err := recorder.RecordImages(context.Background(), testAPIKey(1000), embeddingModel("m-embed"), 1); !errors.Is(err, ErrPriceMetadataMismatch) {
		t.Errorf("expected ErrPriceMetadataMismatch for embedding-priced model, got %v", err)
	}
}

func TestAggregatorSumsBothTables(t *testing.T) {
	store := &fakeStore{models: []models.Model{textModel("m-text"), embeddingModel("m-embed"), imageModel("m-img")}}
	recorder := NewRecorder(store)
	ctx := context.Background()
	apiKey := testAPIKey(1000)

	if _, err := recorder.RecordCompletion(ctx, apiKey, textModel("m-text"), openai.Usage{PromptTokens: 10, CompletionTokens: 5, TotalTokens: 15}, false); err != nil {
		t.Fatal(err)
	}
	if _, err := recorder.RecordEmbedding(ctx, apiKey, embeddingModel("m-embed"), openai.Usage{PromptTokens: 7, TotalTokens: 7}); err != nil {
		t.Fatal(err)
	}
	if _, err := recorder.RecordImages(ctx, apiKey, imageModel("m-img"), 2); err != nil {
		t.Fatal(err)
	}

	start := time.Now().UTC().Add(-time.Hour)
	end := time.Now().UTC().Add(time.Hour)
	total, err := NewAggregator(store).CostInCent(ctx, apiKey.ID, start, end)
	if err != nil {
		t.Fatal(err)
	}
	// 15 text + 7 embedding + 10 image cents.
	if total != 32 {
		t.Errorf("total = %v cents, want 32", total)
	}
}

func TestAggregatorIsOrderIndependent(t *testing.T) {
	now := time.Now().UTC()
	records := []models.CompletionUsage{
		{ID: "u-1", APIKeyID: "key-1", ModelID: "m-text", PromptTokens: 3, CompletionTokens: 1, CreatedAt: now},
		{ID: "u-2", APIKeyID: "key-1", ModelID: "m-embed", PromptTokens: 11, CreatedAt: now},
		{ID: "u-3", APIKeyID: "key-1", ModelID: "m-text", PromptTokens: 7, CompletionTokens: 2, CreatedAt: now},
	}
	reversed := []models.CompletionUsage{records[2], records[1], records[0]}

	totals := make([]float64, 0, 2)
	for _, ordering := range [][]models.CompletionUsage{records, reversed} {
		store := &fakeStore{
			models:      []models.Model{textModel("m-text"), embeddingModel("m-embed")},
			completions: ordering,
		}
		total, err := NewAggregator(store).CostInCent(context.Background(), "key-1", now.Add(-time.Minute), now.Add(time.Minute))
		if err != nil {
			t.Fatal(err)
		}
		totals = append(totals, total)
	}

	if totals[0] != totals[1] {
		t.Errorf("totals differ across record orderings: %v vs %v", totals[0], totals[1])
	}
	if totals[0] != 24 {
		t.Errorf("total = %v cents, want 24", totals[0])
	}
}

func TestAggregatorSkipsUnresolvedModels(t *testing.T) {
	store := &fakeStore{models: []models.Model{textModel("m-text")}}
	now := time.Now().UTC()
	store.completions = []models.CompletionUsage{
		{ID: "u-1", APIKeyID: "key-1", ModelID: "m-text", PromptTokens: 4, CompletionTokens: 2, CreatedAt: now},
		{ID: "u-2", APIKeyID: "key-1", ModelID: "m-gone", PromptTokens: 100, CompletionTokens: 100, CreatedAt: now},
	}

	total, err := NewAggregator(store).CostInCent(context.Background(), "key-1", now.Add(-time.Minute), now.Add(time.Minute))
	if err != nil {
		t.Fatal(err)
	}
	if total != 6 {
		t.Errorf("total = %v cents, want 6 (records with unresolved models are skipped)", total)
	}
}

func TestAggregatorRejectsPriceTypeMismatch(t *testing.T) {
	store := &fakeStore{models: []models.Model{imageModel("m-img")}}
	now := time.Now().UTC()
	store.completions = []models.CompletionUsage{
		{ID: "u-1", APIKeyID: "key-1", ModelID: "m-img", PromptTokens: 4, CreatedAt: now},
	}

	_, err := NewAggregator(store).CostInCent(context.Background(), "key-1", now.Add(-time.Minute), now.Add(time.Minute))
	if !errors.Is(err, ErrPriceMetadataMismatch) {
		t.Fatalf("expected ErrPriceMetadataMismatch, got %v", err)
	}
}

func gateAt(store *fakeStore, now time.Time) *Gate {
	g := NewGate(store)
	g.now = func() time.Time { return now }
	return g
}

func TestGateBoundaries(t *testing.T) {
	now := time.Date(2024, time.March, 15, 12, 0, 0, 0, time.UTC)

	seed := func(costTokens int) *fakeStore {
		store := &fakeStore{models: []models.Model{textModel("m-text")}}
		if costTokens != 0 {
			store.completions = []models.CompletionUsage{
				{ID: "u-1", APIKeyID: "key-1", ModelID: "m-text", PromptTokens: costTokens, CreatedAt: now.Add(-time.Hour)},
			}
		}
		return store
	}

	tests := []struct {
		name        string
		costTokens  int
		limitInCent int64
		wantErr     error
	}{
		{name: "under limit admitted", costTokens: 999, limitInCent: 1000, wantErr: nil},
		{name: "at limit rejected", costTokens: 1000, limitInCent: 1000, wantErr: ErrBudgetExceeded},
		{name: "over limit rejected", costTokens: 1001, limitInCent: 1000, wantErr: ErrBudgetExceeded},
		{name: "zero limit rejects immediately", costTokens: 0, limitInCent: 0, wantErr: ErrBudgetExceeded},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			gate := gateAt(seed(tt.costTokens), now)
			err := gate.Admit(context.Background(), testAPIKey(tt.limitInCent))
			if !errors.Is(err, tt.wantErr) {
				t.Errorf("Admit() = %v, want %v", err, tt.wantErr)
			}
		})
	}
}

func TestGateRejectsNegativeAggregate(t *testing.T) {
	now := time.Date(2024, time.March, 15, 12, 0, 0, 0, time.UTC)
	store := &fakeStore{models: []models.Model{textModel("m-text")}}
	// A negative token count signals corrupted accounting data.
	store.completions = []models.CompletionUsage{
		{ID: "u-1", APIKeyID: "key-1", ModelID: "m-text", PromptTokens: -50, CreatedAt: now.Add(-time.Hour)},
	}

	err := gateAt(store, now).Admit(context.Background(), testAPIKey(1000))
	if !errors.Is(err, ErrBudgetExceeded) {
		t.Fatalf("expected ErrBudgetExceeded for negative aggregate, got %v", err)
	}
}

func TestGateIgnoresPriorMonths(t *testing.T) {
	now := time.Date(2024, time.March, 15, 12, 0, 0, 0, time.UTC)
	store := &fakeStore{models: []models.Model{textModel("m-text")}}
	store.completions = []models.CompletionUsage{
		// February usage far over the limit.
		{ID: "u-old", APIKeyID: "key-1", ModelID: "m-text", PromptTokens: 100000, CreatedAt: time.Date(2024, time.February, 28, 23, 59, 0, 0, time.UTC)},
		// March usage well under.
		{ID: "u-new", APIKeyID: "key-1", ModelID: "m-text", PromptTokens: 10, CreatedAt: now.Add(-time.Hour)},
	}

	gate := gateAt(store, now)
	if err := gate.Admit(context.Background(), testAPIKey(1000)); err != nil {
		t.Fatalf("prior-month usage must not count against the current window: %v", err)
	}

	limit, remaining, err := gate.RemainingInCent(context.Background(), testAPIKey(1000))
	if err != nil {
		t.Fatal(err)
	}
	if limit != 1000 || remaining != 990 {
		t.Errorf("limit = %v, remaining = %v, want 1000 and 990", limit, remaining)
	}
}

func TestRemainingInCentFloorsAtZero(t *testing.T) {
	now := time.Date(2024, time.March, 15, 12, 0, 0, 0, time.UTC)
	store := &fakeStore{models: []models.Model{textModel("m-text")}}
	store.completions = []models.CompletionUsage{
		{ID: "u-1", APIKeyID: "key-1", ModelID: "m-text", PromptTokens: 1500, CreatedAt: now.Add(-time.Hour)},
	}

	_, remaining, err := gateAt(store, now).RemainingInCent(context.Background(), testAPIKey(1000))
	if err != nil {
		t.Fatal(err)
	}
	if remaining != 0 {
		t.Errorf("remaining = %v, want 0", remaining)
	}
}
