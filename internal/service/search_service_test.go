package service

import (
	"context"
	"errors"
	"iter"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"free-alt-finder/internal/common"
	"free-alt-finder/internal/domain"
)

type MockStore struct {
	mock.Mock
}

func (m *MockStore) Search(ctx context.Context, query string, limit int) ([]*domain.Alternative, error) {
	args := m.Called(ctx, query, limit)
	res, _ := args.Get(0).([]*domain.Alternative)
	return res, args.Error(1)
}

func (m *MockStore) Upsert(ctx context.Context, records []*domain.Alternative) ([]*domain.Alternative, error) {
	args := m.Called(ctx, records)
	if fn, ok := args.Get(0).(func([]*domain.Alternative) []*domain.Alternative); ok {
		return fn(records), args.Error(1)
	}
	res, _ := args.Get(0).([]*domain.Alternative)
	return res, args.Error(1)
}

type MockGenerator struct {
	mock.Mock
}

func (m *MockGenerator) Stream(ctx context.Context, req domain.GenerationRequest) iter.Seq2[string, error] {
	args := m.Called(ctx, req)
	chunks, _ := args.Get(0).([]string)
	err := args.Error(1)
	return func(yield func(string, error) bool) {
		for _, c := range chunks {
			if !yield(c, nil) {
				return
			}
		}
		if err != nil {
			yield("", err)
		}
	}
}

func (m *MockGenerator) Model() string { return "test-model" }

type MockChecker struct {
	mock.Mock
}

func (m *MockChecker) Filter(ctx context.Context, records []*domain.Alternative) ([]*domain.Alternative, error) {
	args := m.Called(ctx, records)
	if fn, ok := args.Get(0).(func([]*domain.Alternative) []*domain.Alternative); ok {
		return fn(records), args.Error(1)
	}
	res, _ := args.Get(0).([]*domain.Alternative)
	return res, args.Error(1)
}

type MockNotifier struct {
	mock.Mock
}

func (m *MockNotifier) NotifyDiscovered(ctx context.Context, query string, records []*domain.Alternative) error {
	return m.Called(ctx, query, records).Error(0)
}

const photoshopOutput = `Here you go:
` + "```json" + `
[
  {"name": "GIMP", "url": "https://www.gimp.org", "category": "Image Editor", "description": "GNU Image Manipulation Program", "tags": ["Image", "editor"]},
  {"name": "Krita", "url": "https://krita.org", "category": "Painting", "description": "Digital painting", "tags": ["art"]},
  {"name": "Photopea", "url": "https://www.photopea.com", "category": "Image Editor", "description": "Online editor", "tags": []}
]
` + "```"

// echo 原样返回入参，模拟写库成功
func echo(recs []*domain.Alternative) []*domain.Alternative { return recs }

func newService(store *MockStore, gen *MockGenerator, opts ...Option) *SearchService {
	return NewSearchService(store, gen, zap.NewNop(), opts...)
}

func names(records []*domain.Alternative) []string {
	out := make([]string, 0, len(records))
	for _, r := range records {
		out = append(out, r.Name)
	}
	return out
}

func TestSearch_EmptyQuery(t *testing.T) {
	for _, q := range []string{"", "   ", "\t\n"} {
		store := new(MockStore)
		gen := new(MockGenerator)
		svc := newService(store, gen)

		res, err := svc.Search(context.Background(), q)
		require.Error(t, err)
		assert.Nil(t, res)
		assert.Equal(t, common.ErrCodeInvalidInput, common.CodeOf(err))
		assert.Equal(t, "Query is required", common.Cause(err))

		store.AssertNotCalled(t, "Search", mock.Anything, mock.Anything, mock.Anything)
		gen.AssertNotCalled(t, "Stream", mock.Anything, mock.Anything)
	}
}

func TestSearch_CacheHit(t *testing.T) {
	store := new(MockStore)
	gen := new(MockGenerator)
	cached := []*domain.Alternative{
		{Name: "LibreOffice", Tags: []string{"office", "microsoft office"}},
		{Name: "OnlyOffice", Tags: []string{"microsoft office"}},
	}
	store.On("Search", mock.Anything, "Microsoft Office", 5).Return(cached, nil)

	svc := newService(store, gen, WithCacheLimit(5))
	res, err := svc.Search(context.Background(), "  Microsoft Office ")
	require.NoError(t, err)

	assert.Equal(t, domain.SourceCache, res.Source)
	assert.Equal(t, "Found 2 cached alternatives", res.Message)
	assert.Equal(t, cached, res.Results)
	gen.AssertNotCalled(t, "Stream", mock.Anything, mock.Anything)
	store.AssertNotCalled(t, "Upsert", mock.Anything, mock.Anything)
}

func TestSearch_GeneratesAndUpserts(t *testing.T) {
	store := new(MockStore)
	gen := new(MockGenerator)

	store.On("Search", mock.Anything, "Photoshop", defaultCacheLimit).Return([]*domain.Alternative{}, nil)
	// 模拟分片到达
	mid := len(photoshopOutput) / 2
	gen.On("Stream", mock.Anything, mock.MatchedBy(func(req domain.GenerationRequest) bool {
		return req.System == systemInstruction &&
			req.MaxTokens == defaultMaxTokens &&
			req.Temperature == defaultTemperature &&
			assert.ObjectsAreEqual(BuildPrompt("Photoshop"), req.Prompt)
	})).Return([]string{photoshopOutput[:mid], photoshopOutput[mid:]}, nil)

	var upserted []*domain.Alternative
	store.On("Upsert", mock.Anything, mock.Anything).
		Run(func(args mock.Arguments) { upserted = args.Get(1).([]*domain.Alternative) }).
		Return(echo, nil).Once()

	svc := newService(store, gen)
	res, err := svc.Search(context.Background(), "Photoshop")
	require.NoError(t, err)

	require.Len(t, upserted, 3)
	for _, r := range upserted {
		assert.True(t, r.HasTag("photoshop"), r.Name)
	}
	assert.Equal(t, []string{"image", "editor", "photoshop"}, []string(upserted[0].Tags))
	assert.Equal(t, "GNU Image Manipulation Program", upserted[0].ShortDescription)

	assert.Equal(t, domain.SourceAI, res.Source)
	assert.Equal(t, "Found 3 new alternatives", res.Message)
	assert.Equal(t, []string{"GIMP", "Krita", "Photopea"}, names(res.Results))
	store.AssertExpectations(t)
	gen.AssertExpectations(t)
}

func TestSearch_ReturnsSavedRows(t *testing.T) {
	store := new(MockStore)
	gen := new(MockGenerator)

	store.On("Search", mock.Anything, "Notion", defaultCacheLimit).Return(nil, nil)
	gen.On("Stream", mock.Anything, mock.Anything).Return([]string{
		`[{"name":"AppFlowy","url":"https://appflowy.io","category":"Productivity","description":"Open-source Notion alternative","tags":["notes","wiki"]},`,
		`{"name":"AFFiNE","url":"https://affine.pro","category":"Productivity","description":"Knowledge base","tags":"notes, whiteboard"}]`,
	}, nil)
	saved := []*domain.Alternative{
		{ID: 1, Name: "AppFlowy", Tags: []string{"notes", "wiki", "notion"}},
		{ID: 2, Name: "AFFiNE", Tags: []string{"notes", "whiteboard", "notion"}},
	}
	store.On("Upsert", mock.Anything, mock.MatchedBy(func(recs []*domain.Alternative) bool {
		return assert.ObjectsAreEqual([]string{"AppFlowy", "AFFiNE"}, names(recs)) &&
			recs[1].HasTag("whiteboard") && recs[1].HasTag("notion")
	})).Return(saved, nil)

	svc := newService(store, gen)
	res, err := svc.Search(context.Background(), "Notion")
	require.NoError(t, err)

	assert.Equal(t, saved, res.Results)
	assert.Equal(t, domain.SourceAI, res.Source)
	assert.Equal(t, "Found 2 new alternatives", res.Message)
}

func TestSearch_UnparseableOutput(t *testing.T) {
	tests := []struct {
		name   string
		chunks []string
	}{
		{name: "纯文本", chunks: []string{"Sorry, I cannot help with that."}},
		{name: "空数组", chunks: []string{"[]"}},
		{name: "非法 JSON", chunks: []string{`[{"name": "GIMP",]`}},
		{name: "条目都没有名字", chunks: []string{`[{"url":"https://x.org"},{"name":"  "}]`}},
		{name: "空输出", chunks: nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store := new(MockStore)
			gen := new(MockGenerator)
			store.On("Search", mock.Anything, "Figma", defaultCacheLimit).Return([]*domain.Alternative{}, nil)
			gen.On("Stream", mock.Anything, mock.Anything).Return(tt.chunks, nil)

			svc := newService(store, gen)
			res, err := svc.Search(context.Background(), "Figma")
			require.NoError(t, err)

			assert.Empty(t, res.Results)
			assert.NotNil(t, res.Results)
			assert.Equal(t, domain.SourceAI, res.Source)
			assert.Equal(t, "No free alternatives found", res.Message)
			store.AssertNotCalled(t, "Upsert", mock.Anything, mock.Anything)
		})
	}
}

func TestSearch_UpsertFailureFallsBack(t *testing.T) {
	store := new(MockStore)
	gen := new(MockGenerator)
	notifier := new(MockNotifier)

	store.On("Search", mock.Anything, "Photoshop", defaultCacheLimit).Return([]*domain.Alternative{}, nil)
	gen.On("Stream", mock.Anything, mock.Anything).Return([]string{photoshopOutput}, nil)
	store.On("Upsert", mock.Anything, mock.Anything).Return(nil, errors.New("connection reset"))

	svc := newService(store, gen, WithNotifier(notifier))
	res, err := svc.Search(context.Background(), "Photoshop")
	require.NoError(t, err)

	assert.Equal(t, []string{"GIMP", "Krita", "Photopea"}, names(res.Results))
	assert.Equal(t, "Found 3 new alternatives", res.Message)
	notifier.AssertNotCalled(t, "NotifyDiscovered", mock.Anything, mock.Anything, mock.Anything)
}

func TestSearch_StoreError(t *testing.T) {
	store := new(MockStore)
	gen := new(MockGenerator)
	store.On("Search", mock.Anything, "Slack", defaultCacheLimit).Return(nil, errors.New("dial tcp: connection refused"))

	svc := newService(store, gen)
	res, err := svc.Search(context.Background(), "Slack")
	require.Error(t, err)
	assert.Nil(t, res)
	assert.Equal(t, common.ErrCodeDatabase, common.CodeOf(err))
	assert.Equal(t, "dial tcp: connection refused", common.Cause(err))
	gen.AssertNotCalled(t, "Stream", mock.Anything, mock.Anything)
}

func TestSearch_GeneratorError(t *testing.T) {
	store := new(MockStore)
	gen := new(MockGenerator)
	store.On("Search", mock.Anything, "Slack", defaultCacheLimit).Return([]*domain.Alternative{}, nil)
	gen.On("Stream", mock.Anything, mock.Anything).Return([]string{`[{"name":`}, errors.New("401 Unauthorized"))

	svc := newService(store, gen)
	res, err := svc.Search(context.Background(), "Slack")
	require.Error(t, err)
	assert.Nil(t, res)
	assert.Equal(t, common.ErrCodeAIProcessing, common.CodeOf(err))
	assert.Equal(t, "401 Unauthorized", common.Cause(err))
	store.AssertNotCalled(t, "Upsert", mock.Anything, mock.Anything)
}

func TestSearch_MaintenanceCheckerAndNotifier(t *testing.T) {
	store := new(MockStore)
	gen := new(MockGenerator)
	checker := new(MockChecker)
	notifier := new(MockNotifier)

	store.On("Search", mock.Anything, "Photoshop", defaultCacheLimit).Return([]*domain.Alternative{}, nil)
	gen.On("Stream", mock.Anything, mock.Anything).Return([]string{photoshopOutput}, nil)
	checker.On("Filter", mock.Anything, mock.Anything).Return(func(recs []*domain.Alternative) []*domain.Alternative {
		return recs[:2]
	}, nil)

	saved := []*domain.Alternative{{ID: 1, Name: "GIMP"}, {ID: 2, Name: "Krita"}}
	store.On("Upsert", mock.Anything, mock.MatchedBy(func(recs []*domain.Alternative) bool {
		return len(recs) == 2
	})).Return(saved, nil)
	notifier.On("NotifyDiscovered", mock.Anything, "Photoshop", saved).Return(errors.New("webhook down"))

	svc := newService(store, gen, WithMaintenanceChecker(checker), WithNotifier(notifier))
	res, err := svc.Search(context.Background(), "Photoshop")
	require.NoError(t, err)

	assert.Equal(t, "Found 2 new alternatives", res.Message)
	checker.AssertExpectations(t)
	notifier.AssertExpectations(t)
}

func TestSearch_CheckerErrorKeepsRecords(t *testing.T) {
	store := new(MockStore)
	gen := new(MockGenerator)
	checker := new(MockChecker)

	store.On("Search", mock.Anything, "Photoshop", defaultCacheLimit).Return([]*domain.Alternative{}, nil)
	gen.On("Stream", mock.Anything, mock.Anything).Return([]string{photoshopOutput}, nil)
	checker.On("Filter", mock.Anything, mock.Anything).Return(nil, context.DeadlineExceeded)
	store.On("Upsert", mock.Anything, mock.MatchedBy(func(recs []*domain.Alternative) bool {
		return len(recs) == 3
	})).Return(nil, errors.New("read only"))

	svc := newService(store, gen, WithMaintenanceChecker(checker))
	res, err := svc.Search(context.Background(), "Photoshop")
	require.NoError(t, err)
	assert.Len(t, res.Results, 3)
}

func TestProbe(t *testing.T) {
	gen := new(MockGenerator)
	gen.On("Stream", mock.Anything, mock.Anything).Return([]string{photoshopOutput}, nil)
	svc := newService(new(MockStore), gen)

	text, records, err := svc.Probe(context.Background(), "Photoshop")
	require.NoError(t, err)
	assert.Equal(t, photoshopOutput, text)
	assert.Equal(t, []string{"GIMP", "Krita", "Photopea"}, names(records))

	gen2 := new(MockGenerator)
	gen2.On("Stream", mock.Anything, mock.Anything).Return([]string{"no json"}, nil)
	_, _, err = newService(new(MockStore), gen2).Probe(context.Background(), "Photoshop")
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrNoJSONArray)
}

func TestBuildPrompt(t *testing.T) {
	p := BuildPrompt("Photoshop")
	assert.Contains(t, p, `alternatives to "Photoshop"`)
	assert.Contains(t, p, "100% FREE")
	assert.Contains(t, p, `"description": "Brief description under 100 chars"`)
}

func TestModel(t *testing.T) {
	assert.Equal(t, "test-model", newService(new(MockStore), new(MockGenerator)).Model())
}
