package repository

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"os"
	"testing"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"PortfolioAgents/internal/domain/models"
	"PortfolioAgents/internal/storage"
	"PortfolioAgents/internal/storage/memory"
	"PortfolioAgents/pkg/cache"
)

func testArtifact() models.RunArtifact {
	return models.RunArtifact{
		RunID:     "20240101_120000-abcdef01",
		Timestamp: time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC),
		Results: []models.ArtifactResult{
			{Ticker: "AAPL", Decision: "BUY", Confidence: 0.42, RawScore: 0.42, AgentCount: 4},
			{Ticker: "NEW", Decision: "SKIPPED"},
		},
	}
}

type recordingProducer struct {
	topic string
	key   []byte
	value interface{}
	err   error
}

func (p *recordingProducer) Publish(_ context.Context, topic string, key []byte, value interface{}) error {
	p.topic, p.key, p.value = topic, key, value
	return p.err
}

func TestKafkaDecisionPublisherKeysByTicker(t *testing.T) {
	prod := &recordingProducer{}
	pub := NewKafkaDecisionPublisher(prod, "portfolio.decisions")

	ev := models.DecisionEvent{RunID: "r1", Ticker: "AAPL", Decision: "BUY"}
	require.NoError(t, pub.PublishDecision(context.Background(), ev))
	assert.Equal(t, "portfolio.decisions", prod.topic)
	assert.Equal(t, []byte("AAPL"), prod.key)
	assert.Equal(t, ev, prod.value)
}

func TestMultiPublisherJoinsErrors(t *testing.T) {
	ok := &recordingProducer{}
	bad := &recordingProducer{err: errors.New("down")}
	m := MultiPublisher{
		NewKafkaDecisionPublisher(bad, "a"),
		nil,
		NewKafkaDecisionPublisher(ok, "b"),
	}

	err := m.PublishDecision(context.Background(), models.DecisionEvent{Ticker: "MSFT"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "down")
	assert.Equal(t, "b", ok.topic)
}

func TestFileSinkWritesOnce(t *testing.T) {
	dir := t.TempDir()
	sink := NewFileSink(dir + "/artifacts")
	a := testArtifact()

	path, err := sink.WriteArtifact(context.Background(), a)
	require.NoError(t, err)

	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	var got map[string]interface{}
	require.NoError(t, json.Unmarshal(raw, &got))
	assert.Equal(t, a.RunID, got["run_id"])
	assert.Contains(t, got, "timestamp")
	results := got["results"].([]interface{})
	require.Len(t, results, 2)
	first := results[0].(map[string]interface{})
	assert.Equal(t, "AAPL", first["ticker"])
	assert.Equal(t, 0.42, first["raw_score"])
	assert.Equal(t, 4.0, first["agent_count"])

	_, err = sink.WriteArtifact(context.Background(), a)
	assert.ErrorIs(t, err, ErrArtifactExists)
}

type fakeObjectStore struct {
	buckets map[string]bool
	objects map[string][]byte
	meta    map[string]string
}

func newFakeObjectStore() *fakeObjectStore {
	return &fakeObjectStore{buckets: map[string]bool{}, objects: map[string][]byte{}, meta: map[string]string{}}
}

func (f *fakeObjectStore) BucketExists(_ context.Context, bucket string) (bool, error) {
	return f.buckets[bucket], nil
}

func (f *fakeObjectStore) MakeBucket(_ context.Context, bucket string, _ minio.MakeBucketOptions) error {
	f.buckets[bucket] = true
	return nil
}

func (f *fakeObjectStore) StatObject(_ context.Context, bucket, object string, _ minio.StatObjectOptions) (minio.ObjectInfo, error) {
	if _, ok := f.objects[bucket+"/"+object]; ok {
		return minio.ObjectInfo{Key: object}, nil
	}
	return minio.ObjectInfo{}, minio.ErrorResponse{Code: "NoSuchKey", StatusCode: 404}
}

func (f *fakeObjectStore) PutObject(_ context.Context, bucket, object string, r io.Reader, size int64, opts minio.PutObjectOptions) (minio.UploadInfo, error) {
	b, err := io.ReadAll(r)
	if err != nil {
		return minio.UploadInfo{}, err
	}
	f.objects[bucket+"/"+object] = b
	f.meta[bucket+"/"+object] = opts.ContentType
	return minio.UploadInfo{Bucket: bucket, Key: object, Size: size}, nil
}

func TestMinIOSink(t *testing.T) {
	store := newFakeObjectStore()
	sink := &MinIOSink{store: store, bucket: "portfolio-results"}
	ctx := context.Background()

	require.NoError(t, sink.EnsureBucket(ctx))
	assert.True(t, store.buckets["portfolio-results"])
	require.NoError(t, sink.EnsureBucket(ctx))

	a := testArtifact()
	loc, err := sink.WriteArtifact(ctx, a)
	require.NoError(t, err)
	assert.Equal(t, "s3://portfolio-results/run_"+a.RunID+".json", loc)

	key := "portfolio-results/" + ArtifactName(a.RunID)
	assert.Equal(t, "application/json", store.meta[key])
	var got models.RunArtifact
	require.NoError(t, json.Unmarshal(store.objects[key], &got))
	assert.Equal(t, a, got)

	_, err = sink.WriteArtifact(ctx, a)
	assert.ErrorIs(t, err, ErrArtifactExists)
}

func TestCacheRunStore(t *testing.T) {
	mc := cache.NewMemoryCache()
	defer mc.Close()
	s := NewCacheRunStore(mc, time.Hour)
	ctx := context.Background()

	_, err := s.Latest(ctx)
	assert.ErrorIs(t, err, storage.ErrNotFound)

	run := &models.Run{
		ID:      "r1",
		State:   models.RunCompleted,
		Mode:    "NORMAL",
		Results: []models.AssetResult{{Ticker: "AAPL", Outcome: models.OutcomeDecided, Decision: "BUY"}},
	}
	require.NoError(t, s.SaveLatest(ctx, run))

	got, err := s.Latest(ctx)
	require.NoError(t, err)
	assert.Equal(t, "r1", got.ID)
	assert.Equal(t, models.RunCompleted, got.State)
	require.Len(t, got.Results, 1)
	assert.Equal(t, "BUY", got.Results[0].Decision)
}

type stubPrices struct {
	points []models.PricePoint
	added  map[string]int
}

func (s *stubPrices) PriceHistory(context.Context, string) ([]models.PricePoint, error) {
	return s.points, nil
}

func (s *stubPrices) AddPrices(_ context.Context, ticker string, points []models.PricePoint) error {
	if s.added == nil {
		s.added = map[string]int{}
	}
	s.added[ticker] += len(points)
	return nil
}

func TestMarketDataPriceOverride(t *testing.T) {
	ctx := context.Background()
	base := memory.NewMarketStore()
	prices := &stubPrices{points: []models.PricePoint{{Close: 1}, {Close: 2}}}

	w := NewMarketWriter(base, prices)
	_, err := w.UpsertAsset(ctx, models.Asset{Ticker: "AAPL"})
	require.NoError(t, err)
	require.NoError(t, w.AddPrices(ctx, "AAPL", []models.PricePoint{{Date: time.Now(), Close: 10}}))
	assert.Equal(t, 1, prices.added["AAPL"])

	md := NewMarketData(base, prices)
	got, err := md.PriceHistory(ctx, "AAPL")
	require.NoError(t, err)
	assert.Len(t, got, 2)

	assets, err := md.ListAssets(ctx)
	require.NoError(t, err)
	assert.Len(t, assets, 1)
}
